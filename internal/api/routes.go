package api

import (
	"context"
	"net/http"
	"time"

	"cloudvault/upload-service/internal/authz"
	"cloudvault/upload-service/internal/service"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one backing store. Wired up in main with the mongo and
// redis ping functions.
type HealthCheck func(ctx context.Context) error

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	uploadService service.UploadService,
	healthChecks map[string]HealthCheck,
) {
	uploadHandler := NewUploadHandler(uploadService)
	authMiddleware := AuthMiddleware(jwtSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Health probes every backing store with a short timeout.
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		healthy := true
		checks := gin.H{}
		for name, check := range healthChecks {
			if err := check(ctx); err != nil {
				healthy = false
				checks[name] = err.Error()
			} else {
				checks[name] = "ok"
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
	})

	apiV1 := router.Group("/api/v1")

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		// --- Upload Lifecycle Routes ---
		uploadGroup := protected.Group("/uploads")
		{
			uploadGroup.POST("", uploadHandler.InitiateUpload)
			uploadGroup.POST("/:id/parts", uploadHandler.GeneratePartURL)
			uploadGroup.POST("/:id/heartbeat", uploadHandler.Heartbeat)
			uploadGroup.POST("/:id/complete", uploadHandler.CompleteUpload)
			uploadGroup.PATCH("/:id/filename", uploadHandler.RenameUpload)
			uploadGroup.DELETE("/:id", uploadHandler.AbortUpload)
		}

		// --- Administrative Routes ---
		// The service layer re-checks capability; the role middleware just
		// rejects obviously unauthorized callers early.
		adminGroup := protected.Group("/admin", RoleMiddleware(authz.RoleAdmin))
		{
			adminGroup.POST("/owners/:ownerId/clear-slots", uploadHandler.ClearOwnerSlots)
			adminGroup.GET("/owners/:ownerId/stats", uploadHandler.GetOwnerStats)
		}
	}
}
