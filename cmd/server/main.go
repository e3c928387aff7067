package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudvault/upload-service/internal/api"
	"cloudvault/upload-service/internal/authz"
	"cloudvault/upload-service/internal/config"
	"cloudvault/upload-service/internal/limiter"
	"cloudvault/upload-service/internal/quota"
	mongorepo "cloudvault/upload-service/internal/repository/mongo"
	"cloudvault/upload-service/internal/service"
	"cloudvault/upload-service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("Starting Upload Service...")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	log.Println("Configuration loaded.")

	// --- Database Connection ---
	dbClient, err := mongorepo.ConnectDB(cfg.Database.URI)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to MongoDB: %v", err)
	}
	defer func() {
		log.Println("Disconnecting MongoDB...")
		if err := mongorepo.DisconnectDB(dbClient); err != nil {
			log.Printf("ERROR: Failed to disconnect MongoDB: %v", err)
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)
	log.Println("Database connection established.")

	// --- Ensure Indexes ---
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		mongorepo.EnsureSessionIndexes(ctx, appDB.Collection("upload_sessions"))
		log.Println("Index creation process completed.")
	}()

	// --- Shared Counter Store (Redis) ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("ERROR: Failed to close Redis client: %v", err)
		}
	}()
	{
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("FATAL: Could not connect to Redis: %v", err)
		}
		cancel()
	}
	log.Println("Redis connection established.")

	// --- Initialize Storage ---
	log.Println("Initializing object storage...")
	objectStorage, err := storage.NewS3Storage(cfg.S3)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize S3 storage: %v", err)
	}

	// --- Initialize Ports ---
	sessionRepo := mongorepo.NewMongoSessionRepository(appDB)
	slotManager := limiter.NewRedisSlotManager(redisClient)
	quotaLedger := quota.NewRedisLedger(redisClient)
	tierResolver := service.NewStaticTierResolver(cfg.Upload.MaxSessionsPerOwner, cfg.Upload.QuotaLimitBytes)
	authorizer := authz.NewRoleAuthorizer()

	// --- Initialize Services ---
	log.Println("Initializing services...")
	uploadService := service.NewUploadService(
		sessionRepo,
		slotManager,
		quotaLedger,
		objectStorage,
		tierResolver,
		authorizer,
		cfg.Upload.PartURLExpiry,
		cfg.Upload.AllowedMimePrefixes,
	)

	// --- Start Reaper ---
	reaper := service.NewReaper(
		sessionRepo,
		uploadService,
		cfg.Upload.ReaperInterval,
		cfg.Upload.InactivityThreshold,
		cfg.Upload.ReaperBatchSize,
	)
	reaper.Start()

	// --- Initialize Gin Engine ---
	// gin.SetMode(gin.ReleaseMode) // Uncomment for production
	router := gin.Default() // Includes Logger and Recovery middleware

	// --- Setup Routes ---
	log.Println("Setting up API routes...")
	healthChecks := map[string]api.HealthCheck{
		"mongodb": func(ctx context.Context) error { return mongorepo.PingDB(ctx, dbClient) },
		"redis":   func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	api.SetupRoutes(router, cfg.JWT.Secret, uploadService, healthChecks)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.Server.Address)

	// --- Graceful Shutdown ---
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: ListenAndServe Error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop the reaper first so no sweep races the draining requests.
	reaper.Stop()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("FATAL: Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
