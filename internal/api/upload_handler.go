package api

import (
	"errors"
	"net/http"
	"time"

	"cloudvault/upload-service/internal/authz"
	"cloudvault/upload-service/internal/domain"
	"cloudvault/upload-service/internal/service"

	"github.com/gin-gonic/gin"
)

// UploadHandler holds the upload service dependency.
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// --- DTOs for API (Data Transfer Objects) ---

// InitiateUploadRequest defines the expected JSON for initiating an upload.
type InitiateUploadRequest struct {
	ScopeID           string `json:"scopeId" binding:"required"`
	Filename          string `json:"filename" binding:"required"`
	OriginalName      string `json:"originalName" binding:"omitempty"`
	MimeType          string `json:"mimeType" binding:"required"`
	DeclaredSizeBytes int64  `json:"declaredSizeBytes" binding:"required,gt=0"`
}

// PartURLRequest defines the expected JSON for requesting a part URL.
type PartURLRequest struct {
	PartNumber    int   `json:"partNumber" binding:"required,gte=1"`
	PartSizeBytes int64 `json:"partSizeBytes" binding:"required,gt=0"`
}

// CompleteUploadRequest defines the expected JSON for completing an upload.
type CompleteUploadRequest struct {
	Parts []CompletedPart `json:"parts" binding:"required,min=1,dive"`
}

// CompletedPart identifies one uploaded part in a completion request.
type CompletedPart struct {
	PartNumber int    `json:"partNumber" binding:"required,gte=1"`
	Checksum   string `json:"checksum" binding:"required"`
}

// AbortUploadRequest defines the optional JSON body for aborting an upload.
type AbortUploadRequest struct {
	Reason string `json:"reason" binding:"omitempty"`
}

// RenameUploadRequest defines the expected JSON for renaming a session's file.
type RenameUploadRequest struct {
	Filename string `json:"filename" binding:"required"`
}

// SessionResponse is the DTO for returning session details.
type SessionResponse struct {
	ID                 string               `json:"id"`
	OwnerID            string               `json:"ownerId"`
	ScopeID            string               `json:"scopeId"`
	Filename           string               `json:"filename"`
	OriginalName       string               `json:"originalName,omitempty"`
	MimeType           string               `json:"mimeType,omitempty"`
	DeclaredSizeBytes  int64                `json:"declaredSizeBytes"`
	Status             domain.SessionStatus `json:"status"`
	Parts              []domain.UploadPart  `json:"parts"`
	QuotaReservedBytes int64                `json:"quotaReservedBytes"`
	CreatedAt          time.Time            `json:"createdAt"`
	LastActivityAt     time.Time            `json:"lastActivityAt"`
}

// MapSessionToResponse converts a domain.UploadSession to SessionResponse DTO.
func MapSessionToResponse(s *domain.UploadSession) SessionResponse {
	if s == nil {
		return SessionResponse{}
	}
	return SessionResponse{
		ID:                 s.ID,
		OwnerID:            s.OwnerID,
		ScopeID:            s.ScopeID,
		Filename:           s.Filename,
		OriginalName:       s.OriginalName,
		MimeType:           s.MimeType,
		DeclaredSizeBytes:  s.DeclaredSizeBytes,
		Status:             s.Status,
		Parts:              s.Parts,
		QuotaReservedBytes: s.QuotaReservedBytes,
		CreatedAt:          s.CreatedAt,
		LastActivityAt:     s.LastActivityAt,
	}
}

// --- Handler Methods ---

// InitiateUpload handles POST /uploads
func (h *UploadHandler) InitiateUpload(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, err.Error())
		return
	}

	var req InitiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	session, err := h.uploadService.Initiate(c.Request.Context(), actor, service.InitiateRequest{
		OwnerID:           actor.ID, // Sessions are always initiated on the caller's own account
		ScopeID:           req.ScopeID,
		Filename:          req.Filename,
		OriginalName:      req.OriginalName,
		MimeType:          req.MimeType,
		DeclaredSizeBytes: req.DeclaredSizeBytes,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, MapSessionToResponse(session))
}

// GeneratePartURL handles POST /uploads/:id/parts
func (h *UploadHandler) GeneratePartURL(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, err.Error())
		return
	}

	var req PartURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.uploadService.GeneratePartURL(c.Request.Context(), actor, c.Param("id"), req.PartNumber, req.PartSizeBytes)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Heartbeat handles POST /uploads/:id/heartbeat
func (h *UploadHandler) Heartbeat(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, err.Error())
		return
	}

	if err := h.uploadService.Heartbeat(c.Request.Context(), actor, c.Param("id")); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// CompleteUpload handles POST /uploads/:id/complete
func (h *UploadHandler) CompleteUpload(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, err.Error())
		return
	}

	var req CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	parts := make([]service.CompletedPartInput, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, service.CompletedPartInput{PartNumber: p.PartNumber, Checksum: p.Checksum})
	}

	session, err := h.uploadService.Complete(c.Request.Context(), actor, c.Param("id"), parts)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, MapSessionToResponse(session))
}

// AbortUpload handles DELETE /uploads/:id
func (h *UploadHandler) AbortUpload(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, err.Error())
		return
	}

	var req AbortUploadRequest
	// Body is optional for abort; ignore bind errors on empty bodies.
	_ = c.ShouldBindJSON(&req)
	reason := req.Reason
	if reason == "" {
		reason = "client abort"
	}

	session, err := h.uploadService.Abort(c.Request.Context(), actor, c.Param("id"), reason)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, MapSessionToResponse(session))
}

// RenameUpload handles PATCH /uploads/:id/filename
func (h *UploadHandler) RenameUpload(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, err.Error())
		return
	}

	var req RenameUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.uploadService.Rename(c.Request.Context(), actor, c.Param("id"), req.Filename); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"filename": req.Filename})
}

// ClearOwnerSlots handles POST /admin/owners/:ownerId/clear-slots
func (h *UploadHandler) ClearOwnerSlots(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, err.Error())
		return
	}

	report, err := h.uploadService.ClearOwnerSessions(c.Request.Context(), actor, c.Param("ownerId"))
	if err != nil {
		if errors.Is(err, service.ErrPartialReclamationFailure) {
			// Partial failure: successes keep their effects; enumerate the
			// sessions that could not be cleared.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "some sessions could not be reclaimed",
				"report": report,
			})
			return
		}
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetOwnerStats handles GET /admin/owners/:ownerId/stats
func (h *UploadHandler) GetOwnerStats(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, err.Error())
		return
	}

	stats, err := h.uploadService.OwnerStats(c.Request.Context(), actor, c.Param("ownerId"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleServiceError maps service errors onto HTTP statuses. Quota and
// concurrency breaches are distinct, actionable signals; backend failures
// surface as retryable server errors without backend-specific detail.
func (h *UploadHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		abortWithError(c, http.StatusRequestEntityTooLarge, "Storage quota exceeded")
	case errors.Is(err, service.ErrConcurrencyLimitExceeded):
		abortWithError(c, http.StatusTooManyRequests, "Concurrent upload limit reached, try again later")
	case errors.Is(err, service.ErrSessionNotFound):
		abortWithError(c, http.StatusNotFound, "Upload session not found")
	case errors.Is(err, service.ErrInvalidStateTransition):
		abortWithError(c, http.StatusConflict, "Session is not in a valid state for this operation")
	case errors.Is(err, service.ErrInvalidPartParameters):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidFileType):
		abortWithError(c, http.StatusBadRequest, "File type not allowed")
	case errors.Is(err, service.ErrStorageBackendFailure):
		abortWithError(c, http.StatusBadGateway, "Storage backend unavailable, retry later")
	case errors.Is(err, authz.ErrNotPermitted):
		abortWithError(c, http.StatusForbidden, "Operation not permitted")
	default:
		abortWithError(c, http.StatusInternalServerError, "Internal server error")
	}
}
