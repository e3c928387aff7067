package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"cloudvault/upload-service/internal/authz"
	"cloudvault/upload-service/internal/domain"
	"cloudvault/upload-service/internal/limiter"
	"cloudvault/upload-service/internal/quota"
	"cloudvault/upload-service/internal/repository"
	"cloudvault/upload-service/internal/storage"

	"github.com/google/uuid"
)

// --- Error Definitions ---
var (
	ErrQuotaExceeded             = errors.New("storage quota exceeded")
	ErrConcurrencyLimitExceeded  = errors.New("concurrent upload limit exceeded")
	ErrInvalidPartParameters     = errors.New("invalid part parameters")
	ErrSessionNotFound           = errors.New("upload session not found")
	ErrInvalidStateTransition    = errors.New("invalid session state for this operation")
	ErrStorageBackendFailure     = errors.New("storage backend failure")
	ErrPartialReclamationFailure = errors.New("one or more sessions could not be reclaimed")
	ErrInvalidFileType           = errors.New("file type not allowed")
)

// Number of assembly attempts before a completion flips the session to the
// error state. Transient backend failures within this budget are retried
// with exponential backoff.
const (
	assemblyAttempts       = 3
	assemblyInitialBackoff = 200 * time.Millisecond
)

// InitiateRequest carries the file metadata supplied at initiation.
type InitiateRequest struct {
	OwnerID           string `json:"ownerId"`
	ScopeID           string `json:"scopeId"`
	Filename          string `json:"filename"`
	OriginalName      string `json:"originalName"`
	MimeType          string `json:"mimeType"`
	DeclaredSizeBytes int64  `json:"declaredSizeBytes"`
}

// PartURLResult is the presigned URL issued for one part.
type PartURLResult struct {
	SessionID  string    `json:"sessionId"`
	PartNumber int       `json:"partNumber"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// CompletedPartInput identifies one uploaded part in a completion request.
type CompletedPartInput struct {
	PartNumber int    `json:"partNumber"`
	Checksum   string `json:"checksum"`
}

// OwnerStats is the read-only view of an owner's slot and quota state.
type OwnerStats struct {
	OwnerID         string      `json:"ownerId"`
	ActiveSessions  int64       `json:"activeSessions"`
	SlotsInUse      int64       `json:"slotsInUse"`
	SlotLimit       int64       `json:"slotLimit"`
	Quota           quota.Usage `json:"quota"`
	QuotaLimitBytes int64       `json:"quotaLimitBytes"`
}

// ReclamationReport enumerates the outcome of a bulk slot reclamation.
// Failed maps session id to the failure reason; those sessions keep their
// slot and reservation and will be retried by the reaper.
type ReclamationReport struct {
	OwnerID string            `json:"ownerId"`
	Cleared []string          `json:"cleared"`
	Failed  map[string]string `json:"failed"`
}

// UploadService is the lifecycle orchestrator: it drives sessions through
// initiate -> part upload -> complete/abort, coordinating the slot manager,
// the quota ledger, the session store, and the object storage backend.
type UploadService interface {
	Initiate(ctx context.Context, actor authz.Actor, req InitiateRequest) (*domain.UploadSession, error)
	GeneratePartURL(ctx context.Context, actor authz.Actor, sessionID string, partNumber int, partSizeBytes int64) (*PartURLResult, error)
	Heartbeat(ctx context.Context, actor authz.Actor, sessionID string) error
	Complete(ctx context.Context, actor authz.Actor, sessionID string, parts []CompletedPartInput) (*domain.UploadSession, error)
	Abort(ctx context.Context, actor authz.Actor, sessionID string, reason string) (*domain.UploadSession, error)
	Rename(ctx context.Context, actor authz.Actor, sessionID string, filename string) error
	ClearOwnerSessions(ctx context.Context, actor authz.Actor, ownerID string) (*ReclamationReport, error)
	OwnerStats(ctx context.Context, actor authz.Actor, ownerID string) (*OwnerStats, error)
}

// uploadService implements the UploadService interface.
type uploadService struct {
	sessions      repository.SessionRepository
	slots         limiter.SlotManager
	ledger        quota.Ledger
	objectStorage storage.ObjectStorage
	tiers         TierResolver
	auth          authz.Authorizer

	partURLExpiry       time.Duration
	allowedMimePrefixes []string
	now                 func() time.Time
}

// NewUploadService creates a new instance of uploadService. All collaborators
// are supplied as ports so tests can substitute in-memory fakes.
func NewUploadService(
	sessions repository.SessionRepository,
	slots limiter.SlotManager,
	ledger quota.Ledger,
	objectStorage storage.ObjectStorage,
	tiers TierResolver,
	auth authz.Authorizer,
	partURLExpiry time.Duration,
	allowedMimePrefixes []string,
) UploadService {
	if partURLExpiry <= 0 {
		partURLExpiry = storage.DefaultPresignedURLExpiry
	}
	return &uploadService{
		sessions:            sessions,
		slots:               slots,
		ledger:              ledger,
		objectStorage:       objectStorage,
		tiers:               tiers,
		auth:                auth,
		partURLExpiry:       partURLExpiry,
		allowedMimePrefixes: allowedMimePrefixes,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// === Initiation ===

// Initiate admits a new upload session. Quota reservation and slot
// acquisition are two independent atomic checks; either one failing rolls
// back whatever the other already granted, so a failed initiation leaves no
// side effects behind.
func (s *uploadService) Initiate(ctx context.Context, actor authz.Actor, req InitiateRequest) (*domain.UploadSession, error) {
	if err := s.auth.CanManageSession(ctx, actor, req.OwnerID); err != nil {
		return nil, err
	}

	// 1. Validate the declared metadata.
	if req.OwnerID == "" || req.Filename == "" {
		return nil, errors.New("ownerId and filename are required")
	}
	if req.DeclaredSizeBytes <= 0 {
		return nil, fmt.Errorf("%w: declared size must be positive", ErrInvalidPartParameters)
	}
	if !s.mimeTypeAllowed(req.MimeType) {
		return nil, ErrInvalidFileType
	}

	limits, err := s.tiers.Limits(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	// 2. Reserve quota (atomic check against the owner's limit).
	granted, err := s.ledger.Reserve(ctx, req.OwnerID, req.DeclaredSizeBytes, limits.QuotaLimitBytes)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, ErrQuotaExceeded
	}

	// 3. Acquire a concurrency slot. On denial, roll the reservation back
	// before returning: the caller must observe no side effects.
	acquired, err := s.slots.TryAcquire(ctx, req.OwnerID, limits.MaxSessions)
	if err != nil {
		s.rollbackReservation(ctx, req.OwnerID, req.DeclaredSizeBytes)
		return nil, err
	}
	if !acquired {
		s.rollbackReservation(ctx, req.OwnerID, req.DeclaredSizeBytes)
		return nil, ErrConcurrencyLimitExceeded
	}

	// 4. Open the storage-backend multipart session.
	sessionID := uuid.NewString()
	objectKey := path.Join("uploads", req.ScopeID, req.OwnerID, fmt.Sprintf("%s_%s", sessionID, req.Filename))

	uploadID, err := s.objectStorage.CreateMultipartUpload(ctx, objectKey, req.MimeType)
	if err != nil {
		s.rollbackSlot(ctx, req.OwnerID)
		s.rollbackReservation(ctx, req.OwnerID, req.DeclaredSizeBytes)
		return nil, fmt.Errorf("%w: %v", ErrStorageBackendFailure, err)
	}

	// 5. Persist the session in PENDING.
	now := s.now()
	session := &domain.UploadSession{
		ID:                 sessionID,
		OwnerID:            req.OwnerID,
		ScopeID:            req.ScopeID,
		Path:               objectKey,
		Filename:           req.Filename,
		OriginalName:       req.OriginalName,
		MimeType:           req.MimeType,
		DeclaredSizeBytes:  req.DeclaredSizeBytes,
		StorageUploadID:    uploadID,
		Status:             domain.StatusPending,
		Parts:              []domain.UploadPart{},
		QuotaReservedBytes: req.DeclaredSizeBytes,
		CreatedAt:          now,
		LastActivityAt:     now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		// Compensate everything granted so far.
		if abortErr := s.objectStorage.AbortMultipartUpload(ctx, objectKey, uploadID); abortErr != nil {
			log.Printf("ERROR: Failed to abort orphaned storage session %s after create failure: %v", uploadID, abortErr)
		}
		s.rollbackSlot(ctx, req.OwnerID)
		s.rollbackReservation(ctx, req.OwnerID, req.DeclaredSizeBytes)
		return nil, err
	}

	return session, nil
}

func (s *uploadService) mimeTypeAllowed(mimeType string) bool {
	if len(s.allowedMimePrefixes) == 0 {
		return true
	}
	lowered := strings.ToLower(mimeType)
	for _, prefix := range s.allowedMimePrefixes {
		if strings.HasPrefix(lowered, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func (s *uploadService) rollbackReservation(ctx context.Context, ownerID string, bytes int64) {
	if err := s.ledger.Release(ctx, ownerID, bytes); err != nil {
		log.Printf("ERROR: Failed to roll back quota reservation of %d bytes for owner %s: %v", bytes, ownerID, err)
	}
}

func (s *uploadService) rollbackSlot(ctx context.Context, ownerID string) {
	if err := s.slots.Release(ctx, ownerID); err != nil {
		log.Printf("ERROR: Failed to roll back slot for owner %s: %v", ownerID, err)
	}
}

// === Part URLs ===

// GeneratePartURL validates part bounds, signs an upload URL for the part,
// records the part on the session, and moves a pending session to uploading.
func (s *uploadService) GeneratePartURL(ctx context.Context, actor authz.Actor, sessionID string, partNumber int, partSizeBytes int64) (*PartURLResult, error) {
	session, err := s.loadSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, ErrInvalidStateTransition
	}

	// Bounds checks per the multipart limits.
	if partNumber < domain.MinPartNumber || partNumber > domain.MaxPartNumber {
		return nil, fmt.Errorf("%w: part number %d out of range [%d, %d]",
			ErrInvalidPartParameters, partNumber, domain.MinPartNumber, domain.MaxPartNumber)
	}
	if partSizeBytes <= 0 || partSizeBytes > domain.MaxPartSizeBytes {
		return nil, fmt.Errorf("%w: part size %d out of bounds", ErrInvalidPartParameters, partSizeBytes)
	}

	// The reservation must always cover the acknowledged parts. Account for
	// a re-issued part number replacing its previous size.
	acknowledged := session.AcknowledgedSizeBytes()
	if existing, ok := session.Part(partNumber); ok {
		acknowledged -= existing.SizeBytes
	}
	if acknowledged+partSizeBytes > session.QuotaReservedBytes {
		return nil, fmt.Errorf("%w: parts would exceed the declared size of %d bytes",
			ErrInvalidPartParameters, session.QuotaReservedBytes)
	}

	partURL, err := s.objectStorage.PresignUploadPart(ctx, session.Path, session.StorageUploadID, partNumber, partSizeBytes, s.partURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageBackendFailure, err)
	}

	// Record the part (last write wins for a part number) and refresh
	// activity. A conflict here means the session went terminal since the
	// read above.
	part := domain.UploadPart{PartNumber: partNumber, SizeBytes: partSizeBytes}
	if err := s.sessions.RecordPart(ctx, sessionID, part); err != nil {
		return nil, s.mapRepoError(err)
	}

	if session.Status == domain.StatusPending {
		_, err := s.sessions.TransitionStatus(ctx, sessionID,
			[]domain.SessionStatus{domain.StatusPending}, domain.StatusUploading)
		if err != nil && !errors.Is(err, repository.ErrConflict) {
			// A conflict just means another part URL (or heartbeat) already
			// moved the session to uploading; anything else is a real error.
			return nil, s.mapRepoError(err)
		}
	}

	return &PartURLResult{
		SessionID:  sessionID,
		PartNumber: partNumber,
		URL:        partURL.URL,
		ExpiresAt:  partURL.ExpiresAt,
	}, nil
}

// === Heartbeat ===

// Heartbeat refreshes the session's last-activity timestamp. No other side
// effect; the reaper reads this timestamp to decide staleness.
func (s *uploadService) Heartbeat(ctx context.Context, actor authz.Actor, sessionID string) error {
	if _, err := s.loadSession(ctx, actor, sessionID); err != nil {
		return err
	}
	if err := s.sessions.Touch(ctx, sessionID, s.now()); err != nil {
		return s.mapRepoError(err)
	}
	return nil
}

// === Completion ===

// Complete verifies the supplied part list, assembles the object via the
// storage backend (bounded retry), and settles the session's resources.
// Only the winner of the terminal transition releases the slot and commits
// the quota, so a racing reaper abort can never cause a double release.
func (s *uploadService) Complete(ctx context.Context, actor authz.Actor, sessionID string, parts []CompletedPartInput) (*domain.UploadSession, error) {
	session, err := s.loadSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusUploading {
		return nil, ErrInvalidStateTransition
	}

	assembled, err := s.verifyPartList(session, parts)
	if err != nil {
		return nil, err
	}

	actualSize, assembleErr := s.assembleWithRetry(ctx, session, assembled)
	if assembleErr != nil {
		// A failed completion must not hold resources indefinitely: flip to
		// ERROR and release slot and quota, then surface the failure.
		failed, terr := s.sessions.TransitionStatus(ctx, sessionID,
			[]domain.SessionStatus{domain.StatusUploading}, domain.StatusError)
		if terr != nil {
			// Lost the terminal race (or the session vanished); whoever won
			// already settled the resources.
			return nil, fmt.Errorf("%w: %v", ErrStorageBackendFailure, assembleErr)
		}
		s.rollbackSlot(ctx, failed.OwnerID)
		s.rollbackReservation(ctx, failed.OwnerID, failed.QuotaReservedBytes)
		return nil, fmt.Errorf("%w: %v", ErrStorageBackendFailure, assembleErr)
	}

	completed, err := s.sessions.TransitionStatus(ctx, sessionID,
		[]domain.SessionStatus{domain.StatusUploading}, domain.StatusCompleted)
	if err != nil {
		// The session went terminal while we were assembling (e.g. a reaper
		// abort). The winner settled the resources; report the conflict.
		return nil, s.mapRepoError(err)
	}

	// Reconcile the reservation to the actual assembled size and free the slot.
	if err := s.ledger.Commit(ctx, completed.OwnerID, completed.QuotaReservedBytes, actualSize); err != nil {
		log.Printf("ERROR: Failed to commit quota for session %s (owner %s): %v", sessionID, completed.OwnerID, err)
	}
	s.rollbackSlot(ctx, completed.OwnerID)

	return completed, nil
}

// verifyPartList checks that the supplied parts are contiguous from part 1,
// cover every acknowledged part, and respect the minimum part-size floor for
// all but the last part.
func (s *uploadService) verifyPartList(session *domain.UploadSession, parts []CompletedPartInput) ([]storage.AssembledPart, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no parts supplied", ErrInvalidPartParameters)
	}

	sorted := make([]CompletedPartInput, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	supplied := make(map[int]bool, len(sorted))
	for i, p := range sorted {
		// Contiguous from 1: no gaps below the highest part number, no
		// duplicates.
		if p.PartNumber != i+1 {
			return nil, fmt.Errorf("%w: part list has a gap or duplicate at part %d", ErrInvalidPartParameters, p.PartNumber)
		}
		supplied[p.PartNumber] = true
	}

	highest := sorted[len(sorted)-1].PartNumber
	for _, acked := range session.Parts {
		if !supplied[acked.PartNumber] {
			return nil, fmt.Errorf("%w: acknowledged part %d missing from completion list", ErrInvalidPartParameters, acked.PartNumber)
		}
		// Every part except the last must meet the minimum size floor.
		if acked.PartNumber != highest && acked.SizeBytes < domain.MinPartSizeBytes {
			return nil, fmt.Errorf("%w: part %d is below the minimum part size", ErrInvalidPartParameters, acked.PartNumber)
		}
	}

	assembled := make([]storage.AssembledPart, 0, len(sorted))
	for _, p := range sorted {
		assembled = append(assembled, storage.AssembledPart{PartNumber: p.PartNumber, Checksum: p.Checksum})
	}
	return assembled, nil
}

// assembleWithRetry asks the backend to assemble the parts, retrying
// transient failures a bounded number of times with exponential backoff.
func (s *uploadService) assembleWithRetry(ctx context.Context, session *domain.UploadSession, parts []storage.AssembledPart) (int64, error) {
	backoff := assemblyInitialBackoff
	var lastErr error

	for attempt := 1; attempt <= assemblyAttempts; attempt++ {
		size, err := s.objectStorage.CompleteMultipartUpload(ctx, session.Path, session.StorageUploadID, parts)
		if err == nil {
			return size, nil
		}
		lastErr = err
		log.Printf("WARN: Assembly attempt %d/%d failed for session %s: %v", attempt, assemblyAttempts, session.ID, err)

		if attempt == assemblyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return 0, lastErr
}

// === Abort ===

// Abort discards the session's uploaded parts and releases its slot and
// quota reservation. Calling it on a session that has already reached a
// terminal state is a no-op returning that state, which makes a client abort
// racing a reaper abort harmless.
func (s *uploadService) Abort(ctx context.Context, actor authz.Actor, sessionID string, reason string) (*domain.UploadSession, error) {
	session, err := s.loadSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	return s.abortSession(ctx, session, reason)
}

// abortSession is the shared abort path used by client aborts, the reaper,
// and bulk reclamation. The storage discard happens before the terminal
// transition: if the discard fails, the session stays non-terminal and keeps
// its slot, and the next reaper sweep retries it. Decrementing the slot for
// a failed discard would understate the count while backend parts still
// exist.
func (s *uploadService) abortSession(ctx context.Context, session *domain.UploadSession, reason string) (*domain.UploadSession, error) {
	if session.Status.IsTerminal() {
		return session, nil
	}

	if err := s.objectStorage.AbortMultipartUpload(ctx, session.Path, session.StorageUploadID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageBackendFailure, err)
	}

	aborted, err := s.sessions.TransitionStatus(ctx, session.ID,
		[]domain.SessionStatus{domain.StatusPending, domain.StatusUploading}, domain.StatusAborted)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Another actor won the terminal race and settled the resources.
			current, getErr := s.sessions.GetByID(ctx, session.ID)
			if getErr != nil {
				return nil, s.mapRepoError(getErr)
			}
			return current, nil
		}
		return nil, s.mapRepoError(err)
	}

	log.Printf("INFO: Aborted upload session %s (owner %s): %s", session.ID, session.OwnerID, reason)

	s.rollbackSlot(ctx, aborted.OwnerID)
	s.rollbackReservation(ctx, aborted.OwnerID, aborted.QuotaReservedBytes)
	return aborted, nil
}

// === Rename ===

// Rename is the only transition through which a session's filename changes.
func (s *uploadService) Rename(ctx context.Context, actor authz.Actor, sessionID string, filename string) error {
	if _, err := s.loadSession(ctx, actor, sessionID); err != nil {
		return err
	}
	if filename == "" {
		return errors.New("filename is required")
	}
	if err := s.sessions.Rename(ctx, sessionID, filename); err != nil {
		return s.mapRepoError(err)
	}
	return nil
}

// === Bulk Reclamation ===

// ClearOwnerSessions aborts every non-terminal session for an owner, each in
// its own isolated unit of work. Successes keep their effects even when
// other sessions fail; failed sessions keep their slot and reservation and
// are enumerated in the report.
func (s *uploadService) ClearOwnerSessions(ctx context.Context, actor authz.Actor, ownerID string) (*ReclamationReport, error) {
	if err := s.auth.CanAdminister(ctx, actor); err != nil {
		return nil, err
	}

	active, err := s.sessions.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	report := &ReclamationReport{
		OwnerID: ownerID,
		Cleared: []string{},
		Failed:  map[string]string{},
	}

	for i := range active {
		session := active[i]
		if _, err := s.abortSession(ctx, &session, "administrative slot reclamation"); err != nil {
			report.Failed[session.ID] = err.Error()
			continue
		}
		report.Cleared = append(report.Cleared, session.ID)
	}

	if len(report.Failed) > 0 {
		return report, ErrPartialReclamationFailure
	}
	return report, nil
}

// === Stats ===

// OwnerStats reports the owner's slot and quota state. Read-only; external
// subsystems observe the counters only through this query.
func (s *uploadService) OwnerStats(ctx context.Context, actor authz.Actor, ownerID string) (*OwnerStats, error) {
	if err := s.auth.CanAdminister(ctx, actor); err != nil {
		return nil, err
	}

	limits, err := s.tiers.Limits(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	slotsInUse, err := s.slots.CurrentCount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	usage, err := s.ledger.Usage(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	activeSessions, err := s.sessions.CountActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	return &OwnerStats{
		OwnerID:         ownerID,
		ActiveSessions:  activeSessions,
		SlotsInUse:      slotsInUse,
		SlotLimit:       limits.MaxSessions,
		Quota:           usage,
		QuotaLimitBytes: limits.QuotaLimitBytes,
	}, nil
}

// === Helpers ===

// loadSession fetches a session and checks the actor may operate on it.
func (s *uploadService) loadSession(ctx context.Context, actor authz.Actor, sessionID string) (*domain.UploadSession, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, s.mapRepoError(err)
	}
	if err := s.auth.CanManageSession(ctx, actor, session.OwnerID); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *uploadService) mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrInvalidStateTransition
	default:
		return err
	}
}
