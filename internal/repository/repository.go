package repository

import (
	"context"
	"time"

	"cloudvault/upload-service/internal/domain"
)

// Error constants for the repository layer.
var (
	ErrNotFound = RepositoryError("not found")
	// ErrConflict is returned by conditional updates when the session exists
	// but is not in one of the expected predecessor states. Callers use it to
	// detect a lost race (e.g. a reaper abort landing before a client complete).
	ErrConflict     = RepositoryError("state conflict")
	ErrDuplicateID  = RepositoryError("duplicate session id")
	ErrUpdateFailed = RepositoryError("update failed")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// SessionRepository defines the interface for interacting with upload
// session records. Mutating operations that depend on the current status
// take the legal predecessor states explicitly so the status check and the
// write happen in a single round trip to the store.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.UploadSession) error
	GetByID(ctx context.Context, id string) (*domain.UploadSession, error)

	// ListActiveByOwner returns every session for the owner that is still
	// holding a slot (status pending or uploading).
	ListActiveByOwner(ctx context.Context, ownerID string) ([]domain.UploadSession, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int64, error)

	// FindStale returns up to limit non-terminal sessions whose last
	// activity is older than cutoff. Used by the reaper sweep.
	FindStale(ctx context.Context, cutoff time.Time, limit int64) ([]domain.UploadSession, error)

	// RecordPart upserts one acknowledged part on a non-terminal session
	// (last write for a part number wins) and refreshes lastActivityAt.
	// Returns ErrConflict if the session has already reached a terminal state.
	RecordPart(ctx context.Context, id string, part domain.UploadPart) error

	// Touch refreshes lastActivityAt on a non-terminal session.
	Touch(ctx context.Context, id string, at time.Time) error

	// TransitionStatus moves a session from one of the given predecessor
	// states to the target state in a single conditional update, returning
	// the updated session. ErrConflict means the session exists but was not
	// in any of the from states; this is the optimistic guard that prevents
	// two terminal transitions on the same session.
	TransitionStatus(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (*domain.UploadSession, error)

	// Rename changes the filename of a non-terminal session. Filename is
	// immutable through every other code path.
	Rename(ctx context.Context, id string, filename string) error
}
