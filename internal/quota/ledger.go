package quota

import (
	"context"
)

// Usage is a read-only snapshot of an owner's quota state. ReservedBytes is
// the figure checked against the limit: bytes held by non-terminal sessions
// plus bytes consumed by completed uploads. ConsumedBytes breaks out the
// completed portion.
type Usage struct {
	ReservedBytes int64 `json:"reservedBytes"`
	ConsumedBytes int64 `json:"consumedBytes"`
}

// Ledger tracks bytes reserved versus consumed per owner. Reservations are
// provisional: they are taken at initiation against the owner's tier limit,
// reconciled to the actual assembled size at completion, and fully refunded
// on abort or expiry. Like the slot counter, the ledger is shared across
// server instances, so every mutation is a single atomic operation on the
// shared store.
type Ledger interface {
	// Reserve provisionally deducts bytes from the owner's headroom. It
	// fails (returning false with no side effects) when reserved+bytes would
	// exceed limit.
	Reserve(ctx context.Context, ownerID string, bytes, limit int64) (bool, error)

	// Commit reconciles a reservation against the actual assembled size:
	// only the delta between reservedBytes and actualBytes is refunded, so
	// the stored object keeps counting against the owner's limit.
	// actualBytes is added to the owner's consumed total.
	Commit(ctx context.Context, ownerID string, reservedBytes, actualBytes int64) error

	// Release refunds a reservation in full (abort/expiry path).
	Release(ctx context.Context, ownerID string, bytes int64) error

	// Usage reports the owner's current reserved and consumed bytes.
	Usage(ctx context.Context, ownerID string) (Usage, error)
}
