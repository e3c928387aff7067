package limiter

import (
	"context"
)

// SlotManager bounds how many upload sessions an owner may hold open at
// once. Implementations must be safe across multiple server instances: the
// admission check is a single atomic check-and-increment against a shared
// counter, never a read followed by a separate write.
type SlotManager interface {
	// TryAcquire attempts to claim one slot for the owner against the given
	// limit. It returns false, without side effects, when the owner already
	// holds limit slots.
	TryAcquire(ctx context.Context, ownerID string, limit int64) (bool, error)

	// Release returns one slot. It must never drive the counter negative:
	// a release without a matching successful acquire clamps at zero and is
	// reported as an anomaly rather than an underflow.
	Release(ctx context.Context, ownerID string) error

	// CurrentCount reports how many slots the owner currently holds.
	CurrentCount(ctx context.Context, ownerID string) (int64, error)
}
