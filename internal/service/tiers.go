package service

import (
	"context"
)

// OwnerLimits are the admission ceilings applied to one owner: how many
// sessions may be open at once and how many bytes may be reserved in total.
type OwnerLimits struct {
	MaxSessions     int64
	QuotaLimitBytes int64
}

// TierResolver maps an owner to its limits. Tier management itself lives
// outside this core; the orchestrator only consumes the resolved numbers.
type TierResolver interface {
	Limits(ctx context.Context, ownerID string) (OwnerLimits, error)
}

// staticTierResolver applies the same configured limits to every owner.
type staticTierResolver struct {
	limits OwnerLimits
}

// NewStaticTierResolver creates a TierResolver that returns the given limits
// for every owner. Used when no per-tier source is wired in.
func NewStaticTierResolver(maxSessions, quotaLimitBytes int64) TierResolver {
	return &staticTierResolver{
		limits: OwnerLimits{
			MaxSessions:     maxSessions,
			QuotaLimitBytes: quotaLimitBytes,
		},
	}
}

func (r *staticTierResolver) Limits(_ context.Context, _ string) (OwnerLimits, error) {
	return r.limits, nil
}
