package quota

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const (
	reservedKeyPrefix = "upload:quota:reserved:"
	consumedKeyPrefix = "upload:quota:consumed:"
)

// reserveScript checks headroom and takes the reservation in one server-side
// step, mirroring the slot counter's check-and-increment.
var reserveScript = redis.NewScript(`
local reserved = tonumber(redis.call("GET", KEYS[1]) or "0")
if reserved + tonumber(ARGV[1]) > tonumber(ARGV[2]) then
	return 0
end
redis.call("INCRBY", KEYS[1], ARGV[1])
return 1
`)

// refundScript subtracts a refund from the reserved counter, clamping at
// zero. Returns the number of bytes that could not be refunded (non-zero
// signals a bookkeeping mismatch).
var refundScript = redis.NewScript(`
local reserved = tonumber(redis.call("GET", KEYS[1]) or "0")
local refund = tonumber(ARGV[1])
if refund >= reserved then
	redis.call("SET", KEYS[1], "0")
	return refund - reserved
end
redis.call("DECRBY", KEYS[1], ARGV[1])
return 0
`)

// redisLedger implements Ledger on shared Redis counters, a reserved and a
// consumed key per owner.
type redisLedger struct {
	client *redis.Client
}

// NewRedisLedger creates a quota Ledger backed by the given Redis client.
func NewRedisLedger(client *redis.Client) Ledger {
	return &redisLedger{client: client}
}

func reservedKey(ownerID string) string {
	return reservedKeyPrefix + ownerID
}

func consumedKey(ownerID string) string {
	return consumedKeyPrefix + ownerID
}

// Reserve atomically checks headroom and takes the reservation.
func (l *redisLedger) Reserve(ctx context.Context, ownerID string, bytes, limit int64) (bool, error) {
	if bytes <= 0 {
		return false, fmt.Errorf("reservation size must be positive, got %d", bytes)
	}
	if bytes > limit {
		return false, nil
	}

	granted, err := reserveScript.Run(ctx, l.client, []string{reservedKey(ownerID)}, bytes, limit).Int()
	if err != nil {
		return false, fmt.Errorf("quota reserve for owner %s: %w", ownerID, err)
	}
	return granted == 1, nil
}

// Commit reconciles a completed upload: only the unused portion of the
// reservation is refunded, so the assembled object's footprint stays on the
// reserved counter and keeps counting against the owner's limit. actualBytes
// is additionally recorded in the consumed total for statistics.
func (l *redisLedger) Commit(ctx context.Context, ownerID string, reservedBytes, actualBytes int64) error {
	delta := reservedBytes - actualBytes
	if delta > 0 {
		if err := l.refund(ctx, ownerID, delta); err != nil {
			return err
		}
	} else if delta < 0 {
		// The assembled object came out larger than the reservation; grow the
		// counter so the extra bytes stay accounted for.
		if err := l.client.IncrBy(ctx, reservedKey(ownerID), -delta).Err(); err != nil {
			return fmt.Errorf("quota commit for owner %s: %w", ownerID, err)
		}
		log.Printf("WARN: quota commit for owner %s: assembled size exceeds reservation by %d bytes", ownerID, -delta)
	}
	if actualBytes > 0 {
		if err := l.client.IncrBy(ctx, consumedKey(ownerID), actualBytes).Err(); err != nil {
			return fmt.Errorf("quota commit for owner %s: %w", ownerID, err)
		}
	}
	return nil
}

// Release refunds the full reservation.
func (l *redisLedger) Release(ctx context.Context, ownerID string, bytes int64) error {
	return l.refund(ctx, ownerID, bytes)
}

func (l *redisLedger) refund(ctx context.Context, ownerID string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	short, err := refundScript.Run(ctx, l.client, []string{reservedKey(ownerID)}, bytes).Int64()
	if err != nil {
		return fmt.Errorf("quota refund for owner %s: %w", ownerID, err)
	}
	if short > 0 {
		// Refund exceeded the outstanding reservation; counter was clamped
		// at zero. Same anomaly policy as the slot counter.
		log.Printf("WARN: quota refund for owner %s exceeded outstanding reservation by %d bytes", ownerID, short)
	}
	return nil
}

// Usage reports the owner's reserved and consumed byte counters.
func (l *redisLedger) Usage(ctx context.Context, ownerID string) (Usage, error) {
	var usage Usage

	reserved, err := l.client.Get(ctx, reservedKey(ownerID)).Int64()
	if err != nil && err != redis.Nil {
		return usage, fmt.Errorf("quota usage for owner %s: %w", ownerID, err)
	}
	consumed, err := l.client.Get(ctx, consumedKey(ownerID)).Int64()
	if err != nil && err != redis.Nil {
		return usage, fmt.Errorf("quota usage for owner %s: %w", ownerID, err)
	}

	usage.ReservedBytes = reserved
	usage.ConsumedBytes = consumed
	return usage, nil
}
