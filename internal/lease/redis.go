// Package lease implements the cluster-wide, TTL-bearing mutual exclusion the
// offer flow relies on. Leases live in Redis so every service instance sees
// the same holder, and they expire on their own if the holder disappears.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces offer lease keys.
const DefaultPrefix = "ridebook:offer-lock:"

// releaseScript deletes the key only when it still holds the caller's value,
// so a holder whose lease already expired cannot free somebody else's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out per-trip leases keyed by trip ID and held by a driver ID.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLocker constructs a RedisLocker. An empty prefix uses DefaultPrefix.
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) key(tripID uuid.UUID) string {
	return l.prefix + tripID.String()
}

// Acquire takes the lease for tripID on behalf of holder for ttl.
// It never waits: false means somebody else currently holds it.
func (l *RedisLocker) Acquire(ctx context.Context, tripID, holder uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lease.RedisLocker.Acquire: ttl must be positive, got %s", ttl)
	}
	ok, err := l.client.SetNX(ctx, l.key(tripID), holder.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease.RedisLocker.Acquire: %w", err)
	}
	return ok, nil
}

// Release frees the lease if holder still owns it and reports whether it did.
func (l *RedisLocker) Release(ctx context.Context, tripID, holder uuid.UUID) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(tripID)}, holder.String()).Int()
	if err != nil {
		return false, fmt.Errorf("lease.RedisLocker.Release: %w", err)
	}
	return n == 1, nil
}

// Holder returns the current holder of the lease, if any.
func (l *RedisLocker) Holder(ctx context.Context, tripID uuid.UUID) (uuid.UUID, bool, error) {
	val, err := l.client.Get(ctx, l.key(tripID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lease.RedisLocker.Holder: %w", err)
	}
	holder, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lease.RedisLocker.Holder: corrupt lease value %q: %w", val, err)
	}
	return holder, true, nil
}
