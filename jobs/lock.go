package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock serializes job runs across worker replicas with a Redis SET NX
// lease. A fire that loses the race skips its run instead of doubling work;
// the TTL releases the lease if a holder dies mid-run.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock constructs a lock manager. A nil client disables locking, which
// single-worker deployments use.
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	return &RunLock{client: client, ttl: ttl}
}

// Acquire attempts to take the lease for key. The release func is a no-op
// when acquisition failed or locking is disabled.
func (l *RunLock) Acquire(ctx context.Context, key string) (bool, func()) {
	if l == nil || l.client == nil {
		return true, func() {}
	}
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		// Redis being down should not stop maintenance work.
		return true, func() {}
	}
	if !ok {
		return false, func() {}
	}
	return true, func() {
		l.client.Del(context.WithoutCancel(ctx), key)
	}
}
