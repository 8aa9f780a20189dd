package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "thinkpod:lock:"

// leaseScript acts on a lock key only while it still holds our token.
// A zero TTL deletes the key; anything else renews it in milliseconds.
var leaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if ARGV[2] == "0" then
	return redis.call("DEL", KEYS[1])
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)

// Lock is a lease on a Redis key holding this process's token. Only the
// holder can release or renew it, and an abandoned lease expires by itself.
type Lock struct {
	client *redis.Client
	token  string
}

// NewLock creates a lock bound to a token unique to this process.
func NewLock(client *redis.Client) *Lock {
	host, _ := os.Hostname()
	return &Lock{
		client: client,
		token:  fmt.Sprintf("%s/%d/%s", host, os.Getpid(), domain.GenerateID()),
	}
}

// Acquire takes name for ttl. It reports false when any holder, this one
// included, already has the lease.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	err := l.client.SetArgs(ctx, lockPrefix+name, l.token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
}

// Release drops the lease if we hold it.
func (l *Lock) Release(ctx context.Context, name string) error {
	if _, err := l.lease(ctx, name, 0); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend renews a held lease for ttl. It returns ErrNotFound when the lease
// has expired or belongs to someone else.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if ttl < time.Millisecond {
		return domain.NewValidationError("ttl", "must be at least 1ms")
	}
	ok, err := l.lease(ctx, name, ttl)
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("lock %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

func (l *Lock) lease(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	n, err := leaseScript.Run(ctx, l.client, []string{lockPrefix + name}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Token identifies this holder in the lock value.
func (l *Lock) Token() string {
	return l.token
}
