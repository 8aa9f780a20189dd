package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates periodic work such as the stale-document
// watchdog so only one instance runs a cycle at a time.
type DistributedLock interface {
	// Acquire attempts to take a named lock for ttl.
	// Returns false without error when another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release gives up a named lock. Releasing a lock that is not held is a no-op.
	Release(ctx context.Context, name string) error

	// Extend pushes out the TTL of a lock this instance holds.
	// Backends without TTLs (PostgreSQL advisory locks) treat it as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
