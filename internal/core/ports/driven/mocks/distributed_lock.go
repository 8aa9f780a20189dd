package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock keeps leases in memory, each expiring at a deadline.
// AcquireFn replaces Acquire entirely when set.
type MockDistributedLock struct {
	mu           sync.Mutex
	leases       map[string]time.Time
	acquisitions int

	AcquireFn func(name string, ttl time.Duration) (bool, error)
}

func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{leases: make(map[string]time.Time)}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.heldLocked(name) {
		return false, nil
	}
	m.acquisitions++
	m.leases[name] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.heldLocked(name) {
		return fmt.Errorf("lock %s: %w", name, domain.ErrNotFound)
	}
	m.leases[name] = time.Now().Add(ttl)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	return nil
}

// Acquisitions counts successful Acquire calls.
func (m *MockDistributedLock) Acquisitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquisitions
}

// IsHeld reports whether name has an unexpired lease.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldLocked(name)
}

// SetLockHeld simulates another instance holding name for ttl.
func (m *MockDistributedLock) SetLockHeld(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[name] = time.Now().Add(ttl)
}

func (m *MockDistributedLock) heldLocked(name string) bool {
	deadline, ok := m.leases[name]
	return ok && time.Now().Before(deadline)
}
