package mocks

import (
	"context"
	"sync"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

var _ driven.FileStorage = (*MockFileStorage)(nil)

// MockFileStorage keeps files in memory
type MockFileStorage struct {
	mu    sync.RWMutex
	files map[string][]byte

	PutFn    func(key string) error
	DeleteFn func(path string) error
}

// NewMockFileStorage creates a new MockFileStorage
func NewMockFileStorage() *MockFileStorage {
	return &MockFileStorage{files: make(map[string][]byte)}
}

func (m *MockFileStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.PutFn != nil {
		if err := m.PutFn(key); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *MockFileStorage) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "file", ID: path}
	}
	return append([]byte(nil), data...), nil
}

func (m *MockFileStorage) Delete(ctx context.Context, path string) error {
	if m.DeleteFn != nil {
		if err := m.DeleteFn(path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

// Has reports whether a file is stored at path.
func (m *MockFileStorage) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}

// Len returns the number of stored files.
func (m *MockFileStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
