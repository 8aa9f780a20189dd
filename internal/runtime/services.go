// Package runtime holds the pieces of the process that can change after
// startup, currently the embedding provider and its query cache.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

// errNoProvider is reported by Ping while no embedding provider is installed
var errNoProvider = fmt.Errorf("no embedding provider configured: %w", domain.ErrServiceUnavailable)

// Services lends the current embedding provider to the embedder. A provider
// can be swapped while requests are in flight; the replaced one is closed.
type Services struct {
	storageBackend string
	queueBackend   string

	mu       sync.RWMutex
	provider driven.EmbeddingService
	cache    driven.EmbeddingCache
}

// NewServices starts with no provider. The backend names only feed
// Capabilities.
func NewServices(storageBackend, queueBackend string) *Services {
	return &Services{storageBackend: storageBackend, queueBackend: queueBackend}
}

// EmbeddingService returns the current provider, or nil.
func (s *Services) EmbeddingService() driven.EmbeddingService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// EmbeddingCache returns the query embedding cache, or nil.
func (s *Services) EmbeddingCache() driven.EmbeddingCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// SetEmbeddingCache installs the query embedding cache
func (s *Services) SetEmbeddingCache(cache driven.EmbeddingCache) {
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
}

// SetEmbeddingService installs svc without checking it. nil removes the
// provider. The previous provider is closed unless it is svc.
func (s *Services) SetEmbeddingService(svc driven.EmbeddingService) {
	s.mu.Lock()
	old := s.provider
	s.provider = svc
	s.mu.Unlock()

	if old != nil && old != svc {
		_ = old.Close()
	}
}

// ValidateAndSetEmbedding installs svc once it answers a health check and
// produces vectors as wide as the store's column. A rejected svc is closed
// and the current provider is left in place. dimensions <= 0 skips the
// width check.
func (s *Services) ValidateAndSetEmbedding(ctx context.Context, svc driven.EmbeddingService, dimensions int) error {
	if svc == nil {
		s.SetEmbeddingService(nil)
		return nil
	}

	if dimensions > 0 && svc.Dimensions() != dimensions {
		_ = svc.Close()
		return fmt.Errorf("provider %s has %d dimensions, store has %d: %w",
			svc.Model(), svc.Dimensions(), dimensions, domain.ErrDimensionMismatch)
	}
	if err := svc.HealthCheck(ctx); err != nil {
		_ = svc.Close()
		return fmt.Errorf("provider %s health check: %w", svc.Model(), err)
	}

	s.SetEmbeddingService(svc)
	return nil
}

// Capabilities describes what the process can currently serve.
func (s *Services) Capabilities() domain.Capabilities {
	caps := domain.Capabilities{
		StorageBackend: s.storageBackend,
		QueueBackend:   s.queueBackend,
	}
	if p := s.EmbeddingService(); p != nil {
		caps.EmbeddingModel = p.Model()
		caps.Dimensions = p.Dimensions()
	}
	return caps
}

// Ping health-checks the current provider.
func (s *Services) Ping(ctx context.Context) error {
	p := s.EmbeddingService()
	if p == nil {
		return errNoProvider
	}
	return p.HealthCheck(ctx)
}

// Close closes and removes the provider.
func (s *Services) Close() error {
	s.mu.Lock()
	p := s.provider
	s.provider = nil
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Close()
}
