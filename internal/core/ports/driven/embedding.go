package driven

import (
	"context"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// EmbeddingService generates text embeddings through an external provider.
// Implementations return *domain.ProviderError for provider-side failures.
type EmbeddingService interface {
	// Embed generates one vector per input and reports total token usage.
	// An empty model uses the service default.
	Embed(ctx context.Context, texts []string, model string) (*domain.EmbeddingBatch, error)

	// Dimensions returns the embedding dimension size
	Dimensions() int

	// Model returns the default model name
	Model() string

	// MaxBatchSize returns the most inputs accepted per call
	MaxBatchSize() int

	// MaxInputTokens returns the per-input token limit
	MaxInputTokens() int

	// HealthCheck verifies the embedding service is available
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the embedding service
	Close() error
}

// EmbeddingCache caches query embeddings.
// Get returns (nil, false, nil) on a miss.
type EmbeddingCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Set(ctx context.Context, model, text string, vector []float32, ttl time.Duration) error
}
