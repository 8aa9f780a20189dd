package ai

import (
	"fmt"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

// Embedding providers
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock" // Offline hash embedder
)

// Settings selects and configures an embedding provider
type Settings struct {
	Provider     string
	APIKey       string
	Model        string
	BaseURL      string
	Dimensions   int
	MaxBatchSize int
	Timeout      time.Duration
}

// IsConfigured reports whether a provider was chosen
func (s Settings) IsConfigured() bool {
	return s.Provider != ""
}

// Factory creates embedding services based on configuration
type Factory struct{}

// NewFactory creates a new AI service factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateEmbeddingService creates an embedding service from settings.
// It returns nil, nil when no provider is configured.
func (f *Factory) CreateEmbeddingService(settings Settings) (driven.EmbeddingService, error) {
	if !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case ProviderOpenAI:
		svc, err := NewOpenAIEmbedding(OpenAIConfig{
			APIKey:       settings.APIKey,
			Model:        settings.Model,
			BaseURL:      settings.BaseURL,
			Dimensions:   settings.Dimensions,
			MaxBatchSize: settings.MaxBatchSize,
			Timeout:      settings.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil
	case ProviderMock:
		return NewHashEmbedding(settings.Dimensions), nil
	default:
		return nil, domain.NewValidationError("embedding_provider", fmt.Sprintf("unknown provider %q", settings.Provider))
	}
}
