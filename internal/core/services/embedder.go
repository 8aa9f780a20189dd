package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
	"github.com/lordmuffin/ThinkPod/internal/runtime"
)

// Embedder defaults
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
	DefaultBatchPause    = 100 * time.Millisecond
	DefaultCacheTTL      = 24 * time.Hour
)

// embeddingPrices is USD per 1K tokens
var embeddingPrices = map[string]float64{
	"text-embedding-3-small": 0.00002,
	"text-embedding-3-large": 0.00013,
	"text-embedding-ada-002": 0.0001,
}

// Embedder turns chunk text and queries into vectors through the current
// embedding provider. It owns batching, truncation, retries and cost.
type Embedder struct {
	services      *runtime.Services
	clock         driven.Clock
	logger        *slog.Logger
	retryAttempts int
	retryDelay    time.Duration
	batchPause    time.Duration
	cacheTTL      time.Duration
}

// EmbedderConfig holds dependencies for Embedder.
type EmbedderConfig struct {
	Services      *runtime.Services // Provides the embedding service and optional cache
	Clock         driven.Clock      // Default: SystemClock
	Logger        *slog.Logger
	RetryAttempts int           // Default: 3
	RetryDelay    time.Duration // Default: 1s, multiplied by the attempt number
	BatchPause    time.Duration // Default: 100ms between batches; negative disables
	CacheTTL      time.Duration // Default: 24h
}

// NewEmbedder creates a new Embedder.
func NewEmbedder(cfg EmbedderConfig) *Embedder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	e := &Embedder{
		services:      cfg.Services,
		clock:         clock,
		logger:        logger,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		batchPause:    cfg.BatchPause,
		cacheTTL:      cfg.CacheTTL,
	}
	if e.retryAttempts <= 0 {
		e.retryAttempts = DefaultRetryAttempts
	}
	if e.retryDelay <= 0 {
		e.retryDelay = DefaultRetryDelay
	}
	if e.batchPause == 0 {
		e.batchPause = DefaultBatchPause
	}
	if e.cacheTTL <= 0 {
		e.cacheTTL = DefaultCacheTTL
	}
	return e
}

func (e *Embedder) provider() (driven.EmbeddingService, error) {
	if e.services == nil {
		return nil, fmt.Errorf("embedding provider not configured: %w", domain.ErrServiceUnavailable)
	}
	svc := e.services.EmbeddingService()
	if svc == nil {
		return nil, fmt.Errorf("embedding provider not configured: %w", domain.ErrServiceUnavailable)
	}
	return svc, nil
}

// Available reports whether an embedding provider is configured
func (e *Embedder) Available() bool {
	_, err := e.provider()
	return err == nil
}

func (e *Embedder) policy(opts domain.EmbedOptions) RetryPolicy {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = e.retryAttempts
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = e.retryDelay
	}
	return RetryPolicy{MaxAttempts: attempts, Backoff: LinearBackoff(delay), Clock: e.clock}
}

// GenerateEmbeddings embeds texts in sequential batches. Either every text
// gets a vector or the call fails; no partial result is returned.
func (e *Embedder) GenerateEmbeddings(ctx context.Context, texts []string, opts domain.EmbedOptions) (*domain.EmbeddingResult, error) {
	start := e.clock.Now()

	svc, err := e.provider()
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = svc.Model()
	}
	result := &domain.EmbeddingResult{
		Embeddings: make([][]float32, 0, len(texts)),
		Model:      model,
	}
	if len(texts) == 0 {
		return result, nil
	}

	batchSize := svc.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if opts.BatchSize > 0 && opts.BatchSize < batchSize {
		batchSize = opts.BatchSize
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		var truncated bool
		inputs[i], truncated = e.truncate(text, svc.MaxInputTokens())
		if truncated {
			result.Truncated = append(result.Truncated, i)
			e.logger.Warn("embedding input truncated",
				"index", i,
				"estimated_tokens", domain.EstimateTokens(text),
				"max_tokens", svc.MaxInputTokens(),
			)
		}
	}

	policy := e.policy(opts)
	for offset := 0; offset < len(inputs); offset += batchSize {
		if offset > 0 && e.batchPause > 0 {
			if err := e.clock.Sleep(ctx, e.batchPause); err != nil {
				return nil, err
			}
		}

		end := offset + batchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		batch, err := e.embedBatch(ctx, svc, policy, inputs[offset:end], model)
		if err != nil {
			return nil, err
		}

		result.Embeddings = append(result.Embeddings, batch.Vectors...)
		result.TotalTokens += batch.TotalTokens
	}

	result.Cost = e.cost(model, result.TotalTokens)
	result.ProcessingTime = e.clock.Now().Sub(start)

	e.logger.Debug("generated embeddings",
		"count", len(result.Embeddings),
		"total_tokens", result.TotalTokens,
		"model", model,
	)
	return result, nil
}

// embedBatch runs one provider call under the retry policy and validates
// the response shape.
func (e *Embedder) embedBatch(ctx context.Context, svc driven.EmbeddingService, policy RetryPolicy, inputs []string, model string) (*domain.EmbeddingBatch, error) {
	var batch *domain.EmbeddingBatch
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		b, err := svc.Embed(ctx, inputs, model)
		if err != nil {
			e.logger.Warn("embedding batch failed", "size", len(inputs), "error", err)
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, providerFailure(ctx, err, attempts)
	}

	if len(batch.Vectors) != len(inputs) {
		return nil, fmt.Errorf("provider returned %d vectors for %d inputs: %w",
			len(batch.Vectors), len(inputs), domain.ErrDimensionMismatch)
	}
	if dims := svc.Dimensions(); dims > 0 {
		for i, v := range batch.Vectors {
			if len(v) != dims {
				return nil, fmt.Errorf("vector %d has %d dimensions, want %d: %w",
					i, len(v), dims, domain.ErrDimensionMismatch)
			}
		}
	}
	if batch.TotalTokens == 0 {
		for _, in := range inputs {
			batch.TotalTokens += domain.EstimateTokens(in)
		}
	}
	return batch, nil
}

// providerFailure reports the last error as a ProviderError carrying the
// attempt count. Cancellation is passed through unchanged.
func providerFailure(ctx context.Context, err error, attempts int) error {
	if ctx.Err() != nil {
		return fmt.Errorf("embedding cancelled: %w", ctx.Err())
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		failed := *pe
		failed.Attempts = attempts
		return &failed
	}
	return &domain.ProviderError{
		Kind:      domain.ProviderErrorGeneric,
		Retryable: domain.IsRetryable(err),
		Attempts:  attempts,
		Err:       err,
	}
}

// GenerateQueryEmbedding embeds a single search query. Results are served
// from the embedding cache when one is configured.
func (e *Embedder) GenerateQueryEmbedding(ctx context.Context, query, model string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyInput
	}

	svc, err := e.provider()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = svc.Model()
	}

	input, truncated := e.truncate(query, svc.MaxInputTokens())
	if truncated {
		e.logger.Warn("query truncated for embedding", "max_tokens", svc.MaxInputTokens())
	}

	cache := e.services.EmbeddingCache()
	if cache != nil {
		vec, ok, err := cache.Get(ctx, model, input)
		if err != nil {
			e.logger.Warn("embedding cache lookup failed", "error", err)
		} else if ok {
			return vec, nil
		}
	}

	batch, err := e.embedBatch(ctx, svc, e.policy(domain.EmbedOptions{}), []string{input}, model)
	if err != nil {
		return nil, err
	}
	vec := batch.Vectors[0]

	if cache != nil {
		if err := cache.Set(ctx, model, input, vec, e.cacheTTL); err != nil {
			e.logger.Warn("embedding cache store failed", "error", err)
		}
	}
	return vec, nil
}

// EstimateCost prices texts with the token heuristic, without a provider call.
func (e *Embedder) EstimateCost(texts []string, model string) *domain.CostEstimate {
	if model == "" {
		if svc, err := e.provider(); err == nil {
			model = svc.Model()
		}
	}

	tokens := 0
	for _, text := range texts {
		tokens += domain.EstimateTokens(text)
	}
	return &domain.CostEstimate{
		Chunks: len(texts),
		Tokens: tokens,
		Cost:   e.cost(model, tokens),
		Model:  model,
	}
}

// Dimensions returns the current provider's vector size, or 0 without one
func (e *Embedder) Dimensions() int {
	svc, err := e.provider()
	if err != nil {
		return 0
	}
	return svc.Dimensions()
}

func (e *Embedder) cost(model string, tokens int) float64 {
	rate, ok := embeddingPrices[model]
	if !ok {
		e.logger.Warn("no price for embedding model, reporting zero cost", "model", model)
		return 0
	}
	return float64(tokens) / 1000 * rate
}

// truncate cuts text to maxTokens*4 runes when its estimate exceeds maxTokens
func (e *Embedder) truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || domain.EstimateTokens(text) <= maxTokens {
		return text, false
	}
	return string([]rune(text)[:maxTokens*4]), true
}
