package mocks

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

var _ driven.EmbeddingService = (*MockEmbeddingService)(nil)

// MockEmbeddingService is a mock implementation of EmbeddingService for testing.
// Vectors are deterministic per text unless overridden with SetVector.
type MockEmbeddingService struct {
	mu             sync.Mutex
	dimensions     int
	model          string
	maxBatchSize   int
	maxInputTokens int
	vectors        map[string][]float32

	// failures queued for the next calls, consumed in order
	failures []error
	calls    int
	inputs   [][]string

	// EmbedFn overrides Embed entirely when set
	EmbedFn func(texts []string, model string) (*domain.EmbeddingBatch, error)
}

// NewMockEmbeddingService creates a new MockEmbeddingService
func NewMockEmbeddingService() *MockEmbeddingService {
	return &MockEmbeddingService{
		dimensions:     8,
		model:          "mock-embedding-model",
		maxBatchSize:   100,
		maxInputTokens: 8191,
		vectors:        make(map[string][]float32),
	}
}

func (m *MockEmbeddingService) Embed(ctx context.Context, texts []string, model string) (*domain.EmbeddingBatch, error) {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, append([]string(nil), texts...))
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		m.mu.Unlock()
		return nil, err
	}
	fn := m.EmbedFn
	m.mu.Unlock()

	if fn != nil {
		return fn(texts, model)
	}

	batch := &domain.EmbeddingBatch{Vectors: make([][]float32, len(texts))}
	for i, text := range texts {
		batch.Vectors[i] = m.vectorFor(text)
		batch.TotalTokens += domain.EstimateTokens(text)
	}
	return batch, nil
}

func (m *MockEmbeddingService) Dimensions() int {
	return m.dimensions
}

func (m *MockEmbeddingService) Model() string {
	return m.model
}

func (m *MockEmbeddingService) MaxBatchSize() int {
	return m.maxBatchSize
}

func (m *MockEmbeddingService) MaxInputTokens() int {
	return m.maxInputTokens
}

func (m *MockEmbeddingService) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockEmbeddingService) Close() error {
	return nil
}

func (m *MockEmbeddingService) vectorFor(text string) []float32 {
	m.mu.Lock()
	v, ok := m.vectors[text]
	m.mu.Unlock()
	if ok {
		return append([]float32(nil), v...)
	}
	return HashEmbedding(text, m.dimensions)
}

// HashEmbedding generates a deterministic embedding based on text hash
func HashEmbedding(text string, dimensions int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	embedding := make([]float32, dimensions)
	for i := range embedding {
		seed = seed*1103515245 + 12345
		embedding[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return embedding
}

// Helper methods for testing

// FailNext queues errors returned by the next Embed calls, one per call.
func (m *MockEmbeddingService) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// SetVector pins the vector returned for text.
func (m *MockEmbeddingService) SetVector(text string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vector
}

func (m *MockEmbeddingService) SetDimensions(dim int) {
	m.dimensions = dim
}

func (m *MockEmbeddingService) SetModel(model string) {
	m.model = model
}

func (m *MockEmbeddingService) SetLimits(maxBatchSize, maxInputTokens int) {
	m.maxBatchSize = maxBatchSize
	m.maxInputTokens = maxInputTokens
}

// Calls returns the number of Embed invocations.
func (m *MockEmbeddingService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inputs returns the texts passed to each Embed call.
func (m *MockEmbeddingService) Inputs() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.inputs...)
}

var _ driven.Clock = (*MockClock)(nil)

// MockClock records sleeps instead of waiting.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewMockClock creates a clock starting at a fixed instant.
func NewMockClock() *MockClock {
	return &MockClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock without blocking. A cancelled context still wins.
func (c *MockClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Sleeps returns every duration slept, in order.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
