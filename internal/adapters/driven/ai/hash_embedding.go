package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

// Ensure HashEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*HashEmbedding)(nil)

// DefaultHashDimensions is the vector size of the hash embedder when unset
const DefaultHashDimensions = 256

// HashEmbedding is an offline embedder for development. Each word is hashed
// into a bucket and the counts are L2-normalised, so texts sharing words
// score a positive cosine similarity. It needs no network or API key.
type HashEmbedding struct {
	dimensions int
}

// NewHashEmbedding creates a hash embedder with the given vector size
func NewHashEmbedding(dimensions int) *HashEmbedding {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedding{dimensions: dimensions}
}

func (h *HashEmbedding) Embed(ctx context.Context, texts []string, model string) (*domain.EmbeddingBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := &domain.EmbeddingBatch{Vectors: make([][]float32, len(texts))}
	for i, text := range texts {
		batch.Vectors[i] = h.vector(text)
		batch.TotalTokens += domain.EstimateTokens(text)
	}
	return batch, nil
}

func (h *HashEmbedding) vector(text string) []float32 {
	counts := make([]float64, h.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		f.Write([]byte(w))
		counts[f.Sum32()%uint32(h.dimensions)]++
	}

	var norm float64
	for _, c := range counts {
		norm += c * c
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, h.dimensions)
	if norm == 0 {
		return vec
	}
	for i, c := range counts {
		vec[i] = float32(c / norm)
	}
	return vec
}

func (h *HashEmbedding) Dimensions() int {
	return h.dimensions
}

func (h *HashEmbedding) Model() string {
	return "hash"
}

func (h *HashEmbedding) MaxBatchSize() int {
	return 1000
}

func (h *HashEmbedding) MaxInputTokens() int {
	return 8191
}

func (h *HashEmbedding) HealthCheck(ctx context.Context) error {
	return nil
}

func (h *HashEmbedding) Close() error {
	return nil
}
