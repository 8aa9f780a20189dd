package mocks

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

var _ driven.ChunkStore = (*MockChunkStore)(nil)

// MockChunkStore is an in-memory ChunkStore. Vector search is brute-force
// cosine similarity and text ranking is term frequency, which is enough to
// exercise the retriever's blending without a database.
type MockChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]*domain.Chunk
	order  []string // insertion order, the tie-break for equal similarity
	docs   *MockDocumentStore

	// Optional failure injection
	SaveBatchFn func(chunks []*domain.Chunk) error

	saveBatchCalls int
}

// NewMockStores creates a linked document and chunk store pair. Vector
// queries consult the document store for ownership, status and titles.
func NewMockStores() (*MockDocumentStore, *MockChunkStore) {
	docs := NewMockDocumentStore()
	chunks := &MockChunkStore{
		chunks: make(map[string]*domain.Chunk),
		docs:   docs,
	}
	docs.chunks = chunks
	return docs, chunks
}

func (m *MockChunkStore) SaveBatch(ctx context.Context, chunks []*domain.Chunk) error {
	if m.SaveBatchFn != nil {
		if err := m.SaveBatchFn(chunks); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveBatchCalls++

	for _, c := range chunks {
		for _, id := range m.order {
			existing := m.chunks[id]
			if existing.DocumentID == c.DocumentID && existing.Index == c.Index {
				return fmt.Errorf("chunk %d of document %s: %w", c.Index, c.DocumentID, domain.ErrAlreadyExists)
			}
		}
	}
	for _, c := range chunks {
		m.chunks[c.ID] = copyChunk(c)
		m.order = append(m.order, c.ID)
	}
	return nil
}

func (m *MockChunkStore) GetByDocument(ctx context.Context, documentID string, limit, offset int) ([]*domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.Chunk
	for _, id := range m.order {
		if c := m.chunks[id]; c.DocumentID == documentID {
			result = append(result, copyChunk(c))
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Index < result[j].Index })

	if offset >= len(result) {
		return []*domain.Chunk{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockChunkStore) UpdateEmbeddings(ctx context.Context, chunks []*domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		stored, ok := m.chunks[c.ID]
		if !ok {
			return &domain.NotFoundError{Resource: "chunk", ID: c.ID}
		}
		stored.Embedding = append([]float32(nil), c.Embedding...)
		stored.Metadata.Truncated = c.Metadata.Truncated
	}
	return nil
}

func (m *MockChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, id := range m.order {
		if m.chunks[id].DocumentID == documentID {
			delete(m.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

func (m *MockChunkStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (m *MockChunkStore) NearestByVector(ctx context.Context, q domain.VectorQuery) ([]*domain.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	include := toSet(q.IncludeDocIDs)
	exclude := toSet(q.ExcludeDocIDs)

	var results []*domain.ScoredChunk
	for _, id := range m.order {
		c := m.chunks[id]
		if !c.HasEmbedding() {
			continue
		}
		if len(include) > 0 && !include[c.DocumentID] {
			continue
		}
		if exclude[c.DocumentID] {
			continue
		}
		doc, err := m.docs.GetByID(ctx, c.DocumentID)
		if err != nil || doc.OwnerID != q.OwnerID || doc.Status != domain.DocumentStatusCompleted {
			continue
		}
		if len(c.Embedding) != len(q.Vector) {
			return nil, fmt.Errorf("chunk %s has %d dimensions, query has %d: %w",
				c.ID, len(c.Embedding), len(q.Vector), domain.ErrDimensionMismatch)
		}
		sim := CosineSimilarity(q.Vector, c.Embedding)
		if sim < q.MinSimilarity {
			continue
		}
		results = append(results, &domain.ScoredChunk{
			Chunk:         copyChunk(c),
			DocumentTitle: doc.Title,
			Similarity:    sim,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (m *MockChunkStore) RankByText(ctx context.Context, chunkIDs []string, terms []string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := make(map[string]float64)
	if len(terms) == 0 {
		return scores, nil
	}
	for _, id := range chunkIDs {
		c, ok := m.chunks[id]
		if !ok {
			continue
		}
		words := strings.FieldsFunc(strings.ToLower(c.Content), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(words) == 0 {
			continue
		}
		counts := make(map[string]int, len(words))
		for _, w := range words {
			counts[w]++
		}
		var score float64
		for _, t := range terms {
			score += float64(counts[t])
		}
		if score > 0 {
			scores[id] = score / float64(len(words))
		}
	}
	return scores, nil
}

// Helper methods for testing

// SaveBatchCalls returns how many times SaveBatch ran.
func (m *MockChunkStore) SaveBatchCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveBatchCalls
}

// Count returns the number of stored chunks.
func (m *MockChunkStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// CosineSimilarity returns 1 - cosine distance; zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func copyChunk(c *domain.Chunk) *domain.Chunk {
	cp := *c
	if c.Embedding != nil {
		cp.Embedding = append([]float32(nil), c.Embedding...)
	}
	return &cp
}
