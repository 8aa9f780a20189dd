package driven

import (
	"context"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// DocumentStore handles document persistence (PostgreSQL).
// Every owner-scoped lookup reports a missing row or an owner mismatch as
// domain.ErrNotFound.
type DocumentStore interface {
	// Create inserts a new document. A second document with the same
	// (owner, content hash) returns domain.ErrAlreadyExists.
	Create(ctx context.Context, doc *domain.Document) error

	// Get retrieves a document by ID within an owner's scope
	Get(ctx context.Context, id, ownerID string) (*domain.Document, error)

	// GetByID retrieves a document by ID regardless of owner (worker use)
	GetByID(ctx context.Context, id string) (*domain.Document, error)

	// GetByHash retrieves the owner's document with the given content hash
	GetByHash(ctx context.Context, ownerID, contentHash string) (*domain.Document, error)

	// List returns one page of the owner's documents, newest first, and the total match count
	List(ctx context.Context, ownerID string, filter domain.DocumentFilter) ([]*domain.Document, int, error)

	// Update changes the user-editable fields
	Update(ctx context.Context, id, ownerID string, update domain.DocumentUpdate) (*domain.Document, error)

	// UpdateStatus moves a document to a new status, recording errMsg for failures
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error

	// Complete marks a document completed with its persisted chunk count
	Complete(ctx context.Context, id string, chunkCount int) error

	// Delete deletes a document; chunks cascade
	Delete(ctx context.Context, id, ownerID string) error

	// Stats aggregates the owner's documents
	Stats(ctx context.Context, ownerID string) (*domain.DocumentStats, error)

	// FailStale marks pending/processing documents not updated since cutoff as failed.
	// Returns the number of documents reclassified.
	FailStale(ctx context.Context, cutoff time.Time, errMsg string) (int, error)
}

// ChunkStore handles chunk persistence and the two retrieval primitives (PostgreSQL + pgvector)
type ChunkStore interface {
	// SaveBatch inserts chunks in a single transaction
	SaveBatch(ctx context.Context, chunks []*domain.Chunk) error

	// GetByDocument retrieves a document's chunks ordered by index.
	// A limit of 0 returns all chunks.
	GetByDocument(ctx context.Context, documentID string, limit, offset int) ([]*domain.Chunk, error)

	// UpdateEmbeddings writes each chunk's Embedding in place
	UpdateEmbeddings(ctx context.Context, chunks []*domain.Chunk) error

	// DeleteByDocument deletes all chunks for a document
	DeleteByDocument(ctx context.Context, documentID string) error

	// CountByDocument returns the number of chunk rows for a document
	CountByDocument(ctx context.Context, documentID string) (int, error)

	// NearestByVector returns embedded chunks of the owner's completed documents
	// with similarity (1 - cosine distance) >= MinSimilarity, ordered by
	// similarity descending. Ties keep chunk creation order.
	NearestByVector(ctx context.Context, query domain.VectorQuery) ([]*domain.ScoredChunk, error)

	// RankByText scores the given chunks against lexical terms.
	// Chunks without a match are absent from the result.
	RankByText(ctx context.Context, chunkIDs []string, terms []string) (map[string]float64, error)
}
