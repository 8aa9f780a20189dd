package driving

import (
	"context"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// DocumentService manages an owner's documents
type DocumentService interface {
	// ListUserDocuments returns one page of the owner's documents, newest first
	ListUserDocuments(ctx context.Context, ownerID string, filter domain.DocumentFilter) (*domain.DocumentPage, error)

	// GetDocumentByID retrieves a document. Documents of other owners are not found.
	GetDocumentByID(ctx context.Context, id, ownerID string) (*domain.Document, error)

	// UpdateDocument changes the user-editable fields of a document
	UpdateDocument(ctx context.Context, id, ownerID string, update domain.DocumentUpdate) (*domain.Document, error)

	// DeleteDocument removes a document, its chunks and its stored file
	DeleteDocument(ctx context.Context, id, ownerID string) error

	// GetDocumentChunks returns a document's chunks ordered by index
	GetDocumentChunks(ctx context.Context, id, ownerID string, limit, offset int) ([]*domain.Chunk, error)

	// GetUserDocumentStats aggregates the owner's documents
	GetUserDocumentStats(ctx context.Context, ownerID string) (*domain.DocumentStats, error)
}
