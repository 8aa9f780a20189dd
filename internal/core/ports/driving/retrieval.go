package driving

import (
	"context"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// RetrievalService answers similarity queries over embedded chunks
type RetrievalService interface {
	// SemanticSearch ranks chunks by vector similarity to the query
	SemanticSearch(ctx context.Context, query, ownerID string, opts domain.SearchOptions) ([]*domain.SearchHit, error)

	// HybridSearch blends vector similarity with lexical rank
	HybridSearch(ctx context.Context, query, ownerID string, opts domain.HybridOptions) ([]*domain.SearchHit, error)

	// GetDocumentContext builds an attributed context block for a conversation
	GetDocumentContext(ctx context.Context, query, ownerID string, opts domain.ContextOptions) (*domain.DocumentContext, error)

	// FindSimilarDocuments ranks other documents by similarity to a document's centroid
	FindSimilarDocuments(ctx context.Context, documentID, ownerID string, limit int) ([]*domain.SimilarDocument, error)

	// EstimateCost prices embedding texts without calling the provider
	EstimateCost(texts []string, model string) *domain.CostEstimate
}
