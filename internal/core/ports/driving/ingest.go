package driving

import (
	"context"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// IngestService runs documents through extraction, chunking and embedding
type IngestService interface {
	// ProcessDocument ingests a document synchronously. Failures after the
	// document is created are reported in the result, not as an error.
	ProcessDocument(ctx context.Context, req *domain.IngestRequest) (*domain.ProcessResult, error)

	// SubmitDocument stores and records a document, then queues it for processing
	SubmitDocument(ctx context.Context, req *domain.IngestRequest) (*domain.ProcessResult, error)

	// ProcessPending runs the pipeline for a document created by SubmitDocument
	ProcessPending(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error)

	// ReprocessDocument embeds chunks that lack a vector, or all chunks when force is set
	ReprocessDocument(ctx context.Context, documentID, ownerID string, force bool) (*domain.ReprocessResult, error)

	// EnqueueReprocess queues a reprocess task for the worker
	EnqueueReprocess(ctx context.Context, documentID, ownerID string, force bool) (*domain.Task, error)
}
