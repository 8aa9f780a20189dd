package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/lordmuffin/ThinkPod/internal/chunker"
	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driving"
	"github.com/lordmuffin/ThinkPod/internal/extractor"
)

// Ensure Orchestrator implements IngestService
var _ driving.IngestService = (*Orchestrator)(nil)

// Orchestrator coordinates the ingestion pipeline:
//  1. Validate the request
//  2. Hash the bytes and short-circuit duplicates
//  3. Store the file
//  4. Create the document row (pending)
//  5. Extract text (processing)
//  6. Chunk
//  7. Embed, when requested
//  8. Persist chunks and mark the document completed
//
// Once the document row exists, failures are recorded on the document and
// reported in the result rather than returned as errors.
type Orchestrator struct {
	documentStore driven.DocumentStore
	chunkStore    driven.ChunkStore
	fileStorage   driven.FileStorage
	taskQueue     driven.TaskQueue
	embedder      *Embedder
	logger        *slog.Logger
}

// OrchestratorConfig holds dependencies for Orchestrator.
type OrchestratorConfig struct {
	DocumentStore driven.DocumentStore
	ChunkStore    driven.ChunkStore
	FileStorage   driven.FileStorage
	TaskQueue     driven.TaskQueue // Optional; required by the async paths
	Embedder      *Embedder
	Logger        *slog.Logger
}

// NewOrchestrator creates a new ingestion orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		documentStore: cfg.DocumentStore,
		chunkStore:    cfg.ChunkStore,
		fileStorage:   cfg.FileStorage,
		taskQueue:     cfg.TaskQueue,
		embedder:      cfg.Embedder,
		logger:        logger,
	}
}

// ProcessDocument ingests a document synchronously.
func (o *Orchestrator) ProcessDocument(ctx context.Context, req *domain.IngestRequest) (*domain.ProcessResult, error) {
	startTime := time.Now()

	opts, err := o.prepare(req)
	if err != nil {
		return nil, err
	}

	doc, duplicate, err := o.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return duplicateResult(doc, startTime), nil
	}

	return o.runPipeline(ctx, doc, req.Content, opts, startTime), nil
}

// SubmitDocument stores and records a document, then queues it for a worker.
// The returned document is still pending.
func (o *Orchestrator) SubmitDocument(ctx context.Context, req *domain.IngestRequest) (*domain.ProcessResult, error) {
	startTime := time.Now()

	if o.taskQueue == nil {
		return nil, fmt.Errorf("task queue not configured: %w", domain.ErrServiceUnavailable)
	}

	opts, err := o.prepare(req)
	if err != nil {
		return nil, err
	}

	doc, duplicate, err := o.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return duplicateResult(doc, startTime), nil
	}

	task := domain.NewProcessDocumentTask(doc.OwnerID, doc.ID, opts.GenerateEmbeddings)
	if err := o.taskQueue.Enqueue(ctx, task); err != nil {
		o.markFailed(ctx, doc, fmt.Sprintf("enqueue failed: %v", err))
		return nil, fmt.Errorf("enqueue document: %w", err)
	}

	o.logger.Info("document queued",
		"document_id", doc.ID,
		"owner_id", doc.OwnerID,
		"task_id", task.ID,
	)

	return &domain.ProcessResult{
		Success:        true,
		Document:       doc,
		ProcessingTime: time.Since(startTime),
	}, nil
}

// ProcessPending runs the pipeline for a document created by SubmitDocument.
// Terminal documents are reported as they stand. A document left in
// processing by a crashed attempt has its partial chunks removed first.
func (o *Orchestrator) ProcessPending(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error) {
	startTime := time.Now()

	doc, err := o.documentStore.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	switch doc.Status {
	case domain.DocumentStatusCompleted:
		return &domain.ProcessResult{Success: true, Document: doc, ProcessingTime: time.Since(startTime)}, nil
	case domain.DocumentStatusFailed:
		return &domain.ProcessResult{Success: false, Document: doc, Error: doc.Error, ProcessingTime: time.Since(startTime)}, nil
	case domain.DocumentStatusProcessing:
		o.logger.Warn("resuming interrupted document", "document_id", doc.ID)
		if err := o.chunkStore.DeleteByDocument(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("clear partial chunks: %w", err)
		}
	}

	opts = withDefaultChunking(opts)
	if err := chunker.Validate(opts.Chunk); err != nil {
		return nil, err
	}

	content, err := o.fileStorage.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("read stored file: %w", err)
	}

	return o.runPipeline(ctx, doc, content, opts, startTime), nil
}

// ReprocessDocument embeds the chunks that lack a vector, or every chunk when
// force is set. The document status is left alone.
func (o *Orchestrator) ReprocessDocument(ctx context.Context, documentID, ownerID string, force bool) (*domain.ReprocessResult, error) {
	doc, err := o.documentStore.Get(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	if doc.Status != domain.DocumentStatusCompleted && !force {
		return nil, domain.NewValidationError("status",
			fmt.Sprintf("document is %s; only completed documents can be reprocessed without force", doc.Status))
	}

	chunks, err := o.chunkStore.GetByDocument(ctx, documentID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	var selected []*domain.Chunk
	for _, c := range chunks {
		if force || !c.HasEmbedding() {
			selected = append(selected, c)
		}
	}

	result := &domain.ReprocessResult{DocumentID: documentID}
	if len(selected) == 0 {
		return result, nil
	}

	texts := make([]string, len(selected))
	for i, c := range selected {
		texts[i] = c.Content
	}

	embedded, err := o.embedder.GenerateEmbeddings(ctx, texts, domain.EmbedOptions{})
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	applyEmbeddings(selected, embedded)

	if err := o.chunkStore.UpdateEmbeddings(ctx, selected); err != nil {
		return nil, fmt.Errorf("update embeddings: %w", err)
	}

	result.UpdatedChunks = len(selected)
	result.TotalTokens = embedded.TotalTokens
	result.Cost = embedded.Cost

	o.logger.Info("document reprocessed",
		"document_id", documentID,
		"updated_chunks", result.UpdatedChunks,
		"total_tokens", result.TotalTokens,
		"force", force,
	)
	return result, nil
}

// EnqueueReprocess queues a reprocess task for the worker.
func (o *Orchestrator) EnqueueReprocess(ctx context.Context, documentID, ownerID string, force bool) (*domain.Task, error) {
	if o.taskQueue == nil {
		return nil, fmt.Errorf("task queue not configured: %w", domain.ErrServiceUnavailable)
	}
	if _, err := o.documentStore.Get(ctx, documentID, ownerID); err != nil {
		return nil, err
	}

	// The queue hands back the active task when one already covers this document
	task := domain.NewReprocessDocumentTask(ownerID, documentID, force)
	if err := o.taskQueue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue reprocess: %w", err)
	}
	o.logger.Info("reprocess queued",
		"document_id", documentID,
		"task_id", task.ID,
		"task_status", task.Status,
		"force", force,
	)
	return task, nil
}

// prepare validates the request and resolves its processing options.
func (o *Orchestrator) prepare(req *domain.IngestRequest) (domain.ProcessOptions, error) {
	if req == nil {
		return domain.ProcessOptions{}, domain.NewValidationError("request", "is required")
	}
	if err := validateIngestRequest(req); err != nil {
		return domain.ProcessOptions{}, err
	}

	opts := withDefaultChunking(req.Options)
	if err := chunker.Validate(opts.Chunk); err != nil {
		return domain.ProcessOptions{}, err
	}
	return opts, nil
}

func validateIngestRequest(req *domain.IngestRequest) error {
	return validationFailure(validation.ValidateStruct(req,
		validation.Field(&req.OwnerID, validation.Required),
		validation.Field(&req.OriginalName, validation.Required, validation.Length(1, 255)),
		validation.Field(&req.FileType, validation.Required),
		validation.Field(&req.Size, validation.Min(int64(0))),
		validation.Field(&req.Title, validation.Length(0, 255)),
		validation.Field(&req.Content, validation.Required),
	))
}

// withDefaultChunking fills unset chunk options with the defaults.
func withDefaultChunking(opts domain.ProcessOptions) domain.ProcessOptions {
	if opts.Chunk == (domain.ChunkOptions{}) {
		opts.Chunk = domain.DefaultChunkOptions()
	}
	return opts
}

// admit hashes and stores the upload and creates its document row. It
// reports duplicate=true with the existing document when the owner already
// has the same bytes, including when a concurrent upload wins the insert.
// A failed document with the same bytes is replaced, so resubmitting is the
// way to retry a failed ingest.
func (o *Orchestrator) admit(ctx context.Context, req *domain.IngestRequest) (*domain.Document, bool, error) {
	hash := ContentHash(req.Content)
	key := StorageKey(req.OwnerID, hash, req.OriginalName)

	existing, err := o.documentStore.GetByHash(ctx, req.OwnerID, hash)
	switch {
	case err == nil && existing.Status == domain.DocumentStatusFailed:
		if err := o.replaceFailed(ctx, existing, key); err != nil {
			return nil, false, err
		}
	case err == nil:
		o.logger.Info("duplicate upload", "document_id", existing.ID, "owner_id", req.OwnerID)
		return existing, true, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("lookup by hash: %w", err)
	}

	storagePath, err := o.fileStorage.Put(ctx, key, req.Content, req.FileType)
	if err != nil {
		return nil, false, fmt.Errorf("store file: %w", err)
	}

	size := req.Size
	if size == 0 {
		size = int64(len(req.Content))
	}
	doc := domain.NewDocument(req.OwnerID, req.OriginalName, req.FileType, size, hash, req.Title)
	doc.StoragePath = storagePath

	if err := o.documentStore.Create(ctx, doc); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, getErr := o.documentStore.GetByHash(ctx, req.OwnerID, hash)
			if getErr == nil {
				return existing, true, nil
			}
		}
		if delErr := o.fileStorage.Delete(ctx, storagePath); delErr != nil {
			o.logger.Warn("failed to remove orphaned file", "path", storagePath, "error", delErr)
		}
		return nil, false, fmt.Errorf("create document: %w", err)
	}

	return doc, false, nil
}

// replaceFailed removes a failed document ahead of a resubmission of the same
// bytes. Its file is kept when the new upload will reuse the key.
func (o *Orchestrator) replaceFailed(ctx context.Context, failed *domain.Document, key string) error {
	o.logger.Info("resubmitting failed document",
		"document_id", failed.ID,
		"owner_id", failed.OwnerID,
		"previous_error", failed.Error,
	)
	if err := o.documentStore.Delete(ctx, failed.ID, failed.OwnerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("remove failed document: %w", err)
	}
	if failed.StoragePath != "" && failed.StoragePath != key {
		if err := o.fileStorage.Delete(ctx, failed.StoragePath); err != nil {
			o.logger.Warn("failed to remove file of failed document", "path", failed.StoragePath, "error", err)
		}
	}
	return nil
}

// runPipeline takes a created document through extraction, chunking and
// embedding to completion. It never returns an error: failures are recorded
// on the document.
func (o *Orchestrator) runPipeline(ctx context.Context, doc *domain.Document, content []byte, opts domain.ProcessOptions, startTime time.Time) *domain.ProcessResult {
	if err := o.documentStore.UpdateStatus(ctx, doc.ID, domain.DocumentStatusProcessing, ""); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return o.superseded(ctx, doc, startTime, err)
		}
		return o.fail(ctx, doc, startTime, fmt.Errorf("mark processing: %w", err))
	}
	doc.Status = domain.DocumentStatusProcessing

	format, err := extractor.ParseFormat(doc.FileType, doc.OriginalName)
	if err != nil {
		return o.fail(ctx, doc, startTime, err)
	}

	extraction, err := extractor.Extract(content, format, opts.Extract)
	if err != nil {
		return o.fail(ctx, doc, startTime, fmt.Errorf("extract text: %w", err))
	}

	pieces, err := chunker.Chunk(extraction.Content, opts.Chunk)
	if err != nil {
		return o.fail(ctx, doc, startTime, fmt.Errorf("chunk text: %w", err))
	}
	if len(pieces) == 0 {
		return o.fail(ctx, doc, startTime, domain.ErrChunkingFailed)
	}

	now := time.Now()
	chunks := make([]*domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &domain.Chunk{
			ID:         domain.GenerateID(),
			DocumentID: doc.ID,
			Index:      p.Index,
			Content:    p.Content,
			TokenCount: p.TokenCount,
			Metadata:   p.Metadata,
			CreatedAt:  now,
		}
	}

	result := &domain.ProcessResult{Document: doc}

	if opts.GenerateEmbeddings {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		embedded, err := o.embedder.GenerateEmbeddings(ctx, texts, opts.Embed)
		if err != nil {
			return o.fail(ctx, doc, startTime, fmt.Errorf("generate embeddings: %w", err))
		}
		applyEmbeddings(chunks, embedded)
		result.TotalTokens = embedded.TotalTokens
		result.EmbeddingCost = embedded.Cost
	}

	if err := o.chunkStore.SaveBatch(ctx, chunks); err != nil {
		return o.fail(ctx, doc, startTime, fmt.Errorf("save chunks: %w", err))
	}

	if err := o.documentStore.Complete(ctx, doc.ID, len(chunks)); err != nil {
		if delErr := o.chunkStore.DeleteByDocument(context.WithoutCancel(ctx), doc.ID); delErr != nil {
			o.logger.Error("failed to remove chunks of incomplete document", "document_id", doc.ID, "error", delErr)
		}
		if errors.Is(err, domain.ErrStatusConflict) {
			return o.superseded(ctx, doc, startTime, err)
		}
		return o.fail(ctx, doc, startTime, fmt.Errorf("complete document: %w", err))
	}

	doc.Status = domain.DocumentStatusCompleted
	doc.ChunkCount = len(chunks)
	doc.Error = ""
	doc.ProcessedAt = &now

	result.Success = true
	result.Chunks = chunks
	result.ProcessingTime = time.Since(startTime)

	o.logger.Info("document processed",
		"document_id", doc.ID,
		"owner_id", doc.OwnerID,
		"format", format,
		"chunk_count", len(chunks),
		"total_tokens", result.TotalTokens,
		"duration", result.ProcessingTime,
	)
	return result
}

// fail records err on the document and builds the failed result.
func (o *Orchestrator) fail(ctx context.Context, doc *domain.Document, startTime time.Time, err error) *domain.ProcessResult {
	msg := err.Error()
	o.logger.Warn("document processing failed", "document_id", doc.ID, "error", err)
	o.markFailed(ctx, doc, msg)

	return &domain.ProcessResult{
		Success:        false,
		Document:       doc,
		Error:          msg,
		ProcessingTime: time.Since(startTime),
	}
}

// superseded reports a document whose status moved on while the pipeline
// ran, usually failed by the watchdog. The stored status stands.
func (o *Orchestrator) superseded(ctx context.Context, doc *domain.Document, startTime time.Time, cause error) *domain.ProcessResult {
	o.logger.Warn("document status changed during processing", "document_id", doc.ID, "error", cause)
	o.reload(ctx, doc)

	msg := doc.Error
	if msg == "" {
		msg = cause.Error()
	}
	return &domain.ProcessResult{
		Success:        false,
		Document:       doc,
		Error:          msg,
		ProcessingTime: time.Since(startTime),
	}
}

// markFailed persists the failure even if ctx has been cancelled. A document
// that already finished keeps its stored status.
func (o *Orchestrator) markFailed(ctx context.Context, doc *domain.Document, msg string) {
	err := o.documentStore.UpdateStatus(context.WithoutCancel(ctx), doc.ID, domain.DocumentStatusFailed, msg)
	if errors.Is(err, domain.ErrStatusConflict) {
		o.logger.Warn("document already finished", "document_id", doc.ID, "error", err)
		o.reload(ctx, doc)
		return
	}
	if err != nil {
		o.logger.Error("failed to record document failure", "document_id", doc.ID, "error", err)
	}
	doc.Status = domain.DocumentStatusFailed
	doc.Error = msg
}

// reload replaces doc with its stored state.
func (o *Orchestrator) reload(ctx context.Context, doc *domain.Document) {
	stored, err := o.documentStore.GetByID(context.WithoutCancel(ctx), doc.ID)
	if err != nil {
		o.logger.Error("failed to reload document", "document_id", doc.ID, "error", err)
		return
	}
	*doc = *stored
}

func applyEmbeddings(chunks []*domain.Chunk, embedded *domain.EmbeddingResult) {
	for i, c := range chunks {
		c.Embedding = embedded.Embeddings[i]
	}
	for _, i := range embedded.Truncated {
		chunks[i].Metadata.Truncated = true
	}
}

func duplicateResult(doc *domain.Document, startTime time.Time) *domain.ProcessResult {
	return &domain.ProcessResult{
		Success:        true,
		Duplicate:      true,
		Document:       doc,
		ProcessingTime: time.Since(startTime),
	}
}

// ContentHash returns the hex sha256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StorageKey lays files out as owner/hash/filename.
func StorageKey(ownerID, hash, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "file"
	}
	return path.Join(ownerID, hash, name)
}
