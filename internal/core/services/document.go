package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driving"
)

// Ensure documentService implements DocumentService
var _ driving.DocumentService = (*documentService)(nil)

// Listing and chunk paging limits
const (
	DefaultDocumentPageSize = 20
	MaxDocumentPageSize     = 100
	DefaultChunkPageSize    = 50
	MaxChunkPageSize        = 500
	MaxTitleLength          = 255
)

// documentService implements the DocumentService interface
type documentService struct {
	documentStore driven.DocumentStore
	chunkStore    driven.ChunkStore
	fileStorage   driven.FileStorage
	logger        *slog.Logger
}

// DocumentServiceConfig holds dependencies for the document service.
type DocumentServiceConfig struct {
	DocumentStore driven.DocumentStore
	ChunkStore    driven.ChunkStore
	FileStorage   driven.FileStorage
	Logger        *slog.Logger
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(cfg DocumentServiceConfig) driving.DocumentService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &documentService{
		documentStore: cfg.DocumentStore,
		chunkStore:    cfg.ChunkStore,
		fileStorage:   cfg.FileStorage,
		logger:        logger,
	}
}

// ListUserDocuments returns one page of the owner's documents
func (s *documentService) ListUserDocuments(ctx context.Context, ownerID string, filter domain.DocumentFilter) (*domain.DocumentPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultDocumentPageSize
	}
	if filter.Limit > MaxDocumentPageSize {
		filter.Limit = MaxDocumentPageSize
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	filter.Search = strings.TrimSpace(filter.Search)

	docs, total, err := s.documentStore.List(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	return &domain.DocumentPage{
		Documents:  docs,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
	}, nil
}

// GetDocumentByID retrieves a document by ID
func (s *documentService) GetDocumentByID(ctx context.Context, id, ownerID string) (*domain.Document, error) {
	return s.documentStore.Get(ctx, id, ownerID)
}

// UpdateDocument renames a document
func (s *documentService) UpdateDocument(ctx context.Context, id, ownerID string, update domain.DocumentUpdate) (*domain.Document, error) {
	update.Title = strings.TrimSpace(update.Title)
	err := validation.ValidateStruct(&update,
		validation.Field(&update.Title, validation.Required, validation.RuneLength(1, MaxTitleLength)),
	)
	if err != nil {
		return nil, validationFailure(err)
	}

	return s.documentStore.Update(ctx, id, ownerID, update)
}

// DeleteDocument removes the chunks, then the document row, then the stored
// file. A storage failure is logged and does not fail the call.
func (s *documentService) DeleteDocument(ctx context.Context, id, ownerID string) error {
	doc, err := s.documentStore.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if err := s.chunkStore.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.documentStore.Delete(ctx, id, ownerID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if doc.StoragePath != "" && s.fileStorage != nil {
		if err := s.fileStorage.Delete(ctx, doc.StoragePath); err != nil {
			s.logger.Warn("failed to delete stored file",
				"document_id", id,
				"path", doc.StoragePath,
				"error", err,
			)
		}
	}

	s.logger.Info("document deleted", "document_id", id, "owner_id", ownerID)
	return nil
}

// GetDocumentChunks returns a page of a document's chunks
func (s *documentService) GetDocumentChunks(ctx context.Context, id, ownerID string, limit, offset int) ([]*domain.Chunk, error) {
	if _, err := s.documentStore.Get(ctx, id, ownerID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultChunkPageSize
	}
	if limit > MaxChunkPageSize {
		limit = MaxChunkPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return s.chunkStore.GetByDocument(ctx, id, limit, offset)
}

// GetUserDocumentStats aggregates the owner's documents
func (s *documentService) GetUserDocumentStats(ctx context.Context, ownerID string) (*domain.DocumentStats, error) {
	return s.documentStore.Stats(ctx, ownerID)
}
