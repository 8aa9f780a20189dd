package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentStatus is the processing state of an uploaded document
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// IsValid reports whether s is one of the known statuses
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the ingestion path has finished with the document
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusFailed
}

// CanTransitionTo enforces pending -> processing -> {completed, failed}.
// Any non-terminal state may fail. A resumed attempt re-enters processing.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case DocumentStatusPending:
		return next == DocumentStatusProcessing || next == DocumentStatusFailed
	case DocumentStatusProcessing:
		return next == DocumentStatusProcessing || next == DocumentStatusCompleted || next == DocumentStatusFailed
	}
	return false
}

// TransitionSources lists the statuses that may move to next
func TransitionSources(next DocumentStatus) []DocumentStatus {
	var from []DocumentStatus
	for _, s := range []DocumentStatus{DocumentStatusPending, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusFailed} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// Document represents an uploaded file and its ingestion state
type Document struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Title        string         `json:"title"`
	OriginalName string         `json:"original_name"`
	StoragePath  string         `json:"storage_path"`
	FileType     string         `json:"file_type"` // Declared MIME type
	Size         int64          `json:"size"`
	ContentHash  string         `json:"content_hash"` // sha256 hex of raw bytes
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunk_count"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

// NewDocument creates a pending document. An empty title falls back to the
// filename without its extension.
func NewDocument(ownerID, originalName, fileType string, size int64, contentHash, title string) *Document {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle(originalName)
	}
	now := time.Now()
	return &Document{
		ID:           GenerateID(),
		OwnerID:      ownerID,
		Title:        title,
		OriginalName: originalName,
		FileType:     fileType,
		Size:         size,
		ContentHash:  contentHash,
		Status:       DocumentStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// DefaultTitle derives a title from a filename
func DefaultTitle(originalName string) string {
	base := filepath.Base(originalName)
	if title := strings.TrimSuffix(base, filepath.Ext(base)); title != "" {
		return title
	}
	return base
}

// ChunkStrategy tags which chunker strategy produced a chunk
type ChunkStrategy string

const (
	ChunkStrategyParagraph ChunkStrategy = "paragraph"
	ChunkStrategySentence  ChunkStrategy = "sentence"
	ChunkStrategyFixed     ChunkStrategy = "fixed"
)

// ChunkMetadata describes how a chunk was produced
type ChunkMetadata struct {
	CharCount      int           `json:"char_count"`
	WordCount      int           `json:"word_count"`
	Strategy       ChunkStrategy `json:"strategy"`
	ParagraphIndex *int          `json:"paragraph_index,omitempty"`
	Truncated      bool          `json:"truncated,omitempty"` // Text was cut to fit the embedding input limit
}

// Chunk is a contiguous span of a document's extracted text
type Chunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Index      int           `json:"chunk_index"`
	Content    string        `json:"content"`
	TokenCount int           `json:"token_count"`
	Embedding  []float32     `json:"embedding,omitempty"`
	Metadata   ChunkMetadata `json:"metadata"`
	CreatedAt  time.Time     `json:"created_at"`
}

// HasEmbedding reports whether the chunk has been through the embedder
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// DocumentWithChunks combines a document with its chunks
type DocumentWithChunks struct {
	Document *Document `json:"document"`
	Chunks   []*Chunk  `json:"chunks"`
}

// DocumentFilter narrows a document listing
type DocumentFilter struct {
	Page     int            `json:"page"`
	Limit    int            `json:"limit"`
	Status   DocumentStatus `json:"status,omitempty"`
	FileType string         `json:"file_type,omitempty"`
	Search   string         `json:"search,omitempty"` // Substring of title or filename
}

// Offset returns the row offset for the filter's page
func (f DocumentFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// DocumentPage is one page of a document listing
type DocumentPage struct {
	Documents  []*Document `json:"documents"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// DocumentUpdate holds the user-editable document fields
type DocumentUpdate struct {
	Title string `json:"title"`
}

// DocumentStats aggregates an owner's documents
type DocumentStats struct {
	TotalDocuments       int                    `json:"total_documents"`
	ByStatus             map[DocumentStatus]int `json:"by_status"`
	ByFileType           map[string]int         `json:"by_file_type"`
	TotalSize            int64                  `json:"total_size"`
	TotalChunks          int                    `json:"total_chunks"`
	AvgChunksPerDocument float64                `json:"avg_chunks_per_document"`
}

// NewDocumentStats returns stats with initialised maps
func NewDocumentStats() *DocumentStats {
	return &DocumentStats{
		ByStatus:   make(map[DocumentStatus]int),
		ByFileType: make(map[string]int),
	}
}

// Finalize computes derived fields once counts are in
func (s *DocumentStats) Finalize() {
	if s.TotalDocuments > 0 {
		s.AvgChunksPerDocument = float64(s.TotalChunks) / float64(s.TotalDocuments)
	}
}
