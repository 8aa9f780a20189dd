package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

const documentColumns = `id, owner_id, title, original_name, storage_path, file_type, size,
	content_hash, status, chunk_count, error, created_at, updated_at, processed_at`

// DocumentStore implements driven.DocumentStore using PostgreSQL
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Create inserts a new document. The (owner_id, content_hash) constraint
// turns a racing duplicate into domain.ErrAlreadyExists.
func (s *DocumentStore) Create(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		doc.ID,
		doc.OwnerID,
		doc.Title,
		doc.OriginalName,
		doc.StoragePath,
		doc.FileType,
		doc.Size,
		doc.ContentHash,
		doc.Status,
		doc.ChunkCount,
		doc.Error,
		doc.CreatedAt,
		doc.UpdatedAt,
		NullTime(doc.ProcessedAt),
	)
	if err != nil {
		return translateError(err, "document", doc.ID)
	}
	return nil
}

// Get retrieves a document by ID within an owner's scope
func (s *DocumentStore) Get(ctx context.Context, id, ownerID string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND owner_id = $2`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		return nil, translateError(err, "document", id)
	}
	return doc, nil
}

// GetByID retrieves a document by ID regardless of owner
func (s *DocumentStore) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err, "document", id)
	}
	return doc, nil
}

// GetByHash retrieves the owner's document with the given content hash
func (s *DocumentStore) GetByHash(ctx context.Context, ownerID, contentHash string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1 AND content_hash = $2`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, ownerID, contentHash))
	if err != nil {
		return nil, translateError(err, "document", contentHash)
	}
	return doc, nil
}

// List returns one page of the owner's documents, newest first
func (s *DocumentStore) List(ctx context.Context, ownerID string, filter domain.DocumentFilter) ([]*domain.Document, int, error) {
	where := " WHERE owner_id = $1"
	args := []any{ownerID}
	argIndex := 2

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}

	if filter.FileType != "" {
		where += fmt.Sprintf(" AND file_type = $%d", argIndex)
		args = append(args, filter.FileType)
		argIndex++
	}

	if filter.Search != "" {
		where += fmt.Sprintf(" AND (title ILIKE $%d OR original_name ILIKE $%d)", argIndex, argIndex)
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		argIndex++
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	query := `SELECT ` + documentColumns + ` FROM documents` + where + " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if offset := filter.Offset(); offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []*domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}

	return docs, total, nil
}

// Update changes the user-editable fields
func (s *DocumentStore) Update(ctx context.Context, id, ownerID string, update domain.DocumentUpdate) (*domain.Document, error) {
	query := `
		UPDATE documents SET title = $1, updated_at = $2
		WHERE id = $3 AND owner_id = $4
		RETURNING ` + documentColumns

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, update.Title, time.Now(), id, ownerID))
	if err != nil {
		return nil, translateError(err, "document", id)
	}
	return doc, nil
}

// UpdateStatus moves a document to a new status. It only applies when the
// current status may move to status; otherwise ErrStatusConflict.
func (s *DocumentStore) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	query := `
		UPDATE documents SET status = $1, error = $2, updated_at = $3
		WHERE id = $4 AND status = ANY($5::text[])
	`
	result, err := s.db.ExecContext(ctx, query, status, errMsg, time.Now(), id, transitionSources(status))
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return s.requireTransition(ctx, result, id, status)
}

// Complete marks a processing document completed with its chunk count
func (s *DocumentStore) Complete(ctx context.Context, id string, chunkCount int) error {
	now := time.Now()
	query := `
		UPDATE documents
		SET status = $1, chunk_count = $2, error = '', updated_at = $3, processed_at = $3
		WHERE id = $4 AND status = ANY($5::text[])
	`
	result, err := s.db.ExecContext(ctx, query,
		domain.DocumentStatusCompleted, chunkCount, now, id,
		transitionSources(domain.DocumentStatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	return s.requireTransition(ctx, result, id, domain.DocumentStatusCompleted)
}

// requireTransition tells a missing document from one whose status has
// already moved on when a guarded update changed no rows.
func (s *DocumentStore) requireTransition(ctx context.Context, result sql.Result, id string, next domain.DocumentStatus) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var current domain.DocumentStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return translateError(err, "document", id)
	}
	return fmt.Errorf("document %s is %s, cannot become %s: %w", id, current, next, domain.ErrStatusConflict)
}

func transitionSources(next domain.DocumentStatus) any {
	from := domain.TransitionSources(next)
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}
	return pq.Array(names)
}

// Delete deletes a document; chunks cascade
func (s *DocumentStore) Delete(ctx context.Context, id, ownerID string) error {
	query := `DELETE FROM documents WHERE id = $1 AND owner_id = $2`
	result, err := s.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireRow(result, id)
}

// Stats aggregates the owner's documents in a single grouped scan
func (s *DocumentStore) Stats(ctx context.Context, ownerID string) (*domain.DocumentStats, error) {
	query := `
		SELECT status, file_type, COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(chunk_count), 0)
		FROM documents
		WHERE owner_id = $1
		GROUP BY status, file_type
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query document stats: %w", err)
	}
	defer rows.Close()

	stats := domain.NewDocumentStats()
	for rows.Next() {
		var status domain.DocumentStatus
		var fileType string
		var count, chunks int
		var size int64
		if err := rows.Scan(&status, &fileType, &count, &size, &chunks); err != nil {
			return nil, fmt.Errorf("scan document stats: %w", err)
		}
		stats.TotalDocuments += count
		stats.ByStatus[status] += count
		stats.ByFileType[fileType] += count
		stats.TotalSize += size
		stats.TotalChunks += chunks
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document stats: %w", err)
	}

	stats.Finalize()
	return stats, nil
}

// FailStale marks pending/processing documents not updated since cutoff as failed
func (s *DocumentStore) FailStale(ctx context.Context, cutoff time.Time, errMsg string) (int, error) {
	query := `
		UPDATE documents
		SET status = $1, error = $2, updated_at = $3
		WHERE status IN ($4, $5) AND updated_at < $6
	`
	result, err := s.db.ExecContext(ctx, query,
		domain.DocumentStatusFailed,
		errMsg,
		time.Now(),
		domain.DocumentStatusPending,
		domain.DocumentStatusProcessing,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale documents: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var processedAt sql.NullTime

	err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Title,
		&doc.OriginalName,
		&doc.StoragePath,
		&doc.FileType,
		&doc.Size,
		&doc.ContentHash,
		&doc.Status,
		&doc.ChunkCount,
		&doc.Error,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.ProcessedAt = TimePtr(processedAt)
	return &doc, nil
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return &domain.NotFoundError{Resource: "document", ID: id}
	}
	return nil
}

// escapeLike escapes LIKE wildcards so search input matches literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
