package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ChunkStore = (*ChunkStore)(nil)

const chunkColumns = `c.id, c.document_id, c.chunk_index, c.content, c.token_count, c.embedding, c.metadata, c.created_at`

// contentTSVector must match idx_chunks_content_fts_english or the GIN index
// is not used.
const contentTSVector = `to_tsvector('english', content)`

// ChunkStore implements driven.ChunkStore using PostgreSQL and pgvector.
// Similarity is 1 - cosine distance (the <=> operator).
type ChunkStore struct {
	db *DB
}

// NewChunkStore creates a new ChunkStore
func NewChunkStore(db *DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// SaveBatch inserts chunks in a single transaction
func (s *ChunkStore) SaveBatch(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO chunks (id, document_id, chunk_index, content, token_count, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, chunk := range chunks {
			metadataJSON, err := json.Marshal(chunk.Metadata)
			if err != nil {
				return fmt.Errorf("marshal chunk metadata: %w", err)
			}

			_, err = stmt.ExecContext(ctx,
				chunk.ID,
				chunk.DocumentID,
				chunk.Index,
				chunk.Content,
				chunk.TokenCount,
				vectorArg(chunk.Embedding),
				metadataJSON,
				chunk.CreatedAt,
			)
			if err != nil {
				return translateError(err, "chunk", chunk.ID)
			}
		}

		return nil
	})
}

// GetByDocument retrieves a document's chunks ordered by index
func (s *ChunkStore) GetByDocument(ctx context.Context, documentID string, limit, offset int) ([]*domain.Chunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks c
		WHERE c.document_id = $1
		ORDER BY c.chunk_index
		LIMIT NULLIF($2::int, 0) OFFSET $3
	`

	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, query, documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*domain.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// UpdateEmbeddings writes each chunk's embedding and truncation flag in place
func (s *ChunkStore) UpdateEmbeddings(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `UPDATE chunks SET embedding = $1, metadata = $2 WHERE id = $3`

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare embedding update: %w", err)
		}
		defer stmt.Close()

		for _, chunk := range chunks {
			metadataJSON, err := json.Marshal(chunk.Metadata)
			if err != nil {
				return fmt.Errorf("marshal chunk metadata: %w", err)
			}

			result, err := stmt.ExecContext(ctx, vectorArg(chunk.Embedding), metadataJSON, chunk.ID)
			if err != nil {
				return translateError(err, "chunk", chunk.ID)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			if rows == 0 {
				return &domain.NotFoundError{Resource: "chunk", ID: chunk.ID}
			}
		}
		return nil
	})
}

// DeleteByDocument deletes all chunks for a document
func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// CountByDocument returns the number of chunk rows for a document
func (s *ChunkStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// NearestByVector returns embedded chunks of the owner's completed documents
// at or above MinSimilarity, most similar first.
func (s *ChunkStore) NearestByVector(ctx context.Context, q domain.VectorQuery) ([]*domain.ScoredChunk, error) {
	if q.Vector == nil {
		return nil, fmt.Errorf("query vector is empty: %w", domain.ErrInvalidInput)
	}
	if len(q.Vector) != s.db.Dimensions() {
		return nil, fmt.Errorf("query has %d dimensions, store has %d: %w",
			len(q.Vector), s.db.Dimensions(), domain.ErrDimensionMismatch)
	}

	query := `
		SELECT ` + chunkColumns + `, d.title, 1 - (c.embedding <=> $2) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.owner_id = $1
		  AND d.status = $3
		  AND c.embedding IS NOT NULL
		  AND 1 - (c.embedding <=> $2) >= $4
		  AND (cardinality($5::text[]) = 0 OR c.document_id = ANY($5::text[]))
		  AND NOT (c.document_id = ANY($6::text[]))
		ORDER BY c.embedding <=> $2, c.created_at, c.chunk_index
		LIMIT NULLIF($7::int, 0)
	`

	rows, err := s.db.QueryContext(ctx, query,
		q.OwnerID,
		pgvector.NewVector(q.Vector),
		domain.DocumentStatusCompleted,
		q.MinSimilarity,
		pq.Array(nonNil(q.IncludeDocIDs)),
		pq.Array(nonNil(q.ExcludeDocIDs)),
		q.Limit,
	)
	if err != nil {
		return nil, translateError(fmt.Errorf("nearest by vector: %w", err), "chunk", "")
	}
	defer rows.Close()

	results := []*domain.ScoredChunk{}
	for rows.Next() {
		var scored domain.ScoredChunk
		chunk, err := scanChunk(rows, &scored.DocumentTitle, &scored.Similarity)
		if err != nil {
			return nil, err
		}
		scored.Chunk = chunk
		results = append(results, &scored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest chunks: %w", err)
	}
	return results, nil
}

// RankByText scores chunks with ts_rank over the english text configuration,
// so terms match their stemmed forms.
// Chunks that match none of the terms are absent from the result.
func (s *ChunkStore) RankByText(ctx context.Context, chunkIDs []string, terms []string) (map[string]float64, error) {
	scores := make(map[string]float64)
	tsq := tsQuery(terms)
	if len(chunkIDs) == 0 || tsq == "" {
		return scores, nil
	}

	query := `
		SELECT id, ts_rank(` + contentTSVector + `, to_tsquery('english', $2))
		FROM chunks
		WHERE id = ANY($1::text[])
		  AND ` + contentTSVector + ` @@ to_tsquery('english', $2)
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(chunkIDs), tsq)
	if err != nil {
		return nil, fmt.Errorf("rank by text: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan rank: %w", err)
		}
		if rank > 0 {
			scores[id] = rank
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranks: %w", err)
	}
	return scores, nil
}

// scanChunk reads chunkColumns followed by any extra destinations
func scanChunk(row rowScanner, extra ...any) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var embedding *pgvector.Vector
	var metadataJSON []byte

	dest := []any{
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.Index,
		&chunk.Content,
		&chunk.TokenCount,
		&embedding,
		&metadataJSON,
		&chunk.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}

	if embedding != nil {
		chunk.Embedding = embedding.Slice()
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
	}
	return &chunk, nil
}

// vectorArg binds an embedding, or NULL for a chunk that has none
func vectorArg(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// tsQuery ORs terms into a to_tsquery expression. Characters outside
// letters and digits are dropped so user text cannot inject operators.
func tsQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, term)
		if clean != "" {
			parts = append(parts, clean)
		}
	}
	return strings.Join(parts, " | ")
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
