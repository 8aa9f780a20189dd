package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driving"
)

// Ensure Retriever implements RetrievalService
var _ driving.RetrievalService = (*Retriever)(nil)

const (
	// DefaultCentroidChunks is how many leading chunks form a document's centroid
	DefaultCentroidChunks = 5
)

// stopwords are dropped from hybrid search queries
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "do": true, "does": true, "for": true,
	"from": true, "has": true, "have": true, "how": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "their": true, "then": true, "there": true,
	"these": true, "this": true, "to": true, "was": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true, "will": true,
	"with": true, "you": true, "your": true,
}

// Retriever answers semantic, hybrid, context and similar-document queries.
// All ranking happens here; the store only supplies nearest-by-vector and
// rank-by-text primitives.
type Retriever struct {
	chunkStore     driven.ChunkStore
	documentStore  driven.DocumentStore
	embedder       *Embedder
	centroidChunks int
	logger         *slog.Logger
}

// RetrieverConfig holds dependencies for Retriever.
type RetrieverConfig struct {
	ChunkStore     driven.ChunkStore
	DocumentStore  driven.DocumentStore
	Embedder       *Embedder
	CentroidChunks int // Default: 5
	Logger         *slog.Logger
}

// NewRetriever creates a new Retriever.
func NewRetriever(cfg RetrieverConfig) *Retriever {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	centroid := cfg.CentroidChunks
	if centroid <= 0 {
		centroid = DefaultCentroidChunks
	}
	return &Retriever{
		chunkStore:     cfg.ChunkStore,
		documentStore:  cfg.DocumentStore,
		embedder:       cfg.Embedder,
		centroidChunks: centroid,
		logger:         logger,
	}
}

func normalizeSearchOptions(opts *domain.SearchOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = domain.DefaultSearchLimit
	}
	if opts.Limit > domain.MaxSearchLimit {
		opts.Limit = domain.MaxSearchLimit
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return domain.NewValidationError("threshold", "must be between 0 and 1")
	}
	return nil
}

// SemanticSearch returns chunks ordered by non-increasing similarity, each at
// or above the threshold. Equal similarities keep the store's order.
func (r *Retriever) SemanticSearch(ctx context.Context, query, ownerID string, opts domain.SearchOptions) ([]*domain.SearchHit, error) {
	if ownerID == "" {
		return nil, domain.NewValidationError("owner_id", "is required")
	}
	if err := normalizeSearchOptions(&opts); err != nil {
		return nil, err
	}

	scored, err := r.nearest(ctx, query, ownerID, opts, opts.Limit)
	if err != nil {
		return nil, err
	}

	hits := make([]*domain.SearchHit, 0, len(scored))
	for _, sc := range scored {
		hit := toHit(sc, opts.IncludeMetadata)
		hit.Score = sc.Similarity
		hits = append(hits, hit)
	}
	return hits, nil
}

// HybridSearch blends lexical relevance into every chunk that passes the
// similarity threshold:
// score = similarity*SemanticWeight + lexical*KeywordBoost*KeywordWeight.
// Limit is applied only after blending, so a strong keyword match is not lost
// behind chunks that are merely closer in vector space.
func (r *Retriever) HybridSearch(ctx context.Context, query, ownerID string, opts domain.HybridOptions) ([]*domain.SearchHit, error) {
	if ownerID == "" {
		return nil, domain.NewValidationError("owner_id", "is required")
	}
	if err := normalizeSearchOptions(&opts.SearchOptions); err != nil {
		return nil, err
	}
	if opts.KeywordWeight < 0 || opts.SemanticWeight < 0 || opts.KeywordBoost < 0 {
		return nil, domain.NewValidationError("weights", "must not be negative")
	}

	scored, err := r.nearest(ctx, query, ownerID, opts.SearchOptions, 0)
	if err != nil {
		return nil, err
	}

	lexical := map[string]float64{}
	if terms := QueryTerms(query); len(terms) > 0 && len(scored) > 0 {
		ids := make([]string, len(scored))
		for i, sc := range scored {
			ids[i] = sc.Chunk.ID
		}
		lexical, err = r.chunkStore.RankByText(ctx, ids, terms)
		if err != nil {
			return nil, fmt.Errorf("rank by text: %w", err)
		}
	}

	if opts.NormalizeLexical {
		var top float64
		for _, v := range lexical {
			if v > top {
				top = v
			}
		}
		if top > 0 {
			for id, v := range lexical {
				lexical[id] = v / top
			}
		}
	}

	hits := make([]*domain.SearchHit, 0, len(scored))
	for _, sc := range scored {
		hit := toHit(sc, opts.IncludeMetadata)
		hit.LexicalScore = lexical[sc.Chunk.ID]
		hit.Score = hit.Similarity*opts.SemanticWeight + hit.LexicalScore*opts.KeywordBoost*opts.KeywordWeight
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

// nearest embeds the query and fetches up to limit chunks at or above the
// threshold, sorted by similarity. limit 0 fetches them all.
func (r *Retriever) nearest(ctx context.Context, query, ownerID string, opts domain.SearchOptions, limit int) ([]*domain.ScoredChunk, error) {
	vector, err := r.embedder.GenerateQueryEmbedding(ctx, query, "")
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored, err := r.chunkStore.NearestByVector(ctx, domain.VectorQuery{
		OwnerID:       ownerID,
		Vector:        vector,
		Limit:         limit,
		MinSimilarity: opts.Threshold,
		IncludeDocIDs: opts.FilterDocIDs,
		ExcludeDocIDs: opts.ExcludeDocIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("nearest by vector: %w", err)
	}

	kept := scored[:0]
	for _, sc := range scored {
		if sc.Similarity >= opts.Threshold {
			kept = append(kept, sc)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Similarity > kept[j].Similarity
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil
}

func toHit(sc *domain.ScoredChunk, includeMetadata bool) *domain.SearchHit {
	hit := &domain.SearchHit{
		ChunkID:       sc.Chunk.ID,
		DocumentID:    sc.Chunk.DocumentID,
		DocumentTitle: sc.DocumentTitle,
		ChunkIndex:    sc.Chunk.Index,
		Content:       sc.Chunk.Content,
		Similarity:    sc.Similarity,
	}
	if includeMetadata {
		meta := sc.Chunk.Metadata
		hit.Metadata = &meta
	}
	return hit
}

// QueryTerms lowercases a query into distinct non-stopword terms of at
// least two characters, in query order.
func QueryTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// GetDocumentContext joins the best matching chunks into one attributed
// block for a conversation prompt.
func (r *Retriever) GetDocumentContext(ctx context.Context, query, ownerID string, opts domain.ContextOptions) (*domain.DocumentContext, error) {
	maxChunks := opts.MaxChunks
	if maxChunks <= 0 {
		maxChunks = domain.DefaultContextChunks
	}

	hits, err := r.SemanticSearch(ctx, query, ownerID, domain.SearchOptions{
		Limit:     maxChunks,
		Threshold: opts.Threshold,
	})
	if err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(hits))
	sources := make([]domain.ContextSource, 0, len(hits))
	for _, hit := range hits {
		parts = append(parts, fmt.Sprintf("[Source: %s, chunk %d]\n%s", hit.DocumentTitle, hit.ChunkIndex+1, hit.Content))
		sources = append(sources, domain.ContextSource{
			DocumentID:    hit.DocumentID,
			DocumentTitle: hit.DocumentTitle,
			ChunkIndex:    hit.ChunkIndex,
			Similarity:    hit.Similarity,
		})
	}

	text := strings.Join(parts, "\n\n")
	return &domain.DocumentContext{
		Context:    text,
		Sources:    sources,
		TotalChars: utf8.RuneCountInString(text),
	}, nil
}

// FindSimilarDocuments ranks the owner's other completed documents by mean
// chunk similarity to the centroid of the source document's leading chunks.
func (r *Retriever) FindSimilarDocuments(ctx context.Context, documentID, ownerID string, limit int) ([]*domain.SimilarDocument, error) {
	if limit <= 0 {
		limit = domain.DefaultSimilarLimit
	}
	if limit > domain.MaxSearchLimit {
		limit = domain.MaxSearchLimit
	}

	if _, err := r.documentStore.Get(ctx, documentID, ownerID); err != nil {
		return nil, err
	}

	chunks, err := r.chunkStore.GetByDocument(ctx, documentID, r.centroidChunks, 0)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	centroid := Centroid(chunks)
	if centroid == nil {
		return []*domain.SimilarDocument{}, nil
	}

	scored, err := r.chunkStore.NearestByVector(ctx, domain.VectorQuery{
		OwnerID:       ownerID,
		Vector:        centroid,
		Limit:         limit * 10,
		ExcludeDocIDs: []string{documentID},
	})
	if err != nil {
		return nil, fmt.Errorf("nearest by vector: %w", err)
	}

	type aggregate struct {
		doc   *domain.SimilarDocument
		total float64
	}
	byDoc := make(map[string]*aggregate)
	var order []*aggregate
	for _, sc := range scored {
		agg, ok := byDoc[sc.Chunk.DocumentID]
		if !ok {
			agg = &aggregate{doc: &domain.SimilarDocument{
				DocumentID: sc.Chunk.DocumentID,
				Title:      sc.DocumentTitle,
			}}
			byDoc[sc.Chunk.DocumentID] = agg
			order = append(order, agg)
		}
		agg.total += sc.Similarity
		agg.doc.MatchingChunks++
	}

	results := make([]*domain.SimilarDocument, 0, len(order))
	for _, agg := range order {
		agg.doc.Similarity = agg.total / float64(agg.doc.MatchingChunks)
		if agg.doc.Similarity >= domain.SimilarDocumentFloor {
			results = append(results, agg.doc)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Centroid averages the embedded vectors among chunks. It returns nil when
// none are embedded. Vectors of a different length than the first are skipped.
func Centroid(chunks []*domain.Chunk) []float32 {
	var (
		sum   []float64
		count int
	)
	for _, c := range chunks {
		if !c.HasEmbedding() {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(c.Embedding))
		}
		if len(c.Embedding) != len(sum) {
			continue
		}
		for i, v := range c.Embedding {
			sum[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		return nil
	}

	centroid := make([]float32, len(sum))
	for i, v := range sum {
		centroid[i] = float32(v / float64(count))
	}
	return centroid
}

// EstimateCost prices embedding texts without calling the provider.
func (r *Retriever) EstimateCost(texts []string, model string) *domain.CostEstimate {
	return r.embedder.EstimateCost(texts, model)
}
