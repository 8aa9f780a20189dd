package domain

import "time"

// SearchMode determines the search strategy
type SearchMode string

const (
	SearchModeHybrid       SearchMode = "hybrid"   // Vector + lexical
	SearchModeSemanticOnly SearchMode = "semantic" // Vector only
)

// Search limits and defaults
const (
	DefaultSearchLimit     = 10
	MaxSearchLimit         = 100
	DefaultSearchThreshold = 0.7
	DefaultKeywordWeight   = 0.3
	DefaultSemanticWeight  = 0.7
	DefaultKeywordBoost    = 1.0
	DefaultContextChunks   = 5
	DefaultSimilarLimit    = 5
	SimilarDocumentFloor   = 0.6
)

// SearchOptions configures a semantic search
type SearchOptions struct {
	Limit           int      `json:"limit"`
	Threshold       float64  `json:"threshold"`
	IncludeMetadata bool     `json:"include_metadata"`
	FilterDocIDs    []string `json:"filter_doc_ids,omitempty"`
	ExcludeDocIDs   []string `json:"exclude_doc_ids,omitempty"`
}

// HybridOptions configures a hybrid search
type HybridOptions struct {
	SearchOptions
	KeywordWeight  float64 `json:"keyword_weight"`
	SemanticWeight float64 `json:"semantic_weight"`
	KeywordBoost   float64 `json:"keyword_boost"`

	// NormalizeLexical scales lexical scores into [0,1] by the candidate maximum
	NormalizeLexical bool `json:"normalize_lexical"`
}

// DefaultSearchOptions returns sensible defaults
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:     DefaultSearchLimit,
		Threshold: DefaultSearchThreshold,
	}
}

// DefaultHybridOptions returns sensible defaults
func DefaultHybridOptions() HybridOptions {
	return HybridOptions{
		SearchOptions:  DefaultSearchOptions(),
		KeywordWeight:  DefaultKeywordWeight,
		SemanticWeight: DefaultSemanticWeight,
		KeywordBoost:   DefaultKeywordBoost,
	}
}

// SearchHit is a ranked chunk returned by the retriever
type SearchHit struct {
	ChunkID       string         `json:"chunk_id"`
	DocumentID    string         `json:"document_id"`
	DocumentTitle string         `json:"document_title"`
	ChunkIndex    int            `json:"chunk_index"`
	Content       string         `json:"content"`
	Similarity    float64        `json:"similarity"`
	LexicalScore  float64        `json:"lexical_score,omitempty"`
	Score         float64        `json:"score"`
	Metadata      *ChunkMetadata `json:"metadata,omitempty"`
}

// SearchResult wraps hits for transport
type SearchResult struct {
	Query      string        `json:"query"`
	Mode       SearchMode    `json:"mode"`
	Results    []*SearchHit  `json:"results"`
	TotalCount int           `json:"total_count"`
	Took       time.Duration `json:"took" swaggertype:"integer" example:"1500000"`
}

// ContextOptions configures context retrieval for a conversation
type ContextOptions struct {
	MaxChunks int     `json:"max_chunks"`
	Threshold float64 `json:"threshold"`
}

// ContextSource attributes one excerpt of a context block
type ContextSource struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	ChunkIndex    int     `json:"chunk_index"`
	Similarity    float64 `json:"similarity"`
}

// DocumentContext is the grounding text handed to a conversation
type DocumentContext struct {
	Context    string          `json:"context"`
	Sources    []ContextSource `json:"sources"`
	TotalChars int             `json:"total_chars"`
}

// SimilarDocument is a document ranked by centroid similarity
type SimilarDocument struct {
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title"`
	Similarity     float64 `json:"similarity"`
	MatchingChunks int     `json:"matching_chunks"`
}

// VectorQuery parameterises a nearest-by-vector lookup
type VectorQuery struct {
	OwnerID       string
	Vector        []float32
	Limit         int
	MinSimilarity float64
	IncludeDocIDs []string
	ExcludeDocIDs []string
}

// ScoredChunk is a chunk with its similarity to a query vector
type ScoredChunk struct {
	Chunk         *Chunk
	DocumentTitle string
	Similarity    float64
}
