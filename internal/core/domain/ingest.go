package domain

import "time"

// Chunking defaults
const (
	DefaultMaxChunkSize = 1000
	DefaultChunkOverlap = 200
	DefaultMinChunkSize = 100
)

// ChunkOptions controls how extracted text is split
type ChunkOptions struct {
	MaxChunkSize       int  `json:"max_chunk_size" yaml:"max_chunk_size"`
	Overlap            int  `json:"overlap" yaml:"overlap"`
	MinChunkSize       int  `json:"min_chunk_size" yaml:"min_chunk_size"`
	PreserveParagraphs bool `json:"preserve_paragraphs" yaml:"preserve_paragraphs"`
	PreserveSentences  bool `json:"preserve_sentences" yaml:"preserve_sentences"`
}

// DefaultChunkOptions returns the default chunking configuration
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		MaxChunkSize:       DefaultMaxChunkSize,
		Overlap:            DefaultChunkOverlap,
		MinChunkSize:       DefaultMinChunkSize,
		PreserveParagraphs: true,
		PreserveSentences:  true,
	}
}

// ExtractOptions controls text extraction
type ExtractOptions struct {
	PreserveFormatting bool `json:"preserve_formatting"`
	MaxLength          int  `json:"max_length"` // Runes; 0 means unlimited
}

// DefaultExtractOptions keeps line structure so paragraph chunking can see
// blank lines.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{PreserveFormatting: true}
}

// EmbedOptions controls a GenerateEmbeddings call. Zero values take the
// embedder's defaults.
type EmbedOptions struct {
	BatchSize     int           `json:"batch_size"`
	Model         string        `json:"model"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
}

// ProcessOptions controls one ingestion
type ProcessOptions struct {
	GenerateEmbeddings bool           `json:"generate_embeddings"`
	Chunk              ChunkOptions   `json:"chunk"`
	Extract            ExtractOptions `json:"extract"`
	Embed              EmbedOptions   `json:"embed"`
}

// DefaultProcessOptions embeds with default chunking and extraction
func DefaultProcessOptions() ProcessOptions {
	return ProcessOptions{
		GenerateEmbeddings: true,
		Chunk:              DefaultChunkOptions(),
		Extract:            DefaultExtractOptions(),
	}
}

// IngestRequest carries an uploaded file into the pipeline. The upload layer
// has already validated size and type.
type IngestRequest struct {
	OwnerID      string         `json:"owner_id"`
	OriginalName string         `json:"original_name"`
	FileType     string         `json:"file_type"`
	Size         int64          `json:"size"`
	Title        string         `json:"title,omitempty"`
	Content      []byte         `json:"-"`
	Options      ProcessOptions `json:"options"`
}

// EmbeddingBatch is one provider response
type EmbeddingBatch struct {
	Vectors     [][]float32
	TotalTokens int
}

// EmbeddingResult is the outcome of a GenerateEmbeddings call
type EmbeddingResult struct {
	Embeddings     [][]float32   `json:"-"`
	TotalTokens    int           `json:"total_tokens"`
	Cost           float64       `json:"cost"`
	Model          string        `json:"model"`
	Truncated      []int         `json:"truncated,omitempty"` // Input indices cut to the provider limit
	ProcessingTime time.Duration `json:"processing_time"`
}

// CostEstimate is a pre-flight embedding cost
type CostEstimate struct {
	Chunks int     `json:"chunks"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Model  string  `json:"model"`
}

// ProcessResult represents the outcome of an ingestion. Failures after the
// document row exists are reported here with Success=false rather than as an
// error.
type ProcessResult struct {
	Success        bool          `json:"success"`
	Duplicate      bool          `json:"duplicate,omitempty"`
	Document       *Document     `json:"document"`
	Chunks         []*Chunk      `json:"chunks,omitempty"`
	Error          string        `json:"error,omitempty"`
	TotalTokens    int           `json:"total_tokens"`
	EmbeddingCost  float64       `json:"embedding_cost"`
	ProcessingTime time.Duration `json:"processing_time" swaggertype:"integer"`
}

// ReprocessResult represents the outcome of re-embedding a document
type ReprocessResult struct {
	DocumentID    string  `json:"document_id"`
	UpdatedChunks int     `json:"updated_chunks"`
	TotalTokens   int     `json:"total_tokens"`
	Cost          float64 `json:"cost"`
}

// EstimateTokens is the chars/4 heuristic used wherever a token count is needed
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}
