package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

// Ensure OpenAIEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*OpenAIEmbedding)(nil)

const (
	DefaultOpenAIModel   = "text-embedding-3-small"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	openAIMaxBatchSize   = 2048
	openAIMaxInputTokens = 8191
)

// Model dimensions for OpenAI embedding models
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedding implements EmbeddingService using OpenAI's embedding API
type OpenAIEmbedding struct {
	apiKey       string
	model        string
	baseURL      string
	dimensions   int
	sendDims     bool // Request shortened vectors (text-embedding-3 models only)
	maxBatchSize int
	client       *http.Client
}

// OpenAIConfig configures the OpenAI embedding adapter
type OpenAIConfig struct {
	APIKey       string
	Model        string        // Default: text-embedding-3-small
	BaseURL      string        // Default: https://api.openai.com/v1
	Dimensions   int           // Default: the model's native size
	MaxBatchSize int           // Default: 2048
	Timeout      time.Duration // Default: 60s
}

// NewOpenAIEmbedding creates a new OpenAI embedding service
func NewOpenAIEmbedding(cfg OpenAIConfig) (*OpenAIEmbedding, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	native, ok := openAIModelDimensions[model]
	if !ok {
		// Default to 1536 for unknown models
		native = 1536
	}
	dimensions := native
	sendDims := false
	if cfg.Dimensions > 0 && cfg.Dimensions != native {
		if !strings.HasPrefix(model, "text-embedding-3") {
			return nil, fmt.Errorf("model %s does not support %d dimensions", model, cfg.Dimensions)
		}
		dimensions = cfg.Dimensions
		sendDims = true
	}

	batch := cfg.MaxBatchSize
	if batch <= 0 || batch > openAIMaxBatchSize {
		batch = openAIMaxBatchSize
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIEmbedding{
		apiKey:       cfg.APIKey,
		model:        model,
		baseURL:      baseURL,
		dimensions:   dimensions,
		sendDims:     sendDims,
		maxBatchSize: batch,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// embeddingRequest is the request body for OpenAI embedding API
type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
	Dimensions     int      `json:"dimensions,omitempty"`
}

// embeddingResponse is the response from OpenAI embedding API
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("OpenAI API error: %s (type: %s, code: %s)", e.Message, e.Type, e.Code)
}

// Embed generates embeddings for multiple texts
func (e *OpenAIEmbedding) Embed(ctx context.Context, texts []string, model string) (*domain.EmbeddingBatch, error) {
	if len(texts) == 0 {
		return &domain.EmbeddingBatch{}, nil
	}
	if model == "" {
		model = e.model
	}

	reqBody := embeddingRequest{
		Input:          texts,
		Model:          model,
		EncodingFormat: "float",
	}
	if e.sendDims {
		reqBody.Dimensions = e.dimensions
	}

	resp, err := e.doRequest(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, domain.NewProviderError(domain.ProviderErrorGeneric, http.StatusOK,
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	// Order by index so vectors line up with inputs
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, domain.NewProviderError(domain.ProviderErrorGeneric, http.StatusOK,
				fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vectors[d.Index] = d.Embedding
	}

	return &domain.EmbeddingBatch{
		Vectors:     vectors,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}

// Dimensions returns the embedding dimension size
func (e *OpenAIEmbedding) Dimensions() int {
	return e.dimensions
}

// Model returns the model name being used
func (e *OpenAIEmbedding) Model() string {
	return e.model
}

func (e *OpenAIEmbedding) MaxBatchSize() int {
	return e.maxBatchSize
}

func (e *OpenAIEmbedding) MaxInputTokens() int {
	return openAIMaxInputTokens
}

// HealthCheck verifies the embedding service is available
func (e *OpenAIEmbedding) HealthCheck(ctx context.Context) error {
	// Make a small embedding request to verify connectivity
	_, err := e.Embed(ctx, []string{"health check"}, "")
	return err
}

// Close releases resources held by the embedding service
func (e *OpenAIEmbedding) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// doRequest makes a request to the OpenAI embedding API and classifies failures
func (e *OpenAIEmbedding) doRequest(ctx context.Context, reqBody embeddingRequest) (*embeddingResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.NewProviderError(domain.ProviderErrorUnavailable, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewProviderError(domain.ProviderErrorUnavailable, resp.StatusCode,
			fmt.Errorf("failed to read response: %w", err))
	}

	var embResp embeddingResponse
	parseErr := json.Unmarshal(respBody, &embResp)

	if resp.StatusCode != http.StatusOK || embResp.Error != nil {
		var cause error = fmt.Errorf("OpenAI API returned status %d", resp.StatusCode)
		if embResp.Error != nil {
			cause = embResp.Error
		}
		return nil, classify(resp.StatusCode, embResp.Error, cause)
	}

	if parseErr != nil {
		return nil, domain.NewProviderError(domain.ProviderErrorGeneric, resp.StatusCode,
			fmt.Errorf("failed to parse response: %w", parseErr))
	}

	return &embResp, nil
}

// classify maps an OpenAI error response onto a provider error kind
func classify(status int, apiErr *apiError, cause error) *domain.ProviderError {
	var code, message string
	if apiErr != nil {
		code = apiErr.Code
		message = strings.ToLower(apiErr.Message)
	}

	switch {
	case status == http.StatusTooManyRequests || code == "rate_limit_exceeded":
		return domain.NewProviderError(domain.ProviderErrorRateLimited, status, cause)
	case code == "context_length_exceeded" || strings.Contains(message, "maximum context length"):
		return domain.NewProviderError(domain.ProviderErrorInputTooLarge, status, cause)
	case code == "content_policy_violation" || code == "content_filter" || strings.Contains(message, "content policy"):
		return domain.NewProviderError(domain.ProviderErrorContentPolicy, status, cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewProviderError(domain.ProviderErrorUnauthenticated, status, cause)
	case status >= 500:
		return domain.NewProviderError(domain.ProviderErrorUnavailable, status, cause)
	}

	pe := domain.NewProviderError(domain.ProviderErrorGeneric, status, cause)
	if status >= 400 && status < 500 {
		// Remaining client errors will fail the same way again
		pe.Retryable = false
	}
	return pe
}

