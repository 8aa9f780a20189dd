package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// HealthResponse reports liveness and the state of each dependency
// @Description Health status with dependency checks
type HealthResponse struct {
	Status       string            `json:"status" example:"ok"`
	Version      string            `json:"version" example:"1.0.0"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version      string               `json:"version" example:"1.0.0"`
	Capabilities *domain.Capabilities `json:"capabilities,omitempty"`
}

// SearchRequest is the body of POST /search. Omitted numeric fields take
// their defaults.
type SearchRequest struct {
	Query            string   `json:"query"`
	Mode             string   `json:"mode,omitempty"` // semantic | hybrid
	Limit            int      `json:"limit,omitempty"`
	Threshold        *float64 `json:"threshold,omitempty"`
	IncludeMetadata  bool     `json:"include_metadata,omitempty"`
	DocumentIDs      []string `json:"document_ids,omitempty"`
	ExcludeIDs       []string `json:"exclude_document_ids,omitempty"`
	KeywordWeight    *float64 `json:"keyword_weight,omitempty"`
	SemanticWeight   *float64 `json:"semantic_weight,omitempty"`
	KeywordBoost     *float64 `json:"keyword_boost,omitempty"`
	NormalizeLexical bool     `json:"normalize_lexical,omitempty"`
}

// ContextRequest is the body of POST /context
type ContextRequest struct {
	Query     string   `json:"query"`
	MaxChunks int      `json:"max_chunks,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// EstimateRequest is the body of POST /embeddings/estimate
type EstimateRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

// SimilarResponse wraps similar documents
type SimilarResponse struct {
	DocumentID string                    `json:"document_id"`
	Results    []*domain.SimilarDocument `json:"results"`
}

// ChunksResponse wraps a page of chunks
type ChunksResponse struct {
	DocumentID string          `json:"document_id"`
	Chunks     []*domain.Chunk `json:"chunks"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns liveness and pings the database, cache and storage
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse  "A dependency is unreachable"
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Version: s.version}
	if len(s.pingers) > 0 {
		resp.Dependencies = make(map[string]string, len(s.pingers))
	}
	for name, p := range s.pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			resp.Dependencies[name] = "unhealthy: " + err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the API version with the storage and queue backends and the embedding model in use
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{Version: s.version}
	if s.capabilities != nil {
		caps := s.capabilities.Capabilities()
		resp.Capabilities = &caps
	}
	writeJSON(w, http.StatusOK, resp)
}

// Document endpoints

// handleUploadDocument godoc
// @Summary      Upload a document
// @Description  Ingests a PDF, DOCX, plain text or markdown file. With async=true the document is queued and returned as pending.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        file                 formData  file    true   "Document file"
// @Param        title                formData  string  false  "Title (defaults to the file name)"
// @Param        async                formData  bool    false  "Queue for background processing"
// @Param        generate_embeddings  formData  bool    false  "Embed chunks (default true)"
// @Param        preserve_formatting  formData  bool    false  "Keep line breaks and blank lines (default from config)"
// @Param        max_length           formData  int     false  "Truncate extracted text to this many characters (0 means unlimited)"
// @Success      201  {object}  domain.ProcessResult  "Document created"
// @Success      200  {object}  domain.ProcessResult  "Duplicate of an existing document"
// @Success      202  {object}  domain.ProcessResult  "Queued"
// @Failure      400  {object}  ErrorResponse
// @Failure      413  {object}  ErrorResponse  "File too large"
// @Failure      415  {object}  ErrorResponse  "Unsupported format"
// @Router       /documents [post]
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	opts := s.processDefaults
	if v := r.FormValue("generate_embeddings"); v != "" {
		opts.GenerateEmbeddings = parseBool(v, true)
	}
	if v := r.FormValue("preserve_formatting"); v != "" {
		opts.Extract.PreserveFormatting = parseBool(v, opts.Extract.PreserveFormatting)
	}
	if v := r.FormValue("max_length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "max_length must be a non-negative integer")
			return
		}
		opts.Extract.MaxLength = n
	}

	req := &domain.IngestRequest{
		OwnerID:      authCtx.OwnerID(),
		OriginalName: header.Filename,
		FileType:     header.Header.Get("Content-Type"),
		Size:         int64(len(content)),
		Title:        r.FormValue("title"),
		Content:      content,
		Options:      opts,
	}

	if parseBool(r.FormValue("async"), false) {
		result, err := s.ingestService.SubmitDocument(r.Context(), req)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		status := http.StatusAccepted
		if result.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, result)
		return
	}

	result, err := s.ingestService.ProcessDocument(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	switch {
	case result.Duplicate:
		status = http.StatusOK
	case !result.Success:
		// The document exists and records the failure
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// handleListDocuments godoc
// @Summary      List documents
// @Description  Returns one page of the caller's documents, newest first
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        page       query     int     false  "Page (default 1)"
// @Param        limit      query     int     false  "Page size (default 20, max 100)"
// @Param        status     query     string  false  "Status filter"
// @Param        file_type  query     string  false  "MIME type filter"
// @Param        search     query     string  false  "Title or filename substring"
// @Success      200  {object}  domain.DocumentPage
// @Failure      400  {object}  ErrorResponse
// @Router       /documents [get]
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	q := r.URL.Query()

	filter := domain.DocumentFilter{
		Page:     parseInt(q.Get("page"), 1),
		Limit:    parseInt(q.Get("limit"), 0),
		Status:   domain.DocumentStatus(q.Get("status")),
		FileType: q.Get("file_type"),
		Search:   q.Get("search"),
	}

	page, err := s.docService.ListUserDocuments(r.Context(), authCtx.OwnerID(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// handleDocumentStats godoc
// @Summary      Document statistics
// @Description  Aggregates the caller's documents by status and file type
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.DocumentStats
// @Router       /documents/stats [get]
func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	stats, err := s.docService.GetUserDocumentStats(r.Context(), authCtx.OwnerID())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleGetDocument godoc
// @Summary      Get document
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  domain.Document
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id} [get]
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	doc, err := s.docService.GetDocumentByID(r.Context(), r.PathValue("id"), authCtx.OwnerID())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleUpdateDocument godoc
// @Summary      Update document
// @Description  Changes the document title
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                 true  "Document ID"
// @Param        request  body      domain.DocumentUpdate  true  "New title"
// @Success      200      {object}  domain.Document
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /documents/{id} [patch]
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	var update domain.DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := s.docService.UpdateDocument(r.Context(), r.PathValue("id"), authCtx.OwnerID(), update)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument godoc
// @Summary      Delete document
// @Description  Removes the document, its chunks and its stored file
// @Tags         Documents
// @Security     BearerAuth
// @Param        id   path  string  true  "Document ID"
// @Success      204  "No Content"
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id} [delete]
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	if err := s.docService.DeleteDocument(r.Context(), r.PathValue("id"), authCtx.OwnerID()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleReprocessDocument godoc
// @Summary      Reprocess document
// @Description  Embeds chunks that have no vector, or every chunk with force=true. With async=true a task is queued instead; while one is still queued or running for the document, that task is returned.
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      string  true   "Document ID"
// @Param        force  query     bool    false  "Re-embed every chunk"
// @Param        async  query     bool    false  "Queue for background processing"
// @Success      200    {object}  domain.ReprocessResult
// @Success      202    {object}  domain.Task
// @Failure      404    {object}  ErrorResponse
// @Failure      502    {object}  ErrorResponse  "Embedding provider error"
// @Router       /documents/{id}/reprocess [post]
func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	id := r.PathValue("id")
	q := r.URL.Query()
	force := parseBool(q.Get("force"), false)

	if parseBool(q.Get("async"), false) {
		task, err := s.ingestService.EnqueueReprocess(r.Context(), id, authCtx.OwnerID(), force)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, task)
		return
	}

	result, err := s.ingestService.ReprocessDocument(r.Context(), id, authCtx.OwnerID(), force)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetDocumentChunks godoc
// @Summary      Get document chunks
// @Description  Returns a document's chunks ordered by index
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true   "Document ID"
// @Param        limit   query     int     false  "Max chunks (default 50, max 500)"
// @Param        offset  query     int     false  "Chunks to skip"
// @Success      200     {object}  ChunksResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /documents/{id}/chunks [get]
func (s *Server) handleGetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	id := r.PathValue("id")
	q := r.URL.Query()
	limit := parseInt(q.Get("limit"), 0)
	offset := parseInt(q.Get("offset"), 0)

	chunks, err := s.docService.GetDocumentChunks(r.Context(), id, authCtx.OwnerID(), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ChunksResponse{
		DocumentID: id,
		Chunks:     chunks,
		Limit:      limit,
		Offset:     offset,
	})
}

// handleSimilarDocuments godoc
// @Summary      Find similar documents
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      string  true   "Document ID"
// @Param        limit  query     int     false  "Max results (default 5)"
// @Success      200    {object}  SimilarResponse
// @Failure      404    {object}  ErrorResponse
// @Router       /documents/{id}/similar [get]
func (s *Server) handleSimilarDocuments(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	id := r.PathValue("id")
	limit := parseInt(r.URL.Query().Get("limit"), domain.DefaultSimilarLimit)

	results, err := s.retrievalService.FindSimilarDocuments(r.Context(), id, authCtx.OwnerID(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SimilarResponse{DocumentID: id, Results: results})
}

// Retrieval endpoints

// handleSearch godoc
// @Summary      Search documents
// @Description  Semantic or hybrid search over the caller's embedded chunks
// @Tags         Search
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      SearchRequest  true  "Search query and options"
// @Success      200      {object}  domain.SearchResult
// @Failure      400      {object}  ErrorResponse
// @Failure      502      {object}  ErrorResponse  "Embedding provider error"
// @Router       /search [post]
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := domain.SearchMode(strings.ToLower(req.Mode))
	if mode == "" {
		mode = domain.SearchModeSemanticOnly
	}

	start := time.Now()
	var (
		hits []*domain.SearchHit
		err  error
	)

	switch mode {
	case domain.SearchModeSemanticOnly:
		hits, err = s.retrievalService.SemanticSearch(r.Context(), req.Query, authCtx.OwnerID(), req.searchOptions(s.searchDefaults.SearchOptions))
	case domain.SearchModeHybrid:
		hits, err = s.retrievalService.HybridSearch(r.Context(), req.Query, authCtx.OwnerID(), req.hybridOptions(s.searchDefaults))
	default:
		writeError(w, http.StatusBadRequest, "mode must be semantic or hybrid")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if hits == nil {
		hits = []*domain.SearchHit{}
	}
	writeJSON(w, http.StatusOK, domain.SearchResult{
		Query:      req.Query,
		Mode:       mode,
		Results:    hits,
		TotalCount: len(hits),
		Took:       time.Since(start),
	})
}

func (req SearchRequest) searchOptions(opts domain.SearchOptions) domain.SearchOptions {
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	opts.IncludeMetadata = req.IncludeMetadata
	opts.FilterDocIDs = req.DocumentIDs
	opts.ExcludeDocIDs = req.ExcludeIDs
	return opts
}

func (req SearchRequest) hybridOptions(opts domain.HybridOptions) domain.HybridOptions {
	opts.SearchOptions = req.searchOptions(opts.SearchOptions)
	if req.KeywordWeight != nil {
		opts.KeywordWeight = *req.KeywordWeight
	}
	if req.SemanticWeight != nil {
		opts.SemanticWeight = *req.SemanticWeight
	}
	if req.KeywordBoost != nil {
		opts.KeywordBoost = *req.KeywordBoost
	}
	if req.NormalizeLexical {
		opts.NormalizeLexical = true
	}
	return opts
}

// handleContext godoc
// @Summary      Build conversation context
// @Description  Joins the best matching chunks into one block with source attribution
// @Tags         Search
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      ContextRequest  true  "Query and limits"
// @Success      200      {object}  domain.DocumentContext
// @Failure      400      {object}  ErrorResponse
// @Router       /context [post]
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := domain.ContextOptions{
		MaxChunks: req.MaxChunks,
		Threshold: s.searchDefaults.Threshold,
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}

	result, err := s.retrievalService.GetDocumentContext(r.Context(), req.Query, authCtx.OwnerID(), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleEstimateEmbeddings godoc
// @Summary      Estimate embedding cost
// @Description  Prices embedding the given texts without calling the provider
// @Tags         Search
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      EstimateRequest  true  "Texts and model"
// @Success      200      {object}  domain.CostEstimate
// @Failure      400      {object}  ErrorResponse
// @Router       /embeddings/estimate [post]
func (s *Server) handleEstimateEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, s.retrievalService.EstimateCost(req.Texts, req.Model))
}

// Helper functions

// writeServiceError maps domain errors to HTTP status codes
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", RequestID(r.Context()), "status", status, "error", err)
	}
	writeError(w, status, msg)
}

func errorStatus(err error) (int, string) {
	var provErr *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyInput),
		errors.Is(err, domain.ErrEmptyContent):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrStatusConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenInvalid):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.As(err, &provErr):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

func parseInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
