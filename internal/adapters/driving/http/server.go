package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driving"
)

// DefaultMaxUploadSize bounds multipart uploads (50 MiB)
const DefaultMaxUploadSize int64 = 50 << 20

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	maxUpload  int64
	logger     *slog.Logger

	// Request defaults
	processDefaults domain.ProcessOptions
	searchDefaults  domain.HybridOptions

	// Services
	ingestService    driving.IngestService
	docService       driving.DocumentService
	retrievalService driving.RetrievalService
	verifier         driven.TokenVerifier
	capabilities     CapabilityReporter

	// Infrastructure health checks, keyed by dependency name.
	// Nil entries are skipped.
	pingers map[string]Pinger
}

// Config holds server configuration
type Config struct {
	Host          string
	Port          int
	Version       string
	CORSOrigins   []string
	MaxUploadSize int64
	Logger        *slog.Logger

	// Defaults applied to uploads and searches that omit options.
	// Nil falls back to the domain defaults.
	ProcessDefaults *domain.ProcessOptions
	SearchDefaults  *domain.HybridOptions
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          8080,
		Version:       "dev",
		CORSOrigins:   []string{"*"},
		MaxUploadSize: DefaultMaxUploadSize,
	}
}

// CapabilityReporter describes the backends and embedding model in use
type CapabilityReporter interface {
	Capabilities() domain.Capabilities
}

// Services groups the driving ports served over HTTP
type Services struct {
	Ingest       driving.IngestService
	Documents    driving.DocumentService
	Retrieval    driving.RetrievalService
	Verifier     driven.TokenVerifier
	Capabilities CapabilityReporter // Optional: reported by GET /version
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services, pingers map[string]Pinger) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	processDefaults := domain.DefaultProcessOptions()
	if cfg.ProcessDefaults != nil {
		processDefaults = *cfg.ProcessDefaults
	}
	searchDefaults := domain.DefaultHybridOptions()
	if cfg.SearchDefaults != nil {
		searchDefaults = *cfg.SearchDefaults
	}

	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		maxUpload:        cfg.MaxUploadSize,
		logger:           cfg.Logger,
		processDefaults:  processDefaults,
		searchDefaults:   searchDefaults,
		ingestService:    svc.Ingest,
		docService:       svc.Documents,
		retrievalService: svc.Retrieval,
		verifier:         svc.Verifier,
		capabilities:     svc.Capabilities,
		pingers:          pingers,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.buildHandler(cfg.CORSOrigins),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute, // synchronous ingestion waits on the embedding provider
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// buildHandler applies the middleware chain, outermost first:
// CORS, recovery, logging, router.
func (s *Server) buildHandler(origins []string) http.Handler {
	var handler http.Handler = s.router
	handler = NewRecoveryMiddleware(s.logger).Handler(handler)
	handler = NewLoggingMiddleware(s.logger).Handler(handler)
	return NewCORSHandler(origins, handler)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.verifier)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Document endpoints
	s.router.Handle("POST /api/v1/documents", protected(s.handleUploadDocument))
	s.router.Handle("GET /api/v1/documents", protected(s.handleListDocuments))
	s.router.Handle("GET /api/v1/documents/stats", protected(s.handleDocumentStats))
	s.router.Handle("GET /api/v1/documents/{id}", protected(s.handleGetDocument))
	s.router.Handle("PATCH /api/v1/documents/{id}", protected(s.handleUpdateDocument))
	s.router.Handle("DELETE /api/v1/documents/{id}", protected(s.handleDeleteDocument))
	s.router.Handle("POST /api/v1/documents/{id}/reprocess", protected(s.handleReprocessDocument))
	s.router.Handle("GET /api/v1/documents/{id}/chunks", protected(s.handleGetDocumentChunks))
	s.router.Handle("GET /api/v1/documents/{id}/similar", protected(s.handleSimilarDocuments))

	// Retrieval endpoints
	s.router.Handle("POST /api/v1/search", protected(s.handleSearch))
	s.router.Handle("POST /api/v1/context", protected(s.handleContext))
	s.router.Handle("POST /api/v1/embeddings/estimate", protected(s.handleEstimateEmbeddings))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
