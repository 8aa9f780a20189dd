package main

// @title           ThinkPod API
// @version         1.0
// @description     Document ingestion and retrieval API. ThinkPod extracts, chunks and embeds uploaded documents and serves semantic and hybrid search over them.

// @contact.name   ThinkPod
// @contact.url    https://github.com/lordmuffin/ThinkPod/issues

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/lordmuffin/ThinkPod/internal/adapters/driven/ai"
	"github.com/lordmuffin/ThinkPod/internal/adapters/driven/auth"
	"github.com/lordmuffin/ThinkPod/internal/adapters/driven/postgres"
	postgresqueue "github.com/lordmuffin/ThinkPod/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/lordmuffin/ThinkPod/internal/adapters/driven/queue/redis"
	redisadapter "github.com/lordmuffin/ThinkPod/internal/adapters/driven/redis"
	"github.com/lordmuffin/ThinkPod/internal/adapters/driven/storage"
	"github.com/lordmuffin/ThinkPod/internal/adapters/driving/http"
	"github.com/lordmuffin/ThinkPod/internal/config"
	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
	"github.com/lordmuffin/ThinkPod/internal/core/services"
	"github.com/lordmuffin/ThinkPod/internal/runtime"
	"github.com/lordmuffin/ThinkPod/internal/worker"
)

var version = "dev"

// pingFunc adapts a function to the http.Pinger interface
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	if err := run(); err != nil {
		slog.Error("thinkpod exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Command line arg overrides RUN_MODE
	mode := cfg.Server.Mode
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	logger.Info("thinkpod starting", "version", version, "mode", mode)
	if cfg.UsesDevSecret() {
		logger.Warn("JWT_SECRET is not set, using the development secret")
	}

	// Setup context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ===== Initialize PostgreSQL =====
	logger.Info("connecting to postgres")
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:                 cfg.Database.URL,
		MaxOpenConns:        cfg.Database.MaxOpenConns,
		MaxIdleConns:        cfg.Database.MaxIdleConns,
		ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
		EmbeddingDimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	// Initialize schema (idempotent)
	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	logger.Info("postgres connected and schema initialized", "dimensions", db.Dimensions())

	// ===== Initialize Redis (optional) =====
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		logger.Info("connecting to redis")
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("redis connected")
	}

	// ===== Task Queue and Lock (Redis if available, otherwise PostgreSQL) =====
	var (
		taskQueue       driven.TaskQueue
		distributedLock driven.DistributedLock
		queueBackend    string
	)
	if redisClient != nil {
		q, err := redisqueue.NewQueue(redisClient, fmt.Sprintf("worker-%d", os.Getpid()), logger)
		if err != nil {
			return fmt.Errorf("create task queue: %w", err)
		}
		taskQueue = q
		distributedLock = redisadapter.NewLock(redisClient)
		queueBackend = "redis"
	} else {
		taskQueue = postgresqueue.NewQueue(db.DB)
		distributedLock = postgres.NewAdvisoryLock(db)
		queueBackend = "postgres"
	}
	logger.Info("task queue ready", "backend", queueBackend)

	// ===== File Storage =====
	fileStorage, err := newFileStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	logger.Info("file storage ready", "backend", cfg.Storage.Backend)

	// ===== Embedding provider =====
	runtimeServices := runtime.NewServices(cfg.Storage.Backend, queueBackend)
	defer runtimeServices.Close()

	embeddingService, err := ai.NewFactory().CreateEmbeddingService(ai.Settings{
		Provider:     cfg.Embedding.Provider,
		APIKey:       cfg.Embedding.APIKey,
		Model:        cfg.Embedding.Model,
		BaseURL:      cfg.Embedding.BaseURL,
		Dimensions:   cfg.Embedding.Dimensions,
		MaxBatchSize: cfg.Embedding.BatchSize,
		Timeout:      cfg.Embedding.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create embedding service: %w", err)
	}
	if err := runtimeServices.ValidateAndSetEmbedding(ctx, embeddingService, db.Dimensions()); err != nil {
		// Ingestion still stores text; embeddings can be backfilled by reprocessing
		logger.Warn("embedding provider unavailable", "provider", cfg.Embedding.Provider, "error", err)
	}
	if redisClient != nil {
		runtimeServices.SetEmbeddingCache(redisadapter.NewEmbeddingCache(redisClient))
	}

	caps := runtimeServices.Capabilities()
	logger.Info("capabilities",
		"storage_backend", caps.StorageBackend,
		"queue_backend", caps.QueueBackend,
		"embedding_model", caps.EmbeddingModel,
		"semantic_search", caps.SemanticSearch(),
	)

	// ===== Core services =====
	documentStore := postgres.NewDocumentStore(db)
	chunkStore := postgres.NewChunkStore(db)

	embedder := services.NewEmbedder(services.EmbedderConfig{
		Services:      runtimeServices,
		Logger:        logger,
		RetryAttempts: cfg.Embedding.RetryAttempts,
		RetryDelay:    cfg.Embedding.RetryDelay,
		BatchPause:    cfg.Embedding.BatchPause,
		CacheTTL:      cfg.Embedding.CacheTTL,
	})

	orchestrator := services.NewOrchestrator(services.OrchestratorConfig{
		DocumentStore: documentStore,
		ChunkStore:    chunkStore,
		FileStorage:   fileStorage,
		TaskQueue:     taskQueue,
		Embedder:      embedder,
		Logger:        logger,
	})

	documentService := services.NewDocumentService(services.DocumentServiceConfig{
		DocumentStore: documentStore,
		ChunkStore:    chunkStore,
		FileStorage:   fileStorage,
		Logger:        logger,
	})

	retriever := services.NewRetriever(services.RetrieverConfig{
		ChunkStore:    chunkStore,
		DocumentStore: documentStore,
		Embedder:      embedder,
		Logger:        logger,
	})

	processDefaults := cfg.ProcessOptions()
	searchDefaults := cfg.SearchDefaults()

	// ===== Worker =====
	var background worker.Background
	if cfg.Watchdog.Enabled {
		background = services.NewWatchdog(services.WatchdogConfig{
			DocumentStore: documentStore,
			Lock:          distributedLock,
			Logger:        logger,
			PollInterval:  cfg.Watchdog.Interval,
			StaleAfter:    cfg.Watchdog.StaleAfter,
		})
	}

	w := worker.NewWorker(worker.WorkerConfig{
		TaskQueue:      taskQueue,
		Ingest:         orchestrator,
		Background:     background,
		Logger:         logger,
		Concurrency:    cfg.Worker.Concurrency,
		DequeueTimeout: cfg.Worker.DequeueTimeout,
		ProcessOptions: &processDefaults,
	})

	// ===== HTTP server =====
	pingers := map[string]http.Pinger{
		"database": db,
		"queue":    taskQueue,
	}
	if redisClient != nil {
		pingers["redis"] = pingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if p, ok := fileStorage.(http.Pinger); ok {
		pingers["storage"] = p
	}
	if cfg.Embedding.Provider != "" {
		pingers["embedding"] = runtimeServices
	}

	server := http.NewServer(http.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Version:         version,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxUploadSize:   cfg.Server.MaxUploadSize,
		Logger:          logger,
		ProcessDefaults: &processDefaults,
		SearchDefaults:  &searchDefaults,
	}, http.Services{
		Ingest:       orchestrator,
		Documents:    documentService,
		Retrieval:    retriever,
		Verifier:     auth.NewAdapter(cfg.Auth.JWTSecret),
		Capabilities: runtimeServices,
	}, pingers)

	switch mode {
	case config.ModeAPI:
		return server.Start(ctx)

	case config.ModeWorker:
		return runWorker(ctx, w, logger)

	case config.ModeAll:
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runWorker(ctx, w, logger); err != nil {
				logger.Error("worker error", "error", err)
			}
		}()
		err := server.Start(ctx)
		stop()
		wg.Wait()
		return err

	default:
		return fmt.Errorf("unknown mode: %s (use: api, worker, or all)", mode)
	}
}

// runWorker processes queued tasks until ctx is cancelled
func runWorker(ctx context.Context, w *worker.Worker, logger *slog.Logger) error {
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker started",
		"task_types", []domain.TaskType{domain.TaskTypeProcessDocument, domain.TaskTypeReprocessDocument},
	)

	<-ctx.Done()

	logger.Info("stopping worker")
	w.Stop()
	return nil
}

func newFileStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (driven.FileStorage, error) {
	switch cfg.Backend {
	case config.StorageMinIO:
		s, err := storage.NewMinIOStorage(ctx, storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to minio: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStorage(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		return s, nil
	}
}
