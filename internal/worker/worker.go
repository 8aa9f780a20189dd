package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driving"
)

// Background is a loop that runs for the worker's lifetime, such as the
// stale document watchdog.
type Background interface {
	Start(ctx context.Context) error
	Stop()
}

// Worker processes tasks from the task queue.
// It runs the ingestion pipeline for each document task.
type Worker struct {
	taskQueue  driven.TaskQueue
	ingest     driving.IngestService
	background Background
	logger     *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds
	processOptions domain.ProcessOptions

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue      driven.TaskQueue
	Ingest         driving.IngestService
	Background     Background // Optional: started and stopped with the worker
	Logger         *slog.Logger
	Concurrency    int                    // Number of concurrent task processors
	DequeueTimeout int                    // Seconds to wait for a task before checking again
	ProcessOptions *domain.ProcessOptions // Default: domain.DefaultProcessOptions()
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	opts := domain.DefaultProcessOptions()
	if cfg.ProcessOptions != nil {
		opts = *cfg.ProcessOptions
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		ingest:         cfg.Ingest,
		background:     cfg.Background,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		processOptions: opts,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.background != nil {
		if err := w.background.Start(ctx); err != nil {
			w.logger.Error("failed to start background loop", "error", err)
		}
	}

	// Start worker goroutines
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	// Wait for all workers to finish
	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.background != nil {
		w.background.Stop()
	}

	// Wait for workers to finish
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			w.pause(ctx, time.Second) // Back off on error
			continue
		}

		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-w.stopCh:
	}
}

// processTask runs a single task, then acks it or nacks it for retry.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With(
		"task_id", task.ID,
		"task_type", task.Type,
		"owner_id", task.OwnerID,
		"document_id", task.DocumentID(),
		"attempt", task.Attempts,
	)
	logger.Info("processing task")

	startTime := time.Now()
	var err error

	switch task.Type {
	case domain.TaskTypeProcessDocument:
		err = w.handleProcessDocument(ctx, task, logger)
	case domain.TaskTypeReprocessDocument:
		err = w.handleReprocessDocument(ctx, task, logger)
	default:
		err = fmt.Errorf("unknown task type: %s", task.Type)
	}

	duration := time.Since(startTime)

	if err != nil {
		logger.Error("task failed", "duration", duration, "error", err)

		// Nack the task so it can be retried
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	logger.Info("task completed", "duration", duration)

	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

// handleProcessDocument runs the pipeline for a submitted document.
// A failed pipeline is already recorded on the document, so it is not retried.
func (w *Worker) handleProcessDocument(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	documentID := task.DocumentID()
	if documentID == "" {
		return fmt.Errorf("document_id not found in task payload")
	}

	opts := w.processOptions
	opts.GenerateEmbeddings = task.BoolPayload(domain.PayloadGenerateEmbeddings, opts.GenerateEmbeddings)

	result, err := w.ingest.ProcessPending(ctx, documentID, opts)
	if err != nil {
		return err
	}

	if !result.Success {
		logger.Warn("document processing failed", "error", result.Error)
		return nil
	}

	logger.Info("document processed",
		"chunk_count", len(result.Chunks),
		"total_tokens", result.TotalTokens,
	)
	return nil
}

// handleReprocessDocument embeds a document's chunks again.
// Provider errors are returned so the queue retries with backoff.
func (w *Worker) handleReprocessDocument(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	documentID := task.DocumentID()
	if documentID == "" {
		return fmt.Errorf("document_id not found in task payload")
	}

	force := task.BoolPayload(domain.PayloadForce, false)
	result, err := w.ingest.ReprocessDocument(ctx, documentID, task.OwnerID, force)
	if err != nil {
		return err
	}

	logger.Info("document reprocessed",
		"updated_chunks", result.UpdatedChunks,
		"total_tokens", result.TotalTokens,
	)
	return nil
}

// Health reports the worker and queue state.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
