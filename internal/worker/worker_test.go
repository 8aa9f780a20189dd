package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driving"
)

// mockTaskQueue implements driven.TaskQueue for testing
type mockTaskQueue struct {
	mu           sync.Mutex
	tasks        []*domain.Task
	dequeueDelay time.Duration
	dequeueFn    func() (*domain.Task, error)
	ackFn        func(string) error
	nackFn       func(string, string) error
	pingFn       func() error
}

func newMockTaskQueue() *mockTaskQueue {
	return &mockTaskQueue{
		tasks: make([]*domain.Task, 0),
	}
}

func (m *mockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *mockTaskQueue) Dequeue(ctx context.Context) (*domain.Task, error) {
	if m.dequeueFn != nil {
		return m.dequeueFn()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tasks) == 0 {
		return nil, nil
	}
	task := m.tasks[0]
	m.tasks = m.tasks[1:]
	return task, nil
}

func (m *mockTaskQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	delay := m.dequeueDelay
	if delay == 0 {
		delay = 10 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.Dequeue(ctx)
}

func (m *mockTaskQueue) Ack(ctx context.Context, taskID string) error {
	if m.ackFn != nil {
		return m.ackFn(taskID)
	}
	return nil
}

func (m *mockTaskQueue) Nack(ctx context.Context, taskID string, reason string) error {
	if m.nackFn != nil {
		return m.nackFn(taskID, reason)
	}
	return nil
}

func (m *mockTaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockTaskQueue) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn()
	}
	return nil
}

func (m *mockTaskQueue) Close() error {
	return nil
}

// mockIngestService implements driving.IngestService for testing
type mockIngestService struct {
	processPendingFn func(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error)
	reprocessFn      func(ctx context.Context, documentID, ownerID string, force bool) (*domain.ReprocessResult, error)
}

func (m *mockIngestService) ProcessDocument(ctx context.Context, req *domain.IngestRequest) (*domain.ProcessResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockIngestService) SubmitDocument(ctx context.Context, req *domain.IngestRequest) (*domain.ProcessResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockIngestService) ProcessPending(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error) {
	if m.processPendingFn != nil {
		return m.processPendingFn(ctx, documentID, opts)
	}
	return &domain.ProcessResult{Success: true}, nil
}

func (m *mockIngestService) ReprocessDocument(ctx context.Context, documentID, ownerID string, force bool) (*domain.ReprocessResult, error) {
	if m.reprocessFn != nil {
		return m.reprocessFn(ctx, documentID, ownerID, force)
	}
	return &domain.ReprocessResult{DocumentID: documentID}, nil
}

func (m *mockIngestService) EnqueueReprocess(ctx context.Context, documentID, ownerID string, force bool) (*domain.Task, error) {
	return nil, errors.New("not implemented")
}

// mockBackground records lifecycle calls
type mockBackground struct {
	started atomic.Int32
	stopped atomic.Int32
	err     error
}

func (m *mockBackground) Start(ctx context.Context) error {
	m.started.Add(1)
	return m.err
}

func (m *mockBackground) Stop() {
	m.stopped.Add(1)
}

var (
	_ driven.TaskQueue      = (*mockTaskQueue)(nil)
	_ driving.IngestService = (*mockIngestService)(nil)
	_ Background            = (*mockBackground)(nil)
)

func TestNewWorker(t *testing.T) {
	queue := newMockTaskQueue()
	logger := slog.Default()

	w := NewWorker(WorkerConfig{
		TaskQueue:      queue,
		Ingest:         &mockIngestService{},
		Logger:         logger,
		Concurrency:    2,
		DequeueTimeout: 5,
	})

	if w == nil {
		t.Fatal("expected non-nil worker")
	}
	if w.concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", w.concurrency)
	}
	if w.dequeueTimeout != 5 {
		t.Errorf("expected dequeue timeout 5, got %d", w.dequeueTimeout)
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	queue := newMockTaskQueue()

	w := NewWorker(WorkerConfig{
		TaskQueue:      queue,
		Concurrency:    0, // Should default to 1
		DequeueTimeout: 0, // Should default to 5
	})

	if w.concurrency != 1 {
		t.Errorf("expected default concurrency 1, got %d", w.concurrency)
	}
	if w.dequeueTimeout != 5 {
		t.Errorf("expected default dequeue timeout 5, got %d", w.dequeueTimeout)
	}
	if w.logger == nil {
		t.Error("expected default logger")
	}
	if w.processOptions.Chunk != domain.DefaultChunkOptions() {
		t.Errorf("expected default chunk options, got %+v", w.processOptions.Chunk)
	}
}

func TestWorker_StartStop(t *testing.T) {
	queue := newMockTaskQueue()
	// Add delay so workers don't spin too fast
	queue.dequeueDelay = 100 * time.Millisecond
	bg := &mockBackground{}

	w := NewWorker(WorkerConfig{
		TaskQueue:      queue,
		Ingest:         &mockIngestService{},
		Background:     bg,
		Concurrency:    1,
		DequeueTimeout: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	if !w.Health(ctx).Running {
		t.Error("expected worker to be running")
	}

	// Start again should be no-op
	if err := w.Start(ctx); err != nil {
		t.Errorf("second start should not error: %v", err)
	}

	w.Stop()

	if w.Health(ctx).Running {
		t.Error("expected worker to be stopped")
	}

	// Stop again should be no-op
	w.Stop()

	if got := bg.started.Load(); got != 1 {
		t.Errorf("expected background started once, got %d", got)
	}
	if got := bg.stopped.Load(); got != 1 {
		t.Errorf("expected background stopped once, got %d", got)
	}
}

func TestWorker_Start_BackgroundError(t *testing.T) {
	queue := newMockTaskQueue()
	bg := &mockBackground{err: errors.New("lock unavailable")}

	w := NewWorker(WorkerConfig{
		TaskQueue:   queue,
		Ingest:      &mockIngestService{},
		Background:  bg,
		Concurrency: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A failing background loop does not stop task processing
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	if !w.Health(ctx).Running {
		t.Error("expected worker to be running")
	}
	w.Stop()
}

func TestWorker_Health(t *testing.T) {
	w := NewWorker(WorkerConfig{
		TaskQueue:   newMockTaskQueue(),
		Concurrency: 1,
	})

	health := w.Health(context.Background())
	if health.Running {
		t.Error("expected not running")
	}
	if !health.QueueHealth {
		t.Error("expected queue to be healthy")
	}
}

func TestWorker_Health_QueueError(t *testing.T) {
	queue := newMockTaskQueue()
	queue.pingFn = func() error {
		return errors.New("connection failed")
	}

	w := NewWorker(WorkerConfig{
		TaskQueue:   queue,
		Concurrency: 1,
	})

	health := w.Health(context.Background())
	if health.QueueHealth {
		t.Error("expected queue to be unhealthy")
	}
	if health.Error != "connection failed" {
		t.Errorf("expected error message, got %q", health.Error)
	}
}

func TestWorker_ProcessTask_UnknownType(t *testing.T) {
	queue := newMockTaskQueue()

	var nacked []string
	queue.nackFn = func(taskID, reason string) error {
		nacked = append(nacked, taskID)
		return nil
	}

	task := &domain.Task{
		ID:      "task-123",
		Type:    domain.TaskType("unknown_type"),
		OwnerID: "owner-1",
	}

	w := NewWorker(WorkerConfig{
		TaskQueue:   queue,
		Ingest:      &mockIngestService{},
		Concurrency: 1,
	})

	w.processTask(context.Background(), task, slog.Default())

	if len(nacked) != 1 {
		t.Errorf("expected 1 nack for unknown type, got %d", len(nacked))
	}
}

func TestWorker_ProcessTask_MissingDocumentID(t *testing.T) {
	for _, taskType := range []domain.TaskType{domain.TaskTypeProcessDocument, domain.TaskTypeReprocessDocument} {
		t.Run(string(taskType), func(t *testing.T) {
			queue := newMockTaskQueue()

			var reasons []string
			queue.nackFn = func(taskID, reason string) error {
				reasons = append(reasons, reason)
				return nil
			}

			ingest := &mockIngestService{
				processPendingFn: func(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error) {
					t.Error("ingest should not be called")
					return nil, nil
				},
				reprocessFn: func(ctx context.Context, documentID, ownerID string, force bool) (*domain.ReprocessResult, error) {
					t.Error("ingest should not be called")
					return nil, nil
				},
			}

			task := &domain.Task{
				ID:      "task-123",
				Type:    taskType,
				OwnerID: "owner-1",
			}

			w := NewWorker(WorkerConfig{
				TaskQueue: queue,
				Ingest:    ingest,
			})
			w.processTask(context.Background(), task, slog.Default())

			if len(reasons) != 1 {
				t.Fatalf("expected 1 nack for missing document_id, got %d", len(reasons))
			}
			if reasons[0] != "document_id not found in task payload" {
				t.Errorf("unexpected nack reason %q", reasons[0])
			}
		})
	}
}

func TestWorker_HandleProcessDocument_Success(t *testing.T) {
	queue := newMockTaskQueue()

	var acked []string
	queue.ackFn = func(taskID string) error {
		acked = append(acked, taskID)
		return nil
	}

	var gotID string
	var gotOpts domain.ProcessOptions
	ingest := &mockIngestService{
		processPendingFn: func(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error) {
			gotID = documentID
			gotOpts = opts
			return &domain.ProcessResult{Success: true, TotalTokens: 42}, nil
		},
	}

	opts := domain.DefaultProcessOptions()
	opts.Chunk.MaxChunkSize = 750

	w := NewWorker(WorkerConfig{
		TaskQueue:      queue,
		Ingest:         ingest,
		ProcessOptions: &opts,
	})

	task := domain.NewProcessDocumentTask("owner-1", "doc-1", false)
	w.processTask(context.Background(), task, slog.Default())

	if len(acked) != 1 || acked[0] != task.ID {
		t.Errorf("expected task %s acked, got %v", task.ID, acked)
	}
	if gotID != "doc-1" {
		t.Errorf("expected document doc-1, got %q", gotID)
	}
	if gotOpts.GenerateEmbeddings {
		t.Error("expected generate_embeddings=false from payload")
	}
	if gotOpts.Chunk.MaxChunkSize != 750 {
		t.Errorf("expected configured chunk size 750, got %d", gotOpts.Chunk.MaxChunkSize)
	}
}

func TestWorker_HandleProcessDocument_DefaultsEmbeddingsOn(t *testing.T) {
	var gotOpts domain.ProcessOptions
	ingest := &mockIngestService{
		processPendingFn: func(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error) {
			gotOpts = opts
			return &domain.ProcessResult{Success: true}, nil
		},
	}

	w := NewWorker(WorkerConfig{
		TaskQueue: newMockTaskQueue(),
		Ingest:    ingest,
	})

	task := &domain.Task{
		ID:      "task-123",
		Type:    domain.TaskTypeProcessDocument,
		OwnerID: "owner-1",
		Payload: map[string]string{domain.PayloadDocumentID: "doc-1"},
	}
	w.processTask(context.Background(), task, slog.Default())

	if !gotOpts.GenerateEmbeddings {
		t.Error("expected embeddings on when payload omits the flag")
	}
}

func TestWorker_HandleProcessDocument_NotSuccessful(t *testing.T) {
	queue := newMockTaskQueue()

	var acked, nacked []string
	queue.ackFn = func(taskID string) error {
		acked = append(acked, taskID)
		return nil
	}
	queue.nackFn = func(taskID, reason string) error {
		nacked = append(nacked, taskID)
		return nil
	}

	ingest := &mockIngestService{
		processPendingFn: func(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error) {
			return &domain.ProcessResult{Success: false, Error: "no text content"}, nil
		},
	}

	w := NewWorker(WorkerConfig{
		TaskQueue: queue,
		Ingest:    ingest,
	})

	task := domain.NewProcessDocumentTask("owner-1", "doc-1", true)
	w.processTask(context.Background(), task, slog.Default())

	// The failure is recorded on the document; retrying would not help
	if len(acked) != 1 {
		t.Errorf("expected 1 ack, got %d", len(acked))
	}
	if len(nacked) != 0 {
		t.Errorf("expected no nacks, got %d", len(nacked))
	}
}

func TestWorker_HandleProcessDocument_Error(t *testing.T) {
	queue := newMockTaskQueue()

	var reasons []string
	queue.nackFn = func(taskID, reason string) error {
		reasons = append(reasons, reason)
		return nil
	}

	ingest := &mockIngestService{
		processPendingFn: func(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error) {
			return nil, domain.ErrServiceUnavailable
		},
	}

	w := NewWorker(WorkerConfig{
		TaskQueue: queue,
		Ingest:    ingest,
	})

	task := domain.NewProcessDocumentTask("owner-1", "doc-1", true)
	w.processTask(context.Background(), task, slog.Default())

	if len(reasons) != 1 {
		t.Fatalf("expected 1 nack, got %d", len(reasons))
	}
	if reasons[0] != domain.ErrServiceUnavailable.Error() {
		t.Errorf("expected nack reason %q, got %q", domain.ErrServiceUnavailable.Error(), reasons[0])
	}
}

func TestWorker_HandleReprocessDocument(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		err       error
		wantAcks  int
		wantNacks int
	}{
		{name: "missing only", force: false, wantAcks: 1},
		{name: "forced", force: true, wantAcks: 1},
		{name: "rate limited", err: domain.ErrRateLimited, wantNacks: 1},
		{name: "provider error", err: domain.NewProviderError(domain.ProviderErrorGeneric, 500, errors.New("boom")), wantNacks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := newMockTaskQueue()

			var acks, nacks int
			queue.ackFn = func(string) error { acks++; return nil }
			queue.nackFn = func(string, string) error { nacks++; return nil }

			var gotOwner string
			var gotForce bool
			ingest := &mockIngestService{
				reprocessFn: func(ctx context.Context, documentID, ownerID string, force bool) (*domain.ReprocessResult, error) {
					gotOwner = ownerID
					gotForce = force
					if tt.err != nil {
						return nil, tt.err
					}
					return &domain.ReprocessResult{DocumentID: documentID, UpdatedChunks: 3}, nil
				},
			}

			w := NewWorker(WorkerConfig{
				TaskQueue: queue,
				Ingest:    ingest,
			})

			task := domain.NewReprocessDocumentTask("owner-1", "doc-1", tt.force)
			w.processTask(context.Background(), task, slog.Default())

			if acks != tt.wantAcks || nacks != tt.wantNacks {
				t.Errorf("expected %d acks/%d nacks, got %d/%d", tt.wantAcks, tt.wantNacks, acks, nacks)
			}
			if gotOwner != "owner-1" {
				t.Errorf("expected owner-1, got %q", gotOwner)
			}
			if gotForce != tt.force {
				t.Errorf("expected force=%v, got %v", tt.force, gotForce)
			}
		})
	}
}

func TestWorker_ContextCancellation(t *testing.T) {
	queue := newMockTaskQueue()
	// Slow dequeue so we can cancel
	queue.dequeueDelay = 500 * time.Millisecond

	w := NewWorker(WorkerConfig{
		TaskQueue:      queue,
		Ingest:         &mockIngestService{},
		Concurrency:    1,
		DequeueTimeout: 10,
	})

	ctx, cancel := context.WithCancel(context.Background())

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("worker did not stop after context cancellation")
		w.Stop()
	}
}

func TestWorker_ProcessLoop_WithTasks(t *testing.T) {
	queue := newMockTaskQueue()

	var mu sync.Mutex
	var acked []string
	queue.ackFn = func(taskID string) error {
		mu.Lock()
		defer mu.Unlock()
		acked = append(acked, taskID)
		return nil
	}
	ackCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(acked)
	}

	_ = queue.Enqueue(context.Background(), domain.NewProcessDocumentTask("owner-1", "doc-1", true))
	_ = queue.Enqueue(context.Background(), domain.NewReprocessDocumentTask("owner-1", "doc-2", false))

	w := NewWorker(WorkerConfig{
		TaskQueue:      queue,
		Ingest:         &mockIngestService{},
		Concurrency:    2,
		DequeueTimeout: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ackCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	w.Stop()

	if got := ackCount(); got != 2 {
		t.Errorf("expected 2 acks, got %d", got)
	}
}

func TestWorker_ProcessLoop_DequeueError(t *testing.T) {
	queue := newMockTaskQueue()
	var calls atomic.Int32
	queue.dequeueFn = func() (*domain.Task, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("temporary error")
		}
		return nil, nil
	}

	w := NewWorker(WorkerConfig{
		TaskQueue:      queue,
		Ingest:         &mockIngestService{},
		Concurrency:    1,
		DequeueTimeout: 1,
	})

	// Longer than the 1s backoff after an error
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)
	w.Stop()

	if got := calls.Load(); got < 2 {
		t.Errorf("expected at least 2 dequeue attempts, got %d", got)
	}
}

func TestWorker_Stop_InterruptsBackoff(t *testing.T) {
	queue := newMockTaskQueue()
	queue.dequeueFn = func() (*domain.Task, error) {
		return nil, errors.New("redis down")
	}

	w := NewWorker(WorkerConfig{
		TaskQueue:   queue,
		Ingest:      &mockIngestService{},
		Concurrency: 1,
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("stop waited for the full backoff")
	}
}

func TestWorker_Ack_Error(t *testing.T) {
	queue := newMockTaskQueue()

	ackCalled := false
	queue.ackFn = func(taskID string) error {
		ackCalled = true
		return errors.New("ack failed")
	}

	w := NewWorker(WorkerConfig{
		TaskQueue: queue,
		Ingest:    &mockIngestService{},
	})

	// This should not panic even if ack fails
	w.processTask(context.Background(), domain.NewProcessDocumentTask("owner-1", "doc-1", true), slog.Default())

	if !ackCalled {
		t.Error("expected ack to be called")
	}
}

func TestWorker_Nack_Error(t *testing.T) {
	queue := newMockTaskQueue()

	nackCalled := false
	queue.nackFn = func(taskID, reason string) error {
		nackCalled = true
		return errors.New("nack failed")
	}

	ingest := &mockIngestService{
		processPendingFn: func(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.ProcessResult, error) {
			return nil, errors.New("database unavailable")
		},
	}

	w := NewWorker(WorkerConfig{
		TaskQueue: queue,
		Ingest:    ingest,
	})

	// This should not panic even if nack fails
	w.processTask(context.Background(), domain.NewProcessDocumentTask("owner-1", "doc-1", true), slog.Default())

	if !nackCalled {
		t.Error("expected nack to be called")
	}
}
