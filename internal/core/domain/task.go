package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeProcessDocument runs the ingestion pipeline for a pending document
	TaskTypeProcessDocument TaskType = "process_document"
	// TaskTypeReprocessDocument re-embeds the chunks of a document
	TaskTypeReprocessDocument TaskType = "reprocess_document"
)

// Payload keys
const (
	PayloadDocumentID         = "document_id"
	PayloadForce              = "force"
	PayloadGenerateEmbeddings = "generate_embeddings"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a background job to be processed by workers
type Task struct {
	// ID is the unique identifier for this task
	ID string `json:"id"`

	// Type identifies what kind of task this is
	Type TaskType `json:"type"`

	// OwnerID is the owner of the document the task operates on
	OwnerID string `json:"owner_id"`

	// Payload contains task-specific data, e.g. {"document_id": "..."}
	Payload map[string]string `json:"payload"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	// Default is 0, range is -100 to 100
	Priority int `json:"priority"`

	// Attempts is how many times this task has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum retry count before giving up
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	// CreatedAt is when the task was enqueued
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task was last modified
	UpdatedAt time.Time `json:"updated_at"`

	// StartedAt is when processing began (nil if not started)
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when processing finished (nil if not complete)
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the task should be processed (for delayed tasks)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, ownerID string, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		OwnerID:      ownerID,
		Payload:      payload,
		Status:       TaskStatusPending,
		Priority:     0,
		Attempts:     0,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewProcessDocumentTask creates a task to ingest a pending document
func NewProcessDocumentTask(ownerID, documentID string, generateEmbeddings bool) *Task {
	return NewTask(TaskTypeProcessDocument, ownerID, map[string]string{
		PayloadDocumentID:         documentID,
		PayloadGenerateEmbeddings: strconv.FormatBool(generateEmbeddings),
	})
}

// NewReprocessDocumentTask creates a task to re-embed a document
func NewReprocessDocumentTask(ownerID, documentID string, force bool) *Task {
	return NewTask(TaskTypeReprocessDocument, ownerID, map[string]string{
		PayloadDocumentID: documentID,
		PayloadForce:      strconv.FormatBool(force),
	})
}

// DocumentID extracts the document_id from the payload
func (t *Task) DocumentID() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[PayloadDocumentID]
}

// BoolPayload reads a boolean payload value, falling back to def when absent
func (t *Task) BoolPayload(key string, def bool) bool {
	if t.Payload == nil {
		return def
	}
	v, err := strconv.ParseBool(t.Payload[key])
	if err != nil {
		return def
	}
	return v
}

// MaxRetryDelay caps the backoff between attempts
const MaxRetryDelay = 5 * time.Minute

// DedupKey identifies the work a task performs. Two unfinished tasks with
// the same key would repeat each other, so queues keep only the first.
// A forced reprocess is distinct from a plain one. Tasks without a document
// have no key.
func (t *Task) DedupKey() string {
	documentID := t.DocumentID()
	if documentID == "" {
		return ""
	}
	key := string(t.Type) + ":" + documentID
	if t.Type == TaskTypeReprocessDocument && t.BoolPayload(PayloadForce, false) {
		key += ":force"
	}
	return key
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsActive reports whether the task still waits for or occupies a worker
func (t *Task) IsActive() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusProcessing
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && time.Now().After(t.ScheduledFor)
}

// RetryDelay is the wait before the next attempt: 2^attempts seconds,
// capped at MaxRetryDelay.
func (t *Task) RetryDelay() time.Duration {
	if t.Attempts >= 9 {
		return MaxRetryDelay
	}
	backoff := time.Duration(1<<max(t.Attempts, 0)) * time.Second
	return min(backoff, MaxRetryDelay)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.UpdatedAt = now
	t.Error = err
}

// Retry returns the task to pending, scheduled after RetryDelay
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err
	t.ScheduledFor = now.Add(t.RetryDelay())
}
