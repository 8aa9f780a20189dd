package domain

import (
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" {
		t.Error("expected non-empty ID")
	}
	if id2 == "" {
		t.Error("expected non-empty ID")
	}
	if id1 == id2 {
		t.Error("expected unique IDs")
	}
	// Canonical UUID string form
	if len(id1) != 36 {
		t.Errorf("expected ID length 36, got %d", len(id1))
	}
}

func TestNewTask(t *testing.T) {
	ownerID := "user-123"
	payload := map[string]string{"key": "value"}

	task := NewTask(TaskTypeProcessDocument, ownerID, payload)

	if task.ID == "" {
		t.Error("expected non-empty ID")
	}
	if task.Type != TaskTypeProcessDocument {
		t.Errorf("expected type %s, got %s", TaskTypeProcessDocument, task.Type)
	}
	if task.OwnerID != ownerID {
		t.Errorf("expected owner ID %s, got %s", ownerID, task.OwnerID)
	}
	if task.Payload["key"] != "value" {
		t.Error("expected payload to be set")
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected status %s, got %s", TaskStatusPending, task.Status)
	}
	if task.Priority != 0 {
		t.Errorf("expected priority 0, got %d", task.Priority)
	}
	if task.Attempts != 0 {
		t.Errorf("expected attempts 0, got %d", task.Attempts)
	}
	if task.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", task.MaxAttempts)
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if task.ScheduledFor.IsZero() {
		t.Error("expected ScheduledFor to be set")
	}
}

func TestNewProcessDocumentTask(t *testing.T) {
	task := NewProcessDocumentTask("user-123", "doc-456", true)

	if task.Type != TaskTypeProcessDocument {
		t.Errorf("expected type %s, got %s", TaskTypeProcessDocument, task.Type)
	}
	if task.OwnerID != "user-123" {
		t.Errorf("expected owner ID user-123, got %s", task.OwnerID)
	}
	if task.DocumentID() != "doc-456" {
		t.Errorf("expected document ID doc-456, got %s", task.DocumentID())
	}
	if !task.BoolPayload(PayloadGenerateEmbeddings, false) {
		t.Error("expected generate_embeddings to be true")
	}
}

func TestNewReprocessDocumentTask(t *testing.T) {
	task := NewReprocessDocumentTask("user-123", "doc-456", false)

	if task.Type != TaskTypeReprocessDocument {
		t.Errorf("expected type %s, got %s", TaskTypeReprocessDocument, task.Type)
	}
	if task.BoolPayload(PayloadForce, true) {
		t.Error("expected force to be false")
	}
}

func TestTask_DocumentID(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]string
		expected string
	}{
		{
			name:     "with document_id",
			payload:  map[string]string{"document_id": "doc-123"},
			expected: "doc-123",
		},
		{
			name:     "without document_id",
			payload:  map[string]string{"other": "value"},
			expected: "",
		},
		{
			name:     "nil payload",
			payload:  nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Payload: tt.payload}
			if got := task.DocumentID(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestTask_BoolPayload_Default(t *testing.T) {
	task := &Task{Payload: map[string]string{"force": "not-a-bool"}}
	if !task.BoolPayload(PayloadForce, true) {
		t.Error("expected default for unparsable value")
	}
	if (&Task{}).BoolPayload(PayloadForce, false) {
		t.Error("expected default for nil payload")
	}
}

func TestTask_CanRetry(t *testing.T) {
	tests := []struct {
		name        string
		attempts    int
		maxAttempts int
		expected    bool
	}{
		{"no attempts yet", 0, 3, true},
		{"one attempt", 1, 3, true},
		{"two attempts", 2, 3, true},
		{"max attempts reached", 3, 3, false},
		{"over max attempts", 4, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Attempts: tt.attempts, MaxAttempts: tt.maxAttempts}
			if got := task.CanRetry(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestTask_DedupKey(t *testing.T) {
	tests := []struct {
		name     string
		task     *Task
		expected string
	}{
		{"process", NewProcessDocumentTask("u", "doc-1", true), "process_document:doc-1"},
		{"process ignores embeddings flag", NewProcessDocumentTask("u", "doc-1", false), "process_document:doc-1"},
		{"reprocess", NewReprocessDocumentTask("u", "doc-1", false), "reprocess_document:doc-1"},
		{"forced reprocess", NewReprocessDocumentTask("u", "doc-1", true), "reprocess_document:doc-1:force"},
		{"no document", NewTask(TaskTypeProcessDocument, "u", nil), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.DedupKey(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestTask_IsReadyAndActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name         string
		status       TaskStatus
		scheduledFor time.Time
		ready        bool
		active       bool
	}{
		{"pending and past scheduled", TaskStatusPending, past, true, true},
		{"pending and future scheduled", TaskStatusPending, future, false, true},
		{"processing", TaskStatusProcessing, past, false, true},
		{"completed", TaskStatusCompleted, past, false, false},
		{"failed", TaskStatusFailed, past, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Status: tt.status, ScheduledFor: tt.scheduledFor}
			if got := task.IsReady(); got != tt.ready {
				t.Errorf("IsReady: expected %v, got %v", tt.ready, got)
			}
			if got := task.IsActive(); got != tt.active {
				t.Errorf("IsActive: expected %v, got %v", tt.active, got)
			}
		})
	}
}

func TestTask_Lifecycle(t *testing.T) {
	task := NewReprocessDocumentTask("user-123", "doc-1", false)

	task.MarkProcessing()
	if task.Status != TaskStatusProcessing || task.StartedAt == nil || task.Attempts != 1 {
		t.Fatalf("unexpected processing state: %+v", task)
	}

	task.Retry("provider unavailable")
	if task.Status != TaskStatusPending || task.Error != "provider unavailable" {
		t.Fatalf("unexpected retry state: %+v", task)
	}
	if !task.ScheduledFor.After(time.Now()) {
		t.Error("expected retry to be scheduled in the future")
	}

	task.MarkProcessing()
	task.MarkCompleted()
	if task.Status != TaskStatusCompleted || task.CompletedAt == nil || task.Error != "" {
		t.Fatalf("unexpected completed state: %+v", task)
	}

	failed := NewProcessDocumentTask("user-123", "doc-2", true)
	failed.MarkFailed("document not found")
	if failed.Status != TaskStatusFailed || failed.Error != "document not found" {
		t.Fatalf("unexpected failed state: %+v", failed)
	}
}

func TestTask_RetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, MaxRetryDelay},
		{64, MaxRetryDelay},
	}

	for _, tt := range tests {
		task := &Task{Attempts: tt.attempts}
		if got := task.RetryDelay(); got != tt.expected {
			t.Errorf("attempts=%d: expected %v, got %v", tt.attempts, tt.expected, got)
		}
	}
}

func TestTask_Retry_SchedulesByDelay(t *testing.T) {
	task := NewTask(TaskTypeProcessDocument, "user-123", nil)
	task.Attempts = 2
	before := time.Now()

	task.Retry("error")

	earliest := before.Add(4 * time.Second)
	latest := earliest.Add(time.Second)
	if task.ScheduledFor.Before(earliest) || task.ScheduledFor.After(latest) {
		t.Errorf("expected ScheduledFor between %v and %v, got %v", earliest, latest, task.ScheduledFor)
	}
}
