package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*Queue)(nil)

// DefaultPollInterval is how often an empty queue is re-checked while waiting
const DefaultPollInterval = 500 * time.Millisecond

const taskColumns = `id, type, owner_id, payload, status, priority,
	attempts, max_attempts, error, created_at, updated_at,
	started_at, completed_at, scheduled_for`

// Queue stores document tasks in the tasks table and hands them out with
// SELECT ... FOR UPDATE SKIP LOCKED. It serves deployments without Redis.
//
// Active tasks are unique per dedup key (see idx_tasks_dedup_active), so a
// second submit or reprocess request for the same document joins the task
// already waiting for it.
type Queue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewQueue creates a queue over db. postgres.DB.InitSchema creates the table.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db, pollInterval: DefaultPollInterval}
}

// Enqueue inserts task. When an active task with the same dedup key exists,
// nothing is inserted and task is overwritten with the existing one.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	key := task.DedupKey()

	// The active task can finish between a conflicting insert and the lookup,
	// in which case the insert is tried again.
	for range 2 {
		inserted, err := q.insert(ctx, task, payload, key)
		if err != nil || inserted || key == "" {
			return err
		}

		existing, err := q.activeByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			*task = *existing
			return nil
		}
	}
	return fmt.Errorf("enqueue %s: dedup key %q kept conflicting", task.Type, key)
}

func (q *Queue) insert(ctx context.Context, task *domain.Task, payload []byte, key string) (bool, error) {
	query := `
		INSERT INTO tasks (
			id, type, owner_id, payload, status, priority, attempts,
			max_attempts, error, created_at, updated_at, scheduled_for, dedup_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dedup_key) WHERE status IN ('pending', 'processing') AND dedup_key <> ''
		DO NOTHING
	`
	res, err := q.db.ExecContext(ctx, query,
		task.ID, task.Type, task.OwnerID, payload, task.Status, task.Priority, task.Attempts,
		task.MaxAttempts, task.Error, task.CreatedAt, task.UpdatedAt, task.ScheduledFor, key,
	)
	if err != nil {
		return false, fmt.Errorf("insert task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

func (q *Queue) activeByKey(ctx context.Context, key string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE dedup_key = $1 AND status IN ($2, $3)`
	task, err := scanTask(q.db.QueryRowContext(ctx, query, key,
		domain.TaskStatusPending, domain.TaskStatusProcessing))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active task: %w", err)
	}
	return task, nil
}

// Dequeue checks once for a ready task.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.DequeueWithTimeout(ctx, 0)
}

// DequeueWithTimeout polls for a ready task for up to timeout seconds.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)
	for {
		task, err := q.claim(ctx)
		if err != nil || task != nil {
			return task, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		t := time.NewTimer(min(q.pollInterval, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// claim moves the most urgent due task to processing in a single statement.
// SKIP LOCKED keeps concurrent workers off each other's rows.
func (q *Queue) claim(ctx context.Context) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, started_at = NOW(), updated_at = NOW(), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $2 AND scheduled_for <= NOW()
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	task, err := scanTask(q.db.QueryRowContext(ctx, query,
		domain.TaskStatusProcessing, domain.TaskStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// Ack marks a task completed, releasing its dedup key.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.MarkCompleted()
	return q.save(ctx, task)
}

// Nack schedules another attempt after the task's retry delay, or marks it
// failed once its attempts are used up.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task.CanRetry() {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	return q.save(ctx, task)
}

func (q *Queue) save(ctx context.Context, task *domain.Task) error {
	query := `
		UPDATE tasks
		SET status = $1, error = $2, updated_at = $3, completed_at = $4, scheduled_for = $5
		WHERE id = $6
	`
	res, err := q.db.ExecContext(ctx, query,
		task.Status, task.Error, task.UpdatedAt, task.CompletedAt, task.ScheduledFor, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.NotFoundError{Resource: "task", ID: task.ID}
	}
	return nil
}

// GetTask returns a task by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(q.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "task", ID: taskID}
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the connection pool belongs to postgres.DB.
func (q *Queue) Close() error {
	return nil
}

// scanTask reads one row selected with taskColumns.
func scanTask(row *sql.Row) (*domain.Task, error) {
	var (
		task                   domain.Task
		payload                []byte
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&task.ID, &task.Type, &task.OwnerID, &payload, &task.Status, &task.Priority,
		&task.Attempts, &task.MaxAttempts, &task.Error, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt, &task.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}
