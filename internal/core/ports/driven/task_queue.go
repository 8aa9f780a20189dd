package driven

import (
	"context"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// TaskQueue carries document tasks from the API to workers.
// Redis streams are used when Redis is configured, the tasks table otherwise.
type TaskQueue interface {
	// Enqueue queues task. It is idempotent per task.DedupKey(): while an
	// active task with the same key exists, nothing is queued and task is
	// overwritten with that task, so callers always see the ID that will run.
	Enqueue(ctx context.Context, task *domain.Task) error

	// Dequeue hands out the next due task, marked processing with its
	// attempt counted. It returns nil, nil when nothing is available.
	Dequeue(ctx context.Context) (*domain.Task, error)

	// DequeueWithTimeout is Dequeue waiting up to timeout seconds.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack completes a task.
	Ack(ctx context.Context, taskID string) error

	// Nack records reason and reschedules the task after Task.RetryDelay,
	// or marks it failed once MaxAttempts is reached.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask returns a task by ID, or ErrNotFound.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	Ping(ctx context.Context) error
	Close() error
}
