package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

const (
	taskStream     = "thinkpod:tasks"
	taskGroup      = "thinkpod:workers"
	scheduledTasks = "thinkpod:scheduled"

	taskKeyPrefix  = "thinkpod:task:"
	dedupKeyPrefix = "thinkpod:task-dedup:"

	// claimTimeout is how long a delivered message may sit unacked before
	// another worker takes it over.
	claimTimeout = 5 * time.Minute

	// Task records outlive processing so status can still be read
	taskTTL = 24 * time.Hour
)

var _ driven.TaskQueue = (*Queue)(nil)

// releaseDedup frees a dedup key only while it still names the given task.
var releaseDedup = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Queue delivers document tasks through a Redis stream consumer group.
//
// Each task's JSON record lives under thinkpod:task:<id>; the stream and the
// scheduled set carry only IDs. Delayed and retried tasks wait in the
// scheduled set until they are due. A dedup key per document holds the ID of
// the active task so repeated requests join it instead of queueing again.
type Queue struct {
	client   *redis.Client
	consumer string
	logger   *slog.Logger
}

// NewQueue creates the consumer group if needed. consumer names this worker
// within the group and should be unique per process.
func NewQueue(client *redis.Client, consumer string, logger *slog.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumer == "" {
		consumer = "worker-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if logger == nil {
		logger = slog.Default()
	}

	err := client.XGroupCreateMkStream(context.Background(), taskStream, taskGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Queue{client: client, consumer: consumer, logger: logger.With("consumer", consumer)}, nil
}

func taskKey(id string) string { return taskKeyPrefix + id }
func msgKey(id string) string  { return taskKeyPrefix + id + ":msg" }

// Enqueue stores and publishes task. When the document already has an active
// task of the same kind, task is overwritten with it and nothing is queued.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}

	existing, err := q.reserve(ctx, task)
	if err != nil {
		return err
	}
	if existing != nil {
		q.logger.Debug("joined active task", "task_id", existing.ID, "dedup_key", task.DedupKey())
		*task = *existing
		return nil
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
	if task.ScheduledFor.After(time.Now()) {
		schedule(ctx, pipe, task)
	} else {
		publish(ctx, pipe, task)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// reserve points the task's dedup key at task. It returns the active task
// holding the key instead, if there is one. A key left behind by a finished
// or expired task is taken over.
func (q *Queue) reserve(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	key := task.DedupKey()
	if key == "" {
		return nil, nil
	}
	k := dedupKeyPrefix + key

	ok, err := q.client.SetNX(ctx, k, task.ID, taskTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve dedup key: %w", err)
	}
	if ok {
		return nil, nil
	}

	holder, err := q.client.Get(ctx, k).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read dedup key: %w", err)
	}
	if holder != "" {
		existing, err := q.loadTask(ctx, holder)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.IsActive() {
			return existing, nil
		}
	}

	if err := q.client.Set(ctx, k, task.ID, taskTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to reserve dedup key: %w", err)
	}
	return nil, nil
}

func publish(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) {
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: taskStream,
		Values: map[string]any{
			"task_id":     task.ID,
			"type":        string(task.Type),
			"document_id": task.DocumentID(),
		},
	})
}

func schedule(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) {
	pipe.ZAdd(ctx, scheduledTasks, redis.Z{
		Score:  float64(task.ScheduledFor.Unix()),
		Member: task.ID,
	})
}

// Dequeue blocks until a task arrives or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.DequeueWithTimeout(ctx, 0)
}

// DequeueWithTimeout waits up to timeout seconds for a task; zero waits
// indefinitely. Due scheduled tasks are published and abandoned deliveries
// reclaimed before reading new ones.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if err := q.promoteScheduledTasks(ctx); err != nil {
		q.logger.Warn("failed to promote scheduled tasks", "error", err)
	}

	if task, err := q.claimAbandonedTask(ctx); err != nil {
		q.logger.Warn("failed to claim abandoned tasks", "error", err)
	} else if task != nil {
		return task, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumer,
		Streams:  []string{taskStream, ">"},
		Count:    1,
		Block:    time.Duration(timeout) * time.Second,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.begin(ctx, streams[0].Messages[0])
}

// begin marks the task behind a delivered message as processing and records
// the message ID for Ack and Nack. Messages whose record is gone are dropped.
func (q *Queue) begin(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	taskID, _ := msg.Values["task_id"].(string)

	var task *domain.Task
	if taskID != "" {
		var err error
		if task, err = q.loadTask(ctx, taskID); err != nil {
			return nil, fmt.Errorf("failed to get task data: %w", err)
		}
	}
	if task == nil {
		q.logger.Warn("dropping message without task record", "message_id", msg.ID, "task_id", taskID)
		q.client.XAck(ctx, taskStream, taskGroup, msg.ID)
		q.client.XDel(ctx, taskStream, msg.ID)
		return nil, nil
	}

	task.MarkProcessing()
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
	pipe.Set(ctx, msgKey(task.ID), msg.ID, taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark task processing: %w", err)
	}
	return task, nil
}

// Ack marks a task completed and frees its document for new tasks.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	task.MarkCompleted()
	return q.finish(ctx, task)
}

// Nack records the failure. The task is rescheduled after its retry delay
// while attempts remain, and marked failed otherwise.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}
	if task.CanRetry() {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	return q.finish(ctx, task)
}

// finish settles the current delivery of task and saves its new state. A
// pending task goes back to the scheduled set; any other state is final.
func (q *Queue) finish(ctx context.Context, task *domain.Task) error {
	msgID, err := q.client.Get(ctx, msgKey(task.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get message ID: %w", err)
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, taskStream, taskGroup, msgID)
		pipe.XDel(ctx, taskStream, msgID)
	}
	pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
	pipe.Del(ctx, msgKey(task.ID))
	if task.Status == domain.TaskStatusPending {
		schedule(ctx, pipe, task)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to settle task %s: %w", task.ID, err)
	}

	if !task.IsActive() {
		if key := task.DedupKey(); key != "" {
			if err := releaseDedup.Run(ctx, q.client, []string{dedupKeyPrefix + key}, task.ID).Err(); err != nil {
				q.logger.Warn("failed to release dedup key", "task_id", task.ID, "error", err)
			}
		}
	}
	return nil
}

// GetTask retrieves a task by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := q.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, &domain.NotFoundError{Resource: "task", ID: taskID}
	}
	return task, nil
}

// loadTask returns nil, nil when the task record has expired or never existed.
func (q *Queue) loadTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the client is shared with the lock and embedding cache.
func (q *Queue) Close() error {
	return nil
}

// promoteScheduledTasks publishes scheduled tasks that are due.
func (q *Queue) promoteScheduledTasks(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	pipe := q.client.Pipeline()
	for _, taskID := range due {
		// Only the caller that removes the member publishes it
		removed, err := q.client.ZRem(ctx, scheduledTasks, taskID).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		task, err := q.loadTask(ctx, taskID)
		if err != nil || task == nil {
			continue
		}
		publish(ctx, pipe, task)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// claimAbandonedTask takes over a delivery another consumer left unacked
// for longer than claimTimeout.
func (q *Queue) claimAbandonedTask(ctx context.Context) (*domain.Task, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   taskStream,
		Group:    taskGroup,
		Consumer: q.consumer,
		MinIdle:  claimTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil || len(msgs) == 0 {
		return nil, err
	}

	q.logger.Info("claimed abandoned task", "message_id", msgs[0].ID)
	return q.begin(ctx, msgs[0])
}
