package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/cache"
	"github.com/feedmill/feedmill/pkg/logging"
)

// Task is the wire envelope for one unit of asynchronous work
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Queue is a Redis-list-backed task queue. Delivery is at-least-once;
// there is no ordering guarantee between independently scheduled tasks.
type Queue struct {
	cache  *cache.Cache
	key    string
	logger *zap.Logger
}

// New creates a task queue on the given list key
func New(c *cache.Cache, key string) *Queue {
	return &Queue{
		cache:  c,
		key:    key,
		logger: logging.WithComponent("queue"),
	}
}

// Schedule enqueues a named task. Args must be JSON-serializable.
func (q *Queue) Schedule(ctx context.Context, name string, args interface{}) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode task args: %w", err)
	}

	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	return q.push(ctx, &task)
}

func (q *Queue) push(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.cache.ListPush(ctx, q.key, data); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.Name, err)
	}
	return nil
}

// Pop dequeues one task; an empty queue yields (nil, nil)
func (q *Queue) Pop(ctx context.Context) (*Task, error) {
	data, err := q.cache.ListPop(ctx, q.key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}
