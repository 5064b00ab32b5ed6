package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/pkg/config"
	"github.com/feedmill/feedmill/pkg/logging"
)

// HandlerFunc processes one task payload. Returning an error requeues
// the task until its attempt budget is exhausted, so handlers must be
// idempotent.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Worker polls the queue with a pool of goroutines and dispatches tasks
// to registered handlers. Each task runs under a hard time limit;
// exceeding it aborts that task only.
type Worker struct {
	queue        *Queue
	handlers     map[string]HandlerFunc
	workers      int
	pollInterval time.Duration
	timeLimit    time.Duration
	maxAttempts  int
	stop         chan struct{}
	wg           sync.WaitGroup
	logger       *zap.Logger
}

// NewWorker creates a worker pool for the given queue
func NewWorker(q *Queue, cfg *config.QueueConfig) *Worker {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	timeLimit := cfg.TaskTimeLimit
	if timeLimit <= 0 {
		timeLimit = time.Hour
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Worker{
		queue:        q,
		handlers:     make(map[string]HandlerFunc),
		workers:      workers,
		pollInterval: pollInterval,
		timeLimit:    timeLimit,
		maxAttempts:  maxAttempts,
		stop:         make(chan struct{}),
		logger:       logging.WithComponent("queue-worker"),
	}
}

// Handle registers a handler for a task name. Must be called before Start.
func (w *Worker) Handle(name string, handler HandlerFunc) {
	w.handlers[name] = handler
}

// Start launches the polling goroutines
func (w *Worker) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop()
	}
	w.logger.Info("Worker pool started", zap.Int("workers", w.workers))
}

// Stop signals the pool to finish in-flight tasks and waits for it
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("Worker pool stopped")
}

func (w *Worker) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.drain()
		}
	}
}

// drain processes tasks until the queue is empty or stop is signalled
func (w *Worker) drain() {
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		task, err := w.queue.Pop(context.Background())
		if err != nil {
			w.logger.Error("Failed to dequeue task", zap.Error(err))
			return
		}
		if task == nil {
			return
		}
		w.process(task)
	}
}

// Process runs one task to completion, including retry bookkeeping.
// Exported so tests and inline schedulers can execute tasks directly.
func (w *Worker) Process(task *Task) {
	w.process(task)
}

func (w *Worker) process(task *Task) {
	handler, ok := w.handlers[task.Name]
	if !ok {
		w.logger.Error("No handler registered for task",
			zap.String("task", task.Name), zap.String("id", task.ID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeLimit)
	defer cancel()

	err := handler(ctx, task.Payload)
	if err == nil {
		return
	}

	task.Attempts++
	if task.Attempts >= w.maxAttempts {
		w.logger.Error("Task failed permanently",
			zap.String("task", task.Name),
			zap.String("id", task.ID),
			zap.Int("attempts", task.Attempts),
			zap.Error(err))
		return
	}

	w.logger.Warn("Task failed, requeueing",
		zap.String("task", task.Name),
		zap.String("id", task.ID),
		zap.Int("attempts", task.Attempts),
		zap.Error(err))

	if pushErr := w.queue.push(context.Background(), task); pushErr != nil {
		w.logger.Error("Failed to requeue task",
			zap.String("task", task.Name),
			zap.String("id", task.ID),
			zap.Error(pushErr))
	}
}
