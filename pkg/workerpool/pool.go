// Package workerpool runs background work on a fixed set of goroutines
// with a bounded queue. The intake API uses it for wizard submissions so an
// HTTP request never waits on the backend.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrStopped   = errors.New("pool is shutting down")
	ErrQueueFull = errors.New("task queue is full")
)

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Kind    string
	Payload any
	Context context.Context
}

// Result represents the outcome of task processing
type Result struct {
	TaskID   string
	Kind     string
	Success  bool
	Error    error
	Attempts int
	Duration time.Duration
}

// WorkerFunc processes one task
type WorkerFunc func(ctx context.Context, task *Task) error

// Config holds worker pool configuration
type Config struct {
	Workers   int
	QueueSize int
	// MaxRetries is the number of extra attempts after a failure. Keep it
	// at zero for work that must not be repeated.
	MaxRetries int
	RetryDelay time.Duration
	// Retryable filters which errors are retried. Nil retries all.
	Retryable               func(error) bool
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults for the intake API
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               256,
		RetryDelay:              200 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	mu       sync.RWMutex
	stopped  bool
	taskChan chan *Task
	results  chan *Result
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	tasksSubmitted atomic.Int64
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
	tasksRetried   atomic.Int64
	busyWorkers    atomic.Int64
}

// New creates a new worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task, cfg.QueueSize),
		results:    make(chan *Result, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues a task without blocking
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}
	select {
	case p.taskChan <- task:
		p.tasksSubmitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Results delivers one result per finished task. It is closed by Stop.
// Results are dropped when nobody drains the channel.
func (p *Pool) Results() <-chan *Result {
	return p.results
}

// Stop drains queued tasks and waits for running ones, up to the graceful
// shutdown timeout.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.taskChan)
	p.mu.Unlock()

	p.logger.Info("stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		close(p.results)
	case <-time.After(p.config.GracefulShutdownTimeout):
		err = errors.New("worker pool shutdown timed out")
		p.logger.Warn("worker pool shutdown timed out")
	}
	p.cancel()
	return err
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.taskChan {
		p.busyWorkers.Add(1)
		p.process(id, task)
		p.busyWorkers.Add(-1)
	}
}

func (p *Pool) process(workerID int, task *Task) {
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}

	started := time.Now()
	result := &Result{TaskID: task.ID, Kind: task.Kind}
	result.Error = p.attempt(ctx, task, result)
	result.Success = result.Error == nil
	result.Duration = time.Since(started)

	if result.Success {
		p.tasksCompleted.Add(1)
	} else {
		p.tasksFailed.Add(1)
		p.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Int("worker_id", workerID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Error))
	}

	select {
	case p.results <- result:
	default:
		p.logger.Warn("result channel full, dropping result", zap.String("task_id", task.ID))
	}
}

func (p *Pool) attempt(ctx context.Context, task *Task, result *Result) error {
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		result.Attempts++
		lastErr = p.workerFunc(ctx, task)
		if lastErr == nil {
			return nil
		}
		if attempt == p.config.MaxRetries || (p.config.Retryable != nil && !p.config.Retryable(lastErr)) {
			break
		}

		p.tasksRetried.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}
	return lastErr
}

// Stats returns current pool statistics
type Stats struct {
	TasksSubmitted int64 `json:"tasks_submitted"`
	TasksCompleted int64 `json:"tasks_completed"`
	TasksFailed    int64 `json:"tasks_failed"`
	TasksRetried   int64 `json:"tasks_retried"`
	BusyWorkers    int64 `json:"busy_workers"`
	QueueDepth     int   `json:"queue_depth"`
	QueueCapacity  int   `json:"queue_capacity"`
	Workers        int   `json:"workers"`
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: p.tasksSubmitted.Load(),
		TasksCompleted: p.tasksCompleted.Load(),
		TasksFailed:    p.tasksFailed.Load(),
		TasksRetried:   p.tasksRetried.Load(),
		BusyWorkers:    p.busyWorkers.Load(),
		QueueDepth:     len(p.taskChan),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}

// IsHealthy reports whether the queue is below 90% of capacity
func (p *Pool) IsHealthy() bool {
	s := p.Stats()
	return float64(s.QueueDepth)/float64(s.QueueCapacity) < 0.9
}
