// Package workerpool runs status recomputation on a fixed number of
// goroutines fed from a bounded queue.
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

// ErrPoolStopped is returned when submitting to a stopped pool
var ErrPoolStopped = errors.New("worker pool is stopped")

// Task is a unit of work
type Task struct {
	ID      string
	Payload any

	done chan error
}

// WorkerFunc processes one task
type WorkerFunc func(ctx context.Context, task *Task) error

// Config sizes the pool. Submit blocks once QueueSize tasks are waiting.
// A failed task is run again up to MaxRetries times, sleeping RetryDelay
// times the attempt number in between.
type Config struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	RetryDelay   time.Duration
	DrainTimeout time.Duration
}

// DefaultConfig returns defaults sized for the status feed
func DefaultConfig() Config {
	return Config{
		Workers:      8,
		QueueSize:    256,
		MaxRetries:   2,
		RetryDelay:   200 * time.Millisecond,
		DrainTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

type counters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	busy      atomic.Int64
}

// Pool runs tasks on a fixed set of workers
type Pool struct {
	cfg    Config
	fn     WorkerFunc
	logger *zap.Logger

	// mu guards closing queue against concurrent Submit
	mu      sync.RWMutex
	queue   chan *Task
	stopped chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup

	n counters
}

// New creates a worker pool. Workers do not run until Start.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, errors.New("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:     cfg,
		fn:      fn,
		logger:  logger,
		queue:   make(chan *Task, cfg.QueueSize),
		stopped: make(chan struct{}),
	}, nil
}

// Start launches the workers
func (p *Pool) Start() {
	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.work(i)
	}
	p.logger.Debug("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Submit queues a task, waiting for room until ctx is done
func (p *Pool) Submit(ctx context.Context, task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}
	select {
	case p.queue <- task:
		p.n.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrPoolStopped
	}
}

// SubmitWait queues a task and waits for its outcome
func (p *Pool) SubmitWait(ctx context.Context, task *Task) error {
	task.done = make(chan error, 1)
	if err := p.Submit(ctx, task); err != nil {
		return err
	}
	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks and waits up to DrainTimeout for queued ones
func (p *Pool) Stop() error {
	drained := true
	p.stop.Do(func() {
		close(p.stopped)
		p.mu.Lock()
		close(p.queue)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(p.cfg.DrainTimeout):
			drained = false
		}
	})
	if !drained {
		return fmt.Errorf("worker pool did not drain within %s", p.cfg.DrainTimeout)
	}
	return nil
}

func (p *Pool) work(id int) {
	defer p.wg.Done()

	for task := range p.queue {
		p.n.busy.Add(1)
		err := p.attempt(task)
		p.n.busy.Add(-1)

		if err != nil {
			p.n.failed.Add(1)
			p.logger.Error("task failed",
				zap.String("task_id", task.ID),
				zap.Int("worker", id),
				zap.Error(err))
		} else {
			p.n.completed.Add(1)
		}
		if task.done != nil {
			task.done <- err
		}
	}
}

// attempt runs task up to 1+MaxRetries times. Tasks already queued still
// run after Stop; only the retry sleep is cut short.
func (p *Pool) attempt(task *Task) error {
	err := p.fn(context.Background(), task)
	for n := 1; err != nil && n <= p.cfg.MaxRetries; n++ {
		select {
		case <-p.stopped:
			return err
		case <-time.After(p.cfg.RetryDelay * time.Duration(n)):
		}
		p.n.retried.Add(1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", n),
			zap.Error(err))
		err = p.fn(context.Background(), task)
	}
	if err != nil && p.cfg.MaxRetries > 0 {
		return fmt.Errorf("task failed after %d retries: %w", p.cfg.MaxRetries, err)
	}
	return err
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Busy      int64 `json:"busy"`
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Workers   int   `json:"workers"`
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.n.submitted.Load(),
		Completed: p.n.completed.Load(),
		Failed:    p.n.failed.Load(),
		Retried:   p.n.retried.Load(),
		Busy:      p.n.busy.Load(),
		Queued:    len(p.queue),
		Capacity:  p.cfg.QueueSize,
		Workers:   p.cfg.Workers,
	}
}

// IsHealthy reports whether the queue is below 90% of capacity
func (p *Pool) IsHealthy() bool {
	return len(p.queue)*10 < p.cfg.QueueSize*9
}
