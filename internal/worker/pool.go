package worker

import (
	"context"
	"sync"
	"time"

	"siniopay/internal/logger"
	"siniopay/internal/metrics"
)

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Pool runs fire-and-forget tasks on a fixed number of goroutines. Tasks
// never receive a request context; they run under the pool's own context so
// that a finished HTTP request does not cancel them.
type Pool struct {
	jobs        chan job
	workers     int
	taskTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started bool
}

func NewPool(workers, queueSize int, taskTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		jobs:        make(chan job, queueSize),
		workers:     workers,
		taskTimeout: taskTimeout,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	logger.Info("post-commit worker pool started", "workers", p.workers, "queue", cap(p.jobs))
}

// Submit enqueues a task without blocking. It returns false when the queue is
// full or the pool is stopped; the task is dropped in that case.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.RecordPostCommitTask(name, "dropped")
		logger.Warn("post-commit task dropped, pool stopped", "task", name)
		return false
	}

	select {
	case p.jobs <- job{name: name, fn: fn}:
		return true
	default:
		metrics.RecordPostCommitTask(name, "dropped")
		logger.Warn("post-commit task dropped, queue full", "task", name)
		return false
	}
}

// Stop refuses new tasks and waits for queued ones to finish or for ctx to
// expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("post-commit worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	base := context.WithoutCancel(ctx)
	for j := range p.jobs {
		p.execute(base, j)
	}
}

func (p *Pool) execute(ctx context.Context, j job) {
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPostCommitTask(j.name, "panic")
			logger.Error("post-commit task panicked", "task", j.name, "panic", r)
		}
	}()

	if err := j.fn(ctx); err != nil {
		metrics.RecordPostCommitTask(j.name, "failed")
		logger.Error("post-commit task failed", "task", j.name, "error", err)
		return
	}
	metrics.RecordPostCommitTask(j.name, "ok")
}
