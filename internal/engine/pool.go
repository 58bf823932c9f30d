package engine

import (
	"context"
	"log/slog"
	"sync"
)

// Pool runs job executions on a fixed set of worker goroutines fed by a
// bounded queue. Its lifetime is independent of any request.
type Pool struct {
	workers int
	tasks   chan string
	run     func(jobID string)
	logger  *slog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a pool that calls run for every submitted job id.
func NewPool(workers, queueSize int, run func(jobID string), logger *slog.Logger) *Pool {
	return &Pool{
		workers: workers,
		tasks:   make(chan string, queueSize),
		run:     run,
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers, "queue_size", cap(p.tasks))

	for i := range p.workers {
		p.wg.Go(func() { p.worker(i) })
	}
}

// Submit enqueues jobID without blocking. It returns ErrQueueFull when the
// queue is at capacity and ErrPoolStopped after Stop.
func (p *Pool) Submit(jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	// Counted before the send so a worker's Dec can never run first.
	jobsQueued.Inc()
	select {
	case p.tasks <- jobID:
		p.logger.Debug("job queued", "job_id", jobID, "queue_length", len(p.tasks))
		return nil
	default:
		jobsQueued.Dec()
		return ErrQueueFull
	}
}

// Stop refuses new submissions and waits for queued and running jobs to
// finish, or for ctx to end. Jobs keep running after ctx ends; Stop only
// stops waiting for them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.tasks)
	}
	p.mu.Unlock()

	p.logger.Info("stopping worker pool", "queued", len(p.tasks))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("timed out waiting for running jobs")
		return ctx.Err()
	}
}

// QueueLength returns the number of jobs waiting for a worker.
func (p *Pool) QueueLength() int {
	return len(p.tasks)
}

func (p *Pool) worker(id int) {
	p.logger.Debug("worker started", "worker_id", id)

	for jobID := range p.tasks {
		jobsQueued.Dec()
		p.logger.Debug("worker picked up job", "worker_id", id, "job_id", jobID)
		p.run(jobID)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}
