// Package scheduler owns the bounded worker pool that drains submitted
// jobs and the reservation set that keeps each job key to a single
// in-flight run.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrDuplicateJob reports that a run for the same job key is already
	// queued or processing.
	ErrDuplicateJob = errors.New("job already queued or processing")

	// ErrQueueFull reports that the submission queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
)

// Job is one accepted submission waiting for a pipeline run.
type Job struct {
	TaskID  string
	JobKey  string
	Locator string
}

// Processor executes the pipeline run for one job and returns once the
// task record is terminal.
type Processor interface {
	Process(ctx context.Context, job Job)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job Job)

func (f ProcessorFunc) Process(ctx context.Context, job Job) { f(ctx, job) }

// Pool is a fixed-size worker pool over a bounded queue. A job key stays
// reserved from acceptance until its run finishes, so a second submit of
// the same source is rejected rather than queued twice.
type Pool struct {
	workers   int
	queue     chan Job
	processor Processor
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	wg sync.WaitGroup
}

func NewPool(workers, queueSize int, processor Processor, logger *slog.Logger) *Pool {
	return &Pool{
		workers:   workers,
		queue:     make(chan Job, queueSize),
		processor: processor,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
	}
}

// Reserve claims jobKey for a new run. The claim holds until Release.
func (p *Pool) Reserve(jobKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[jobKey]; ok {
		return ErrDuplicateJob
	}
	p.inFlight[jobKey] = struct{}{}
	return nil
}

// Release frees a reserved job key.
func (p *Pool) Release(jobKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, jobKey)
}

// Enqueue hands a job to the pool without blocking.
func (p *Pool) Enqueue(job Job) error {
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Requeue reserves and enqueues jobs found still queued in the store
// after a restart.
func (p *Pool) Requeue(jobs []Job) int {
	requeued := 0
	for _, job := range jobs {
		if err := p.Reserve(job.JobKey); err != nil {
			p.logger.Warn("skipping queued job with duplicate key",
				"task_id", job.TaskID, "job_key", job.JobKey)
			continue
		}
		if err := p.Enqueue(job); err != nil {
			p.Release(job.JobKey)
			p.logger.Warn("queue full during startup requeue", "task_id", job.TaskID)
			continue
		}
		requeued++
	}
	return requeued
}

// Start launches the workers. They stop picking up new jobs once ctx is
// cancelled; Wait blocks until in-progress runs return.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.logger.Info("worker picked up job",
				"worker", id,
				"task_id", job.TaskID,
				"job_key", job.JobKey,
			)
			p.processor.Process(ctx, job)
			p.Release(job.JobKey)
		}
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Workers reports the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// QueueDepth reports how many accepted jobs are waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}
