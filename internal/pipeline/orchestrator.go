package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Orchestrator manages the queue of reconstruction jobs.
type Orchestrator struct {
	jobs    *JobStore
	queue   chan *Job
	worker  *Worker
	log     *slog.Logger
	workers int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline; Start launches its workers.
func NewOrchestrator(w *Worker, workers, maxQueue int, jobTTL time.Duration, log *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	if maxQueue <= 0 {
		maxQueue = 100
	}
	return &Orchestrator{
		jobs:    NewJobStore(jobTTL),
		queue:   make(chan *Job, maxQueue),
		worker:  w,
		log:     log,
		workers: workers,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.run(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// run keeps one job's panic from taking its worker down.
func (o *Orchestrator) run(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("job panicked", "job_id", job.ID, "panic", fmt.Sprint(r))
			job.AddError(fmt.Sprintf("internal error: %v", r))
			job.SetStatus(StatusFailed, "panic")
		}
	}()
	o.worker.Process(ctx, job)
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", cap(o.queue))
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
