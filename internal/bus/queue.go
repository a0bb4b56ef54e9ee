package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// ErrQueueFull is returned when the job buffer has no room.
var ErrQueueFull = errors.New("job queue full")

// JobExecutor runs one continuity job.
type JobExecutor func(ctx context.Context, job models.ContinuityJob) error

// PublishJobs returns an executor that hands each job to external runners over bus.
func PublishJobs(bus EventBus, subject string) JobExecutor {
	return func(ctx context.Context, job models.ContinuityJob) error {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		return bus.Publish(ctx, subject, data)
	}
}

// WorkerQueue is a bounded job queue drained by a fixed worker pool.
type WorkerQueue struct {
	jobs      chan models.ContinuityJob
	exec      JobExecutor
	workers   int
	logger    *slog.Logger
	queued    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc
}

// NewWorkerQueue constructs a queue with the given buffer and worker count.
func NewWorkerQueue(size, workers int, exec JobExecutor, logger *slog.Logger) *WorkerQueue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 1
	}
	return &WorkerQueue{
		jobs:    make(chan models.ContinuityJob, size),
		exec:    exec,
		workers: workers,
		logger:  utils.LoggerOr(logger),
	}
}

// Start launches the workers. They run until Stop or ctx is done; jobs still buffered when
// ctx ends are discarded and counted as dropped.
func (q *WorkerQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.runCtx = ctx
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Enqueue buffers job without blocking.
func (q *WorkerQueue) Enqueue(ctx context.Context, job models.ContinuityJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || (q.runCtx != nil && q.runCtx.Err() != nil) {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		q.queued.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats reports queue depth and throughput.
func (q *WorkerQueue) Stats() models.QueueStats {
	return models.QueueStats{
		Queued:    q.queued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (q *WorkerQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if started {
		q.wg.Wait()
		q.cancel()
	}
}

func (q *WorkerQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			q.drop()
			return
		}
		select {
		case <-ctx.Done():
			q.drop()
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.queued.Add(-1)
			q.run(ctx, job)
		}
	}
}

// drop discards whatever is still buffered.
func (q *WorkerQueue) drop() {
	n := 0
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				q.report(n)
				return
			}
			q.queued.Add(-1)
			q.dropped.Add(1)
			n++
			q.logger.Debug("continuity job dropped", slog.String("job_id", job.ID))
		default:
			q.report(n)
			return
		}
	}
}

func (q *WorkerQueue) report(dropped int) {
	if dropped > 0 {
		q.logger.Warn("queue cancelled with continuity jobs pending", slog.Int("dropped", dropped))
	}
}

func (q *WorkerQueue) run(ctx context.Context, job models.ContinuityJob) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("continuity job panicked", slog.String("job_id", job.ID), slog.Any("panic", r))
		}
	}()
	if q.exec == nil {
		q.completed.Add(1)
		return
	}
	if err := q.exec(ctx, job); err != nil {
		q.failed.Add(1)
		q.logger.Warn("continuity job failed",
			slog.String("job_id", job.ID),
			slog.String("playbook", job.Playbook),
			slog.String("action", job.Action),
			slog.Any("error", err))
		return
	}
	q.completed.Add(1)
	q.logger.Debug("continuity job completed", slog.String("job_id", job.ID), slog.String("action", job.Action))
}
