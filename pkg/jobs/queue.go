// Package jobs runs the in-process render queue behind report exports.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job identifies one queued report render. The report row itself lives in
// the database; the queue only moves its ID and retry count around.
type Job struct {
	ID       string
	Kind     string
	Attempt  int
	Enqueued time.Time
}

// Handler renders one report. A non-nil error re-enqueues the job after the
// retry delay until MaxRetries is exhausted.
type Handler func(ctx context.Context, job Job) error

// QueueConfig sizes the worker pool and retry policy.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue feeds report jobs to a fixed pool of render workers. Retries wait
// out their delay on a timer goroutine instead of blocking a worker.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig

	pending chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewQueue builds a queue around the handler. Zero config fields fall back
// to one worker, a small buffer, three retries and a one second delay.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		pending: make(chan Job, cfg.BufferSize),
	}
}

// Start launches the worker pool. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.cfg.Logger.Sugar().Infow("render queue started", "queue", q.name, "workers", q.cfg.Workers)
}

// Stop cancels the pool and waits for in-flight renders to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.cfg.Logger.Sugar().Infow("render queue stopped", "queue", q.name)
}

// Enqueue hands a job to the pool, blocking while the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	ctx, started := q.ctx, q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.pending <- job:
		return nil
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pending:
			if err := q.handler(q.ctx, job); err != nil {
				q.retry(job, err)
			}
		}
	}
}

// retry re-enqueues a failed job after the delay. The attempt count rides on
// the job so the handler can distinguish the final attempt.
func (q *Queue) retry(job Job, cause error) {
	job.Attempt++
	log := q.cfg.Logger.Sugar()
	if job.Attempt > q.cfg.MaxRetries {
		log.Errorw("report job dropped after retries",
			"queue", q.name, "job_id", job.ID, "kind", job.Kind, "error", cause)
		return
	}
	log.Warnw("report job failed, retrying",
		"queue", q.name, "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", cause)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(q.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if err := q.Enqueue(job); err != nil {
				log.Errorw("failed to requeue report job", "queue", q.name, "job_id", job.ID, "error", err)
			}
		}
	}()
}
