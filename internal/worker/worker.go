// Package worker runs background jobs: reminder fan-out and attendance export.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/groupcare/backend/pkg/queue"
)

// Source yields jobs and takes failed ones back.
type Source interface {
	Dequeue(ctx context.Context, keys ...string) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor executes one job type.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Runner dequeues jobs and routes them by type.
type Runner struct {
	source     Source
	processors map[queue.JobType]Processor
	backoff    time.Duration
	logger     *zap.Logger
}

// NewRunner creates a runner over source.
func NewRunner(source Source, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source:     source,
		processors: make(map[queue.JobType]Processor),
		backoff:    queue.RetryBackoff,
		logger:     logger,
	}
}

// Handle routes jobs of type t to p.
func (r *Runner) Handle(t queue.JobType, p Processor) {
	r.processors[t] = p
}

// Process executes a single job.
func (r *Runner) Process(ctx context.Context, job *queue.Job) error {
	p, ok := r.processors[job.Type]
	if !ok {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	return p.Process(ctx, job)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker stopping")
			return
		default:
		}

		job, _, err := r.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.logger.Warn("dequeue error", zap.Error(err))
			r.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		r.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := r.Process(ctx, job); err != nil {
			r.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
			if reErr := r.source.Retry(ctx, job); reErr != nil {
				r.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			r.sleep(ctx)
		}
	}
}

func (r *Runner) sleep(ctx context.Context) {
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
