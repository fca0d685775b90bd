package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"habitloop/internal/config"
	"habitloop/internal/models"
	"habitloop/internal/telemetry"
)

// JobQueue is the slice of the durable queue a processor drives.
// Implemented by *queue.Queue.
type JobQueue interface {
	ClaimBatch(ctx context.Context, workerID string, jobTypes []string, limit int) ([]models.Job, error)
	MarkDone(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, attempts int, runAfter time.Time, lastErr string) error
	MarkDead(ctx context.Context, id string, attempts int, lastErr string) error
	MarkPanicked(ctx context.Context, id string, attempts int, lastErr string) error
	ReleaseExpired(ctx context.Context, lease time.Duration, limit int) ([]string, error)
	PendingDepth(ctx context.Context) (int64, error)
}

// errPanicked signals that the claim already reached its terminal mark
// inside the panic recovery; the caller must not touch the job again.
var errPanicked = errors.New("handler panicked")

// Handler executes one claimed job. Returning an error wrapped with
// Fatal dead-letters the job; one wrapped with RetryAt defers it to the
// given instant without consuming an attempt. Any other error
// reschedules with backoff until max attempts.
type Handler func(ctx context.Context, job models.Job) error

// Processor drives one worker execution loop: sweep expired leases,
// claim a batch, dispatch each job, mark terminal state. Worker
// identity lives only in the claimed_by column, never in shared
// process state, so processors scale across machines.
type Processor struct {
	cfg      config.Config
	queue    JobQueue
	handlers map[string]Handler
	logger   *zap.Logger
	workerID string
}

func NewProcessor(cfg config.Config, q JobQueue, logger *zap.Logger, workerID string) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		handlers: make(map[string]Handler),
		logger:   logger.With(zap.String("worker_id", workerID)),
		workerID: workerID,
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run polls until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, err := p.queue.ReleaseExpired(ctx, p.cfg.LeaseTimeout, 100); err == nil && len(reclaimed) > 0 {
			telemetry.LeaseReclaims.Add(float64(len(reclaimed)))
			p.logger.Warn("reclaimed expired leases", zap.Int("count", len(reclaimed)))
		}
		if depth, err := p.queue.PendingDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobs, err := p.queue.ClaimBatch(ctx, p.workerID, p.cfg.JobTypes, p.cfg.ClaimBatchSize)
		if err != nil {
			p.logger.Error("claim batch failed", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if len(jobs) == 0 {
			p.sleep(ctx)
			continue
		}
		telemetry.JobsClaimed.Add(float64(len(jobs)))

		for _, job := range jobs {
			p.process(ctx, job)
		}
	}
}

func (p *Processor) process(ctx context.Context, job models.Job) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	err := p.runJob(ctx, job)
	if errors.Is(err, errPanicked) {
		// The recovery already applied the terminal mark.
		return
	}
	if err == nil {
		if markErr := p.queue.MarkDone(ctx, job.ID); markErr != nil {
			p.logger.Error("mark done failed", zap.String("job_id", job.ID), zap.Error(markErr))
			return
		}
		telemetry.JobsCompleted.Inc()
		return
	}

	if at, ok := retryAt(err); ok {
		if markErr := p.queue.Reschedule(ctx, job.ID, job.Attempts, at, err.Error()); markErr != nil {
			p.logger.Error("reschedule failed", zap.String("job_id", job.ID), zap.Error(markErr))
			return
		}
		p.logger.Info("job deferred",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Time("next_run", at),
		)
		return
	}

	attempts := job.Attempts + 1
	if IsFatal(err) || attempts >= job.MaxAttempts {
		if markErr := p.queue.MarkDead(ctx, job.ID, attempts, err.Error()); markErr != nil {
			p.logger.Error("mark dead failed", zap.String("job_id", job.ID), zap.Error(markErr))
			return
		}
		telemetry.JobsDead.Inc()
		p.logger.Error("job dead-lettered",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Int("attempts", attempts),
			zap.Bool("fatal", IsFatal(err)),
			zap.Error(err),
		)
		return
	}

	nextRun := time.Now().Add(backoffWithJitter(p.cfg.BackoffBase, p.cfg.BackoffMax, attempts))
	if markErr := p.queue.Reschedule(ctx, job.ID, attempts, nextRun, err.Error()); markErr != nil {
		p.logger.Error("reschedule failed", zap.String("job_id", job.ID), zap.Error(markErr))
		return
	}
	telemetry.JobsRetried.Inc()
	p.logger.Warn("job rescheduled",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempts", attempts),
		zap.Time("next_run", nextRun),
		zap.Error(err),
	)
}

// runJob dispatches to the registered handler, converting a panic into
// a recorded failed state that the lease sweep will retry. Panics
// consume attempts like any other failure, so a deterministically
// panicking handler still dead-letters at max attempts.
func (p *Processor) runJob(ctx context.Context, job models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			attempts := job.Attempts + 1
			msg := fmt.Sprintf("handler panic: %v", r)
			if attempts >= job.MaxAttempts {
				_ = p.queue.MarkDead(ctx, job.ID, attempts, msg)
				telemetry.JobsDead.Inc()
			} else {
				_ = p.queue.MarkPanicked(ctx, job.ID, attempts, msg)
			}
			p.logger.Error("handler panicked",
				zap.String("job_id", job.ID),
				zap.String("job_type", job.Type),
				zap.Int("attempts", attempts),
				zap.Any("panic", r),
			)
			err = errPanicked
		}
	}()

	handler, ok := p.handlers[job.Type]
	if !ok {
		return Fatal(fmt.Errorf("no handler registered for type %q", job.Type))
	}
	if err := handler(ctx, job); err != nil {
		return err
	}
	return nil
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.WorkerPollInterval):
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
