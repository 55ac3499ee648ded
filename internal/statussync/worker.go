package statussync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/talkscribe/talkscribe-backend/internal/engine"
	"github.com/talkscribe/talkscribe-backend/internal/jobs"
	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
	"github.com/talkscribe/talkscribe-backend/pkg/metrics"
)

const lockName = "statussync"

// locker is the redis surface used for the singleton cycle lock.
type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

// Worker drives processing jobs to a terminal answer by polling the engine on
// a fixed interval. One instance runs a cycle at a time; the redis lock keeps
// scaled-out replicas from double-polling.
type Worker struct {
	jobs    jobs.Service
	repo    jobs.Repository
	engine  engine.Client
	lock    locker
	metrics *metrics.PollerMetrics
	logg    *logger.Logger
	cfg     config.StatusSyncConfig
	holder  string
}

// WorkerParams groups dependencies for the status sync worker.
type WorkerParams struct {
	Jobs    jobs.Service
	Repo    jobs.Repository
	Engine  engine.Client
	Lock    locker
	Metrics *metrics.PollerMetrics
	Logger  *logger.Logger
	Config  config.StatusSyncConfig
}

// NewWorker wires the status sync worker.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Jobs == nil {
		return nil, fmt.Errorf("jobs service required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("engine client required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("redis lock required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 60
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Worker{
		jobs:    params.Jobs,
		repo:    params.Repo,
		engine:  params.Engine,
		lock:    params.Lock,
		metrics: params.Metrics,
		logg:    params.Logger,
		cfg:     cfg,
		holder:  uuid.NewString(),
	}, nil
}

// Run loops cycles until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logg.Info(ctx, "status sync worker started")
	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "status sync worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.RunCycle(ctx); err != nil {
				w.logg.Error(ctx, "status sync cycle finished with errors", err)
			}
		}
	}
}

// RunCycle polls one batch of processing jobs. A failing job never aborts the
// cycle; per-job errors are aggregated and returned at the end.
func (w *Worker) RunCycle(ctx context.Context) error {
	key := w.lock.LockKey(lockName)
	acquired, err := w.lock.SetNX(ctx, key, w.holder, w.cfg.LockTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire cycle lock")
	}
	if !acquired {
		w.logg.Debug(ctx, "another worker holds the cycle lock")
		return nil
	}
	defer func() {
		if err := w.lock.Del(ctx, key); err != nil {
			w.logg.Warn(w.logg.WithField(ctx, "key", key), "release cycle lock failed")
		}
	}()

	start := time.Now()
	defer func() {
		w.metrics.ObserveCycle(time.Since(start))
	}()

	pollable, err := w.repo.ListPollable(ctx, w.cfg.BatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pollable jobs")
	}

	var errs error
	for i := range pollable {
		if err := w.syncJob(ctx, &pollable[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", pollable[i].ID, err))
		}
	}
	return errs
}

func (w *Worker) syncJob(ctx context.Context, job *models.TranscriptionJob) error {
	if job.ExternalRef == nil {
		return nil
	}
	jobCtx := w.logg.WithJobID(ctx, job.ID.String())

	result, err := w.engine.Poll(ctx, *job.ExternalRef)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeEngineRejected) {
			w.metrics.IncPoll("rejected")
			return w.failJob(ctx, job, "rejected by engine")
		}
		// transient: count the attempt, fail only past the bound
		w.metrics.IncPoll("transient_error")
		w.logg.Warn(jobCtx, "engine poll failed")
		return w.recordAttempt(ctx, job)
	}

	switch result.Status {
	case enums.EngineJobStatusDone:
		w.metrics.IncPoll("done")
		_, err := w.jobs.HandleEngineResult(ctx, job.ID, *result)
		return err

	case enums.EngineJobStatusRejected:
		w.metrics.IncPoll("rejected")
		return w.failJob(ctx, job, "rejected by engine")

	default: // still running
		w.metrics.IncPoll("running")
		return w.recordAttempt(ctx, job)
	}
}

func (w *Worker) recordAttempt(ctx context.Context, job *models.TranscriptionJob) error {
	updated, err := w.jobs.RecordPollAttempt(ctx, job.ID)
	if err != nil {
		return err
	}
	if updated.PollAttempts < w.cfg.MaxPollAttempts {
		return nil
	}
	return w.failJob(ctx, updated, "polling timeout")
}

func (w *Worker) failJob(ctx context.Context, job *models.TranscriptionJob, reason string) error {
	terminal := job.RetryCount >= job.MaxRetries
	if _, err := w.jobs.MarkFailed(ctx, job.ID, reason, terminal); err != nil {
		return err
	}
	w.metrics.IncJobFailed()
	return nil
}
