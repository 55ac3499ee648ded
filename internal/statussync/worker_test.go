package statussync

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/internal/engine"
	"github.com/talkscribe/talkscribe-backend/internal/jobs"
	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
	"github.com/talkscribe/talkscribe-backend/pkg/pagination"
)

type fakeOrchestrator struct {
	jobs         map[uuid.UUID]*models.TranscriptionJob
	handled      []uuid.UUID
	failed       map[uuid.UUID]string
	failedTermin map[uuid.UUID]bool
	recordErr    error
	handleErr    error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		jobs:         map[uuid.UUID]*models.TranscriptionJob{},
		failed:       map[uuid.UUID]string{},
		failedTermin: map[uuid.UUID]bool{},
	}
}

func (f *fakeOrchestrator) Create(_ context.Context, _ jobs.CreateInput) (*models.TranscriptionJob, error) {
	return nil, nil
}

func (f *fakeOrchestrator) Get(_ context.Context, _, _ uuid.UUID) (*models.TranscriptionJob, error) {
	return nil, nil
}

func (f *fakeOrchestrator) List(_ context.Context, _ uuid.UUID, _ pagination.Params) ([]models.TranscriptionJob, string, error) {
	return nil, "", nil
}

func (f *fakeOrchestrator) Retry(_ context.Context, _, _ uuid.UUID) (*models.TranscriptionJob, error) {
	return nil, nil
}

func (f *fakeOrchestrator) ResetRetryCount(_ context.Context, _, _ uuid.UUID) (*models.TranscriptionJob, error) {
	return nil, nil
}

func (f *fakeOrchestrator) Cancel(_ context.Context, _, _ uuid.UUID) (*models.TranscriptionJob, error) {
	return nil, nil
}

func (f *fakeOrchestrator) SubmitTranscript(_ context.Context, _ uuid.UUID, _ string) (*models.TranscriptionJob, error) {
	return nil, nil
}

func (f *fakeOrchestrator) HandleEngineResult(_ context.Context, jobID uuid.UUID, _ engine.Result) (*models.TranscriptionJob, error) {
	if f.handleErr != nil {
		return nil, f.handleErr
	}
	f.handled = append(f.handled, jobID)
	return f.jobs[jobID], nil
}

func (f *fakeOrchestrator) MarkFailed(_ context.Context, jobID uuid.UUID, reason string, terminal bool) (*models.TranscriptionJob, error) {
	f.failed[jobID] = reason
	f.failedTermin[jobID] = terminal
	return f.jobs[jobID], nil
}

func (f *fakeOrchestrator) RecordPollAttempt(_ context.Context, jobID uuid.UUID) (*models.TranscriptionJob, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	job := f.jobs[jobID]
	job.PollAttempts++
	return job, nil
}

type fakeRepo struct {
	pollable []models.TranscriptionJob
}

func (r *fakeRepo) WithTx(_ *gorm.DB) jobs.Repository { return r }

func (r *fakeRepo) Create(_ context.Context, _ *models.TranscriptionJob) error { return nil }

func (r *fakeRepo) Find(_ context.Context, _ uuid.UUID) (*models.TranscriptionJob, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindByAssignmentRef(_ context.Context, _ uuid.UUID) (*models.TranscriptionJob, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) Update(_ context.Context, _ *models.TranscriptionJob) error { return nil }

func (r *fakeRepo) ListByAccount(_ context.Context, _ uuid.UUID, _ pagination.Params) ([]models.TranscriptionJob, error) {
	return nil, nil
}

func (r *fakeRepo) ListPollable(_ context.Context, limit int) ([]models.TranscriptionJob, error) {
	if len(r.pollable) > limit {
		return r.pollable[:limit], nil
	}
	return r.pollable, nil
}

type pollFunc func(externalRef string) (*engine.Result, error)

type fakeEngine struct {
	poll pollFunc
}

func (e *fakeEngine) Submit(_ context.Context, _ engine.SubmitRequest) (string, error) {
	return "", nil
}

func (e *fakeEngine) Poll(_ context.Context, externalRef string) (*engine.Result, error) {
	return e.poll(externalRef)
}

type fakeLock struct {
	denied bool
	locked int
	freed  int
}

func (l *fakeLock) SetNX(_ context.Context, _ string, _ any, _ time.Duration) (bool, error) {
	if l.denied {
		return false, nil
	}
	l.locked++
	return true, nil
}

func (l *fakeLock) Del(_ context.Context, _ ...string) error {
	l.freed++
	return nil
}

func (l *fakeLock) LockKey(name string) string { return "ts:lock:" + name }

func processingJob(attempts int) *models.TranscriptionJob {
	ref := "ext-" + uuid.NewString()[:8]
	return &models.TranscriptionJob{
		ID:           uuid.New(),
		AccountID:    uuid.New(),
		Mode:         enums.JobModeAutomated,
		Status:       enums.JobStatusProcessing,
		ExternalRef:  &ref,
		MaxRetries:   3,
		PollAttempts: attempts,
	}
}

func newTestWorker(t *testing.T, orch *fakeOrchestrator, repo *fakeRepo, eng *fakeEngine, lock *fakeLock) *Worker {
	t.Helper()
	worker, err := NewWorker(WorkerParams{
		Jobs:   orch,
		Repo:   repo,
		Engine: eng,
		Lock:   lock,
		Logger: logger.New(logger.Options{ServiceName: "statussync-test", Output: io.Discard}),
		Config: config.StatusSyncConfig{
			PollInterval:    time.Second,
			MaxPollAttempts: 3,
			LockTTL:         time.Minute,
			BatchSize:       10,
		},
	})
	require.NoError(t, err)
	return worker
}

func TestCycleSkipsWhenLockHeld(t *testing.T) {
	orch := newFakeOrchestrator()
	job := processingJob(0)
	orch.jobs[job.ID] = job
	lock := &fakeLock{denied: true}
	worker := newTestWorker(t, orch, &fakeRepo{pollable: []models.TranscriptionJob{*job}}, &fakeEngine{}, lock)

	require.NoError(t, worker.RunCycle(context.Background()))
	require.Empty(t, orch.handled)
}

func TestCycleCompletesDoneJobs(t *testing.T) {
	orch := newFakeOrchestrator()
	job := processingJob(0)
	orch.jobs[job.ID] = job
	eng := &fakeEngine{poll: func(string) (*engine.Result, error) {
		return &engine.Result{Status: enums.EngineJobStatusDone, Transcript: "text"}, nil
	}}
	lock := &fakeLock{}
	worker := newTestWorker(t, orch, &fakeRepo{pollable: []models.TranscriptionJob{*job}}, eng, lock)

	require.NoError(t, worker.RunCycle(context.Background()))
	require.Equal(t, []uuid.UUID{job.ID}, orch.handled)
	require.Equal(t, 1, lock.locked)
	require.Equal(t, 1, lock.freed)
}

func TestCycleFailsRejectedJobs(t *testing.T) {
	orch := newFakeOrchestrator()
	job := processingJob(0)
	orch.jobs[job.ID] = job
	eng := &fakeEngine{poll: func(string) (*engine.Result, error) {
		return &engine.Result{Status: enums.EngineJobStatusRejected}, nil
	}}
	worker := newTestWorker(t, orch, &fakeRepo{pollable: []models.TranscriptionJob{*job}}, eng, &fakeLock{})

	require.NoError(t, worker.RunCycle(context.Background()))
	require.Equal(t, "rejected by engine", orch.failed[job.ID])
	require.False(t, orch.failedTermin[job.ID])
}

func TestCycleRejectionWithExhaustedRetriesIsTerminal(t *testing.T) {
	orch := newFakeOrchestrator()
	job := processingJob(0)
	job.RetryCount = job.MaxRetries
	orch.jobs[job.ID] = job
	eng := &fakeEngine{poll: func(string) (*engine.Result, error) {
		return nil, pkgerrors.New(pkgerrors.CodeEngineRejected, "bad audio")
	}}
	worker := newTestWorker(t, orch, &fakeRepo{pollable: []models.TranscriptionJob{*job}}, eng, &fakeLock{})

	require.NoError(t, worker.RunCycle(context.Background()))
	require.Equal(t, "rejected by engine", orch.failed[job.ID])
	require.True(t, orch.failedTermin[job.ID])
}

func TestTransientErrorCountsAttemptOnly(t *testing.T) {
	orch := newFakeOrchestrator()
	job := processingJob(0)
	orch.jobs[job.ID] = job
	eng := &fakeEngine{poll: func(string) (*engine.Result, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "timeout")
	}}
	worker := newTestWorker(t, orch, &fakeRepo{pollable: []models.TranscriptionJob{*job}}, eng, &fakeLock{})

	require.NoError(t, worker.RunCycle(context.Background()))
	require.Equal(t, 1, orch.jobs[job.ID].PollAttempts)
	require.Empty(t, orch.failed)
}

func TestPollingTimeoutAfterAttemptBound(t *testing.T) {
	orch := newFakeOrchestrator()
	job := processingJob(2) // bound is 3; this attempt reaches it
	orch.jobs[job.ID] = job
	eng := &fakeEngine{poll: func(string) (*engine.Result, error) {
		return &engine.Result{Status: enums.EngineJobStatusRunning}, nil
	}}
	worker := newTestWorker(t, orch, &fakeRepo{pollable: []models.TranscriptionJob{*job}}, eng, &fakeLock{})

	require.NoError(t, worker.RunCycle(context.Background()))
	require.Equal(t, "polling timeout", orch.failed[job.ID])
}

func TestOneFailingJobDoesNotAbortCycle(t *testing.T) {
	orch := newFakeOrchestrator()
	broken := processingJob(0)
	healthy := processingJob(0)
	orch.jobs[broken.ID] = broken
	orch.jobs[healthy.ID] = healthy
	orch.recordErr = pkgerrors.New(pkgerrors.CodeDependency, "db down")

	eng := &fakeEngine{poll: func(ref string) (*engine.Result, error) {
		if ref == *broken.ExternalRef {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "timeout")
		}
		return &engine.Result{Status: enums.EngineJobStatusDone, Transcript: "ok"}, nil
	}}
	worker := newTestWorker(t, orch, &fakeRepo{pollable: []models.TranscriptionJob{*broken, *healthy}}, eng, &fakeLock{})

	err := worker.RunCycle(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), broken.ID.String())
	require.Equal(t, []uuid.UUID{healthy.ID}, orch.handled)
}
