package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
)

func TestRunner_DrainsQueue(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	exec := NewExecutor(jobs)
	exec.RegisterHandler(models.JobTypeBlocklistSweep, JobHandlerFunc(
		func(ctx context.Context, job *models.Job) (string, error) {
			return "deactivated 0 entries", nil
		}))

	job := seedJob(t, jobs, &models.Job{
		Type:   models.JobTypeBlocklistSweep,
		Status: models.JobStatusPending,
	})

	runner := NewRunner(jobs, exec).WithConfig(RunnerConfig{
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, runner.Start(ctx))
	defer runner.Stop()

	require.Eventually(t, func() bool {
		stored, err := jobs.GetByID(context.Background(), job.ID)
		return err == nil && stored != nil && stored.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "deactivated 0 entries", stored.Result)
}

func TestRunner_PerTypeDeadlineCancelsSlowJob(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	exec := NewExecutor(jobs)
	exec.RegisterHandler(models.JobTypeRetentionCleanup, JobHandlerFunc(
		func(ctx context.Context, job *models.Job) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}))

	job := seedJob(t, jobs, &models.Job{
		Type:        models.JobTypeRetentionCleanup,
		Status:      models.JobStatusPending,
		MaxAttempts: 0,
	})

	runner := NewRunner(jobs, exec).WithConfig(RunnerConfig{
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
		TypeTimeouts: map[models.JobType]time.Duration{
			models.JobTypeRetentionCleanup: 20 * time.Millisecond,
		},
	})
	require.NoError(t, runner.Start(ctx))
	defer runner.Stop()

	require.Eventually(t, func() bool {
		stored, err := jobs.GetByID(context.Background(), job.ID)
		return err == nil && stored != nil && stored.Status == models.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, context.DeadlineExceeded.Error())
}

func TestRunner_TimeoutFallsBackToDefault(t *testing.T) {
	jobs := setupJobs(t)
	runner := NewRunner(jobs, NewExecutor(jobs)).WithConfig(RunnerConfig{
		TypeTimeouts: map[models.JobType]time.Duration{
			models.JobTypeRetentionCleanup: 10 * time.Minute,
		},
	})

	assert.Equal(t, 10*time.Minute, runner.timeoutFor(models.JobTypeRetentionCleanup))
	assert.Equal(t, defaultJobTimeout, runner.timeoutFor(models.JobTypeFastHealth))
}

func TestRunner_RecoversStaleJob(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	job := seedJob(t, jobs, &models.Job{
		Type:        models.JobTypeFleetSync,
		Status:      models.JobStatusPending,
		MaxAttempts: 0,
	})
	job.MarkRunning("ghost-worker")
	stale := models.Time(time.Now().Add(-2 * time.Hour))
	job.LockedAt = &stale
	require.NoError(t, jobs.Update(ctx, job))

	runner := NewRunner(jobs, NewExecutor(jobs))
	runner.ctx = ctx
	runner.recoverStale()

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "stale")
	assert.Empty(t, stored.LockedBy)
}

func TestRunner_StatusAndDoubleStart(t *testing.T) {
	jobs := setupJobs(t)
	runner := NewRunner(jobs, NewExecutor(jobs)).WithConfig(RunnerConfig{
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	})

	assert.False(t, runner.Status().Running)

	require.NoError(t, runner.Start(context.Background()))
	assert.True(t, runner.Status().Running)
	assert.Error(t, runner.Start(context.Background()))

	runner.Stop()
	assert.False(t, runner.Status().Running)
}
