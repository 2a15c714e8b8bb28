package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

func seedJob(t *testing.T, jobs repository.JobRepository, job *models.Job) *models.Job {
	t.Helper()
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestExecutor_CompletesOneOffJob(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	exec := NewExecutor(jobs)
	exec.RegisterHandler(models.JobTypeRemediation, JobHandlerFunc(
		func(ctx context.Context, job *models.Job) (string, error) {
			return "recovered cam1 at tier restart_path", nil
		}))

	job := seedJob(t, jobs, &models.Job{
		Type:       models.JobTypeRemediation,
		TargetName: "cam1",
		Status:     models.JobStatusPending,
	})
	job.MarkRunning("worker-test")
	require.NoError(t, jobs.Update(ctx, job))

	require.NoError(t, exec.Execute(ctx, job))

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, "recovered cam1 at tier restart_path", stored.Result)
	assert.Empty(t, stored.LockedBy)

	history, total, err := jobs.GetHistory(ctx, nil, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, models.JobStatusCompleted, history[0].Status)
}

func TestExecutor_FailedOneOffJobRetriesWithBackoff(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	exec := NewExecutor(jobs)
	exec.RegisterHandler(models.JobTypeRemediation, JobHandlerFunc(
		func(ctx context.Context, job *models.Job) (string, error) {
			return "", fmt.Errorf("node unreachable")
		}))

	job := seedJob(t, jobs, &models.Job{
		Type:        models.JobTypeRemediation,
		TargetName:  "cam1",
		Status:      models.JobStatusPending,
		MaxAttempts: 3,
	})
	job.MarkRunning("worker-test")
	require.NoError(t, jobs.Update(ctx, job))

	require.NoError(t, exec.Execute(ctx, job))

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, stored.Status)
	assert.Equal(t, "node unreachable", stored.LastError)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, time.Time(*stored.NextRunAt).After(time.Now()))

	// The failed attempt still lands in history.
	_, total, err := jobs.GetHistory(ctx, nil, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestExecutor_ExhaustedJobStaysFailed(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	exec := NewExecutor(jobs)
	exec.RegisterHandler(models.JobTypeRemediation, JobHandlerFunc(
		func(ctx context.Context, job *models.Job) (string, error) {
			return "", fmt.Errorf("still down")
		}))

	job := seedJob(t, jobs, &models.Job{
		Type:        models.JobTypeRemediation,
		Status:      models.JobStatusPending,
		MaxAttempts: 1,
	})
	job.MarkRunning("worker-test")
	require.NoError(t, jobs.Update(ctx, job))

	require.NoError(t, exec.Execute(ctx, job))

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Nil(t, stored.NextRunAt)
}

func TestExecutor_RecurringJobReschedules(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	exec := NewExecutor(jobs)
	exec.RegisterHandler(models.JobTypeFastHealth, JobHandlerFunc(
		func(ctx context.Context, job *models.Job) (string, error) {
			return "checked 10 streams on 2 nodes", nil
		}))

	job := seedJob(t, jobs, &models.Job{
		Type:         models.JobTypeFastHealth,
		Status:       models.JobStatusScheduled,
		CronSchedule: "@every 10s",
	})
	job.MarkRunning("worker-test")
	require.NoError(t, jobs.Update(ctx, job))

	require.NoError(t, exec.Execute(ctx, job))

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, stored.Status)
	assert.Zero(t, stored.AttemptCount)
	assert.Empty(t, stored.LockedBy)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, time.Time(*stored.NextRunAt).After(time.Now()))

	// The completed run is preserved in history even though the row went
	// back to scheduled.
	history, total, err := jobs.GetHistory(ctx, nil, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, models.JobStatusCompleted, history[0].Status)
	assert.Equal(t, "checked 10 streams on 2 nodes", history[0].Result)
}

func TestExecutor_RecurringJobReschedulesAfterFailure(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	exec := NewExecutor(jobs)
	exec.RegisterHandler(models.JobTypeFleetSync, JobHandlerFunc(
		func(ctx context.Context, job *models.Job) (string, error) {
			return "", fmt.Errorf("all nodes unreachable")
		}))

	job := seedJob(t, jobs, &models.Job{
		Type:         models.JobTypeFleetSync,
		Status:       models.JobStatusScheduled,
		CronSchedule: "@every 5m",
	})
	job.MarkRunning("worker-test")
	require.NoError(t, jobs.Update(ctx, job))

	require.NoError(t, exec.Execute(ctx, job))

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, stored.Status)
	assert.Zero(t, stored.AttemptCount)
	assert.Equal(t, "all nodes unreachable", stored.LastError)

	history, _, err := jobs.GetHistory(ctx, nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.JobStatusFailed, history[0].Status)
}

func TestExecutor_UnknownJobTypeFails(t *testing.T) {
	jobs := setupJobs(t)
	ctx := context.Background()

	exec := NewExecutor(jobs)

	job := seedJob(t, jobs, &models.Job{
		Type:   models.JobTypeDeepHealth,
		Status: models.JobStatusPending,
	})
	job.MarkRunning("worker-test")
	require.NoError(t, jobs.Update(ctx, job))

	err := exec.Execute(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
}
