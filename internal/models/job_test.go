package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Lifecycle(t *testing.T) {
	job := &Job{Type: JobTypeFleetSync, MaxAttempts: 3}

	job.MarkRunning("worker-1")
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, "worker-1", job.LockedBy)
	require.NotNil(t, job.StartedAt)

	job.MarkCompleted("synced 12 streams")
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, "synced 12 streams", job.Result)
	assert.Empty(t, job.LockedBy)
	assert.True(t, job.IsFinished())
}

func TestJob_RetrySchedule(t *testing.T) {
	job := &Job{Type: JobTypeDeepHealth, MaxAttempts: 3, BackoffSeconds: 10}

	job.MarkRunning("w")
	job.MarkFailed(errors.New("probe timeout"))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "probe timeout", job.LastError)
	require.True(t, job.CanRetry())

	job.ScheduleRetry()
	assert.Equal(t, JobStatusScheduled, job.Status)
	require.NotNil(t, job.NextRunAt)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), *job.NextRunAt, 2*time.Second)
}

func TestJob_CalculateNextBackoff(t *testing.T) {
	job := &Job{BackoffSeconds: 60}

	job.AttemptCount = 1
	assert.Equal(t, 60*time.Second, job.CalculateNextBackoff())

	job.AttemptCount = 3
	assert.Equal(t, 240*time.Second, job.CalculateNextBackoff())

	// Capped at one hour.
	job.AttemptCount = 20
	assert.Equal(t, time.Hour, job.CalculateNextBackoff())
}

func TestJob_NoRetryAfterMaxAttempts(t *testing.T) {
	job := &Job{Type: JobTypeRemediation, MaxAttempts: 1}
	job.MarkRunning("w")
	job.MarkFailed(errors.New("boom"))
	assert.False(t, job.CanRetry())

	job.ScheduleRetry()
	assert.Equal(t, JobStatusFailed, job.Status)
}

func TestJob_Validate(t *testing.T) {
	assert.ErrorIs(t, (&Job{}).Validate(), ErrJobTypeRequired)
	assert.NoError(t, (&Job{Type: JobTypeFastHealth}).Validate())
}
