package models

import (
	"time"

	"gorm.io/gorm"
)

// JobType represents the type of background job to execute.
type JobType string

const (
	// JobTypeFastHealth polls every active node's path list.
	JobTypeFastHealth JobType = "fast_health"
	// JobTypeDeepHealth probes a bounded sample of streams with ffprobe.
	JobTypeDeepHealth JobType = "deep_health"
	// JobTypeFleetSync reconciles paths into streams for every active node.
	JobTypeFleetSync JobType = "fleet_sync"
	// JobTypeRetentionCleanup evicts expired and disk-pressure recordings.
	JobTypeRetentionCleanup JobType = "retention_cleanup"
	// JobTypeArchiveSweep copies due recordings to the archive tree.
	JobTypeArchiveSweep JobType = "archive_sweep"
	// JobTypeBlocklistSweep deactivates expired IP block entries.
	JobTypeBlocklistSweep JobType = "blocklist_sweep"
	// JobTypeRemediation runs the tiered recovery machine on one stream.
	JobTypeRemediation JobType = "remediation"
	// JobTypeRollingUpdate applies a config across the fleet in batches.
	JobTypeRollingUpdate JobType = "rolling_update"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be executed.
	JobStatusPending JobStatus = "pending"
	// JobStatusScheduled indicates the job is scheduled for future execution.
	JobStatusScheduled JobStatus = "scheduled"
	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled.
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a scheduled or immediate task execution record.
type Job struct {
	BaseModel

	// Type indicates what kind of job this is.
	Type JobType `gorm:"not null;size:50;index" json:"type"`

	// TargetID is the entity this job operates on (node or stream ID).
	// Used to deduplicate concurrent job requests for the same target.
	TargetID ULID `gorm:"type:varchar(26);index" json:"target_id,omitempty"`

	// TargetName is a human-readable name for the target.
	TargetName string `gorm:"size:255" json:"target_name,omitempty"`

	// Payload carries job parameters as JSON (e.g. a rolling update spec).
	Payload string `gorm:"type:text" json:"payload,omitempty"`

	// Status indicates the current status of the job.
	Status JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// CronSchedule for recurring jobs. Supports 6-field cron and
	// "@every" descriptors; empty string indicates a one-off job.
	CronSchedule string `gorm:"size:100" json:"cron_schedule,omitempty"`

	// NextRunAt is when the job should next execute. Recalculated after
	// each execution for recurring jobs.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	// AttemptCount is the number of times this job has been attempted.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts is the maximum number of retry attempts (0 = no retries).
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffSeconds is the initial backoff for retries; doubles per retry.
	BackoffSeconds int `gorm:"default:60" json:"backoff_seconds"`

	LastError string `gorm:"size:4096" json:"last_error,omitempty"`
	Result    string `gorm:"size:4096" json:"result,omitempty"`

	// Priority determines execution order (higher = more important).
	Priority int `gorm:"default:0;index" json:"priority"`

	// LockedBy is the worker ID that has claimed this job.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`
	LockedAt *Time  `json:"locked_at,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsRecurring returns true if this is a recurring scheduled job.
func (j *Job) IsRecurring() bool {
	return j.CronSchedule != ""
}

// IsPending returns true if the job is pending execution.
func (j *Job) IsPending() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusScheduled
}

// IsRunning returns true if the job is currently executing.
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// IsFinished returns true if the job has completed (successfully or not).
func (j *Job) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// CanRetry returns true if the job can be retried.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.AttemptCount < j.MaxAttempts
}

// MarkRunning marks the job as running.
func (j *Job) MarkRunning(workerID string) {
	j.Status = JobStatusRunning
	now := Now()
	j.StartedAt = &now
	j.LockedBy = workerID
	j.LockedAt = &now
	j.AttemptCount++
	j.LastError = ""
}

// MarkCompleted marks the job as completed successfully.
func (j *Job) MarkCompleted(result string) {
	j.Status = JobStatusCompleted
	now := Now()
	j.CompletedAt = &now
	j.Result = result
	j.LastError = ""

	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}

	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkFailed marks the job as failed with an error message.
func (j *Job) MarkFailed(err error) {
	j.Status = JobStatusFailed
	now := Now()
	j.CompletedAt = &now

	if err != nil {
		j.LastError = err.Error()
	}

	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}

	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkCancelled marks the job as cancelled.
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := Now()
	j.CompletedAt = &now
	j.LockedBy = ""
	j.LockedAt = nil
}

// CalculateNextBackoff returns the backoff duration for the next retry.
// Uses exponential backoff: base * 2^(attemptCount-1), capped at 1 hour.
func (j *Job) CalculateNextBackoff() time.Duration {
	if j.BackoffSeconds <= 0 {
		j.BackoffSeconds = 60
	}

	attempts := j.AttemptCount
	if attempts < 1 {
		attempts = 1
	}

	multiplier := 1 << (attempts - 1)
	if multiplier < 1 {
		multiplier = 1
	}

	backoffSecs := j.BackoffSeconds * multiplier

	const maxBackoff = 3600
	if backoffSecs > maxBackoff {
		backoffSecs = maxBackoff
	}

	return time.Duration(backoffSecs) * time.Second
}

// ScheduleRetry schedules the job for retry with exponential backoff.
func (j *Job) ScheduleRetry() {
	if !j.CanRetry() {
		return
	}

	nextRun := Now().Add(j.CalculateNextBackoff())
	j.NextRunAt = &nextRun
	j.Status = JobStatusScheduled
	j.LockedBy = ""
	j.LockedAt = nil
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.Type == "" {
		return ErrJobTypeRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates a ULID.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}

// BeforeUpdate is a GORM hook that validates the job before update.
func (j *Job) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}

// JobHistory stores historical execution records for completed jobs.
// This is separate from the main Job table to keep it lean.
type JobHistory struct {
	BaseModel

	JobID      ULID    `gorm:"not null;index" json:"job_id"`
	Type       JobType `gorm:"not null;size:50;index" json:"type"`
	TargetID   ULID    `gorm:"type:varchar(26);index" json:"target_id,omitempty"`
	TargetName string  `gorm:"size:255" json:"target_name,omitempty"`

	Status JobStatus `gorm:"not null;size:20" json:"status"`

	StartedAt   *Time `gorm:"index" json:"started_at,omitempty"`
	CompletedAt *Time `gorm:"index" json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	// AttemptNumber is which attempt this was (1 = first attempt).
	AttemptNumber int `json:"attempt_number"`

	Error  string `gorm:"size:4096" json:"error,omitempty"`
	Result string `gorm:"size:4096" json:"result,omitempty"`
}

// TableName returns the table name for JobHistory.
func (JobHistory) TableName() string {
	return "job_history"
}
