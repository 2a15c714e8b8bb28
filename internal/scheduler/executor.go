package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// JobHandler executes one job type.
type JobHandler interface {
	// Execute runs the job and returns a result string or error.
	Execute(ctx context.Context, job *models.Job) (string, error)
}

// JobHandlerFunc adapts a function to the JobHandler interface.
type JobHandlerFunc func(ctx context.Context, job *models.Job) (string, error)

// Execute implements JobHandler.
func (f JobHandlerFunc) Execute(ctx context.Context, job *models.Job) (string, error) {
	return f(ctx, job)
}

// Executor dispatches jobs to registered handlers, persists outcomes, and
// puts recurring jobs back on the clock.
type Executor struct {
	handlers map[models.JobType]JobHandler
	jobs     repository.JobRepository
	logger   *slog.Logger
}

// NewExecutor creates a job executor.
func NewExecutor(jobs repository.JobRepository) *Executor {
	return &Executor{
		handlers: make(map[models.JobType]JobHandler),
		jobs:     jobs,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// RegisterHandler registers a handler for a job type.
func (e *Executor) RegisterHandler(jobType models.JobType, handler JobHandler) {
	e.handlers[jobType] = handler
}

// Execute runs a job and updates its status. Recurring jobs are rescheduled
// for their next firing whether they succeeded or failed; one-off jobs
// retry with backoff until MaxAttempts.
func (e *Executor) Execute(ctx context.Context, job *models.Job) error {
	handler, ok := e.handlers[job.Type]
	if !ok {
		job.MarkFailed(fmt.Errorf("no handler registered for job type: %s", job.Type))
		if err := e.jobs.Update(ctx, job); err != nil {
			return fmt.Errorf("updating job status: %w", err)
		}
		return fmt.Errorf("no handler registered for job type: %s", job.Type)
	}

	e.logger.Info("executing job",
		slog.String("job_id", job.ID.String()),
		slog.String("type", string(job.Type)),
		slog.String("target", job.TargetName))

	result, err := handler.Execute(ctx, job)
	if err != nil {
		e.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)),
			slog.Any("error", err))
		job.MarkFailed(err)
	} else {
		e.logger.Info("job completed",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)),
			slog.String("result", result))
		job.MarkCompleted(result)
	}

	if job.IsFinished() {
		e.createHistoryRecord(ctx, job)
	}

	if job.IsRecurring() {
		e.reschedule(job)
	} else if err != nil && job.CanRetry() {
		job.ScheduleRetry()
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", job.ID.String()),
			slog.Int("attempt", job.AttemptCount),
			slog.Time("next_run", job.NextRunAt.UTC()))
	}

	if err := e.jobs.Update(ctx, job); err != nil {
		e.logger.Error("failed to update job status",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
		return fmt.Errorf("updating job status: %w", err)
	}
	return nil
}

// reschedule flips a recurring job back to scheduled at its next firing.
func (e *Executor) reschedule(job *models.Job) {
	next, err := nextRun(job.CronSchedule, time.Now())
	if err != nil {
		e.logger.Error("recurring job has unparseable schedule, leaving it finished",
			slog.String("job_id", job.ID.String()),
			slog.String("schedule", job.CronSchedule),
			slog.Any("error", err))
		return
	}

	nextAt := models.Time(next)
	job.Status = models.JobStatusScheduled
	job.NextRunAt = &nextAt
	job.LockedBy = ""
	job.LockedAt = nil
	job.AttemptCount = 0
}

// createHistoryRecord writes the run into the history table.
func (e *Executor) createHistoryRecord(ctx context.Context, job *models.Job) {
	history := &models.JobHistory{
		JobID:         job.ID,
		Type:          job.Type,
		TargetID:      job.TargetID,
		TargetName:    job.TargetName,
		Status:        job.Status,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		DurationMs:    job.DurationMs,
		AttemptNumber: job.AttemptCount,
		Error:         job.LastError,
		Result:        job.Result,
	}

	if err := e.jobs.CreateHistory(ctx, history); err != nil {
		e.logger.Error("failed to create job history",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
	}
}
