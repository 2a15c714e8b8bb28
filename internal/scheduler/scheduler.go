// Package scheduler keeps the control loops ticking: recurring maintenance
// jobs are persisted as scheduled rows in the jobs table, one-off jobs come
// in from the API, and a worker pool executes both.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dan246/mtx-toolkit/internal/config"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// cronParser accepts 6-field cron expressions and "@every" descriptors.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// nextRun returns the first firing of the schedule after the given time.
func nextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(after), nil
}

// recurringSpec pins one maintenance job type to its cadence.
type recurringSpec struct {
	Type     models.JobType
	Schedule string
}

// recurringSpecs derives the recurring job set from configuration. Cadences
// that are unset drop the job entirely.
func recurringSpecs(cfg config.SchedulerConfig, blocklistSweep time.Duration) []recurringSpec {
	every := func(d time.Duration) string {
		if d <= 0 {
			return ""
		}
		return "@every " + d.String()
	}
	return []recurringSpec{
		{models.JobTypeFastHealth, every(cfg.FastHealthInterval)},
		{models.JobTypeDeepHealth, every(cfg.DeepHealthInterval)},
		{models.JobTypeFleetSync, every(cfg.FleetSyncInterval)},
		{models.JobTypeRetentionCleanup, every(cfg.RetentionInterval)},
		{models.JobTypeArchiveSweep, cfg.ArchiveCron},
		{models.JobTypeBlocklistSweep, every(blocklistSweep)},
	}
}

// Scheduler seeds and repairs the recurring job rows and accepts one-off
// jobs. Execution itself belongs to the Runner.
type Scheduler struct {
	mu sync.RWMutex

	jobs   repository.JobRepository
	specs  []recurringSpec
	logger *slog.Logger

	syncInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler from the configured cadences.
func NewScheduler(jobs repository.JobRepository, cfg config.SchedulerConfig, blocklistSweep time.Duration) *Scheduler {
	return &Scheduler{
		jobs:         jobs,
		specs:        recurringSpecs(cfg, blocklistSweep),
		logger:       slog.Default(),
		syncInterval: time.Minute,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithSyncInterval overrides how often the recurring rows are repaired.
func (s *Scheduler) WithSyncInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.syncInterval = d
	}
	return s
}

// Start seeds the recurring jobs and begins the repair loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.SeedRecurring(s.ctx); err != nil {
		s.logger.Error("seeding recurring jobs", slog.Any("error", err))
	}

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("scheduler started",
		slog.Int("recurring_jobs", len(s.specs)),
		slog.Duration("sync_interval", s.syncInterval))
	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.SeedRecurring(s.ctx); err != nil {
				s.logger.Error("repairing recurring jobs", slog.Any("error", err))
			}
		}
	}
}

// SeedRecurring ensures one live scheduled row exists per recurring job
// type. It repairs rows that were deleted and updates cadence changes.
func (s *Scheduler) SeedRecurring(ctx context.Context) error {
	for _, spec := range s.specs {
		if spec.Schedule == "" {
			continue
		}
		next, err := nextRun(spec.Schedule, time.Now())
		if err != nil {
			s.logger.Warn("skipping recurring job with bad schedule",
				slog.String("type", string(spec.Type)),
				slog.Any("error", err))
			continue
		}

		existing, err := s.jobs.GetByType(ctx, spec.Type)
		if err != nil {
			return fmt.Errorf("listing %s jobs: %w", spec.Type, err)
		}

		var live *models.Job
		for _, job := range existing {
			if job.IsRecurring() && !job.IsFinished() {
				live = job
				break
			}
		}

		if live == nil {
			nextAt := models.Time(next)
			job := &models.Job{
				Type:         spec.Type,
				Status:       models.JobStatusScheduled,
				CronSchedule: spec.Schedule,
				NextRunAt:    &nextAt,
			}
			if err := s.jobs.Create(ctx, job); err != nil {
				return fmt.Errorf("seeding %s job: %w", spec.Type, err)
			}
			s.logger.Info("seeded recurring job",
				slog.String("type", string(spec.Type)),
				slog.String("schedule", spec.Schedule))
			continue
		}

		if live.CronSchedule != spec.Schedule {
			live.CronSchedule = spec.Schedule
			nextAt := models.Time(next)
			live.NextRunAt = &nextAt
			if err := s.jobs.Update(ctx, live); err != nil {
				return fmt.Errorf("updating %s cadence: %w", spec.Type, err)
			}
			s.logger.Info("recurring job cadence updated",
				slog.String("type", string(spec.Type)),
				slog.String("schedule", spec.Schedule))
		}
	}
	return nil
}

// ScheduleImmediate creates a one-off pending job for the given target,
// returning the existing job instead when one is already queued or running.
func (s *Scheduler) ScheduleImmediate(ctx context.Context, jobType models.JobType, targetID models.ULID, targetName string) (*models.Job, error) {
	return s.ScheduleImmediateWithPayload(ctx, jobType, targetID, targetName, "")
}

// ScheduleImmediateWithPayload is ScheduleImmediate with a JSON payload for
// handlers that take parameters.
func (s *Scheduler) ScheduleImmediateWithPayload(ctx context.Context, jobType models.JobType, targetID models.ULID, targetName, payload string) (*models.Job, error) {
	existing, err := s.jobs.FindDuplicatePending(ctx, jobType, targetID)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate job: %w", err)
	}
	if existing != nil {
		s.logger.Debug("returning existing pending job",
			slog.String("type", string(jobType)),
			slog.String("job_id", existing.ID.String()))
		return existing, nil
	}

	job := &models.Job{
		Type:       jobType,
		TargetID:   targetID,
		TargetName: targetName,
		Payload:    payload,
		Status:     models.JobStatusPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating immediate job: %w", err)
	}

	s.logger.Info("created immediate job",
		slog.String("type", string(jobType)),
		slog.String("target", targetName),
		slog.String("job_id", job.ID.String()))
	return job, nil
}

// ValidateCron validates a cron expression or "@every" descriptor.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}
