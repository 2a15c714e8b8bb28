package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

const (
	defaultWorkerCount  = 2
	defaultPollInterval = 5 * time.Second
	defaultLockTimeout  = 30 * time.Minute
	defaultJobTimeout   = time.Hour
	defaultPruneAge     = 7 * 24 * time.Hour

	staleSweepInterval = 5 * time.Minute
	pruneSweepInterval = time.Hour
)

// RunnerConfig tunes the worker pool.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent workers.
	WorkerCount int

	// PollInterval is how long an idle worker waits before asking for work
	// again.
	PollInterval time.Duration

	// LockTimeout is how long a claimed job may sit locked before the
	// janitor treats its worker as dead and fails the job.
	LockTimeout time.Duration

	// JobTimeout caps a single job execution when its type has no entry in
	// TypeTimeouts.
	JobTimeout time.Duration

	// TypeTimeouts overrides JobTimeout per job type, so a slow retention
	// pass and a quick health sweep each get a fitting deadline.
	TypeTimeouts map[models.JobType]time.Duration

	// PruneAge is how long finished jobs and history rows are kept.
	PruneAge time.Duration

	// DisablePrune turns the hourly prune sweep off.
	DisablePrune bool
}

// Runner drains the persisted job queue with a pool of workers. A janitor
// goroutine recovers jobs orphaned by dead workers and prunes old rows.
type Runner struct {
	mu sync.RWMutex

	jobs     repository.JobRepository
	executor *Executor
	logger   *slog.Logger
	identity string
	cfg      RunnerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a job runner with default tuning.
func NewRunner(jobs repository.JobRepository, executor *Executor) *Runner {
	return &Runner{
		jobs:     jobs,
		executor: executor,
		logger:   slog.Default(),
		identity: runnerIdentity(),
		cfg: RunnerConfig{
			WorkerCount:  defaultWorkerCount,
			PollInterval: defaultPollInterval,
			LockTimeout:  defaultLockTimeout,
			JobTimeout:   defaultJobTimeout,
			PruneAge:     defaultPruneAge,
		},
	}
}

// runnerIdentity names this process for job locks: the host it runs on plus
// a short random suffix, so two runners on one host stay distinguishable.
func runnerIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mtxctl"
	}
	return host + "-" + uuid.NewString()[:8]
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithConfig layers non-zero settings over the defaults.
func (r *Runner) WithConfig(cfg RunnerConfig) *Runner {
	if cfg.WorkerCount > 0 {
		r.cfg.WorkerCount = cfg.WorkerCount
	}
	if cfg.PollInterval > 0 {
		r.cfg.PollInterval = cfg.PollInterval
	}
	if cfg.LockTimeout > 0 {
		r.cfg.LockTimeout = cfg.LockTimeout
	}
	if cfg.JobTimeout > 0 {
		r.cfg.JobTimeout = cfg.JobTimeout
	}
	if len(cfg.TypeTimeouts) > 0 {
		r.cfg.TypeTimeouts = cfg.TypeTimeouts
	}
	if cfg.PruneAge > 0 {
		r.cfg.PruneAge = cfg.PruneAge
	}
	r.cfg.DisablePrune = cfg.DisablePrune
	return r
}

// Start launches the workers and the janitor.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return errors.New("runner already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.cfg.WorkerCount; i++ {
		worker := fmt.Sprintf("%s-%d", r.identity, i)
		r.wg.Add(1)
		go r.work(worker)
	}

	r.wg.Add(1)
	go r.janitor()

	r.logger.Info("job runner started",
		slog.Int("workers", r.cfg.WorkerCount),
		slog.String("identity", r.identity),
		slog.Duration("poll_interval", r.cfg.PollInterval),
	)
	return nil
}

// Stop cancels the pool and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("job runner stopped")
}

// work claims and executes jobs until the runner stops, idling for the poll
// interval whenever the queue is empty or the claim fails.
func (r *Runner) work(worker string) {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		claimed, err := r.runOne(worker)
		if err != nil {
			r.logger.Error("job processing failed",
				slog.String("worker", worker),
				slog.Any("error", err),
			)
		}
		if claimed && err == nil {
			continue
		}

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// runOne claims a single job and executes it under its type's deadline. It
// reports whether a job was claimed.
func (r *Runner) runOne(worker string) (bool, error) {
	job, err := r.jobs.AcquireJob(r.ctx, worker)
	if err != nil {
		return false, fmt.Errorf("acquiring job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	r.logger.Debug("job claimed",
		slog.String("worker", worker),
		slog.String("job_id", job.ID.String()),
		slog.String("type", string(job.Type)),
	)

	ctx, cancel := context.WithTimeout(r.ctx, r.timeoutFor(job.Type))
	defer cancel()

	if err := r.executor.Execute(ctx, job); err != nil {
		return true, fmt.Errorf("executing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (r *Runner) timeoutFor(jobType models.JobType) time.Duration {
	if d, ok := r.cfg.TypeTimeouts[jobType]; ok && d > 0 {
		return d
	}
	return r.cfg.JobTimeout
}

// janitor recovers jobs whose worker died mid-run and prunes finished jobs
// past the retention age.
func (r *Runner) janitor() {
	defer r.wg.Done()

	stale := time.NewTicker(staleSweepInterval)
	defer stale.Stop()

	var prune <-chan time.Time
	if !r.cfg.DisablePrune {
		ticker := time.NewTicker(pruneSweepInterval)
		defer ticker.Stop()
		prune = ticker.C
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-stale.C:
			r.recoverStale()
		case <-prune:
			r.prune()
		}
	}
}

// recoverStale fails running jobs locked past the lock timeout, scheduling a
// retry when the job has attempts left.
func (r *Runner) recoverStale() {
	running, err := r.jobs.GetRunning(r.ctx)
	if err != nil {
		r.logger.Error("failed to list running jobs", slog.Any("error", err))
		return
	}

	cutoff := time.Now().Add(-r.cfg.LockTimeout)
	for _, job := range running {
		if job.LockedAt == nil || !job.LockedAt.Before(cutoff) {
			continue
		}

		r.logger.Warn("recovering stale job",
			slog.String("job_id", job.ID.String()),
			slog.String("locked_by", job.LockedBy),
			slog.Time("locked_at", *job.LockedAt),
		)

		job.MarkFailed(fmt.Errorf("job stale: locked since %s", job.LockedAt.Format(time.RFC3339)))
		if job.CanRetry() {
			job.ScheduleRetry()
		}
		if err := r.jobs.Update(r.ctx, job); err != nil {
			r.logger.Error("failed to recover stale job",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err),
			)
		}
	}
}

// prune drops finished jobs and their history past the retention age.
func (r *Runner) prune() {
	cutoff := time.Now().Add(-r.cfg.PruneAge)

	if deleted, err := r.jobs.DeleteCompleted(r.ctx, cutoff); err != nil {
		r.logger.Error("failed to prune finished jobs", slog.Any("error", err))
	} else if deleted > 0 {
		r.logger.Info("pruned finished jobs", slog.Int64("deleted", deleted))
	}

	if deleted, err := r.jobs.DeleteHistory(r.ctx, cutoff); err != nil {
		r.logger.Error("failed to prune job history", slog.Any("error", err))
	} else if deleted > 0 {
		r.logger.Info("pruned job history", slog.Int64("deleted", deleted))
	}
}

// RunnerStatus is the worker pool's externally visible state.
type RunnerStatus struct {
	Running      bool          `json:"running"`
	WorkerCount  int           `json:"worker_count"`
	WorkerID     string        `json:"worker_id"`
	PendingJobs  int64         `json:"pending_jobs"`
	RunningJobs  int64         `json:"running_jobs"`
	PollInterval time.Duration `json:"poll_interval"`
}

// Status reports the pool and queue state for the operator API.
func (r *Runner) Status() RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	running := r.ctx != nil && r.ctx.Err() == nil

	var pendingCount, runningCount int64
	if running {
		if pending, err := r.jobs.GetPending(r.ctx); err == nil {
			pendingCount = int64(len(pending))
		}
		if active, err := r.jobs.GetRunning(r.ctx); err == nil {
			runningCount = int64(len(active))
		}
	}

	return RunnerStatus{
		Running:      running,
		WorkerCount:  r.cfg.WorkerCount,
		WorkerID:     r.identity,
		PendingJobs:  pendingCount,
		RunningJobs:  runningCount,
		PollInterval: r.cfg.PollInterval,
	}
}
