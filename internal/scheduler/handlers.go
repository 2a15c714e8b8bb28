package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dan246/mtx-toolkit/internal/fleet"
	"github.com/dan246/mtx-toolkit/internal/health"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/nodeconfig"
	"github.com/dan246/mtx-toolkit/internal/remediation"
	"github.com/dan246/mtx-toolkit/internal/repository"
	"github.com/dan246/mtx-toolkit/internal/retention"
)

const (
	defaultFanoutConcurrency = 8
	defaultDeepSampleLimit   = 50
	// archiveMinAge keeps the sweep away from segments the recorder may
	// still be writing.
	archiveMinAge     = 24 * time.Hour
	archiveBatchLimit = 500
)

// Service interfaces the handlers drive. They match the concrete engines;
// tests substitute fakes.
type (
	// NodeHealthChecker classifies every stream on one node.
	NodeHealthChecker interface {
		CheckNode(ctx context.Context, node *models.Node) (*health.FastResult, error)
	}

	// StreamDeepChecker probes one stream's media.
	StreamDeepChecker interface {
		CheckStream(ctx context.Context, node *models.Node, stream *models.Stream) (*health.DeepResult, error)
	}

	// Remediator runs the tiered recovery machine on one stream.
	Remediator interface {
		Remediate(ctx context.Context, node *models.Node, stream *models.Stream, reason string, force bool) (*remediation.Result, error)
	}

	// FleetSyncer reconciles one node's paths into stream records.
	FleetSyncer interface {
		SyncNode(ctx context.Context, node *models.Node) (*fleet.SyncResult, error)
	}

	// RecordingScanner indexes the recording tree.
	RecordingScanner interface {
		Scan(ctx context.Context, forceRescan bool) (*retention.ScanResult, error)
	}

	// RecordingCleaner evicts expired and pressure recordings.
	RecordingCleaner interface {
		Cleanup(ctx context.Context, dryRun bool) (*retention.CleanupResult, error)
	}

	// ArchiveSweeper archives due recordings.
	ArchiveSweeper interface {
		Sweep(ctx context.Context, cutoff time.Time, limit int) (*retention.SweepResult, error)
	}

	// BlockSweeper deactivates expired IP blocks.
	BlockSweeper interface {
		Sweep(ctx context.Context) (int64, error)
	}

	// RollingUpdater applies a config document across the fleet.
	RollingUpdater interface {
		RollingUpdate(ctx context.Context, rawYAML string, opts nodeconfig.RollingOptions) (*nodeconfig.RollingResult, error)
	}

	// ClipCapturer records a short evidence clip around a stream event.
	ClipCapturer interface {
		Trigger(ctx context.Context, node *models.Node, stream *models.Stream, event *models.StreamEvent) (*models.Recording, error)
	}
)

// FanoutOptions bound the per-node fan-out of fleet-wide handlers.
type FanoutOptions struct {
	Concurrency  int
	TaskDeadline time.Duration
}

func (o FanoutOptions) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return defaultFanoutConcurrency
}

// fanout runs fn for every node with bounded concurrency and an optional
// per-task deadline, and reports how many calls failed.
func fanout(ctx context.Context, nodes []*models.Node, opts FanoutOptions, fn func(ctx context.Context, node *models.Node) error) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	sem := make(chan struct{}, opts.concurrency())

	for _, node := range nodes {
		wg.Add(1)
		sem <- struct{}{}
		go func(node *models.Node) {
			defer wg.Done()
			defer func() { <-sem }()

			taskCtx := ctx
			if opts.TaskDeadline > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(ctx, opts.TaskDeadline)
				defer cancel()
			}
			if err := fn(taskCtx, node); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(node)
	}

	wg.Wait()
	return failed
}

// FastHealthHandler fans the fast health check out over every active node.
type FastHealthHandler struct {
	store   *repository.Store
	checker NodeHealthChecker
	opts    FanoutOptions
	logger  *slog.Logger
}

// NewFastHealthHandler creates the fast health fan-out handler.
func NewFastHealthHandler(store *repository.Store, checker NodeHealthChecker, opts FanoutOptions, logger *slog.Logger) *FastHealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FastHealthHandler{store: store, checker: checker, opts: opts, logger: logger}
}

// Execute runs the fast health pass.
func (h *FastHealthHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	nodes, err := h.store.Nodes.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("listing nodes: %w", err)
	}

	var (
		mu                                    sync.Mutex
		checked, healthy, degraded, unhealthy int
	)
	failed := fanout(ctx, nodes, h.opts, func(ctx context.Context, node *models.Node) error {
		result, err := h.checker.CheckNode(ctx, node)
		if err != nil {
			h.logger.Warn("fast health check failed",
				slog.String("node", node.Name),
				slog.String("error", err.Error()))
			return err
		}
		mu.Lock()
		checked += result.Checked
		healthy += result.Healthy
		degraded += result.Degraded
		unhealthy += result.Unhealthy
		mu.Unlock()
		return nil
	})

	return fmt.Sprintf("checked %d streams on %d nodes (%d healthy, %d degraded, %d unhealthy, %d node errors)",
		checked, len(nodes), healthy, degraded, unhealthy, failed), nil
}

// DeepHealthHandler probes a bounded stream sample and feeds unhealthy
// streams into remediation.
type DeepHealthHandler struct {
	store       *repository.Store
	deep        StreamDeepChecker
	remediator  Remediator
	capture     ClipCapturer
	sampleLimit int
	opts        FanoutOptions
	logger      *slog.Logger
}

// NewDeepHealthHandler creates the deep health handler. remediator may be
// nil to disable the follow-up remediation.
func NewDeepHealthHandler(store *repository.Store, deep StreamDeepChecker, remediator Remediator, sampleLimit int, opts FanoutOptions, logger *slog.Logger) *DeepHealthHandler {
	if sampleLimit <= 0 {
		sampleLimit = defaultDeepSampleLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepHealthHandler{
		store:       store,
		deep:        deep,
		remediator:  remediator,
		sampleLimit: sampleLimit,
		opts:        opts,
		logger:      logger,
	}
}

// WithCapture attaches an evidence clip recorder. Unhealthy streams get a
// short capture of their most recent event before remediation runs.
func (h *DeepHealthHandler) WithCapture(capture ClipCapturer) *DeepHealthHandler {
	h.capture = capture
	return h
}

// Execute runs the deep probe pass.
func (h *DeepHealthHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	streams, err := h.store.Streams.ListProbeSample(ctx, h.sampleLimit)
	if err != nil {
		return "", fmt.Errorf("sampling streams: %w", err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex

		probed, unhealthy, remediated, failed int
	)
	sem := make(chan struct{}, h.opts.concurrency())

	for _, stream := range streams {
		wg.Add(1)
		sem <- struct{}{}
		go func(stream *models.Stream) {
			defer wg.Done()
			defer func() { <-sem }()

			probeCtx := ctx
			if h.opts.TaskDeadline > 0 {
				var cancel context.CancelFunc
				probeCtx, cancel = context.WithTimeout(ctx, h.opts.TaskDeadline)
				defer cancel()
			}

			node, err := h.store.Nodes.GetByID(probeCtx, stream.NodeID)
			if err != nil || node == nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			result, err := h.deep.CheckStream(probeCtx, node, stream)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			mu.Lock()
			probed++
			if result.Status == models.StreamStatusUnhealthy {
				unhealthy++
			}
			mu.Unlock()

			if result.Status != models.StreamStatusUnhealthy {
				return
			}
			h.captureClip(ctx, node, stream)

			if h.remediator == nil {
				return
			}
			remResult, err := h.remediator.Remediate(ctx, node, stream, "deep health probe", false)
			if err != nil {
				h.logger.Error("remediation after deep probe failed",
					slog.String("stream", stream.Path),
					slog.String("error", err.Error()))
				return
			}
			if !remResult.Skipped {
				mu.Lock()
				remediated++
				mu.Unlock()
			}
		}(stream)
	}
	wg.Wait()

	return fmt.Sprintf("probed %d streams (%d unhealthy, %d remediated, %d errors)",
		probed, unhealthy, remediated, failed), nil
}

// captureClip records a clip for the stream's newest event. Best effort;
// a failed capture never blocks the health pass.
func (h *DeepHealthHandler) captureClip(ctx context.Context, node *models.Node, stream *models.Stream) {
	if h.capture == nil {
		return
	}
	events, _, err := h.store.Events.ListByStream(ctx, stream.ID, 0, 1)
	if err != nil || len(events) == 0 {
		return
	}
	if _, err := h.capture.Trigger(ctx, node, stream, events[0]); err != nil {
		h.logger.Debug("event clip capture failed",
			slog.String("stream", stream.Path),
			slog.String("error", err.Error()))
	}
}

// FleetSyncHandler reconciles every active node's paths into streams.
type FleetSyncHandler struct {
	store  *repository.Store
	syncer FleetSyncer
	opts   FanoutOptions
	logger *slog.Logger
}

// NewFleetSyncHandler creates the fleet sync fan-out handler.
func NewFleetSyncHandler(store *repository.Store, syncer FleetSyncer, opts FanoutOptions, logger *slog.Logger) *FleetSyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FleetSyncHandler{store: store, syncer: syncer, opts: opts, logger: logger}
}

// Execute runs the fleet sync pass.
func (h *FleetSyncHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	nodes, err := h.store.Nodes.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("listing nodes: %w", err)
	}

	var (
		mu                        sync.Mutex
		created, updated, deleted int64
	)
	failed := fanout(ctx, nodes, h.opts, func(ctx context.Context, node *models.Node) error {
		result, err := h.syncer.SyncNode(ctx, node)
		if err != nil {
			h.logger.Warn("fleet sync failed",
				slog.String("node", node.Name),
				slog.String("error", err.Error()))
			return err
		}
		mu.Lock()
		created += int64(result.Created)
		updated += int64(result.Updated)
		deleted += int64(result.Deleted)
		mu.Unlock()
		return nil
	})

	return fmt.Sprintf("synced %d nodes (%d created, %d updated, %d pruned, %d node errors)",
		len(nodes), created, updated, deleted, failed), nil
}

// retentionPayload parameterizes a retention cleanup job.
type retentionPayload struct {
	ForceRescan bool `json:"force_rescan"`
	DryRun      bool `json:"dry_run"`
}

// RetentionCleanupHandler scans the recording tree then runs both eviction
// passes.
type RetentionCleanupHandler struct {
	scanner RecordingScanner
	cleaner RecordingCleaner
}

// NewRetentionCleanupHandler creates the retention handler. The runner's
// per-type timeout bounds the whole pass.
func NewRetentionCleanupHandler(scanner RecordingScanner, cleaner RecordingCleaner) *RetentionCleanupHandler {
	return &RetentionCleanupHandler{scanner: scanner, cleaner: cleaner}
}

// Execute runs scan then cleanup.
func (h *RetentionCleanupHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	var params retentionPayload
	if err := decodePayload(job.Payload, &params); err != nil {
		return "", err
	}

	scan, err := h.scanner.Scan(ctx, params.ForceRescan)
	if err != nil {
		return "", fmt.Errorf("scanning recordings: %w", err)
	}
	cleanup, err := h.cleaner.Cleanup(ctx, params.DryRun)
	if err != nil {
		return "", fmt.Errorf("cleaning recordings: %w", err)
	}

	return fmt.Sprintf("indexed %d new segments, evicted %d (%d bytes, dry_run=%t)",
		scan.Added, len(cleanup.Victims), cleanup.FreedBytes, cleanup.DryRun), nil
}

// ArchiveSweepHandler archives recordings old enough to be safe to copy.
type ArchiveSweepHandler struct {
	sweeper ArchiveSweeper

	now func() time.Time
}

// NewArchiveSweepHandler creates the archive sweep handler.
func NewArchiveSweepHandler(sweeper ArchiveSweeper) *ArchiveSweepHandler {
	return &ArchiveSweepHandler{sweeper: sweeper, now: time.Now}
}

// Execute runs one archive sweep.
func (h *ArchiveSweepHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	result, err := h.sweeper.Sweep(ctx, h.now().Add(-archiveMinAge), archiveBatchLimit)
	if err != nil {
		return "", fmt.Errorf("archive sweep: %w", err)
	}
	return fmt.Sprintf("archived %d of %d candidates (%d failures)",
		result.Archived, result.Candidates, len(result.Errors)), nil
}

// BlocklistSweepHandler deactivates expired IP blocks.
type BlocklistSweepHandler struct {
	sweeper BlockSweeper
}

// NewBlocklistSweepHandler creates the blocklist sweep handler.
func NewBlocklistSweepHandler(sweeper BlockSweeper) *BlocklistSweepHandler {
	return &BlocklistSweepHandler{sweeper: sweeper}
}

// Execute runs one blocklist sweep.
func (h *BlocklistSweepHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	swept, err := h.sweeper.Sweep(ctx)
	if err != nil {
		return "", fmt.Errorf("blocklist sweep: %w", err)
	}
	return fmt.Sprintf("deactivated %d expired block entries", swept), nil
}

// remediationPayload parameterizes a one-off remediation job.
type remediationPayload struct {
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

// RemediationHandler runs the recovery machine on the job's target stream.
type RemediationHandler struct {
	store      *repository.Store
	remediator Remediator
}

// NewRemediationHandler creates the remediation job handler.
func NewRemediationHandler(store *repository.Store, remediator Remediator) *RemediationHandler {
	return &RemediationHandler{store: store, remediator: remediator}
}

// Execute remediates the target stream. A run that exhausts every tier
// fails the job; a skip completes it with the skip reason.
func (h *RemediationHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	var params remediationPayload
	if err := decodePayload(job.Payload, &params); err != nil {
		return "", err
	}
	if params.Reason == "" {
		params.Reason = "manual trigger"
	}

	stream, err := h.store.Streams.GetByID(ctx, job.TargetID)
	if err != nil {
		return "", err
	}
	if stream == nil {
		return "", models.ErrStreamNotFound
	}
	node, err := h.store.Nodes.GetByID(ctx, stream.NodeID)
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", models.ErrNodeNotFound
	}

	result, err := h.remediator.Remediate(ctx, node, stream, params.Reason, params.Force)
	if err != nil {
		return "", err
	}
	if result.Skipped {
		return fmt.Sprintf("skipped: %s", result.SkipReason), nil
	}
	if !result.Success {
		return "", fmt.Errorf("remediation exhausted at tier %s", result.FinalTier)
	}
	return fmt.Sprintf("recovered %s at tier %s", stream.Path, result.FinalTier), nil
}

// rollingPayload parameterizes a rolling update job.
type rollingPayload struct {
	ConfigYAML  string `json:"config_yaml"`
	Environment string `json:"environment"`
	AppliedBy   string `json:"applied_by"`
	BatchSize   int    `json:"batch_size"`
}

// RollingUpdateHandler applies a config document across the fleet in
// batches.
type RollingUpdateHandler struct {
	updater    RollingUpdater
	batchSize  int
	batchDelay time.Duration
}

// NewRollingUpdateHandler creates the rolling update handler with default
// batch parameters from configuration.
func NewRollingUpdateHandler(updater RollingUpdater, batchSize int, batchDelay time.Duration) *RollingUpdateHandler {
	return &RollingUpdateHandler{updater: updater, batchSize: batchSize, batchDelay: batchDelay}
}

// Execute runs the rolling update. An aborted rollout fails the job.
func (h *RollingUpdateHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	var params rollingPayload
	if err := decodePayload(job.Payload, &params); err != nil {
		return "", err
	}
	if params.ConfigYAML == "" {
		return "", fmt.Errorf("rolling update job has no config document")
	}

	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = h.batchSize
	}

	result, err := h.updater.RollingUpdate(ctx, params.ConfigYAML, nodeconfig.RollingOptions{
		Environment: params.Environment,
		BatchSize:   batchSize,
		BatchDelay:  h.batchDelay,
		AppliedBy:   params.AppliedBy,
	})
	if err != nil {
		return "", err
	}
	if result.Aborted {
		return "", fmt.Errorf("rollout aborted after %d batches, failed nodes: %v",
			result.Batches, result.Failed)
	}
	return fmt.Sprintf("applied to %d nodes in %d batches", len(result.Applied), result.Batches), nil
}

func decodePayload(payload string, v any) error {
	if payload == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("decoding job payload: %w", err)
	}
	return nil
}
