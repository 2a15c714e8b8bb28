// Package remediation implements tiered automatic recovery for unhealthy
// streams: kick the path's sessions to force a reconnect, cycle the path
// config to restart the sidecar, recreate the path from its source URL, and
// as a last resort restart the relay itself.
package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dan246/mtx-toolkit/internal/config"
	"github.com/dan246/mtx-toolkit/internal/health"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/relay"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// Tier identifies one rung of the recovery ladder.
type Tier int

const (
	TierReconnect Tier = iota + 1
	TierRestartSidecar
	TierRestartPath
	TierRestartRelay
)

func (t Tier) String() string {
	switch t {
	case TierReconnect:
		return "reconnect"
	case TierRestartSidecar:
		return "restart_sidecar"
	case TierRestartPath:
		return "restart_path"
	case TierRestartRelay:
		return "restart_relay"
	default:
		return "unknown"
	}
}

// NodeAPI is the slice of the relay API the engine drives.
type NodeAPI interface {
	ListSessions(ctx context.Context, protocol models.Protocol) ([]relay.Session, error)
	KickSession(ctx context.Context, protocol models.Protocol, id string) error
	GetPathConfig(ctx context.Context, name string) (relay.PathConf, error)
	AddPath(ctx context.Context, name string, conf relay.PathConf) error
	DeletePath(ctx context.Context, name string) error
}

// ClientFactory returns the relay API client for one node.
type ClientFactory func(node *models.Node) NodeAPI

// CommandRunner executes the operator-provided relay restart command.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) error
}

// Engine runs tiered recovery against one stream at a time.
type Engine struct {
	store   *repository.Store
	clients ClientFactory
	runner  CommandRunner
	locks   *health.StreamLocks
	cfg     config.RemediationConfig
	backoff *Backoff
	logger  *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	// now is swapped out in tests.
	now func() time.Time
}

// NewEngine creates a remediation engine.
func NewEngine(store *repository.Store, clients ClientFactory, runner CommandRunner, locks *health.StreamLocks, cfg config.RemediationConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = &execRunner{}
	}
	return &Engine{
		store:   store,
		clients: clients,
		runner:  runner,
		locks:   locks,
		cfg:     cfg,
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffJitter, cfg.BackoffMax),
		logger:  logger,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Attempt records one recovery action inside a run.
type Attempt struct {
	Tier    string `json:"tier"`
	Attempt int    `json:"attempt"`
	Action  string `json:"action"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// Result summarizes one remediation run.
type Result struct {
	Stream     string    `json:"stream"`
	Success    bool      `json:"success"`
	Skipped    bool      `json:"skipped"`
	SkipReason string    `json:"skip_reason,omitempty"`
	FinalTier  string    `json:"final_tier,omitempty"`
	Attempts   []Attempt `json:"attempts"`
}

// Remediate runs the recovery ladder for one stream. When force is false
// the run is gated on the stream's auto-remediate flag, the cooldown, and
// the failure circuit breaker.
func (e *Engine) Remediate(ctx context.Context, node *models.Node, stream *models.Stream, reason string, force bool) (*Result, error) {
	unlock := e.locks.Lock(stream.ID)
	defer unlock()

	now := e.now()
	result := &Result{Stream: stream.Path}

	if !force {
		if skip := e.entryCheck(ctx, stream, now); skip != "" {
			result.Skipped = true
			result.SkipReason = skip
			e.logger.Info("remediation skipped",
				slog.String("path", stream.Path),
				slog.String("reason", skip),
			)
			return result, nil
		}
	}

	startTier, err := e.startTier(ctx, stream, now)
	if err != nil {
		return nil, err
	}

	started := models.Time(now)
	stream.LastRemediation = &started
	stream.RemediationCount++
	if err := e.store.Streams.Update(ctx, stream); err != nil {
		return nil, fmt.Errorf("marking remediation start: %w", err)
	}

	e.recordEvent(ctx, stream, models.EventRemediationStarted, models.SeverityWarning,
		fmt.Sprintf("remediation started at tier %s: %s", startTier, reason),
		map[string]any{"tier": startTier.String(), "reason": reason})

	api := e.clients(node)
	for tier := startTier; tier <= TierRestartRelay; tier++ {
		success, err := e.runTier(ctx, api, node, stream, tier, result)
		if err != nil {
			// Context cancellation aborts the whole run.
			return result, err
		}
		result.FinalTier = tier.String()
		if success {
			result.Success = true
			break
		}
	}

	detail, _ := json.Marshal(result.Attempts)
	if result.Success {
		stream.Status = models.StreamStatusHealthy
		if err := e.store.Streams.Update(ctx, stream); err != nil {
			e.logger.Warn("failed to persist recovered status",
				slog.String("path", stream.Path),
				slog.String("error", err.Error()),
			)
		}
		e.recordEvent(ctx, stream, models.EventRemediationSuccess, models.SeverityInfo,
			fmt.Sprintf("remediation recovered %s at tier %s", stream.Path, result.FinalTier),
			map[string]any{"tier": result.FinalTier, "attempts": json.RawMessage(detail)})
	} else {
		e.recordEvent(ctx, stream, models.EventRemediationFailed, models.SeverityCritical,
			fmt.Sprintf("remediation exhausted all tiers for %s", stream.Path),
			map[string]any{"tier": result.FinalTier, "attempts": json.RawMessage(detail)})
	}

	return result, nil
}

// entryCheck returns a non-empty skip reason when the run must not start.
func (e *Engine) entryCheck(ctx context.Context, stream *models.Stream, now time.Time) string {
	if !stream.ShouldAutoRemediate(now, e.cfg.Cooldown) {
		if !models.BoolVal(stream.AutoRemediate) {
			return "auto-remediation disabled"
		}
		return "cooldown active"
	}

	failures, err := e.store.Events.CountByTypeSince(ctx, stream.ID, models.EventRemediationFailed, now.Add(-e.cfg.BreakerWindow))
	if err != nil {
		e.logger.Warn("failed to count remediation failures",
			slog.String("path", stream.Path),
			slog.String("error", err.Error()),
		)
		return ""
	}
	if failures >= int64(e.cfg.BreakerThreshold) {
		return fmt.Sprintf("circuit breaker open: %d failures in window", failures)
	}
	return ""
}

// startTier picks the entry rung from how often remediation has already
// started recently. Chronic offenders skip straight to the heavier tiers.
func (e *Engine) startTier(ctx context.Context, stream *models.Stream, now time.Time) (Tier, error) {
	starts, err := e.store.Events.CountByTypeSince(ctx, stream.ID, models.EventRemediationStarted, now.Add(-time.Hour))
	if err != nil {
		return 0, fmt.Errorf("counting recent remediation starts: %w", err)
	}
	switch {
	case starts >= 5:
		return TierRestartPath, nil
	case starts >= 2:
		return TierRestartSidecar, nil
	default:
		return TierReconnect, nil
	}
}

// runTier runs up to MaxAttemptsPerTier attempts of one tier. An attempt
// succeeds when its action completes; the next health pass confirms whether
// the stream actually came back.
func (e *Engine) runTier(ctx context.Context, api NodeAPI, node *models.Node, stream *models.Stream, tier Tier, result *Result) (bool, error) {
	available, action := e.tierAction(tier, stream)
	if !available {
		result.Attempts = append(result.Attempts, Attempt{
			Tier:   tier.String(),
			Action: "unavailable",
			Error:  action,
		})
		e.logger.Info("remediation tier unavailable, escalating",
			slog.String("path", stream.Path),
			slog.String("tier", tier.String()),
			slog.String("reason", action),
		)
		return false, nil
	}

	for attempt := 0; attempt < e.cfg.MaxAttemptsPerTier; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff.Delay(attempt-1)); err != nil {
				return false, err
			}
		}

		record := Attempt{Tier: tier.String(), Attempt: attempt + 1, Action: action}
		if err := e.execute(ctx, api, node, stream, tier); err != nil {
			record.Error = err.Error()
			result.Attempts = append(result.Attempts, record)
			e.logger.Warn("remediation attempt failed",
				slog.String("path", stream.Path),
				slog.String("tier", tier.String()),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		record.Success = true
		result.Attempts = append(result.Attempts, record)
		return true, nil
	}

	return false, nil
}

// tierAction reports whether a tier can run for this stream, and either the
// action label or the unavailability reason.
func (e *Engine) tierAction(tier Tier, stream *models.Stream) (bool, string) {
	switch tier {
	case TierReconnect:
		return true, "kick rtsp sessions"
	case TierRestartSidecar:
		return true, "cycle path config"
	case TierRestartPath:
		if stream.SourceURL == "" {
			return false, "no source URL to recreate from"
		}
		return true, "recreate path from source"
	case TierRestartRelay:
		if len(e.cfg.RelayRestartCommand) == 0 {
			return false, "no relay restart command configured"
		}
		return true, "restart relay"
	default:
		return false, "unknown tier"
	}
}

func (e *Engine) execute(ctx context.Context, api NodeAPI, node *models.Node, stream *models.Stream, tier Tier) error {
	switch tier {
	case TierReconnect:
		return e.reconnect(ctx, api, stream.Path)
	case TierRestartSidecar:
		return e.restartSidecar(ctx, api, stream.Path)
	case TierRestartPath:
		return e.restartPath(ctx, api, stream)
	case TierRestartRelay:
		return e.restartRelay(ctx, node)
	default:
		return fmt.Errorf("unknown tier %d", tier)
	}
}

func (e *Engine) recordEvent(ctx context.Context, stream *models.Stream, typ models.EventType, severity models.Severity, message string, detail map[string]any) {
	event := &models.StreamEvent{
		StreamID: stream.ID,
		Type:     typ,
		Severity: severity,
		Message:  message,
	}
	if detail != nil {
		if encoded, err := json.Marshal(detail); err == nil {
			event.Detail = string(encoded)
		}
	}
	if err := e.store.Events.Create(ctx, event); err != nil {
		e.logger.Warn("failed to record remediation event",
			slog.String("path", stream.Path),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
