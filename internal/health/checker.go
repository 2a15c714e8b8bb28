// Package health classifies stream health from relay state and media probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dan246/mtx-toolkit/internal/config"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/relay"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// PathLister is the slice of the relay API the fast check needs.
type PathLister interface {
	ListPaths(ctx context.Context) ([]relay.PathInfo, error)
}

// ClientFactory returns the relay API client for one node.
type ClientFactory func(node *models.Node) PathLister

// Checker runs the cheap control-plane health pass: one path listing per
// node, classified without touching the media plane.
type Checker struct {
	store   *repository.Store
	clients ClientFactory
	locks   *StreamLocks
	cfg     config.HealthConfig
	logger  *slog.Logger
}

// NewChecker creates a fast health checker.
func NewChecker(store *repository.Store, clients ClientFactory, locks *StreamLocks, cfg config.HealthConfig, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		store:   store,
		clients: clients,
		locks:   locks,
		cfg:     cfg,
		logger:  logger,
	}
}

// FastResult summarizes one fast health pass over a node.
type FastResult struct {
	Node        string `json:"node"`
	Checked     int    `json:"checked"`
	Healthy     int    `json:"healthy"`
	Degraded    int    `json:"degraded"`
	Unhealthy   int    `json:"unhealthy"`
	Transitions int    `json:"transitions"`
}

// CheckNode classifies every known stream on one node from a single path
// listing. Streams present in the database but absent from the listing are
// unhealthy; stale rows are the fleet sync's problem, not ours.
func (c *Checker) CheckNode(ctx context.Context, node *models.Node) (*FastResult, error) {
	api := c.clients(node)
	paths, err := api.ListPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing paths on %s: %w", node.Name, err)
	}

	now := time.Now()
	if err := c.store.Nodes.TouchLastSeen(ctx, node.ID, now); err != nil {
		c.logger.Warn("failed to update node last_seen",
			slog.String("node", node.Name),
			slog.String("error", err.Error()),
		)
	}

	byName := make(map[string]*relay.PathInfo, len(paths))
	for i := range paths {
		byName[paths[i].Name] = &paths[i]
	}

	streams, err := c.store.Streams.ListByNode(ctx, node.ID)
	if err != nil {
		return nil, fmt.Errorf("listing streams for %s: %w", node.Name, err)
	}

	result := &FastResult{Node: node.Name}
	for _, stream := range streams {
		unlock := c.locks.Lock(stream.ID)
		status := ClassifyPath(byName[stream.Path])
		transitioned, err := c.applyStatus(ctx, stream, status, now)
		unlock()
		if err != nil {
			c.logger.Warn("failed to apply stream status",
				slog.String("node", node.Name),
				slog.String("path", stream.Path),
				slog.String("error", err.Error()),
			)
			continue
		}

		result.Checked++
		if transitioned {
			result.Transitions++
		}
		switch status {
		case models.StreamStatusHealthy:
			result.Healthy++
		case models.StreamStatusDegraded:
			result.Degraded++
		case models.StreamStatusUnhealthy:
			result.Unhealthy++
		}
	}

	return result, nil
}

// ClassifyPath maps a relay path listing entry to a health status. A ready
// path is healthy. A path that exists but is not ready is degraded when it
// has a source to come back from, or a config entry that can restart it.
// Anything else, including absence from the listing, is unhealthy.
func ClassifyPath(path *relay.PathInfo) models.StreamStatus {
	switch {
	case path == nil:
		return models.StreamStatusUnhealthy
	case path.Ready:
		return models.StreamStatusHealthy
	case path.Source != nil:
		return models.StreamStatusDegraded
	case path.ConfName != "":
		return models.StreamStatusDegraded
	default:
		return models.StreamStatusUnhealthy
	}
}

// applyStatus persists the new status and records a transition event on
// every change. A stream that keeps its status stays quiet; any edge into
// unhealthy is a disconnect, every other edge is a reconnect.
func (c *Checker) applyStatus(ctx context.Context, stream *models.Stream, status models.StreamStatus, now time.Time) (bool, error) {
	prev := stream.Status
	stream.Status = status
	checked := models.Time(now)
	stream.LastCheck = &checked

	if err := c.store.Streams.Update(ctx, stream); err != nil {
		return false, err
	}

	if prev == status {
		return false, nil
	}

	if status == models.StreamStatusUnhealthy {
		c.recordEvent(ctx, stream, models.EventDisconnected, models.SeverityError,
			fmt.Sprintf("stream %s went down (was %s)", stream.Path, prev), nil)
	} else {
		c.recordEvent(ctx, stream, models.EventReconnected, models.SeverityInfo,
			fmt.Sprintf("stream %s is %s (was %s)", stream.Path, status, prev), nil)
	}

	return true, nil
}

func (c *Checker) recordEvent(ctx context.Context, stream *models.Stream, typ models.EventType, severity models.Severity, message string, detail map[string]any) {
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
	if err := c.store.Events.Create(ctx, event); err != nil {
		c.logger.Warn("failed to record stream event",
			slog.String("path", stream.Path),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
