package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dan246/mtx-toolkit/internal/config"
	"github.com/dan246/mtx-toolkit/internal/ffmpeg"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// keyframeDivergence is the tolerated relative gap between the declared and
// measured framerate before the stream is flagged for keyframe trouble.
const keyframeDivergence = 0.3

// StreamProber inspects a stream URL's track layout and rates.
type StreamProber interface {
	Probe(ctx context.Context, url string) (*ffmpeg.Report, error)
}

// ArtifactDetector runs short media analysis passes against a stream URL.
type ArtifactDetector interface {
	DetectBlackScreen(ctx context.Context, url string) (bool, error)
	DetectFreeze(ctx context.Context, url string) (bool, error)
	DetectAudioSilence(ctx context.Context, url string) (bool, error)
}

// DeepChecker runs the expensive media-plane health pass: an ffprobe per
// stream, plus artifact detectors when the picture deserves a closer look.
type DeepChecker struct {
	store    *repository.Store
	prober   StreamProber
	detector ArtifactDetector
	locks    *StreamLocks
	cfg      config.HealthConfig
	logger   *slog.Logger
}

// NewDeepChecker creates a deep health checker. detector may be nil to
// disable the artifact pass.
func NewDeepChecker(store *repository.Store, prober StreamProber, detector ArtifactDetector, locks *StreamLocks, cfg config.HealthConfig, logger *slog.Logger) *DeepChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepChecker{
		store:    store,
		prober:   prober,
		detector: detector,
		locks:    locks,
		cfg:      cfg,
		logger:   logger,
	}
}

// DeepResult is the outcome of one deep check.
type DeepResult struct {
	Stream string              `json:"stream"`
	Status models.StreamStatus `json:"status"`
	Issues []models.EventType  `json:"issues,omitempty"`
	FPS    float64             `json:"fps,omitempty"`
}

// ProbeURL returns the URL the deep check probes for a stream: the upstream
// source when one is known, falling back to the node's media endpoint for
// paths the relay originates itself.
func ProbeURL(node *models.Node, stream *models.Stream) string {
	if stream.SourceURL != "" {
		return stream.SourceURL
	}
	if node != nil && node.MediaBase() != "" {
		return node.MediaBase() + "/" + stream.Path
	}
	return ""
}

// CheckStream probes one stream, classifies it, updates its metrics, and
// records issue events.
func (d *DeepChecker) CheckStream(ctx context.Context, node *models.Node, stream *models.Stream) (*DeepResult, error) {
	url := ProbeURL(node, stream)
	if url == "" {
		return nil, fmt.Errorf("stream %s has no probeable URL", stream.Path)
	}

	report, probeErr := d.prober.Probe(ctx, url)

	unlock := d.locks.Lock(stream.ID)
	defer unlock()

	now := time.Now()
	result := &DeepResult{Stream: stream.Path}

	if probeErr != nil {
		result.Status = models.StreamStatusUnhealthy
		result.Issues = append(result.Issues, models.EventDisconnected)
		d.apply(ctx, stream, result, now, map[string]any{"error": probeErr.Error()})
		return result, nil
	}

	result.Status, result.Issues = d.evaluate(report)

	video := report.PrimaryVideo()
	if video != nil {
		fps := video.FPS()
		result.FPS = fps
		stream.FPS = &fps
	}
	if report.BitrateKbps > 0 {
		bitrate := report.BitrateKbps
		stream.BitrateKbps = &bitrate
	}

	detail := map[string]any{}
	if video != nil {
		detail["fps"] = video.FPS()
		detail["declared_fps"] = video.DeclaredFPS
	}
	d.apply(ctx, stream, result, now, detail)

	// The artifact pass only makes sense when there is a picture to look at.
	if d.detector != nil && report.HasVideo() && result.Status != models.StreamStatusUnhealthy {
		d.detectArtifacts(ctx, stream, url, result)
	}

	return result, nil
}

// evaluate classifies a probe report. Missing video is unusable; a missing
// audio track is only worth a warning because plenty of cameras have none.
func (d *DeepChecker) evaluate(report *ffmpeg.Report) (models.StreamStatus, []models.EventType) {
	if len(report.Video) == 0 && len(report.Audio) == 0 {
		return models.StreamStatusUnhealthy, []models.EventType{models.EventDisconnected}
	}
	if !report.HasVideo() {
		return models.StreamStatusUnhealthy, nil
	}

	var issues []models.EventType
	status := models.StreamStatusHealthy

	video := report.PrimaryVideo()
	fps := video.FPS()
	if fps > 0 && fps < d.cfg.MinFPS {
		issues = append(issues, models.EventFPSDrop)
		status = models.StreamStatusDegraded
	}

	if video.DeclaredFPS > 0 && video.MeasuredFPS > 0 {
		if math.Abs(video.DeclaredFPS-video.MeasuredFPS) > keyframeDivergence*video.DeclaredFPS {
			issues = append(issues, models.EventKeyframeIssue)
			status = models.StreamStatusDegraded
		}
	}

	if !report.HasAudio() {
		issues = append(issues, models.EventAudioSilent)
	}

	return status, issues
}

// apply persists status, metrics, and issue events for one deep check.
func (d *DeepChecker) apply(ctx context.Context, stream *models.Stream, result *DeepResult, now time.Time, detail map[string]any) {
	checked := models.Time(now)
	stream.LastCheck = &checked
	stream.Status = result.Status

	if err := d.store.Streams.Update(ctx, stream); err != nil {
		d.logger.Warn("failed to persist deep check",
			slog.String("path", stream.Path),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, issue := range result.Issues {
		severity := models.SeverityWarning
		if result.Status == models.StreamStatusUnhealthy {
			severity = models.SeverityError
		}
		if issue == models.EventAudioSilent && result.Status != models.StreamStatusUnhealthy {
			severity = models.SeverityWarning
		}
		d.recordEvent(ctx, stream, issue, severity, detail)
	}
}

// detectArtifacts runs the black screen, freeze, and silence detectors and
// downgrades the stream when any fire.
func (d *DeepChecker) detectArtifacts(ctx context.Context, stream *models.Stream, url string, result *DeepResult) {
	checks := []struct {
		run func(context.Context, string) (bool, error)
		typ models.EventType
	}{
		{d.detector.DetectBlackScreen, models.EventBlackScreen},
		{d.detector.DetectFreeze, models.EventFrozen},
		{d.detector.DetectAudioSilence, models.EventAudioSilent},
	}

	for _, check := range checks {
		hit, err := check.run(ctx, url)
		if err != nil {
			d.logger.Debug("artifact detector failed",
				slog.String("path", stream.Path),
				slog.String("type", string(check.typ)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !hit {
			continue
		}

		result.Issues = append(result.Issues, check.typ)
		if result.Status == models.StreamStatusHealthy {
			result.Status = models.StreamStatusDegraded
			stream.Status = models.StreamStatusDegraded
			if err := d.store.Streams.Update(ctx, stream); err != nil {
				d.logger.Warn("failed to persist artifact status",
					slog.String("path", stream.Path),
					slog.String("error", err.Error()),
				)
			}
		}
		d.recordEvent(ctx, stream, check.typ, models.SeverityWarning, nil)
	}
}

func (d *DeepChecker) recordEvent(ctx context.Context, stream *models.Stream, typ models.EventType, severity models.Severity, detail map[string]any) {
	event := &models.StreamEvent{
		StreamID: stream.ID,
		Type:     typ,
		Severity: severity,
		Message:  fmt.Sprintf("%s on %s", typ, stream.Path),
	}
	if len(detail) > 0 {
		if encoded, err := json.Marshal(detail); err == nil {
			event.Detail = string(encoded)
		}
	}
	if err := d.store.Events.Create(ctx, event); err != nil {
		d.logger.Warn("failed to record stream event",
			slog.String("path", stream.Path),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
