package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dan246/mtx-toolkit/internal/health"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// ErrNoCaptureSource indicates a stream exposes no URL a capture can pull.
var ErrNoCaptureSource = errors.New("stream has no capture source")

// StreamCapturer records a bounded clip of a live stream to a file.
type StreamCapturer interface {
	Capture(ctx context.Context, url, outputPath string, duration time.Duration) error
}

// EventCapture records short clips around stream events. The capture
// subprocess runs detached; callers get the Recording row immediately.
type EventCapture struct {
	store         *repository.Store
	capturer      StreamCapturer
	root          string
	retentionDays int
	duration      time.Duration
	logger        *slog.Logger

	spawn func(func())
	now   func() time.Time
}

// NewEventCapture creates an event capture writer under the recording root.
func NewEventCapture(store *repository.Store, capturer StreamCapturer, root string, retentionDays int, duration time.Duration, logger *slog.Logger) *EventCapture {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventCapture{
		store:         store,
		capturer:      capturer,
		root:          root,
		retentionDays: retentionDays,
		duration:      duration,
		logger:        logger,
		spawn:         func(fn func()) { go fn() },
		now:           time.Now,
	}
}

// Trigger indexes an event-type Recording for the stream and kicks off the
// capture in the background. It does not wait for the clip to finish.
func (e *EventCapture) Trigger(ctx context.Context, node *models.Node, stream *models.Stream, event *models.StreamEvent) (*models.Recording, error) {
	url := health.ProbeURL(node, stream)
	if url == "" {
		return nil, ErrNoCaptureSource
	}

	now := e.now()
	outputPath := filepath.Join(e.root,
		strings.Trim(filepath.ToSlash(stream.Path), "/"),
		fmt.Sprintf("event_%s.mp4", now.Format(timestampLayout)),
	)

	expires := models.Time(now.AddDate(0, 0, e.retentionDays))
	rec := &models.Recording{
		StreamID:           stream.ID,
		FilePath:           outputPath,
		StartTime:          models.Time(now),
		SegmentType:        models.SegmentEvent,
		TriggeredByEventID: &event.ID,
		RetentionDays:      e.retentionDays,
		ExpiresAt:          &expires,
	}
	if err := e.store.Recordings.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("indexing event capture: %w", err)
	}

	duration := e.duration
	e.spawn(func() {
		captureCtx, cancel := context.WithTimeout(context.Background(), duration+time.Minute)
		defer cancel()
		if err := e.capturer.Capture(captureCtx, url, outputPath, duration); err != nil {
			e.logger.Error("event capture failed",
				slog.String("stream_id", stream.ID.String()),
				slog.String("output", outputPath),
				slog.String("error", err.Error()),
			)
		}
	})

	return rec, nil
}
