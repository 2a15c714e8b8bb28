package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

type fakeCapturer struct {
	url      string
	output   string
	duration time.Duration
	err      error
	calls    int
}

func (f *fakeCapturer) Capture(ctx context.Context, url, outputPath string, duration time.Duration) error {
	f.calls++
	f.url = url
	f.output = outputPath
	f.duration = duration
	return f.err
}

func seedEvent(t *testing.T, store *repository.Store, stream *models.Stream) *models.StreamEvent {
	t.Helper()
	event := &models.StreamEvent{
		StreamID: stream.ID,
		Type:     models.EventBlackScreen,
		Severity: models.SeverityWarning,
	}
	require.NoError(t, store.Events.Create(context.Background(), event))
	return event
}

func newTestCapture(store *repository.Store, capturer StreamCapturer, root string) *EventCapture {
	ec := NewEventCapture(store, capturer, root, 30, 10*time.Second, nil)
	ec.spawn = func(fn func()) { fn() }
	ec.now = func() time.Time { return time.Date(2026, 1, 17, 4, 40, 7, 0, time.UTC) }
	return ec
}

func TestEventCapture_Trigger(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "cam-one")
	stream.SourceURL = "rtsp://cam-one.local/stream"
	require.NoError(t, store.Streams.Update(context.Background(), stream))
	event := seedEvent(t, store, stream)
	root := t.TempDir()
	ctx := context.Background()

	node := &models.Node{Name: "edge-1", APIURL: "http://edge-1:9997"}
	capturer := &fakeCapturer{}

	ec := newTestCapture(store, capturer, root)
	rec, err := ec.Trigger(ctx, node, stream, event)
	require.NoError(t, err)

	assert.Equal(t, 1, capturer.calls)
	assert.Equal(t, "rtsp://cam-one.local/stream", capturer.url)
	assert.Equal(t, 10*time.Second, capturer.duration)

	wantPath := filepath.Join(root, "cam-one", "event_2026-01-17_04-40-07.mp4")
	assert.Equal(t, wantPath, rec.FilePath)
	assert.Equal(t, wantPath, capturer.output)
	assert.Equal(t, models.SegmentEvent, rec.SegmentType)
	require.NotNil(t, rec.TriggeredByEventID)
	assert.Equal(t, event.ID, *rec.TriggeredByEventID)
	assert.Equal(t, 30, rec.RetentionDays)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, time.Time(*rec.ExpiresAt).Equal(ec.now().AddDate(0, 0, 30)))

	stored, err := store.Recordings.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestEventCapture_PrefersNodeMediaEndpoint(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "cam-one")
	event := seedEvent(t, store, stream)

	node := &models.Node{
		Name:     "edge-1",
		APIURL:   "http://edge-1:9997",
		MediaURL: "rtsp://edge-1:8554",
	}
	capturer := &fakeCapturer{}

	ec := newTestCapture(store, capturer, t.TempDir())
	_, err := ec.Trigger(context.Background(), node, stream, event)
	require.NoError(t, err)
	assert.Equal(t, "rtsp://edge-1:8554/cam-one", capturer.url)
}

func TestEventCapture_NoSource(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "cam-one")
	event := seedEvent(t, store, stream)

	node := &models.Node{Name: "edge-1", APIURL: "http://edge-1:9997"}
	capturer := &fakeCapturer{}

	ec := newTestCapture(store, capturer, t.TempDir())
	_, err := ec.Trigger(context.Background(), node, stream, event)
	assert.ErrorIs(t, err, ErrNoCaptureSource)
	assert.Equal(t, 0, capturer.calls)
}

func TestPlaybackPath(t *testing.T) {
	ts := &models.Recording{FilePath: "/rec/cam-one/2026-01-17_04-40-07.ts"}
	ts.ID = models.NewULID()
	assert.Equal(t, "/api/v1/recordings/"+ts.ID.String()+"/play", PlaybackPath(ts))

	mp4 := &models.Recording{FilePath: "/rec/cam-one/event_2026-01-17_04-40-07.mp4"}
	mp4.ID = models.NewULID()
	assert.Equal(t, "/api/v1/recordings/"+mp4.ID.String()+"/download", PlaybackPath(mp4))
}

func TestMediaSource(t *testing.T) {
	rec := &models.Recording{FilePath: "/rec/a.ts"}
	assert.Equal(t, "/rec/a.ts", MediaSource(rec))

	rec.IsArchived = models.BoolPtr(true)
	rec.ArchivePath = "/nas/2026/01/17/cam-one/a.ts"
	assert.Equal(t, "/nas/2026/01/17/cam-one/a.ts", MediaSource(rec))
}
