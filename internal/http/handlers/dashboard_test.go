package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
)

func TestDashboardHandler_Counts(t *testing.T) {
	store := setupHandlerStore(t)
	h := NewDashboardHandler(store, nil)
	ctx := context.Background()

	stream := seedHandlerStream(t, store, "cam-lobby")
	require.NoError(t, store.Nodes.Create(ctx, &models.Node{
		Name:     "edge-retired",
		APIURL:   "http://edge-retired.example.com:9997",
		IsActive: models.BoolPtr(false),
	}))

	sick := seedHandlerStream(t, store, "cam-garage")
	sick.Status = models.StreamStatusUnhealthy
	require.NoError(t, store.Streams.Update(ctx, sick))

	require.NoError(t, store.Events.Create(ctx, &models.StreamEvent{
		StreamID: stream.ID,
		Type:     models.EventFPSDrop,
		Severity: models.SeverityWarning,
	}))
	resolved := &models.StreamEvent{
		StreamID: stream.ID,
		Type:     models.EventReconnected,
		Severity: models.SeverityInfo,
	}
	require.NoError(t, store.Events.Create(ctx, resolved))
	require.NoError(t, store.Events.Resolve(ctx, resolved.ID))

	require.NoError(t, store.Blocklist.Create(ctx, &models.IPBlockEntry{
		Address:     "203.0.113.7",
		IsPermanent: models.BoolPtr(true),
		IsActive:    models.BoolPtr(true),
	}))

	h.WithRecordingRoot(t.TempDir())

	out, err := h.Get(ctx, &DashboardInput{})
	require.NoError(t, err)
	require.NotNil(t, out.Body.Disk)
	assert.Greater(t, out.Body.Disk.TotalBytes, uint64(0))
	assert.Equal(t, 2, out.Body.Nodes.Total)
	assert.Equal(t, 1, out.Body.Nodes.Active)
	assert.EqualValues(t, 1, out.Body.Streams["healthy"])
	assert.EqualValues(t, 1, out.Body.Streams["unhealthy"])
	require.Len(t, out.Body.RecentEvents, 1)
	assert.Equal(t, string(models.EventFPSDrop), out.Body.RecentEvents[0].Type)
	assert.Equal(t, 1, out.Body.ActiveBlocks)
	assert.Nil(t, out.Body.Sessions)
}
