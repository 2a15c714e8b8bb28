package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

func seedHandlerStream(t *testing.T, store *repository.Store, path string) *models.Stream {
	t.Helper()
	ctx := context.Background()

	node, err := store.Nodes.GetByName(ctx, "edge-1")
	require.NoError(t, err)
	if node == nil {
		node = &models.Node{
			Name:     "edge-1",
			APIURL:   "http://edge-1.example.com:9997",
			IsActive: models.BoolPtr(true),
		}
		require.NoError(t, store.Nodes.Create(ctx, node))
	}

	stream := &models.Stream{
		NodeID: node.ID,
		Path:   path,
		Status: models.StreamStatusHealthy,
	}
	require.NoError(t, store.Streams.Create(ctx, stream))
	return stream
}

func TestStreamHandler_ListByStatus(t *testing.T) {
	store := setupHandlerStore(t)
	h := NewStreamHandler(store, &fakeJobScheduler{})
	ctx := context.Background()

	seedHandlerStream(t, store, "cam-lobby")
	sick := seedHandlerStream(t, store, "cam-garage")
	sick.Status = models.StreamStatusUnhealthy
	require.NoError(t, store.Streams.Update(ctx, sick))

	all, err := h.List(ctx, &ListStreamsInput{})
	require.NoError(t, err)
	assert.Len(t, all.Body.Streams, 2)

	unhealthy, err := h.List(ctx, &ListStreamsInput{Status: "unhealthy"})
	require.NoError(t, err)
	require.Len(t, unhealthy.Body.Streams, 1)
	assert.Equal(t, "cam-garage", unhealthy.Body.Streams[0].Path)
}

func TestStreamHandler_UpdateFlags(t *testing.T) {
	store := setupHandlerStore(t)
	h := NewStreamHandler(store, &fakeJobScheduler{})
	ctx := context.Background()

	stream := seedHandlerStream(t, store, "cam-lobby")

	updated, err := h.Update(ctx, &UpdateStreamInput{
		ID: stream.ID.String(),
		Body: UpdateStreamRequest{
			AutoRemediate:    models.BoolPtr(false),
			RecordingEnabled: models.BoolPtr(true),
		},
	})
	require.NoError(t, err)
	assert.False(t, updated.Body.AutoRemediate)
	assert.True(t, updated.Body.RecordingEnabled)

	stored, err := store.Streams.GetByID(ctx, stream.ID)
	require.NoError(t, err)
	assert.False(t, models.BoolVal(stored.AutoRemediate))
}

func TestStreamHandler_EventsAndResolve(t *testing.T) {
	store := setupHandlerStore(t)
	h := NewStreamHandler(store, &fakeJobScheduler{})
	ctx := context.Background()

	stream := seedHandlerStream(t, store, "cam-lobby")
	event := &models.StreamEvent{
		StreamID: stream.ID,
		Type:     models.EventDisconnected,
		Severity: models.SeverityError,
		Message:  "source dropped",
	}
	require.NoError(t, store.Events.Create(ctx, event))

	events, err := h.ListEvents(ctx, &ListStreamEventsInput{ID: stream.ID.String(), Limit: 50})
	require.NoError(t, err)
	assert.EqualValues(t, 1, events.Body.Total)
	require.Len(t, events.Body.Events, 1)
	assert.False(t, events.Body.Events[0].Resolved)

	resolved, err := h.ResolveEvent(ctx, &ResolveEventInput{ID: event.ID.String()})
	require.NoError(t, err)
	assert.True(t, resolved.Body.Resolved)
}

func TestStreamHandler_ResolveUnknownEvent(t *testing.T) {
	store := setupHandlerStore(t)
	h := NewStreamHandler(store, &fakeJobScheduler{})

	_, err := h.ResolveEvent(context.Background(), &ResolveEventInput{ID: models.NewULID().String()})
	requireStatus(t, err, 404)
}

func TestStreamHandler_RemediateQueuesJobWithPayload(t *testing.T) {
	store := setupHandlerStore(t)
	sched := &fakeJobScheduler{}
	h := NewStreamHandler(store, sched)
	ctx := context.Background()

	stream := seedHandlerStream(t, store, "cam-lobby")

	out, err := h.Remediate(ctx, &RemediateStreamInput{
		ID: stream.ID.String(),
		Body: RemediateRequest{Reason: "operator request", Force: true},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Body.JobID)
	assert.Equal(t, models.JobTypeRemediation, sched.jobType)
	assert.Equal(t, stream.ID, sched.targetID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(sched.payload), &payload))
	assert.Equal(t, "operator request", payload["reason"])
	assert.Equal(t, true, payload["force"])
}
