package health

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dan246/mtx-toolkit/internal/config"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/relay"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

func setupStore(t *testing.T) *repository.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Node{},
		&models.Stream{},
		&models.StreamEvent{},
		&models.Recording{},
	))
	return repository.NewStore(db)
}

func seedNodeAndStream(t *testing.T, store *repository.Store, path string, status models.StreamStatus) (*models.Node, *models.Stream) {
	t.Helper()
	ctx := context.Background()

	node := &models.Node{
		Name:     "edge-1",
		APIURL:   "http://edge-1.example.com:9997",
		IsActive: models.BoolPtr(true),
	}
	require.NoError(t, store.Nodes.Create(ctx, node))

	stream := &models.Stream{
		NodeID:    node.ID,
		Path:      path,
		SourceURL: "rtsp://" + path + ".local/stream",
		Protocol:  models.ProtocolRTSP,
		Status:    status,
	}
	require.NoError(t, store.Streams.Create(ctx, stream))
	return node, stream
}

// fakeLister returns a canned path listing.
type fakeLister struct {
	paths []relay.PathInfo
	err   error
}

func (f *fakeLister) ListPaths(ctx context.Context) ([]relay.PathInfo, error) {
	return f.paths, f.err
}

func newChecker(store *repository.Store, lister PathLister) *Checker {
	factory := func(node *models.Node) PathLister { return lister }
	return NewChecker(store, factory, NewStreamLocks(), config.HealthConfig{MinFPS: 10}, nil)
}

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		name string
		path *relay.PathInfo
		want models.StreamStatus
	}{
		{"missing", nil, models.StreamStatusUnhealthy},
		{"ready", &relay.PathInfo{Ready: true}, models.StreamStatusHealthy},
		{"connecting with source", &relay.PathInfo{Source: &relay.PathSource{Type: "rtspSource"}}, models.StreamStatusDegraded},
		{"on-demand with conf", &relay.PathInfo{ConfName: "cam1"}, models.StreamStatusDegraded},
		{"dead", &relay.PathInfo{}, models.StreamStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPath(tt.path))
		})
	}
}

func TestCheckNode_ClassifiesStreams(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	node, healthy := seedNodeAndStream(t, store, "cam1", models.StreamStatusUnknown)
	degraded := &models.Stream{NodeID: node.ID, Path: "cam2", Status: models.StreamStatusUnknown}
	require.NoError(t, store.Streams.Create(ctx, degraded))
	missing := &models.Stream{NodeID: node.ID, Path: "cam3", Status: models.StreamStatusHealthy}
	require.NoError(t, store.Streams.Create(ctx, missing))

	checker := newChecker(store, &fakeLister{paths: []relay.PathInfo{
		{Name: "cam1", Ready: true},
		{Name: "cam2", Source: &relay.PathSource{Type: "rtspSource"}},
	}})

	result, err := checker.CheckNode(ctx, node)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 1, result.Healthy)
	assert.Equal(t, 1, result.Degraded)
	assert.Equal(t, 1, result.Unhealthy)

	got, err := store.Streams.GetByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusHealthy, got.Status)
	assert.NotNil(t, got.LastCheck)

	got, err = store.Streams.GetByID(ctx, missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusUnhealthy, got.Status)
}

func TestCheckNode_TransitionEvents(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	node, stream := seedNodeAndStream(t, store, "cam1", models.StreamStatusHealthy)

	// Down: healthy -> unhealthy produces a disconnected event.
	checker := newChecker(store, &fakeLister{paths: nil})
	_, err := checker.CheckNode(ctx, node)
	require.NoError(t, err)

	events, _, err := store.Events.ListByStream(ctx, stream.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDisconnected, events[0].Type)
	assert.Equal(t, models.SeverityError, events[0].Severity)

	// Still down: no second event for the same condition.
	_, err = checker.CheckNode(ctx, node)
	require.NoError(t, err)
	_, total, err := store.Events.ListByStream(ctx, stream.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// Recovery: unhealthy -> healthy produces a reconnected event.
	checker = newChecker(store, &fakeLister{paths: []relay.PathInfo{{Name: "cam1", Ready: true}}})
	_, err = checker.CheckNode(ctx, node)
	require.NoError(t, err)

	events, _, err = store.Events.ListByStream(ctx, stream.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventReconnected, events[0].Type)
}

func TestCheckNode_EveryStatusChangeEmitsEvent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// Three streams whose stored status differs from what the listing says:
	// degraded -> healthy, unknown -> degraded, and unknown -> unhealthy.
	node, improving := seedNodeAndStream(t, store, "cam1", models.StreamStatusDegraded)
	connecting := &models.Stream{NodeID: node.ID, Path: "cam2", Status: models.StreamStatusUnknown}
	require.NoError(t, store.Streams.Create(ctx, connecting))
	missing := &models.Stream{NodeID: node.ID, Path: "cam3", Status: models.StreamStatusUnknown}
	require.NoError(t, store.Streams.Create(ctx, missing))

	checker := newChecker(store, &fakeLister{paths: []relay.PathInfo{
		{Name: "cam1", Ready: true},
		{Name: "cam2", Source: &relay.PathSource{Type: "rtspSource"}},
	}})

	result, err := checker.CheckNode(ctx, node)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Transitions)

	events, _, err := store.Events.ListByStream(ctx, improving.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventReconnected, events[0].Type)

	events, _, err = store.Events.ListByStream(ctx, connecting.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventReconnected, events[0].Type)

	events, _, err = store.Events.ListByStream(ctx, missing.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDisconnected, events[0].Type)
}

func TestCheckNode_NodeUnreachable(t *testing.T) {
	store := setupStore(t)
	node, _ := seedNodeAndStream(t, store, "cam1", models.StreamStatusHealthy)

	checker := newChecker(store, &fakeLister{err: relay.ErrUnreachable})
	_, err := checker.CheckNode(context.Background(), node)
	assert.ErrorIs(t, err, relay.ErrUnreachable)
}

func TestCheckNode_UpdatesLastSeen(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	node, _ := seedNodeAndStream(t, store, "cam1", models.StreamStatusUnknown)
	require.Nil(t, node.LastSeen)

	checker := newChecker(store, &fakeLister{paths: []relay.PathInfo{{Name: "cam1", Ready: true}}})
	_, err := checker.CheckNode(ctx, node)
	require.NoError(t, err)

	got, err := store.Nodes.GetByID(ctx, node.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastSeen)
}
