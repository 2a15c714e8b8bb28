package nodeconfig

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

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
		&models.ConfigSnapshot{},
	))
	return repository.NewStore(db)
}

func seedNode(t *testing.T, store *repository.Store, name, env string) *models.Node {
	t.Helper()
	node := &models.Node{
		Name:        name,
		APIURL:      "http://" + name + ".example.com:9997",
		Environment: env,
		IsActive:    models.BoolPtr(true),
	}
	require.NoError(t, store.Nodes.Create(context.Background(), node))
	return node
}

// fakeNode is a scriptable relay config API.
type fakeNode struct {
	global   relay.GlobalConf
	paths    map[string]relay.PathConf
	patched  []relay.GlobalConf
	failPath string // AddPath for this name fails
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		global: relay.GlobalConf{"logLevel": "info"},
		paths:  map[string]relay.PathConf{},
	}
}

func (f *fakeNode) GetGlobalConfig(ctx context.Context) (relay.GlobalConf, error) {
	return f.global, nil
}

func (f *fakeNode) PatchGlobalConfig(ctx context.Context, conf relay.GlobalConf) error {
	f.patched = append(f.patched, conf)
	for k, v := range conf {
		f.global[k] = v
	}
	return nil
}

func (f *fakeNode) GetPathConfig(ctx context.Context, name string) (relay.PathConf, error) {
	conf, ok := f.paths[name]
	if !ok {
		return nil, relay.ErrPathNotFound
	}
	return conf, nil
}

func (f *fakeNode) AddPath(ctx context.Context, name string, conf relay.PathConf) error {
	if name == f.failPath {
		return errors.New("node rejected path")
	}
	f.paths[name] = conf
	return nil
}

func (f *fakeNode) DeletePath(ctx context.Context, name string) error {
	delete(f.paths, name)
	return nil
}

func newManager(store *repository.Store, api NodeAPI) *Manager {
	return NewManager(store, func(node *models.Node) NodeAPI { return api }, nil)
}

const applyDoc = `
logLevel: debug
paths:
  cam1:
    source: rtsp://cam1.local/stream
`

func TestApply_Success(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")
	api := newFakeNode()
	ctx := context.Background()

	mgr := newManager(store, api)
	result, err := mgr.Apply(ctx, node, applyDoc, "ops@example.com")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.RolledBack)
	assert.Len(t, result.Hash, 16)
	assert.NotEmpty(t, result.SnapshotID)

	// The node took both the global patch and the path.
	assert.Equal(t, "debug", api.global["logLevel"])
	require.Contains(t, api.paths, "cam1")
	assert.Equal(t, "rtsp://cam1.local/stream", api.paths["cam1"]["source"])

	// Two snapshots: the pre-apply backup and the applied document.
	snaps, err := store.Snapshots.ListByNode(ctx, node.ID, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	latest, err := store.Snapshots.GetLatestApplied(ctx, node.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, result.Hash, latest.Hash)
	assert.Equal(t, "ops@example.com", latest.AppliedBy)
}

func TestApply_FailureRollsBack(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")
	api := newFakeNode()
	api.failPath = "cam1"
	ctx := context.Background()

	mgr := newManager(store, api)
	result, err := mgr.Apply(ctx, node, applyDoc, "ops@example.com")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
	assert.NotEmpty(t, result.Error)

	// The rollback re-patched the backup global section.
	require.GreaterOrEqual(t, len(api.patched), 2)
	assert.Equal(t, "info", api.patched[len(api.patched)-1]["logLevel"])

	// No applied snapshot for the failed document.
	latest, err := store.Snapshots.GetLatestApplied(ctx, node.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.NotEqual(t, Hash(mustParse(t, applyDoc)), latest.Hash)
}

func TestApply_PatchesFullGlobalDocument(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")
	api := newFakeNode()
	ctx := context.Background()

	// Every top-level key except paths rides along in one global patch.
	doc := "logLevel: debug\nwriteTimeout: 10s\npaths:\n  cam1:\n    source: rtsp://cam1.local/stream\n"
	mgr := newManager(store, api)
	result, err := mgr.Apply(ctx, node, doc, "ops")
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, api.patched, 1)
	assert.Equal(t, "debug", api.patched[0]["logLevel"])
	assert.Equal(t, "10s", api.patched[0]["writeTimeout"])
	assert.NotContains(t, api.patched[0], "paths")
}

func TestApply_RejectsInvalidDocument(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")

	mgr := newManager(store, newFakeNode())
	_, err := mgr.Apply(context.Background(), node, "logLevel: debug\n", "ops")
	assert.ErrorContains(t, err, "validation failed")
}

func TestApply_ReplacesExistingPath(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")
	api := newFakeNode()
	api.paths["cam1"] = relay.PathConf{"source": "rtsp://old.local/stream"}

	mgr := newManager(store, api)
	result, err := mgr.Apply(context.Background(), node, applyDoc, "ops")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "rtsp://cam1.local/stream", api.paths["cam1"]["source"])
}

func TestApply_NullEntryDeletesPath(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")
	api := newFakeNode()
	api.paths["cam1"] = relay.PathConf{"source": "rtsp://old.local/stream"}

	mgr := newManager(store, api)
	result, err := mgr.Apply(context.Background(), node, "paths:\n  cam1: null\n", "ops")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.NotContains(t, api.paths, "cam1")
}

func TestPlan(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")
	api := newFakeNode()
	api.paths["cam2"] = relay.PathConf{"source": "rtsp://cam2.local/stream"}
	ctx := context.Background()

	mgr := newManager(store, api)
	plan, err := mgr.Plan(ctx, node, applyDoc)
	require.NoError(t, err)

	assert.True(t, plan.Validate.Valid)
	assert.Len(t, plan.Hash, 16)
	assert.NotEmpty(t, plan.Changes)
	assert.Contains(t, plan.DiffText, "logLevel")

	// Plan never touches the node.
	assert.Empty(t, api.patched)
	assert.NotContains(t, api.paths, "cam1")

	// Snapshot trail untouched too.
	snaps, err := store.Snapshots.ListByNode(ctx, node.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestPlan_InvalidDocumentShortCircuits(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")

	mgr := newManager(store, newFakeNode())
	plan, err := mgr.Plan(context.Background(), node, "logLevel: info\n")
	require.NoError(t, err)
	assert.False(t, plan.Validate.Valid)
	assert.Empty(t, plan.Changes)
}

func TestRollback(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")
	api := newFakeNode()
	ctx := context.Background()

	mgr := newManager(store, api)
	first, err := mgr.Apply(ctx, node, applyDoc, "ops")
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := mgr.Apply(ctx, node, "logLevel: warn\npaths:\n  cam1: null\n", "ops")
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, "warn", api.global["logLevel"])

	firstID := models.MustParseULID(first.SnapshotID)
	rb, err := mgr.Rollback(ctx, node, firstID, "ops")
	require.NoError(t, err)
	require.True(t, rb.Success)

	assert.Equal(t, "debug", api.global["logLevel"])
	assert.Contains(t, api.paths, "cam1")

	snap, err := store.Snapshots.GetByID(ctx, models.MustParseULID(rb.SnapshotID))
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.NotNil(t, snap.RollbackOfID)
	assert.Equal(t, firstID, *snap.RollbackOfID)
	assert.Equal(t, first.Hash, snap.Hash)
}

func TestRollback_UnknownSnapshot(t *testing.T) {
	store := setupStore(t)
	node := seedNode(t, store, "edge-1", "production")

	mgr := newManager(store, newFakeNode())
	_, err := mgr.Rollback(context.Background(), node, models.NewULID(), "ops")
	assert.ErrorIs(t, err, models.ErrSnapshotNotFound)
}

func TestRollingUpdate_BatchesAndAborts(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	good1 := seedNode(t, store, "edge-1", "staging")
	good2 := seedNode(t, store, "edge-2", "staging")
	seedNode(t, store, "edge-3", "staging")
	seedNode(t, store, "prod-1", "production")
	_ = good1
	_ = good2

	var mu sync.Mutex
	apis := map[string]*fakeNode{}
	factory := func(node *models.Node) NodeAPI {
		mu.Lock()
		defer mu.Unlock()
		api, ok := apis[node.Name]
		if !ok {
			api = newFakeNode()
			if node.Name == "edge-2" {
				api.failPath = "cam1"
			}
			apis[node.Name] = api
		}
		return api
	}
	mgr := NewManager(store, factory, nil)

	result, err := mgr.RollingUpdate(ctx, applyDoc, RollingOptions{
		Environment: "staging",
		BatchSize:   2,
		BatchDelay:  time.Millisecond,
		AppliedBy:   "ops",
	})
	require.NoError(t, err)

	// Batch one had the failure, so batch two never ran.
	assert.True(t, result.Aborted)
	assert.Equal(t, 1, result.Batches)
	assert.Contains(t, result.Failed, "edge-2")
	assert.Len(t, result.Applied, 1)

	// Production nodes were never in scope.
	assert.NotContains(t, apis, "prod-1")
	// The third staging node was spared by the abort.
	assert.NotContains(t, apis, "edge-3")
}

func TestRollingUpdate_AllHealthy(t *testing.T) {
	store := setupStore(t)
	seedNode(t, store, "edge-1", "staging")
	seedNode(t, store, "edge-2", "staging")

	factory := func(node *models.Node) NodeAPI { return newFakeNode() }
	mgr := NewManager(store, factory, nil)

	result, err := mgr.RollingUpdate(context.Background(), applyDoc, RollingOptions{
		Environment: "staging",
		BatchSize:   1,
		AppliedBy:   "ops",
	})
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Len(t, result.Applied, 2)
	assert.Equal(t, 2, result.Batches)
}

func mustParse(t *testing.T, raw string) map[string]any {
	t.Helper()
	doc, err := Parse(raw)
	require.NoError(t, err)
	return doc
}
