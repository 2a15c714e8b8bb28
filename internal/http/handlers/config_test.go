package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/nodeconfig"
)

const validConfigYAML = `
paths:
  cam-lobby:
    source: rtsp://camera-1.internal/stream
  cam-garage: null
`

func setupConfigHandler(t *testing.T) (*ConfigHandler, *fakeJobScheduler) {
	t.Helper()
	store := setupHandlerStore(t)
	sched := &fakeJobScheduler{}
	return NewConfigHandler(store, nil, sched), sched
}

func TestConfigHandler_Validate(t *testing.T) {
	h, _ := setupConfigHandler(t)
	ctx := context.Background()

	out, err := h.Validate(ctx, &ValidateConfigInput{Body: ConfigDocumentRequest{
		ConfigYAML: validConfigYAML,
	}})
	require.NoError(t, err)
	assert.True(t, out.Body.Validation.Valid)
	assert.NotEmpty(t, out.Body.Hash)

	bad, err := h.Validate(ctx, &ValidateConfigInput{Body: ConfigDocumentRequest{
		ConfigYAML: "logLevel: info\n",
	}})
	require.NoError(t, err)
	assert.False(t, bad.Body.Validation.Valid)
	assert.Empty(t, bad.Body.Hash)

	_, err = h.Validate(ctx, &ValidateConfigInput{Body: ConfigDocumentRequest{
		ConfigYAML: "  ",
	}})
	requireStatus(t, err, 400)

	_, err = h.Validate(ctx, &ValidateConfigInput{Body: ConfigDocumentRequest{
		ConfigYAML: "paths: [broken",
	}})
	requireStatus(t, err, 400)
}

func TestConfigHandler_RollingUpdateQueuesJob(t *testing.T) {
	h, sched := setupConfigHandler(t)

	out, err := h.RollingUpdate(context.Background(), &RollingUpdateInput{Body: RollingUpdateRequest{
		ConfigYAML:  validConfigYAML,
		Environment: "staging",
		AppliedBy:   "ops",
		BatchSize:   2,
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Body.JobID)
	assert.Equal(t, models.JobTypeRollingUpdate, sched.jobType)
	assert.Equal(t, "staging", sched.targetName)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(sched.payload), &payload))
	assert.Equal(t, "staging", payload["environment"])
	assert.Equal(t, "ops", payload["applied_by"])
	assert.EqualValues(t, 2, payload["batch_size"])
}

func TestConfigHandler_RollingUpdateRejectsInvalidDoc(t *testing.T) {
	h, sched := setupConfigHandler(t)

	_, err := h.RollingUpdate(context.Background(), &RollingUpdateInput{Body: RollingUpdateRequest{
		ConfigYAML: "logLevel: info\n",
	}})
	requireStatus(t, err, 400)
	assert.Zero(t, sched.calls)
}

func TestConfigHandler_SnapshotListAndExport(t *testing.T) {
	store := setupHandlerStore(t)
	h := NewConfigHandler(store, nil, &fakeJobScheduler{})
	ctx := context.Background()

	node := &models.Node{
		Name:     "edge-1",
		APIURL:   "http://edge-1.example.com:9997",
		IsActive: models.BoolPtr(true),
	}
	require.NoError(t, store.Nodes.Create(ctx, node))

	doc, err := nodeconfig.Parse(validConfigYAML)
	require.NoError(t, err)
	snap := &models.ConfigSnapshot{
		NodeID:     &node.ID,
		Hash:       nodeconfig.Hash(doc),
		ConfigYAML: validConfigYAML,
		Applied:    models.BoolPtr(true),
	}
	require.NoError(t, store.Snapshots.Create(ctx, snap))

	list, err := h.ListSnapshots(ctx, &ListSnapshotsInput{ID: node.ID.String(), Limit: 50})
	require.NoError(t, err)
	require.Len(t, list.Body.Snapshots, 1)
	assert.Equal(t, snap.Hash, list.Body.Snapshots[0].Hash)

	export, err := h.ExportSnapshot(ctx, &ExportSnapshotInput{ID: snap.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, validConfigYAML, export.Body.ConfigYAML)
	assert.True(t, export.Body.Applied)

	_, err = h.ExportSnapshot(ctx, &ExportSnapshotInput{ID: models.NewULID().String()})
	requireStatus(t, err, 404)
}
