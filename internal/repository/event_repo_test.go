package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
)

func TestEventRepo_CreateAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	node := createTestNode(t, db, "edge-1")
	stream := createTestStream(t, db, node.ID, "cam1")

	for _, typ := range []models.EventType{
		models.EventDisconnected,
		models.EventReconnected,
		models.EventRemediationStarted,
	} {
		require.NoError(t, repo.Create(ctx, &models.StreamEvent{
			StreamID: stream.ID,
			Type:     typ,
			Severity: models.SeverityInfo,
		}))
	}

	events, total, err := repo.ListByStream(ctx, stream.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, events, 3)
}

func TestEventRepo_CountByTypeSince(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	node := createTestNode(t, db, "edge-1")
	stream := createTestStream(t, db, node.ID, "cam1")

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &models.StreamEvent{
			StreamID: stream.ID,
			Type:     models.EventRemediationFailed,
			Severity: models.SeverityError,
		}))
	}
	require.NoError(t, repo.Create(ctx, &models.StreamEvent{
		StreamID: stream.ID,
		Type:     models.EventRemediationSuccess,
		Severity: models.SeverityInfo,
	}))

	count, err := repo.CountByTypeSince(ctx, stream.ID, models.EventRemediationFailed, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Outside the window nothing matches.
	count, err = repo.CountByTypeSince(ctx, stream.ID, models.EventRemediationFailed, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEventRepo_Resolve(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	node := createTestNode(t, db, "edge-1")
	stream := createTestStream(t, db, node.ID, "cam1")

	event := &models.StreamEvent{
		StreamID: stream.ID,
		Type:     models.EventBlackScreen,
		Severity: models.SeverityWarning,
	}
	require.NoError(t, repo.Create(ctx, event))

	require.NoError(t, repo.Resolve(ctx, event.ID))

	found, err := repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, models.BoolVal(found.Resolved))
}

func TestEventRepo_InvalidTypeRejected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)

	node := createTestNode(t, db, "edge-1")
	stream := createTestStream(t, db, node.ID, "cam1")

	err := repo.Create(context.Background(), &models.StreamEvent{
		StreamID: stream.ID,
		Type:     "made_up",
	})
	assert.ErrorIs(t, err, models.ErrInvalidEventType)
}
