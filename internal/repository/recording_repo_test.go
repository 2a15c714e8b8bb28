package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
)

func TestRecordingRepo_ExpiredAndOldest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	node := createTestNode(t, db, "edge-1")
	stream := createTestStream(t, db, node.ID, "cam1")

	now := time.Now()
	mk := func(path string, start time.Time, expires *time.Time, archived bool) *models.Recording {
		rec := &models.Recording{
			StreamID:    stream.ID,
			FilePath:    path,
			StartTime:   start,
			SegmentType: models.SegmentContinuous,
			ExpiresAt:   expires,
			IsArchived:  models.BoolPtr(archived),
		}
		require.NoError(t, repo.Create(ctx, rec))
		return rec
	}

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	expired := mk("/rec/cam1/a.ts", now.Add(-48*time.Hour), &past, false)
	mk("/rec/cam1/b.ts", now.Add(-24*time.Hour), &future, false)
	mk("/rec/cam1/c.ts", now.Add(-72*time.Hour), &past, true) // archived, never evicted

	gone, err := repo.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, gone, 1)
	assert.Equal(t, expired.ID, gone[0].ID)

	oldest, err := repo.ListOldestContinuous(ctx, 10)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	// Oldest first by start time.
	assert.Equal(t, expired.ID, oldest[0].ID)
}

func TestRecordingRepo_ListFilter(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	node := createTestNode(t, db, "edge-1")
	s1 := createTestStream(t, db, node.ID, "cam1")
	s2 := createTestStream(t, db, node.ID, "cam2")

	now := time.Now()
	exp := now.Add(time.Hour)
	require.NoError(t, repo.Create(ctx, &models.Recording{
		StreamID: s1.ID, FilePath: "/rec/cam1/a.ts", StartTime: now,
		SegmentType: models.SegmentContinuous, ExpiresAt: &exp,
	}))
	require.NoError(t, repo.Create(ctx, &models.Recording{
		StreamID: s2.ID, FilePath: "/rec/cam2/b.mp4", StartTime: now,
		SegmentType: models.SegmentEvent, ExpiresAt: &exp,
	}))

	eventType := models.SegmentEvent
	recs, total, err := repo.List(ctx, RecordingFilter{SegmentType: &eventType})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, recs, 1)
	assert.Equal(t, s2.ID, recs[0].StreamID)

	recs, total, err = repo.List(ctx, RecordingFilter{StreamID: &s1.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "/rec/cam1/a.ts", recs[0].FilePath)
}

func TestNodeRepo_DeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	nodes := NewNodeRepository(db)
	ctx := context.Background()

	node := createTestNode(t, db, "edge-1")
	stream := createTestStream(t, db, node.ID, "cam1")
	exp := time.Now().Add(time.Hour)
	require.NoError(t, db.Create(&models.Recording{
		StreamID: stream.ID, FilePath: "/rec/cam1/a.ts",
		StartTime: time.Now(), SegmentType: models.SegmentContinuous, ExpiresAt: &exp,
	}).Error)

	require.NoError(t, nodes.Delete(ctx, node.ID))

	var streamCount, recCount int64
	require.NoError(t, db.Model(&models.Stream{}).Count(&streamCount).Error)
	require.NoError(t, db.Model(&models.Recording{}).Count(&recCount).Error)
	assert.Zero(t, streamCount)
	assert.Zero(t, recCount)
}
