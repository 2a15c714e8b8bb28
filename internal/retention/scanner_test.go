package retention

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dan246/mtx-toolkit/internal/models"
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

func seedStream(t *testing.T, store *repository.Store, path string) *models.Stream {
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
		NodeID:           node.ID,
		Path:             path,
		RecordingEnabled: models.BoolPtr(true),
	}
	require.NoError(t, store.Streams.Create(ctx, stream))
	return stream
}

func writeSegment(t *testing.T, root, dir, name string, size int) string {
	t.Helper()
	full := filepath.Join(root, dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, bytes.Repeat([]byte{0x47}, size), 0o644))
	return full
}

func TestScan_FuzzyMatchIndexesSegment(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "cam-one")
	root := t.TempDir()
	ctx := context.Background()

	// Directory name uses underscores where the stream path uses dashes.
	path := writeSegment(t, root, "cam_one", "2026-01-17_04-40-07.ts", 12345)

	scanner := NewScanner(store, root, 7, nil)
	result, err := scanner.Scan(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Skipped)

	rec, err := store.Recordings.GetByFilePath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, stream.ID, rec.StreamID)
	assert.Equal(t, int64(12345), rec.FileSizeBytes)
	assert.Equal(t, models.SegmentContinuous, rec.SegmentType)

	wantStart := time.Date(2026, 1, 17, 4, 40, 7, 0, time.UTC)
	assert.True(t, time.Time(rec.StartTime).Equal(wantStart))
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, time.Time(*rec.ExpiresAt).Equal(wantStart.AddDate(0, 0, 7)))
}

func TestScan_Idempotent(t *testing.T) {
	store := setupStore(t)
	seedStream(t, store, "cam-one")
	root := t.TempDir()
	ctx := context.Background()

	writeSegment(t, root, "cam-one", "2026-01-17_04-40-07.ts", 100)

	scanner := NewScanner(store, root, 7, nil)
	first, err := scanner.Scan(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Added)

	second, err := scanner.Scan(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 0, second.Updated)
}

func TestScan_ForceRescanRefreshes(t *testing.T) {
	store := setupStore(t)
	seedStream(t, store, "cam-one")
	root := t.TempDir()
	ctx := context.Background()

	path := writeSegment(t, root, "cam-one", "2026-01-17_04-40-07.ts", 100)

	scanner := NewScanner(store, root, 7, nil)
	_, err := scanner.Scan(ctx, false)
	require.NoError(t, err)

	// The recorder appended more data since the first pass.
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x47}, 4096), 0o644))

	result, err := scanner.Scan(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 1, result.Updated)

	rec, err := store.Recordings.GetByFilePath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(4096), rec.FileSizeBytes)
}

func TestScan_SkipsUnmatchedAndUnparseable(t *testing.T) {
	store := setupStore(t)
	seedStream(t, store, "cam-one")
	root := t.TempDir()
	ctx := context.Background()

	writeSegment(t, root, "ghost", "2026-01-17_04-40-07.ts", 10)
	writeSegment(t, root, "cam-one", "latest.ts", 10)
	// Wrong extension never counts as a segment.
	writeSegment(t, root, "cam-one", "2026-01-17_04-40-07.txt", 10)

	scanner := NewScanner(store, root, 7, nil)
	result, err := scanner.Scan(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 2, result.Skipped)
}

func TestScan_LeadingSeparatorMatch(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "/garage")
	root := t.TempDir()
	ctx := context.Background()

	path := writeSegment(t, root, "garage", "2026-02-01_10-00-00.mp4", 50)

	scanner := NewScanner(store, root, 7, nil)
	result, err := scanner.Scan(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	rec, err := store.Recordings.GetByFilePath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, stream.ID, rec.StreamID)
}

func TestParseSegmentTime(t *testing.T) {
	got, ok := parseSegmentTime("2026-01-17_04-40-07.ts")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 17, 4, 40, 7, 0, time.UTC), got)

	// Prefixed names still carry a parseable timestamp.
	_, ok = parseSegmentTime("seg_2026-01-17_04-40-07_001.mp4")
	assert.True(t, ok)

	_, ok = parseSegmentTime("latest.ts")
	assert.False(t, ok)
}
