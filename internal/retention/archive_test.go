package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
)

func TestArchive_CopiesIntoDatedTree(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "cam-one")
	recordingRoot := t.TempDir()
	archiveRoot := t.TempDir()
	ctx := context.Background()

	start := time.Date(2026, 1, 17, 4, 40, 7, 0, time.UTC)
	rec := seedRecording(t, store, stream, recordingRoot, recordingOpts{
		start: start, size: 7, onDisk: true,
	})

	archiver := NewArchiver(store, archiveRoot, nil)
	require.NoError(t, archiver.Archive(ctx, rec))

	wantDest := filepath.Join(archiveRoot, "2026", "01", "17", "cam-one", filepath.Base(rec.FilePath))
	assert.FileExists(t, wantDest)
	// Archival copies; the live segment stays where the recorder put it.
	assert.FileExists(t, rec.FilePath)

	data, err := os.ReadFile(wantDest)
	require.NoError(t, err)
	assert.Equal(t, "ts-data", string(data))

	stored, err := store.Recordings.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Archived())
	assert.Equal(t, wantDest, stored.ArchivePath)
}

func TestArchive_FlattensNestedStreamPath(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "site/cam-two")
	recordingRoot := t.TempDir()
	archiveRoot := t.TempDir()

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rec := seedRecording(t, store, stream, recordingRoot, recordingOpts{
		start: start, size: 7, onDisk: true,
	})

	archiver := NewArchiver(store, archiveRoot, nil)
	require.NoError(t, archiver.Archive(context.Background(), rec))

	wantDest := filepath.Join(archiveRoot, "2026", "03", "02", "site_cam-two", filepath.Base(rec.FilePath))
	assert.FileExists(t, wantDest)
}

func TestArchive_AlreadyArchivedIsNoop(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "cam-one")
	recordingRoot := t.TempDir()
	archiveRoot := t.TempDir()

	rec := seedRecording(t, store, stream, recordingRoot, recordingOpts{
		start: time.Now(), size: 7, onDisk: false, archived: true,
	})

	archiver := NewArchiver(store, archiveRoot, nil)
	require.NoError(t, archiver.Archive(context.Background(), rec))

	entries, err := os.ReadDir(archiveRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchive_NoRootConfigured(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "cam-one")

	rec := seedRecording(t, store, stream, t.TempDir(), recordingOpts{
		start: time.Now(), size: 7, onDisk: true,
	})

	archiver := NewArchiver(store, "", nil)
	err := archiver.Archive(context.Background(), rec)
	assert.ErrorIs(t, err, models.ErrArchiveRootUnset)
}

func TestSweep_ArchivesOldRecordings(t *testing.T) {
	store := setupStore(t)
	stream := seedStream(t, store, "cam-one")
	recordingRoot := t.TempDir()
	archiveRoot := t.TempDir()
	ctx := context.Background()

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	old := seedRecording(t, store, stream, recordingRoot, recordingOpts{
		start: cutoff.Add(-48 * time.Hour), size: 7, onDisk: true,
	})
	// A segment missing on disk fails archival without stopping the sweep.
	seedRecording(t, store, stream, recordingRoot, recordingOpts{
		start: cutoff.Add(-24 * time.Hour), size: 7, onDisk: false,
	})
	recent := seedRecording(t, store, stream, recordingRoot, recordingOpts{
		start: cutoff.Add(24 * time.Hour), size: 7, onDisk: true,
	})

	archiver := NewArchiver(store, archiveRoot, nil)
	result, err := archiver.Sweep(ctx, cutoff, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Candidates)
	assert.Equal(t, 1, result.Archived)
	assert.Len(t, result.Errors, 1)

	stored, err := store.Recordings.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, stored.Archived())

	untouched, err := store.Recordings.GetByID(ctx, recent.ID)
	require.NoError(t, err)
	assert.False(t, untouched.Archived())
}
