package retention

import (
	"path/filepath"
	"strings"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// PlaybackPath returns the API path a client should use to play a recording.
// MPEG-TS segments go through the transcode endpoint; everything else is
// served directly.
func PlaybackPath(rec *models.Recording) string {
	base := "/api/v1/recordings/" + rec.ID.String()
	if strings.EqualFold(filepath.Ext(rec.FilePath), ".ts") {
		return base + "/play"
	}
	return base + "/download"
}

// MediaSource returns the on-disk path to serve a recording from, preferring
// the archive copy once one exists.
func MediaSource(rec *models.Recording) string {
	if rec.Archived() && rec.ArchivePath != "" {
		return rec.ArchivePath
	}
	return rec.FilePath
}
