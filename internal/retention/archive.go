package retention

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// Archiver copies recordings into a date-partitioned archive tree, typically
// a NAS mount, and marks the rows archived.
type Archiver struct {
	store  *repository.Store
	root   string
	logger *slog.Logger
}

// NewArchiver creates an archiver writing under the given archive root.
func NewArchiver(store *repository.Store, root string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, root: root, logger: logger}
}

// Archive copies one recording to archive_root/YYYY/MM/DD/<stream>/<file> and
// records the archive path. Already-archived recordings are a no-op.
func (a *Archiver) Archive(ctx context.Context, rec *models.Recording) error {
	if a.root == "" {
		return models.ErrArchiveRootUnset
	}
	if rec.Archived() {
		return nil
	}

	stream, err := a.store.Streams.GetByID(ctx, rec.StreamID)
	if err != nil {
		return err
	}
	if stream == nil {
		return fmt.Errorf("recording %s references unknown stream %s", rec.ID, rec.StreamID)
	}

	start := time.Time(rec.StartTime)
	dest := filepath.Join(a.root,
		start.Format("2006"), start.Format("01"), start.Format("02"),
		flattenStreamPath(stream.Path),
		filepath.Base(rec.FilePath),
	)

	if err := copyFile(rec.FilePath, dest); err != nil {
		return fmt.Errorf("archiving %s: %w", rec.FilePath, err)
	}

	rec.IsArchived = models.BoolPtr(true)
	rec.ArchivePath = dest
	if err := a.store.Recordings.Update(ctx, rec); err != nil {
		return fmt.Errorf("marking recording %s archived: %w", rec.ID, err)
	}

	a.logger.Info("recording archived",
		slog.String("recording_id", rec.ID.String()),
		slog.String("archive_path", dest),
	)
	return nil
}

// SweepResult summarizes one archive sweep.
type SweepResult struct {
	Candidates int      `json:"candidates"`
	Archived   int      `json:"archived"`
	Errors     []string `json:"errors,omitempty"`
}

// Sweep archives unarchived recordings that started before cutoff, oldest
// first, up to limit. Per-recording failures are collected, not fatal.
func (a *Archiver) Sweep(ctx context.Context, cutoff time.Time, limit int) (*SweepResult, error) {
	candidates, err := a.store.Recordings.ListArchiveCandidates(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing archive candidates: %w", err)
	}

	result := &SweepResult{Candidates: len(candidates)}
	for _, rec := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := a.Archive(ctx, rec); err != nil {
			a.logger.Error("archive failed",
				slog.String("recording_id", rec.ID.String()),
				slog.String("error", err.Error()),
			)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			continue
		}
		result.Archived++
	}
	return result, nil
}

// flattenStreamPath turns a possibly nested stream path into one directory
// component.
func flattenStreamPath(p string) string {
	p = strings.Trim(filepath.ToSlash(p), "/")
	return strings.ReplaceAll(p, "/", "_")
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}
