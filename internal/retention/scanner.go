// Package retention indexes recording segments on disk and enforces their
// lifecycle: expiry, disk-pressure eviction, archival, and event captures.
package retention

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// segmentExtensions are the file types the relay's recorder produces.
var segmentExtensions = map[string]bool{
	".ts":  true,
	".mp4": true,
	".mkv": true,
	".flv": true,
}

// timestampPattern extracts the segment start time from the filename.
var timestampPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})`)

const timestampLayout = "2006-01-02_15-04-05"

// Scanner walks the recording root and indexes segment files as Recording rows.
type Scanner struct {
	store         *repository.Store
	root          string
	retentionDays int
	logger        *slog.Logger
}

// NewScanner creates a scanner over the given recording root. retentionDays
// sets the expiry horizon for continuous segments.
func NewScanner(store *repository.Store, root string, retentionDays int, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		store:         store,
		root:          root,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// ScanResult summarizes one pass over the recording tree.
type ScanResult struct {
	Scanned int `json:"scanned"`
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Scan walks the recording root and upserts a Recording per segment file.
// Directories are matched to streams by path, tolerating case and -/_
// differences. Files without a parseable timestamp are skipped. When
// forceRescan is set, existing rows get their size and start time refreshed.
func (s *Scanner) Scan(ctx context.Context, forceRescan bool) (*ScanResult, error) {
	streams, err := s.store.Streams.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing streams: %w", err)
	}

	exact := make(map[string]*models.Stream, len(streams))
	fuzzy := make(map[string]*models.Stream, len(streams))
	for _, stream := range streams {
		exact[stream.Path] = stream
		fuzzy[normalizePath(stream.Path)] = stream
	}

	result := &ScanResult{}
	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !segmentExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result.Scanned++

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		dir := filepath.Dir(rel)
		if dir == "." {
			result.Skipped++
			return nil
		}

		stream := matchStream(dir, exact, fuzzy)
		if stream == nil {
			s.logger.Debug("no stream matches recording directory", slog.String("dir", dir))
			result.Skipped++
			return nil
		}

		start, ok := parseSegmentTime(filepath.Base(path))
		if !ok {
			s.logger.Debug("segment filename has no timestamp", slog.String("file", path))
			result.Skipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if err := s.upsert(ctx, stream, path, start, info.Size(), forceRescan, result); err != nil {
			return err
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking recording root: %w", walkErr)
	}

	s.logger.Info("recording scan complete",
		slog.Int("scanned", result.Scanned),
		slog.Int("added", result.Added),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *Scanner) upsert(ctx context.Context, stream *models.Stream, path string, start time.Time, size int64, forceRescan bool, result *ScanResult) error {
	existing, err := s.store.Recordings.GetByFilePath(ctx, path)
	if err != nil {
		return err
	}

	if existing == nil {
		expires := models.Time(start.AddDate(0, 0, s.retentionDays))
		rec := &models.Recording{
			StreamID:      stream.ID,
			FilePath:      path,
			FileSizeBytes: size,
			StartTime:     models.Time(start),
			SegmentType:   models.SegmentContinuous,
			RetentionDays: s.retentionDays,
			ExpiresAt:     &expires,
		}
		if err := s.store.Recordings.Create(ctx, rec); err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		result.Added++
		return nil
	}

	if !forceRescan {
		return nil
	}

	expires := models.Time(start.AddDate(0, 0, existing.RetentionDays))
	existing.FileSizeBytes = size
	existing.StartTime = models.Time(start)
	existing.ExpiresAt = &expires
	if err := s.store.Recordings.Update(ctx, existing); err != nil {
		return fmt.Errorf("refreshing %s: %w", path, err)
	}
	result.Updated++
	return nil
}

// matchStream resolves a recording directory to a stream: exact path first,
// with and without a leading separator, then the normalized form.
func matchStream(dir string, exact, fuzzy map[string]*models.Stream) *models.Stream {
	dir = filepath.ToSlash(dir)
	if s, ok := exact[dir]; ok {
		return s
	}
	if s, ok := exact["/"+dir]; ok {
		return s
	}
	if s, ok := exact[strings.TrimPrefix(dir, "/")]; ok {
		return s
	}
	return fuzzy[normalizePath(dir)]
}

// normalizePath lowercases a stream path and folds the separators that
// differ between relay path names and on-disk directory names.
func normalizePath(p string) string {
	p = strings.ToLower(filepath.ToSlash(p))
	p = strings.ReplaceAll(p, "_", "-")
	return strings.Trim(p, "/")
}

func parseSegmentTime(filename string) (time.Time, bool) {
	match := timestampPattern.FindString(filename)
	if match == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(timestampLayout, match)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
