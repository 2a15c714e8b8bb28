package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/dan246/mtx-toolkit/internal/config"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

const (
	defaultEvictionBatchLimit = 100
	gigabyte                  = 1 << 30
)

// DiskUsage is the slice of filesystem state the cleaner acts on.
type DiskUsage struct {
	UsedFraction float64
	FreeBytes    uint64
}

// DiskUsageFunc reports usage for the filesystem holding path.
type DiskUsageFunc func(path string) (*DiskUsage, error)

func systemDiskUsage(path string) (*DiskUsage, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("reading disk usage for %s: %w", path, err)
	}
	return &DiskUsage{
		UsedFraction: stat.UsedPercent / 100,
		FreeBytes:    stat.Free,
	}, nil
}

// Cleaner deletes expired recordings and, under disk pressure, evicts the
// oldest continuous segments until free space recovers.
type Cleaner struct {
	store  *repository.Store
	cfg    config.RetentionConfig
	logger *slog.Logger

	diskUsage  DiskUsageFunc
	removeFile func(string) error
	now        func() time.Time
}

// NewCleaner creates a cleaner bound to the retention config.
func NewCleaner(store *repository.Store, cfg config.RetentionConfig, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		store:      store,
		cfg:        cfg,
		logger:     logger,
		diskUsage:  systemDiskUsage,
		removeFile: os.Remove,
		now:        time.Now,
	}
}

// Victim is one recording removed (or slated for removal) by a cleanup pass.
// Error is set when the file could not be deleted; such victims free nothing.
type Victim struct {
	RecordingID string `json:"recording_id"`
	FilePath    string `json:"file_path"`
	SizeBytes   int64  `json:"size_bytes"`
	Reason      string `json:"reason"`
	Error       string `json:"error,omitempty"`
}

// Eviction reasons.
const (
	ReasonExpired      = "expired"
	ReasonDiskPressure = "disk_pressure"
)

// CleanupResult reports what one cleanup pass removed.
type CleanupResult struct {
	DryRun     bool     `json:"dry_run"`
	Victims    []Victim `json:"victims"`
	FreedBytes int64    `json:"freed_bytes"`
}

// Cleanup runs the two eviction passes: expired recordings first, then
// disk-pressure eviction of the oldest continuous segments. With dryRun set
// nothing is deleted; the result lists what would go.
func (c *Cleaner) Cleanup(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	result := &CleanupResult{DryRun: dryRun}

	expired, err := c.store.Recordings.ListExpired(ctx, c.now())
	if err != nil {
		return nil, fmt.Errorf("listing expired recordings: %w", err)
	}
	for _, rec := range expired {
		if _, err := c.evict(ctx, rec, ReasonExpired, dryRun, result); err != nil {
			return result, err
		}
	}

	if err := c.relievePressure(ctx, dryRun, result); err != nil {
		return result, err
	}

	c.logger.Info("retention cleanup complete",
		slog.Bool("dry_run", dryRun),
		slog.Int("victims", len(result.Victims)),
		slog.Int64("freed_bytes", result.FreedBytes),
	)
	return result, nil
}

// relievePressure evicts oldest-first continuous recordings while disk usage
// sits above the threshold and projected free space is below the floor.
func (c *Cleaner) relievePressure(ctx context.Context, dryRun bool, result *CleanupResult) error {
	usage, err := c.diskUsage(c.cfg.RecordingRoot)
	if err != nil {
		c.logger.Warn("disk usage unavailable, skipping pressure eviction",
			slog.String("error", err.Error()))
		return nil
	}
	if usage.UsedFraction < c.cfg.DiskUsageThreshold {
		return nil
	}

	limit := c.cfg.EvictionBatchLimit
	if limit <= 0 {
		limit = defaultEvictionBatchLimit
	}
	candidates, err := c.store.Recordings.ListOldestContinuous(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing eviction candidates: %w", err)
	}

	target := uint64(c.cfg.MinFreeSpaceGB * gigabyte)
	projectedFree := usage.FreeBytes
	for _, rec := range candidates {
		if projectedFree >= target {
			break
		}
		freed, err := c.evict(ctx, rec, ReasonDiskPressure, dryRun, result)
		if err != nil {
			return err
		}
		if freed {
			projectedFree += uint64(rec.FileSizeBytes)
		}
	}

	if projectedFree < target {
		c.logger.Warn("disk pressure remains after eviction pass",
			slog.Uint64("projected_free_bytes", projectedFree),
			slog.Uint64("target_free_bytes", target),
		)
	}
	return nil
}

// evict removes the file then the row, reporting whether space was freed.
// Missing files are tolerated so a crashed earlier pass can be retried. A
// file that cannot be removed is recorded and skipped; one bad victim must
// not abort the rest of the pass.
func (c *Cleaner) evict(ctx context.Context, rec *models.Recording, reason string, dryRun bool, result *CleanupResult) (bool, error) {
	if !dryRun {
		if err := c.removeFile(rec.FilePath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove recording file",
				slog.String("file", rec.FilePath),
				slog.String("error", err.Error()),
			)
			result.Victims = append(result.Victims, Victim{
				RecordingID: rec.ID.String(),
				FilePath:    rec.FilePath,
				SizeBytes:   rec.FileSizeBytes,
				Reason:      reason,
				Error:       err.Error(),
			})
			return false, nil
		}
		if err := c.store.Recordings.Delete(ctx, rec.ID); err != nil {
			return false, fmt.Errorf("deleting recording %s: %w", rec.ID, err)
		}
	}

	result.Victims = append(result.Victims, Victim{
		RecordingID: rec.ID.String(),
		FilePath:    rec.FilePath,
		SizeBytes:   rec.FileSizeBytes,
		Reason:      reason,
	})
	result.FreedBytes += rec.FileSizeBytes
	return true, nil
}
