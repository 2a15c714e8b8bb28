package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create creates a new stream.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetByNodeAndPath retrieves a stream by its unique (node, path) pair.
func (r *streamRepo) GetByNodeAndPath(ctx context.Context, nodeID models.ULID, path string) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).
		Where("node_id = ? AND path = ?", nodeID, path).
		First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by node and path: %w", err)
	}
	return &stream, nil
}

// List retrieves all streams.
func (r *streamRepo) List(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Order("path ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("listing streams: %w", err)
	}
	return streams, nil
}

// ListByNode retrieves all streams on a node.
func (r *streamRepo) ListByNode(ctx context.Context, nodeID models.ULID) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).
		Where("node_id = ?", nodeID).
		Order("path ASC").
		Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("listing streams by node: %w", err)
	}
	return streams, nil
}

// ListByStatus retrieves all streams with the given status.
func (r *streamRepo) ListByStatus(ctx context.Context, status models.StreamStatus) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("path ASC").
		Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("listing streams by status: %w", err)
	}
	return streams, nil
}

// ListProbeSample selects streams for the deep health pass: first those
// that have never reported fps (or report zero), then, when none qualify,
// the least recently updated streams to rotate coverage.
func (r *streamRepo) ListProbeSample(ctx context.Context, limit int) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).
		Where("fps IS NULL OR fps = 0").
		Order("updated_at ASC").
		Limit(limit).
		Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("listing probe sample: %w", err)
	}

	if len(streams) > 0 {
		return streams, nil
	}

	if err := r.db.WithContext(ctx).
		Order("updated_at ASC").
		Limit(limit).
		Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("listing probe rotation: %w", err)
	}
	return streams, nil
}

// CountByStatus returns stream counts grouped by status.
func (r *streamRepo) CountByStatus(ctx context.Context) (map[models.StreamStatus]int64, error) {
	var rows []struct {
		Status models.StreamStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting streams by status: %w", err)
	}

	counts := make(map[models.StreamStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// Delete deletes a stream and its events and recordings.
func (r *streamRepo) Delete(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stream_id = ?", id).Delete(&models.StreamEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("stream_id = ?", id).Delete(&models.Recording{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Stream{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	return nil
}

// DeleteStale removes the node's streams whose path is absent from keep.
func (r *streamRepo) DeleteStale(ctx context.Context, nodeID models.ULID, keep []string) (int64, error) {
	var staleIDs []models.ULID
	query := r.db.WithContext(ctx).Model(&models.Stream{}).Where("node_id = ?", nodeID)
	if len(keep) > 0 {
		query = query.Where("path NOT IN ?", keep)
	}
	if err := query.Pluck("id", &staleIDs).Error; err != nil {
		return 0, fmt.Errorf("finding stale streams: %w", err)
	}
	if len(staleIDs) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stream_id IN ?", staleIDs).Delete(&models.StreamEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("stream_id IN ?", staleIDs).Delete(&models.Recording{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", staleIDs).Delete(&models.Stream{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("deleting stale streams: %w", err)
	}
	return int64(len(staleIDs)), nil
}

// Ensure streamRepo implements StreamRepository at compile time.
var _ StreamRepository = (*streamRepo)(nil)
