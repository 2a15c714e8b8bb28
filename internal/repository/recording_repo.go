package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) *recordingRepo {
	return &recordingRepo{db: db}
}

// Create creates a new recording.
func (r *recordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	return nil
}

// GetByID retrieves a recording by ID.
func (r *recordingRepo) GetByID(ctx context.Context, id models.ULID) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by ID: %w", err)
	}
	return &rec, nil
}

// GetByFilePath retrieves a recording by its unique file path.
func (r *recordingRepo) GetByFilePath(ctx context.Context, path string) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.WithContext(ctx).Where("file_path = ?", path).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by path: %w", err)
	}
	return &rec, nil
}

// List retrieves recordings matching the filter, newest first.
func (r *recordingRepo) List(ctx context.Context, filter RecordingFilter) ([]*models.Recording, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Recording{})

	if filter.StreamID != nil {
		query = query.Where("stream_id = ?", *filter.StreamID)
	}
	if filter.SegmentType != nil {
		query = query.Where("segment_type = ?", *filter.SegmentType)
	}
	if filter.Archived != nil {
		query = query.Where("is_archived = ?", *filter.Archived)
	}
	if filter.Since != nil {
		query = query.Where("start_time >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("start_time <= ?", *filter.Until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting recordings: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var recs []*models.Recording
	if err := query.Order("start_time DESC").Offset(filter.Offset).Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, total, nil
}

// ListExpired returns unarchived recordings past their expiry.
func (r *recordingRepo) ListExpired(ctx context.Context, now time.Time) ([]*models.Recording, error) {
	var recs []*models.Recording
	if err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ? AND is_archived = ?", now, false).
		Order("expires_at ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing expired recordings: %w", err)
	}
	return recs, nil
}

// ListOldestContinuous returns the oldest non-archived continuous
// recordings by start time.
func (r *recordingRepo) ListOldestContinuous(ctx context.Context, limit int) ([]*models.Recording, error) {
	var recs []*models.Recording
	if err := r.db.WithContext(ctx).
		Where("segment_type = ? AND is_archived = ?", models.SegmentContinuous, false).
		Order("start_time ASC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing oldest continuous recordings: %w", err)
	}
	return recs, nil
}

// ListArchiveCandidates returns unarchived recordings starting before cutoff.
func (r *recordingRepo) ListArchiveCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*models.Recording, error) {
	var recs []*models.Recording
	if err := r.db.WithContext(ctx).
		Where("is_archived = ? AND start_time <= ?", false, cutoff).
		Order("start_time ASC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing archive candidates: %w", err)
	}
	return recs, nil
}

// Update updates an existing recording.
func (r *recordingRepo) Update(ctx context.Context, rec *models.Recording) error {
	if err := r.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("updating recording: %w", err)
	}
	return nil
}

// Delete deletes a recording row.
func (r *recordingRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Recording{}).Error; err != nil {
		return fmt.Errorf("deleting recording: %w", err)
	}
	return nil
}

// Ensure recordingRepo implements RecordingRepository at compile time.
var _ RecordingRepository = (*recordingRepo)(nil)
