package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// eventRepo implements EventRepository using GORM.
type eventRepo struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *gorm.DB) *eventRepo {
	return &eventRepo{db: db}
}

// Create appends a new stream event.
func (r *eventRepo) Create(ctx context.Context, event *models.StreamEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating stream event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by ID.
func (r *eventRepo) GetByID(ctx context.Context, id models.ULID) (*models.StreamEvent, error) {
	var event models.StreamEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream event by ID: %w", err)
	}
	return &event, nil
}

// ListByStream retrieves events for a stream, newest first, with pagination.
func (r *eventRepo) ListByStream(ctx context.Context, streamID models.ULID, offset, limit int) ([]*models.StreamEvent, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.StreamEvent{}).Where("stream_id = ?", streamID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting stream events: %w", err)
	}

	var events []*models.StreamEvent
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("listing stream events: %w", err)
	}
	return events, total, nil
}

// ListRecent retrieves the most recent events across all streams.
func (r *eventRepo) ListRecent(ctx context.Context, limit int) ([]*models.StreamEvent, error) {
	var events []*models.StreamEvent
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing recent events: %w", err)
	}
	return events, nil
}

// CountByTypeSince counts events of one type for a stream since a time.
func (r *eventRepo) CountByTypeSince(ctx context.Context, streamID models.ULID, eventType models.EventType, since time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.StreamEvent{}).
		Where("stream_id = ? AND type = ? AND created_at >= ?", streamID, eventType, since).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}

// Resolve flips the resolved flag on an event.
func (r *eventRepo) Resolve(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.StreamEvent{}).
		Where("id = ?", id).
		UpdateColumn("resolved", true)
	if result.Error != nil {
		return fmt.Errorf("resolving event: %w", result.Error)
	}
	return nil
}

// Ensure eventRepo implements EventRepository at compile time.
var _ EventRepository = (*eventRepo)(nil)
