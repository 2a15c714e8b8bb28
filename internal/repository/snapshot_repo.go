package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// snapshotRepo implements SnapshotRepository using GORM.
type snapshotRepo struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(db *gorm.DB) *snapshotRepo {
	return &snapshotRepo{db: db}
}

// Create creates a new config snapshot.
func (r *snapshotRepo) Create(ctx context.Context, snap *models.ConfigSnapshot) error {
	if err := r.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("creating config snapshot: %w", err)
	}
	return nil
}

// GetByID retrieves a snapshot by ID.
func (r *snapshotRepo) GetByID(ctx context.Context, id models.ULID) (*models.ConfigSnapshot, error) {
	var snap models.ConfigSnapshot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&snap).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting config snapshot by ID: %w", err)
	}
	return &snap, nil
}

// ListByNode retrieves snapshots for a node, newest first.
func (r *snapshotRepo) ListByNode(ctx context.Context, nodeID models.ULID, limit int) ([]*models.ConfigSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	var snaps []*models.ConfigSnapshot
	if err := r.db.WithContext(ctx).
		Where("node_id = ?", nodeID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("listing config snapshots: %w", err)
	}
	return snaps, nil
}

// GetLatestApplied returns the most recent applied snapshot for a node.
func (r *snapshotRepo) GetLatestApplied(ctx context.Context, nodeID models.ULID) (*models.ConfigSnapshot, error) {
	var snap models.ConfigSnapshot
	if err := r.db.WithContext(ctx).
		Where("node_id = ? AND applied = ?", nodeID, true).
		Order("created_at DESC, id DESC").
		First(&snap).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest applied snapshot: %w", err)
	}
	return &snap, nil
}

// Ensure snapshotRepo implements SnapshotRepository at compile time.
var _ SnapshotRepository = (*snapshotRepo)(nil)
