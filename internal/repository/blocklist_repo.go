package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// blocklistRepo implements BlocklistRepository using GORM.
type blocklistRepo struct {
	db *gorm.DB
}

// NewBlocklistRepository creates a new BlocklistRepository.
func NewBlocklistRepository(db *gorm.DB) *blocklistRepo {
	return &blocklistRepo{db: db}
}

// Create creates a new block entry.
func (r *blocklistRepo) Create(ctx context.Context, entry *models.IPBlockEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("creating block entry: %w", err)
	}
	return nil
}

// GetByID retrieves a block entry by ID.
func (r *blocklistRepo) GetByID(ctx context.Context, id models.ULID) (*models.IPBlockEntry, error) {
	var entry models.IPBlockEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting block entry by ID: %w", err)
	}
	return &entry, nil
}

// ListActive retrieves all active block entries.
func (r *blocklistRepo) ListActive(ctx context.Context) ([]*models.IPBlockEntry, error) {
	var entries []*models.IPBlockEntry
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing active block entries: %w", err)
	}
	return entries, nil
}

// ListActiveByAddress retrieves active block entries for an address.
func (r *blocklistRepo) ListActiveByAddress(ctx context.Context, address string) ([]*models.IPBlockEntry, error) {
	var entries []*models.IPBlockEntry
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND address = ?", true, address).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing block entries by address: %w", err)
	}
	return entries, nil
}

// Update updates an existing block entry.
func (r *blocklistRepo) Update(ctx context.Context, entry *models.IPBlockEntry) error {
	if err := r.db.WithContext(ctx).Save(entry).Error; err != nil {
		return fmt.Errorf("updating block entry: %w", err)
	}
	return nil
}

// Deactivate flips is_active off for one entry.
func (r *blocklistRepo) Deactivate(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.IPBlockEntry{}).
		Where("id = ?", id).
		UpdateColumn("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("deactivating block entry: %w", result.Error)
	}
	return nil
}

// DeactivateExpired flips is_active off for non-permanent entries past expiry.
func (r *blocklistRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.IPBlockEntry{}).
		Where("is_active = ? AND is_permanent = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, false, now).
		UpdateColumn("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("deactivating expired block entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure blocklistRepo implements BlocklistRepository at compile time.
var _ BlocklistRepository = (*blocklistRepo)(nil)
