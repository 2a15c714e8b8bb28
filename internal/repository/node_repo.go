package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// nodeRepo implements NodeRepository using GORM.
type nodeRepo struct {
	db *gorm.DB
}

// NewNodeRepository creates a new NodeRepository.
func NewNodeRepository(db *gorm.DB) *nodeRepo {
	return &nodeRepo{db: db}
}

// Create creates a new node.
func (r *nodeRepo) Create(ctx context.Context, node *models.Node) error {
	if err := r.db.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	return nil
}

// GetByID retrieves a node by ID.
func (r *nodeRepo) GetByID(ctx context.Context, id models.ULID) (*models.Node, error) {
	var node models.Node
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&node).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting node by ID: %w", err)
	}
	return &node, nil
}

// GetByName retrieves a node by its unique name.
func (r *nodeRepo) GetByName(ctx context.Context, name string) (*models.Node, error) {
	var node models.Node
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&node).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting node by name: %w", err)
	}
	return &node, nil
}

// List retrieves all nodes ordered by name.
func (r *nodeRepo) List(ctx context.Context) ([]*models.Node, error) {
	var nodes []*models.Node
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return nodes, nil
}

// ListActive retrieves all active nodes ordered by name.
func (r *nodeRepo) ListActive(ctx context.Context) ([]*models.Node, error) {
	var nodes []*models.Node
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("listing active nodes: %w", err)
	}
	return nodes, nil
}

// ListActiveByEnvironment retrieves active nodes in an environment.
// An empty environment matches every active node.
func (r *nodeRepo) ListActiveByEnvironment(ctx context.Context, environment string) ([]*models.Node, error) {
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if environment != "" {
		query = query.Where("environment = ?", environment)
	}

	var nodes []*models.Node
	if err := query.Order("name ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("listing nodes by environment: %w", err)
	}
	return nodes, nil
}

// Update updates an existing node.
func (r *nodeRepo) Update(ctx context.Context, node *models.Node) error {
	if err := r.db.WithContext(ctx).Save(node).Error; err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	return nil
}

// TouchLastSeen updates the node's heartbeat without triggering hooks.
func (r *nodeRepo) TouchLastSeen(ctx context.Context, id models.ULID, seen time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Node{}).
		Where("id = ?", id).
		UpdateColumn("last_seen", seen)
	if result.Error != nil {
		return fmt.Errorf("touching node last_seen: %w", result.Error)
	}
	return nil
}

// Delete deletes a node and its streams.
func (r *nodeRepo) Delete(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SQLite enforces the cascade only when foreign_keys is on;
		// delete child rows explicitly so behavior matches across drivers.
		var streamIDs []models.ULID
		if err := tx.Model(&models.Stream{}).Where("node_id = ?", id).Pluck("id", &streamIDs).Error; err != nil {
			return err
		}
		if len(streamIDs) > 0 {
			if err := tx.Where("stream_id IN ?", streamIDs).Delete(&models.StreamEvent{}).Error; err != nil {
				return err
			}
			if err := tx.Where("stream_id IN ?", streamIDs).Delete(&models.Recording{}).Error; err != nil {
				return err
			}
			if err := tx.Where("node_id = ?", id).Delete(&models.Stream{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).Delete(&models.Node{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return nil
}

// Ensure nodeRepo implements NodeRepository at compile time.
var _ NodeRepository = (*nodeRepo)(nil)
