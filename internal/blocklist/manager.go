// Package blocklist manages client IP blocks and answers admission checks
// for them.
package blocklist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// Manager creates, lists, matches, and expires IP block entries.
type Manager struct {
	store  *repository.Store
	logger *slog.Logger

	now func() time.Time
}

// NewManager creates a blocklist manager.
func NewManager(store *repository.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// BlockRequest describes one block to create. TTL zero means permanent.
type BlockRequest struct {
	Address     string
	PathPattern string
	NodeID      *models.ULID
	Reason      string
	TTL         time.Duration
}

// Block creates an active block entry. Temporary blocks expire TTL from now;
// a zero TTL makes the block permanent.
func (m *Manager) Block(ctx context.Context, req BlockRequest) (*models.IPBlockEntry, error) {
	entry := &models.IPBlockEntry{
		Address:     req.Address,
		PathPattern: req.PathPattern,
		NodeID:      req.NodeID,
		Reason:      req.Reason,
		IsActive:    models.BoolPtr(true),
	}
	if req.TTL > 0 {
		expires := models.Time(m.now().Add(req.TTL))
		entry.ExpiresAt = &expires
	} else {
		entry.IsPermanent = models.BoolPtr(true)
	}

	if err := m.store.Blocklist.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("creating block entry: %w", err)
	}

	m.logger.Info("address blocked",
		slog.String("address", req.Address),
		slog.String("path_pattern", req.PathPattern),
		slog.Bool("permanent", entry.Permanent()),
	)
	return entry, nil
}

// Unblock deactivates one entry by ID.
func (m *Manager) Unblock(ctx context.Context, id models.ULID) error {
	entry, err := m.store.Blocklist.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return models.ErrBlockEntryNotFound
	}
	if err := m.store.Blocklist.Deactivate(ctx, id); err != nil {
		return err
	}
	m.logger.Info("address unblocked", slog.String("address", entry.Address))
	return nil
}

// List returns all active entries, newest first.
func (m *Manager) List(ctx context.Context) ([]*models.IPBlockEntry, error) {
	return m.store.Blocklist.ListActive(ctx)
}

// IsBlocked reports whether the address is blocked for the given node and
// path, with the matching entry when one exists. Entries past their expiry
// are ignored even before the sweep deactivates them.
func (m *Manager) IsBlocked(ctx context.Context, address string, nodeID models.ULID, path string) (bool, *models.IPBlockEntry, error) {
	entries, err := m.store.Blocklist.ListActiveByAddress(ctx, address)
	if err != nil {
		return false, nil, err
	}

	now := m.now()
	for _, entry := range entries {
		if entry.Expired(now) {
			continue
		}
		if entry.Matches(address, nodeID, path) {
			return true, entry, nil
		}
	}
	return false, nil, nil
}

// Sweep deactivates expired temporary entries and returns how many it swept.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	swept, err := m.store.Blocklist.DeactivateExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		m.logger.Info("expired block entries swept", slog.Int64("count", swept))
	}
	return swept, nil
}
