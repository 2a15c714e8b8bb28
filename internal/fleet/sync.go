// Package fleet reconciles the control plane's stream inventory with what
// relay nodes actually serve.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/relay"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// PathLister is the slice of the relay API the sync needs.
type PathLister interface {
	ListPaths(ctx context.Context) ([]relay.PathInfo, error)
}

// ClientFactory returns the relay API client for one node.
type ClientFactory func(node *models.Node) PathLister

// Syncer pulls each node's path listing and upserts the stream inventory.
type Syncer struct {
	store   *repository.Store
	clients ClientFactory
	logger  *slog.Logger

	// inflight serializes syncs per node; a slow node must not pile up
	// overlapping syncs against itself.
	mu       sync.Mutex
	inflight map[models.ULID]*sync.Mutex
}

// NewSyncer creates a fleet syncer.
func NewSyncer(store *repository.Store, clients ClientFactory, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:    store,
		clients:  clients,
		logger:   logger,
		inflight: make(map[models.ULID]*sync.Mutex),
	}
}

// SyncResult summarizes one reconciliation pass over a node.
type SyncResult struct {
	Node    string `json:"node"`
	Total   int    `json:"total"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Deleted int    `json:"deleted"`
}

// SyncNode reconciles one node: relay paths become stream rows, source
// metadata is refreshed, and rows for paths the node no longer serves are
// pruned along with their events and recordings.
func (s *Syncer) SyncNode(ctx context.Context, node *models.Node) (*SyncResult, error) {
	lock := s.nodeLock(node.ID)
	lock.Lock()
	defer lock.Unlock()

	api := s.clients(node)
	paths, err := api.ListPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing paths on %s: %w", node.Name, err)
	}

	if err := s.store.Nodes.TouchLastSeen(ctx, node.ID, time.Now()); err != nil {
		s.logger.Warn("failed to update node last_seen",
			slog.String("node", node.Name),
			slog.String("error", err.Error()),
		)
	}

	result := &SyncResult{Node: node.Name, Total: len(paths)}
	keep := make([]string, 0, len(paths))

	for i := range paths {
		path := &paths[i]
		keep = append(keep, path.Name)

		existing, err := s.store.Streams.GetByNodeAndPath(ctx, node.ID, path.Name)
		if err != nil {
			return nil, fmt.Errorf("looking up stream %s: %w", path.Name, err)
		}

		if existing == nil {
			stream := &models.Stream{
				NodeID:   node.ID,
				Path:     path.Name,
				Protocol: path.Protocol(),
			}
			if err := s.store.Streams.Create(ctx, stream); err != nil {
				return nil, fmt.Errorf("creating stream %s: %w", path.Name, err)
			}
			result.Created++
			continue
		}

		if updateExisting(existing, path) {
			if err := s.store.Streams.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("updating stream %s: %w", path.Name, err)
			}
			result.Updated++
		}
	}

	deleted, err := s.store.Streams.DeleteStale(ctx, node.ID, keep)
	if err != nil {
		return nil, fmt.Errorf("pruning stale streams on %s: %w", node.Name, err)
	}
	result.Deleted = int(deleted)

	s.logger.Info("fleet sync completed",
		slog.String("node", node.Name),
		slog.Int("total", result.Total),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
	)
	return result, nil
}

// updateExisting refreshes a row from the listing and reports whether
// anything changed.
func updateExisting(stream *models.Stream, path *relay.PathInfo) bool {
	changed := false
	if protocol := path.Protocol(); protocol != models.ProtocolUnknown && stream.Protocol != protocol {
		stream.Protocol = protocol
		changed = true
	}
	return changed
}

func (s *Syncer) nodeLock(id models.ULID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.inflight[id]
	if !ok {
		lock = &sync.Mutex{}
		s.inflight[id] = lock
	}
	return lock
}
