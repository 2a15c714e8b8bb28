package nodeconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/relay"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// NodeAPI is the slice of the relay API the config manager drives.
type NodeAPI interface {
	GetGlobalConfig(ctx context.Context) (relay.GlobalConf, error)
	PatchGlobalConfig(ctx context.Context, conf relay.GlobalConf) error
	GetPathConfig(ctx context.Context, name string) (relay.PathConf, error)
	AddPath(ctx context.Context, name string, conf relay.PathConf) error
	DeletePath(ctx context.Context, name string) error
}

// ClientFactory returns the relay API client for one node.
type ClientFactory func(node *models.Node) NodeAPI

// Manager plans and applies config documents against relay nodes, keeping
// an immutable snapshot trail.
type Manager struct {
	store   *repository.Store
	clients ClientFactory
	logger  *slog.Logger

	now func() time.Time
}

// NewManager creates a config manager.
func NewManager(store *repository.Store, clients ClientFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		clients: clients,
		logger:  logger,
		now:     time.Now,
	}
}

// PlanResult describes what an apply would do without doing it.
type PlanResult struct {
	Node     string            `json:"node"`
	Hash     string            `json:"hash"`
	Changes  []Change          `json:"changes"`
	DiffText string            `json:"diff_text"`
	Validate *ValidationResult `json:"validation"`
}

// ApplyResult reports the outcome of one apply.
type ApplyResult struct {
	Node       string `json:"node"`
	Success    bool   `json:"success"`
	RolledBack bool   `json:"rolled_back"`
	Hash       string `json:"hash,omitempty"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Plan validates the document and diffs it against the node's live state.
func (m *Manager) Plan(ctx context.Context, node *models.Node, rawYAML string) (*PlanResult, error) {
	doc, err := Parse(rawYAML)
	if err != nil {
		return nil, err
	}

	validation := Validate(doc)
	result := &PlanResult{
		Node:     node.Name,
		Hash:     Hash(doc),
		Validate: validation,
	}
	if !validation.Valid {
		return result, nil
	}

	current, err := m.captureState(ctx, node, doc)
	if err != nil {
		return nil, err
	}

	result.Changes = Diff(current, doc)
	result.DiffText = FormatChanges(result.Changes)
	return result, nil
}

// Apply pushes a config document to a node. The live state is snapshotted
// first; any push failure triggers a best-effort rollback to that backup.
func (m *Manager) Apply(ctx context.Context, node *models.Node, rawYAML, appliedBy string) (*ApplyResult, error) {
	doc, err := Parse(rawYAML)
	if err != nil {
		return nil, err
	}
	if validation := Validate(doc); !validation.Valid {
		return nil, fmt.Errorf("config validation failed: %v", validation.Errors)
	}

	result := &ApplyResult{Node: node.Name, Hash: Hash(doc)}
	api := m.clients(node)

	backup, err := m.captureState(ctx, node, doc)
	if err != nil {
		return nil, fmt.Errorf("capturing current state: %w", err)
	}
	// The backup records config that was live on the node, so it counts
	// as applied and is a valid rollback target.
	if _, err := m.snapshot(ctx, node, backup, "system", "pre-apply backup", nil); err != nil {
		return nil, fmt.Errorf("writing backup snapshot: %w", err)
	}

	if applyErr := m.push(ctx, api, doc); applyErr != nil {
		result.Error = applyErr.Error()
		m.logger.Error("config apply failed, rolling back",
			slog.String("node", node.Name),
			slog.String("error", applyErr.Error()),
		)
		if rbErr := m.push(ctx, api, backup); rbErr != nil {
			m.logger.Error("rollback after failed apply also failed",
				slog.String("node", node.Name),
				slog.String("error", rbErr.Error()),
			)
			return result, fmt.Errorf("apply failed (%v) and rollback failed: %w", applyErr, rbErr)
		}
		result.RolledBack = true
		return result, nil
	}

	snap, err := m.snapshot(ctx, node, doc, appliedBy, "", nil)
	if err != nil {
		return nil, fmt.Errorf("writing applied snapshot: %w", err)
	}

	result.Success = true
	result.SnapshotID = snap.ID.String()
	m.logger.Info("config applied",
		slog.String("node", node.Name),
		slog.String("hash", result.Hash),
		slog.String("applied_by", appliedBy),
	)
	return result, nil
}

// Rollback re-applies a previous snapshot's document to its node.
func (m *Manager) Rollback(ctx context.Context, node *models.Node, snapshotID models.ULID, appliedBy string) (*ApplyResult, error) {
	snap, err := m.store.Snapshots.GetByID(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, models.ErrSnapshotNotFound
	}

	doc, err := Parse(snap.ConfigYAML)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s holds unparseable YAML: %w", snapshotID, err)
	}

	result := &ApplyResult{Node: node.Name, Hash: Hash(doc)}
	api := m.clients(node)

	if err := m.push(ctx, api, doc); err != nil {
		result.Error = err.Error()
		return result, nil
	}

	rollbackSnap, err := m.snapshot(ctx, node, doc, appliedBy, fmt.Sprintf("rollback to %s", snap.Hash), &snapshotID)
	if err != nil {
		return nil, fmt.Errorf("writing rollback snapshot: %w", err)
	}

	result.Success = true
	result.SnapshotID = rollbackSnap.ID.String()
	return result, nil
}

// push applies a document to a node. Every top-level key except paths is
// global relay configuration and goes through one global patch call; each
// listed path entry is then replaced. A null path entry means delete.
func (m *Manager) push(ctx context.Context, api NodeAPI, doc map[string]any) error {
	global := make(relay.GlobalConf, len(doc))
	for key, value := range doc {
		if key == "paths" {
			continue
		}
		global[key] = value
	}
	if len(global) > 0 {
		if err := api.PatchGlobalConfig(ctx, global); err != nil {
			return fmt.Errorf("patching global config: %w", err)
		}
	}

	rawPaths, ok := doc["paths"]
	if !ok {
		return nil
	}
	paths, ok := asMap(rawPaths)
	if !ok {
		return errors.New("paths must be a mapping")
	}

	for name, rawEntry := range paths {
		existing, err := api.GetPathConfig(ctx, name)
		if err != nil && !errors.Is(err, relay.ErrPathNotFound) {
			return fmt.Errorf("reading path %s: %w", name, err)
		}

		if rawEntry == nil {
			if existing != nil {
				if err := api.DeletePath(ctx, name); err != nil {
					return fmt.Errorf("deleting path %s: %w", name, err)
				}
			}
			continue
		}

		entry, ok := asMap(rawEntry)
		if !ok {
			return fmt.Errorf("path %s must be null or a mapping", name)
		}

		if existing != nil {
			if err := api.DeletePath(ctx, name); err != nil {
				return fmt.Errorf("replacing path %s: %w", name, err)
			}
		}
		if err := api.AddPath(ctx, name, relay.PathConf(entry)); err != nil {
			return fmt.Errorf("adding path %s: %w", name, err)
		}
	}

	return nil
}

// captureState reads the node's live config for the scope the document
// touches: the global keys the document sets plus every path it names.
func (m *Manager) captureState(ctx context.Context, node *models.Node, doc map[string]any) (map[string]any, error) {
	api := m.clients(node)
	state := map[string]any{}

	globalKeys := make([]string, 0, len(doc))
	for key := range doc {
		if key != "paths" {
			globalKeys = append(globalKeys, key)
		}
	}
	if len(globalKeys) > 0 {
		global, err := api.GetGlobalConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
		live := deepCopy(map[string]any(global))
		for _, key := range globalKeys {
			if value, ok := live[key]; ok {
				state[key] = value
			}
		}
	}

	statePaths := map[string]any{}
	if rawPaths, ok := doc["paths"]; ok {
		paths, ok := asMap(rawPaths)
		if !ok {
			return nil, errors.New("paths must be a mapping")
		}
		for name := range paths {
			conf, err := api.GetPathConfig(ctx, name)
			if err != nil {
				if errors.Is(err, relay.ErrPathNotFound) {
					statePaths[name] = nil
					continue
				}
				return nil, fmt.Errorf("reading path %s: %w", name, err)
			}
			statePaths[name] = deepCopy(map[string]any(conf))
		}
	}
	state["paths"] = statePaths

	return state, nil
}

// deepCopy detaches captured state from the maps the client handed back,
// so later patches cannot alias the backup.
func deepCopy(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if child, ok := asMap(v); ok {
			dst[k] = deepCopy(child)
			continue
		}
		if list, ok := v.([]any); ok {
			copied := make([]any, len(list))
			copy(copied, list)
			dst[k] = copied
			continue
		}
		dst[k] = v
	}
	return dst
}

// snapshot persists a snapshot row. appliedBy non-empty marks it applied.
func (m *Manager) snapshot(ctx context.Context, node *models.Node, doc map[string]any, appliedBy, notes string, rollbackOf *models.ULID) (*models.ConfigSnapshot, error) {
	rendered, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rendering snapshot YAML: %w", err)
	}

	snap := &models.ConfigSnapshot{
		NodeID:       &node.ID,
		Hash:         Hash(doc),
		ConfigYAML:   string(rendered),
		Environment:  node.Environment,
		Notes:        notes,
		RollbackOfID: rollbackOf,
	}
	if appliedBy != "" {
		snap.Applied = models.BoolPtr(true)
		now := models.Time(m.now())
		snap.AppliedAt = &now
		snap.AppliedBy = appliedBy
	}

	if err := m.store.Snapshots.Create(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
