package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/nodeconfig"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// ConfigHandler handles node configuration management endpoints.
type ConfigHandler struct {
	store     *repository.Store
	manager   *nodeconfig.Manager
	scheduler JobScheduler
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(store *repository.Store, manager *nodeconfig.Manager, scheduler JobScheduler) *ConfigHandler {
	return &ConfigHandler{store: store, manager: manager, scheduler: scheduler}
}

// Register registers the config routes with the API.
func (h *ConfigHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "validateConfig",
		Method:      "POST",
		Path:        "/api/v1/config/validate",
		Summary:     "Validate config",
		Description: "Validates a config document without touching any node",
		Tags:        []string{"Config"},
	}, h.Validate)

	huma.Register(api, huma.Operation{
		OperationID: "planConfig",
		Method:      "POST",
		Path:        "/api/v1/nodes/{id}/config/plan",
		Summary:     "Plan config change",
		Description: "Diffs a config document against the node's live state without applying it",
		Tags:        []string{"Config"},
	}, h.Plan)

	huma.Register(api, huma.Operation{
		OperationID: "applyConfig",
		Method:      "POST",
		Path:        "/api/v1/nodes/{id}/config/apply",
		Summary:     "Apply config",
		Description: "Pushes a config document to one node with automatic rollback on failure",
		Tags:        []string{"Config"},
	}, h.Apply)

	huma.Register(api, huma.Operation{
		OperationID: "rollbackConfig",
		Method:      "POST",
		Path:        "/api/v1/nodes/{id}/config/rollback",
		Summary:     "Rollback config",
		Description: "Re-applies a previous snapshot's document to the node",
		Tags:        []string{"Config"},
	}, h.Rollback)

	huma.Register(api, huma.Operation{
		OperationID: "rollingUpdateConfig",
		Method:      "POST",
		Path:        "/api/v1/config/rolling-update",
		Summary:     "Rolling update",
		Description: "Queues a batched config rollout across an environment",
		Tags:        []string{"Config"},
	}, h.RollingUpdate)

	huma.Register(api, huma.Operation{
		OperationID: "listConfigSnapshots",
		Method:      "GET",
		Path:        "/api/v1/nodes/{id}/config/snapshots",
		Summary:     "List snapshots",
		Description: "Returns the node's config snapshot history, newest first",
		Tags:        []string{"Config"},
	}, h.ListSnapshots)

	huma.Register(api, huma.Operation{
		OperationID: "exportConfigSnapshot",
		Method:      "GET",
		Path:        "/api/v1/config/snapshots/{id}/export",
		Summary:     "Export snapshot",
		Description: "Returns the full YAML document of one snapshot",
		Tags:        []string{"Config"},
	}, h.ExportSnapshot)
}

// ConfigDocumentRequest carries a raw config document.
type ConfigDocumentRequest struct {
	ConfigYAML string `json:"config_yaml" doc:"Config document as YAML"`
}

// ValidateConfigInput is the input for validating a config document.
type ValidateConfigInput struct {
	Body ConfigDocumentRequest
}

// ValidateConfigOutput is the output for validating a config document.
type ValidateConfigOutput struct {
	Body struct {
		Hash       string                       `json:"hash,omitempty"`
		Validation *nodeconfig.ValidationResult `json:"validation"`
	}
}

// Validate checks a config document's structure.
func (h *ConfigHandler) Validate(ctx context.Context, input *ValidateConfigInput) (*ValidateConfigOutput, error) {
	doc, err := nodeconfig.Parse(input.Body.ConfigYAML)
	if err != nil {
		if errors.Is(err, models.ErrConfigYAMLRequired) {
			return nil, huma.Error400BadRequest("config_yaml is required")
		}
		return nil, huma.Error400BadRequest("invalid YAML", err)
	}

	resp := &ValidateConfigOutput{}
	resp.Body.Validation = nodeconfig.Validate(doc)
	if resp.Body.Validation.Valid {
		resp.Body.Hash = nodeconfig.Hash(doc)
	}
	return resp, nil
}

// PlanConfigInput is the input for planning a config change.
type PlanConfigInput struct {
	ID   string `path:"id" doc:"Node ID (ULID)"`
	Body ConfigDocumentRequest
}

// PlanConfigOutput is the output for planning a config change.
type PlanConfigOutput struct {
	Body nodeconfig.PlanResult
}

// Plan diffs a document against the node's live state.
func (h *ConfigHandler) Plan(ctx context.Context, input *PlanConfigInput) (*PlanConfigOutput, error) {
	node, err := h.loadNode(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	result, err := h.manager.Plan(ctx, node, input.Body.ConfigYAML)
	if err != nil {
		if errors.Is(err, models.ErrConfigYAMLRequired) {
			return nil, huma.Error400BadRequest("config_yaml is required")
		}
		return nil, huma.Error500InternalServerError("failed to plan config change", err)
	}
	return &PlanConfigOutput{Body: *result}, nil
}

// ApplyConfigRequest is the request body for applying a config document.
type ApplyConfigRequest struct {
	ConfigYAML string `json:"config_yaml" doc:"Config document as YAML"`
	AppliedBy  string `json:"applied_by,omitempty" doc:"Recorded on the snapshot"`
}

// ApplyConfigInput is the input for applying a config document.
type ApplyConfigInput struct {
	ID   string `path:"id" doc:"Node ID (ULID)"`
	Body ApplyConfigRequest
}

// ApplyConfigOutput is the output for applying a config document.
type ApplyConfigOutput struct {
	Body nodeconfig.ApplyResult
}

// Apply pushes a document to one node.
func (h *ConfigHandler) Apply(ctx context.Context, input *ApplyConfigInput) (*ApplyConfigOutput, error) {
	node, err := h.loadNode(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	result, err := h.manager.Apply(ctx, node, input.Body.ConfigYAML, input.Body.AppliedBy)
	if err != nil {
		if errors.Is(err, models.ErrConfigYAMLRequired) {
			return nil, huma.Error400BadRequest("config_yaml is required")
		}
		return nil, huma.Error500InternalServerError("failed to apply config", err)
	}
	return &ApplyConfigOutput{Body: *result}, nil
}

// RollbackConfigRequest is the request body for rolling back to a snapshot.
type RollbackConfigRequest struct {
	SnapshotID string `json:"snapshot_id" doc:"Snapshot to re-apply (ULID)"`
	AppliedBy  string `json:"applied_by,omitempty" doc:"Recorded on the rollback snapshot"`
}

// RollbackConfigInput is the input for rolling back to a snapshot.
type RollbackConfigInput struct {
	ID   string `path:"id" doc:"Node ID (ULID)"`
	Body RollbackConfigRequest
}

// RollbackConfigOutput is the output for rolling back to a snapshot.
type RollbackConfigOutput struct {
	Body nodeconfig.ApplyResult
}

// Rollback re-applies a snapshot to its node.
func (h *ConfigHandler) Rollback(ctx context.Context, input *RollbackConfigInput) (*RollbackConfigOutput, error) {
	node, err := h.loadNode(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	snapshotID, err := models.ParseULID(input.Body.SnapshotID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid snapshot_id format", err)
	}

	result, err := h.manager.Rollback(ctx, node, snapshotID, input.Body.AppliedBy)
	if err != nil {
		if errors.Is(err, models.ErrSnapshotNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("snapshot %s not found", input.Body.SnapshotID))
		}
		return nil, huma.Error500InternalServerError("failed to roll back config", err)
	}
	return &RollbackConfigOutput{Body: *result}, nil
}

// RollingUpdateRequest is the request body for queueing a rolling update.
type RollingUpdateRequest struct {
	ConfigYAML  string `json:"config_yaml" doc:"Config document as YAML"`
	Environment string `json:"environment,omitempty" doc:"Only nodes in this environment; empty means all"`
	AppliedBy   string `json:"applied_by,omitempty" doc:"Recorded on each snapshot"`
	BatchSize   int    `json:"batch_size,omitempty" minimum:"0" doc:"Nodes per wave; 0 uses the configured default"`
}

// RollingUpdateInput is the input for queueing a rolling update.
type RollingUpdateInput struct {
	Body RollingUpdateRequest
}

// RollingUpdateOutput is the output for queueing a rolling update.
type RollingUpdateOutput struct {
	Body JobQueuedResponse
}

// RollingUpdate validates the document and queues the rollout as a job.
func (h *ConfigHandler) RollingUpdate(ctx context.Context, input *RollingUpdateInput) (*RollingUpdateOutput, error) {
	doc, err := nodeconfig.Parse(input.Body.ConfigYAML)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid YAML", err)
	}
	if validation := nodeconfig.Validate(doc); !validation.Valid {
		return nil, huma.Error400BadRequest(fmt.Sprintf("config validation failed: %v", validation.Errors))
	}

	payload, err := json.Marshal(map[string]any{
		"config_yaml": input.Body.ConfigYAML,
		"environment": input.Body.Environment,
		"applied_by":  input.Body.AppliedBy,
		"batch_size":  input.Body.BatchSize,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to encode payload", err)
	}

	target := input.Body.Environment
	if target == "" {
		target = "all environments"
	}
	job, err := h.scheduler.ScheduleImmediateWithPayload(ctx,
		models.JobTypeRollingUpdate, models.ULID{}, target, string(payload))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to queue rolling update", err)
	}

	return &RollingUpdateOutput{Body: JobQueuedResponse{
		JobID:   job.ID.String(),
		Message: fmt.Sprintf("rolling update queued for %s", target),
	}}, nil
}

// ListSnapshotsInput is the input for listing a node's snapshots.
type ListSnapshotsInput struct {
	ID    string `path:"id" doc:"Node ID (ULID)"`
	Limit int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Maximum snapshots to return"`
}

// ListSnapshotsOutput is the output for listing a node's snapshots.
type ListSnapshotsOutput struct {
	Body struct {
		Snapshots []SnapshotResponse `json:"snapshots"`
	}
}

// ListSnapshots returns a node's snapshot history.
func (h *ConfigHandler) ListSnapshots(ctx context.Context, input *ListSnapshotsInput) (*ListSnapshotsOutput, error) {
	node, err := h.loadNode(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	snapshots, err := h.store.Snapshots.ListByNode(ctx, node.ID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list snapshots", err)
	}

	resp := &ListSnapshotsOutput{}
	resp.Body.Snapshots = make([]SnapshotResponse, 0, len(snapshots))
	for _, s := range snapshots {
		resp.Body.Snapshots = append(resp.Body.Snapshots, SnapshotFromModel(s))
	}
	return resp, nil
}

// ExportSnapshotInput is the input for exporting a snapshot.
type ExportSnapshotInput struct {
	ID string `path:"id" doc:"Snapshot ID (ULID)"`
}

// ExportSnapshotOutput is the output for exporting a snapshot.
type ExportSnapshotOutput struct {
	Body struct {
		SnapshotResponse
		ConfigYAML string `json:"config_yaml"`
	}
}

// ExportSnapshot returns one snapshot with its full document.
func (h *ConfigHandler) ExportSnapshot(ctx context.Context, input *ExportSnapshotInput) (*ExportSnapshotOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	snap, err := h.store.Snapshots.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get snapshot", err)
	}
	if snap == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("snapshot %s not found", input.ID))
	}

	resp := &ExportSnapshotOutput{}
	resp.Body.SnapshotResponse = SnapshotFromModel(snap)
	resp.Body.ConfigYAML = snap.ConfigYAML
	return resp, nil
}

func (h *ConfigHandler) loadNode(ctx context.Context, rawID string) (*models.Node, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	node, err := h.store.Nodes.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get node", err)
	}
	if node == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("node %s not found", rawID))
	}
	return node, nil
}
