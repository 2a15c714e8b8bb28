// Package handlers provides the control plane's HTTP API handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
	"github.com/dan246/mtx-toolkit/internal/scheduler"
)

// JobScheduler queues one-off jobs from API requests.
type JobScheduler interface {
	ScheduleImmediate(ctx context.Context, jobType models.JobType, targetID models.ULID, targetName string) (*models.Job, error)
	ScheduleImmediateWithPayload(ctx context.Context, jobType models.JobType, targetID models.ULID, targetName, payload string) (*models.Job, error)
}

var _ JobScheduler = (*scheduler.Scheduler)(nil)

// NodeHandler handles relay node API endpoints.
type NodeHandler struct {
	store     *repository.Store
	scheduler JobScheduler
}

// NewNodeHandler creates a new node handler.
func NewNodeHandler(store *repository.Store, scheduler JobScheduler) *NodeHandler {
	return &NodeHandler{store: store, scheduler: scheduler}
}

// Register registers the node routes with the API.
func (h *NodeHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listNodes",
		Method:      "GET",
		Path:        "/api/v1/nodes",
		Summary:     "List nodes",
		Description: "Returns all registered relay nodes",
		Tags:        []string{"Nodes"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getNode",
		Method:      "GET",
		Path:        "/api/v1/nodes/{id}",
		Summary:     "Get node",
		Description: "Returns a relay node by ID",
		Tags:        []string{"Nodes"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "createNode",
		Method:      "POST",
		Path:        "/api/v1/nodes",
		Summary:     "Register node",
		Description: "Registers a new relay node with the control plane",
		Tags:        []string{"Nodes"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateNode",
		Method:      "PUT",
		Path:        "/api/v1/nodes/{id}",
		Summary:     "Update node",
		Description: "Updates an existing relay node",
		Tags:        []string{"Nodes"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteNode",
		Method:      "DELETE",
		Path:        "/api/v1/nodes/{id}",
		Summary:     "Deregister node",
		Description: "Removes a node and all its streams, events and recording records",
		Tags:        []string{"Nodes"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "syncNode",
		Method:      "POST",
		Path:        "/api/v1/nodes/{id}/sync",
		Summary:     "Trigger fleet sync",
		Description: "Queues an immediate inventory reconciliation for one node",
		Tags:        []string{"Nodes"},
	}, h.Sync)
}

// ListNodesInput is the input for listing nodes.
type ListNodesInput struct {
	Environment string `query:"environment" doc:"Only nodes in this environment"`
	ActiveOnly  bool   `query:"active_only" doc:"Only active nodes"`
}

// ListNodesOutput is the output for listing nodes.
type ListNodesOutput struct {
	Body struct {
		Nodes []NodeResponse `json:"nodes"`
	}
}

// List returns all nodes.
func (h *NodeHandler) List(ctx context.Context, input *ListNodesInput) (*ListNodesOutput, error) {
	var (
		nodes []*models.Node
		err   error
	)
	switch {
	case input.Environment != "":
		nodes, err = h.store.Nodes.ListActiveByEnvironment(ctx, input.Environment)
	case input.ActiveOnly:
		nodes, err = h.store.Nodes.ListActive(ctx)
	default:
		nodes, err = h.store.Nodes.List(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list nodes", err)
	}

	resp := &ListNodesOutput{}
	resp.Body.Nodes = make([]NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		resp.Body.Nodes = append(resp.Body.Nodes, NodeFromModel(n))
	}
	return resp, nil
}

// GetNodeInput is the input for getting a node.
type GetNodeInput struct {
	ID string `path:"id" doc:"Node ID (ULID)"`
}

// GetNodeOutput is the output for getting a node.
type GetNodeOutput struct {
	Body NodeResponse
}

// GetByID returns a node by ID.
func (h *NodeHandler) GetByID(ctx context.Context, input *GetNodeInput) (*GetNodeOutput, error) {
	node, err := h.loadNode(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetNodeOutput{Body: NodeFromModel(node)}, nil
}

// CreateNodeInput is the input for registering a node.
type CreateNodeInput struct {
	Body CreateNodeRequest
}

// CreateNodeOutput is the output for registering a node.
type CreateNodeOutput struct {
	Body NodeResponse
}

// Create registers a new node.
func (h *NodeHandler) Create(ctx context.Context, input *CreateNodeInput) (*CreateNodeOutput, error) {
	node := input.Body.ToModel()

	if err := h.store.Nodes.Create(ctx, node); err != nil {
		if errors.Is(err, models.ErrNameRequired) ||
			errors.Is(err, models.ErrAPIURLRequired) ||
			errors.Is(err, models.ErrInvalidURL) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if isUniqueViolation(err) {
			return nil, huma.Error409Conflict("a node with this name already exists")
		}
		return nil, huma.Error500InternalServerError("failed to create node", err)
	}

	return &CreateNodeOutput{Body: NodeFromModel(node)}, nil
}

// UpdateNodeInput is the input for updating a node.
type UpdateNodeInput struct {
	ID   string `path:"id" doc:"Node ID (ULID)"`
	Body UpdateNodeRequest
}

// UpdateNodeOutput is the output for updating a node.
type UpdateNodeOutput struct {
	Body NodeResponse
}

// Update updates an existing node.
func (h *NodeHandler) Update(ctx context.Context, input *UpdateNodeInput) (*UpdateNodeOutput, error) {
	node, err := h.loadNode(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	input.Body.ApplyToModel(node)

	if err := h.store.Nodes.Update(ctx, node); err != nil {
		if errors.Is(err, models.ErrInvalidURL) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to update node", err)
	}

	return &UpdateNodeOutput{Body: NodeFromModel(node)}, nil
}

// DeleteNodeInput is the input for deleting a node.
type DeleteNodeInput struct {
	ID string `path:"id" doc:"Node ID (ULID)"`
}

// DeleteNodeOutput is the output for deleting a node.
type DeleteNodeOutput struct{}

// Delete removes a node and cascades to its streams.
func (h *NodeHandler) Delete(ctx context.Context, input *DeleteNodeInput) (*DeleteNodeOutput, error) {
	node, err := h.loadNode(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.store.Nodes.Delete(ctx, node.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete node", err)
	}
	return &DeleteNodeOutput{}, nil
}

// SyncNodeInput is the input for triggering a node sync.
type SyncNodeInput struct {
	ID string `path:"id" doc:"Node ID (ULID)"`
}

// SyncNodeOutput is the output for triggering a node sync.
type SyncNodeOutput struct {
	Body JobQueuedResponse
}

// Sync queues an immediate fleet sync job for one node.
func (h *NodeHandler) Sync(ctx context.Context, input *SyncNodeInput) (*SyncNodeOutput, error) {
	node, err := h.loadNode(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.scheduler.ScheduleImmediate(ctx, models.JobTypeFleetSync, node.ID, node.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to queue sync", err)
	}

	return &SyncNodeOutput{Body: JobQueuedResponse{
		JobID:   job.ID.String(),
		Message: fmt.Sprintf("fleet sync queued for node %s", node.Name),
	}}, nil
}

// loadNode resolves a path ID to a node or an appropriate API error.
func (h *NodeHandler) loadNode(ctx context.Context, rawID string) (*models.Node, error) {
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

// isUniqueViolation reports whether an error is a unique constraint failure
// across the supported database drivers.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
