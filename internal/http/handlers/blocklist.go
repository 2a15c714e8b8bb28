package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dan246/mtx-toolkit/internal/blocklist"
	"github.com/dan246/mtx-toolkit/internal/models"
)

// BlocklistHandler handles IP blocklist API endpoints.
type BlocklistHandler struct {
	manager *blocklist.Manager
}

// NewBlocklistHandler creates a new blocklist handler.
func NewBlocklistHandler(manager *blocklist.Manager) *BlocklistHandler {
	return &BlocklistHandler{manager: manager}
}

// Register registers the blocklist routes with the API.
func (h *BlocklistHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listBlockEntries",
		Method:      "GET",
		Path:        "/api/v1/blocklist",
		Summary:     "List block entries",
		Description: "Returns all active block entries",
		Tags:        []string{"Blocklist"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "createBlockEntry",
		Method:      "POST",
		Path:        "/api/v1/blocklist",
		Summary:     "Block address",
		Description: "Blocks an IP address, permanently or with a TTL",
		Tags:        []string{"Blocklist"},
	}, h.Block)

	huma.Register(api, huma.Operation{
		OperationID: "deleteBlockEntry",
		Method:      "DELETE",
		Path:        "/api/v1/blocklist/{id}",
		Summary:     "Unblock address",
		Description: "Deactivates a block entry",
		Tags:        []string{"Blocklist"},
	}, h.Unblock)

	huma.Register(api, huma.Operation{
		OperationID: "checkBlockedAddress",
		Method:      "GET",
		Path:        "/api/v1/blocklist/check",
		Summary:     "Check address",
		Description: "Reports whether an address would be blocked for a node and path",
		Tags:        []string{"Blocklist"},
	}, h.Check)
}

// ListBlockEntriesInput is the input for listing block entries.
type ListBlockEntriesInput struct{}

// ListBlockEntriesOutput is the output for listing block entries.
type ListBlockEntriesOutput struct {
	Body struct {
		Entries []BlockEntryResponse `json:"entries"`
	}
}

// List returns all active block entries.
func (h *BlocklistHandler) List(ctx context.Context, input *ListBlockEntriesInput) (*ListBlockEntriesOutput, error) {
	entries, err := h.manager.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list block entries", err)
	}

	resp := &ListBlockEntriesOutput{}
	resp.Body.Entries = make([]BlockEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp.Body.Entries = append(resp.Body.Entries, BlockEntryFromModel(e))
	}
	return resp, nil
}

// BlockEntryRequest is the request body for blocking an address.
type BlockEntryRequest struct {
	Address     string `json:"address" doc:"IP address to block"`
	PathPattern string `json:"path_pattern,omitempty" doc:"Only block access to matching paths; trailing * matches a prefix"`
	NodeID      string `json:"node_id,omitempty" doc:"Only block on this node (ULID); empty means fleet-wide"`
	Reason      string `json:"reason,omitempty" doc:"Recorded on the entry"`
	TTLSeconds  int    `json:"ttl_seconds,omitempty" minimum:"0" doc:"Seconds until the block expires; 0 means permanent"`
}

// CreateBlockEntryInput is the input for blocking an address.
type CreateBlockEntryInput struct {
	Body BlockEntryRequest
}

// CreateBlockEntryOutput is the output for blocking an address.
type CreateBlockEntryOutput struct {
	Body BlockEntryResponse
}

// Block creates an active block entry.
func (h *BlocklistHandler) Block(ctx context.Context, input *CreateBlockEntryInput) (*CreateBlockEntryOutput, error) {
	if net.ParseIP(input.Body.Address) == nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid IP address %q", input.Body.Address))
	}

	req := blocklist.BlockRequest{
		Address:     input.Body.Address,
		PathPattern: input.Body.PathPattern,
		Reason:      input.Body.Reason,
		TTL:         time.Duration(input.Body.TTLSeconds) * time.Second,
	}
	if input.Body.NodeID != "" {
		nodeID, err := models.ParseULID(input.Body.NodeID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid node_id format", err)
		}
		req.NodeID = &nodeID
	}

	entry, err := h.manager.Block(ctx, req)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to create block entry", err)
	}
	return &CreateBlockEntryOutput{Body: BlockEntryFromModel(entry)}, nil
}

// DeleteBlockEntryInput is the input for unblocking an address.
type DeleteBlockEntryInput struct {
	ID string `path:"id" doc:"Block entry ID (ULID)"`
}

// DeleteBlockEntryOutput is the output for unblocking an address.
type DeleteBlockEntryOutput struct{}

// Unblock deactivates a block entry.
func (h *BlocklistHandler) Unblock(ctx context.Context, input *DeleteBlockEntryInput) (*DeleteBlockEntryOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if err := h.manager.Unblock(ctx, id); err != nil {
		if errors.Is(err, models.ErrBlockEntryNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("block entry %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to unblock", err)
	}
	return &DeleteBlockEntryOutput{}, nil
}

// CheckBlockedInput is the input for checking an address.
type CheckBlockedInput struct {
	Address string `query:"address" doc:"IP address to check"`
	NodeID  string `query:"node_id,omitempty" doc:"Node to check against (ULID)"`
	Path    string `query:"path,omitempty" doc:"Stream path to check against"`
}

// CheckBlockedOutput is the output for checking an address.
type CheckBlockedOutput struct {
	Body struct {
		Blocked bool                `json:"blocked"`
		Entry   *BlockEntryResponse `json:"entry,omitempty"`
	}
}

// Check reports whether an address would be blocked.
func (h *BlocklistHandler) Check(ctx context.Context, input *CheckBlockedInput) (*CheckBlockedOutput, error) {
	if net.ParseIP(input.Address) == nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid IP address %q", input.Address))
	}

	var nodeID models.ULID
	if input.NodeID != "" {
		parsed, err := models.ParseULID(input.NodeID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid node_id format", err)
		}
		nodeID = parsed
	}

	blocked, entry, err := h.manager.IsBlocked(ctx, input.Address, nodeID, input.Path)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to check address", err)
	}

	resp := &CheckBlockedOutput{}
	resp.Body.Blocked = blocked
	if entry != nil {
		converted := BlockEntryFromModel(entry)
		resp.Body.Entry = &converted
	}
	return resp, nil
}
