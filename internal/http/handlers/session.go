package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/sessions"
)

// SessionHandler handles the aggregated session view.
type SessionHandler struct {
	aggregator *sessions.Aggregator
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(aggregator *sessions.Aggregator) *SessionHandler {
	return &SessionHandler{aggregator: aggregator}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Description: "Returns one page of the fleet-wide session view",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSessionSummary",
		Method:      "GET",
		Path:        "/api/v1/sessions/summary",
		Summary:     "Session summary",
		Description: "Returns session counts grouped by protocol, node and path",
		Tags:        []string{"Sessions"},
	}, h.Summary)

	huma.Register(api, huma.Operation{
		OperationID: "kickSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/kick",
		Summary:     "Kick session",
		Description: "Disconnects one session on its node",
		Tags:        []string{"Sessions"},
	}, h.Kick)
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct {
	Node        string `query:"node" doc:"Only sessions on this node name"`
	Protocol    string `query:"protocol" doc:"Only sessions over this protocol" enum:"rtsp,rtsps,webrtc,rtmp,srt,"`
	Path        string `query:"path" doc:"Only sessions for this stream path"`
	ViewersOnly bool   `query:"viewers_only" doc:"Only sessions consuming media"`
	Offset      int    `query:"offset" minimum:"0" doc:"Pagination offset"`
	Limit       int    `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Page size"`
}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body sessions.ListResult
}

// List returns one page of the aggregated session view.
func (h *SessionHandler) List(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	result, err := h.aggregator.List(ctx, sessions.Filter{
		Node:        input.Node,
		Protocol:    models.Protocol(input.Protocol),
		Path:        input.Path,
		ViewersOnly: input.ViewersOnly,
		Offset:      input.Offset,
		Limit:       input.Limit,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list sessions", err)
	}
	return &ListSessionsOutput{Body: *result}, nil
}

// SessionSummaryInput is the input for the session summary.
type SessionSummaryInput struct{}

// SessionSummaryOutput is the output for the session summary.
type SessionSummaryOutput struct {
	Body sessions.Summary
}

// Summary returns fleet-wide session counts.
func (h *SessionHandler) Summary(ctx context.Context, input *SessionSummaryInput) (*SessionSummaryOutput, error) {
	summary, err := h.aggregator.Summarize(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to summarize sessions", err)
	}
	return &SessionSummaryOutput{Body: *summary}, nil
}

// KickSessionInput is the input for kicking a session.
type KickSessionInput struct {
	Body struct {
		NodeID    string `json:"node_id" doc:"Node the session lives on (ULID)"`
		Protocol  string `json:"protocol" doc:"Session protocol" enum:"rtsp,rtsps,webrtc,rtmp,srt"`
		SessionID string `json:"session_id" doc:"Session ID as reported by the node"`
	}
}

// KickSessionOutput is the output for kicking a session.
type KickSessionOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Kick disconnects one session.
func (h *SessionHandler) Kick(ctx context.Context, input *KickSessionInput) (*KickSessionOutput, error) {
	nodeID, err := models.ParseULID(input.Body.NodeID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid node_id format", err)
	}

	err = h.aggregator.Kick(ctx, nodeID, models.Protocol(input.Body.Protocol), input.Body.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrNodeNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("node %s not found", input.Body.NodeID))
		}
		return nil, huma.Error500InternalServerError("failed to kick session", err)
	}

	resp := &KickSessionOutput{}
	resp.Body.Message = fmt.Sprintf("session %s kicked", input.Body.SessionID)
	return resp, nil
}
