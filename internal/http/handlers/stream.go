package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// StreamHandler handles stream API endpoints.
type StreamHandler struct {
	store     *repository.Store
	scheduler JobScheduler
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(store *repository.Store, scheduler JobScheduler) *StreamHandler {
	return &StreamHandler{store: store, scheduler: scheduler}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/v1/streams",
		Summary:     "List streams",
		Description: "Returns streams, optionally filtered by node or status",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Get stream",
		Description: "Returns a stream by ID",
		Tags:        []string{"Streams"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PATCH",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Update stream flags",
		Description: "Updates operator-controlled stream settings",
		Tags:        []string{"Streams"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "listStreamEvents",
		Method:      "GET",
		Path:        "/api/v1/streams/{id}/events",
		Summary:     "List stream events",
		Description: "Returns the event history for one stream, newest first",
		Tags:        []string{"Streams"},
	}, h.ListEvents)

	huma.Register(api, huma.Operation{
		OperationID: "remediateStream",
		Method:      "POST",
		Path:        "/api/v1/streams/{id}/remediate",
		Summary:     "Trigger remediation",
		Description: "Queues an immediate remediation run for one stream",
		Tags:        []string{"Streams"},
	}, h.Remediate)

	huma.Register(api, huma.Operation{
		OperationID: "listRecentEvents",
		Method:      "GET",
		Path:        "/api/v1/events",
		Summary:     "List recent events",
		Description: "Returns the most recent events across all streams",
		Tags:        []string{"Streams"},
	}, h.ListRecentEvents)

	huma.Register(api, huma.Operation{
		OperationID: "resolveEvent",
		Method:      "POST",
		Path:        "/api/v1/events/{id}/resolve",
		Summary:     "Resolve event",
		Description: "Marks an event as resolved",
		Tags:        []string{"Streams"},
	}, h.ResolveEvent)
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct {
	NodeID string `query:"node_id" doc:"Only streams on this node"`
	Status string `query:"status" doc:"Only streams with this health status" enum:"healthy,degraded,unhealthy,unknown,"`
}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Streams []StreamResponse `json:"streams"`
	}
}

// List returns streams matching the filters.
func (h *StreamHandler) List(ctx context.Context, input *ListStreamsInput) (*ListStreamsOutput, error) {
	var (
		streams []*models.Stream
		err     error
	)
	switch {
	case input.NodeID != "":
		nodeID, parseErr := models.ParseULID(input.NodeID)
		if parseErr != nil {
			return nil, huma.Error400BadRequest("invalid node_id format", parseErr)
		}
		streams, err = h.store.Streams.ListByNode(ctx, nodeID)
	case input.Status != "":
		streams, err = h.store.Streams.ListByStatus(ctx, models.StreamStatus(input.Status))
	default:
		streams, err = h.store.Streams.List(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list streams", err)
	}

	resp := &ListStreamsOutput{}
	resp.Body.Streams = make([]StreamResponse, 0, len(streams))
	for _, s := range streams {
		resp.Body.Streams = append(resp.Body.Streams, StreamFromModel(s))
	}
	return resp, nil
}

// GetStreamInput is the input for getting a stream.
type GetStreamInput struct {
	ID string `path:"id" doc:"Stream ID (ULID)"`
}

// GetStreamOutput is the output for getting a stream.
type GetStreamOutput struct {
	Body StreamResponse
}

// GetByID returns a stream by ID.
func (h *StreamHandler) GetByID(ctx context.Context, input *GetStreamInput) (*GetStreamOutput, error) {
	stream, err := h.loadStream(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetStreamOutput{Body: StreamFromModel(stream)}, nil
}

// UpdateStreamInput is the input for updating stream flags.
type UpdateStreamInput struct {
	ID   string `path:"id" doc:"Stream ID (ULID)"`
	Body UpdateStreamRequest
}

// UpdateStreamOutput is the output for updating stream flags.
type UpdateStreamOutput struct {
	Body StreamResponse
}

// Update applies operator-controlled settings to a stream.
func (h *StreamHandler) Update(ctx context.Context, input *UpdateStreamInput) (*UpdateStreamOutput, error) {
	stream, err := h.loadStream(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	input.Body.ApplyToModel(stream)

	if err := h.store.Streams.Update(ctx, stream); err != nil {
		return nil, huma.Error500InternalServerError("failed to update stream", err)
	}
	return &UpdateStreamOutput{Body: StreamFromModel(stream)}, nil
}

// ListStreamEventsInput is the input for listing a stream's events.
type ListStreamEventsInput struct {
	ID     string `path:"id" doc:"Stream ID (ULID)"`
	Offset int    `query:"offset" minimum:"0" doc:"Pagination offset"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

// ListStreamEventsOutput is the output for listing a stream's events.
type ListStreamEventsOutput struct {
	Body struct {
		Events []EventResponse `json:"events"`
		Total  int64           `json:"total"`
	}
}

// ListEvents returns one page of a stream's event history.
func (h *StreamHandler) ListEvents(ctx context.Context, input *ListStreamEventsInput) (*ListStreamEventsOutput, error) {
	stream, err := h.loadStream(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	events, total, err := h.store.Events.ListByStream(ctx, stream.ID, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list events", err)
	}

	resp := &ListStreamEventsOutput{}
	resp.Body.Total = total
	resp.Body.Events = make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp.Body.Events = append(resp.Body.Events, EventFromModel(e))
	}
	return resp, nil
}

// RemediateRequest is the request body for triggering a remediation.
type RemediateRequest struct {
	Reason string `json:"reason,omitempty" doc:"Recorded on the remediation events"`
	Force  bool   `json:"force,omitempty" doc:"Bypass the auto-remediate flag, cooldown and circuit breaker"`
}

// RemediateStreamInput is the input for triggering a remediation.
type RemediateStreamInput struct {
	ID   string `path:"id" doc:"Stream ID (ULID)"`
	Body RemediateRequest
}

// RemediateStreamOutput is the output for triggering a remediation.
type RemediateStreamOutput struct {
	Body JobQueuedResponse
}

// Remediate queues an immediate remediation job for one stream.
func (h *StreamHandler) Remediate(ctx context.Context, input *RemediateStreamInput) (*RemediateStreamOutput, error) {
	stream, err := h.loadStream(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"reason": input.Body.Reason,
		"force":  input.Body.Force,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to encode payload", err)
	}

	job, err := h.scheduler.ScheduleImmediateWithPayload(ctx,
		models.JobTypeRemediation, stream.ID, stream.Path, string(payload))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to queue remediation", err)
	}

	return &RemediateStreamOutput{Body: JobQueuedResponse{
		JobID:   job.ID.String(),
		Message: fmt.Sprintf("remediation queued for stream %s", stream.Path),
	}}, nil
}

// ListRecentEventsInput is the input for listing recent events.
type ListRecentEventsInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"500" default:"100" doc:"Maximum events to return"`
}

// ListRecentEventsOutput is the output for listing recent events.
type ListRecentEventsOutput struct {
	Body struct {
		Events []EventResponse `json:"events"`
	}
}

// ListRecentEvents returns the newest events across the fleet.
func (h *StreamHandler) ListRecentEvents(ctx context.Context, input *ListRecentEventsInput) (*ListRecentEventsOutput, error) {
	events, err := h.store.Events.ListRecent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list events", err)
	}

	resp := &ListRecentEventsOutput{}
	resp.Body.Events = make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp.Body.Events = append(resp.Body.Events, EventFromModel(e))
	}
	return resp, nil
}

// ResolveEventInput is the input for resolving an event.
type ResolveEventInput struct {
	ID string `path:"id" doc:"Event ID (ULID)"`
}

// ResolveEventOutput is the output for resolving an event.
type ResolveEventOutput struct {
	Body EventResponse
}

// ResolveEvent marks an event resolved.
func (h *StreamHandler) ResolveEvent(ctx context.Context, input *ResolveEventInput) (*ResolveEventOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	event, err := h.store.Events.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get event", err)
	}
	if event == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("event %s not found", input.ID))
	}

	if err := h.store.Events.Resolve(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to resolve event", err)
	}
	event.Resolved = models.BoolPtr(true)

	return &ResolveEventOutput{Body: EventFromModel(event)}, nil
}

// loadStream resolves a path ID to a stream or an appropriate API error.
func (h *StreamHandler) loadStream(ctx context.Context, rawID string) (*models.Stream, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	stream, err := h.store.Streams.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stream", err)
	}
	if stream == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %s not found", rawID))
	}
	return stream, nil
}
