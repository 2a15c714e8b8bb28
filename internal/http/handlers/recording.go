package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
	"github.com/dan246/mtx-toolkit/internal/retention"
)

// RecordingHandler handles recording API endpoints.
type RecordingHandler struct {
	store     *repository.Store
	archiver  *retention.Archiver
	scheduler JobScheduler
}

// NewRecordingHandler creates a new recording handler.
func NewRecordingHandler(store *repository.Store, archiver *retention.Archiver, scheduler JobScheduler) *RecordingHandler {
	return &RecordingHandler{store: store, archiver: archiver, scheduler: scheduler}
}

// Register registers the recording routes with the API.
func (h *RecordingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/v1/recordings",
		Summary:     "List recordings",
		Description: "Returns one page of recording records, newest first",
		Tags:        []string{"Recordings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Get recording",
		Description: "Returns a recording by ID",
		Tags:        []string{"Recordings"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "archiveRecording",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/archive",
		Summary:     "Archive recording",
		Description: "Moves one recording's file into the archive tree immediately",
		Tags:        []string{"Recordings"},
	}, h.Archive)

	huma.Register(api, huma.Operation{
		OperationID: "triggerRetentionCleanup",
		Method:      "POST",
		Path:        "/api/v1/recordings/cleanup",
		Summary:     "Trigger retention cleanup",
		Description: "Queues an immediate disk scan and retention cleanup pass",
		Tags:        []string{"Recordings"},
	}, h.TriggerCleanup)

	huma.Register(api, huma.Operation{
		OperationID: "triggerArchiveSweep",
		Method:      "POST",
		Path:        "/api/v1/recordings/archive-sweep",
		Summary:     "Trigger archive sweep",
		Description: "Queues an immediate archival pass over old event recordings",
		Tags:        []string{"Recordings"},
	}, h.TriggerArchiveSweep)
}

// RegisterMedia registers the raw media routes on the router. These bypass
// Huma so range requests and large bodies go straight through net/http.
func (h *RecordingHandler) RegisterMedia(r chi.Router) {
	r.Get("/api/v1/recordings/{id}/play", h.serveMedia(false))
	r.Get("/api/v1/recordings/{id}/download", h.serveMedia(true))
}

// ListRecordingsInput is the input for listing recordings.
type ListRecordingsInput struct {
	StreamID    string `query:"stream_id" doc:"Only recordings for this stream"`
	SegmentType string `query:"segment_type" doc:"Only recordings of this segment type" enum:"continuous,event,manual,"`
	Archived    string `query:"archived" doc:"Filter by archive state" enum:"true,false,"`
	Since       string `query:"since" doc:"Only recordings starting at or after this RFC 3339 time"`
	Until       string `query:"until" doc:"Only recordings starting before this RFC 3339 time"`
	Offset      int    `query:"offset" minimum:"0" doc:"Pagination offset"`
	Limit       int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

// ListRecordingsOutput is the output for listing recordings.
type ListRecordingsOutput struct {
	Body struct {
		Recordings []RecordingResponse `json:"recordings"`
		Total      int64               `json:"total"`
	}
}

// List returns one page of recording records.
func (h *RecordingHandler) List(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	filter := repository.RecordingFilter{
		Offset: input.Offset,
		Limit:  input.Limit,
	}

	if input.SegmentType != "" {
		segmentType := models.SegmentType(input.SegmentType)
		filter.SegmentType = &segmentType
	}
	if input.StreamID != "" {
		streamID, err := models.ParseULID(input.StreamID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid stream_id format", err)
		}
		filter.StreamID = &streamID
	}
	if input.Archived != "" {
		archived := input.Archived == "true"
		filter.Archived = &archived
	}
	if input.Since != "" {
		since, err := time.Parse(time.RFC3339, input.Since)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid since timestamp", err)
		}
		filter.Since = &since
	}
	if input.Until != "" {
		until, err := time.Parse(time.RFC3339, input.Until)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid until timestamp", err)
		}
		filter.Until = &until
	}

	recordings, total, err := h.store.Recordings.List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list recordings", err)
	}

	resp := &ListRecordingsOutput{}
	resp.Body.Total = total
	resp.Body.Recordings = make([]RecordingResponse, 0, len(recordings))
	for _, rec := range recordings {
		resp.Body.Recordings = append(resp.Body.Recordings, RecordingFromModel(rec))
	}
	return resp, nil
}

// GetRecordingInput is the input for getting a recording.
type GetRecordingInput struct {
	ID string `path:"id" doc:"Recording ID (ULID)"`
}

// GetRecordingOutput is the output for getting a recording.
type GetRecordingOutput struct {
	Body RecordingResponse
}

// GetByID returns a recording by ID.
func (h *RecordingHandler) GetByID(ctx context.Context, input *GetRecordingInput) (*GetRecordingOutput, error) {
	rec, err := h.loadRecording(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetRecordingOutput{Body: RecordingFromModel(rec)}, nil
}

// ArchiveRecordingInput is the input for archiving a recording.
type ArchiveRecordingInput struct {
	ID string `path:"id" doc:"Recording ID (ULID)"`
}

// ArchiveRecordingOutput is the output for archiving a recording.
type ArchiveRecordingOutput struct {
	Body RecordingResponse
}

// Archive moves one recording's file into the archive tree.
func (h *RecordingHandler) Archive(ctx context.Context, input *ArchiveRecordingInput) (*ArchiveRecordingOutput, error) {
	rec, err := h.loadRecording(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if rec.Archived() {
		return nil, huma.Error409Conflict("recording is already archived")
	}

	if err := h.archiver.Archive(ctx, rec); err != nil {
		return nil, huma.Error500InternalServerError("failed to archive recording", err)
	}
	return &ArchiveRecordingOutput{Body: RecordingFromModel(rec)}, nil
}

// TriggerCleanupRequest is the request body for triggering retention cleanup.
type TriggerCleanupRequest struct {
	ForceRescan bool `json:"force_rescan,omitempty" doc:"Rescan files already on record"`
	DryRun      bool `json:"dry_run,omitempty" doc:"Report victims without deleting anything"`
}

// TriggerCleanupInput is the input for triggering retention cleanup.
type TriggerCleanupInput struct {
	Body TriggerCleanupRequest
}

// TriggerCleanupOutput is the output for triggering retention cleanup.
type TriggerCleanupOutput struct {
	Body JobQueuedResponse
}

// TriggerCleanup queues an immediate retention cleanup job.
func (h *RecordingHandler) TriggerCleanup(ctx context.Context, input *TriggerCleanupInput) (*TriggerCleanupOutput, error) {
	payload, err := json.Marshal(map[string]any{
		"force_rescan": input.Body.ForceRescan,
		"dry_run":      input.Body.DryRun,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to encode payload", err)
	}

	job, err := h.scheduler.ScheduleImmediateWithPayload(ctx,
		models.JobTypeRetentionCleanup, models.ULID{}, "recordings", string(payload))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to queue cleanup", err)
	}

	return &TriggerCleanupOutput{Body: JobQueuedResponse{
		JobID:   job.ID.String(),
		Message: "retention cleanup queued",
	}}, nil
}

// TriggerArchiveSweepInput is the input for triggering an archive sweep.
type TriggerArchiveSweepInput struct{}

// TriggerArchiveSweepOutput is the output for triggering an archive sweep.
type TriggerArchiveSweepOutput struct {
	Body JobQueuedResponse
}

// TriggerArchiveSweep queues an immediate archive sweep job.
func (h *RecordingHandler) TriggerArchiveSweep(ctx context.Context, input *TriggerArchiveSweepInput) (*TriggerArchiveSweepOutput, error) {
	job, err := h.scheduler.ScheduleImmediate(ctx, models.JobTypeArchiveSweep, models.ULID{}, "recordings")
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to queue archive sweep", err)
	}

	return &TriggerArchiveSweepOutput{Body: JobQueuedResponse{
		JobID:   job.ID.String(),
		Message: "archive sweep queued",
	}}, nil
}

// serveMedia returns a raw handler that streams a recording's file.
// http.ServeFile handles range requests, which players rely on for seeking.
func (h *RecordingHandler) serveMedia(download bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := models.ParseULID(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid ID format", http.StatusBadRequest)
			return
		}

		rec, err := h.store.Recordings.GetByID(r.Context(), id)
		if err != nil {
			http.Error(w, "failed to get recording", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "recording not found", http.StatusNotFound)
			return
		}

		source := retention.MediaSource(rec)
		if _, err := os.Stat(source); err != nil {
			http.Error(w, "recording file unavailable", http.StatusGone)
			return
		}

		if strings.EqualFold(filepath.Ext(source), ".ts") {
			w.Header().Set("Content-Type", "video/mp2t")
		}
		if download {
			w.Header().Set("Content-Disposition",
				fmt.Sprintf("attachment; filename=%q", filepath.Base(source)))
		}
		http.ServeFile(w, r, source)
	}
}

// loadRecording resolves a path ID to a recording or an appropriate API error.
func (h *RecordingHandler) loadRecording(ctx context.Context, rawID string) (*models.Recording, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	rec, err := h.store.Recordings.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get recording", err)
	}
	if rec == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", rawID))
	}
	return rec, nil
}
