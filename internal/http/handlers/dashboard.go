package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/dan246/mtx-toolkit/internal/repository"
	"github.com/dan246/mtx-toolkit/internal/sessions"
)

// DashboardHandler serves the fleet overview endpoint.
type DashboardHandler struct {
	store         *repository.Store
	aggregator    *sessions.Aggregator
	recordingRoot string
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(store *repository.Store, aggregator *sessions.Aggregator) *DashboardHandler {
	return &DashboardHandler{store: store, aggregator: aggregator}
}

// WithRecordingRoot enables recording volume usage in the overview.
func (h *DashboardHandler) WithRecordingRoot(root string) *DashboardHandler {
	h.recordingRoot = root
	return h
}

// Register registers the dashboard route with the API.
func (h *DashboardHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getDashboard",
		Method:      "GET",
		Path:        "/api/v1/dashboard",
		Summary:     "Fleet overview",
		Description: "Returns fleet-wide counts for the operator dashboard",
		Tags:        []string{"System"},
	}, h.Get)
}

// DashboardInput is the input for the fleet overview.
type DashboardInput struct{}

// DashboardOutput is the output for the fleet overview.
type DashboardOutput struct {
	Body DashboardResponse
}

// DashboardResponse is the fleet overview payload.
type DashboardResponse struct {
	Nodes         NodeCounts        `json:"nodes"`
	Streams       map[string]int64  `json:"streams"`
	RecentEvents  []EventResponse   `json:"recent_events"`
	ActiveBlocks  int               `json:"active_blocks"`
	Sessions      *sessions.Summary `json:"sessions,omitempty"`
	SessionsError string            `json:"sessions_error,omitempty"`
	Disk          *DiskStatus       `json:"disk,omitempty"`
}

// NodeCounts holds node totals.
type NodeCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// DiskStatus reports usage of the recording volume.
type DiskStatus struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Get builds the fleet overview. Session counts come from live node queries,
// so their failure degrades the response instead of failing it.
func (h *DashboardHandler) Get(ctx context.Context, input *DashboardInput) (*DashboardOutput, error) {
	nodes, err := h.store.Nodes.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list nodes", err)
	}
	active := 0
	for _, n := range nodes {
		if n.Active() {
			active++
		}
	}

	statusCounts, err := h.store.Streams.CountByStatus(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count streams", err)
	}
	streams := make(map[string]int64, len(statusCounts))
	for status, count := range statusCounts {
		streams[string(status)] = count
	}

	recent, err := h.store.Events.ListRecent(ctx, 20)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list events", err)
	}
	events := make([]EventResponse, 0, len(recent))
	for _, e := range recent {
		if e.Resolved != nil && *e.Resolved {
			continue
		}
		events = append(events, EventFromModel(e))
	}

	blocks, err := h.store.Blocklist.ListActive(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list block entries", err)
	}

	resp := &DashboardOutput{}
	resp.Body = DashboardResponse{
		Nodes:        NodeCounts{Total: len(nodes), Active: active},
		Streams:      streams,
		RecentEvents: events,
		ActiveBlocks: len(blocks),
	}

	if h.aggregator != nil {
		summary, err := h.aggregator.Summarize(ctx)
		if err != nil {
			resp.Body.SessionsError = err.Error()
		} else {
			resp.Body.Sessions = summary
		}
	}

	// Best effort; a missing recording mount should not break the overview.
	if h.recordingRoot != "" {
		if usage, err := disk.UsageWithContext(ctx, h.recordingRoot); err == nil {
			resp.Body.Disk = &DiskStatus{
				Path:        h.recordingRoot,
				TotalBytes:  usage.Total,
				FreeBytes:   usage.Free,
				UsedPercent: usage.UsedPercent,
			}
		}
	}

	return resp, nil
}
