package handlers

import (
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/retention"
)

// JobQueuedResponse acknowledges a queued background job.
type JobQueuedResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// NodeResponse is the API representation of a relay node.
type NodeResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	APIURL      string     `json:"api_url"`
	MediaURL    string     `json:"media_url,omitempty"`
	Environment string     `json:"environment"`
	IsActive    bool       `json:"is_active"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	Metadata    string     `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NodeFromModel converts a node model to its API representation.
func NodeFromModel(n *models.Node) NodeResponse {
	return NodeResponse{
		ID:          n.ID.String(),
		Name:        n.Name,
		APIURL:      n.APIURL,
		MediaURL:    n.MediaURL,
		Environment: n.Environment,
		IsActive:    n.Active(),
		LastSeen:    n.LastSeen,
		Metadata:    n.Metadata,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

// CreateNodeRequest is the request body for registering a node.
type CreateNodeRequest struct {
	Name        string `json:"name" doc:"Unique node name"`
	APIURL      string `json:"api_url" doc:"Base URL of the node's control API"`
	MediaURL    string `json:"media_url,omitempty" doc:"Optional media base URL used for probing"`
	Environment string `json:"environment,omitempty" doc:"Deployment environment label" default:"production"`
	IsActive    *bool  `json:"is_active,omitempty" doc:"Whether the node participates in scheduling"`
	Metadata    string `json:"metadata,omitempty" doc:"Opaque JSON blob for operator use"`
}

// ToModel converts the request to a node model.
func (r *CreateNodeRequest) ToModel() *models.Node {
	env := r.Environment
	if env == "" {
		env = "production"
	}
	active := r.IsActive
	if active == nil {
		active = models.BoolPtr(true)
	}
	return &models.Node{
		Name:        r.Name,
		APIURL:      r.APIURL,
		MediaURL:    r.MediaURL,
		Environment: env,
		IsActive:    active,
		Metadata:    r.Metadata,
	}
}

// UpdateNodeRequest is the request body for updating a node. Nil fields are
// left unchanged.
type UpdateNodeRequest struct {
	Name        *string `json:"name,omitempty"`
	APIURL      *string `json:"api_url,omitempty"`
	MediaURL    *string `json:"media_url,omitempty"`
	Environment *string `json:"environment,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	Metadata    *string `json:"metadata,omitempty"`
}

// ApplyToModel applies non-nil fields onto the node model.
func (r *UpdateNodeRequest) ApplyToModel(n *models.Node) {
	if r.Name != nil {
		n.Name = *r.Name
	}
	if r.APIURL != nil {
		n.APIURL = *r.APIURL
	}
	if r.MediaURL != nil {
		n.MediaURL = *r.MediaURL
	}
	if r.Environment != nil {
		n.Environment = *r.Environment
	}
	if r.IsActive != nil {
		n.IsActive = r.IsActive
	}
	if r.Metadata != nil {
		n.Metadata = *r.Metadata
	}
}

// StreamResponse is the API representation of a stream.
type StreamResponse struct {
	ID                string     `json:"id"`
	NodeID            string     `json:"node_id"`
	Path              string     `json:"path"`
	SourceURL         string     `json:"source_url,omitempty"`
	Protocol          string     `json:"protocol"`
	Status            string     `json:"status"`
	LastCheck         *time.Time `json:"last_check,omitempty"`
	FPS               *float64   `json:"fps,omitempty"`
	BitrateKbps       *float64   `json:"bitrate_kbps,omitempty"`
	LatencyMs         *float64   `json:"latency_ms,omitempty"`
	KeyframeIntervalS *float64   `json:"keyframe_interval_s,omitempty"`
	AutoRemediate     bool       `json:"auto_remediate"`
	RemediationCount  int        `json:"remediation_count"`
	LastRemediation   *time.Time `json:"last_remediation,omitempty"`
	RecordingEnabled  bool       `json:"recording_enabled"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// StreamFromModel converts a stream model to its API representation.
func StreamFromModel(s *models.Stream) StreamResponse {
	return StreamResponse{
		ID:                s.ID.String(),
		NodeID:            s.NodeID.String(),
		Path:              s.Path,
		SourceURL:         s.SourceURL,
		Protocol:          string(s.Protocol),
		Status:            string(s.Status),
		LastCheck:         s.LastCheck,
		FPS:               s.FPS,
		BitrateKbps:       s.BitrateKbps,
		LatencyMs:         s.LatencyMs,
		KeyframeIntervalS: s.KeyframeIntervalS,
		AutoRemediate:     models.BoolVal(s.AutoRemediate),
		RemediationCount:  s.RemediationCount,
		LastRemediation:   s.LastRemediation,
		RecordingEnabled:  s.RecordingEnabled != nil && *s.RecordingEnabled,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// UpdateStreamRequest is the request body for updating stream flags.
type UpdateStreamRequest struct {
	SourceURL        *string `json:"source_url,omitempty"`
	AutoRemediate    *bool   `json:"auto_remediate,omitempty"`
	RecordingEnabled *bool   `json:"recording_enabled,omitempty"`
}

// ApplyToModel applies non-nil fields onto the stream model.
func (r *UpdateStreamRequest) ApplyToModel(s *models.Stream) {
	if r.SourceURL != nil {
		s.SourceURL = *r.SourceURL
	}
	if r.AutoRemediate != nil {
		s.AutoRemediate = r.AutoRemediate
	}
	if r.RecordingEnabled != nil {
		s.RecordingEnabled = r.RecordingEnabled
	}
}

// EventResponse is the API representation of a stream event.
type EventResponse struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"stream_id"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// EventFromModel converts an event model to its API representation.
func EventFromModel(e *models.StreamEvent) EventResponse {
	return EventResponse{
		ID:        e.ID.String(),
		StreamID:  e.StreamID.String(),
		Type:      string(e.Type),
		Severity:  string(e.Severity),
		Message:   e.Message,
		Detail:    e.Detail,
		Resolved:  e.Resolved != nil && *e.Resolved,
		CreatedAt: e.CreatedAt,
	}
}

// RecordingResponse is the API representation of a recording segment.
type RecordingResponse struct {
	ID            string     `json:"id"`
	StreamID      string     `json:"stream_id"`
	FilePath      string     `json:"file_path"`
	FileSizeBytes int64      `json:"file_size_bytes"`
	DurationS     *float64   `json:"duration_s,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	SegmentType   string     `json:"segment_type"`
	RetentionDays int        `json:"retention_days"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	IsArchived    bool       `json:"is_archived"`
	ArchivePath   string     `json:"archive_path,omitempty"`
	PlaybackURL   string     `json:"playback_url"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RecordingFromModel converts a recording model to its API representation.
func RecordingFromModel(r *models.Recording) RecordingResponse {
	return RecordingResponse{
		ID:            r.ID.String(),
		StreamID:      r.StreamID.String(),
		FilePath:      r.FilePath,
		FileSizeBytes: r.FileSizeBytes,
		DurationS:     r.DurationS,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		SegmentType:   string(r.SegmentType),
		RetentionDays: r.RetentionDays,
		ExpiresAt:     r.ExpiresAt,
		IsArchived:    r.Archived(),
		ArchivePath:   r.ArchivePath,
		PlaybackURL:   retention.PlaybackPath(r),
		CreatedAt:     r.CreatedAt,
	}
}

// SnapshotResponse is the API representation of a config snapshot. The
// document body is omitted from listings; use the export endpoint.
type SnapshotResponse struct {
	ID           string     `json:"id"`
	NodeID       string     `json:"node_id,omitempty"`
	Hash         string     `json:"hash"`
	Environment  string     `json:"environment,omitempty"`
	Applied      bool       `json:"applied"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
	AppliedBy    string     `json:"applied_by,omitempty"`
	RollbackOfID string     `json:"rollback_of_id,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SnapshotFromModel converts a snapshot model to its API representation.
func SnapshotFromModel(s *models.ConfigSnapshot) SnapshotResponse {
	resp := SnapshotResponse{
		ID:          s.ID.String(),
		Hash:        s.Hash,
		Environment: s.Environment,
		Applied:     s.Applied != nil && *s.Applied,
		AppliedAt:   s.AppliedAt,
		AppliedBy:   s.AppliedBy,
		Notes:       s.Notes,
		CreatedAt:   s.CreatedAt,
	}
	if s.NodeID != nil {
		resp.NodeID = s.NodeID.String()
	}
	if s.RollbackOfID != nil {
		resp.RollbackOfID = s.RollbackOfID.String()
	}
	return resp
}

// BlockEntryResponse is the API representation of an IP block entry.
type BlockEntryResponse struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"`
	PathPattern string     `json:"path_pattern,omitempty"`
	NodeID      string     `json:"node_id,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	IsPermanent bool       `json:"is_permanent"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// BlockEntryFromModel converts a block entry model to its API representation.
func BlockEntryFromModel(e *models.IPBlockEntry) BlockEntryResponse {
	resp := BlockEntryResponse{
		ID:          e.ID.String(),
		Address:     e.Address,
		PathPattern: e.PathPattern,
		Reason:      e.Reason,
		IsPermanent: e.Permanent(),
		ExpiresAt:   e.ExpiresAt,
		IsActive:    e.Active(),
		CreatedAt:   e.CreatedAt,
	}
	if e.NodeID != nil {
		resp.NodeID = e.NodeID.String()
	}
	return resp
}

// JobResponse is the API representation of a background job.
type JobResponse struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	TargetID     string     `json:"target_id,omitempty"`
	TargetName   string     `json:"target_name,omitempty"`
	Status       string     `json:"status"`
	CronSchedule string     `json:"cron_schedule,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	LastError    string     `json:"last_error,omitempty"`
	Result       string     `json:"result,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// JobFromModel converts a job model to its API representation.
func JobFromModel(j *models.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID.String(),
		Type:         string(j.Type),
		TargetName:   j.TargetName,
		Status:       string(j.Status),
		CronSchedule: j.CronSchedule,
		NextRunAt:    j.NextRunAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		DurationMs:   j.DurationMs,
		AttemptCount: j.AttemptCount,
		LastError:    j.LastError,
		Result:       j.Result,
		CreatedAt:    j.CreatedAt,
	}
	if !j.TargetID.IsZero() {
		resp.TargetID = j.TargetID.String()
	}
	return resp
}

// JobHistoryResponse is the API representation of one job execution record.
type JobHistoryResponse struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	Type          string     `json:"type"`
	TargetName    string     `json:"target_name,omitempty"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    int64      `json:"duration_ms,omitempty"`
	AttemptNumber int        `json:"attempt_number"`
	Error         string     `json:"error,omitempty"`
	Result        string     `json:"result,omitempty"`
}

// JobHistoryFromModel converts a history record to its API representation.
func JobHistoryFromModel(h *models.JobHistory) JobHistoryResponse {
	return JobHistoryResponse{
		ID:            h.ID.String(),
		JobID:         h.JobID.String(),
		Type:          string(h.Type),
		TargetName:    h.TargetName,
		Status:        string(h.Status),
		StartedAt:     h.StartedAt,
		CompletedAt:   h.CompletedAt,
		DurationMs:    h.DurationMs,
		AttemptNumber: h.AttemptNumber,
		Error:         h.Error,
		Result:        h.Result,
	}
}
