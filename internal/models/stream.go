package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Protocol identifies the transport a stream is ingested over.
type Protocol string

const (
	ProtocolRTSP    Protocol = "rtsp"
	ProtocolRTSPS   Protocol = "rtsps"
	ProtocolWebRTC  Protocol = "webrtc"
	ProtocolRTMP    Protocol = "rtmp"
	ProtocolSRT     Protocol = "srt"
	ProtocolHLS     Protocol = "hls"
	ProtocolUnknown Protocol = "unknown"
)

// SessionProtocols are the protocols a relay node exposes session listings for.
var SessionProtocols = []Protocol{
	ProtocolRTSP,
	ProtocolRTSPS,
	ProtocolWebRTC,
	ProtocolRTMP,
	ProtocolSRT,
}

// DetectProtocol maps a relay source type (e.g. "rtspSource", "rtmpConn")
// to a Protocol tag.
func DetectProtocol(sourceType string) Protocol {
	st := strings.ToLower(sourceType)
	switch {
	case strings.HasPrefix(st, "rtsps"):
		return ProtocolRTSPS
	case strings.HasPrefix(st, "rtsp"):
		return ProtocolRTSP
	case strings.HasPrefix(st, "rtmp"):
		return ProtocolRTMP
	case strings.HasPrefix(st, "webrtc"):
		return ProtocolWebRTC
	case strings.HasPrefix(st, "srt"):
		return ProtocolSRT
	case strings.HasPrefix(st, "hls"):
		return ProtocolHLS
	default:
		return ProtocolUnknown
	}
}

// StreamStatus is the health classification of a stream.
type StreamStatus string

const (
	// StreamStatusHealthy indicates the stream is ready and flowing.
	StreamStatusHealthy StreamStatus = "healthy"
	// StreamStatusDegraded indicates the stream is connecting, on-demand,
	// or flowing with quality issues.
	StreamStatusDegraded StreamStatus = "degraded"
	// StreamStatusUnhealthy indicates the stream is down or unusable.
	StreamStatusUnhealthy StreamStatus = "unhealthy"
	// StreamStatusUnknown indicates the stream has not been classified yet.
	StreamStatusUnknown StreamStatus = "unknown"
)

// Stream is the control plane's record of a relay path, with status and metrics.
type Stream struct {
	BaseModel

	// NodeID is the owning node. (NodeID, Path) is unique.
	NodeID ULID  `gorm:"not null;type:varchar(26);uniqueIndex:idx_streams_node_path;index" json:"node_id"`
	Node   *Node `gorm:"foreignKey:NodeID;constraint:OnDelete:CASCADE" json:"node,omitempty"`

	// Path is the relay's identifier for this stream endpoint.
	Path string `gorm:"not null;size:255;uniqueIndex:idx_streams_node_path" json:"path"`

	// SourceURL is the upstream source the relay pulls from, when known.
	SourceURL string `gorm:"size:1024" json:"source_url,omitempty"`

	// Protocol is detected from the relay's reported source type.
	Protocol Protocol `gorm:"size:20;default:'unknown'" json:"protocol"`

	// Status is the current health classification.
	Status StreamStatus `gorm:"size:20;default:'unknown';index" json:"status"`

	// LastCheck is when the health classifier last looked at this stream.
	LastCheck *Time `json:"last_check,omitempty"`

	// Last observed media metrics, set by the deep probe.
	FPS               *float64 `json:"fps,omitempty"`
	BitrateKbps       *float64 `json:"bitrate_kbps,omitempty"`
	LatencyMs         *float64 `json:"latency_ms,omitempty"`
	KeyframeIntervalS *float64 `json:"keyframe_interval_s,omitempty"`

	// AutoRemediate gates the remediation engine for this stream.
	AutoRemediate *bool `gorm:"default:true" json:"auto_remediate"`

	// RemediationCount is the number of completed remediation runs.
	RemediationCount int `gorm:"default:0" json:"remediation_count"`

	// LastRemediation is when the last remediation run started.
	LastRemediation *Time `json:"last_remediation,omitempty"`

	// RecordingEnabled marks streams whose recordings the retention
	// engine manages.
	RecordingEnabled *bool `gorm:"default:false" json:"recording_enabled"`

	// Events and Recordings owned by this stream. Deleting the stream
	// cascades to both.
	Events     []StreamEvent `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE" json:"events,omitempty"`
	Recordings []Recording   `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE" json:"recordings,omitempty"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// ShouldAutoRemediate reports whether automatic remediation is enabled
// and the cooldown since the last run has elapsed.
func (s *Stream) ShouldAutoRemediate(now time.Time, cooldown time.Duration) bool {
	if !BoolVal(s.AutoRemediate) {
		return false
	}
	if s.LastRemediation != nil && now.Sub(*s.LastRemediation) < cooldown {
		return false
	}
	return true
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	if s.NodeID.IsZero() {
		return ErrNodeIDRequired
	}
	if s.Path == "" {
		return ErrPathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stream and generates a ULID.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the stream before update.
func (s *Stream) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
