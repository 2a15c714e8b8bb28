package models

import "gorm.io/gorm"

// EventType classifies a stream event.
type EventType string

const (
	EventDisconnected       EventType = "disconnected"
	EventReconnected        EventType = "reconnected"
	EventBlackScreen        EventType = "black_screen"
	EventFrozen             EventType = "frozen"
	EventAudioSilent        EventType = "audio_silent"
	EventFPSDrop            EventType = "fps_drop"
	EventKeyframeIssue      EventType = "keyframe_issue"
	EventHighLatency        EventType = "high_latency"
	EventRemediationStarted EventType = "remediation_started"
	EventRemediationSuccess EventType = "remediation_success"
	EventRemediationFailed  EventType = "remediation_failed"
)

// validEventTypes enumerates all accepted event types.
var validEventTypes = map[EventType]bool{
	EventDisconnected:       true,
	EventReconnected:        true,
	EventBlackScreen:        true,
	EventFrozen:             true,
	EventAudioSilent:        true,
	EventFPSDrop:            true,
	EventKeyframeIssue:      true,
	EventHighLatency:        true,
	EventRemediationStarted: true,
	EventRemediationSuccess: true,
	EventRemediationFailed:  true,
}

// Severity grades a stream event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// StreamEvent is an append-only record of something observed about a stream.
// Rows are never mutated except to flip Resolved.
type StreamEvent struct {
	BaseModel

	StreamID ULID    `gorm:"not null;type:varchar(26);index" json:"stream_id"`
	Stream   *Stream `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE" json:"stream,omitempty"`

	Type     EventType `gorm:"not null;size:30;index" json:"type"`
	Severity Severity  `gorm:"not null;size:10;default:'info'" json:"severity"`

	// Message is the human-readable summary.
	Message string `gorm:"size:1024" json:"message,omitempty"`

	// Detail carries optional structured context as JSON.
	Detail string `gorm:"type:text" json:"detail,omitempty"`

	// Resolved is flipped by operators or by a later reconnect.
	Resolved *bool `gorm:"default:false;index" json:"resolved"`
}

// TableName returns the table name for StreamEvent.
func (StreamEvent) TableName() string {
	return "stream_events"
}

// Validate performs basic validation on the event.
func (e *StreamEvent) Validate() error {
	if e.StreamID.IsZero() {
		return ErrStreamIDRequired
	}
	if e.Type == "" {
		return ErrEventTypeRequired
	}
	if !validEventTypes[e.Type] {
		return ErrInvalidEventType
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the event and generates a ULID.
func (e *StreamEvent) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return e.Validate()
}
