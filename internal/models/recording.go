package models

import (
	"time"

	"gorm.io/gorm"
)

// SegmentType classifies how a recording came to exist.
type SegmentType string

const (
	// SegmentContinuous is a file written by the relay's rolling recorder.
	SegmentContinuous SegmentType = "continuous"
	// SegmentEvent is a bounded capture triggered by a stream event.
	SegmentEvent SegmentType = "event"
	// SegmentManual is an operator-initiated capture.
	SegmentManual SegmentType = "manual"
)

// Recording indexes one segment file under the recording root.
type Recording struct {
	BaseModel

	StreamID ULID    `gorm:"not null;type:varchar(26);index" json:"stream_id"`
	Stream   *Stream `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE" json:"stream,omitempty"`

	// FilePath is the absolute path of the segment on disk.
	FilePath string `gorm:"not null;size:1024;uniqueIndex" json:"file_path"`

	FileSizeBytes int64    `gorm:"default:0" json:"file_size_bytes"`
	DurationS     *float64 `json:"duration_s,omitempty"`

	// StartTime is parsed from the segment filename.
	StartTime Time  `gorm:"not null;index" json:"start_time"`
	EndTime   *Time `json:"end_time,omitempty"`

	SegmentType SegmentType `gorm:"not null;size:20;default:'continuous';index" json:"segment_type"`

	// TriggeredByEventID weakly references the event that caused an
	// event-type capture; never cascaded.
	TriggeredByEventID *ULID `gorm:"type:varchar(26)" json:"triggered_by_event_id,omitempty"`

	// RetentionDays and ExpiresAt drive cleanup.
	RetentionDays int   `gorm:"default:0" json:"retention_days"`
	ExpiresAt     *Time `gorm:"index" json:"expires_at,omitempty"`

	IsArchived  *bool  `gorm:"default:false;index" json:"is_archived"`
	ArchivePath string `gorm:"size:1024" json:"archive_path,omitempty"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}

// Archived reports whether the recording has been copied to the archive tree.
func (r *Recording) Archived() bool {
	return r.IsArchived != nil && *r.IsArchived
}

// Expired reports whether the recording is past its expiry at the given time.
func (r *Recording) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Validate performs basic validation on the recording.
func (r *Recording) Validate() error {
	if r.StreamID.IsZero() {
		return ErrStreamIDRequired
	}
	if r.FilePath == "" {
		return ErrFilePathRequired
	}
	switch r.SegmentType {
	case SegmentContinuous, SegmentEvent, SegmentManual:
	default:
		return ErrInvalidSegmentType
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the recording and generates a ULID.
func (r *Recording) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return r.Validate()
}

// BeforeUpdate is a GORM hook that validates the recording before update.
func (r *Recording) BeforeUpdate(tx *gorm.DB) error {
	return r.Validate()
}
