package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// IPBlockEntry blocks a client address, optionally scoped to one node
// and/or a path pattern. An entry is either permanent or carries an
// expiry; the sweep deactivates expired entries.
type IPBlockEntry struct {
	BaseModel

	// Address is the client IP to block.
	Address string `gorm:"not null;size:64;index" json:"address"`

	// PathPattern optionally scopes the block to matching paths.
	// A trailing '*' matches any suffix.
	PathPattern string `gorm:"size:255" json:"path_pattern,omitempty"`

	// NodeID optionally scopes the block to one node.
	NodeID *ULID `gorm:"type:varchar(26);index" json:"node_id,omitempty"`

	Reason string `gorm:"size:512" json:"reason,omitempty"`

	IsPermanent *bool `gorm:"default:false" json:"is_permanent"`
	ExpiresAt   *Time `gorm:"index" json:"expires_at,omitempty"`

	IsActive *bool `gorm:"default:true;index" json:"is_active"`
}

// TableName returns the table name for IPBlockEntry.
func (IPBlockEntry) TableName() string {
	return "ip_block_entries"
}

// Permanent reports whether the entry never expires.
func (e *IPBlockEntry) Permanent() bool {
	return e.IsPermanent != nil && *e.IsPermanent
}

// Active reports whether the entry is currently enforced.
func (e *IPBlockEntry) Active() bool {
	return BoolVal(e.IsActive)
}

// Expired reports whether a temporary entry is past its expiry.
func (e *IPBlockEntry) Expired(now time.Time) bool {
	if e.Permanent() || e.ExpiresAt == nil {
		return false
	}
	return !e.ExpiresAt.After(now)
}

// Matches reports whether the entry applies to the given address on the
// given node and path. A zero nodeID or empty path matches entries with
// the corresponding scope unset.
func (e *IPBlockEntry) Matches(address string, nodeID ULID, path string) bool {
	if e.Address != address {
		return false
	}
	if e.NodeID != nil && !e.NodeID.IsZero() && *e.NodeID != nodeID {
		return false
	}
	return e.MatchesPath(path)
}

// MatchesPath reports whether the entry's path pattern covers the path.
func (e *IPBlockEntry) MatchesPath(path string) bool {
	if e.PathPattern == "" {
		return true
	}
	if prefix, ok := strings.CutSuffix(e.PathPattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return e.PathPattern == path
}

// Validate performs basic validation on the entry.
func (e *IPBlockEntry) Validate() error {
	if e.Address == "" {
		return ErrAddressRequired
	}
	if e.Permanent() && e.ExpiresAt != nil {
		return ErrBlockExpiryConflict
	}
	if !e.Permanent() && e.ExpiresAt == nil {
		return ErrBlockExpiryRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the entry and generates a ULID.
func (e *IPBlockEntry) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return e.Validate()
}

// BeforeUpdate is a GORM hook that validates the entry before update.
func (e *IPBlockEntry) BeforeUpdate(tx *gorm.DB) error {
	return e.Validate()
}
