package models

import (
	"net/url"
	"strings"

	"gorm.io/gorm"
)

// Node represents one managed media relay instance with a control API.
type Node struct {
	BaseModel

	// Name uniquely identifies the node within the fleet.
	Name string `gorm:"not null;uniqueIndex;size:255" json:"name"`

	// APIURL is the base URL of the node's control API, without trailing slash.
	APIURL string `gorm:"not null;size:512" json:"api_url"`

	// MediaURL is the optional base URL used to build probe URLs for
	// streams that have no explicit source URL.
	MediaURL string `gorm:"size:512" json:"media_url,omitempty"`

	// Environment labels the node for rolling updates (e.g. production, staging).
	Environment string `gorm:"size:50;index;default:'production'" json:"environment"`

	// IsActive gates scheduling: inactive nodes are skipped by every
	// background job but keep their history.
	IsActive *bool `gorm:"default:true" json:"is_active"`

	// LastSeen is the heartbeat updated whenever the node answers a
	// fleet sync or fast health poll.
	LastSeen *Time `json:"last_seen,omitempty"`

	// Metadata is an opaque JSON blob for operator use.
	Metadata string `gorm:"type:text" json:"metadata,omitempty"`

	// Streams owned by this node. Deleting the node cascades here.
	Streams []Stream `gorm:"foreignKey:NodeID;constraint:OnDelete:CASCADE" json:"streams,omitempty"`
}

// TableName returns the table name for Node.
func (Node) TableName() string {
	return "nodes"
}

// Active reports whether the node participates in scheduling.
func (n *Node) Active() bool {
	return BoolVal(n.IsActive)
}

// APIBase returns the control API base URL without a trailing slash.
func (n *Node) APIBase() string {
	return strings.TrimRight(n.APIURL, "/")
}

// MediaBase returns the media base URL without a trailing slash,
// or empty when the node has none configured.
func (n *Node) MediaBase() string {
	return strings.TrimRight(n.MediaURL, "/")
}

// Validate performs basic validation on the node.
func (n *Node) Validate() error {
	if n.Name == "" {
		return ErrNameRequired
	}
	if n.APIURL == "" {
		return ErrAPIURLRequired
	}
	if u, err := url.Parse(n.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidURL
	}
	if n.MediaURL != "" {
		if u, err := url.Parse(n.MediaURL); err != nil || u.Scheme == "" {
			return ErrInvalidURL
		}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the node and generates a ULID.
func (n *Node) BeforeCreate(tx *gorm.DB) error {
	if err := n.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return n.Validate()
}

// BeforeUpdate is a GORM hook that validates the node before update.
func (n *Node) BeforeUpdate(tx *gorm.DB) error {
	return n.Validate()
}
