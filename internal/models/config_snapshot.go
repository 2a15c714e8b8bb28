package models

import "gorm.io/gorm"

// ConfigSnapshot is an immutable, content-addressed copy of a node's
// configuration. Rows are created on apply and as pre-apply backups and
// are never mutated afterwards.
type ConfigSnapshot struct {
	BaseModel

	// NodeID is nil for fleet-wide snapshots.
	NodeID *ULID `gorm:"type:varchar(26);index" json:"node_id,omitempty"`
	Node   *Node `gorm:"foreignKey:NodeID" json:"node,omitempty"`

	// Hash is the canonical content hash of the normalized YAML.
	// Identical content always yields an identical hash.
	Hash string `gorm:"not null;size:16;index" json:"hash"`

	// ConfigYAML is the full configuration document as applied.
	ConfigYAML string `gorm:"not null;type:text" json:"config_yaml"`

	Environment string `gorm:"size:50;index" json:"environment,omitempty"`

	// Applied marks snapshots that were actually pushed to the node,
	// including pre-apply backups of the then-live config.
	Applied   *bool  `gorm:"default:false;index" json:"applied"`
	AppliedAt *Time  `json:"applied_at,omitempty"`
	AppliedBy string `gorm:"size:255" json:"applied_by,omitempty"`

	// RollbackOfID weakly references the snapshot this one rolled back.
	RollbackOfID *ULID `gorm:"type:varchar(26)" json:"rollback_of_id,omitempty"`

	Notes string `gorm:"size:1024" json:"notes,omitempty"`
}

// TableName returns the table name for ConfigSnapshot.
func (ConfigSnapshot) TableName() string {
	return "config_snapshots"
}

// Validate performs basic validation on the snapshot.
func (s *ConfigSnapshot) Validate() error {
	if s.ConfigYAML == "" {
		return ErrConfigYAMLRequired
	}
	if s.Hash == "" {
		return ErrHashRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the snapshot and generates a ULID.
func (s *ConfigSnapshot) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}
