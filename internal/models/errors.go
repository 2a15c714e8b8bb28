package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrAPIURLRequired indicates a node is missing its control API URL.
	ErrAPIURLRequired = errors.New("api_url is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrNodeIDRequired indicates a required node ID field is zero.
	ErrNodeIDRequired = errors.New("node_id is required")

	// ErrStreamIDRequired indicates a required stream ID field is zero.
	ErrStreamIDRequired = errors.New("stream_id is required")

	// ErrPathRequired indicates a required stream path field is empty.
	ErrPathRequired = errors.New("path is required")

	// ErrEventTypeRequired indicates a required event type field is empty.
	ErrEventTypeRequired = errors.New("event type is required")

	// ErrInvalidEventType indicates an unknown event type.
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrFilePathRequired indicates a required file path field is empty.
	ErrFilePathRequired = errors.New("file_path is required")

	// ErrInvalidSegmentType indicates an unknown recording segment type.
	ErrInvalidSegmentType = errors.New("invalid segment type: must be 'continuous', 'event' or 'manual'")

	// ErrConfigYAMLRequired indicates a snapshot is missing its config body.
	ErrConfigYAMLRequired = errors.New("config_yaml is required")

	// ErrHashRequired indicates a snapshot is missing its content hash.
	ErrHashRequired = errors.New("hash is required")

	// ErrAddressRequired indicates a blocklist entry is missing its address.
	ErrAddressRequired = errors.New("address is required")

	// ErrBlockExpiryConflict indicates a blocklist entry is both permanent and expiring.
	ErrBlockExpiryConflict = errors.New("entry must be permanent or carry an expiry, not both")

	// ErrBlockExpiryRequired indicates a temporary blocklist entry has no expiry.
	ErrBlockExpiryRequired = errors.New("temporary entries require an expiry")

	// ErrJobTypeRequired indicates a required job type field is empty.
	ErrJobTypeRequired = errors.New("job type is required")

	// ErrSnapshotNotFound indicates a config snapshot was not found.
	ErrSnapshotNotFound = errors.New("config snapshot not found")

	// ErrNodeNotFound indicates a node was not found.
	ErrNodeNotFound = errors.New("node not found")

	// ErrStreamNotFound indicates a stream was not found.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrArchiveRootUnset indicates archival was requested with no archive
	// root configured.
	ErrArchiveRootUnset = errors.New("archive root is not configured")

	// ErrBlockEntryNotFound indicates a blocklist entry was not found.
	ErrBlockEntryNotFound = errors.New("block entry not found")
)
