// Package repository provides data access interfaces and GORM implementations.
package repository

import (
	"context"
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// NodeRepository manages relay node records.
type NodeRepository interface {
	Create(ctx context.Context, node *models.Node) error
	GetByID(ctx context.Context, id models.ULID) (*models.Node, error)
	GetByName(ctx context.Context, name string) (*models.Node, error)
	List(ctx context.Context) ([]*models.Node, error)
	ListActive(ctx context.Context) ([]*models.Node, error)
	ListActiveByEnvironment(ctx context.Context, environment string) ([]*models.Node, error)
	Update(ctx context.Context, node *models.Node) error
	TouchLastSeen(ctx context.Context, id models.ULID, seen time.Time) error
	// Delete removes the node and cascades to its streams.
	Delete(ctx context.Context, id models.ULID) error
}

// StreamRepository manages stream records.
type StreamRepository interface {
	Create(ctx context.Context, stream *models.Stream) error
	GetByID(ctx context.Context, id models.ULID) (*models.Stream, error)
	GetByNodeAndPath(ctx context.Context, nodeID models.ULID, path string) (*models.Stream, error)
	List(ctx context.Context) ([]*models.Stream, error)
	ListByNode(ctx context.Context, nodeID models.ULID) ([]*models.Stream, error)
	ListByStatus(ctx context.Context, status models.StreamStatus) ([]*models.Stream, error)
	// ListProbeSample returns streams with missing or zero fps; when none
	// qualify it rotates through the fleet by updated_at ascending, capped
	// at limit.
	ListProbeSample(ctx context.Context, limit int) ([]*models.Stream, error)
	CountByStatus(ctx context.Context) (map[models.StreamStatus]int64, error)
	Update(ctx context.Context, stream *models.Stream) error
	Delete(ctx context.Context, id models.ULID) error
	// DeleteStale removes the node's streams whose path is not in keep.
	DeleteStale(ctx context.Context, nodeID models.ULID, keep []string) (int64, error)
}

// EventRepository manages append-only stream events.
type EventRepository interface {
	Create(ctx context.Context, event *models.StreamEvent) error
	GetByID(ctx context.Context, id models.ULID) (*models.StreamEvent, error)
	ListByStream(ctx context.Context, streamID models.ULID, offset, limit int) ([]*models.StreamEvent, int64, error)
	ListRecent(ctx context.Context, limit int) ([]*models.StreamEvent, error)
	// CountByTypeSince counts events of one type for a stream in a window.
	CountByTypeSince(ctx context.Context, streamID models.ULID, eventType models.EventType, since time.Time) (int64, error)
	Resolve(ctx context.Context, id models.ULID) error
}

// RecordingRepository manages recording segment records.
type RecordingRepository interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id models.ULID) (*models.Recording, error)
	GetByFilePath(ctx context.Context, path string) (*models.Recording, error)
	List(ctx context.Context, filter RecordingFilter) ([]*models.Recording, int64, error)
	// ListExpired returns unarchived recordings past their expiry.
	ListExpired(ctx context.Context, now time.Time) ([]*models.Recording, error)
	// ListOldestContinuous returns the oldest non-archived continuous
	// recordings by start time, up to limit.
	ListOldestContinuous(ctx context.Context, limit int) ([]*models.Recording, error)
	// ListArchiveCandidates returns unarchived recordings starting before
	// cutoff, oldest first, up to limit.
	ListArchiveCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*models.Recording, error)
	Update(ctx context.Context, rec *models.Recording) error
	Delete(ctx context.Context, id models.ULID) error
}

// RecordingFilter narrows recording listings.
type RecordingFilter struct {
	StreamID    *models.ULID
	SegmentType *models.SegmentType
	Archived    *bool
	Since       *time.Time
	Until       *time.Time
	Offset      int
	Limit       int
}

// SnapshotRepository manages immutable config snapshots.
type SnapshotRepository interface {
	Create(ctx context.Context, snap *models.ConfigSnapshot) error
	GetByID(ctx context.Context, id models.ULID) (*models.ConfigSnapshot, error)
	ListByNode(ctx context.Context, nodeID models.ULID, limit int) ([]*models.ConfigSnapshot, error)
	// GetLatestApplied returns the most recent applied snapshot for a node.
	GetLatestApplied(ctx context.Context, nodeID models.ULID) (*models.ConfigSnapshot, error)
}

// BlocklistRepository manages IP block entries.
type BlocklistRepository interface {
	Create(ctx context.Context, entry *models.IPBlockEntry) error
	GetByID(ctx context.Context, id models.ULID) (*models.IPBlockEntry, error)
	ListActive(ctx context.Context) ([]*models.IPBlockEntry, error)
	ListActiveByAddress(ctx context.Context, address string) ([]*models.IPBlockEntry, error)
	Update(ctx context.Context, entry *models.IPBlockEntry) error
	Deactivate(ctx context.Context, id models.ULID) error
	// DeactivateExpired flips is_active off for entries past their expiry.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// JobRepository manages background job records.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	GetAll(ctx context.Context) ([]*models.Job, error)
	GetPending(ctx context.Context) ([]*models.Job, error)
	GetRunning(ctx context.Context) ([]*models.Job, error)
	GetByType(ctx context.Context, jobType models.JobType) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id models.ULID) error
	DeleteCompleted(ctx context.Context, before time.Time) (int64, error)
	// AcquireJob atomically claims one runnable job for a worker.
	AcquireJob(ctx context.Context, workerID string) (*models.Job, error)
	ReleaseJob(ctx context.Context, id models.ULID) error
	// FindDuplicatePending finds an existing unfinished job for the same
	// type and target.
	FindDuplicatePending(ctx context.Context, jobType models.JobType, targetID models.ULID) (*models.Job, error)
	CreateHistory(ctx context.Context, history *models.JobHistory) error
	GetHistory(ctx context.Context, jobType *models.JobType, offset, limit int) ([]*models.JobHistory, int64, error)
	DeleteHistory(ctx context.Context, before time.Time) (int64, error)
}

// Store bundles every repository behind one handle for dependency injection.
type Store struct {
	Nodes      NodeRepository
	Streams    StreamRepository
	Events     EventRepository
	Recordings RecordingRepository
	Snapshots  SnapshotRepository
	Blocklist  BlocklistRepository
	Jobs       JobRepository
}
