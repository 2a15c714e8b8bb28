package repository

import "gorm.io/gorm"

// NewStore builds a Store with GORM-backed repositories.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		Nodes:      NewNodeRepository(db),
		Streams:    NewStreamRepository(db),
		Events:     NewEventRepository(db),
		Recordings: NewRecordingRepository(db),
		Snapshots:  NewSnapshotRepository(db),
		Blocklist:  NewBlocklistRepository(db),
		Jobs:       NewJobRepository(db),
	}
}
