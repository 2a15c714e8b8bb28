package health

import (
	"sync"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// StreamLocks serializes status-changing operations per stream so a health
// pass and a remediation run never interleave on the same stream.
type StreamLocks struct {
	locks sync.Map
}

// NewStreamLocks creates an empty lock registry.
func NewStreamLocks() *StreamLocks {
	return &StreamLocks{}
}

// Lock acquires the lock for one stream and returns the unlock function.
func (l *StreamLocks) Lock(id models.ULID) func() {
	mu, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Forget drops the lock entry for a deleted stream.
func (l *StreamLocks) Forget(id models.ULID) {
	l.locks.Delete(id)
}
