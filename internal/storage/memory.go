// internal/storage/memory.go
package storage

import (
	"context"
	"sync"

	"signal-insights/internal/data"
)

const DefaultCapacity = 100 // Snapshots kept per session

// MemoryStore keeps the most recent snapshots of every session, the last
// known good view of each dashboard.
type MemoryStore struct {
	mu       sync.RWMutex
	buffers  map[string][]*data.Snapshot
	capacity int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		buffers:  make(map[string][]*data.Snapshot),
		capacity: capacity,
	}
}

func (s *MemoryStore) Add(snap *data.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.buffers[snap.SessionID]
	if len(buf) >= s.capacity {
		// Remove the oldest element
		buf = buf[1:]
	}
	s.buffers[snap.SessionID] = append(buf, snap)
}

// Publish stores snap; it lets the store sit in a refresh loop's sinks.
func (s *MemoryStore) Publish(_ context.Context, snap *data.Snapshot) {
	s.Add(snap)
}

// GetRecent returns up to count of the session's newest snapshots, oldest
// first. count <= 0 returns all of them.
func (s *MemoryStore) GetRecent(sessionID string, count int) []*data.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.buffers[sessionID]
	if count <= 0 || count > len(buf) {
		count = len(buf)
	}
	// Return a copy to avoid races if the caller modifies it
	result := make([]*data.Snapshot, count)
	copy(result, buf[len(buf)-count:])
	return result
}

// Latest returns the newest snapshot of the session, or nil.
func (s *MemoryStore) Latest(sessionID string) *data.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.buffers[sessionID]
	if len(buf) == 0 {
		return nil
	}
	return buf[len(buf)-1]
}

// Drop forgets everything stored for the session.
func (s *MemoryStore) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, sessionID)
}
