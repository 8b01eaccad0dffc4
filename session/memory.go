package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      *Data
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a store that sweeps expired sessions every
// cleanupInterval. A zero interval disables the sweep.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions:    make(map[string]memoryEntry),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}
	return s
}

// Get returns a copy of the session data.
func (s *MemoryStore) Get(_ context.Context, id string) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	return cloneData(entry.data), nil
}

// Save stores a copy of data.
func (s *MemoryStore) Save(_ context.Context, id string, data *Data, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = memoryEntry{data: cloneData(data), expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop ends the cleanup loop. Safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, id)
		}
	}
}
