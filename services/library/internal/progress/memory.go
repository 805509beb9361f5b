package progress

import (
	"context"
	"sync"
)

// MemoryStore keeps the latest tally per media in process.
type MemoryStore struct {
	mu     sync.RWMutex
	latest map[MediaKey]Progress
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[MediaKey]Progress)}
}

func (s *MemoryStore) Publish(_ context.Context, key MediaKey, p Progress) error {
	s.mu.Lock()
	s.latest[key] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, key MediaKey) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.latest[key]
	if !ok {
		return Progress{}, ErrNoProgress
	}
	return p, nil
}
