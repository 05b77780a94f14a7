package dedup

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	outcome   string
	expiresAt time.Time
}

// MemoryStore keeps records in process. Suitable for a single instance only.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a store that forgets records after retention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		panic("dedup: retention must be positive")
	}
	return &MemoryStore{
		entries:   make(map[string]memoryEntry),
		retention: retention,
		now:       time.Now,
	}
}

// Reserve takes id unless a live record exists.
func (s *MemoryStore) Reserve(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[id]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	s.entries[id] = memoryEntry{outcome: OutcomePending, expiresAt: now.Add(s.retention)}
	return true, nil
}

// MarkProcessed sets the outcome, keeping the original expiry while it is live.
func (s *MemoryStore) MarkProcessed(_ context.Context, id, outcome string) error {
	if id == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[id]
	if !ok || !now.Before(e.expiresAt) {
		e.expiresAt = now.Add(s.retention)
	}
	e.outcome = outcome
	s.entries[id] = e
	return nil
}

// Outcome returns the recorded outcome for a live id.
func (s *MemoryStore) Outcome(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return "", false
	}
	return e.outcome, true
}

// Sweep drops expired records and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunJanitor sweeps expired records every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
