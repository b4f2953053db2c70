package buffer

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	messages  []Message
	expiresAt time.Time
}

// MemoryStore is an in-process Store guarded by a mutex. Expired lists are
// dropped lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory buffer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(_ context.Context, sessionKey string, msg Message, ttl time.Duration) error {
	if sessionKey == "" {
		return ErrSessionKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveEntry(sessionKey)
	if entry == nil {
		entry = &memoryEntry{}
		s.entries[sessionKey] = entry
	}
	entry.messages = append(entry.messages, msg)
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	} else {
		entry.expiresAt = time.Time{}
	}
	return nil
}

func (s *MemoryStore) ReadAll(_ context.Context, sessionKey string) ([]Message, error) {
	if sessionKey == "" {
		return nil, ErrSessionKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveEntry(sessionKey)
	if entry == nil {
		return []Message{}, nil
	}
	out := make([]Message, len(entry.messages))
	copy(out, entry.messages)
	return out, nil
}

func (s *MemoryStore) Ack(_ context.Context, sessionKey string, ids []string) error {
	if sessionKey == "" {
		return ErrSessionKeyRequired
	}
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveEntry(sessionKey)
	if entry == nil {
		return nil
	}
	n := 0
	for n < len(ids) && n < len(entry.messages) && entry.messages[n].ID == ids[n] {
		n++
	}
	if n == 0 {
		return nil
	}
	if n == len(entry.messages) {
		delete(s.entries, sessionKey)
		return nil
	}
	entry.messages = append([]Message(nil), entry.messages[n:]...)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionKey string) error {
	if sessionKey == "" {
		return ErrSessionKeyRequired
	}
	s.mu.Lock()
	delete(s.entries, sessionKey)
	s.mu.Unlock()
	return nil
}

// liveEntry must be called with s.mu held.
func (s *MemoryStore) liveEntry(sessionKey string) *memoryEntry {
	entry, ok := s.entries[sessionKey]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, sessionKey)
		return nil
	}
	return entry
}
