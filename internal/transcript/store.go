package transcript

import (
	"context"
	"sync"
)

// Store is the conversation log. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append adds entries to the end of the log in the given order.
	Append(ctx context.Context, entries ...Entry) error

	// All returns every entry in append order.
	All(ctx context.Context) ([]Entry, error)

	// Clear empties the log. Called when a session restarts.
	Clear(ctx context.Context) error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the log in process memory. It is the default store when
// no database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore returns an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, entries ...Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	s.mu.Unlock()
	return nil
}

// All implements [Store]. The returned slice is a copy.
func (s *MemoryStore) All(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Clear implements [Store].
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return nil
}
