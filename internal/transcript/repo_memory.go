package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests and early development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry // call_id -> ordered entries

	// AppendErr, when set, is returned by Append. Lets tests exercise the
	// best-effort persistence path.
	AppendErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (s *MemoryStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.CallID == "" || !e.Role.Valid() || e.Text == "" {
		return Entry{}, ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AppendErr != nil {
		return Entry{}, s.AppendErr
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Seq = len(s.entries[e.CallID]) + 1
	s.entries[e.CallID] = append(s.entries[e.CallID], e)
	return e, nil
}

func (s *MemoryStore) ListByCall(ctx context.Context, callID string) ([]Entry, error) {
	if callID == "" {
		return nil, ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.entries[callID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}
