package history

import (
	"context"
	"sync"
)

// MemoryRepo is a bounded in-memory append-only repository. It keeps the most
// recent records; a single-user service does not need deep history in memory.

const defaultKeep = 200

type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
	keep    int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{keep: defaultKeep} }

func (r *MemoryRepo) Append(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if len(r.records) > r.keep {
		r.records = r.records[len(r.records)-r.keep:]
	}
	return nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out, nil
}
