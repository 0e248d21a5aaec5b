package repository

import (
	"context"
	"sync"

	"wtbooking/internal/domain"
)

type counterEntry struct {
	count    int64
	hasCount bool
	valid    bool
}

// MemoryCounterStore is the in-process counter store used when Redis is not
// configured or is unreachable.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{entries: make(map[string]*counterEntry)}
}

func (r *MemoryCounterStore) entry(name string) *counterEntry {
	e, ok := r.entries[name]
	if !ok {
		e = &counterEntry{}
		r.entries[name] = e
	}
	return e
}

func (r *MemoryCounterStore) GetCount(_ context.Context, name string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || !e.hasCount {
		return 0, false, nil
	}
	return e.count, true, nil
}

func (r *MemoryCounterStore) IsValid(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.valid, nil
}

func (r *MemoryCounterStore) SetCount(_ context.Context, name string, count int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(name)
	e.count = count
	e.hasCount = true
	e.valid = true
	return nil
}

func (r *MemoryCounterStore) SetValid(_ context.Context, name string, valid bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(name).valid = valid
	return nil
}

func (r *MemoryCounterStore) AdjustIfValid(_ context.Context, name string, delta int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || !e.valid || !e.hasCount {
		return 0, false, nil
	}
	e.count += delta
	if e.count < 0 {
		e.count = 0
	}
	return e.count, true, nil
}
