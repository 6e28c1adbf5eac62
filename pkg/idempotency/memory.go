package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is a process-local Repository
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (r *MemoryRepository) Acquire(_ context.Context, record *Record) (*Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.records[record.ID]; ok {
		return &stored, false, nil
	}
	r.records[record.ID] = *record
	return record, true, nil
}

func (r *MemoryRepository) TakeOver(_ context.Context, id string, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok || stored.IsCompleted() || stored.LockedAt == nil || stored.LockedAt.After(staleBefore) {
		return false, nil
	}
	now := time.Now().UTC()
	stored.LockedAt = &now
	r.records[id] = stored
	return true, nil
}

func (r *MemoryRepository) Complete(_ context.Context, id string, code int, body []byte, headers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	stored.ResponseCode = code
	stored.ResponseBody = append([]byte(nil), body...)
	stored.ResponseHeaders = headers
	stored.CompletedAt = &now
	stored.LockedAt = nil
	r.records[id] = stored
	return nil
}

func (r *MemoryRepository) Release(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.records[id]; ok && !stored.IsCompleted() {
		delete(r.records, id)
	}
	return nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, stored := range r.records {
		if stored.ExpiresAt.Before(cutoff) {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Get returns a copy of a stored record
func (r *MemoryRepository) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[id]
	return stored, ok
}
