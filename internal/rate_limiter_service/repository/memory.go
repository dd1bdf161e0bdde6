package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

// MemoryDeadLetterRepository keeps dead-letter records in process memory.
// Used by tests and by local dev mode; production uses the Postgres store.
type MemoryDeadLetterRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.DeadLetterRecord
}

func NewMemoryDeadLetterRepository() *MemoryDeadLetterRepository {
	return &MemoryDeadLetterRepository{
		records: make(map[string]*domain.DeadLetterRecord),
	}
}

func (r *MemoryDeadLetterRepository) Upsert(_ context.Context, rec *domain.DeadLetterRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.Job.JobID] = &cp
	return nil
}

func (r *MemoryDeadLetterRepository) GetByJobID(_ context.Context, jobID string) (*domain.DeadLetterRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[jobID]
	if !ok {
		return nil, domain.ErrDeadLetterNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryDeadLetterRepository) DeleteByJobID(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[jobID]; !ok {
		return domain.ErrDeadLetterNotFound
	}
	delete(r.records, jobID)
	return nil
}

func (r *MemoryDeadLetterRepository) List(_ context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.DeadLetterRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].FailedAt.After(all[j].FailedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryDeadLetterRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.records)), nil
}
