package data

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/domain/model"
)

// MemoryStore is a process-local CoordinationStore. All nodes sharing it must
// live in the same process; it backs tests and single-node deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[model.JobKey]model.JobRecord
	changed chan struct{}
	clock   core.TimeProvider
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(cfg StoreConfig) *MemoryStore {
	return &MemoryStore{
		records: make(map[model.JobKey]model.JobRecord),
		changed: make(chan struct{}),
		clock:   cfg.clock(),
	}
}

// Insert stores rec with version 1, or replaces a terminal record for the
// same key with the next version.
func (s *MemoryStore) Insert(ctx context.Context, rec model.JobRecord) (model.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.JobRecord{}, err
	}
	if err := validateWrite(rec); err != nil {
		return model.JobRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := rec.Clone()
	next.Version = 1
	if cur, ok := s.records[rec.JobKey]; ok {
		if !cur.State.Terminal() {
			return model.JobRecord{}, fmt.Errorf("%w: %s is %s", model.ErrDuplicateJob, rec.JobKey, cur.State)
		}
		next.Version = cur.Version + 1
	}
	s.records[rec.JobKey] = next
	s.notifyLocked()
	return next.Clone(), nil
}

// CompareAndSwap replaces the stored record when its version matches expectedVersion.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next model.JobRecord) (model.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.JobRecord{}, err
	}
	if err := validateWrite(next); err != nil {
		return model.JobRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[next.JobKey]
	if !ok {
		return model.JobRecord{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, next.JobKey)
	}
	if cur.Version != expectedVersion {
		return model.JobRecord{}, fmt.Errorf("%w: %s at version %d, expected %d",
			model.ErrVersionConflict, next.JobKey, cur.Version, expectedVersion)
	}

	stored := next.Clone()
	stored.ID = cur.ID
	stored.CreatedAt = cur.CreatedAt
	stored.Version = cur.Version + 1
	s.records[next.JobKey] = stored
	s.notifyLocked()
	return stored.Clone(), nil
}

// Get returns the record stored for key.
func (s *MemoryStore) Get(ctx context.Context, key model.JobKey) (model.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.JobRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return model.JobRecord{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, key)
	}
	return rec.Clone(), nil
}

// List returns all records ordered by key.
func (s *MemoryStore) List(ctx context.Context) ([]model.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobKey.Less(out[j].JobKey) })
	return out, nil
}

// WaitForChange blocks until the next write or until ctx ends.
func (s *MemoryStore) WaitForChange(ctx context.Context) error {
	s.mu.Lock()
	ch := s.changed
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PurgeTerminal deletes up to BatchSize records in params.State completed
// more than MaxAge ago, oldest first.
func (s *MemoryStore) PurgeTerminal(ctx context.Context, params core.PurgeTerminalParams) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !params.State.Terminal() {
		return 0, fmt.Errorf("invalid purge state: %s", params.State)
	}
	cutoff := s.clock.Now().Add(-params.MaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []model.JobRecord
	for _, rec := range s.records {
		if rec.State == params.State && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			victims = append(victims, rec)
		}
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].CompletedAt.Before(*victims[j].CompletedAt) })
	if params.BatchSize > 0 && len(victims) > params.BatchSize {
		victims = victims[:params.BatchSize]
	}
	for _, rec := range victims {
		delete(s.records, rec.JobKey)
	}
	if len(victims) > 0 {
		s.notifyLocked()
	}
	return int64(len(victims)), nil
}

// notifyLocked wakes every WaitForChange caller. s.mu must be held.
func (s *MemoryStore) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
