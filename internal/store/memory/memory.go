// Package memory provides an in-process Record Store.
//
// It backs --store=memory and the tests. Failure injection mirrors a
// backend outage so callers can exercise the commit-before-notify path.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

// Store keeps records in a map keyed by id.
type Store struct {
	mu      sync.RWMutex
	records map[int64]record.Record
	nextID  int64
	closed  bool

	// Failure injection
	failure  error
	failNext []error
	calls    map[string]int
}

var _ store.Store = (*Store)(nil)

// New creates an empty store. Ids start at 1.
func New() *Store {
	return &Store{
		records: make(map[int64]record.Record),
		nextID:  1,
		calls:   make(map[string]int),
	}
}

// Create commits r with the next id.
func (s *Store) Create(ctx context.Context, r record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "create"); err != nil {
		return record.Record{}, err
	}

	r.ID = s.nextID
	s.nextID++
	s.records[r.ID] = r
	return r, nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id int64) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "get"); err != nil {
		return record.Record{}, err
	}

	r, ok := s.records[id]
	if !ok {
		return record.Record{}, record.ErrNotFound
	}
	return r, nil
}

// List returns records ordered by id.
func (s *Store) List(ctx context.Context, f store.Filter) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "list"); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(s.records))
	for id, r := range s.records {
		if f.AgentID != nil && r.AgentID != *f.AgentID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if f.Offset >= len(ids) {
		return []record.Record{}, nil
	}
	ids = ids[max(f.Offset, 0):]
	if limit := f.EffectiveLimit(); len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id])
	}
	return out, nil
}

// Update replaces the stored record with the same id.
func (s *Store) Update(ctx context.Context, r record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "update"); err != nil {
		return record.Record{}, err
	}

	if _, ok := s.records[r.ID]; !ok {
		return record.Record{}, record.ErrNotFound
	}
	s.records[r.ID] = r
	return r, nil
}

// Delete removes the record and returns it.
func (s *Store) Delete(ctx context.Context, id int64) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "delete"); err != nil {
		return record.Record{}, err
	}

	r, ok := s.records[id]
	if !ok {
		return record.Record{}, record.ErrNotFound
	}
	delete(s.records, id)
	return r, nil
}

// Ping fails while a persistent failure is injected or after Close.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return record.NewStorageError("ping", fmt.Errorf("store closed"))
	}
	if s.failure != nil {
		return record.NewStorageError("ping", s.failure)
	}
	return nil
}

// Close makes every later call fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check runs the shared preconditions. Caller must hold s.mu.
func (s *Store) check(ctx context.Context, op string) error {
	s.calls[op]++

	if err := ctx.Err(); err != nil {
		return record.NewStorageError(op, err)
	}
	if s.closed {
		return record.NewStorageError(op, fmt.Errorf("store closed"))
	}
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return record.NewStorageError(op, err)
	}
	if s.failure != nil {
		return record.NewStorageError(op, s.failure)
	}
	return nil
}

// Helper methods for testing

// SetFailure makes every call fail with err until ClearFailure.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// ClearFailure disables persistent and queued failures.
func (s *Store) ClearFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = nil
	s.failNext = nil
}

// FailNext queues err for the next call only.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, err)
}

// Calls returns how many times op ("create", "get", ...) was invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
