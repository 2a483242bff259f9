package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"remindd/internal/reminder"
)

// memoryStore is a dependency-free in-process backend.
//
// It implements the same conditional-write contract as the durable drivers,
// which makes it the store of choice for unit tests and local development.
type memoryStore struct {
	mu   sync.RWMutex
	recs map[string]reminder.Reminder
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{recs: map[string]reminder.Reminder{}}
}

func (s *memoryStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	return rec, nil
}

func (s *memoryStore) Put(ctx context.Context, rem reminder.Reminder) error {
	s.mu.Lock()
	s.recs[rem.ID] = rem
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ConditionalUpdate(ctx context.Context, id string, expectedState reminder.State, expectedRetryCount int, mut Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return reminder.ErrNotFound
	}
	if rec.State != expectedState || rec.RetryCount != expectedRetryCount {
		return reminder.ErrPreconditionFailed
	}
	if mut.State != nil {
		rec.State = *mut.State
	}
	if mut.RetryCount != nil {
		rec.RetryCount = *mut.RetryCount
	}
	if mut.Message != nil {
		rec.Message = *mut.Message
	}
	if mut.FireAt != nil {
		rec.FireAt = mut.FireAt.UTC()
	}
	rec.UpdatedAt = mut.UpdatedAt
	s.recs[id] = rec
	return nil
}

func (s *memoryStore) QueryByOwner(ctx context.Context, ownerID string) ([]reminder.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []reminder.Reminder
	for _, rec := range s.recs {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *memoryStore) QueryDue(ctx context.Context, before time.Time, limit int) ([]reminder.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []reminder.Reminder
	for _, rec := range s.recs {
		if rec.State == reminder.StatePending && !rec.FireAt.After(before) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.recs, id)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }
