package overrides

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[uuid.UUID]Override
}

// NewMemoryStore creates an empty in-memory override store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overrides: make(map[uuid.UUID]Override)}
}

func (s *MemoryStore) Insert(_ context.Context, o *Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.overrides[o.ID]; exists {
		return errdefs.Conflict("override %s already exists", o.ID)
	}
	s.overrides[o.ID] = clone(*o)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[id]
	if !ok {
		return nil, errdefs.NotFound(errdefs.KindOverride, id.String())
	}
	o = clone(o)
	return &o, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter, now time.Time) ([]Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Override, 0)
	for _, o := range s.overrides {
		if matches(&o, filter, now) {
			result = append(result, clone(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) Update(_ context.Context, o *Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.overrides[o.ID]
	if !ok {
		return errdefs.NotFound(errdefs.KindOverride, o.ID.String())
	}
	updated := clone(*o)
	current.Value = updated.Value
	current.Reason = updated.Reason
	current.ExpiresAt = updated.ExpiresAt
	s.overrides[o.ID] = current
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overrides[id]; !ok {
		return errdefs.NotFound(errdefs.KindOverride, id.String())
	}
	delete(s.overrides, id)
	return nil
}

// DeleteExpired builds the surviving set and swaps it in under the write
// lock, so readers never observe a partially cleaned map.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make(map[uuid.UUID]Override, len(s.overrides))
	var deleted int64
	for id, o := range s.overrides {
		if o.ActiveAt(now) {
			kept[id] = o
			continue
		}
		deleted++
	}
	s.overrides = kept
	return deleted, nil
}
