package usage

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

// DefaultMaxRetries bounds the compare-and-swap loop of MemoryStore
const DefaultMaxRetries = 64

type counterKey struct {
	userID, featureSlug string
}

type counter struct {
	value     atomic.Int64
	updatedAt atomic.Int64
}

// MemoryStore keeps counters in process, incremented with a
// compare-and-swap loop
type MemoryStore struct {
	mu         sync.RWMutex
	counters   map[counterKey]*counter
	maxRetries int
}

// NewMemoryStore creates an empty in-memory usage store. maxRetries <= 0
// selects DefaultMaxRetries.
func NewMemoryStore(maxRetries int) *MemoryStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &MemoryStore{
		counters:   make(map[counterKey]*counter),
		maxRetries: maxRetries,
	}
}

func (s *MemoryStore) lookup(key counterKey) *counter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[key]
}

func (s *MemoryStore) getOrCreate(key counterKey) *counter {
	if c := s.lookup(key); c != nil {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[key]; ok {
		return c
	}
	c := &counter{}
	s.counters[key] = c
	return c
}

func (s *MemoryStore) Increment(_ context.Context, userID, featureSlug string, amount int64, now time.Time) (int64, error) {
	c := s.getOrCreate(counterKey{userID, featureSlug})

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		current := c.value.Load()
		if current > math.MaxInt64-amount {
			return 0, errdefs.Validation("amount", "counter would overflow")
		}
		if c.value.CompareAndSwap(current, current+amount) {
			c.updatedAt.Store(now.UnixNano())
			return current + amount, nil
		}
	}
	return 0, &errdefs.ConcurrencyError{Op: "usage increment", Attempts: s.maxRetries}
}

func (c *counter) record(key counterKey) Record {
	r := Record{
		UserID:       key.userID,
		FeatureSlug:  key.featureSlug,
		CurrentUsage: c.value.Load(),
	}
	if ns := c.updatedAt.Load(); ns != 0 {
		r.UpdatedAt = time.Unix(0, ns).UTC()
	}
	return r
}

func (s *MemoryStore) Get(_ context.Context, userID, featureSlug string) (Record, error) {
	key := counterKey{userID, featureSlug}
	c := s.lookup(key)
	if c == nil {
		return Record{UserID: userID, FeatureSlug: featureSlug}, nil
	}
	return c.record(key), nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0)
	for key, c := range s.counters {
		if key.userID == userID {
			records = append(records, c.record(key))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].FeatureSlug < records[j].FeatureSlug })
	return records, nil
}

func (s *MemoryStore) Reset(_ context.Context, userID, featureSlug string, now time.Time) error {
	c := s.getOrCreate(counterKey{userID, featureSlug})
	c.value.Store(0)
	c.updatedAt.Store(now.UnixNano())
	return nil
}

func (s *MemoryStore) ResetUsers(_ context.Context, userIDs []string, now time.Time) (int64, error) {
	users := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		users[id] = struct{}{}
	}
	return s.reset(func(key counterKey) bool {
		_, ok := users[key.userID]
		return ok
	}, now), nil
}

func (s *MemoryStore) ResetAll(_ context.Context, now time.Time) (int64, error) {
	return s.reset(func(counterKey) bool { return true }, now), nil
}

func (s *MemoryStore) reset(match func(counterKey) bool, now time.Time) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for key, c := range s.counters {
		if !match(key) {
			continue
		}
		c.value.Store(0)
		c.updatedAt.Store(now.UnixNano())
		n++
	}
	return n
}
