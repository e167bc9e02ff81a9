package entitlements

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/overrides"
)

const (
	memoCacheLabel = "resolver"
	// memoResolveTimeout bounds a resolution shared by several callers
	memoResolveTimeout = 30 * time.Second
)

type memoKey struct {
	userID, orgID string
}

// MemoResolver memoizes another Resolver in an expiring LRU. Concurrent
// misses for the same pair share one resolution. Invalidate* must be called
// when overrides, roles or usage change so stale maps are not served past
// the next read.
type MemoResolver struct {
	inner      Resolver
	cache      *expirable.LRU[memoKey, *PermissionMap]
	group      singleflight.Group
	generation atomic.Uint64
	metrics    *observability.Metrics
}

// NewMemoResolver wraps inner with an LRU of size entries, each valid for ttl
func NewMemoResolver(inner Resolver, size int, ttl time.Duration, metrics *observability.Metrics) *MemoResolver {
	return &MemoResolver{
		inner:   inner,
		cache:   expirable.NewLRU[memoKey, *PermissionMap](size, nil, ttl),
		metrics: metrics,
	}
}

// Resolve returns a memoized map when one is cached
func (m *MemoResolver) Resolve(ctx context.Context, userID, orgID string) (*PermissionMap, error) {
	key := memoKey{userID, orgID}
	if pm, ok := m.cache.Get(key); ok {
		m.count(true)
		return pm.Clone(), nil
	}
	m.count(false)

	// the shared call outlives any single caller's cancellation
	ch := m.group.DoChan(userID+"\x00"+orgID, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), memoResolveTimeout)
		defer cancel()

		gen := m.generation.Load()
		pm, err := m.inner.Resolve(rctx, userID, orgID)
		if err != nil {
			return nil, err
		}
		// an invalidation during the resolve makes this result stale
		if m.generation.Load() == gen {
			m.cache.Add(key, pm)
		}
		return pm, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PermissionMap).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InvalidateUser drops every cached map of userID
func (m *MemoResolver) InvalidateUser(userID string) {
	m.generation.Add(1)
	if userID == "" {
		m.cache.Purge()
		return
	}
	for _, key := range m.cache.Keys() {
		if key.userID == userID {
			m.cache.Remove(key)
		}
	}
}

// InvalidateOrganization drops every cached map resolved in orgID
func (m *MemoResolver) InvalidateOrganization(orgID string) {
	m.generation.Add(1)
	for _, key := range m.cache.Keys() {
		if key.orgID == orgID {
			m.cache.Remove(key)
		}
	}
}

// OverrideChanged invalidates the maps an override can affect. It matches
// overrides.ChangeFunc.
func (m *MemoResolver) OverrideChanged(o overrides.Override) {
	if o.Scope == overrides.ScopeOrganization {
		m.InvalidateOrganization(o.TargetID)
		return
	}
	m.InvalidateUser(o.TargetID)
}

// Purge drops every cached map
func (m *MemoResolver) Purge() {
	m.generation.Add(1)
	m.cache.Purge()
}

// Len returns the number of cached maps
func (m *MemoResolver) Len() int {
	return m.cache.Len()
}

func (m *MemoResolver) count(hit bool) {
	if m.metrics == nil {
		return
	}
	if hit {
		m.metrics.CacheHitsTotal.WithLabelValues(memoCacheLabel).Inc()
	} else {
		m.metrics.CacheMissesTotal.WithLabelValues(memoCacheLabel).Inc()
	}
}

var _ Resolver = (*MemoResolver)(nil)
