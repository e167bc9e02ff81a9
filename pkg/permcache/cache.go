package permcache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/entitlements/pkg/entitlements"
	"github.com/platinummonkey/entitlements/pkg/observability"
)

const (
	// DefaultTTL is how long a resolved map is served without re-resolving
	DefaultTTL = 60 * time.Second
	// DefaultAutoRefreshInterval is the period of StartAutoRefresh
	DefaultAutoRefreshInterval = 5 * time.Minute
	// DefaultResolveTimeout bounds one resolver call
	DefaultResolveTimeout = 30 * time.Second

	cacheLabel = "session"
)

// Cache holds the permission map of one user in one organization for an
// interactive session. Readers never block on I/O; Refresh coalesces
// overlapping calls onto one resolver call.
type Cache struct {
	resolver entitlements.Resolver
	userID   string
	orgID    string

	clock          clockwork.Clock
	ttl            time.Duration
	interval       time.Duration
	resolveTimeout time.Duration
	logger         *observability.Logger
	metrics        *observability.Metrics

	group singleflight.Group
	// issued numbers Refresh calls in call order
	issued atomic.Uint64

	genMu      sync.Mutex
	generation uint64

	mu         sync.RWMutex
	current    *entitlements.PermissionMap
	fetchedAt  time.Time
	appliedSeq uint64
	lastErr    error

	autoMu sync.Mutex
	auto   *AutoRefresh
}

// Option configures a Cache
type Option func(*Cache)

// WithClock sets the clock used for TTL checks and the auto refresh ticker
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithAutoRefreshInterval overrides DefaultAutoRefreshInterval
func WithAutoRefreshInterval(d time.Duration) Option {
	return func(c *Cache) { c.interval = d }
}

// WithResolveTimeout overrides DefaultResolveTimeout
func WithResolveTimeout(d time.Duration) Option {
	return func(c *Cache) { c.resolveTimeout = d }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache for userID in orgID
func New(resolver entitlements.Resolver, userID, orgID string, opts ...Option) *Cache {
	c := &Cache{
		resolver:       resolver,
		userID:         userID,
		orgID:          orgID,
		clock:          clockwork.NewRealClock(),
		ttl:            DefaultTTL,
		interval:       DefaultAutoRefreshInterval,
		resolveTimeout: DefaultResolveTimeout,
		logger:         observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("permcache").ForSubject(userID, orgID)
	return c
}

// fresh returns the cached map if it is younger than the TTL
func (c *Cache) fresh() *entitlements.PermissionMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || c.clock.Since(c.fetchedAt) >= c.ttl {
		return nil
	}
	return c.current
}

// nextFlight picks the in-flight call to join and reserves a sequence
// number in call order. A forced refresh opens a new generation so it never
// joins a call that started before it; later non-forced callers join the
// newest generation.
func (c *Cache) nextFlight(force bool) (string, uint64) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if force {
		c.generation++
	}
	return strconv.FormatUint(c.generation, 10), c.issued.Add(1)
}

// Refresh returns the cached map while it is within the TTL, unless force is
// set. Otherwise it resolves, joining an in-flight call when one exists.
// Results are applied in call order: a slow call that finishes after a newer
// one does not overwrite it, and its callers receive the newer map.
func (c *Cache) Refresh(ctx context.Context, force bool) (*entitlements.PermissionMap, error) {
	if !force {
		if pm := c.fresh(); pm != nil {
			c.count(true)
			return pm.Clone(), nil
		}
	}
	c.count(false)

	trigger := "expired"
	if force {
		trigger = "forced"
	}

	key, seq := c.nextFlight(force)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.resolve(ctx, seq, trigger)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entitlements.PermissionMap).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve runs one resolver call detached from the caller's cancellation, so
// a caller that gives up does not fail the others sharing the call
func (c *Cache) resolve(ctx context.Context, seq uint64, trigger string) (*entitlements.PermissionMap, error) {
	if c.metrics != nil {
		c.metrics.CacheRefreshesTotal.WithLabelValues(trigger).Inc()
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.resolveTimeout)
	defer cancel()

	pm, err := c.resolver.Resolve(rctx, c.userID, c.orgID)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CacheRefreshErrors.Inc()
		}
		return c.fail(seq, err)
	}
	return c.apply(seq, pm), nil
}

// fail records err unless a newer call has already been applied, in which
// case callers of the superseded call get that newer map
func (c *Cache) fail(seq uint64, err error) (*entitlements.PermissionMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.appliedSeq {
		c.lastErr = err
		return nil, err
	}
	if c.current != nil {
		return c.current, nil
	}
	return nil, err
}

// apply stores pm if seq is newer than the last applied result and returns
// the map now current
func (c *Cache) apply(seq uint64, pm *entitlements.PermissionMap) *entitlements.PermissionMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.appliedSeq {
		c.current = pm
		c.fetchedAt = c.clock.Now()
		c.appliedSeq = seq
		c.lastErr = nil
	}
	if c.current == nil {
		// cleared while in flight
		return pm
	}
	return c.current
}

// Clear drops the cached map. Results of calls started before Clear are
// discarded and later refreshes do not join those calls.
func (c *Cache) Clear() {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.generation++

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.fetchedAt = time.Time{}
	c.lastErr = nil
	c.appliedSeq = c.issued.Load()
}

// Snapshot returns a copy of the cached map, or nil before the first
// successful resolve
func (c *Cache) Snapshot() *entitlements.PermissionMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Clone()
}

// FetchedAt returns when the cached map was stored
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// LastError returns the error of the most recent failed resolve, cleared by
// the next successful one
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Cache) read(fn func(pm *entitlements.PermissionMap)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.current)
}

// Can reports enabled and not exceeded. False before the first resolve.
func (c *Cache) Can(slug string) (ok bool) {
	c.read(func(pm *entitlements.PermissionMap) { ok = pm.Can(slug) })
	return ok
}

// HasFeature reports the enabled flag alone
func (c *Cache) HasFeature(slug string) (ok bool) {
	c.read(func(pm *entitlements.PermissionMap) { ok = pm.Enabled(slug) })
	return ok
}

// Limit returns the resolved maximum, nil when unlimited or unresolved
func (c *Cache) Limit(slug string) (limit *int64) {
	c.read(func(pm *entitlements.PermissionMap) { limit = pm.Limit(slug) })
	return limit
}

// IsLimitExceeded reports whether a finite limit is used up
func (c *Cache) IsLimitExceeded(slug string) (exceeded bool) {
	c.read(func(pm *entitlements.PermissionMap) { exceeded = pm.Exceeded(slug) })
	return exceeded
}

// Usage returns the cached usage, 0 before the first resolve
func (c *Cache) Usage(slug string) (used int64) {
	c.read(func(pm *entitlements.PermissionMap) { used = pm.Usage(slug) })
	return used
}

func (c *Cache) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(cacheLabel).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(cacheLabel).Inc()
	}
}
