package permcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitlements/pkg/entitlements"
	"github.com/platinummonkey/entitlements/pkg/observability"
)

var start = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// stubResolver numbers its calls; call n reports n as api_calls usage so
// tests can tell which call produced a map
type stubResolver struct {
	mu    sync.Mutex
	calls int
	gates map[int]chan struct{}
	errs  map[int]error
}

func newStub() *stubResolver {
	return &stubResolver{gates: map[int]chan struct{}{}, errs: map[int]error{}}
}

func (s *stubResolver) Resolve(_ context.Context, userID, orgID string) (*entitlements.PermissionMap, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	gate := s.gates[n]
	err := s.errs[n]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	max := int64(3)
	remaining := max - int64(n)
	if remaining < 0 {
		remaining = 0
	}
	return &entitlements.PermissionMap{
		UserID:         userID,
		OrganizationID: orgID,
		Features:       map[string]bool{"api_calls": true, "reports": false},
		Limits: map[string]entitlements.LimitStatus{
			"api_calls": {Max: &max, Used: int64(n), Remaining: &remaining, Exceeded: int64(n) >= max},
			"reports":   {},
		},
		ResolvedAt: start,
	}, nil
}

func (s *stubResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubResolver) gate(n int) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[n] = ch
	return ch
}

func (s *stubResolver) failOn(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[n] = err
}

func newTestCache(stub *stubResolver, opts ...Option) (*Cache, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(start)
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(stub, "u1", "org1", opts...), clock
}

func TestCache_DefaultsBeforeFirstResolve(t *testing.T) {
	c, _ := newTestCache(newStub())

	assert.False(t, c.Can("api_calls"))
	assert.False(t, c.HasFeature("api_calls"))
	assert.Nil(t, c.Limit("api_calls"))
	assert.False(t, c.IsLimitExceeded("api_calls"))
	assert.Zero(t, c.Usage("api_calls"))
	assert.Nil(t, c.Snapshot())
	assert.NoError(t, c.LastError())
}

func TestCache_RefreshWithinTTLResolvesOnce(t *testing.T) {
	stub := newStub()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c, clock := newTestCache(stub, WithMetrics(metrics))
	ctx := context.Background()

	_, err := c.Refresh(ctx, false)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	pm, err := c.Refresh(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.callCount())
	assert.Equal(t, int64(1), pm.Usage("api_calls"))

	clock.Advance(30 * time.Second)
	pm, err = c.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.callCount(), "TTL elapsed")
	assert.Equal(t, int64(2), pm.Usage("api_calls"))

	_, err = c.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, stub.callCount(), "forced refresh ignores TTL")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("session")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRefreshesTotal.WithLabelValues("forced")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheRefreshesTotal.WithLabelValues("expired")))
}

func TestCache_ReadersUseSnapshot(t *testing.T) {
	stub := newStub()
	c, _ := newTestCache(stub)
	ctx := context.Background()

	_, err := c.Refresh(ctx, true)
	require.NoError(t, err)
	assert.True(t, c.Can("api_calls"))
	assert.True(t, c.HasFeature("api_calls"))
	assert.Equal(t, int64(3), *c.Limit("api_calls"))
	assert.False(t, c.HasFeature("reports"))
	assert.Nil(t, c.Limit("reports"))

	_, err = c.Refresh(ctx, true)
	require.NoError(t, err)
	_, err = c.Refresh(ctx, true)
	require.NoError(t, err)

	// third call reports used=3 against max=3
	assert.True(t, c.IsLimitExceeded("api_calls"))
	assert.False(t, c.Can("api_calls"))
	assert.True(t, c.HasFeature("api_calls"))
	assert.Equal(t, int64(3), c.Usage("api_calls"))

	snap := c.Snapshot()
	snap.Features["api_calls"] = false
	assert.True(t, c.HasFeature("api_calls"), "snapshots are copies")
}

func TestCache_ConcurrentRefreshesCoalesce(t *testing.T) {
	stub := newStub()
	gate := stub.gate(1)
	c, _ := newTestCache(stub)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan *entitlements.PermissionMap, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pm, err := c.Refresh(context.Background(), false)
			assert.NoError(t, err)
			results <- pm
		}()
	}

	require.Eventually(t, func() bool { return stub.callCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	assert.Equal(t, 1, stub.callCount())
	for pm := range results {
		assert.Equal(t, int64(1), pm.Usage("api_calls"))
	}
}

func TestCache_SlowStaleResultDoesNotOverwriteNewer(t *testing.T) {
	stub := newStub()
	slow := stub.gate(1)
	c, _ := newTestCache(stub)
	ctx := context.Background()

	first := make(chan *entitlements.PermissionMap, 1)
	go func() {
		pm, err := c.Refresh(ctx, true)
		assert.NoError(t, err)
		first <- pm
	}()
	require.Eventually(t, func() bool { return stub.callCount() == 1 }, time.Second, time.Millisecond)

	second, err := c.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.callCount(), "forced refresh does not join an older call")
	assert.Equal(t, int64(2), second.Usage("api_calls"))

	close(slow)
	stale := <-first
	assert.Equal(t, int64(2), stale.Usage("api_calls"), "superseded caller gets the newer map")
	assert.Equal(t, int64(2), c.Usage("api_calls"))
}

func TestCache_ForcedRefreshPropagatesErrors(t *testing.T) {
	stub := newStub()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c, _ := newTestCache(stub, WithMetrics(metrics))
	ctx := context.Background()

	_, err := c.Refresh(ctx, true)
	require.NoError(t, err)

	boom := errors.New("resolver unavailable")
	stub.failOn(2, boom)
	_, err = c.Refresh(ctx, true)
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, c.LastError(), boom)
	assert.Equal(t, int64(1), c.Usage("api_calls"), "last good map is kept")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRefreshErrors))

	_, err = c.Refresh(ctx, true)
	require.NoError(t, err)
	assert.NoError(t, c.LastError())
}

func TestCache_CallerCancellationDoesNotAbortSharedCall(t *testing.T) {
	stub := newStub()
	gate := stub.gate(1)
	c, _ := newTestCache(stub)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, false)
		errc <- err
	}()
	require.Eventually(t, func() bool { return stub.callCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool { return c.Snapshot() != nil }, time.Second, time.Millisecond)
}

func TestCache_Clear(t *testing.T) {
	stub := newStub()
	c, _ := newTestCache(stub)
	ctx := context.Background()

	_, err := c.Refresh(ctx, false)
	require.NoError(t, err)
	require.True(t, c.HasFeature("api_calls"))

	c.Clear()
	assert.Nil(t, c.Snapshot())
	assert.False(t, c.HasFeature("api_calls"))
	assert.True(t, c.FetchedAt().IsZero())

	_, err = c.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.callCount(), "clear forces the next refresh to resolve")
}

func TestCache_ClearDiscardsInFlightResult(t *testing.T) {
	stub := newStub()
	gate := stub.gate(1)
	c, _ := newTestCache(stub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Refresh(context.Background(), true)
	}()
	require.Eventually(t, func() bool { return stub.callCount() == 1 }, time.Second, time.Millisecond)

	c.Clear()
	close(gate)
	<-done
	assert.Nil(t, c.Snapshot())
}

func TestCache_RefreshAfterClearStartsNewCall(t *testing.T) {
	stub := newStub()
	gate := stub.gate(1)
	c, _ := newTestCache(stub)
	ctx := context.Background()

	before := make(chan *entitlements.PermissionMap, 1)
	go func() {
		pm, err := c.Refresh(ctx, false)
		assert.NoError(t, err)
		before <- pm
	}()
	require.Eventually(t, func() bool { return stub.callCount() == 1 }, time.Second, time.Millisecond)

	c.Clear()
	pm, err := c.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.callCount(), "refresh after Clear does not join the discarded call")
	assert.Equal(t, int64(2), pm.Usage("api_calls"))
	require.NotNil(t, c.Snapshot())
	assert.True(t, c.HasFeature("api_calls"))

	close(gate)
	stale := <-before
	assert.Equal(t, int64(2), stale.Usage("api_calls"))
	assert.Equal(t, int64(2), c.Usage("api_calls"), "discarded call is not applied")
}

func TestCache_SupersededFailureIsNotReported(t *testing.T) {
	stub := newStub()
	slow := stub.gate(1)
	stub.failOn(1, errors.New("slow old failure"))
	c, _ := newTestCache(stub)
	ctx := context.Background()

	type result struct {
		pm  *entitlements.PermissionMap
		err error
	}
	first := make(chan result, 1)
	go func() {
		pm, err := c.Refresh(ctx, true)
		first <- result{pm, err}
	}()
	require.Eventually(t, func() bool { return stub.callCount() == 1 }, time.Second, time.Millisecond)

	_, err := c.Refresh(ctx, true)
	require.NoError(t, err)

	close(slow)
	old := <-first
	require.NoError(t, old.err, "superseded caller gets the newer map")
	assert.Equal(t, int64(2), old.pm.Usage("api_calls"))
	assert.NoError(t, c.LastError())
	assert.Equal(t, int64(2), c.Usage("api_calls"))
}

func TestCache_SequenceReservedInCallOrder(t *testing.T) {
	c, _ := newTestCache(newStub())

	k1, s1 := c.nextFlight(true)
	k2, s2 := c.nextFlight(true)
	k3, s3 := c.nextFlight(false)
	assert.NotEqual(t, k1, k2, "forced refresh opens a new flight")
	assert.Equal(t, k2, k3, "non-forced refresh joins the newest flight")
	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)

	c.Clear()
	k4, s4 := c.nextFlight(false)
	assert.NotEqual(t, k3, k4, "Clear retires in-flight calls")
	assert.Less(t, s3, s4)
}
