package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/orgs"
)

func testCatalog() *features.MemoryCatalog {
	return features.NewMemoryCatalog(
		features.Feature{Slug: "api_calls", Name: "API calls"},
		features.Feature{Slug: "seats", Name: "Seats"},
	)
}

func newTestTracker(t *testing.T, opts ...Option) *Tracker {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return baseTime })}, opts...)
	return NewTracker(NewMemoryStore(0), testCatalog(), opts...)
}

func TestTracker_RecordUsage(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	var changed []string
	tr := newTestTracker(t, WithMetrics(metrics), OnChange(func(userID string) { changed = append(changed, userID) }))

	res, err := tr.RecordUsage(ctx, "u1", "api_calls", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.CurrentUsage)

	res, err = tr.RecordUsage(ctx, "u1", "api_calls", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.CurrentUsage)

	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.UsageIncrementsTotal.WithLabelValues("api_calls")))
	assert.Equal(t, []string{"u1", "u1"}, changed)
}

func TestTracker_RecordUsageValidation(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	_, err := tr.RecordUsage(ctx, "u1", "api_calls", 0)
	assert.True(t, errdefs.IsValidation(err))

	_, err = tr.RecordUsage(ctx, "u1", "api_calls", -3)
	assert.True(t, errdefs.IsValidation(err))

	_, err = tr.RecordUsage(ctx, "", "api_calls", 1)
	assert.True(t, errdefs.IsValidation(err))

	_, err = tr.RecordUsage(ctx, "u1", "teleport", 1)
	assert.True(t, errdefs.IsNotFoundKind(err, errdefs.KindFeature))

	records, err := tr.GetUsage(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, records, "rejected calls must not create counters")
}

func TestTracker_GetUsage(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	_, err := tr.RecordUsage(ctx, "u1", "api_calls", 2)
	require.NoError(t, err)
	_, err = tr.RecordUsage(ctx, "u1", "seats", 1)
	require.NoError(t, err)

	one, err := tr.GetUsage(ctx, "u1", "seats")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, int64(1), one[0].CurrentUsage)

	all, err := tr.GetUsage(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	untouched, err := tr.GetUsage(ctx, "u2", "api_calls")
	require.NoError(t, err)
	require.Len(t, untouched, 1)
	assert.Zero(t, untouched[0].CurrentUsage)
}

func TestTracker_ResetUsage(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	_, err := tr.RecordUsage(ctx, "u1", "api_calls", 9)
	require.NoError(t, err)
	require.NoError(t, tr.ResetUsage(ctx, "u1", "api_calls"))

	got, err := tr.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Zero(t, got[0].CurrentUsage)

	assert.True(t, errdefs.IsNotFound(tr.ResetUsage(ctx, "u1", "teleport")))
}

func TestTracker_ConcurrentRecordUsage(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	const k = 100
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.RecordUsage(ctx, "u1", "api_calls", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := tr.GetUsage(ctx, "u1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(k), got[0].CurrentUsage)
}

func TestTracker_ResetAll(t *testing.T) {
	ctx := context.Background()
	dir := orgs.NewMemoryService()
	require.NoError(t, dir.CreateOrganization(ctx, &orgs.Organization{ID: "org1", Name: "Acme"}))
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, dir.UpsertUser(ctx, &orgs.User{ID: id}))
	}
	require.NoError(t, dir.AddMember(ctx, "org1", "u1"))
	require.NoError(t, dir.AddMember(ctx, "org1", "u2"))

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	tr := newTestTracker(t, WithDirectory(dir), WithMetrics(metrics))

	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := tr.RecordUsage(ctx, id, "api_calls", 10)
		require.NoError(t, err)
	}

	res, err := tr.ResetAll(ctx, "org1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.ResetCount)

	outside, err := tr.GetUsage(ctx, "u3", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(10), outside[0].CurrentUsage)

	_, err = tr.ResetAll(ctx, "missing-org")
	assert.True(t, errdefs.IsNotFoundKind(err, errdefs.KindOrganization))

	res, err = tr.ResetAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.ResetCount)

	outside, err = tr.GetUsage(ctx, "u3", "api_calls")
	require.NoError(t, err)
	assert.Zero(t, outside[0].CurrentUsage)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.UsageResetsTotal.WithLabelValues("org")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.UsageResetsTotal.WithLabelValues("all")))
}

func TestTracker_ResetAllOrgRequiresDirectory(t *testing.T) {
	_, err := newTestTracker(t).ResetAll(context.Background(), "org1")
	assert.True(t, errdefs.IsValidation(err))
}

type contendedStore struct {
	Store
}

func (contendedStore) Increment(context.Context, string, string, int64, time.Time) (int64, error) {
	return 0, &errdefs.ConcurrencyError{Op: "usage increment", Attempts: DefaultMaxRetries}
}

func TestTracker_ContentionSurfaces(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	tr := NewTracker(contendedStore{NewMemoryStore(0)}, testCatalog(), WithMetrics(metrics))

	_, err := tr.RecordUsage(context.Background(), "u1", "api_calls", 1)
	assert.True(t, errdefs.IsConcurrency(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UsageContentionTotal))
	assert.Zero(t, testutil.ToFloat64(metrics.UsageIncrementsTotal.WithLabelValues("api_calls")))
}
