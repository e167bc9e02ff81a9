package overrides

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE overrides (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			target_id TEXT NOT NULL,
			feature_slug TEXT NOT NULL,
			type TEXT NOT NULL,
			value INTEGER,
			reason TEXT,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)
	return db
}

func storeImpls(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sql":    func() Store { return NewPostgresStore(setupTestDB(t)) },
	}
}

func at(d time.Duration) *time.Time {
	t := baseTime.Add(d)
	return &t
}

func newOverride(scope Scope, target, slug string, typ Type, createdOffset time.Duration, expires *time.Time) *Override {
	o := &Override{
		ID:          uuid.New(),
		Scope:       scope,
		TargetID:    target,
		FeatureSlug: slug,
		Type:        typ,
		ExpiresAt:   expires,
		CreatedAt:   baseTime.Add(createdOffset),
	}
	if typ == TypeLimitIncrease {
		v := int64(100)
		o.Value = &v
	}
	return o
}

func TestStore_InsertGet(t *testing.T) {
	for name, mk := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk()

			reason := "pilot customer"
			o := newOverride(ScopeOrganization, "org1", "api_calls", TypeLimitIncrease, 0, at(time.Hour))
			o.Reason = &reason
			require.NoError(t, store.Insert(ctx, o))

			got, err := store.Get(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, o.ID, got.ID)
			assert.Equal(t, ScopeOrganization, got.Scope)
			assert.Equal(t, "org1", got.TargetID)
			assert.Equal(t, TypeLimitIncrease, got.Type)
			require.NotNil(t, got.Value)
			assert.Equal(t, int64(100), *got.Value)
			require.NotNil(t, got.Reason)
			assert.Equal(t, reason, *got.Reason)
			require.NotNil(t, got.ExpiresAt)
			assert.True(t, got.ExpiresAt.Equal(*o.ExpiresAt))
			assert.True(t, got.CreatedAt.Equal(o.CreatedAt))

			_, err = store.Get(ctx, uuid.New())
			assert.True(t, errdefs.IsNotFoundKind(err, errdefs.KindOverride))
		})
	}
}

func TestStore_ListFilters(t *testing.T) {
	for name, mk := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk()
			now := baseTime.Add(10 * time.Minute)

			active := newOverride(ScopeUser, "u1", "export_data", TypeFeatureEnable, 0, nil)
			expired := newOverride(ScopeUser, "u1", "reports", TypeFeatureDisable, time.Minute, at(5*time.Minute))
			expiringNow := newOverride(ScopeUser, "u1", "reports", TypeFeatureEnable, 2*time.Minute, at(10*time.Minute))
			future := newOverride(ScopeUser, "u1", "api_calls", TypeLimitIncrease, 3*time.Minute, at(time.Hour))
			other := newOverride(ScopeOrganization, "org1", "export_data", TypeFeatureEnable, 4*time.Minute, nil)
			for _, o := range []*Override{other, future, expiringNow, expired, active} {
				require.NoError(t, store.Insert(ctx, o))
			}

			all, err := store.List(ctx, ListFilter{}, now)
			require.NoError(t, err)
			require.Len(t, all, 5)
			assert.Equal(t, active.ID, all[0].ID, "ordered by creation time")
			assert.Equal(t, other.ID, all[4].ID)

			activeOnly, err := store.List(ctx, ListFilter{Scope: ScopeUser, TargetID: "u1", Status: StatusActive}, now)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{active.ID, future.ID}, ids(activeOnly))

			expiredOnly, err := store.List(ctx, ListFilter{Status: StatusExpired}, now)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{expired.ID, expiringNow.ID}, ids(expiredOnly))

			bySlug, err := store.List(ctx, ListFilter{FeatureSlug: "export_data"}, now)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{active.ID, other.ID}, ids(bySlug))

			none, err := store.List(ctx, ListFilter{TargetID: "nobody"}, now)
			require.NoError(t, err)
			assert.Empty(t, none)
			assert.NotNil(t, none)
		})
	}
}

func TestStore_UpdateDelete(t *testing.T) {
	for name, mk := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk()

			o := newOverride(ScopeUser, "u1", "api_calls", TypeLimitIncrease, 0, at(time.Hour))
			require.NoError(t, store.Insert(ctx, o))

			v := int64(250)
			reason := "renewal"
			o.Value = &v
			o.Reason = &reason
			o.ExpiresAt = nil
			require.NoError(t, store.Update(ctx, o))

			got, err := store.Get(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(250), *got.Value)
			assert.Equal(t, "renewal", *got.Reason)
			assert.Nil(t, got.ExpiresAt)

			require.NoError(t, store.Delete(ctx, o.ID))
			_, err = store.Get(ctx, o.ID)
			assert.True(t, errdefs.IsNotFound(err))

			assert.True(t, errdefs.IsNotFound(store.Delete(ctx, o.ID)))
			assert.True(t, errdefs.IsNotFound(store.Update(ctx, o)))
		})
	}
}

func TestStore_DeleteExpired(t *testing.T) {
	for name, mk := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk()
			now := baseTime.Add(10 * time.Minute)

			keep := newOverride(ScopeUser, "u1", "reports", TypeFeatureEnable, 0, nil)
			keepFuture := newOverride(ScopeUser, "u1", "reports", TypeFeatureEnable, time.Second, at(time.Hour))
			drop := newOverride(ScopeUser, "u1", "reports", TypeFeatureDisable, 2*time.Second, at(time.Minute))
			dropAtNow := newOverride(ScopeOrganization, "org1", "reports", TypeFeatureDisable, 3*time.Second, at(10*time.Minute))
			for _, o := range []*Override{keep, keepFuture, drop, dropAtNow} {
				require.NoError(t, store.Insert(ctx, o))
			}

			n, err := store.DeleteExpired(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			remaining, err := store.List(ctx, ListFilter{}, now)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{keep.ID, keepFuture.ID}, ids(remaining))

			n, err = store.DeleteExpired(ctx, now)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestMemoryStore_CleanupConcurrentWithReads(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := baseTime.Add(time.Hour)

	const total = 200
	for i := 0; i < total; i++ {
		var expires *time.Time
		if i%2 == 0 {
			expires = at(time.Minute)
		}
		require.NoError(t, store.Insert(ctx, newOverride(ScopeUser, "u1", "reports", TypeFeatureEnable, time.Duration(i)*time.Second, expires)))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = store.DeleteExpired(ctx, now)
	}()

	for i := 0; i < 50; i++ {
		got, err := store.List(ctx, ListFilter{}, now)
		require.NoError(t, err)
		assert.Contains(t, []int{total, total / 2}, len(got), "reader observed a partial cleanup")
	}
	<-done

	got, err := store.List(ctx, ListFilter{}, now)
	require.NoError(t, err)
	assert.Len(t, got, total/2)
}

func ids(list []Override) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}
