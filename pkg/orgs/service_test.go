package orgs

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

func newMockService(t *testing.T) (*PostgresService, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewPostgresService(db)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return svc, mock
}

func TestGetUser(t *testing.T) {
	ctx := context.Background()

	t.Run("found with plan", func(t *testing.T) {
		svc, mock := newMockService(t)
		now := time.Now()
		mock.ExpectQuery(`SELECT id, email, plan_id, created_at FROM users WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "plan_id", "created_at"}).
				AddRow("u1", "a@example.com", "pro", now))

		user, err := svc.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "pro", user.PlanID)
		assert.Equal(t, "a@example.com", user.Email)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null plan", func(t *testing.T) {
		svc, mock := newMockService(t)
		mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
			WithArgs("u2").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "plan_id", "created_at"}).
				AddRow("u2", nil, nil, time.Now()))

		user, err := svc.GetUser(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, user.PlanID)
	})

	t.Run("unknown", func(t *testing.T) {
		svc, mock := newMockService(t)
		mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := svc.GetUser(ctx, "ghost")
		assert.True(t, errdefs.IsNotFoundKind(err, errdefs.KindUser))
	})

	t.Run("database error", func(t *testing.T) {
		svc, mock := newMockService(t)
		mock.ExpectQuery(`SELECT (.+) FROM users`).WillReturnError(errors.New("connection reset"))

		_, err := svc.GetUser(ctx, "u1")
		require.Error(t, err)
		assert.False(t, errdefs.IsNotFound(err))
		assert.Contains(t, err.Error(), "failed to get user")
	})
}

func TestGetOrganization(t *testing.T) {
	ctx := context.Background()
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT id, name, created_at FROM organizations WHERE id = \$1`).
		WithArgs("org1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).AddRow("org1", "Acme", time.Now()))
	mock.ExpectQuery(`SELECT (.+) FROM organizations WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	org, err := svc.GetOrganization(ctx, "org1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)

	_, err = svc.GetOrganization(ctx, "nope")
	assert.True(t, errdefs.IsNotFoundKind(err, errdefs.KindOrganization))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrganizationConflict(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectExec(`INSERT INTO organizations`).
		WithArgs("org1", "Acme", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	err := svc.CreateOrganization(context.Background(), &Organization{ID: "org1", Name: "Acme"})
	assert.True(t, errdefs.IsConflict(err))
}

func TestUpsertUser(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectExec(`INSERT INTO users (.+) ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("u1", sql.NullString{}, sql.NullString{String: "free", Valid: true}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := &User{ID: "u1", PlanID: "free"}
	require.NoError(t, svc.UpsertUser(context.Background(), user))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), user.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUserPlan(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectExec(`UPDATE users SET plan_id = \$1 WHERE id = \$2`).
		WithArgs(sql.NullString{String: "pro", Valid: true}, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET plan_id`).
		WithArgs(sql.NullString{String: "pro", Valid: true}, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, svc.SetUserPlan(context.Background(), "u1", "pro"))
	err := svc.SetUserPlan(context.Background(), "ghost", "pro")
	assert.True(t, errdefs.IsNotFoundKind(err, errdefs.KindUser))
}

func TestListMemberIDs(t *testing.T) {
	ctx := context.Background()

	t.Run("members", func(t *testing.T) {
		svc, mock := newMockService(t)
		mock.ExpectQuery(`SELECT (.+) FROM organizations WHERE id = \$1`).
			WithArgs("org1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).AddRow("org1", "Acme", time.Now()))
		mock.ExpectQuery(`SELECT user_id FROM organization_members WHERE organization_id = \$1 ORDER BY user_id`).
			WithArgs("org1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

		ids, err := svc.ListMemberIDs(ctx, "org1")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, ids)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown organization", func(t *testing.T) {
		svc, mock := newMockService(t)
		mock.ExpectQuery(`SELECT (.+) FROM organizations`).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := svc.ListMemberIDs(ctx, "nope")
		assert.True(t, errdefs.IsNotFoundKind(err, errdefs.KindOrganization))
	})
}

func TestAddAndRemoveMember(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectExec(`INSERT INTO organization_members (.+) ON CONFLICT \(organization_id, user_id\) DO NOTHING`).
		WithArgs("org1", "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM organization_members WHERE organization_id = \$1 AND user_id = \$2`).
		WithArgs("org1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.AddMember(context.Background(), "org1", "u1"))
	require.NoError(t, svc.RemoveMember(context.Background(), "org1", "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
