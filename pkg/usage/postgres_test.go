package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_IncrementIsSingleUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO usage_records (.+) ON CONFLICT \(user_id, feature_slug\) DO UPDATE SET current_usage = usage_records.current_usage \+ EXCLUDED.current_usage, (.+) RETURNING current_usage`).
		WithArgs("u1", "api_calls", int64(3), baseTime).
		WillReturnRows(sqlmock.NewRows([]string{"current_usage"}).AddRow(int64(13)))

	n, err := NewPostgresStore(db).Increment(context.Background(), "u1", "api_calls", 3, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetUsersPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE usage_records SET current_usage = 0, updated_at = \$1 WHERE user_id IN \(\$2, \$3\)`).
		WithArgs(baseTime, "u1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := NewPostgresStore(db).ResetUsers(context.Background(), []string{"u1", "u2"}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO usage_records`).WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresStore(db).Increment(context.Background(), "u1", "api_calls", 1, baseTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to increment usage")
}
