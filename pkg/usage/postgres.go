package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PostgresStore keeps counters in the usage_records table. Increments are a
// single upsert, so the database serializes concurrent writers.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new SQL-backed usage store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Increment atomically adds amount and returns the new value
func (s *PostgresStore) Increment(ctx context.Context, userID, featureSlug string, amount int64, now time.Time) (int64, error) {
	query := `
		INSERT INTO usage_records (user_id, feature_slug, current_usage, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, feature_slug)
		DO UPDATE SET current_usage = usage_records.current_usage + EXCLUDED.current_usage,
			updated_at = EXCLUDED.updated_at
		RETURNING current_usage
	`
	var current int64
	if err := s.db.QueryRowContext(ctx, query, userID, featureSlug, amount, now.UTC()).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return current, nil
}

// Get returns a counter, or a zero Record if none exists
func (s *PostgresStore) Get(ctx context.Context, userID, featureSlug string) (Record, error) {
	query := `
		SELECT current_usage, updated_at
		FROM usage_records
		WHERE user_id = $1 AND feature_slug = $2
	`
	r := Record{UserID: userID, FeatureSlug: featureSlug}
	err := s.db.QueryRowContext(ctx, query, userID, featureSlug).Scan(&r.CurrentUsage, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get usage: %w", err)
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// List returns every counter of a user
func (s *PostgresStore) List(ctx context.Context, userID string) ([]Record, error) {
	query := `
		SELECT feature_slug, current_usage, updated_at
		FROM usage_records
		WHERE user_id = $1
		ORDER BY feature_slug
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		r := Record{UserID: userID}
		if err := rows.Scan(&r.FeatureSlug, &r.CurrentUsage, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Reset zeroes one counter, creating it if needed
func (s *PostgresStore) Reset(ctx context.Context, userID, featureSlug string, now time.Time) error {
	query := `
		INSERT INTO usage_records (user_id, feature_slug, current_usage, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id, feature_slug)
		DO UPDATE SET current_usage = 0, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, userID, featureSlug, now.UTC()); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}

// ResetUsers zeroes the counters of userIDs
func (s *PostgresStore) ResetUsers(ctx context.Context, userIDs []string, now time.Time) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	args := make([]interface{}, 0, len(userIDs)+1)
	args = append(args, now.UTC())
	placeholders := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		args = append(args, id)
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}

	query := `UPDATE usage_records SET current_usage = 0, updated_at = $1 WHERE user_id IN (` +
		strings.Join(placeholders, ", ") + `)`
	return s.exec(ctx, query, args...)
}

// ResetAll zeroes every counter
func (s *PostgresStore) ResetAll(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, `UPDATE usage_records SET current_usage = 0, updated_at = $1`, now.UTC())
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset usage: %w", err)
	}
	return n, nil
}
