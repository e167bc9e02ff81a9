package overrides

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/storage/postgres"
)

// PostgresStore is a Store backed by the overrides table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new SQL-backed override store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const overrideColumns = `id, scope, target_id, feature_slug, type, value, reason, expires_at, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOverride(row rowScanner) (*Override, error) {
	var (
		o         Override
		value     sql.NullInt64
		reason    sql.NullString
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.Scope,
		&o.TargetID,
		&o.FeatureSlug,
		&o.Type,
		&value,
		&reason,
		&expiresAt,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if value.Valid {
		o.Value = &value.Int64
	}
	if reason.Valid {
		o.Reason = &reason.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		o.ExpiresAt = &t
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Insert stores a new override
func (s *PostgresStore) Insert(ctx context.Context, o *Override) error {
	query := `
		INSERT INTO overrides (` + overrideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		o.ID,
		string(o.Scope),
		o.TargetID,
		o.FeatureSlug,
		string(o.Type),
		o.Value,
		o.Reason,
		nullTime(o.ExpiresAt),
		o.CreatedAt.UTC(),
	)
	if postgres.IsUniqueViolation(err) {
		return errdefs.Conflict("override %s already exists", o.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert override: %w", err)
	}
	return nil
}

// Get retrieves an override by ID
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Override, error) {
	query := `SELECT ` + overrideColumns + ` FROM overrides WHERE id = $1`

	o, err := scanOverride(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound(errdefs.KindOverride, id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get override: %w", err)
	}
	return o, nil
}

// List returns overrides matching filter, oldest first
func (s *PostgresStore) List(ctx context.Context, filter ListFilter, now time.Time) ([]Override, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Scope != "" {
		conditions = append(conditions, "scope = "+arg(string(filter.Scope)))
	}
	if filter.TargetID != "" {
		conditions = append(conditions, "target_id = "+arg(filter.TargetID))
	}
	if filter.FeatureSlug != "" {
		conditions = append(conditions, "feature_slug = "+arg(filter.FeatureSlug))
	}
	switch filter.Status {
	case StatusActive:
		conditions = append(conditions, "(expires_at IS NULL OR expires_at > "+arg(now.UTC())+")")
	case StatusExpired:
		conditions = append(conditions, "expires_at IS NOT NULL AND expires_at <= "+arg(now.UTC()))
	}

	query := `SELECT ` + overrideColumns + ` FROM overrides`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	result := make([]Override, 0)
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// Update writes value, reason and expires_at
func (s *PostgresStore) Update(ctx context.Context, o *Override) error {
	query := `UPDATE overrides SET value = $1, reason = $2, expires_at = $3 WHERE id = $4`

	res, err := s.db.ExecContext(ctx, query, o.Value, o.Reason, nullTime(o.ExpiresAt), o.ID)
	if err != nil {
		return fmt.Errorf("failed to update override: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errdefs.NotFound(errdefs.KindOverride, o.ID.String())
	}
	return nil
}

// Delete removes an override
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM overrides WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errdefs.NotFound(errdefs.KindOverride, id.String())
	}
	return nil
}

// DeleteExpired removes expired overrides in a single statement
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM overrides WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired overrides: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired overrides: %w", err)
	}
	return n, nil
}
