package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/entitlements/pkg/observability"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns every schema migration in version order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create directory tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT,
					plan_id TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organization_members (
					organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_organization_members_user_id ON organization_members(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and user_roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id TEXT PRIMARY KEY,
					organization_id TEXT REFERENCES organizations(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					display_name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					grants JSONB NOT NULL DEFAULT '[]',
					is_built_in BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (organization_id, name)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id TEXT NOT NULL,
					role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE RESTRICT,
					organization_id TEXT NOT NULL,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ,
					UNIQUE (user_id, role_id, organization_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_user_org ON user_roles(user_id, organization_id);
				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS overrides (
					id UUID PRIMARY KEY,
					scope TEXT NOT NULL CHECK (scope IN ('user', 'org')),
					target_id TEXT NOT NULL,
					feature_slug TEXT NOT NULL,
					type TEXT NOT NULL CHECK (type IN ('feature_enable', 'feature_disable', 'limit_increase')),
					value BIGINT CHECK (value IS NULL OR value > 0),
					reason TEXT,
					expires_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK ((type = 'limit_increase') = (value IS NOT NULL))
				);

				CREATE INDEX IF NOT EXISTS idx_overrides_scope_target ON overrides(scope, target_id);
				CREATE INDEX IF NOT EXISTS idx_overrides_expires_at ON overrides(expires_at) WHERE expires_at IS NOT NULL;
			`,
		},
		{
			Version:     4,
			Description: "Create usage_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS usage_records (
					user_id TEXT NOT NULL,
					feature_slug TEXT NOT NULL,
					current_usage BIGINT NOT NULL DEFAULT 0 CHECK (current_usage >= 0),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, feature_slug)
				);
			`,
		},
	}
}

// Migrate applies every migration not yet recorded in schema_migrations
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
		logger.WithField("version", m.Version).Infof("applied migration: %s", m.Description)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		m.Version, m.Description,
	); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}
