// Package postgres bootstraps the persistence used by the SQL-backed
// stores: a tuned *sql.DB on lib/pq, the versioned schema migrations for
// every entitlement table, a go-redis client for the Redis usage store,
// and driver error classification.
//
//	db, err := postgres.Open(ctx, postgres.ConnectionConfig{URL: url})
//	if err != nil { ... }
//	if err := postgres.Migrate(ctx, db, logger); err != nil { ... }
//
// Migrations are append-only. Each one runs in its own transaction and is
// recorded in schema_migrations so Migrate is safe to call on every start.
package postgres
