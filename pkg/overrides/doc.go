// Package overrides manages time-bounded exceptions to plan and role
// defaults.
//
// An override targets either a user or an organization and either forces a
// feature on, forces it off, or raises its limit by a positive amount.
// Overrides with an expiry at or before the current time are inert; they are
// ignored by resolution and removed by CleanupExpired.
//
// Service performs all validation before the Store is touched. MemoryStore
// serves tests and single-process deployments; PostgresStore is backed by
// the overrides table created by storage/postgres.Migrate.
package overrides
