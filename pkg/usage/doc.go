// Package usage tracks per-user, per-feature usage counters.
//
// Every Store increments atomically at the storage layer:
//
//   - MemoryStore runs a bounded compare-and-swap loop and returns a
//     ConcurrencyError once the retry budget is exhausted
//   - PostgresStore issues a single INSERT ... ON CONFLICT DO UPDATE
//   - RedisStore uses HINCRBY
//
// Counters are created on first use and never deleted; resets set them to
// zero. Tracker adds validation, metrics and organization-scoped resets on
// top of a Store.
package usage
