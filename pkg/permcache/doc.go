// Package permcache keeps a resolved permission map for one interactive
// session.
//
// A Cache is created per (user, organization) pair and passed to whatever
// needs to gate features; there is no process-wide instance. Readers such as
// Can and Limit only look at the last resolved map and return conservative
// defaults before the first resolve.
//
// Refresh serves the cached map within the TTL (60s by default). Overlapping
// refreshes share one resolver call. A forced refresh always starts a new
// call; every call takes a sequence number when it starts and a result is
// applied only if no newer call has been applied already.
//
// StartAutoRefresh runs a forced refresh followed by periodic refreshes on
// the cache's clock, which tests replace with a clockwork fake clock.
package permcache
