// Package async provides small helpers for running work off the request
// path: SafeGo for fire-and-forget tasks with panic recovery and logging,
// Run for a single bounded call, and Batch for fanning a slice out over a
// fixed number of workers while collecting every failure.
package async
