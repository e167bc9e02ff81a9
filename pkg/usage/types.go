package usage

import (
	"context"
	"time"
)

// Record is one usage counter. Counters are created on first increment and
// are only ever zeroed, never deleted.
type Record struct {
	UserID       string    `json:"user_id"`
	FeatureSlug  string    `json:"feature_slug"`
	CurrentUsage int64     `json:"current_usage"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RecordResult is returned by RecordUsage
type RecordResult struct {
	CurrentUsage int64 `json:"current_usage"`
}

// ResetResult is returned by ResetAll
type ResetResult struct {
	ResetCount int64 `json:"reset_count"`
}

// Store holds usage counters. Increment must be atomic at the storage
// layer; callers never read, add and write back.
type Store interface {
	// Increment adds amount to the counter and returns the new value
	Increment(ctx context.Context, userID, featureSlug string, amount int64, now time.Time) (int64, error)
	// Get returns the counter, or a zero Record if none exists yet
	Get(ctx context.Context, userID, featureSlug string) (Record, error)
	// List returns every counter of a user ordered by feature slug
	List(ctx context.Context, userID string) ([]Record, error)
	// Reset zeroes one counter
	Reset(ctx context.Context, userID, featureSlug string, now time.Time) error
	// ResetUsers zeroes every counter of the given users and returns how
	// many counters were zeroed
	ResetUsers(ctx context.Context, userIDs []string, now time.Time) (int64, error)
	// ResetAll zeroes every counter
	ResetAll(ctx context.Context, now time.Time) (int64, error)
}
