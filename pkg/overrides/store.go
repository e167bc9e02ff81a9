package overrides

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists overrides. Implementations must make DeleteExpired atomic
// with respect to concurrent readers: a reader sees either the state before
// the cleanup or the state after it.
type Store interface {
	Insert(ctx context.Context, o *Override) error
	Get(ctx context.Context, id uuid.UUID) (*Override, error)
	// List returns matching overrides ordered by creation time, oldest first.
	// now anchors the Status filter.
	List(ctx context.Context, filter ListFilter, now time.Time) ([]Override, error)
	// Update writes the mutable fields (value, reason, expires_at)
	Update(ctx context.Context, o *Override) error
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteExpired removes every override with expires_at <= now and
	// returns how many were removed
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func matches(o *Override, filter ListFilter, now time.Time) bool {
	if filter.Scope != "" && o.Scope != filter.Scope {
		return false
	}
	if filter.TargetID != "" && o.TargetID != filter.TargetID {
		return false
	}
	if filter.FeatureSlug != "" && o.FeatureSlug != filter.FeatureSlug {
		return false
	}
	switch filter.Status {
	case StatusActive:
		return o.ActiveAt(now)
	case StatusExpired:
		return !o.ActiveAt(now)
	}
	return true
}

func clone(o Override) Override {
	if o.Value != nil {
		v := *o.Value
		o.Value = &v
	}
	if o.Reason != nil {
		r := *o.Reason
		o.Reason = &r
	}
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		o.ExpiresAt = &t
	}
	return o
}
