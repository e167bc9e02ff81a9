package overrides

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Scope selects how an override's TargetID is interpreted
type Scope string

const (
	ScopeUser         Scope = "user"
	ScopeOrganization Scope = "org"
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	return s == ScopeUser || s == ScopeOrganization
}

// Type is the effect an override has on its feature
type Type string

const (
	TypeFeatureEnable  Type = "feature_enable"
	TypeFeatureDisable Type = "feature_disable"
	TypeLimitIncrease  Type = "limit_increase"
)

// Valid reports whether t is a known override type
func (t Type) Valid() bool {
	switch t {
	case TypeFeatureEnable, TypeFeatureDisable, TypeLimitIncrease:
		return true
	}
	return false
}

// Status filters overrides by expiry when listing
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusAll     Status = "all"
)

// Override is a time-bounded exception to plan and role defaults. Value is
// set iff Type is limit_increase.
type Override struct {
	ID          uuid.UUID  `json:"id"`
	Scope       Scope      `json:"scope"`
	TargetID    string     `json:"target_id"`
	FeatureSlug string     `json:"feature_slug"`
	Type        Type       `json:"type"`
	Value       *int64     `json:"value"`
	Reason      *string    `json:"reason"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ActiveAt reports whether the override still applies at now. An override
// expiring exactly at now is already inert.
func (o *Override) ActiveAt(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// CreateInput is the payload for Service.Create
type CreateInput struct {
	Scope       Scope      `json:"scope"`
	TargetID    string     `json:"target_id"`
	FeatureSlug string     `json:"feature_slug"`
	Type        Type       `json:"type"`
	Value       *int64     `json:"value,omitempty"`
	Reason      *string    `json:"reason,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// UpdateInput changes the mutable fields of an override. Scope, TargetID,
// FeatureSlug and Type exist only so attempts to change them can be
// rejected; any non-nil value there fails validation.
type UpdateInput struct {
	Value     *int64              `json:"value,omitempty"`
	ExpiresAt Nullable[time.Time] `json:"expires_at"`
	Reason    Nullable[string]    `json:"reason"`

	Scope       *Scope  `json:"scope,omitempty"`
	TargetID    *string `json:"target_id,omitempty"`
	FeatureSlug *string `json:"feature_slug,omitempty"`
	Type        *Type   `json:"type,omitempty"`
}

// ListFilter narrows List. Empty fields match everything; an empty Status
// means StatusAll.
type ListFilter struct {
	Scope       Scope  `json:"scope,omitempty"`
	TargetID    string `json:"target_id,omitempty"`
	FeatureSlug string `json:"feature_slug,omitempty"`
	Status      Status `json:"status,omitempty"`
}

// CleanupResult reports what CleanupExpired removed
type CleanupResult struct {
	DeletedCount int64 `json:"deleted_count"`
}

// Nullable distinguishes an absent field (Set false) from an explicit null
// (Set true, Value nil) in update payloads.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// Some is a Nullable holding v
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null is an explicitly cleared Nullable
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*n.Value)
}
