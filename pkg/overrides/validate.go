package overrides

import (
	"strings"
	"time"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

// ValidateCreate checks the shape of a create request against now. It does
// not consult the feature catalog.
func ValidateCreate(in CreateInput, now time.Time) error {
	if !in.Scope.Valid() {
		return errdefs.Validation("scope", "must be %q or %q", ScopeUser, ScopeOrganization)
	}
	if strings.TrimSpace(in.TargetID) == "" {
		return errdefs.Validation("target_id", "is required")
	}
	if strings.TrimSpace(in.FeatureSlug) == "" {
		return errdefs.Validation("feature_slug", "is required")
	}
	if !in.Type.Valid() {
		return errdefs.Validation("type", "unknown override type %q", in.Type)
	}
	if err := validateValue(in.Type, in.Value); err != nil {
		return err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return errdefs.Validation("expires_at", "must be in the future")
	}
	return nil
}

// ValidateUpdate checks an update against the stored override
func ValidateUpdate(current *Override, in UpdateInput, now time.Time) error {
	switch {
	case in.Scope != nil:
		return errdefs.Validation("scope", "is immutable")
	case in.TargetID != nil:
		return errdefs.Validation("target_id", "is immutable")
	case in.FeatureSlug != nil:
		return errdefs.Validation("feature_slug", "is immutable")
	case in.Type != nil:
		return errdefs.Validation("type", "is immutable")
	}

	if in.Value != nil {
		if err := validateValue(current.Type, in.Value); err != nil {
			return err
		}
	}
	if in.ExpiresAt.Set && in.ExpiresAt.Value != nil && !in.ExpiresAt.Value.After(now) {
		return errdefs.Validation("expires_at", "must be in the future")
	}
	return nil
}

func validateValue(t Type, value *int64) error {
	if t == TypeLimitIncrease {
		if value == nil {
			return errdefs.Validation("value", "is required for %s overrides", TypeLimitIncrease)
		}
		if *value <= 0 {
			return errdefs.Validation("value", "must be a positive integer")
		}
		return nil
	}
	if value != nil {
		return errdefs.Validation("value", "must be empty for %s overrides", t)
	}
	return nil
}

// apply copies the mutable fields of in onto o
func apply(o *Override, in UpdateInput) {
	if in.Value != nil {
		v := *in.Value
		o.Value = &v
	}
	if in.ExpiresAt.Set {
		if in.ExpiresAt.Value == nil {
			o.ExpiresAt = nil
		} else {
			t := in.ExpiresAt.Value.UTC()
			o.ExpiresAt = &t
		}
	}
	if in.Reason.Set {
		if in.Reason.Value == nil {
			o.Reason = nil
		} else {
			r := *in.Reason.Value
			o.Reason = &r
		}
	}
}
