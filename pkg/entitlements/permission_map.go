package entitlements

import "time"

// LimitStatus is the resolved limit of one feature. Max and Remaining are
// nil when the feature is unlimited.
type LimitStatus struct {
	Max       *int64 `json:"max"`
	Used      int64  `json:"used"`
	Remaining *int64 `json:"remaining"`
	Exceeded  bool   `json:"exceeded"`
}

// newLimitStatus computes remaining = max(0, max-used) and
// exceeded = max is finite && used >= max
func newLimitStatus(max *int64, used int64) LimitStatus {
	ls := LimitStatus{Used: used}
	if max == nil {
		return ls
	}
	m := *max
	remaining := m - used
	if remaining < 0 {
		remaining = 0
	}
	ls.Max = &m
	ls.Remaining = &remaining
	ls.Exceeded = used >= m
	return ls
}

// PermissionMap is the resolved entitlement snapshot of one user in one
// organization. Every catalog feature has an entry in both Features and
// Limits.
type PermissionMap struct {
	UserID         string                 `json:"user_id"`
	OrganizationID string                 `json:"organization_id"`
	Features       map[string]bool        `json:"features"`
	Limits         map[string]LimitStatus `json:"limits"`
	ResolvedAt     time.Time              `json:"resolved_at"`
}

// Enabled reports the resolved enablement flag. Unknown features are
// disabled.
func (m *PermissionMap) Enabled(slug string) bool {
	if m == nil {
		return false
	}
	return m.Features[slug]
}

// Can reports whether the feature is enabled and its limit is not exhausted
func (m *PermissionMap) Can(slug string) bool {
	return m.Enabled(slug) && !m.Exceeded(slug)
}

// Limit returns the resolved maximum, or nil when unlimited or unknown
func (m *PermissionMap) Limit(slug string) *int64 {
	if m == nil {
		return nil
	}
	ls, ok := m.Limits[slug]
	if !ok || ls.Max == nil {
		return nil
	}
	v := *ls.Max
	return &v
}

// Usage returns the current usage of the feature, 0 when unknown
func (m *PermissionMap) Usage(slug string) int64 {
	if m == nil {
		return 0
	}
	return m.Limits[slug].Used
}

// Exceeded reports whether usage has reached a finite limit
func (m *PermissionMap) Exceeded(slug string) bool {
	if m == nil {
		return false
	}
	return m.Limits[slug].Exceeded
}

// Clone returns a deep copy
func (m *PermissionMap) Clone() *PermissionMap {
	if m == nil {
		return nil
	}
	out := &PermissionMap{
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		Features:       make(map[string]bool, len(m.Features)),
		Limits:         make(map[string]LimitStatus, len(m.Limits)),
		ResolvedAt:     m.ResolvedAt,
	}
	for k, v := range m.Features {
		out.Features[k] = v
	}
	for k, v := range m.Limits {
		if v.Max != nil {
			max := *v.Max
			v.Max = &max
		}
		if v.Remaining != nil {
			r := *v.Remaining
			v.Remaining = &r
		}
		out.Limits[k] = v
	}
	return out
}
