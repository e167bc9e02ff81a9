// Package plans holds the plan catalog: per-plan default feature
// enablement and usage limits.
package plans

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

// FeatureDefault is a plan's default for one feature. A nil Limit means
// unlimited.
type FeatureDefault struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Limit   *int64 `json:"limit" yaml:"limit"`
}

// Plan is a subscription tier
type Plan struct {
	ID       string                    `json:"id" yaml:"id"`
	Slug     string                    `json:"slug" yaml:"slug"`
	Name     string                    `json:"name,omitempty" yaml:"name,omitempty"`
	Features map[string]FeatureDefault `json:"features" yaml:"features"`
}

// Catalog is read-only access to plans
type Catalog interface {
	// Get returns the plan or a NotFoundError for an unknown id
	Get(ctx context.Context, planID string) (*Plan, error)
}

// MemoryCatalog is an in-memory plan catalog with atomic replacement
type MemoryCatalog struct {
	plans atomic.Pointer[map[string]Plan]
}

// NewMemoryCatalog creates a catalog seeded with the given plans
func NewMemoryCatalog(plans ...Plan) *MemoryCatalog {
	c := &MemoryCatalog{}
	c.Replace(plans)
	return c
}

// Replace swaps the catalog contents
func (c *MemoryCatalog) Replace(plans []Plan) {
	m := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if p.Features == nil {
			p.Features = map[string]FeatureDefault{}
		}
		m[p.ID] = p
	}
	c.plans.Store(&m)
}

// Get returns a copy of the plan
func (c *MemoryCatalog) Get(_ context.Context, planID string) (*Plan, error) {
	p, ok := (*c.plans.Load())[planID]
	if !ok {
		return nil, errdefs.NotFound(errdefs.KindPlan, planID)
	}
	features := make(map[string]FeatureDefault, len(p.Features))
	for slug, def := range p.Features {
		features[slug] = def
	}
	p.Features = features
	return &p, nil
}

// List returns all plans ordered by id
func (c *MemoryCatalog) List(_ context.Context) []Plan {
	m := *c.plans.Load()
	out := make([]Plan, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Limit is a convenience for building finite limits
func Limit(n int64) *int64 {
	return &n
}
