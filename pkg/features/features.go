// Package features holds the feature catalog: the reference list of
// capabilities the entitlement engine can gate.
package features

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

// Feature is a named capability identified by its slug
type Feature struct {
	Slug        string `json:"slug" yaml:"slug"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Catalog is read-only access to known features
type Catalog interface {
	GetBySlug(ctx context.Context, slug string) (*Feature, error)
	List(ctx context.Context) ([]Feature, error)
}

// MemoryCatalog is an in-memory catalog. Replace swaps the full set
// atomically, so readers see either the old or the new catalog.
type MemoryCatalog struct {
	snapshot atomic.Pointer[catalogSnapshot]
}

type catalogSnapshot struct {
	bySlug map[string]Feature
	sorted []Feature
}

// NewMemoryCatalog creates a catalog seeded with the given features
func NewMemoryCatalog(features ...Feature) *MemoryCatalog {
	c := &MemoryCatalog{}
	c.Replace(features)
	return c
}

// Replace swaps the catalog contents
func (c *MemoryCatalog) Replace(features []Feature) {
	snap := &catalogSnapshot{
		bySlug: make(map[string]Feature, len(features)),
		sorted: make([]Feature, 0, len(features)),
	}
	for _, f := range features {
		if _, dup := snap.bySlug[f.Slug]; dup {
			continue
		}
		snap.bySlug[f.Slug] = f
		snap.sorted = append(snap.sorted, f)
	}
	sort.Slice(snap.sorted, func(i, j int) bool {
		return snap.sorted[i].Slug < snap.sorted[j].Slug
	})
	c.snapshot.Store(snap)
}

// GetBySlug returns the feature or a NotFoundError
func (c *MemoryCatalog) GetBySlug(_ context.Context, slug string) (*Feature, error) {
	f, ok := c.snapshot.Load().bySlug[slug]
	if !ok {
		return nil, errdefs.NotFound(errdefs.KindFeature, slug)
	}
	return &f, nil
}

// List returns all features ordered by slug
func (c *MemoryCatalog) List(_ context.Context) ([]Feature, error) {
	sorted := c.snapshot.Load().sorted
	out := make([]Feature, len(sorted))
	copy(out, sorted)
	return out, nil
}
