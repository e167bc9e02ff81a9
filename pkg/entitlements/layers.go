package entitlements

import (
	"sort"
	"time"

	"github.com/platinummonkey/entitlements/pkg/overrides"
	"github.com/platinummonkey/entitlements/pkg/plans"
)

// field is the part of a feature's state a layer can assign
type field int

const (
	fieldEnabled field = iota
	fieldLimit
)

// assignment sets one field of one feature
type assignment struct {
	slug    string
	field   field
	enabled bool
	limit   *int64
	// createdAt and source order assignments inside a layer; the latest wins
	createdAt time.Time
	source    string
}

// layer is one precedence level. Layers are folded in ascending precedence.
type layer struct {
	name        string
	assignments []assignment
}

// featureState is the running state of one feature during the fold
type featureState struct {
	enabled bool
	limit   *int64
}

// mergers holds the one merge function per field
var mergers = map[field]func(*featureState, assignment){
	fieldEnabled: func(s *featureState, a assignment) { s.enabled = a.enabled },
	fieldLimit:   func(s *featureState, a assignment) { s.limit = a.limit },
}

// fold applies layers in order. Within a layer assignments are applied
// oldest first, so for the same (feature, field) the latest createdAt wins.
// Assignments for slugs missing from state are skipped and reported.
func fold(state map[string]*featureState, layers []layer, skipped func(layer string, a assignment)) {
	for _, l := range layers {
		ordered := append([]assignment(nil), l.assignments...)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].createdAt.Equal(ordered[j].createdAt) {
				return ordered[i].source < ordered[j].source
			}
			return ordered[i].createdAt.Before(ordered[j].createdAt)
		})

		for _, a := range ordered {
			fs, ok := state[a.slug]
			if !ok {
				skipped(l.name, a)
				continue
			}
			mergers[a.field](fs, a)
		}
	}
}

const (
	layerPlan         = "plan"
	layerRole         = "role"
	layerOrgOverride  = "org_override"
	layerUserOverride = "user_override"
)

func planLayer(p *plans.Plan) layer {
	l := layer{name: layerPlan}
	if p == nil {
		return l
	}
	for slug, def := range p.Features {
		l.assignments = append(l.assignments,
			assignment{slug: slug, field: fieldEnabled, enabled: def.Enabled, source: slug},
			assignment{slug: slug, field: fieldLimit, limit: copyLimit(def.Limit), source: slug},
		)
	}
	return l
}

func roleLayer(grants map[string]struct{}) layer {
	l := layer{name: layerRole}
	for slug := range grants {
		l.assignments = append(l.assignments, assignment{slug: slug, field: fieldEnabled, enabled: true, source: slug})
	}
	return l
}

// overrideLayer converts the overrides of one scope. Overrides that are not
// active at now, or that belong to another target, never contribute.
func overrideLayer(name string, scope overrides.Scope, targetID string, list []overrides.Override, now time.Time) layer {
	l := layer{name: name}
	for i := range list {
		o := &list[i]
		if o.Scope != scope || o.TargetID != targetID || !o.ActiveAt(now) {
			continue
		}
		a := assignment{slug: o.FeatureSlug, createdAt: o.CreatedAt, source: o.ID.String()}
		switch o.Type {
		case overrides.TypeFeatureEnable:
			a.field, a.enabled = fieldEnabled, true
		case overrides.TypeFeatureDisable:
			a.field, a.enabled = fieldEnabled, false
		case overrides.TypeLimitIncrease:
			if o.Value == nil {
				continue
			}
			a.field, a.limit = fieldLimit, copyLimit(o.Value)
		default:
			continue
		}
		l.assignments = append(l.assignments, a)
	}
	return l
}

func copyLimit(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
