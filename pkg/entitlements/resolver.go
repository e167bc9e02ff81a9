package entitlements

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/orgs"
	"github.com/platinummonkey/entitlements/pkg/overrides"
	"github.com/platinummonkey/entitlements/pkg/plans"
	"github.com/platinummonkey/entitlements/pkg/usage"
)

// DefaultTimeout bounds the source reads of a single resolution
const DefaultTimeout = 10 * time.Second

// Resolver produces permission maps
type Resolver interface {
	Resolve(ctx context.Context, userID, orgID string) (*PermissionMap, error)
}

// RoleGrants returns the union of feature grants of a user's active roles
// in an organization
type RoleGrants interface {
	UserGrants(ctx context.Context, userID, orgID string) (map[string]struct{}, error)
}

// OverrideSource returns the overrides of one target active at now
type OverrideSource interface {
	Active(ctx context.Context, scope overrides.Scope, targetID string, now time.Time) ([]overrides.Override, error)
}

// UsageSource returns every usage counter of a user
type UsageSource interface {
	ListUsage(ctx context.Context, userID string) ([]usage.Record, error)
}

// Sources groups the data a resolution reads
type Sources struct {
	Directory orgs.Directory
	Features  features.Catalog
	Plans     plans.Catalog
	Roles     RoleGrants
	Overrides OverrideSource
	Usage     UsageSource
}

// Engine folds plan, role, organization override and user override layers
// into a PermissionMap. It holds no per-resolution state and is safe for
// concurrent use.
type Engine struct {
	src     Sources
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
	timeout time.Duration
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics enables Prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTimeout bounds the source reads of one resolution; zero disables the
// bound
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// NewEngine creates a resolver over src
func NewEngine(src Sources, opts ...Option) *Engine {
	e := &Engine{
		src:     src,
		logger:  observability.NopLogger(),
		now:     time.Now,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("resolver")
	return e
}

// snapshot is everything one resolution reads
type snapshot struct {
	user          *orgs.User
	catalog       []features.Feature
	plan          *plans.Plan
	grants        map[string]struct{}
	orgOverrides  []overrides.Override
	userOverrides []overrides.Override
	usage         []usage.Record
}

// Resolve computes the PermissionMap of userID in orgID. It fails only for
// an unknown user or organization, or when a source cannot be read.
func (e *Engine) Resolve(ctx context.Context, userID, orgID string) (pm *PermissionMap, err error) {
	ctx, span := observability.Tracer().Start(ctx, "entitlements.Resolve",
		trace.WithAttributes(
			attribute.String(observability.FieldUserID, userID),
			attribute.String(observability.FieldOrganizationID, orgID),
		),
	)
	start := time.Now()
	defer func() {
		e.observe(start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if userID == "" {
		return nil, errdefs.Validation("user_id", "is required")
	}
	if orgID == "" {
		return nil, errdefs.Validation("organization_id", "is required")
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	now := e.now()
	snap, err := e.load(ctx, userID, orgID, now)
	if err != nil {
		return nil, err
	}

	logger := e.logger.ForSubject(userID, orgID)
	return e.build(logger, snap, userID, orgID, now), nil
}

func (e *Engine) load(ctx context.Context, userID, orgID string, now time.Time) (*snapshot, error) {
	snap := &snapshot{}

	// identity first: an unknown user or organization is the only
	// resolution failure that is not an infrastructure error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		user, err := e.src.Directory.GetUser(gctx, userID)
		if err != nil {
			return err
		}
		snap.user = user
		return nil
	})
	g.Go(func() error {
		_, err := e.src.Directory.GetOrganization(gctx, orgID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := e.src.Features.List(gctx)
		if err != nil {
			return fmt.Errorf("failed to list features: %w", err)
		}
		snap.catalog = list
		return nil
	})
	g.Go(func() error {
		if snap.user.PlanID == "" {
			return nil
		}
		plan, err := e.src.Plans.Get(gctx, snap.user.PlanID)
		if errdefs.IsNotFound(err) {
			e.logger.ForSubject(userID, orgID).
				WithField("plan_id", snap.user.PlanID).
				Warn("Assigned plan missing from catalog, resolving without plan")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get plan: %w", err)
		}
		snap.plan = plan
		return nil
	})
	if e.src.Roles != nil {
		g.Go(func() error {
			grants, err := e.src.Roles.UserGrants(gctx, userID, orgID)
			if err != nil {
				return fmt.Errorf("failed to load role grants: %w", err)
			}
			snap.grants = grants
			return nil
		})
	}
	if e.src.Overrides != nil {
		g.Go(func() error {
			list, err := e.src.Overrides.Active(gctx, overrides.ScopeOrganization, orgID, now)
			if err != nil {
				return fmt.Errorf("failed to load organization overrides: %w", err)
			}
			snap.orgOverrides = list
			return nil
		})
		g.Go(func() error {
			list, err := e.src.Overrides.Active(gctx, overrides.ScopeUser, userID, now)
			if err != nil {
				return fmt.Errorf("failed to load user overrides: %w", err)
			}
			snap.userOverrides = list
			return nil
		})
	}
	if e.src.Usage != nil {
		g.Go(func() error {
			records, err := e.src.Usage.ListUsage(gctx, userID)
			if err != nil {
				return fmt.Errorf("failed to load usage: %w", err)
			}
			snap.usage = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (e *Engine) build(logger *observability.Logger, snap *snapshot, userID, orgID string, now time.Time) *PermissionMap {
	state := make(map[string]*featureState, len(snap.catalog))
	for _, f := range snap.catalog {
		state[f.Slug] = &featureState{}
	}

	layers := []layer{
		planLayer(snap.plan),
		roleLayer(snap.grants),
		overrideLayer(layerOrgOverride, overrides.ScopeOrganization, orgID, snap.orgOverrides, now),
		overrideLayer(layerUserOverride, overrides.ScopeUser, userID, snap.userOverrides, now),
	}

	skippedOverrides := make(map[string]struct{})
	fold(state, layers, func(layerName string, a assignment) {
		if layerName == layerOrgOverride || layerName == layerUserOverride {
			// one warning per override, not one per field
			if _, seen := skippedOverrides[a.source]; seen {
				return
			}
			skippedOverrides[a.source] = struct{}{}
		} else if a.field != fieldEnabled {
			return
		}
		if e.metrics != nil {
			e.metrics.UnknownFeaturesSkipped.WithLabelValues(layerName).Inc()
		}
		l := logger.WithFields(map[string]interface{}{
			observability.FieldFeatureSlug: a.slug,
			"layer":                        layerName,
		})
		if layerName == layerOrgOverride || layerName == layerUserOverride {
			l = l.WithField(observability.FieldOverrideID, a.source)
		}
		l.Warn("Skipping reference to unknown feature")
	})

	used := make(map[string]int64, len(snap.usage))
	for _, r := range snap.usage {
		used[r.FeatureSlug] = r.CurrentUsage
	}

	pm := &PermissionMap{
		UserID:         userID,
		OrganizationID: orgID,
		Features:       make(map[string]bool, len(state)),
		Limits:         make(map[string]LimitStatus, len(state)),
		ResolvedAt:     now.UTC(),
	}
	for slug, fs := range state {
		pm.Features[slug] = fs.enabled
		pm.Limits[slug] = newLimitStatus(fs.limit, used[slug])
	}
	return pm
}

func (e *Engine) observe(start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case errdefs.IsNotFound(err):
		status = "not_found"
	case errdefs.IsValidation(err):
		status = "invalid"
	default:
		status = "error"
	}
	e.metrics.ResolutionsTotal.WithLabelValues(status).Inc()
	e.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
}

var _ Resolver = (*Engine)(nil)
