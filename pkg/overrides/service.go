package overrides

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/orgs"
)

// ChangeFunc observes a committed override write. Deletions and cleanups
// pass the removed override.
type ChangeFunc func(o Override)

// Service validates and persists overrides
type Service struct {
	store             Store
	features          features.Catalog
	directory         orgs.Directory
	logger            *observability.Logger
	metrics           *observability.Metrics
	now               func() time.Time
	rejectOverlapping bool
	onChange          []ChangeFunc
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDirectory makes Create verify that the target user or organization
// exists
func WithDirectory(d orgs.Directory) Option {
	return func(s *Service) { s.directory = d }
}

// RejectOverlapping makes Create fail with a ConflictError when an active
// override with the same scope, target, feature and type already exists
func RejectOverlapping() Option {
	return func(s *Service) { s.rejectOverlapping = true }
}

// OnChange registers a callback run after every successful write
func OnChange(fn ChangeFunc) Option {
	return func(s *Service) { s.onChange = append(s.onChange, fn) }
}

// NewService creates an override service
func NewService(store Store, catalog features.Catalog, opts ...Option) *Service {
	s := &Service{
		store:    store,
		features: catalog,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("overrides")
	return s
}

func (s *Service) notify(o Override) {
	for _, fn := range s.onChange {
		fn(o)
	}
}

func (s *Service) recordWrite(op string, scope Scope) {
	if s.metrics != nil {
		s.metrics.OverridesWrittenTotal.WithLabelValues(op, string(scope)).Inc()
	}
}

func (s *Service) checkTarget(ctx context.Context, scope Scope, targetID string) error {
	if s.directory == nil {
		return nil
	}
	var err error
	if scope == ScopeUser {
		_, err = s.directory.GetUser(ctx, targetID)
	} else {
		_, err = s.directory.GetOrganization(ctx, targetID)
	}
	return err
}

// Create validates in and stores a new override
func (s *Service) Create(ctx context.Context, in CreateInput) (*Override, error) {
	now := s.now()
	in.TargetID = strings.TrimSpace(in.TargetID)
	in.FeatureSlug = strings.TrimSpace(in.FeatureSlug)

	if err := ValidateCreate(in, now); err != nil {
		return nil, err
	}
	if _, err := s.features.GetBySlug(ctx, in.FeatureSlug); err != nil {
		return nil, err
	}
	if err := s.checkTarget(ctx, in.Scope, in.TargetID); err != nil {
		return nil, err
	}

	if s.rejectOverlapping {
		existing, err := s.store.List(ctx, ListFilter{
			Scope:       in.Scope,
			TargetID:    in.TargetID,
			FeatureSlug: in.FeatureSlug,
			Status:      StatusActive,
		}, now)
		if err != nil {
			return nil, err
		}
		for _, o := range existing {
			if o.Type == in.Type {
				return nil, errdefs.Conflict("active %s override %s already exists for %s %s",
					o.Type, o.ID, o.Scope, o.TargetID)
			}
		}
	}

	o := &Override{
		ID:          uuid.New(),
		Scope:       in.Scope,
		TargetID:    in.TargetID,
		FeatureSlug: in.FeatureSlug,
		Type:        in.Type,
		Value:       in.Value,
		Reason:      in.Reason,
		CreatedAt:   now.UTC(),
	}
	if in.ExpiresAt != nil {
		t := in.ExpiresAt.UTC()
		o.ExpiresAt = &t
	}

	if err := s.store.Insert(ctx, o); err != nil {
		return nil, err
	}

	s.recordWrite("create", o.Scope)
	s.logger.WithFields(map[string]interface{}{
		observability.FieldOverrideID:  o.ID.String(),
		observability.FieldFeatureSlug: o.FeatureSlug,
		"scope":                        string(o.Scope),
		"target_id":                    o.TargetID,
		"type":                         string(o.Type),
	}).Info("Override created")
	s.notify(*o)
	return o, nil
}

// Get retrieves an override by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Override, error) {
	return s.store.Get(ctx, id)
}

// List returns overrides matching filter
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Override, error) {
	if filter.Scope != "" && !filter.Scope.Valid() {
		return nil, errdefs.Validation("scope", "must be %q or %q", ScopeUser, ScopeOrganization)
	}
	switch filter.Status {
	case "", StatusAll, StatusActive, StatusExpired:
	default:
		return nil, errdefs.Validation("status", "must be one of active, expired, all")
	}
	return s.store.List(ctx, filter, s.now())
}

// Active returns the overrides of one target that apply at now
func (s *Service) Active(ctx context.Context, scope Scope, targetID string, now time.Time) ([]Override, error) {
	return s.store.List(ctx, ListFilter{Scope: scope, TargetID: targetID, Status: StatusActive}, now)
}

// Update changes the mutable fields of an override. Immutable fields in in
// are rejected before anything is written.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Override, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateUpdate(current, in, s.now()); err != nil {
		return nil, err
	}

	apply(current, in)
	if err := s.store.Update(ctx, current); err != nil {
		return nil, err
	}

	s.recordWrite("update", current.Scope)
	s.logger.WithField(observability.FieldOverrideID, id.String()).Info("Override updated")
	s.notify(*current)
	return current, nil
}

// Delete removes an override
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.recordWrite("delete", current.Scope)
	s.logger.WithField(observability.FieldOverrideID, id.String()).Info("Override deleted")
	s.notify(*current)
	return nil
}

// CleanupExpired removes every override whose expiry has passed
func (s *Service) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	now := s.now()

	var expired []Override
	if len(s.onChange) > 0 {
		var err error
		expired, err = s.store.List(ctx, ListFilter{Status: StatusExpired}, now)
		if err != nil {
			return CleanupResult{}, err
		}
	}

	n, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		return CleanupResult{}, err
	}

	if s.metrics != nil {
		s.metrics.OverridesExpiredTotal.Add(float64(n))
	}
	if n > 0 {
		s.logger.WithField("deleted_count", n).Info("Expired overrides removed")
	}
	for _, o := range expired {
		s.notify(o)
	}
	return CleanupResult{DeletedCount: n}, nil
}
