package usage

import (
	"context"
	"strings"
	"time"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/orgs"
)

// ChangeFunc observes committed counter writes. An empty userID means every
// user was affected.
type ChangeFunc func(userID string)

// Tracker validates usage operations and delegates counting to a Store
type Tracker struct {
	store     Store
	features  features.Catalog
	directory orgs.Directory
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	onChange  []ChangeFunc
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *observability.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithDirectory enables organization-scoped ResetAll
func WithDirectory(d orgs.Directory) Option {
	return func(t *Tracker) { t.directory = d }
}

// OnChange registers a callback run after every successful write
func OnChange(fn ChangeFunc) Option {
	return func(t *Tracker) { t.onChange = append(t.onChange, fn) }
}

// NewTracker creates a usage tracker
func NewTracker(store Store, catalog features.Catalog, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		features: catalog,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent("usage")
	return t
}

func (t *Tracker) notify(userID string) {
	for _, fn := range t.onChange {
		fn(userID)
	}
}

func (t *Tracker) validate(ctx context.Context, userID, featureSlug string) error {
	if strings.TrimSpace(userID) == "" {
		return errdefs.Validation("user_id", "is required")
	}
	if strings.TrimSpace(featureSlug) == "" {
		return errdefs.Validation("feature_slug", "is required")
	}
	_, err := t.features.GetBySlug(ctx, featureSlug)
	return err
}

// RecordUsage atomically adds amount to a counter
func (t *Tracker) RecordUsage(ctx context.Context, userID, featureSlug string, amount int64) (RecordResult, error) {
	if amount < 1 {
		return RecordResult{}, errdefs.Validation("amount", "must be at least 1")
	}
	if err := t.validate(ctx, userID, featureSlug); err != nil {
		return RecordResult{}, err
	}

	current, err := t.store.Increment(ctx, userID, featureSlug, amount, t.now())
	if err != nil {
		if errdefs.IsConcurrency(err) {
			if t.metrics != nil {
				t.metrics.UsageContentionTotal.Inc()
			}
			t.logger.WithFields(map[string]interface{}{
				observability.FieldUserID:      userID,
				observability.FieldFeatureSlug: featureSlug,
			}).WithError(err).Warn("Usage increment contention")
		}
		return RecordResult{}, err
	}

	if t.metrics != nil {
		t.metrics.UsageIncrementsTotal.WithLabelValues(featureSlug).Add(float64(amount))
	}
	t.notify(userID)
	return RecordResult{CurrentUsage: current}, nil
}

// GetUsage returns one counter, or every counter of the user when
// featureSlug is empty
func (t *Tracker) GetUsage(ctx context.Context, userID, featureSlug string) ([]Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errdefs.Validation("user_id", "is required")
	}
	if featureSlug == "" {
		return t.store.List(ctx, userID)
	}

	if _, err := t.features.GetBySlug(ctx, featureSlug); err != nil {
		return nil, err
	}
	r, err := t.store.Get(ctx, userID, featureSlug)
	if err != nil {
		return nil, err
	}
	return []Record{r}, nil
}

// ListUsage returns every counter of a user
func (t *Tracker) ListUsage(ctx context.Context, userID string) ([]Record, error) {
	return t.store.List(ctx, userID)
}

// ResetUsage zeroes one counter
func (t *Tracker) ResetUsage(ctx context.Context, userID, featureSlug string) error {
	if err := t.validate(ctx, userID, featureSlug); err != nil {
		return err
	}
	if err := t.store.Reset(ctx, userID, featureSlug, t.now()); err != nil {
		return err
	}

	if t.metrics != nil {
		t.metrics.UsageResetsTotal.WithLabelValues("user").Inc()
	}
	t.notify(userID)
	return nil
}

// ResetAll zeroes every counter, or only those of the members of orgID when
// it is not empty
func (t *Tracker) ResetAll(ctx context.Context, orgID string) (ResetResult, error) {
	now := t.now()

	if orgID == "" {
		n, err := t.store.ResetAll(ctx, now)
		if err != nil {
			return ResetResult{}, err
		}
		t.recordReset("all", n)
		t.logger.WithField("reset_count", n).Info("All usage counters reset")
		t.notify("")
		return ResetResult{ResetCount: n}, nil
	}

	if t.directory == nil {
		return ResetResult{}, errdefs.Validation("organization_id", "organization scoped reset is not configured")
	}
	members, err := t.directory.ListMemberIDs(ctx, orgID)
	if err != nil {
		return ResetResult{}, err
	}

	n, err := t.store.ResetUsers(ctx, members, now)
	if err != nil {
		return ResetResult{}, err
	}
	t.recordReset("org", n)
	t.logger.WithFields(map[string]interface{}{
		observability.FieldOrganizationID: orgID,
		"members":                         len(members),
		"reset_count":                     n,
	}).Info("Organization usage counters reset")
	for _, userID := range members {
		t.notify(userID)
	}
	return ResetResult{ResetCount: n}, nil
}

func (t *Tracker) recordReset(scope string, n int64) {
	if t.metrics != nil {
		t.metrics.UsageResetsTotal.WithLabelValues(scope).Add(float64(n))
	}
}
