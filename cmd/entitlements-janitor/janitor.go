package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/entitlements/pkg/async"
	"github.com/platinummonkey/entitlements/pkg/overrides"
	"github.com/platinummonkey/entitlements/pkg/usage"
)

// orgResetTimeout bounds the usage reset of a single organization
const orgResetTimeout = time.Minute

// janitor runs the periodic maintenance jobs
type janitor struct {
	overrides   *overrides.Service
	tracker     *usage.Tracker
	orgIDs      []string
	concurrency int
	logger      *logrus.Logger
}

// cleanupExpired deletes every override past its expiry
func (j *janitor) cleanupExpired(ctx context.Context) error {
	start := time.Now()
	res, err := j.overrides.CleanupExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to clean up expired overrides: %w", err)
	}
	j.logger.WithFields(logrus.Fields{
		"deleted_count": res.DeletedCount,
		"duration":      time.Since(start).String(),
	}).Info("Expired overrides cleaned up")
	return nil
}

// resetUsage starts a new billing cycle. With no organizations configured
// every counter is reset; otherwise only the members of each organization,
// several organizations at a time.
func (j *janitor) resetUsage(ctx context.Context) error {
	if len(j.orgIDs) == 0 {
		res, err := j.tracker.ResetAll(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to reset usage: %w", err)
		}
		j.logger.WithField("reset_count", res.ResetCount).Info("Usage counters reset")
		return nil
	}

	errs := async.Batch(ctx, j.orgIDs, j.concurrency, orgResetTimeout, func(ctx context.Context, orgID string) error {
		res, err := j.tracker.ResetAll(ctx, orgID)
		if err != nil {
			return fmt.Errorf("organization %s: %w", orgID, err)
		}
		j.logger.WithFields(logrus.Fields{
			"organization_id": orgID,
			"reset_count":     res.ResetCount,
		}).Info("Organization usage counters reset")
		return nil
	})
	if len(errs) > 0 {
		return fmt.Errorf("usage reset failed for %d of %d organizations: %w", len(errs), len(j.orgIDs), errors.Join(errs...))
	}
	return nil
}
