package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/entitlements/pkg/observability"
)

// SafeGo runs fn in a goroutine bounded by timeout, recovering panics and
// logging failures instead of crashing the process. The returned channel
// is closed once fn has returned.
//
//	done := async.SafeGo(ctx, logger, 10*time.Second, "catalog reload", func(ctx context.Context) error {
//	    return loader.Load(ctx)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := Run(parentCtx, timeout, fn); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
	return done
}

// Run calls fn synchronously under a timeout, turning a panic into an error.
// A zero timeout means no deadline beyond parentCtx.
func Run(parentCtx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	ctx := parentCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	return fn(ctx)
}

// Batch processes items with at most workers in flight. Every item is
// attempted; the errors of failed items are returned in no particular order.
// Items not yet started when ctx is cancelled fail with ctx.Err().
//
//	errs := async.Batch(ctx, orgIDs, 4, time.Minute, func(ctx context.Context, orgID string) error {
//	    _, err := tracker.ResetAll(ctx, orgID)
//	    return err
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		item := item
		if ctx.Err() != nil {
			record(ctx.Err())
			continue
		}
		g.Go(func() error {
			if err := Run(ctx, timeout, func(ctx context.Context) error { return fn(ctx, item) }); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs
}
