package permcache

import (
	"context"
	"sync"
)

// AutoRefresh is the handle returned by StartAutoRefresh
type AutoRefresh struct {
	cache    *Cache
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartAutoRefresh performs a forced refresh, then a non-forced refresh
// every auto refresh interval until the handle is stopped or ctx ends.
// Calling it while a loop is running returns the running loop's handle.
// Background failures are logged and recorded in LastError; the last good
// map keeps being served.
func (c *Cache) StartAutoRefresh(ctx context.Context) *AutoRefresh {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()

	if c.auto != nil {
		select {
		case <-c.auto.done:
		default:
			return c.auto
		}
	}

	a := &AutoRefresh{
		cache: c,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	c.auto = a
	go a.run(ctx)
	return a
}

func (a *AutoRefresh) run(ctx context.Context) {
	defer close(a.done)
	c := a.cache

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	a.refresh(ctx, true)
	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.refresh(ctx, false)
		}
	}
}

func (a *AutoRefresh) refresh(ctx context.Context, force bool) {
	if _, err := a.cache.Refresh(ctx, force); err != nil {
		a.cache.logger.WithError(err).Warn("Background permission refresh failed")
	}
}

// Stop cancels the loop and waits for it to exit. It is safe to call more
// than once.
func (a *AutoRefresh) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done

	c := a.cache
	c.autoMu.Lock()
	if c.auto == a {
		c.auto = nil
	}
	c.autoMu.Unlock()
}

// Done is closed once the loop has exited
func (a *AutoRefresh) Done() <-chan struct{} {
	return a.done
}
