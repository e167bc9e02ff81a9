package async

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitlements/pkg/observability"
)

func TestSafeGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	done := SafeGo(context.Background(), observability.NopLogger(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})
	<-done

	assert.True(t, executed.Load())
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	done := SafeGo(context.Background(), observability.NopLogger(), time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not finish after panic")
	}
}

func TestRun_Timeout(t *testing.T) {
	err := Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_PanicBecomesError(t *testing.T) {
	err := Run(context.Background(), 0, func(ctx context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "panic: kaboom"))
}

func TestBatch(t *testing.T) {
	var sum atomic.Int64
	var inFlight, peak atomic.Int32

	items := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	errs := Batch(context.Background(), items, 3, time.Second, func(ctx context.Context, n int64) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		sum.Add(n)
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int64(36), sum.Load())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBatch_WithErrors(t *testing.T) {
	boom := errors.New("boom")
	errs := Batch(context.Background(), []int{1, 2, 3, 4}, 2, time.Second, func(ctx context.Context, n int) error {
		if n%2 == 0 {
			return boom
		}
		return nil
	})

	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
}

func TestBatch_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	errs := Batch(ctx, []int{1, 2, 3}, 1, time.Second, func(ctx context.Context, n int) error {
		calls.Add(1)
		return nil
	})

	assert.Len(t, errs, 3)
	assert.Equal(t, int32(0), calls.Load())
}
