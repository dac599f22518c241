package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWait_ReturnsImmediatelyWhenConformant(t *testing.T) {
	l := newTestLimiter(t, WithBucket("api", perSecondBucket(5)))

	res, err := l.Wait(t.Context(), WaitRequest{Type: "api", Key: "k1"})
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.False(t, res.Delayed)
}

func TestWait_RetriesUntilBucketRefills(t *testing.T) {
	perInterval := int64(1)
	l := newTestLimiter(t, WithBucket("api", TypeDef{
		Base: BucketDef{Interval: 30 * time.Millisecond, PerInterval: &perInterval},
	}))
	ctx := t.Context()

	first, err := l.Take(ctx, TakeRequest{Type: "api", Key: "k1"})
	require.NoError(t, err)
	require.True(t, first.Conformant)

	start := time.Now()
	res, err := l.Wait(ctx, WaitRequest{Type: "api", Key: "k1"})
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.True(t, res.Delayed)
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWait_HonorsContextCancellation(t *testing.T) {
	l := newTestLimiter(t, WithBucket("api", perSecondBucket(1)))
	ctx := t.Context()

	_, err := l.Take(ctx, TakeRequest{Type: "api", Key: "k1"})
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()

	_, err = l.Wait(cancelCtx, WaitRequest{Type: "api", Key: "k1"})
	require.Error(t, err)
}

func TestMinWait_NonRefillingBucketUsesThreshold(t *testing.T) {
	desc := BucketDescriptor{Size: 5}
	require.Equal(t, waitSleepThreshold, minWait(desc, 1, 0))
}

func TestMinWait_ComputesCeilingDelay(t *testing.T) {
	desc := BucketDescriptor{IntervalMs: 1000, PerInterval: 10}
	d := minWait(desc, 5, 0)
	require.Equal(t, 500*time.Millisecond, d)
}
