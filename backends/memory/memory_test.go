package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/driftbucket/ratelimit/backends"
	"github.com/stretchr/testify/require"
)

func TestBackend_TakeStandard_FirstTouchFillsFromEmpty(t *testing.T) {
	b := New()
	ctx := context.Background()

	res, err := b.TakeStandard(ctx, "k1", backends.TakeStandardArgs{
		Size:           10,
		TokensPerMs:    0.01,
		Count:          3,
		TTLSeconds:     3600,
		DripIntervalMs: 100,
	})
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.Equal(t, float64(7), res.Remaining)
}

func TestBackend_TakeStandard_RejectsWhenExhausted(t *testing.T) {
	b := New()
	ctx := context.Background()

	args := backends.TakeStandardArgs{Size: 2, TokensPerMs: 0, Count: 1, TTLSeconds: 3600}

	res, err := b.TakeStandard(ctx, "k2", args)
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.Equal(t, float64(1), res.Remaining)

	res, err = b.TakeStandard(ctx, "k2", args)
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.Equal(t, float64(0), res.Remaining)

	res, err = b.TakeStandard(ctx, "k2", args)
	require.NoError(t, err)
	require.False(t, res.Conformant)
	require.Equal(t, float64(0), res.Remaining)
}

func TestBackend_TakeStandard_RefillsOverTime(t *testing.T) {
	b := New()
	ctx := context.Background()

	args := backends.TakeStandardArgs{Size: 5, TokensPerMs: 1, Count: 5, TTLSeconds: 3600, DripIntervalMs: 1}
	res, err := b.TakeStandard(ctx, "k3", args)
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.Equal(t, float64(0), res.Remaining)

	time.Sleep(20 * time.Millisecond)

	res, err = b.TakeStandard(ctx, "k3", backends.TakeStandardArgs{Size: 5, TokensPerMs: 1, Count: 1, TTLSeconds: 3600, DripIntervalMs: 1})
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.Greater(t, res.Remaining, float64(0))
}

func TestBackend_TakeElevated_PromotesWhenStandardExhausted(t *testing.T) {
	b := New()
	ctx := context.Background()

	args := backends.TakeElevatedArgs{
		Size: 2, TokensPerMs: 0, Count: 1, TTLSeconds: 3600,
		ErlSize: 10, ErlTokensPerMs: 0, ErlActivationPeriodSecs: 900,
	}

	res, err := b.TakeElevated(ctx, "ek", "ek-erl", args)
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.False(t, res.ErlActive)
	require.Equal(t, float64(1), res.Remaining)

	res, err = b.TakeElevated(ctx, "ek", "ek-erl", args)
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.False(t, res.ErlActive)
	require.Equal(t, float64(0), res.Remaining)

	res, err = b.TakeElevated(ctx, "ek", "ek-erl", args)
	require.NoError(t, err)
	require.True(t, res.Conformant)
	require.True(t, res.ErlActive)
	require.Equal(t, float64(7), res.Remaining) // carry-forward: erl_size(10) - used(2) - count(1)
}

func TestBackend_TakeElevated_StaysActiveOnceTriggered(t *testing.T) {
	b := New()
	ctx := context.Background()

	args := backends.TakeElevatedArgs{
		Size: 1, TokensPerMs: 0, Count: 1, TTLSeconds: 3600,
		ErlSize: 5, ErlTokensPerMs: 0, ErlActivationPeriodSecs: 900,
	}

	_, err := b.TakeElevated(ctx, "k", "k-erl", args)
	require.NoError(t, err)
	res, err := b.TakeElevated(ctx, "k", "k-erl", args)
	require.NoError(t, err)
	require.True(t, res.ErlActive)

	res, err = b.TakeElevated(ctx, "k", "k-erl", backends.TakeElevatedArgs{
		Size: 1, TokensPerMs: 0, Count: 1, TTLSeconds: 3600,
		ErlSize: 5, ErlTokensPerMs: 0, ErlActivationPeriodSecs: 900,
	})
	require.NoError(t, err)
	require.True(t, res.ErlActive)
}

func TestBackend_Put_AddsTokensCappedAtSize(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, err := b.TakeStandard(ctx, "pk", backends.TakeStandardArgs{Size: 5, Count: 5, TTLSeconds: 3600})
	require.NoError(t, err)

	res, err := b.Put(ctx, "pk", backends.PutArgs{Count: 2, Size: 5, TTLSeconds: 3600})
	require.NoError(t, err)
	require.Equal(t, float64(2), res.Remaining)

	res, err = b.Put(ctx, "pk", backends.PutArgs{Count: 100, Size: 5, TTLSeconds: 3600})
	require.NoError(t, err)
	require.Equal(t, float64(5), res.Remaining)
}

func TestBackend_Put_Unlimited(t *testing.T) {
	b := New()
	ctx := context.Background()

	res, err := b.Put(ctx, "uk", backends.PutArgs{Size: 42, Unlimited: true})
	require.NoError(t, err)
	require.Equal(t, float64(42), res.Remaining)
}

func TestBackend_Get_ReadOnlyAndIdempotent(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, err := b.TakeStandard(ctx, "gk", backends.TakeStandardArgs{Size: 10, Count: 4, TTLSeconds: 3600})
	require.NoError(t, err)

	res1, err := b.Get(ctx, "gk", backends.GetArgs{Size: 10})
	require.NoError(t, err)
	res2, err := b.Get(ctx, "gk", backends.GetArgs{Size: 10})
	require.NoError(t, err)

	require.Equal(t, res1.Remaining, res2.Remaining)
	require.Equal(t, float64(6), res1.Remaining)
}

func TestBackend_Get_AbsentDefaultsToSize(t *testing.T) {
	b := New()
	ctx := context.Background()

	res, err := b.Get(ctx, "missing", backends.GetArgs{Size: 9})
	require.NoError(t, err)
	require.Equal(t, float64(9), res.Remaining)
}

func TestBackend_Delete(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, err := b.TakeStandard(ctx, "dk", backends.TakeStandardArgs{Size: 3, Count: 3, TTLSeconds: 3600})
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "dk"))

	res, err := b.Get(ctx, "dk", backends.GetArgs{Size: 3})
	require.NoError(t, err)
	require.Equal(t, float64(3), res.Remaining)
}

func TestBackend_Flush_RemovesByPrefix(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, _ = b.TakeStandard(ctx, "org1:a", backends.TakeStandardArgs{Size: 3, Count: 1, TTLSeconds: 3600})
	_, _ = b.TakeStandard(ctx, "org1:b", backends.TakeStandardArgs{Size: 3, Count: 1, TTLSeconds: 3600})
	_, _ = b.TakeStandard(ctx, "org2:a", backends.TakeStandardArgs{Size: 3, Count: 1, TTLSeconds: 3600})

	require.NoError(t, b.Flush(ctx, "org1:"))

	res, _ := b.Get(ctx, "org1:a", backends.GetArgs{Size: 3})
	require.Equal(t, float64(3), res.Remaining)

	res, _ = b.Get(ctx, "org2:a", backends.GetArgs{Size: 3})
	require.Equal(t, float64(2), res.Remaining)
}

func TestBackend_ConcurrentTakeStandard(t *testing.T) {
	b := New()
	ctx := context.Background()
	defer b.Close()

	const workers = 20
	done := make(chan bool, workers)
	conformantCount := make(chan bool, workers)

	for range workers {
		go func() {
			defer func() { done <- true }()
			res, err := b.TakeStandard(ctx, "shared", backends.TakeStandardArgs{Size: 10, Count: 1, TTLSeconds: 3600})
			require.NoError(t, err)
			conformantCount <- res.Conformant
		}()
	}

	for range workers {
		<-done
	}
	close(conformantCount)

	allowed := 0
	for ok := range conformantCount {
		if ok {
			allowed++
		}
	}
	require.Equal(t, 10, allowed)
}

func TestBackend_AutoCleanupExpiresEntries(t *testing.T) {
	ctx := context.Background()
	b := NewWithCleanup(50 * time.Millisecond)
	defer b.Close()

	_, err := b.TakeStandard(ctx, "short", backends.TakeStandardArgs{Size: 3, Count: 1, TTLSeconds: 0.02})
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	res, err := b.Get(ctx, "short", backends.GetArgs{Size: 3})
	require.NoError(t, err)
	require.Equal(t, float64(3), res.Remaining, "entry should have been swept and reset to full size")
}

func TestBackend_NoAutoCleanupStillExpiresOnAccess(t *testing.T) {
	ctx := context.Background()
	b := NewWithCleanup(0)
	defer b.Close()

	_, err := b.TakeStandard(ctx, "lazy", backends.TakeStandardArgs{Size: 3, Count: 1, TTLSeconds: 0.02})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	res, err := b.Get(ctx, "lazy", backends.GetArgs{Size: 3})
	require.NoError(t, err)
	require.Equal(t, float64(3), res.Remaining)
}

func TestBackend_ManyKeysNoCrossTalk(t *testing.T) {
	b := New()
	ctx := context.Background()

	for i := range 50 {
		key := fmt.Sprintf("k-%d", i)
		_, err := b.TakeStandard(ctx, key, backends.TakeStandardArgs{Size: 5, Count: int64ToFloat(i % 5), TTLSeconds: 3600})
		require.NoError(t, err)
	}

	for i := range 50 {
		key := fmt.Sprintf("k-%d", i)
		res, err := b.Get(ctx, key, backends.GetArgs{Size: 5})
		require.NoError(t, err)
		require.Equal(t, float64(5-i%5), res.Remaining)
	}
}

func int64ToFloat(i int) float64 { return float64(i) }
