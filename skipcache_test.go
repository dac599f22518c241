package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSkipCache_MissOnFirstConsult(t *testing.T) {
	cache := newSkipCache(10)
	decision := consultSkipCache(cache, "k1", 2, 1)
	require.False(t, decision.shortCircuit)
	require.Equal(t, float64(1), decision.effectiveCount)
}

func TestSkipCache_ShortCircuitsUpToK(t *testing.T) {
	cache := newSkipCache(10)
	want := Result{Conformant: true, Remaining: 5}
	recordSkipResult(cache, "k1", want)

	first := consultSkipCache(cache, "k1", 2, 1)
	require.True(t, first.shortCircuit)
	require.Equal(t, want, first.result)

	second := consultSkipCache(cache, "k1", 2, 1)
	require.True(t, second.shortCircuit)

	third := consultSkipCache(cache, "k1", 2, 1)
	require.False(t, third.shortCircuit, "after k skips the call must reach the store")
	require.Equal(t, float64(1*(2+1)), third.effectiveCount)
}

func TestSkipCache_RecordResetsSkippedCounter(t *testing.T) {
	cache := newSkipCache(10)
	recordSkipResult(cache, "k1", Result{Remaining: 1})
	consultSkipCache(cache, "k1", 1, 1) // consumes the one allowed skip

	recordSkipResult(cache, "k1", Result{Remaining: 9})
	decision := consultSkipCache(cache, "k1", 1, 1)
	require.True(t, decision.shortCircuit, "a fresh real result should allow skipping again")
	require.Equal(t, int64(9), decision.result.Remaining)
}
