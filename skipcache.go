package ratelimit

import (
	"sync/atomic"

	"github.com/driftbucket/ratelimit/internal/lru"
)

// skipEntry is the value held per key in the skip-call cache (spec.md §4.4
// "Skip-Call Cache"): the last real result returned by the store, and how
// many successive calls have been answered from cache since then.
type skipEntry struct {
	result  Result
	skipped atomic.Int64
}

type skipCache = lru.Cache[string, *skipEntry]

func newSkipCache(capacity int) *skipCache {
	return lru.New[string, *skipEntry](capacity)
}

// skipDecision is what the skip-call cache tells the caller to do for one
// Take call.
type skipDecision struct {
	// shortCircuit is true when result is usable as-is, with no store
	// round-trip at all.
	shortCircuit bool
	result       Result

	// effectiveCount is the count to send to the store when shortCircuit is
	// false: either the caller's own count (cache miss) or count*(k+1) to
	// absorb the calls that were answered from cache (cache exhausted).
	effectiveCount float64
}

// consultSkipCache implements spec.md §4.4's decision table for a bucket
// whose descriptor has SkipNCalls = k > 0. The caller is responsible for
// writing the real outcome back via recordSkipResult after a store call.
func consultSkipCache(cache *skipCache, key string, k int, count float64) skipDecision {
	entry, ok := cache.Get(key)
	if !ok {
		return skipDecision{effectiveCount: count}
	}

	if entry.skipped.Add(1) <= int64(k) {
		return skipDecision{shortCircuit: true, result: entry.result}
	}

	return skipDecision{effectiveCount: count * float64(k+1)}
}

// recordSkipResult stores the outcome of a real store round-trip, resetting
// the skipped counter to zero as spec.md §4.4 requires on every real call.
func recordSkipResult(cache *skipCache, key string, result Result) {
	cache.Put(key, &skipEntry{result: result})
}
