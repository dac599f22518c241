package healthchecker

import (
	"sync/atomic"
	"time"
)

// breakerState tracks whether the Checker treats the backend as reachable
// (closed), has given up and is waiting out RecoveryTimeout (open), or is
// running a single tentative probe to see if it can recover (half-open).
type breakerState int32

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// reconnectBreaker decides when a run of failures escalates from plain
// StatusFailure into a StatusReconnect/StatusReconnectDryRun signal
// (spec.md §6 ping.reconnectIfFailed). Adapted from the backend
// failover circuit breaker: same three-state shape, but it gates ping
// status classification instead of a primary/secondary backend switch.
type reconnectBreaker struct {
	threshold       int32
	recoveryTimeout time.Duration

	state        int32
	failureCount int32
	openedAt     int64
}

func newReconnectBreaker(threshold int, recoveryTimeout time.Duration) *reconnectBreaker {
	return &reconnectBreaker{
		threshold:       int32(threshold),
		recoveryTimeout: recoveryTimeout,
	}
}

// recordFailure registers one failed probe and reports whether it should
// be surfaced as StatusReconnect: true for every failure, outside the
// half-open state, once the failure count has reached the threshold.
func (b *reconnectBreaker) recordFailure() (tripped bool) {
	if breakerState(atomic.LoadInt32(&b.state)) == stateHalfOpen {
		atomic.StoreInt32(&b.state, int32(stateOpen))
		atomic.StoreInt64(&b.openedAt, time.Now().UnixNano())
		return false
	}

	count := atomic.AddInt32(&b.failureCount, 1)
	if b.threshold > 0 && count >= b.threshold {
		atomic.StoreInt32(&b.state, int32(stateOpen))
		atomic.StoreInt64(&b.openedAt, time.Now().UnixNano())
		return true
	}
	return false
}

// recordSuccess clears the breaker. Returns true if the success closed
// a breaker that was previously open or half-open.
func (b *reconnectBreaker) recordSuccess() (recovered bool) {
	prev := breakerState(atomic.SwapInt32(&b.state, int32(stateClosed)))
	atomic.StoreInt32(&b.failureCount, 0)
	return prev != stateClosed
}

// dryRunDue reports whether the breaker is open and its recovery
// timeout has elapsed, transitioning it to half-open so the next probe
// is treated as a dry-run reconnect attempt rather than a plain check.
func (b *reconnectBreaker) dryRunDue() bool {
	if breakerState(atomic.LoadInt32(&b.state)) != stateOpen {
		return false
	}
	if b.recoveryTimeout <= 0 {
		return false
	}
	openedAt := atomic.LoadInt64(&b.openedAt)
	if time.Since(time.Unix(0, openedAt)) < b.recoveryTimeout {
		return false
	}
	return atomic.CompareAndSwapInt32(&b.state, int32(stateOpen), int32(stateHalfOpen))
}
