package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/driftbucket/ratelimit/utils"
)

// WaitRequest is the argument record for Wait (spec.md §6 "wait({type, key,
// count?=1, configOverride?})").
type WaitRequest struct {
	Type           string
	Key            string
	Count          *Count
	ConfigOverride *BucketDef
}

// waitSleepThreshold is the cutoff below which Wait sleeps without
// honoring context cancellation, matching utils.SleepOrWait's contract
// (short waits aren't worth the extra timer machinery).
const waitSleepThreshold = 50 * time.Millisecond

// Wait implements spec.md §4.9 "Wait semantics": call Take; if conformant,
// return immediately with Delayed=false; otherwise sleep for the minimum
// time the descriptor's refill rate says is needed and retry, repeating
// until conformant or ctx is done. Wait is reentrant and unbounded unless
// the caller's context carries a deadline.
func (l *Limiter) Wait(ctx context.Context, req WaitRequest) (Result, error) {
	res, desc, err := l.take(ctx, req.Type, req.Key, req.Count, req.ConfigOverride)
	if err != nil {
		return Result{}, err
	}
	if res.Conformant {
		return res, nil
	}

	count := effectiveTakeCount(req.Count)
	for {
		wait := minWait(desc, count, res.Remaining)
		if err := utils.SleepOrWait(ctx, wait, waitSleepThreshold); err != nil {
			return Result{}, err
		}

		res, _, err = l.take(ctx, req.Type, req.Key, req.Count, req.ConfigOverride)
		if err != nil {
			return Result{}, err
		}
		if res.Conformant {
			res.Delayed = true
			return res, nil
		}
	}
}

// minWait computes spec.md §4.9's retry delay: ceil((count - remaining) *
// interval_ms / per_interval). A fixed (non-refilling) bucket has no rate
// to wait out, so it falls back to the sleep threshold to avoid a busy loop.
func minWait(desc BucketDescriptor, count float64, remaining int64) time.Duration {
	if !desc.Refills() {
		return waitSleepThreshold
	}
	needed := count - float64(remaining)
	if needed <= 0 {
		return waitSleepThreshold
	}
	ms := math.Ceil(needed * float64(desc.IntervalMs) / float64(desc.PerInterval))
	d := time.Duration(ms) * time.Millisecond
	if d < waitSleepThreshold {
		return waitSleepThreshold
	}
	return d
}
