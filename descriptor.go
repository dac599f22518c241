package ratelimit

import (
	"regexp"
	"time"
)

// DefaultGlobalTTL is the TTL applied to a fixed (non-refilling) bucket's
// state entry when no GlobalTTL override was supplied to the Limiter
// (spec.md §3 "ttl_s ... else a globally configured default (7 days)").
const DefaultGlobalTTL = 7 * 24 * time.Hour

// DefaultErlActivationPeriodSeconds is the TTL of the ERL activation entry when
// a bucket's Elevated definition does not set one (spec.md §4.1 rule 6).
const DefaultErlActivationPeriodSeconds = 900

// BucketDef is the raw, caller-supplied definition of a bucket's rate, as
// passed to Configure/ConfigureBucket or as a request-time configOverride
// (spec.md §4.1 "Temporal Normalizer" input).
//
// Exactly one of the rate shortcuts (PerSecond, PerMinute, PerHour, PerDay)
// or the explicit (Interval, PerInterval) pair should be set. If more than
// one shortcut is set, the last one evaluated in the fixed
// per_second/per_minute/per_hour/per_day order wins — this is a documented
// quirk inherited from the reference implementation, not a recommended usage.
type BucketDef struct {
	PerSecond *int64
	PerMinute *int64
	PerHour   *int64
	PerDay    *int64

	// Interval and PerInterval together express a rate directly: PerInterval
	// tokens are added every Interval. Both must be set together.
	Interval    time.Duration
	PerInterval *int64

	// Size is the bucket's maximum content. Defaults to PerInterval (or 0).
	Size *int64

	// Unlimited marks the bucket as always-conformant and never mutating state.
	Unlimited bool

	// SkipNCalls enables the skip-call cache (spec.md §4.4) for this bucket.
	SkipNCalls int

	// ErlActivationPeriodSeconds is only meaningful inside an Elevated definition.
	ErlActivationPeriodSeconds *int64

	// Elevated, when set, describes the bucket's ERL capacity regime.
	Elevated *BucketDef
}

// OverrideDef is one entry of a TypeDef's override list (spec.md §4.2).
// An override with a non-empty Match is evaluated as a case-insensitive
// regular expression against the request key; otherwise it is a literal
// match against Key.
type OverrideDef struct {
	Key   string
	Match string
	Def   BucketDef
	Until time.Time // zero value means "never expires"
}

// TypeDef is the raw definition of a bucket type (spec.md §3 "TypeDescriptor").
type TypeDef struct {
	Base      BucketDef
	Overrides []OverrideDef
}

// BucketDescriptor is the compiled, normalized runtime representation of a
// bucket's configuration (spec.md §3 "BucketDescriptor (runtime, immutable
// once compiled)").
type BucketDescriptor struct {
	Size           int64
	IntervalMs     int64
	PerInterval    int64
	DripIntervalMs float64
	TokensPerMs    float64
	TTLSeconds     float64
	Unlimited      bool
	SkipNCalls     int
	Elevated       *ElevatedDescriptor
}

// Refills reports whether the bucket continuously refills over time, as
// opposed to being fixed (only restored via Put).
func (d BucketDescriptor) Refills() bool {
	return d.PerInterval > 0 && d.IntervalMs > 0
}

// ElevatedDescriptor is a BucketDescriptor plus the activation period for
// the ERL state machine (spec.md §3, "elevated (optional, recursively the
// same shape plus activation_period_s, default 900)").
type ElevatedDescriptor struct {
	BucketDescriptor
	ActivationPeriodSeconds int64
}

// Normalize canonicalizes a raw BucketDef into a BucketDescriptor
// (spec.md §4.1 "Temporal Normalizer"). It is a pure function of def and
// globalTTL: malformed input is not an error here, it is caught later by
// request validation (C9).
func Normalize(def BucketDef, globalTTL time.Duration) BucketDescriptor {
	intervalMs := def.Interval.Milliseconds()
	var perInterval int64
	if def.PerInterval != nil {
		perInterval = *def.PerInterval
	}

	// Rate shortcuts, applied in a fixed order; the last one present wins.
	type shortcut struct {
		ms  int64
		val *int64
	}
	for _, s := range []shortcut{
		{1_000, def.PerSecond},
		{60_000, def.PerMinute},
		{3_600_000, def.PerHour},
		{86_400_000, def.PerDay},
	} {
		if s.val != nil {
			intervalMs = s.ms
			perInterval = *s.val
		}
	}

	var size int64
	switch {
	case def.Size != nil:
		size = *def.Size
	case perInterval != 0:
		size = perInterval
	default:
		size = 0
	}

	desc := BucketDescriptor{
		Size:       size,
		Unlimited:  def.Unlimited,
		SkipNCalls: def.SkipNCalls,
	}

	if perInterval > 0 && intervalMs > 0 {
		desc.IntervalMs = intervalMs
		desc.PerInterval = perInterval
		desc.TokensPerMs = float64(perInterval) / float64(intervalMs)
		desc.DripIntervalMs = float64(intervalMs) / float64(perInterval)
		desc.TTLSeconds = (float64(size) * float64(intervalMs) / float64(perInterval)) / 1000
	} else {
		desc.TTLSeconds = globalTTL.Seconds()
	}

	if def.Elevated != nil {
		elevatedBase := Normalize(*def.Elevated, globalTTL)
		activation := int64(DefaultErlActivationPeriodSeconds)
		if def.Elevated.ErlActivationPeriodSeconds != nil {
			activation = *def.Elevated.ErlActivationPeriodSeconds
		}
		desc.Elevated = &ElevatedDescriptor{
			BucketDescriptor:        elevatedBase,
			ActivationPeriodSeconds: activation,
		}
	}

	return desc
}

// HasCompleteElevated reports whether d carries a fully specified ERL
// sub-descriptor (size, refill rate, and activation period all set), the
// precondition spec.md §4.9 requires for TakeElevated.
func (d BucketDescriptor) HasCompleteElevated() bool {
	return d.Elevated != nil &&
		d.Elevated.Size > 0 &&
		d.Elevated.Refills() &&
		d.Elevated.ActivationPeriodSeconds > 0
}

type regexOverride struct {
	pattern *regexp.Regexp
	desc    BucketDescriptor
}

// TypeDescriptor is a compiled BucketDescriptor (the type's default) plus
// its overrides (spec.md §3 "TypeDescriptor").
type TypeDescriptor struct {
	Base             BucketDescriptor
	LiteralOverrides map[string]BucketDescriptor
	RegexOverrides   []regexOverride
	cache            *lruOverrideCache
}

// Compile builds a TypeDescriptor from a raw TypeDef (spec.md §4.2
// "Bucket-Type Compiler"). Overrides whose Until has already passed at
// compile time (relative to now) are dropped entirely; overrides that
// expire later remain in memory until the next Configure call (documented
// non-goal: runtime expiry of already-compiled overrides is not
// implemented, per spec.md §9).
func Compile(def TypeDef, globalTTL time.Duration, now time.Time) (*TypeDescriptor, error) {
	td := &TypeDescriptor{
		Base:             Normalize(def.Base, globalTTL),
		LiteralOverrides: make(map[string]BucketDescriptor),
	}

	for _, ov := range def.Overrides {
		if !ov.Until.IsZero() && ov.Until.Before(now) {
			continue
		}

		desc := Normalize(ov.Def, globalTTL)

		if ov.Match == "" {
			td.LiteralOverrides[ov.Key] = desc
			continue
		}

		re, err := regexp.Compile("(?i)" + ov.Match)
		if err != nil {
			return nil, newValidationError(CodeInvalidOverride,
				"invalid override regex %q: %v", ov.Match, err)
		}
		td.RegexOverrides = append(td.RegexOverrides, regexOverride{pattern: re, desc: desc})
	}

	if len(td.RegexOverrides) > 0 {
		td.cache = newLRUOverrideCache(overridesCacheCapacity)
	}

	return td, nil
}
