// Package ratelimit implements a distributed token-bucket rate limiter
// with an elevated rate limits (ERL) mode, backed by a pluggable
// key-value store (backends.Backend) that performs the atomic
// bucket-mutation routines server-side.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/driftbucket/ratelimit/backends"
	"github.com/driftbucket/ratelimit/utils/builderpool"
)

// Limiter is the client dispatch described by spec.md §4.9 (component
// C9): it validates requests, resolves the effective BucketDescriptor for
// a (type, key) pair via the compiled TypeDescriptor tree, consults the
// skip-call cache, and invokes the backend's atomic routines.
//
// A Limiter owns its bucket-type registry and both caches; like the
// teacher's RateLimiter it is meant to be constructed once per process
// (or per logical tenant) and is safe for concurrent use.
type Limiter struct {
	mu        sync.RWMutex
	backend   backends.Backend
	types     map[string]*TypeDescriptor
	prefix    string
	globalTTL time.Duration
	ping      PingConfig
	skip      *skipCache
	events    chan Event
	closed    bool
}

// New creates a Limiter from functional options, compiling every
// configured bucket type up front (spec.md §6 "configure(buckets)").
func New(opts ...Option) (*Limiter, error) {
	config := Config{
		GlobalTTL: DefaultGlobalTTL,
	}

	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if config.GlobalTTL <= 0 {
		config.GlobalTTL = DefaultGlobalTTL
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		backend:   config.Backend,
		types:     make(map[string]*TypeDescriptor, len(config.Buckets)),
		prefix:    config.Prefix,
		globalTTL: config.GlobalTTL,
		ping:      config.Ping,
		skip:      newSkipCache(skipCacheCapacity),
		events:    newEventBus(),
	}

	if err := l.configure(config.Buckets); err != nil {
		return nil, err
	}

	emit(l.events, Event{Kind: EventReady})

	return l, nil
}

// Configure replaces/extends the Limiter's bucket type table, compiling
// each definition synchronously (spec.md §6 "configure(buckets)").
func (l *Limiter) Configure(buckets map[string]TypeDef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.configure(buckets)
}

// configure must be called with l.mu held for writing.
func (l *Limiter) configure(buckets map[string]TypeDef) error {
	now := time.Now()
	for typeName, def := range buckets {
		td, err := Compile(def, l.globalTTL, now)
		if err != nil {
			return fmt.Errorf("failed to compile bucket type %q: %w", typeName, err)
		}
		l.types[typeName] = td
	}
	return nil
}

// ConfigureBucket compiles and installs a single bucket type definition
// (spec.md §6 "configureBucket(type, def)").
func (l *Limiter) ConfigureBucket(typeName string, def TypeDef) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	td, err := Compile(def, l.globalTTL, time.Now())
	if err != nil {
		return fmt.Errorf("failed to compile bucket type %q: %w", typeName, err)
	}
	l.types[typeName] = td
	return nil
}

// GetBackend returns the storage backend used by this Limiter.
func (l *Limiter) GetBackend() backends.Backend {
	return l.backend
}

// PingPolicy returns the ping policy given at construction time
// (WithPingInterval, WithPingRetryPolicy). The Limiter does not probe its
// own backend; a caller-owned internal/healthchecker.Checker built from
// GetBackend, PingPolicy, and EmitPing drives liveness probing and feeds
// outcomes back into Events (spec.md §1, §6).
func (l *Limiter) PingPolicy() PingConfig {
	return l.ping
}

// Close releases the Limiter's storage backend and closes its event
// channel. After Close, Take, TakeElevated, Wait, Put, Get, and ResetAll
// return ErrClosed; Configure and ConfigureBucket still succeed, and
// EmitPing must not be called because the event channel is closed.
func (l *Limiter) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.events)

	if l.backend != nil {
		return l.backend.Close()
	}
	return nil
}

// typeDescriptor looks up a configured bucket type, holding the read
// lock only for the duration of the map access.
func (l *Limiter) typeDescriptor(typeName string) (*TypeDescriptor, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	td, ok := l.types[typeName]
	if !ok {
		return nil, newValidationErrorWrap(CodeUnknownType, ErrUnknownBucketType, "unknown bucket type %q", typeName)
	}
	return td, nil
}

// buildKey assembles the store key for a type:key pair, applying the
// configured prefix (spec.md §6 "Persisted state layout").
func (l *Limiter) buildKey(typeName, key string) string {
	sb := builderpool.Get()
	defer builderpool.Put(sb)

	if l.prefix != "" {
		sb.WriteString(l.prefix)
		sb.WriteByte(':')
	}
	sb.WriteString(typeName)
	sb.WriteByte(':')
	sb.WriteString(key)
	return sb.String()
}

// buildErlKey applies the configured prefix to a caller-supplied ERL
// activation scope key.
func (l *Limiter) buildErlKey(erlKey string) string {
	if l.prefix == "" {
		return erlKey
	}

	sb := builderpool.Get()
	defer builderpool.Put(sb)

	sb.WriteString(l.prefix)
	sb.WriteByte(':')
	sb.WriteString(erlKey)
	return sb.String()
}

// validateRequest checks the type/key pair shared by every operation
// (spec.md §4.9 "Validation").
func (l *Limiter) validateRequest(typeName, key string) (*TypeDescriptor, error) {
	if typeName == "" {
		return nil, newValidationError(CodeMissingType, "type cannot be empty")
	}
	if err := validateKey(key, "key"); err != nil {
		return nil, err
	}
	return l.typeDescriptor(typeName)
}

// effectiveTakeCount resolves a *Count for Take/TakeElevated/Wait: nil
// means the spec's default of 1 (spec.md §6 "count?=1"); CountAll is
// never legal for a take.
func effectiveTakeCount(c *Count) float64 {
	if c == nil {
		return 1
	}
	return float64(*c)
}

func validateTakeCount(c *Count) error {
	if c == nil {
		return nil
	}
	if *c == CountAll {
		return newValidationErrorWrap(CodeInvalidCount, ErrInvalidCount, "'all' is not a valid count for take")
	}
	if *c < 0 {
		return newValidationErrorWrap(CodeInvalidCount, ErrInvalidCount, "count must be non-negative, got %d", *c)
	}
	return nil
}

// TakeRequest is the argument record for Take (spec.md §6
// "take({type, key, count?=1, configOverride?})").
type TakeRequest struct {
	Type           string
	Key            string
	Count          *Count
	ConfigOverride *BucketDef
}

// Take attempts to deduct Count (default 1) tokens from the named bucket
// (spec.md §4.9, §4.5). A denial is not an error: it returns
// Conformant=false with the bucket's current remaining/reset.
func (l *Limiter) Take(ctx context.Context, req TakeRequest) (Result, error) {
	res, _, err := l.take(ctx, req.Type, req.Key, req.Count, req.ConfigOverride)
	return res, err
}

// take is the shared implementation behind Take and Wait; it also
// returns the resolved descriptor so Wait can compute a retry delay
// without re-resolving the bucket type.
func (l *Limiter) take(ctx context.Context, typeName, key string, count *Count, override *BucketDef) (Result, BucketDescriptor, error) {
	td, err := l.validateRequest(typeName, key)
	if err != nil {
		return Result{}, BucketDescriptor{}, err
	}
	if err := validateTakeCount(count); err != nil {
		return Result{}, BucketDescriptor{}, err
	}

	l.mu.RLock()
	globalTTL := l.globalTTL
	l.mu.RUnlock()

	desc := td.resolve(key, override, globalTTL)
	effCount := effectiveTakeCount(count)

	if desc.Unlimited {
		return Result{Conformant: true, Remaining: desc.Size, Limit: desc.Size}, desc, nil
	}

	cacheKey := typeName + ":" + key
	if desc.SkipNCalls > 0 {
		decision := consultSkipCache(l.skip, cacheKey, desc.SkipNCalls, effCount)
		if decision.shortCircuit {
			return decision.result, desc, nil
		}
		effCount = decision.effectiveCount
	}

	storeKey := l.buildKey(typeName, key)
	args := backends.TakeStandardArgs{
		Size:           desc.Size,
		TokensPerMs:    desc.TokensPerMs,
		Count:          effCount,
		TTLSeconds:     desc.TTLSeconds,
		DripIntervalMs: desc.DripIntervalMs,
	}

	sres, err := l.backend.TakeStandard(ctx, storeKey, args)
	if err != nil {
		l.reportStoreError("TakeStandard", err)
		return Result{}, desc, newStoreError("TakeStandard", err)
	}

	result := Result{
		Conformant: sres.Conformant,
		Remaining:  clampRemaining(sres.Remaining, desc.Size),
		Reset:      resetSeconds(sres.ResetMs),
		Limit:      desc.Size,
	}

	if desc.SkipNCalls > 0 {
		recordSkipResult(l.skip, cacheKey, result)
	}

	return result, desc, nil
}

// TakeElevatedRequest is the argument record for TakeElevated
// (spec.md §6 "takeElevated({..., erlIsActiveKey, allowERL})").
//
// AllowERL gates whether this call may observe/trigger ERL promotion at
// all: when false, the request is serviced exactly like Take against the
// standard capacity, ErlIsActiveKey is not required, and the result's
// ErlActivated is always false. This is the Go-native reading of the
// reference's allowERL flag, which has no further documented contract.
type TakeElevatedRequest struct {
	Type           string
	Key            string
	Count          *Count
	ConfigOverride *BucketDef
	ErlIsActiveKey string
	AllowERL       bool
}

// TakeElevated attempts a take that may promote the bucket into its
// elevated capacity regime when standard capacity is exhausted
// (spec.md §4.6, §4.9).
func (l *Limiter) TakeElevated(ctx context.Context, req TakeElevatedRequest) (Result, error) {
	if !req.AllowERL {
		return l.Take(ctx, TakeRequest{
			Type:           req.Type,
			Key:            req.Key,
			Count:          req.Count,
			ConfigOverride: req.ConfigOverride,
		})
	}

	td, err := l.validateRequest(req.Type, req.Key)
	if err != nil {
		return Result{}, err
	}
	if err := validateTakeCount(req.Count); err != nil {
		return Result{}, err
	}
	if req.ErlIsActiveKey == "" {
		return Result{}, newValidationErrorWrap(CodeMissingErlKey, ErrMissingErlKey, "erlIsActiveKey is required for elevated limits")
	}

	l.mu.RLock()
	globalTTL := l.globalTTL
	l.mu.RUnlock()

	desc := td.resolve(req.Key, req.ConfigOverride, globalTTL)
	if !desc.HasCompleteElevated() {
		return Result{}, newValidationErrorWrap(CodeBucketHasNoElevatedConfig, ErrNoElevatedConfig, "attempted to takeElevated() for a bucket with no elevated config")
	}

	effCount := effectiveTakeCount(req.Count)

	if desc.Unlimited {
		return Result{Conformant: true, Remaining: desc.Size, Limit: desc.Size}, nil
	}

	cacheKey := req.Type + ":" + req.Key
	if desc.SkipNCalls > 0 {
		decision := consultSkipCache(l.skip, cacheKey, desc.SkipNCalls, effCount)
		if decision.shortCircuit {
			return decision.result, nil
		}
		effCount = decision.effectiveCount
	}

	storeKey := l.buildKey(req.Type, req.Key)
	erlKey := l.buildErlKey(req.ErlIsActiveKey)

	args := backends.TakeElevatedArgs{
		Size:                    desc.Size,
		TokensPerMs:             desc.TokensPerMs,
		Count:                   effCount,
		TTLSeconds:              desc.TTLSeconds,
		DripIntervalMs:          desc.DripIntervalMs,
		ErlSize:                 desc.Elevated.Size,
		ErlTokensPerMs:          desc.Elevated.TokensPerMs,
		ErlDripIntervalMs:       desc.Elevated.DripIntervalMs,
		ErlActivationPeriodSecs: desc.Elevated.ActivationPeriodSeconds,
	}

	eres, err := l.backend.TakeElevated(ctx, storeKey, erlKey, args)
	if err != nil {
		l.reportStoreError("TakeElevated", err)
		return Result{}, newStoreError("TakeElevated", err)
	}

	capacity := desc.Size
	if eres.ErlActive {
		capacity = desc.Elevated.Size
	}

	result := Result{
		Conformant:   eres.Conformant,
		Remaining:    clampRemaining(eres.Remaining, capacity),
		Reset:        resetSeconds(eres.ResetMs),
		Limit:        capacity,
		ErlActivated: eres.ErlActive,
	}

	if desc.SkipNCalls > 0 {
		recordSkipResult(l.skip, cacheKey, result)
	}

	return result, nil
}

// PutRequest is the argument record for Put (spec.md §6
// "put({type, key, count?=size, configOverride?})").
type PutRequest struct {
	Type           string
	Key            string
	Count          *Count // nil or CountAll both mean "restore to size" (spec.md §4.7)
	ConfigOverride *BucketDef
}

// Put restores tokens to a bucket up to its capacity (spec.md §4.7).
func (l *Limiter) Put(ctx context.Context, req PutRequest) (QuotaState, error) {
	td, err := l.validateRequest(req.Type, req.Key)
	if err != nil {
		return QuotaState{}, err
	}

	l.mu.RLock()
	globalTTL := l.globalTTL
	l.mu.RUnlock()

	desc := td.resolve(req.Key, req.ConfigOverride, globalTTL)

	count := float64(desc.Size)
	if req.Count != nil && *req.Count != CountAll {
		count = float64(*req.Count)
	}

	storeKey := l.buildKey(req.Type, req.Key)
	args := backends.PutArgs{
		Count:          count,
		Size:           desc.Size,
		TTLSeconds:     desc.TTLSeconds,
		DripIntervalMs: desc.DripIntervalMs,
		Unlimited:      desc.Unlimited,
	}

	pres, err := l.backend.Put(ctx, storeKey, args)
	if err != nil {
		l.reportStoreError("Put", err)
		return QuotaState{}, newStoreError("Put", err)
	}

	return QuotaState{
		Remaining: quotaRemaining(pres.Remaining, desc.Size),
		Reset:     resetSeconds(pres.ResetMs),
		Limit:     desc.Size,
	}, nil
}

// GetRequest is the argument record for Get (spec.md §6
// "get({type, key, configOverride?})").
type GetRequest struct {
	Type           string
	Key            string
	ConfigOverride *BucketDef
}

// Get reads a bucket's current state without mutating it (spec.md §4.8).
func (l *Limiter) Get(ctx context.Context, req GetRequest) (QuotaState, error) {
	td, err := l.validateRequest(req.Type, req.Key)
	if err != nil {
		return QuotaState{}, err
	}

	l.mu.RLock()
	globalTTL := l.globalTTL
	l.mu.RUnlock()

	desc := td.resolve(req.Key, req.ConfigOverride, globalTTL)

	storeKey := l.buildKey(req.Type, req.Key)
	args := backends.GetArgs{
		Size:           desc.Size,
		DripIntervalMs: desc.DripIntervalMs,
		Unlimited:      desc.Unlimited,
	}

	gres, err := l.backend.Get(ctx, storeKey, args)
	if err != nil {
		l.reportStoreError("Get", err)
		return QuotaState{}, newStoreError("Get", err)
	}

	return QuotaState{
		Remaining: quotaRemaining(gres.Remaining, desc.Size),
		Reset:     resetSeconds(gres.ResetMs),
		Limit:     desc.Size,
	}, nil
}

// ResetAll flushes every key this Limiter's prefix owns (spec.md §6
// "resetAll() — flushes the store namespace (cluster-aware: iterate
// masters)"). Cluster-topology discovery is an explicit out-of-scope
// collaborator (spec.md §1); backends implement this for a single node
// or shard, which is the reduced scope this module targets.
func (l *Limiter) ResetAll(ctx context.Context) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	prefix := l.prefix
	l.mu.RUnlock()

	if err := l.backend.Flush(ctx, prefix); err != nil {
		l.reportStoreError("Flush", err)
		return newStoreError("Flush", err)
	}
	return nil
}

// reportStoreError publishes a backend failure as a lifecycle event
// (spec.md §7 "Transport/store errors are delivered via the callback and
// additionally emitted as error/node error events"), classifying
// connectivity failures (backends.IsHealthError) distinctly from
// operational ones.
func (l *Limiter) reportStoreError(op string, err error) {
	if backends.IsHealthError(err) {
		emit(l.events, Event{Kind: EventNodeError, Err: err, Node: op})
		return
	}
	emit(l.events, Event{Kind: EventError, Err: err})
}
