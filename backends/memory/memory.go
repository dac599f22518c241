// Package memory implements backends.Backend entirely in-process. It
// plays the role of "the store" from spec.md for tests and for
// single-process deployments: a per-key mutex stands in for the
// store's single-threaded-per-key script execution model (spec.md §5).
package memory

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/driftbucket/ratelimit/backends"
)

const (
	// DefaultCleanupInterval is the default interval for cleaning up expired entries.
	DefaultCleanupInterval = 10 * time.Minute
)

// mutexPool reduces allocations for mutex creation.
var mutexPool = sync.Pool{
	New: func() any {
		return &sync.Mutex{}
	},
}

// Backend is an in-process implementation of backends.Backend.
type Backend struct {
	locks         sync.Map // map[string]*sync.Mutex
	values        sync.Map // map[string]stateEntry
	cleanupTicker *time.Ticker
	cleanupStop   chan bool
	cleanupWG     sync.WaitGroup
}

// stateEntry holds either a bucket's (d, r) pair or, for an ERL
// activation key, the boolean true.
type stateEntry struct {
	value      any
	expiration time.Time
}

type bucketState struct {
	d float64 // last-drip timestamp, ms
	r float64 // remaining tokens
}

func (e stateEntry) expired(now time.Time) bool {
	return now.After(e.expiration)
}

// New initializes a new in-memory backend with default (10 minutes) cleanup.
func New() *Backend {
	return NewWithCleanup(DefaultCleanupInterval)
}

// NewWithCleanup initializes a new in-memory backend with a custom cleanup
// interval. Set interval to 0 to disable automatic cleanup.
func NewWithCleanup(interval time.Duration) *Backend {
	b := &Backend{
		cleanupStop: make(chan bool),
	}
	if interval > 0 {
		b.startCleanupRoutine(interval)
	}
	return b
}

// getLock returns a mutex for the given key, using a pool to reduce
// allocations under churn.
func (b *Backend) getLock(key string) *sync.Mutex {
	if existing, ok := b.locks.Load(key); ok {
		return existing.(*sync.Mutex)
	}

	mutex := mutexPool.Get().(*sync.Mutex)
	actual, loaded := b.locks.LoadOrStore(key, mutex)
	if loaded {
		mutexPool.Put(mutex)
	}
	return actual.(*sync.Mutex)
}

// lockPair locks two keys' mutexes in a fixed order so concurrent calls
// for the same pair never deadlock.
func (b *Backend) lockPair(a, c string) (*sync.Mutex, *sync.Mutex) {
	if a == c {
		l := b.getLock(a)
		l.Lock()
		return l, l
	}
	first, second := a, c
	if second < first {
		first, second = second, first
	}
	l1 := b.getLock(first)
	l1.Lock()
	l2 := b.getLock(second)
	l2.Lock()
	if a < c {
		return l1, l2
	}
	return l2, l1
}

func resetMs(now int64, size int64, remaining float64, dripIntervalMs float64) int64 {
	if dripIntervalMs <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(now) + (float64(size)-remaining)*dripIntervalMs))
}

func (b *Backend) loadBucket(key string, now time.Time) (bucketState, bool) {
	valAny, exists := b.values.Load(key)
	if !exists {
		return bucketState{}, false
	}
	val := valAny.(stateEntry)
	if val.expired(now) {
		b.values.Delete(key)
		return bucketState{}, false
	}
	bs, ok := val.value.(bucketState)
	return bs, ok
}

func (b *Backend) storeBucket(key string, bs bucketState, ttlSeconds float64, now time.Time) {
	b.values.Store(key, stateEntry{
		value:      bs,
		expiration: expiryFor(ttlSeconds, now),
	})
}

func (b *Backend) erlActive(key string, now time.Time) bool {
	valAny, exists := b.values.Load(key)
	if !exists {
		return false
	}
	val := valAny.(stateEntry)
	if val.expired(now) {
		b.values.Delete(key)
		return false
	}
	active, _ := val.value.(bool)
	return active
}

func expiryFor(ttlSeconds float64, now time.Time) time.Time {
	if ttlSeconds <= 0 {
		return now
	}
	return now.Add(time.Duration(ttlSeconds * float64(time.Second)))
}

func (b *Backend) TakeStandard(ctx context.Context, key string, args backends.TakeStandardArgs) (backends.TakeStandardResult, error) {
	if err := ctx.Err(); err != nil {
		return backends.TakeStandardResult{}, err
	}

	lock := b.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	nowMillis := now.UnixMilli()

	bs, present := b.loadBucket(key, now)

	var content float64
	switch {
	case present && args.TokensPerMs > 0:
		elapsed := math.Max(float64(nowMillis)-bs.d, 0)
		content = math.Min(bs.r+elapsed*args.TokensPerMs, float64(args.Size))
	case present && args.TokensPerMs == 0:
		content = bs.r
	default:
		content = float64(args.Size)
	}

	conformant := content >= args.Count
	newR := content
	if conformant {
		newR = math.Min(content-args.Count, float64(args.Size))
	}

	b.storeBucket(key, bucketState{d: float64(nowMillis), r: newR}, args.TTLSeconds, now)

	return backends.TakeStandardResult{
		Remaining:  newR,
		Conformant: conformant,
		NowMs:      nowMillis,
		ResetMs:    resetMs(nowMillis, args.Size, newR, args.DripIntervalMs),
	}, nil
}

func (b *Backend) TakeElevated(ctx context.Context, key, erlKey string, args backends.TakeElevatedArgs) (backends.TakeElevatedResult, error) {
	if err := ctx.Err(); err != nil {
		return backends.TakeElevatedResult{}, err
	}

	l1, l2 := b.lockPair(key, erlKey)
	defer l1.Unlock()
	if l2 != l1 {
		defer l2.Unlock()
	}

	now := time.Now()
	nowMillis := now.UnixMilli()

	erlOn := b.erlActive(erlKey, now)
	bs, present := b.loadBucket(key, now)

	activeSize, activeRate := args.Size, args.TokensPerMs
	if erlOn {
		activeSize, activeRate = args.ErlSize, args.ErlTokensPerMs
	}

	var content float64
	switch {
	case present && activeRate > 0:
		elapsed := math.Max(float64(nowMillis)-bs.d, 0)
		content = math.Min(bs.r+elapsed*activeRate, float64(activeSize))
	case present && activeRate == 0:
		content = bs.r
	default:
		content = float64(activeSize)
	}

	enough := content >= args.Count

	if !enough && !erlOn {
		used := float64(args.Size) - content
		candidate := float64(args.ErlSize) - used
		if candidate >= args.Count {
			erlOn = true
			b.values.Store(erlKey, stateEntry{
				value:      true,
				expiration: expiryFor(float64(args.ErlActivationPeriodSecs), now),
			})
			enough = true
			content = candidate
		}
	}

	capSize := args.Size
	if erlOn {
		capSize = args.ErlSize
	}
	newR := content
	if enough {
		newR = math.Min(content-args.Count, float64(capSize))
	}

	b.storeBucket(key, bucketState{d: float64(nowMillis), r: newR}, args.TTLSeconds, now)

	dripMs, size := args.DripIntervalMs, args.Size
	if erlOn {
		dripMs, size = args.ErlDripIntervalMs, args.ErlSize
	}

	return backends.TakeElevatedResult{
		Remaining:  newR,
		Conformant: enough,
		NowMs:      nowMillis,
		ResetMs:    resetMs(nowMillis, size, newR, dripMs),
		ErlActive:  erlOn,
	}, nil
}

func (b *Backend) Put(ctx context.Context, key string, args backends.PutArgs) (backends.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return backends.PutResult{}, err
	}

	now := time.Now()
	nowMillis := now.UnixMilli()

	if args.Unlimited {
		return backends.PutResult{
			Remaining: float64(args.Size),
			NowMs:     nowMillis,
			ResetMs:   nowMillis,
		}, nil
	}

	lock := b.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	bs, present := b.loadBucket(key, now)
	r := float64(args.Size)
	if present {
		r = bs.r
	}

	newR := math.Min(r+args.Count, float64(args.Size))
	b.storeBucket(key, bucketState{d: float64(nowMillis), r: newR}, args.TTLSeconds, now)

	return backends.PutResult{
		Remaining: newR,
		NowMs:     nowMillis,
		ResetMs:   resetMs(nowMillis, args.Size, newR, args.DripIntervalMs),
	}, nil
}

func (b *Backend) Get(ctx context.Context, key string, args backends.GetArgs) (backends.GetResult, error) {
	if err := ctx.Err(); err != nil {
		return backends.GetResult{}, err
	}

	now := time.Now()
	nowMillis := now.UnixMilli()

	if args.Unlimited {
		return backends.GetResult{
			Remaining: float64(args.Size),
			NowMs:     nowMillis,
			ResetMs:   nowMillis,
		}, nil
	}

	lock := b.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	bs, present := b.loadBucket(key, now)
	r := float64(args.Size)
	if present {
		r = bs.r
	}

	return backends.GetResult{
		Remaining: r,
		NowMs:     nowMillis,
		ResetMs:   resetMs(nowMillis, args.Size, r, args.DripIntervalMs),
	}, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := b.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	b.values.Delete(key)
	return nil
}

func (b *Backend) Flush(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var toDelete []string
	b.values.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			toDelete = append(toDelete, k.(string))
		}
		return true
	})

	for _, key := range toDelete {
		lock := b.getLock(key)
		lock.Lock()
		b.values.Delete(key)
		lock.Unlock()
	}
	return nil
}

// startCleanupRoutine starts the cleanup goroutine with the given interval.
func (b *Backend) startCleanupRoutine(interval time.Duration) {
	b.cleanupTicker = time.NewTicker(interval)
	b.cleanupWG.Go(b.runCleanupRoutine)
}

func (b *Backend) runCleanupRoutine() {
	for {
		select {
		case <-b.cleanupTicker.C:
			b.cleanup()
		case <-b.cleanupStop:
			return
		}
	}
}

func (b *Backend) cleanup() {
	now := time.Now()
	var expired []string
	b.values.Range(func(k, valAny any) bool {
		if valAny.(stateEntry).expired(now) {
			expired = append(expired, k.(string))
		}
		return true
	})
	for _, key := range expired {
		lock := b.getLock(key)
		lock.Lock()
		b.values.Delete(key)
		lock.Unlock()
	}
}

// Cleanup triggers an immediate sweep of expired entries.
func (b *Backend) Cleanup() {
	b.cleanup()
}

func (b *Backend) Close() error {
	if b.cleanupTicker != nil {
		b.cleanupTicker.Stop()
		if b.cleanupStop != nil {
			select {
			case <-b.cleanupStop:
			default:
				close(b.cleanupStop)
			}
		}
	}

	b.cleanupWG.Wait()

	b.values = sync.Map{}
	b.locks = sync.Map{}
	return nil
}
