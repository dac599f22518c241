// Package backends defines the storage contract that implements the
// atomic bucket-mutation algorithms of spec.md §4.5-§4.8 (components
// C5-C8): the network transport to the store, liveness probing, and
// cluster topology discovery are out of scope collaborators (spec.md §1)
// — a Backend only has to expose the four atomic routines below and
// execute them with single-key transactional atomicity, reading "now"
// from the store itself rather than from the caller.
package backends

import "context"

// TakeStandardArgs carries the arguments to the standard atomic take
// routine (spec.md §4.5). All fields are derived from a BucketDescriptor
// plus the request's token count.
type TakeStandardArgs struct {
	Size           int64
	TokensPerMs    float64
	Count          float64
	TTLSeconds     float64
	DripIntervalMs float64
}

// TakeStandardResult is the routine's atomic return (spec.md §4.5 step 8).
type TakeStandardResult struct {
	Remaining  float64
	Conformant bool
	NowMs      int64
	ResetMs    int64
}

// TakeElevatedArgs carries the arguments to the elevated atomic take
// routine (spec.md §4.6), which additionally touches an ERL activation key.
type TakeElevatedArgs struct {
	Size                    int64
	TokensPerMs             float64
	Count                   float64
	TTLSeconds              float64
	DripIntervalMs          float64
	ErlSize                 int64
	ErlTokensPerMs          float64
	ErlDripIntervalMs       float64
	ErlActivationPeriodSecs int64
}

// TakeElevatedResult is the routine's atomic return (spec.md §4.6 step 9).
type TakeElevatedResult struct {
	Remaining  float64
	Conformant bool
	NowMs      int64
	ResetMs    int64
	ErlActive  bool
}

// PutArgs carries the arguments to the atomic put routine (spec.md §4.7).
type PutArgs struct {
	Count          float64
	Size           int64
	TTLSeconds     float64
	DripIntervalMs float64
	Unlimited      bool
}

// PutResult is the routine's atomic return.
type PutResult struct {
	Remaining float64
	NowMs     int64
	ResetMs   int64
}

// GetArgs carries the arguments to the read-only get routine (spec.md §4.8).
type GetArgs struct {
	Size           int64
	DripIntervalMs float64
	Unlimited      bool
}

// GetResult is the routine's return. It never mutates backend state.
type GetResult struct {
	Remaining float64
	NowMs     int64
	ResetMs   int64
}

// Backend is the storage contract a rate limiter instance is built on.
// Implementations must provide single-key transactional atomicity for
// each routine and must read "now" from the store's own clock, not the
// caller's, so that concurrent callers across processes agree on the
// drip computation (spec.md §9 "Clock").
type Backend interface {
	// TakeStandard executes the atomic standard take routine against key.
	TakeStandard(ctx context.Context, key string, args TakeStandardArgs) (TakeStandardResult, error)

	// TakeElevated executes the atomic elevated take routine against the
	// bucket state key and a separate ERL activation key.
	TakeElevated(ctx context.Context, key, erlKey string, args TakeElevatedArgs) (TakeElevatedResult, error)

	// Put executes the atomic put routine against key.
	Put(ctx context.Context, key string, args PutArgs) (PutResult, error)

	// Get reads bucket state without mutating it.
	Get(ctx context.Context, key string, args GetArgs) (GetResult, error)

	// Delete removes a bucket's state entry (and, when key names an ERL
	// activation entry, its activation flag). The Limiter itself does not
	// call it; the backend tests do.
	Delete(ctx context.Context, key string) error

	// Flush removes every entry whose key starts with prefix (spec.md §6
	// "resetAll()"). Implementations that cannot scan by prefix
	// efficiently may approximate this for a single node; cluster-wide
	// iteration is an explicit out-of-scope collaborator (spec.md §1).
	Flush(ctx context.Context, prefix string) error

	// Close releases resources held by the backend.
	Close() error
}
