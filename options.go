package ratelimit

import (
	"fmt"
	"maps"
	"time"

	"github.com/driftbucket/ratelimit/backends"
)

// Option is a functional option for configuring a Limiter at construction
// time, the same shape the teacher used for its RateLimiter.
type Option func(*Config) error

// WithBackend configures the Limiter to use an already-constructed backend.
func WithBackend(backend backends.Backend) Option {
	return func(c *Config) error {
		if backend == nil {
			return fmt.Errorf("backend cannot be nil")
		}
		c.Backend = backend
		return nil
	}
}

// WithBackendType constructs the backend through the registry (resolved
// through backends.Create the same way the teacher's factory.go does)
// instead of requiring the caller to import a backend package directly.
func WithBackendType(name string, config any) Option {
	return func(c *Config) error {
		backend, err := backends.Create(name, config)
		if err != nil {
			return fmt.Errorf("failed to create %q backend: %w", name, err)
		}
		c.Backend = backend
		return nil
	}
}

// WithBuckets merges buckets into the Limiter's bucket type table: each
// entry adds or replaces the type of that name, and types set by earlier
// options are kept (spec.md §6 "configure(buckets)").
func WithBuckets(buckets map[string]TypeDef) Option {
	return func(c *Config) error {
		if c.Buckets == nil {
			c.Buckets = make(map[string]TypeDef, len(buckets))
		}
		maps.Copy(c.Buckets, buckets)
		return nil
	}
}

// WithBucket adds or replaces a single bucket type definition
// (spec.md §6 "configureBucket(type, def)").
func WithBucket(typeName string, def TypeDef) Option {
	return func(c *Config) error {
		if typeName == "" {
			return fmt.Errorf("bucket type name cannot be empty")
		}
		if c.Buckets == nil {
			c.Buckets = make(map[string]TypeDef)
		}
		c.Buckets[typeName] = def
		return nil
	}
}

// WithPrefix sets the key prefix applied to every store key the Limiter
// writes (spec.md §6 "Persisted state layout ... keys all prefixed by an
// optional configured prefix").
func WithPrefix(prefix string) Option {
	return func(c *Config) error {
		c.Prefix = prefix
		return nil
	}
}

// WithGlobalTTL overrides the default TTL (7 days) applied to fixed
// buckets' state entries (spec.md §3, §6).
func WithGlobalTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl <= 0 {
			return fmt.Errorf("global TTL must be positive, got %v", ttl)
		}
		c.GlobalTTL = ttl
		return nil
	}
}

// WithPingInterval records how often a liveness prober should probe the
// backend (spec.md §6 ping.interval). The Limiter itself does not run a
// prober (spec.md §1 non-goal); this only sets the policy a caller-owned
// internal/healthchecker.Checker reads back via PingPolicy.
func WithPingInterval(interval time.Duration) Option {
	return func(c *Config) error {
		c.Ping.Interval = interval
		return nil
	}
}

// WithPingRetryPolicy sets the ping failure/reconnect thresholds
// (spec.md §6 ping.maxFailedAttempts, reconnectIfFailed,
// maxFailedAttemptsToRetryReconnect).
func WithPingRetryPolicy(maxFailedAttempts int, reconnectIfFailed bool, maxFailedAttemptsToRetryReconnect int) Option {
	return func(c *Config) error {
		c.Ping.MaxFailedAttempts = maxFailedAttempts
		c.Ping.ReconnectIfFailed = reconnectIfFailed
		c.Ping.MaxFailedAttemptsToRetryReconnect = maxFailedAttemptsToRetryReconnect
		return nil
	}
}
