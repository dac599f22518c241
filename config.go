package ratelimit

import (
	"time"

	"github.com/driftbucket/ratelimit/backends"
)

// allowedCharsArray is a precomputed boolean array for O(1) character validation.
var allowedCharsArray [128]bool

func init() {
	for i := range 128 {
		allowedCharsArray[i] = false
	}

	for _, c := range "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-:.@" {
		allowedCharsArray[c] = true
	}
}

// validateKey validates that a key meets the requirements:
// - Maximum 64 bytes length
// - Contains only alphanumeric ASCII characters, underscore (_), hyphen (-),
// colon (:), period (.), and at (@)
func validateKey(key string, keyType string) error {
	if len(key) == 0 {
		return newValidationError(CodeInvalidKey, "%s cannot be empty", keyType)
	}

	if len(key) > 64 {
		return newValidationError(CodeInvalidKey, "%s cannot exceed 64 bytes, got %d bytes", keyType, len(key))
	}

	const hint = "Only alphanumeric ASCII, underscore (_), hyphen (-), colon (:), period (.), and at (@) are allowed"

	for i, r := range key {
		if r >= 128 || !allowedCharsArray[r] {
			return newValidationError(CodeInvalidKey, "%s contains invalid character '%c' at position %d. %s", keyType, r, i, hint)
		}
	}

	return nil
}

// PingConfig mirrors the constructor's ping{...} surface (spec.md §6).
// The Limiter does not act on it directly: liveness probing remains an
// external collaborator (spec.md §1 non-goal). A caller-owned
// internal/healthchecker.Checker reads this policy back through
// Limiter.PingPolicy and feeds probe outcomes into Limiter.EmitPing.
type PingConfig struct {
	Interval                          time.Duration
	MaxFailedAttempts                 int
	ReconnectIfFailed                 bool
	MaxFailedAttemptsToRetryReconnect int
}

// Config is the constructor surface for a Limiter (spec.md §6
// "Configuration surface"). The store connection itself (uri/nodes,
// password, tls) is the backend package's concern — Config takes an
// already-connected backends.Backend and layers the limiter-level
// settings (bucket types, key prefix, global TTL, ping policy) on top.
type Config struct {
	Backend   backends.Backend
	Buckets   map[string]TypeDef
	Prefix    string
	GlobalTTL time.Duration
	Ping      PingConfig
}

// Validate checks the fields New needs before compiling bucket types.
func (c Config) Validate() error {
	if c.Backend == nil {
		return newValidationError(CodeInvalidConfig, "backend cannot be nil")
	}
	return nil
}
