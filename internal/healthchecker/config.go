package healthchecker

import "time"

// Config mirrors the ping{...} policy from the constructor surface
// (spec.md §6 "ping{interval, maxFailedAttempts, reconnectIfFailed,
// maxFailedAttemptsToRetryReconnect}"). Liveness probing itself is an
// external collaborator (spec.md §1); Checker is the reference prober a
// caller can opt into instead of writing its own.
type Config struct {
	Interval                          time.Duration
	Timeout                           time.Duration
	MaxFailedAttempts                 int
	ReconnectIfFailed                 bool
	MaxFailedAttemptsToRetryReconnect int
	// RecoveryTimeout is how long the breaker waits after tripping
	// before it runs a single dry-run probe (StatusReconnectDryRun)
	// to see whether the backend has come back. Defaults to Interval
	// when zero.
	RecoveryTimeout time.Duration
	TestKey         string
}

// DefaultConfig returns a Checker config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          10 * time.Second,
		Timeout:           2 * time.Second,
		MaxFailedAttempts: 3,
		TestKey:           "health-check-key",
	}
}
