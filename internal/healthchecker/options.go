package healthchecker

import "time"

// Option configures a Checker's Config.
type Option func(*Config)

// WithInterval sets the probe interval.
func WithInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.Interval = interval
	}
}

// WithTimeout sets the per-probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithTestKey sets the key used for probe Get operations.
func WithTestKey(testKey string) Option {
	return func(c *Config) {
		c.TestKey = testKey
	}
}

// WithMaxFailedAttempts sets Config.MaxFailedAttempts. The Checker stores
// the value but does not read it; the failure count at which a reconnect
// signal is reported is MaxFailedAttemptsToRetryReconnect (see
// WithReconnectPolicy).
func WithMaxFailedAttempts(n int) Option {
	return func(c *Config) {
		c.MaxFailedAttempts = n
	}
}

// WithReconnectPolicy sets whether, and after how many consecutive
// failures, the Checker reports a reconnect signal instead of a plain
// failure (spec.md §6 ping.reconnectIfFailed / maxFailedAttemptsToRetryReconnect).
func WithReconnectPolicy(reconnectIfFailed bool, maxFailedAttemptsToRetryReconnect int) Option {
	return func(c *Config) {
		c.ReconnectIfFailed = reconnectIfFailed
		c.MaxFailedAttemptsToRetryReconnect = maxFailedAttemptsToRetryReconnect
	}
}
