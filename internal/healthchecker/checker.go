package healthchecker

import (
	"context"
	"sync"
	"time"

	"github.com/driftbucket/ratelimit/backends"
)

// Status is the outcome of one liveness probe (spec.md §6 ping status
// vocabulary: success, error, reconnect, reconnect-dry-run). It is
// defined here rather than reusing ratelimit.PingStatus to keep this
// package free of an import cycle back to the parent module.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusReconnect
	StatusReconnectDryRun
)

// Checker runs a background liveness probe against a backends.Backend
// and reports every outcome through onStatus. It is the reference
// prober for the ping policy a Limiter records (spec.md §6) but does not
// run itself — liveness probing is an explicit external collaborator
// (spec.md §1); a caller opts into this implementation by starting one
// and bridging onStatus into the Limiter's event stream.
type Checker struct {
	backend  backends.Backend
	config   Config
	onStatus func(Status)
	breaker  *reconnectBreaker

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Checker for backend using config, reporting every probe
// outcome to onStatus (which may be nil).
func New(backend backends.Backend, config Config, onStatus func(Status)) *Checker {
	recovery := config.RecoveryTimeout
	if recovery <= 0 {
		recovery = config.Interval
	}
	return &Checker{
		backend:  backend,
		config:   config,
		onStatus: onStatus,
		breaker:  newReconnectBreaker(config.MaxFailedAttemptsToRetryReconnect, recovery),
		stop:     make(chan struct{}),
	}
}

// Start begins background probing at config.Interval. A non-positive
// interval disables probing entirely.
func (c *Checker) Start() {
	if c.config.Interval <= 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.probe()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts probing and waits for the background goroutine to exit.
// Calling Stop more than once, or before Start, is a no-op after the
// first call.
func (c *Checker) Stop() {
	select {
	case <-c.stop:
		return
	default:
		close(c.stop)
	}
	c.wg.Wait()
}

// probe runs one liveness check and classifies the result against the
// reconnect policy (spec.md §6 ping.reconnectIfFailed /
// maxFailedAttemptsToRetryReconnect). Once the breaker trips on
// repeated failures, the first probe after each RecoveryTimeout is a dry
// run: if it fails it is reported as StatusReconnectDryRun and the
// breaker reopens; if it succeeds it is reported as StatusSuccess and
// the breaker closes.
func (c *Checker) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	testKey := c.config.TestKey
	if testKey == "" {
		testKey = "health-check-key"
	}

	dryRun := c.config.ReconnectIfFailed && c.breaker.dryRunDue()

	_, err := c.backend.Get(ctx, testKey, backends.GetArgs{Size: 1})

	if err == nil {
		c.breaker.recordSuccess()
		c.report(StatusSuccess)
		return
	}

	if !c.config.ReconnectIfFailed {
		c.report(StatusFailure)
		return
	}

	if dryRun {
		c.breaker.recordFailure()
		c.report(StatusReconnectDryRun)
		return
	}

	if tripped := c.breaker.recordFailure(); tripped {
		c.report(StatusReconnect)
		return
	}

	c.report(StatusFailure)
}

func (c *Checker) report(s Status) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}
