// Package breaker implements a per-dependency CLOSED/OPEN/HALF_OPEN circuit
// breaker, as used around every vendor HTTP call by internal/vendor. The
// store and queue connections are not wrapped in a breaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrOpen is returned by Execute when the breaker is OPEN and fails fast.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the thresholds that drive state transitions.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker to OPEN.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays OPEN before moving to
	// HALF_OPEN. Every call made while HALF_OPEN is let through as a probe;
	// the number of concurrent probes is not limited to one.
	RecoveryTimeout time.Duration
	// MonitoringWindow bounds how far back error-rate/latency statistics
	// look; samples older than this are dropped.
	MonitoringWindow time.Duration
	// LatencyThreshold is both the per-call timeout and the baseline used
	// to detect degraded (2x) rolling average latency.
	LatencyThreshold time.Duration
	// MinimumRequests is the sample size required before the error-rate
	// criterion can trip the breaker.
	MinimumRequests int
}

// DefaultConfig returns reasonable defaults for a vendor-call breaker.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: 60 * time.Second,
		LatencyThreshold: 5 * time.Second,
		MinimumRequests:  10,
	}
}

type sample struct {
	at      time.Time
	ok      bool
	latency time.Duration
}

// Breaker wraps a fallible operation with failure/latency based circuit
// breaking. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	samples             []sample
	totalRequests       int64
	now                 func() time.Time
}

// New creates a Breaker identified by name (used in error messages and
// stats only).
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Stats is the observable snapshot of a Breaker's counters.
type Stats struct {
	State           State
	Failures        int
	Successes       int
	TotalRequests   int64
	LastFailureTime time.Time
	AvgLatency      time.Duration
	ErrorRate       float64
}

// Execute runs op under the breaker. If the breaker is OPEN (and the
// recovery timeout has not elapsed), op is never called and ErrOpen is
// returned. Otherwise op runs under a timeout of cfg.LatencyThreshold;
// exceeding it counts as a failure.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}

	opCtx, cancel := context.WithTimeout(ctx, b.cfg.LatencyThreshold)
	defer cancel()

	start := b.now()
	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-opCtx.Done():
		err = opCtx.Err()
	}
	latency := b.now().Sub(start)

	b.record(err == nil, latency)
	return err
}

// allow decides whether a call may proceed, transitioning OPEN->HALF_OPEN
// when the recovery timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// record updates counters and evaluates the trip conditions. Called once
// per Execute, after the operation (or its timeout) completes.
func (b *Breaker) record(ok bool, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalRequests++
	b.samples = append(b.samples, sample{at: now, ok: ok, latency: latency})
	b.trimWindow(now)

	if ok {
		b.consecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.samples = nil
		}
		return
	}

	b.consecutiveFailures++
	b.lastFailureTime = now

	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}

	if b.shouldTrip() {
		b.state = StateOpen
	}
}

// shouldTrip evaluates the three OPEN criteria of §4.2. Caller must hold mu.
func (b *Breaker) shouldTrip() bool {
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}

	total := len(b.samples)
	if total >= b.cfg.MinimumRequests {
		failures := 0
		var latencySum time.Duration
		for _, s := range b.samples {
			if !s.ok {
				failures++
			}
			latencySum += s.latency
		}
		errorRate := float64(failures) / float64(total)
		if errorRate > 0.5 {
			return true
		}
		avgLatency := latencySum / time.Duration(total)
		if avgLatency > 2*b.cfg.LatencyThreshold {
			return true
		}
	}
	return false
}

// trimWindow drops samples older than MonitoringWindow. Caller must hold mu.
func (b *Breaker) trimWindow(now time.Time) {
	if b.cfg.MonitoringWindow <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = b.samples[i:]
	}
}

// Stats returns an observable snapshot of the breaker's current counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var failures, successes int
	var latencySum time.Duration
	for _, s := range b.samples {
		if s.ok {
			successes++
		} else {
			failures++
		}
		latencySum += s.latency
	}

	var avgLatency time.Duration
	var errorRate float64
	if total := len(b.samples); total > 0 {
		avgLatency = latencySum / time.Duration(total)
		errorRate = float64(failures) / float64(total)
	}

	return Stats{
		State:           b.state,
		Failures:        failures,
		Successes:       successes,
		TotalRequests:   b.totalRequests,
		LastFailureTime: b.lastFailureTime,
		AvgLatency:      avgLatency,
		ErrorRate:       errorRate,
	}
}

// ForceOpen manually trips the breaker, for tests and operator overrides.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.lastFailureTime = b.now()
}

// ForceClose manually resets the breaker to CLOSED without clearing history.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
}

// Reset clears all counters and returns the breaker to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.samples = nil
	b.totalRequests = 0
	b.lastFailureTime = time.Time{}
}

// Name returns the identifier this breaker was constructed with.
func (b *Breaker) Name() string {
	return b.name
}
