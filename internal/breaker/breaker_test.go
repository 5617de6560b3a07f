package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		MonitoringWindow: time.Minute,
		LatencyThreshold: 20 * time.Millisecond,
		MinimumRequests:  10,
	}
}

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestExecute_TripsOnConsecutiveFailures(t *testing.T) {
	b := New("vendor", testConfig())

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), fail)
		assert.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, StateOpen, b.Stats().State)
}

func TestExecute_FailsFastWhenOpen(t *testing.T) {
	b := New("vendor", testConfig())
	b.ForceOpen()

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "op must not run while breaker is open")
}

func TestExecute_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cfg := testConfig()
	b := New("vendor", cfg)
	b.ForceOpen()

	time.Sleep(cfg.RecoveryTimeout + 10*time.Millisecond)

	err := b.Execute(context.Background(), ok)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.Stats().State, "successful probe should close the breaker")
}

func TestExecute_HalfOpenProbeFailureReopens(t *testing.T) {
	cfg := testConfig()
	b := New("vendor", cfg)
	b.ForceOpen()

	time.Sleep(cfg.RecoveryTimeout + 10*time.Millisecond)

	err := b.Execute(context.Background(), fail)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.Stats().State)
}

func TestExecute_TimeoutCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	b := New("vendor", cfg)

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = b.Execute(context.Background(), slow)
	}

	assert.Equal(t, StateOpen, b.Stats().State)
}

func TestExecute_ErrorRateCriterion(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1000 // disable consecutive-failure path
	b := New("vendor", cfg)

	// 6 failures, 5 successes: rate 6/11 > 0.5, sample size >= MinimumRequests.
	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), ok)
		b.ForceClose() // ok() transitions HALF_OPEN->CLOSED only; no-op otherwise but keeps state deterministic
	}
	for i := 0; i < 6; i++ {
		_ = b.Execute(context.Background(), fail)
	}

	assert.Equal(t, StateOpen, b.Stats().State)
}

func TestReset_ClearsCountersAndState(t *testing.T) {
	b := New("vendor", testConfig())
	b.ForceOpen()
	_ = b.Execute(context.Background(), fail)

	b.Reset()

	stats := b.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, int64(0), stats.TotalRequests)
}

func TestStats_ReportsErrorRateAndLatency(t *testing.T) {
	b := New("vendor", testConfig())

	_ = b.Execute(context.Background(), ok)
	_ = b.Execute(context.Background(), ok)

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, 0.0, stats.ErrorRate)
	assert.Equal(t, 2, stats.Successes)
}
