package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically instead of sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestLimiter(capacity, perMinute int, clock *fakeClock) *Limiter {
	l := New(capacity, perMinute)
	l.now = clock.Now
	l.lastRefill = clock.Now()
	return l
}

func TestAcquire_ConsumesBurstImmediately(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(5, 60, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Less(t, l.Tokens(), 1.0)
}

func TestAcquire_RefillsOverTime(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(1, 60, clock)

	require.NoError(t, l.Acquire(context.Background()))
	assert.Less(t, l.Tokens(), 1.0)

	clock.Advance(1 * time.Second)
	assert.GreaterOrEqual(t, l.Tokens(), 1.0)
}

func TestAcquire_RespectsCapacityCeiling(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(3, 60, clock)

	clock.Advance(1 * time.Hour)
	assert.Equal(t, 3.0, l.Tokens())
}

func TestAcquire_CancelledContextReturnsErr(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(1, 1, clock) // 1 token per minute: slow refill

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_ClampsInvalidConfig(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, 1.0, l.capacity)
	assert.Greater(t, l.refillRate, 0.0)
}
