package marketdata

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeguard/compliance-engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", false); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return NewBreaker("test", BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
	}).WithClock(clock.Now)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, BreakerClosed, b.State())
	}

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerFailureWindowExpires(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}

	// Old failures age out of the rolling window; the fifth failure alone
	// must not trip the breaker.
	clock.Advance(61 * time.Second)
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, BreakerOpen, b.State())

	// Before the cooldown nothing passes.
	clock.Advance(29 * time.Second)
	assert.False(t, b.Allow())

	// After the cooldown exactly one probe passes.
	clock.Advance(2 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerProbeFailureRestartsCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	clock.Advance(31 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	// The cooldown restarted at the probe failure.
	clock.Advance(29 * time.Second)
	assert.False(t, b.Allow())
	clock.Advance(2 * time.Second)
	assert.True(t, b.Allow())
}
