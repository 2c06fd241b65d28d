package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnSustainedOverload(t *testing.T) {
	b := NewBreaker(50, 10*time.Second, 30*time.Second)
	now := time.Now()

	// 60 events/s over the trailing window.
	for i := 0; i < 600; i++ {
		b.Record(now.Add(time.Duration(i) * (10 * time.Second) / 600))
	}
	now = now.Add(10 * time.Second)

	state, changed := b.Evaluate(now)
	require.True(t, changed)
	assert.Equal(t, BreakerOpen, state)
	assert.Greater(t, b.Rate(now), 50.0)
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := NewBreaker(50, 10*time.Second, 30*time.Second)
	now := time.Now()

	for i := 0; i < 100; i++ {
		b.Record(now)
	}

	state, changed := b.Evaluate(now)
	assert.False(t, changed)
	assert.Equal(t, BreakerClosed, state)
}

func TestBreakerRecoveryCycle(t *testing.T) {
	b := NewBreaker(5, time.Second, 30*time.Second)
	now := time.Now()

	for i := 0; i < 10; i++ {
		b.Record(now)
	}
	state, _ := b.Evaluate(now)
	require.Equal(t, BreakerOpen, state)

	// Before the recovery interval the breaker holds open.
	state, changed := b.Evaluate(now.Add(10 * time.Second))
	assert.Equal(t, BreakerOpen, state)
	assert.False(t, changed)

	// After recovery it probes half-open.
	now = now.Add(31 * time.Second)
	state, changed = b.Evaluate(now)
	require.True(t, changed)
	require.Equal(t, BreakerHalfOpen, state)

	// One clean window closes it again.
	now = now.Add(2 * time.Second)
	state, changed = b.Evaluate(now)
	require.True(t, changed)
	assert.Equal(t, BreakerClosed, state)
}

func TestBreakerReopensOnRenewedBreach(t *testing.T) {
	b := NewBreaker(5, time.Second, time.Second)
	now := time.Now()

	for i := 0; i < 10; i++ {
		b.Record(now)
	}
	state, _ := b.Evaluate(now)
	require.Equal(t, BreakerOpen, state)

	now = now.Add(2 * time.Second)
	state, _ = b.Evaluate(now)
	require.Equal(t, BreakerHalfOpen, state)

	// Overload returns while probing.
	for i := 0; i < 10; i++ {
		b.Record(now)
	}
	state, changed := b.Evaluate(now)
	require.True(t, changed)
	assert.Equal(t, BreakerOpen, state)
}

func TestBreakerRateWindowSlides(t *testing.T) {
	b := NewBreaker(50, time.Second, time.Second)
	now := time.Now()

	for i := 0; i < 30; i++ {
		b.Record(now)
	}
	assert.Equal(t, 30.0, b.Rate(now))

	// Old stamps fall out of the window.
	assert.Zero(t, b.Rate(now.Add(2*time.Second)))
}
