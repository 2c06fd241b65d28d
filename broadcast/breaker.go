package broadcast

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker tracks the event rate over a trailing window and sheds
// non-essential delivery under sustained overload. Transitions:
// closed -> open on threshold breach, open -> half-open after the recovery
// interval, half-open -> closed after one clean window or back to open on a
// renewed breach. State is owned solely by the broadcaster.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	threshold float64 // events per second
	window    time.Duration
	recovery  time.Duration

	stamps        []time.Time
	openedAt      time.Time
	halfOpenSince time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold float64, window, recovery time.Duration) *Breaker {
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		window:    window,
		recovery:  recovery,
	}
}

// Record counts one event at the given instant.
func (b *Breaker) Record(now time.Time) {
	b.mu.Lock()
	b.stamps = append(b.stamps, now)
	b.prune(now)
	b.mu.Unlock()
}

// Rate returns the current events/second over the trailing window.
func (b *Breaker) Rate(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)
	return b.rateLocked()
}

// State returns the current position without evaluating transitions.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Evaluate advances the state machine for the given instant and returns the
// resulting state along with whether a transition happened.
func (b *Breaker) Evaluate(now time.Time) (BreakerState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)

	prev := b.state
	switch b.state {
	case BreakerClosed:
		if b.rateLocked() > b.threshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
	case BreakerOpen:
		if now.Sub(b.openedAt) >= b.recovery {
			b.state = BreakerHalfOpen
			b.halfOpenSince = now
		}
	case BreakerHalfOpen:
		if b.rateLocked() > b.threshold {
			b.state = BreakerOpen
			b.openedAt = now
		} else if now.Sub(b.halfOpenSince) >= b.window {
			b.state = BreakerClosed
		}
	}
	return b.state, b.state != prev
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	idx := 0
	for idx < len(b.stamps) && b.stamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		b.stamps = append(b.stamps[:0:0], b.stamps[idx:]...)
	}
}

func (b *Breaker) rateLocked() float64 {
	if b.window <= 0 {
		return 0
	}
	return float64(len(b.stamps)) / b.window.Seconds()
}
