// Package broadcast multiplexes bus events to zero-or-more live observers
// with batching, rate limiting and per-subscriber fan-out.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mmacy/modul8r/models"
)

// Options tunes the broadcaster.
type Options struct {
	BatchInterval       time.Duration
	MaxBatchSize        int
	SubscriberQueueSize int
	BreakerThreshold    float64 // events per second
	BreakerWindow       time.Duration
	BreakerRecovery     time.Duration
}

// Broadcaster batches queued events and delivers them to every subscriber.
// Pending events flush when the batch-size threshold is reached or when the
// interval timer elapses, whichever comes first; a flush restarts the timer
// so it never double-fires. A circuit breaker sheds non-essential kinds
// under sustained overload.
type Broadcaster struct {
	opts    Options
	breaker *Breaker
	log     zerolog.Logger

	mu       sync.Mutex
	subs     map[string]*Subscriber
	pending  []models.Event
	interval time.Duration // current interval; widened under scheduler lag

	flushCh chan struct{}
	dropped atomic.Int64
}

// NewBroadcaster creates a stopped broadcaster; call Start to begin
// delivery.
func NewBroadcaster(opts Options, log zerolog.Logger) *Broadcaster {
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = 500 * time.Millisecond
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 100
	}
	if opts.SubscriberQueueSize <= 0 {
		opts.SubscriberQueueSize = 256
	}
	return &Broadcaster{
		opts:     opts,
		breaker:  NewBreaker(opts.BreakerThreshold, opts.BreakerWindow, opts.BreakerRecovery),
		log:      log,
		subs:     make(map[string]*Subscriber),
		interval: opts.BatchInterval,
		flushCh:  make(chan struct{}, 1),
	}
}

// Start runs the flush loop until ctx is cancelled.
func (b *Broadcaster) Start(ctx context.Context) {
	go func() {
		timer := time.NewTimer(b.currentInterval())
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				b.closeAll()
				return
			case <-b.flushCh:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				b.flush()
				timer.Reset(b.currentInterval())
			case <-timer.C:
				b.flush()
				timer.Reset(b.currentInterval())
			}
		}
	}()
}

// Queue enqueues an event for eventual delivery. It never blocks and never
// delivers synchronously. While the breaker is open, non-essential kinds
// are dropped; essential kinds continue.
func (b *Broadcaster) Queue(ev models.Event) {
	now := time.Now()
	b.breaker.Record(now)
	b.evaluateBreaker(now)

	if b.breaker.State() == BreakerOpen && !ev.Kind.Essential() {
		b.dropped.Add(1)
		return
	}

	b.mu.Lock()
	b.pending = append(b.pending, ev)
	full := len(b.pending) >= b.opts.MaxBatchSize
	b.mu.Unlock()

	if full {
		b.signalFlush()
	}
}

// Subscribe registers a new observer, replays the given history snapshot to
// it, and starts its writer. The returned subscriber's Done channel closes
// on disconnect.
func (b *Broadcaster) Subscribe(conn Conn, history []models.Event) *Subscriber {
	sub := newSubscriber(uuid.New().String(), conn, b.opts.SubscriberQueueSize, b.log)

	b.mu.Lock()
	b.subs[sub.ID] = sub
	total := len(b.subs)
	b.mu.Unlock()

	sub.start()
	sub.enqueue(models.HistoryEnvelope(history))
	b.log.Info().Str("subscriber", sub.ID).Int("total_subscribers", total).Msg("subscriber connected")
	return sub
}

// Unsubscribe disconnects and removes an observer.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub.ID)
	total := len(b.subs)
	b.mu.Unlock()

	sub.close()
	b.log.Info().Str("subscriber", sub.ID).Int("total_subscribers", total).Msg("subscriber disconnected")
}

// Send enqueues an envelope for one subscriber outside the batch path,
// used for pong replies and direct status responses.
func (b *Broadcaster) Send(sub *Subscriber, env models.Envelope) {
	if !sub.enqueue(env) {
		b.Unsubscribe(sub)
	}
}

// Degrade widens the batch interval by the given factor. Called by the lag
// monitor; advisory only.
func (b *Broadcaster) Degrade(factor float64) {
	if factor < 1 {
		factor = 1
	}
	b.mu.Lock()
	b.interval = time.Duration(float64(b.opts.BatchInterval) * factor)
	b.mu.Unlock()
}

// Recover restores the configured batch interval.
func (b *Broadcaster) Recover() {
	b.mu.Lock()
	b.interval = b.opts.BatchInterval
	b.mu.Unlock()
}

// BreakerState exposes the breaker position for monitoring.
func (b *Broadcaster) BreakerState() BreakerState { return b.breaker.State() }

// Stats reports delivery state for the safeguards endpoint.
func (b *Broadcaster) Stats() map[string]any {
	b.mu.Lock()
	pending := len(b.pending)
	subs := len(b.subs)
	interval := b.interval
	b.mu.Unlock()
	now := time.Now()
	return map[string]any{
		"active_subscribers":     subs,
		"pending_messages":       pending,
		"batch_interval_seconds": interval.Seconds(),
		"current_rate":           b.breaker.Rate(now),
		"circuit_breaker_state":  string(b.breaker.State()),
		"circuit_breaker_active": b.breaker.State() != BreakerClosed,
		"dropped_events":         b.dropped.Load(),
	}
}

func (b *Broadcaster) currentInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

func (b *Broadcaster) signalFlush() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

// evaluateBreaker advances the breaker state machine and announces
// transitions to subscribers as status events.
func (b *Broadcaster) evaluateBreaker(now time.Time) {
	state, changed := b.breaker.Evaluate(now)
	if !changed {
		return
	}

	var ev models.Event
	switch state {
	case BreakerOpen:
		b.log.Warn().Float64("rate", b.breaker.Rate(now)).Msg("circuit breaker opened, shedding non-essential events")
		ev = models.StatusEvent("degraded", "telemetry degraded: event rate over threshold, dropping log entries")
	case BreakerHalfOpen:
		b.log.Info().Msg("circuit breaker half-open, probing delivery")
		ev = models.StatusEvent("probing", "telemetry probing: resuming delivery after overload")
	case BreakerClosed:
		b.log.Info().Msg("circuit breaker closed, delivery back to normal")
		ev = models.StatusEvent("normal", "telemetry recovered: full delivery resumed")
	}

	b.mu.Lock()
	b.pending = append(b.pending, ev)
	b.mu.Unlock()
}

// flush delivers the pending batch to every subscriber. A subscriber whose
// outbound queue is full is disconnected rather than allowed to grow
// unbounded.
func (b *Broadcaster) flush() {
	b.evaluateBreaker(time.Now())

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		for _, ev := range batch {
			if sub.seen(ev.Hash) {
				continue
			}
			if !sub.enqueue(models.EnvelopeFromEvent(ev)) {
				b.log.Warn().Str("subscriber", sub.ID).Msg("subscriber queue full, disconnecting")
				b.Unsubscribe(sub)
				break
			}
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
