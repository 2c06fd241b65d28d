package logging

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mmacy/modul8r/models"
)

// CaptureOptions bound the event buffer.
type CaptureOptions struct {
	MaxEntries      int
	MaxAge          time.Duration
	CleanupInterval time.Duration
	DedupWindow     time.Duration
}

// Capture is the event bus: it ingests structured events from any producer
// into a count-and-age-bounded buffer, suppresses duplicates inside a short
// trailing window, and forwards accepted events to an optional sink (the
// broadcaster). Publish never blocks producers.
type Capture struct {
	mu      sync.Mutex
	entries []models.Event
	opts    CaptureOptions
	dedup   *expirable.LRU[string, struct{}]
	sink    func(models.Event)
}

// NewCapture creates an event bus with the given bounds.
func NewCapture(opts CaptureOptions) *Capture {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 2 * time.Second
	}
	return &Capture{
		entries: make([]models.Event, 0, opts.MaxEntries),
		opts:    opts,
		dedup:   expirable.NewLRU[string, struct{}](opts.MaxEntries, nil, opts.DedupWindow),
	}
}

// SetSink registers the consumer that accepted events are forwarded to.
// The sink must not block.
func (c *Capture) SetSink(sink func(models.Event)) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Publish appends an event to the buffer. An event whose content hash was
// seen inside the trailing dedup window is dropped. Returns whether the
// event was accepted.
func (c *Capture) Publish(ev models.Event) bool {
	c.mu.Lock()
	if _, dup := c.dedup.Get(ev.Hash); dup {
		c.mu.Unlock()
		return false
	}
	c.dedup.Add(ev.Hash, struct{}{})

	c.entries = append(c.entries, ev)
	if len(c.entries) > c.opts.MaxEntries {
		c.entries = c.entries[len(c.entries)-c.opts.MaxEntries:]
	}
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
	return true
}

// Snapshot returns the current buffer in publish order, for history replay
// to new subscribers.
func (c *Capture) Snapshot() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Event, len(c.entries))
	copy(out, c.entries)
	return out
}

// Recent returns up to limit of the newest buffered events in publish order.
func (c *Capture) Recent(limit int) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.entries) {
		limit = len(c.entries)
	}
	out := make([]models.Event, limit)
	copy(out, c.entries[len(c.entries)-limit:])
	return out
}

// Len reports the number of buffered events.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs the periodic maintenance pass until ctx is cancelled. Eviction
// happens here rather than on every insert to bound per-publish overhead.
func (c *Capture) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.opts.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.EvictExpired(time.Now())
			}
		}
	}()
}

// EvictExpired drops entries older than the age bound. Entries are ordered
// by publish time, so eviction is a cut from the oldest end.
func (c *Capture) EvictExpired(now time.Time) int {
	cutoff := now.Add(-c.opts.MaxAge)
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := 0
	for idx < len(c.entries) && c.entries[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		c.entries = append(c.entries[:0:0], c.entries[idx:]...)
	}
	return idx
}

// Stats reports buffer usage for the safeguards endpoint.
func (c *Capture) Stats() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"buffered_events": len(c.entries),
		"max_entries":     c.opts.MaxEntries,
		"max_age_seconds": c.opts.MaxAge.Seconds(),
	}
}
