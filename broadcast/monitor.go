package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mmacy/modul8r/logging"
	"github.com/mmacy/modul8r/models"
)

// MonitorOptions tunes the scheduler lag watchdog.
type MonitorOptions struct {
	CheckInterval    time.Duration
	MaxLag           time.Duration
	SevereMultiplier float64
	MaxSevereCount   int
	CleanProbeTarget int
	DegradeFactor    float64
	EmergencyFactor  float64
}

// LagMonitor samples scheduler responsiveness with a single periodic probe:
// it records the delta between expected and actual wake time. Over-threshold
// lag widens the broadcaster's batch interval and emits a status event;
// after enough consecutive clean probes the interval is restored. Advisory
// only: it never blocks or cancels pipeline work.
type LagMonitor struct {
	opts MonitorOptions
	bc   *Broadcaster
	bus  *logging.Capture
	log  zerolog.Logger

	mu          sync.Mutex
	degraded    bool
	severeCount int
	cleanStreak int
	lastLag     time.Duration
}

// NewLagMonitor creates a lag monitor feeding the given broadcaster and
// event bus.
func NewLagMonitor(opts MonitorOptions, bc *Broadcaster, bus *logging.Capture, log zerolog.Logger) *LagMonitor {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Second
	}
	if opts.MaxLag <= 0 {
		opts.MaxLag = 40 * time.Millisecond
	}
	if opts.SevereMultiplier < 1 {
		opts.SevereMultiplier = 3
	}
	if opts.MaxSevereCount <= 0 {
		opts.MaxSevereCount = 5
	}
	if opts.CleanProbeTarget <= 0 {
		opts.CleanProbeTarget = 3
	}
	if opts.DegradeFactor <= 1 {
		opts.DegradeFactor = 2
	}
	if opts.EmergencyFactor <= opts.DegradeFactor {
		opts.EmergencyFactor = opts.DegradeFactor * 2
	}
	return &LagMonitor{opts: opts, bc: bc, bus: bus, log: log}
}

// Start runs the probe loop until ctx is cancelled.
func (m *LagMonitor) Start(ctx context.Context) {
	go func() {
		timer := time.NewTimer(m.opts.CheckInterval)
		defer timer.Stop()
		expected := time.Now().Add(m.opts.CheckInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-timer.C:
				m.Probe(now.Sub(expected))
				expected = time.Now().Add(m.opts.CheckInterval)
				timer.Reset(m.opts.CheckInterval)
			}
		}
	}()
}

// Probe processes one lag sample. Exported so tests can drive the monitor
// without waiting on real timers.
func (m *LagMonitor) Probe(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}

	m.mu.Lock()
	m.lastLag = lag
	severeThreshold := time.Duration(float64(m.opts.MaxLag) * m.opts.SevereMultiplier)

	if lag <= m.opts.MaxLag {
		if m.severeCount > 0 {
			m.severeCount--
		}
		if !m.degraded {
			m.mu.Unlock()
			return
		}
		// Only comfortably-low lag counts toward recovery; hovering just
		// under the threshold holds the current cadence.
		if lag > m.opts.MaxLag/2 {
			m.cleanStreak = 0
			m.mu.Unlock()
			return
		}
		m.cleanStreak++
		if m.cleanStreak < m.opts.CleanProbeTarget {
			m.mu.Unlock()
			return
		}
		m.degraded = false
		m.cleanStreak = 0
		m.mu.Unlock()

		m.log.Info().Msg("scheduler lag subsided, restoring batch interval")
		m.bc.Recover()
		m.publishStatus("normal", "scheduler responsive again, telemetry cadence restored")
		return
	}

	m.cleanStreak = 0
	severe := lag > severeThreshold
	if severe {
		m.severeCount++
	}
	emergency := severe && m.severeCount >= m.opts.MaxSevereCount
	alreadyDegraded := m.degraded
	m.degraded = true
	if emergency {
		m.severeCount = 0
	}
	m.mu.Unlock()

	switch {
	case emergency:
		m.log.Error().Dur("lag", lag).Msg("severe scheduler lag sustained, emergency degradation")
		m.bc.Degrade(m.opts.EmergencyFactor)
		m.publishStatus("degraded", fmt.Sprintf("severe scheduler lag %dms, telemetry cadence reduced further", lag.Milliseconds()))
	case !alreadyDegraded:
		m.log.Warn().Dur("lag", lag).Msg("scheduler lag detected, widening batch interval")
		m.bc.Degrade(m.opts.DegradeFactor)
		m.publishStatus("degraded", fmt.Sprintf("scheduler lag %dms over threshold, widening telemetry batches", lag.Milliseconds()))
	}
}

// Degraded reports whether the monitor currently holds the broadcaster in
// a widened-interval state.
func (m *LagMonitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// Stats reports monitor state for the safeguards endpoint.
func (m *LagMonitor) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"degradation_active": m.degraded,
		"severe_lag_count":   m.severeCount,
		"last_lag_ms":        float64(m.lastLag.Microseconds()) / 1000.0,
		"max_lag_ms":         float64(m.opts.MaxLag.Microseconds()) / 1000.0,
	}
}

func (m *LagMonitor) publishStatus(status, message string) {
	if m.bus != nil {
		m.bus.Publish(models.StatusEvent(status, message))
	}
}
