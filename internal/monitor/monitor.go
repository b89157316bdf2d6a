// Package monitor is the Real-Time Monitor: a read-only task that samples
// health metrics on a fixed interval and feeds them to the Phase Engine on
// a channel. It never mutates data and runs concurrently with PE from the
// start of preparation until the end of cleanup (§5 Ordering guarantees).
package monitor

import (
	"context"
	"time"
)

// Severity classifies the most recent observed error (§4.5 Auto-rollback decision).
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Sample is one point-in-time health reading.
type Sample struct {
	Timestamp              time.Time
	ErrorRatePercent       float64
	ResponseTimeMs         int
	DataConsistencyPercent float64
	LastErrorSeverity      Severity
}

// Sampler produces one Sample. Implementations own whatever it takes to
// measure the two planes (request logs, a metrics backend, DPA count
// comparisons); the monitor itself does not know the source.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SamplerFunc adapts a plain function to Sampler.
type SamplerFunc func(ctx context.Context) (Sample, error)

func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) { return f(ctx) }

// Thresholds are the auto_rollback_thresholds configuration values (§6).
type Thresholds struct {
	ErrorRatePercent   float64
	ResponseTimeMs     int
	ConsistencyPercent float64
}

// DefaultThresholds matches the literal values §4.5 states: a 5000ms
// response-time ceiling and a 95% consistency floor. error_rate has no
// sensible hardcoded default and must come from configuration.
func DefaultThresholds(errorRatePercent float64) Thresholds {
	return Thresholds{
		ErrorRatePercent:   errorRatePercent,
		ResponseTimeMs:     5000,
		ConsistencyPercent: 95,
	}
}

// ShouldRollback implements §4.5's auto-rollback decision.
func ShouldRollback(sample Sample, thresholds Thresholds) bool {
	return sample.ErrorRatePercent > thresholds.ErrorRatePercent ||
		sample.ResponseTimeMs > thresholds.ResponseTimeMs ||
		sample.DataConsistencyPercent < thresholds.ConsistencyPercent ||
		sample.LastErrorSeverity == SeverityCritical
}

// Monitor ticks a Sampler on an interval and publishes results to Samples.
// Samples is buffered by one slot so PE always reads the freshest value
// without blocking the ticking goroutine.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	Samples  chan Sample

	cancel context.CancelFunc
	done   chan struct{}
}

// minInterval is the floor New clamps interval to. time.NewTicker panics on
// a non-positive duration, and phaseengine.Config.Validate rejects a
// non-positive sync_interval_ms only when incremental sync is enabled, so
// this clamp covers every other case.
const minInterval = time.Millisecond

// New constructs a Monitor; call Start to begin sampling.
func New(sampler Sampler, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = minInterval
	}
	return &Monitor{
		sampler:  sampler,
		interval: interval,
		Samples:  make(chan Sample, 1),
		done:     make(chan struct{}),
	}
}

// Start begins the sampling loop in its own goroutine. Stop ends it.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := m.sampler.Sample(ctx)
			if err != nil {
				continue // a sampling failure is not itself a health signal
			}
			select {
			case m.Samples <- sample:
			default:
				// Drain the stale sample so the freshest one always lands.
				select {
				case <-m.Samples:
				default:
				}
				m.Samples <- sample
			}
		}
	}
}

// Stop ends the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// Latest returns the most recent sample without blocking, or false if
// none has arrived yet.
func (m *Monitor) Latest() (Sample, bool) {
	select {
	case s := <-m.Samples:
		return s, true
	default:
		return Sample{}, false
	}
}
