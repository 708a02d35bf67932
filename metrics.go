package threadsched

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyTargets are the percentiles every latencyProfile below tracks:
// median, p95, and the tail p99 used for preemption-latency alerting.
var latencyTargets = []float64{0.5, 0.95, 0.99}

// Metrics tracks runtime scheduler statistics: switch latency, tick
// latency, and donation chain depth, all as streaming percentile
// estimates (quantile.go) so memory stays O(1) regardless of run length.
// Safe for concurrent reads via Scheduler.Metrics(); writes happen only
// from the scheduler's own goroutine, serialized by construction.
type Metrics struct {
	mu sync.Mutex

	switchLatency   *latencyProfile
	tickLatency     *latencyProfile
	donationDepth   *quantileEstimator
	contextSwitches uint64
	donations       uint64
	preemptions     uint64
}

func newMetrics() *Metrics {
	return &Metrics{
		switchLatency: newLatencyProfile(latencyTargets...),
		tickLatency:   newLatencyProfile(latencyTargets...),
		donationDepth: newQuantileEstimator(0.99),
	}
}

func (m *Metrics) recordSwitch(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switchLatency.observe(float64(d))
	atomic.AddUint64(&m.contextSwitches, 1)
}

func (m *Metrics) recordTick(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickLatency.observe(float64(d))
}

func (m *Metrics) recordDonation(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.donationDepth.observe(float64(depth))
	atomic.AddUint64(&m.donations, 1)
}

func (m *Metrics) recordPreemption() {
	atomic.AddUint64(&m.preemptions, 1)
}

// Snapshot is a point-in-time, race-free copy of Metrics' counters and
// streaming quantile estimates.
type Snapshot struct {
	ContextSwitches  uint64
	Donations        uint64
	Preemptions      uint64
	SwitchLatencyP50 time.Duration
	SwitchLatencyP95 time.Duration
	SwitchLatencyP99 time.Duration
	SwitchLatencyMax time.Duration
	TickLatencyP50   time.Duration
	TickLatencyP95   time.Duration
	TickLatencyP99   time.Duration
	DonationDepthP99 float64
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		ContextSwitches:  atomic.LoadUint64(&m.contextSwitches),
		Donations:        atomic.LoadUint64(&m.donations),
		Preemptions:      atomic.LoadUint64(&m.preemptions),
		SwitchLatencyP50: time.Duration(m.switchLatency.percentile(0)),
		SwitchLatencyP95: time.Duration(m.switchLatency.percentile(1)),
		SwitchLatencyP99: time.Duration(m.switchLatency.percentile(2)),
		SwitchLatencyMax: time.Duration(m.switchLatency.maxObserved()),
		TickLatencyP50:   time.Duration(m.tickLatency.percentile(0)),
		TickLatencyP95:   time.Duration(m.tickLatency.percentile(1)),
		TickLatencyP99:   time.Duration(m.tickLatency.percentile(2)),
		DonationDepthP99: m.donationDepth.estimate(),
	}
}
