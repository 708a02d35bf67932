package threadsched

import "sort"

// quantileEstimator maintains a streaming estimate of one quantile of an
// unbounded observation stream. Metrics feeds it once per context switch,
// tick, or donation hop, and a scheduler runs indefinitely, so nothing may
// be retained or sorted: the estimator keeps exactly five markers —
// current minimum, current maximum, the target quantile, and the two
// midpoints flanking it — and nudges the middle three toward their ideal
// stream positions on every observation (the P² technique of Jain and
// Chlamtac, "The P² Algorithm for Dynamic Calculation of Quantiles and
// Histograms Without Storing Observations", CACM 28(10), 1985).
//
// Not safe for concurrent use; Metrics serializes access with its own
// mutex.
type quantileEstimator struct {
	target float64 // quantile being tracked, in [0, 1]

	// The five markers. height[0] and height[4] pin the observed extremes;
	// height[2] is the running estimate of the target quantile. pos is
	// each marker's actual rank within the stream so far, want the ideal
	// rank it drifts toward, and step the per-observation drift.
	height [5]float64
	pos    [5]int
	want   [5]float64
	step   [5]float64

	seen   int        // observations so far
	warmup [5]float64 // first five observations, before the markers exist
}

func newQuantileEstimator(target float64) *quantileEstimator {
	if target < 0 {
		target = 0
	} else if target > 1 {
		target = 1
	}
	return &quantileEstimator{
		target: target,
		step:   [5]float64{0, target / 2, target, (1 + target) / 2, 1},
	}
}

// observe folds one observation into the estimate. O(1).
func (e *quantileEstimator) observe(x float64) {
	e.seen++
	if e.seen <= len(e.warmup) {
		e.warmup[e.seen-1] = x
		if e.seen == len(e.warmup) {
			copy(e.height[:], e.sortedWarmup())
			for i := range e.pos {
				e.pos[i] = i
			}
			e.want = [5]float64{0, 2 * e.target, 4 * e.target, 2 + 2*e.target, 4}
		}
		return
	}

	// Locate the marker cell the observation lands in, widening the
	// pinned extremes in place when it falls outside them.
	k := 3
	switch {
	case x < e.height[0]:
		e.height[0] = x
		k = 0
	case x >= e.height[4]:
		e.height[4] = x
	default:
		for k = 0; k < 3; k++ {
			if x < e.height[k+1] {
				break
			}
		}
	}

	// Everything above the landing cell shifts one rank right; every
	// ideal rank drifts by its per-observation step.
	for i := k + 1; i < len(e.pos); i++ {
		e.pos[i]++
	}
	for i := range e.want {
		e.want[i] += e.step[i]
	}

	// Nudge each interior marker one rank toward its ideal position when
	// it has drifted a full rank away and has room to move.
	for i := 1; i <= 3; i++ {
		d := e.want[i] - float64(e.pos[i])
		if (d < 1 || e.pos[i+1]-e.pos[i] <= 1) && (d > -1 || e.pos[i-1]-e.pos[i] >= -1) {
			continue
		}
		s := 1
		if d < 0 {
			s = -1
		}
		h := e.parabolicShift(i, s)
		if h <= e.height[i-1] || h >= e.height[i+1] {
			// The parabolic fit overshot a neighbour; fall back to linear
			// interpolation toward the move direction.
			h = e.linearShift(i, s)
		}
		e.height[i] = h
		e.pos[i] += s
	}
}

// parabolicShift fits a parabola through marker i and its neighbours and
// returns the height marker i would take one rank in direction s.
func (e *quantileEstimator) parabolicShift(i, s int) float64 {
	d := float64(s)
	lo, mid, hi := float64(e.pos[i-1]), float64(e.pos[i]), float64(e.pos[i+1])
	a := (mid - lo + d) * (e.height[i+1] - e.height[i]) / (hi - mid)
	b := (hi - mid - d) * (e.height[i] - e.height[i-1]) / (mid - lo)
	return e.height[i] + d/(hi-lo)*(a+b)
}

// linearShift interpolates marker i's height one rank toward its
// neighbour in direction s.
func (e *quantileEstimator) linearShift(i, s int) float64 {
	j := i + s
	return e.height[i] + float64(s)*(e.height[j]-e.height[i])/float64(e.pos[j]-e.pos[i])
}

// estimate returns the current quantile estimate. Before the markers
// exist (fewer than five observations) it falls back to the exact
// quantile of the warmup buffer; with no observations it returns zero.
func (e *quantileEstimator) estimate() float64 {
	if e.seen == 0 {
		return 0
	}
	if e.seen < len(e.warmup) {
		w := e.sortedWarmup()
		return w[int(float64(e.seen-1)*e.target)]
	}
	return e.height[2]
}

func (e *quantileEstimator) sortedWarmup() []float64 {
	n := min(e.seen, len(e.warmup))
	w := make([]float64, n)
	copy(w, e.warmup[:n])
	sort.Float64s(w)
	return w
}

// latencyProfile aggregates one stream of scheduler latency observations
// (context-switch duration, or tick-handler duration) into a fixed set of
// percentile estimates sharing the observation stream, plus the running
// peak. One profile per stream replaces one estimator per percentile
// re-walking the same observations.
type latencyProfile struct {
	marks []*quantileEstimator
	peak  float64 // observations are non-negative durations, so zero start
	seen  int
}

func newLatencyProfile(targets ...float64) *latencyProfile {
	p := &latencyProfile{marks: make([]*quantileEstimator, len(targets))}
	for i, target := range targets {
		p.marks[i] = newQuantileEstimator(target)
	}
	return p
}

// observe folds one latency sample into every tracked percentile.
func (p *latencyProfile) observe(x float64) {
	p.seen++
	if x > p.peak {
		p.peak = x
	}
	for _, m := range p.marks {
		m.observe(x)
	}
}

// percentile returns the estimate for the i-th constructor target.
func (p *latencyProfile) percentile(i int) float64 {
	if i < 0 || i >= len(p.marks) {
		return 0
	}
	return p.marks[i].estimate()
}

// maxObserved returns the largest latency seen, zero when none have been.
func (p *latencyProfile) maxObserved() float64 {
	return p.peak
}
