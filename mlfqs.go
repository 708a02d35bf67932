package threadsched

import "math"

// MLFQS constants, matching the classic BSD decay-formula scheduler this
// mirrors. The teaching kernel computes these in 17.14 fixed point because
// its interrupt handlers cannot save FPU state; a Go goroutine has no such
// constraint, so this port uses float64 directly (see DESIGN.md).
const (
	mlfqsRecalcPriorityTicks = 4
	mlfqsDecayTicksPerSecond = 100 // ticks per second, for recent_cpu/load_avg recalculation
	niceMin                  = -20
	niceMax                  = 20
)

// SetNice sets the calling thread's MLFQS niceness, clamped to
// [niceMin, niceMax], recomputes its priority immediately from the current
// recent_cpu, and yields if the result drops below some ready thread's.
// Outside MLFQS mode this still records the nice value (for when MLFQS is
// toggled), but has no scheduling effect.
func (s *Scheduler) SetNice(nice int) {
	if nice < niceMin {
		nice = niceMin
	} else if nice > niceMax {
		nice = niceMax
	}
	s.mu.Lock()
	cur := s.running
	cur.nice = nice
	if s.mlfqs {
		cur.basePriority = mlfqsPriority(cur.recentCPU, cur.nice)
		cur.recomputeEffective()
	}
	top := s.readyQueue.Front()
	needYield := top != nil && top.effectivePriority > cur.effectivePriority
	s.mu.Unlock()
	if needYield {
		s.Yield()
	}
}

// LoadAvg returns the system load average as last recalculated by MLFQS
// (zero, and meaningless, when MLFQS is disabled).
func (s *Scheduler) LoadAvg() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg
}

// mlfqsTick recalculates priorities and decay statistics on the classic
// schedule: recent_cpu and load_avg once per (simulated) second, priority
// every 4 ticks, and recent_cpu bumped by one for the running thread on
// every tick. Meaningless, and skipped, unless the scheduler was
// constructed with WithMLFQS(true).
func (s *Scheduler) mlfqsTick(now uint64) {
	s.mu.Lock()
	if s.running != s.idle {
		s.running.recentCPU++
	}
	recalcStats := now%mlfqsDecayTicksPerSecond == 0
	recalcPriority := now%mlfqsRecalcPriorityTicks == 0
	var all []*Thread
	if recalcStats || recalcPriority {
		all = s.liveThreadsLocked()
	}
	if recalcStats {
		s.loadAvg = mlfqsLoadAvg(s.loadAvg, s.readyQueue.Len()+boolToInt(s.running != s.idle))
		for _, t := range all {
			t.recentCPU = mlfqsDecay(s.loadAvg, t.recentCPU, t.nice)
		}
	}
	if recalcPriority {
		for _, t := range all {
			t.basePriority = mlfqsPriority(t.recentCPU, t.nice)
			t.recomputeEffective()
		}
		s.readyQueue.Sort(threadLess)
	}
	s.mu.Unlock()
}

// liveThreadsLocked returns every non-idle thread currently tracked by
// the thread table. Caller holds s.mu; threadTable's own lock guards an
// independent data structure, so taking it here nests safely.
func (s *Scheduler) liveThreadsLocked() []*Thread {
	s.table.mu.RLock()
	defer s.table.mu.RUnlock()
	out := make([]*Thread, 0, len(s.table.data))
	for _, wp := range s.table.data {
		if t := wp.Value(); t != nil && t != s.idle {
			out = append(out, t)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mlfqsLoadAvg applies load_avg = (59/60)*load_avg + (1/60)*ready_threads.
func mlfqsLoadAvg(loadAvg float64, readyThreads int) float64 {
	return (59.0/60.0)*loadAvg + (1.0/60.0)*float64(readyThreads)
}

// mlfqsDecay applies recent_cpu = (2*load_avg)/(2*load_avg+1) * recent_cpu + nice.
func mlfqsDecay(loadAvg, recentCPU float64, nice int) float64 {
	coeff := (2 * loadAvg) / (2*loadAvg + 1)
	return coeff*recentCPU + float64(nice)
}

// mlfqsPriority applies priority = PRI_MAX - (recent_cpu/4) - (nice*2),
// clamped to [PriorityMin, PriorityMax].
func mlfqsPriority(recentCPU float64, nice int) int {
	p := float64(PriorityMax) - (recentCPU / 4) - float64(nice*2)
	return clampPriority(int(math.Round(p)))
}

func clampPriority(p int) int {
	switch {
	case p < PriorityMin:
		return PriorityMin
	case p > PriorityMax:
		return PriorityMax
	default:
		return p
	}
}
