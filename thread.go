package threadsched

// PriorityMin and PriorityMax bound both base and effective priority.
// PriorityDefault is what Spawn uses when the caller doesn't care.
const (
	PriorityMin     = 0
	PriorityMax     = 63
	PriorityDefault = 31
)

// threadMagic is the sentinel value newThread stamps into every TCB and
// Scheduler.Current verifies on every read. A real kernel stamps this at
// a fixed offset in the thread's stack page to catch stack-overflow
// corruption; a Go Thread has no raw stack to overrun, but the same
// discipline still catches a TCB reached through a stale or zero-valued
// pointer, so the check is kept rather than dropped as meaningless.
const threadMagic = 0xcd6abf4b

// Thread is a kernel thread control block. It is backed by a real
// goroutine, but the scheduler enforces that at most one Thread is ever
// StatusRunning at a time — see handoffLocked in scheduler.go, which
// realizes the spec's opaque "switch context from A to B" primitive as a
// handoff over resume.
//
// A Thread is, at any moment, a member of at most one of: the ready
// queue, some wait set, the sleep set, or the destruction queue — elem is
// the single embedded link serving all four mutually exclusive
// memberships (I5). Independently, a thread blocked on a lock sits in the
// holder's donors sequence via donationElem, which is exactly the
// nested-donation scenario in P3.
type Thread struct {
	TID  uint64
	Name string

	sched *Scheduler

	status *atomicStatus

	// elem threads this TCB into the ready queue, a wait set, the sleep
	// set, or the destruction queue; donationElem threads it into the
	// donors sequence of the one lock holder it is currently donating to.
	elem         Link[Thread]
	donationElem Link[Thread]

	// Fields below are guarded by sched.mu, the scheduler-wide stand-in
	// for "interrupts disabled" (see scheduler.go).
	basePriority      int
	effectivePriority int
	donors            *Sequence[Thread] // threads donating to this one
	waitOnLock        *Lock             // lock this thread is blocked acquiring, if any
	wakeTick          uint64            // valid only while on the sleep set

	// MLFQS bookkeeping (mlfqs.go); unused unless the scheduler is in
	// MLFQS mode.
	nice      int
	recentCPU float64

	resume chan struct{} // per-thread resume token
	done   chan struct{} // closed once the thread has exited

	exitStatus int

	magic uint32 // threadMagic once constructed; see Scheduler.Current
}

func newThread(sched *Scheduler, tid uint64, name string, priority int) *Thread {
	t := &Thread{
		TID:               tid,
		Name:              name,
		sched:             sched,
		status:            newAtomicStatus(StatusReady),
		basePriority:      priority,
		effectivePriority: priority,
		donors:            NewSequence[Thread](),
		resume:            make(chan struct{}),
		done:              make(chan struct{}),
		magic:             threadMagic,
	}
	t.elem.Bind(t)
	t.donationElem.Bind(t)
	return t
}

// Status returns the thread's current scheduling state.
func (t *Thread) Status() ThreadStatus { return t.status.Load() }

// BasePriority returns the priority explicitly assigned to this thread,
// ignoring any active donations.
func (t *Thread) BasePriority() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.basePriority
}

// EffectivePriority returns the priority the scheduler actually uses:
// base priority raised by any donation currently in effect (I4).
func (t *Thread) EffectivePriority() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.effectivePriority
}

// Nice returns the thread's MLFQS niceness, meaningless outside MLFQS mode.
func (t *Thread) Nice() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.nice
}

// RecentCPU returns the thread's MLFQS recent-CPU decay value, meaningless
// outside MLFQS mode.
func (t *Thread) RecentCPU() float64 {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.recentCPU
}

// recomputeEffective recalculates t.effectivePriority from t.basePriority
// and t.donors, per I4. Caller must hold sched.mu.
func (t *Thread) recomputeEffective() {
	best := t.basePriority
	t.donors.Each(func(d *Thread) {
		if p := d.effectivePriority; p > best {
			best = p
		}
	})
	t.effectivePriority = best
}

// ExitStatus returns the status this thread exited with. Only meaningful
// once Status() == StatusDying or the thread's done channel is closed;
// zero otherwise.
func (t *Thread) ExitStatus() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.exitStatus
}

// threadLess orders threads by effective priority descending, FIFO
// within a priority — the comparator used by the ready queue and every
// wait set (spec's "priority-ordered... ties by insertion order").
// Because InsertOrdered inserts before the first element the inserted
// value is less than, and this Less never returns true for equal keys, ties
// land after existing equal-priority entries, giving FIFO order.
func threadLess(a, b *Thread) bool {
	return a.effectivePriority > b.effectivePriority
}

// wakeTickLess orders the sleep set by wake_tick ascending, ties by
// insertion order (same FIFO-via-InsertOrdered reasoning as threadLess).
func wakeTickLess(a, b *Thread) bool {
	return a.wakeTick < b.wakeTick
}
