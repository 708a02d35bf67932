package threadsched

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler is a single logical CPU's preemptive, priority-ordered thread
// scheduler. At most one Thread is ever StatusRunning; Scheduler.mu is the
// stand-in for the teaching kernel's "interrupts disabled" critical
// section, guarding the ready queue, every wait set, the sleep set, and
// the donation bookkeeping embedded in the Thread values themselves.
//
// The single-CPU discipline places one requirement on callers: every
// operation that suspends or hands off the CPU (Yield, Block, Sleep, Exit,
// Tick, Semaphore.Down, Lock.Acquire, Cond.Wait, and any call that may
// preempt, such as Spawn or Unblock) must be invoked from the goroutine of
// the thread that is currently running — exactly as, on real hardware,
// only the code executing on the CPU can give the CPU away. Threads that
// need to wait for one another synchronize through the package's own
// primitives, never by parking their goroutine on anything the scheduler
// cannot see.
type Scheduler struct {
	mu sync.Mutex

	readyQueue       *Sequence[Thread]
	sleepQueue       *Sequence[Thread]
	destructionQueue *Sequence[Thread]

	running *Thread
	idle    *Thread
	main    *Thread

	tidMu   sync.Mutex
	nextTID uint64

	tick          uint64
	ticksInSlice  uint64
	timeSlice     uint64
	donationDepth int

	mlfqs   bool
	loadAvg float64

	logger  kernelLogger
	metrics *Metrics
	table   *threadTable
	pages   *pagePool
	execLim *execLimiter

	started int32
	stopped int32
	stopCh  chan struct{}
}

// New constructs a Scheduler and designates the calling goroutine as the
// "main" thread (spec's init()). The scheduler does not run any other
// thread until Start is called.
func New(opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		readyQueue:       NewSequence[Thread](),
		sleepQueue:       NewSequence[Thread](),
		destructionQueue: NewSequence[Thread](),
		timeSlice:        uint64(cfg.timeSlice / time.Millisecond),
		donationDepth:    cfg.donationDepth,
		mlfqs:            cfg.mlfqs,
		logger:           cfg.logger,
		table:            newThreadTable(),
		pages:            newPagePool(cfg.pageCount),
		stopCh:           make(chan struct{}),
	}
	if s.timeSlice == 0 {
		s.timeSlice = 4
	}
	if cfg.metrics {
		s.metrics = newMetrics()
	}
	if cfg.execRateLimit > 0 {
		s.execLim = newExecLimiter(cfg.execRateLimit, cfg.execRateWindow)
	}

	s.nextTID = 1
	s.main = newThread(s, 0, "main", PriorityDefault)
	s.main.status.Store(StatusRunning)
	s.running = s.main
	s.table.register(s.main)

	return s, nil
}

// Start creates the idle thread at minimum priority, hands it the CPU once
// so it can finish initialization, and returns once it has signalled
// readiness, matching the spec's start() contract. The idle thread is the
// scheduler's timer: whenever nothing else is runnable it calls Tick,
// advancing the tick counter and sweeping the sleep set, the same way a
// real idle loop takes timer interrupts while the CPU has nothing to do.
func (s *Scheduler) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return ErrSchedulerAlreadyRunning
	}
	ready := make(chan struct{})
	s.mu.Lock()
	idle, err := s.spawnLocked("idle", PriorityMin, func(aux any) {
		close(ready)
		for {
			select {
			case <-s.stopCh:
				s.Exit(0)
			default:
				s.Tick()
				s.Yield()
			}
		}
	}, nil)
	if err != nil {
		s.mu.Unlock()
		atomic.StoreInt32(&s.started, 0)
		return err
	}
	s.idle = idle
	// The idle thread never sits on the ready queue; it is the fallback
	// pickNextLocked returns when the queue is empty.
	s.readyQueue.Remove(&idle.elem)

	// Hand the CPU to idle exactly once. A plain Yield would not do it:
	// the caller outranks idle, so the scheduler would hand the CPU
	// straight back without ever running it.
	prev := s.running
	prev.status.Store(StatusReady)
	s.readyQueue.InsertOrdered(&prev.elem, threadLess)
	s.handoffLocked(prev, idle)

	<-ready
	return nil
}

// Stop halts the scheduler: the idle thread exits the next time it is
// scheduled, and Spawn fails fast with ErrSchedulerStopped. There is no
// synchronous drain of already-running threads — this models the single
// instantaneous "halt the logical CPU" operation the teaching kernel's
// HALT syscall performs, not a graceful multi-thread shutdown: threads
// still blocked when the CPU halts stay blocked, exactly as they would on
// powered-off hardware.
func (s *Scheduler) Stop() {
	if atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		close(s.stopCh)
	}
}

// allocTID returns the next thread id. Guarded by its own mutex, per the
// spec, so tid allocation works even from contexts where the scheduler's
// main lock is held elsewhere.
func (s *Scheduler) allocTID() uint64 {
	s.tidMu.Lock()
	defer s.tidMu.Unlock()
	tid := s.nextTID
	s.nextTID++
	return tid
}

// Spawn allocates a TCB, pushes it onto the ready queue, and returns it.
// If the new thread outranks the caller, the caller yields before Spawn
// returns (the preemption rule), so a higher-priority spawn has already
// run to its first suspension by the time Spawn returns. A priority
// outside [PriorityMin, PriorityMax] or a full page pool is a
// resource-exhaustion-class error, never a panic.
func (s *Scheduler) Spawn(name string, priority int, entry func(aux any), aux any) (*Thread, error) {
	if atomic.LoadInt32(&s.stopped) != 0 {
		return nil, ErrSchedulerStopped
	}
	if atomic.LoadInt32(&s.started) == 0 {
		return nil, ErrSchedulerNotStarted
	}
	if priority < PriorityMin || priority > PriorityMax {
		return nil, &ResourceError{Resource: "priority range", Cause: ErrResourceExhausted}
	}
	s.mu.Lock()
	t, err := s.spawnLocked(name, priority, entry, aux)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	needYield := s.running != nil && t.effectivePriority > s.running.effectivePriority
	s.mu.Unlock()
	if needYield {
		s.Yield()
	}
	return t, nil
}

// spawnLocked does the allocation and enters the ready queue. Caller
// holds s.mu.
func (s *Scheduler) spawnLocked(name string, priority int, entry func(aux any), aux any) (*Thread, error) {
	if !s.pages.Alloc() {
		return nil, &ResourceError{Resource: "page allocation", Cause: ErrResourceExhausted}
	}
	tid := s.allocTID()
	t := newThread(s, tid, name, priority)
	s.table.register(t)
	s.readyQueue.InsertOrdered(&t.elem, threadLess)

	go func() {
		<-t.resume
		defer s.recoverTrampoline(t)
		entry(aux)
		s.Exit(0)
	}()

	return t, nil
}

func (s *Scheduler) recoverTrampoline(t *Thread) {
	if r := recover(); r != nil {
		if kp, ok := r.(*KernelPanic); ok {
			logPanic(s.logger, kp)
		}
		panic(r)
	}
}

// Current returns the running thread, asserting its magic guard (spec's
// "current() returns the running thread, asserting magic"). A real kernel
// uses this to catch stack-overflow corruption of the TCB; here it catches
// a Thread reached through a stale or zero-valued pointer.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != nil && s.running.magic != threadMagic {
		panicf(s.running, "thread control block magic guard corrupted")
	}
	return s.running
}

// Yield moves the current thread to the ready queue and reschedules. The
// idle thread yields without entering the queue; it is only ever the
// empty-queue fallback.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	prev := s.running
	prev.status.Store(StatusReady)
	if prev != s.idle {
		s.readyQueue.InsertOrdered(&prev.elem, threadLess)
	}
	s.switchFromLocked(prev)
}

// Block marks current BLOCKED and reschedules. The caller must already
// have placed current on the appropriate wait set before calling this.
func (s *Scheduler) Block() {
	s.mu.Lock()
	prev := s.running
	prev.status.Store(StatusBlocked)
	s.switchFromLocked(prev)
}

// Unblock requires t.Status() == StatusBlocked; it pushes t onto the
// ready queue and sets its status READY. If t now outranks the running
// thread, the preemption rule applies: the caller yields immediately.
func (s *Scheduler) Unblock(t *Thread) {
	s.mu.Lock()
	if !t.status.TryTransition(StatusBlocked, StatusReady) {
		s.mu.Unlock()
		panicf(t, "unblock of a thread that is not blocked")
	}
	s.readyQueue.InsertOrdered(&t.elem, threadLess)
	needYield := s.running != nil && t.effectivePriority > s.running.effectivePriority
	s.mu.Unlock()
	if needYield {
		s.Yield()
	}
}

// Exit transitions current to DYING and reschedules; it never returns.
func (s *Scheduler) Exit(status int) {
	s.mu.Lock()
	prev := s.running
	prev.exitStatus = status
	prev.status.Store(StatusDying)
	close(prev.done)
	logExit(s.logger, prev, status)
	s.switchFromLocked(prev)
	runtime.Goexit()
}

// SetPriority updates current's base_priority and recomputes effective
// priority as the max of the new base and current donors' priorities. If
// the result is lower than some ready thread's, the caller yields. Under
// MLFQS this is a no-op: priority there is fully determined by nice and
// recent_cpu (see SetNice in mlfqs.go), matching the classic kernel's
// thread_set_priority being disabled whenever thread_mlfqs is set.
func (s *Scheduler) SetPriority(p int) {
	s.mu.Lock()
	if s.mlfqs {
		s.mu.Unlock()
		return
	}
	cur := s.running
	cur.basePriority = clampPriority(p)
	cur.recomputeEffective()
	top := s.readyQueue.Front()
	needYield := top != nil && top.effectivePriority > cur.effectivePriority
	s.mu.Unlock()
	if needYield {
		s.Yield()
	}
}

// switchFromLocked is schedule(): entered with s.mu held and prev's
// status already set to its post-switch value. It processes the
// destruction queue, appends prev to it if prev is dying (and is not the
// bootstrap main thread, whose resources the scheduler never owns), and
// hands off to the highest-priority ready thread, or idle.
func (s *Scheduler) switchFromLocked(prev *Thread) {
	s.reapDestructionQueueLocked()

	if prev.status.Load() == StatusDying && prev != s.main {
		s.destructionQueue.PushBack(&prev.elem)
	}

	s.handoffLocked(prev, s.pickNextLocked())
}

// handoffLocked marks next RUNNING, resets the time-slice counter, and
// performs the resume-token exchange that realizes "save current
// registers into prev's frame, load next's frame". Entered with s.mu
// held; returns with it released, once prev has been handed the CPU back
// (or immediately, if prev is dying or was picked again).
func (s *Scheduler) handoffLocked(prev, next *Thread) {
	next.status.Store(StatusRunning)
	s.running = next
	s.ticksInSlice = 0
	s.mu.Unlock()

	if next != prev {
		logSwitch(s.logger, prev, next)
		var t0 time.Time
		if s.metrics != nil {
			t0 = time.Now()
		}
		next.resume <- struct{}{}
		if s.metrics != nil {
			s.metrics.recordSwitch(time.Since(t0))
		}
	}

	if prev.status.Load() == StatusDying || next == prev {
		return
	}
	<-prev.resume
}

// pickNextLocked returns the highest-priority READY thread, or idle if
// the ready queue is empty. Caller holds s.mu.
func (s *Scheduler) pickNextLocked() *Thread {
	if t := s.readyQueue.PopFront(); t != nil {
		return t
	}
	return s.idle
}

// reapDestructionQueueLocked frees the stack page of every thread parked
// on the destruction queue. This two-phase teardown exists because the
// page backing a thread's stack cannot be freed while that thread might
// still be the one executing; it is only safe once a later schedule()
// call proves somebody else is now running.
func (s *Scheduler) reapDestructionQueueLocked() {
	for {
		t := s.destructionQueue.PopFront()
		if t == nil {
			return
		}
		s.pages.Free()
	}
}

// Tick is the timer interrupt: it increments tick counters, sweeps the
// sleep set for threads whose deadline has arrived, recalculates MLFQS
// statistics when that mode is on, and enforces the time slice by
// yielding the caller once the slice is exhausted and a ready thread is
// waiting.
//
// Like every suspension point, Tick must be invoked from the running
// thread — which is no restriction at all, seen from the hardware's side:
// a timer ISR always executes on the CPU (and stack) of whichever thread
// it interrupted. The idle thread calls Tick on every turn, so time
// advances whenever the CPU is otherwise idle; a CPU-bound thread that
// wants preemptability calls Tick at its own safepoints.
func (s *Scheduler) Tick() {
	if atomic.LoadInt32(&s.started) == 0 {
		// No idle thread exists yet; a timer ISR firing before Start has
		// nothing safe to preempt into.
		return
	}
	start := time.Now()
	s.mu.Lock()
	s.tick++
	now := s.tick
	running := s.running
	s.ticksInSlice++
	exhausted := s.ticksInSlice >= s.timeSlice
	s.mu.Unlock()

	logTick(s.logger, now, running)

	s.wakeup(now)

	if s.mlfqs {
		s.mlfqsTick(now)
	}

	s.table.Scavenge(64)

	if s.metrics != nil {
		s.metrics.recordTick(time.Since(start))
	}

	if exhausted {
		s.mu.Lock()
		hasReady := !s.readyQueue.Empty()
		s.mu.Unlock()
		if hasReady {
			if s.metrics != nil {
				s.metrics.recordPreemption()
			}
			s.Yield()
		}
	}
}

// TickCount returns the number of Tick calls observed so far.
func (s *Scheduler) TickCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Metrics returns a snapshot of scheduler metrics, or the zero value if
// metrics collection was not enabled via WithMetrics.
func (s *Scheduler) Metrics() Snapshot {
	if s.metrics == nil {
		return Snapshot{}
	}
	return s.metrics.Snapshot()
}

// ThreadTable returns a TID-ordered snapshot of every live thread.
func (s *Scheduler) ThreadTable() []ThreadInfo {
	return s.table.Snapshot()
}
