package threadsched

// Semaphore is a non-negative counter with a priority-ordered wait set.
// It is the substrate both Lock and Cond are built on.
type Semaphore struct {
	sched   *Scheduler
	value   int
	waiters *Sequence[Thread]
}

// NewSemaphore returns a semaphore with the given initial, non-negative
// value.
func NewSemaphore(sched *Scheduler, value int) *Semaphore {
	if value < 0 {
		panicf(nil, "semaphore initial value must be non-negative")
	}
	return &Semaphore{
		sched:   sched,
		value:   value,
		waiters: NewSequence[Thread](),
	}
}

// Down blocks while the counter is zero, then decrements it. Waiters are
// ordered by effective priority descending (ties FIFO) so the highest
// priority waiter is released first, regardless of block order.
func (sem *Semaphore) Down() {
	s := sem.sched
	s.mu.Lock()
	for sem.value == 0 {
		cur := s.running
		sem.waiters.InsertOrdered(&cur.elem, threadLess)
		cur.status.Store(StatusBlocked)
		s.switchFromLocked(cur)
		s.mu.Lock()
	}
	sem.value--
	s.mu.Unlock()
}

// TryDown decrements and returns true if the counter is positive,
// otherwise returns false without blocking or affecting donation.
func (sem *Semaphore) TryDown() bool {
	s := sem.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	if sem.value > 0 {
		sem.value--
		return true
	}
	return false
}

// Up increments the counter and, if the wait set is non-empty, wakes the
// highest-priority waiter. The wait set is re-sorted first: donation may
// have raised a waiter's effective priority after it blocked, and without
// this re-sort priority inversion reappears at hand-off.
func (sem *Semaphore) Up() {
	s := sem.sched
	s.mu.Lock()
	sem.value++
	sem.waiters.Sort(threadLess)
	woken := sem.waiters.PopFront()
	var needYield bool
	if woken != nil {
		if !woken.status.TryTransition(StatusBlocked, StatusReady) {
			s.mu.Unlock()
			panicf(woken, "semaphore woke a thread that was not blocked")
		}
		s.readyQueue.InsertOrdered(&woken.elem, threadLess)
		needYield = s.running != nil && woken.effectivePriority > s.running.effectivePriority
	}
	s.mu.Unlock()
	if needYield {
		s.Yield()
	}
}
