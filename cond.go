package threadsched

// Cond is a condition variable: a wait set of per-waiter private binary
// semaphores, each paired with the waiting thread. The private semaphore
// is what makes Signal wake exactly one waiter deterministically,
// independent of scheduling order between signaller and signalled.
type Cond struct {
	sched   *Scheduler
	waiters *Sequence[condWaiter]
}

// condWaiter is allocated per Wait call — the per-call private state the
// original kernel keeps on the waiter's stack.
type condWaiter struct {
	thread *Thread
	sema   *Semaphore
	elem   Link[condWaiter]
}

// NewCond returns an empty condition variable.
func NewCond(sched *Scheduler) *Cond {
	return &Cond{sched: sched, waiters: NewSequence[condWaiter]()}
}

func condWaiterLess(a, b *condWaiter) bool {
	return threadLess(a.thread, b.thread)
}

// Wait releases l, blocks until signalled, then re-acquires l. The caller
// must hold l; waiting on a lock the caller does not hold is an assertion
// violation.
func (c *Cond) Wait(l *Lock) {
	s := c.sched
	s.mu.Lock()
	cur := s.running
	if l.holder != cur {
		s.mu.Unlock()
		panicf(cur, "condition wait without holding the associated lock")
	}
	w := &condWaiter{thread: cur, sema: NewSemaphore(s, 0)}
	w.elem.Bind(w)
	c.waiters.InsertOrdered(&w.elem, condWaiterLess)
	s.mu.Unlock()

	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes the highest-priority waiter, if any. The caller must hold
// l. The wait set is re-sorted first since donation may have raised a
// waiter's priority after it started waiting.
func (c *Cond) Signal(l *Lock) {
	s := c.sched
	s.mu.Lock()
	if l.holder != s.running {
		s.mu.Unlock()
		panicf(s.running, "condition signalled without holding the associated lock")
	}
	c.waiters.Sort(condWaiterLess)
	w := c.waiters.PopFront()
	s.mu.Unlock()
	if w != nil {
		w.sema.Up()
	}
}

// Broadcast wakes every waiter, in descending priority order.
func (c *Cond) Broadcast(l *Lock) {
	s := c.sched
	for {
		s.mu.Lock()
		empty := c.waiters.Empty()
		s.mu.Unlock()
		if empty {
			return
		}
		c.Signal(l)
	}
}
