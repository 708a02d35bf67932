package threadsched

// Lock is a non-recursive mutex layered on a binary Semaphore, with
// priority donation: holder == nil iff the underlying semaphore's value
// is 1.
type Lock struct {
	sched  *Scheduler
	sema   *Semaphore
	holder *Thread
}

// NewLock returns an unheld lock.
func NewLock(sched *Scheduler) *Lock {
	return &Lock{sched: sched, sema: NewSemaphore(sched, 1)}
}

// Acquire blocks until the lock is free, donating the caller's effective
// priority along the chain of locks blocking it in the meantime.
// Acquiring a lock the caller already holds is an assertion violation,
// not a deadlock: the lock is not recursive.
func (l *Lock) Acquire() {
	s := l.sched
	s.mu.Lock()
	cur := s.running
	if l.holder == cur {
		s.mu.Unlock()
		panicf(cur, "recursive acquire of a non-recursive lock")
	}
	if l.holder != nil && !s.mlfqs {
		cur.waitOnLock = l
		l.holder.donors.InsertOrdered(&cur.donationElem, threadLess)
		s.propagateDonation(l.holder, 0)
	}
	s.mu.Unlock()

	l.sema.Down()

	s.mu.Lock()
	cur.waitOnLock = nil
	l.holder = cur
	if !s.mlfqs {
		// Any threads still blocked on the semaphore were donating to the
		// previous holder; Release severed those edges, so they donate to
		// the new holder from here on. Without this step their priority
		// would be lost across the hand-off (I4).
		l.sema.waiters.Each(func(w *Thread) {
			s.adoptDonorLocked(cur, w)
		})
		cur.recomputeEffective()
	}
	s.mu.Unlock()
}

// adoptDonorLocked moves w's donation edge onto holder. Caller holds s.mu.
func (s *Scheduler) adoptDonorLocked(holder, w *Thread) {
	if w.donationElem.In() {
		return
	}
	holder.donors.InsertOrdered(&w.donationElem, threadLess)
}

// TryAcquire succeeds atomically without donating, or returns false.
func (l *Lock) TryAcquire() bool {
	s := l.sched
	if !l.sema.TryDown() {
		return false
	}
	s.mu.Lock()
	l.holder = s.running
	s.mu.Unlock()
	return true
}

// Release removes from current's donors every donor whose wait_on_lock
// is this lock, recomputes current's effective priority, clears the
// holder, and ups the semaphore.
func (l *Lock) Release() {
	s := l.sched
	s.mu.Lock()
	cur := s.running
	if l.holder != cur {
		s.mu.Unlock()
		panicf(cur, "release of a lock not held by the caller")
	}
	var toRemove []*Link[Thread]
	for link := cur.donors.head.next; link != &cur.donors.tail; link = link.next {
		if link.value.waitOnLock == l {
			toRemove = append(toRemove, link)
		}
	}
	for _, link := range toRemove {
		cur.donors.Remove(link)
	}
	cur.recomputeEffective()
	l.holder = nil
	s.mu.Unlock()

	l.sema.Up()
}

// HeldByCurrent is a non-blocking query.
func (l *Lock) HeldByCurrent() bool {
	s := l.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	return l.holder == s.running
}

// propagateDonation raises holder's effective priority to at least the
// donor's, recursing across any lock holder is itself blocked on. depth
// is capped (Scheduler.donationDepth, default 8); exceeding it indicates
// a lock cycle and is a fatal assertion, never a silent truncation.
// Caller holds s.mu.
func (s *Scheduler) propagateDonation(holder *Thread, depth int) {
	if depth >= s.donationDepth {
		panicf(holder, "priority donation chain exceeds depth cap (lock cycle?)")
	}
	var donorPriority int
	for link := holder.donors.FrontLink(); link != nil && link != &holder.donors.tail; link = link.next {
		if p := link.value.effectivePriority; p > donorPriority {
			donorPriority = p
		}
	}
	if donorPriority <= holder.effectivePriority {
		return
	}
	holder.effectivePriority = donorPriority
	logDonation(s.logger, holder.donors.Front(), holder, depth)
	if s.metrics != nil {
		s.metrics.recordDonation(depth)
	}
	if holder.waitOnLock != nil && holder.waitOnLock.holder != nil {
		s.propagateDonation(holder.waitOnLock.holder, depth+1)
	}
}
