package threadsched

import (
	"sync/atomic"
)

// ThreadStatus is the scheduling state of a Thread (I2/I3 of the data
// model: READY threads are exactly those on the ready queue, BLOCKED
// threads are exactly those on some wait set or the sleep set).
//
//	spawned -> Ready -> Running <-> {Ready (yield), Blocked (block)}
//	Running -> Dying -> (freed)
//
// Blocked -> Ready only ever happens via Scheduler.Unblock, or inside
// Semaphore.Up, which performs the same transition for the waiter it wakes.
type ThreadStatus uint32

const (
	// StatusReady means the thread is on the ready queue.
	StatusReady ThreadStatus = iota
	// StatusRunning means the thread is the single running thread. Exactly
	// one thread holds this status at any moment (I1), and it is not on
	// any queue.
	StatusRunning
	// StatusBlocked means the thread is on a semaphore wait set or the
	// sleep set, waiting to be unblocked.
	StatusBlocked
	// StatusDying means the thread has called Exit and is waiting for the
	// next scheduling decision to free its stack resources.
	StatusDying
)

// String renders the status for logging and panic messages.
func (s ThreadStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusDying:
		return "dying"
	default:
		return "unknown"
	}
}

// atomicStatus is a lock-free CAS state machine for ThreadStatus,
// mirroring the teacher's atomic state-machine design: transitions that
// matter for correctness go through TryTransition (CAS), irreversible or
// scheduler-owned transitions go through Store.
type atomicStatus struct {
	v atomic.Uint32
}

func newAtomicStatus(initial ThreadStatus) *atomicStatus {
	s := &atomicStatus{}
	s.v.Store(uint32(initial))
	return s
}

func (s *atomicStatus) Load() ThreadStatus { return ThreadStatus(s.v.Load()) }

func (s *atomicStatus) Store(v ThreadStatus) { s.v.Store(uint32(v)) }

func (s *atomicStatus) TryTransition(from, to ThreadStatus) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
