// Package threadsched implements a preemptive, single-CPU kernel thread
// scheduler and synchronization substrate, in the style of a small
// teaching-oriented operating system kernel.
//
// # Architecture
//
// A [Scheduler] owns a priority-ordered ready queue of [Thread] values and
// runs a single logical CPU: at most one thread is ever RUNNING at a time.
// [Thread] is backed by a real goroutine, but the package enforces single
// occupancy by handing off a per-thread resume token exactly the way a
// register-frame switch hands off a CPU core — this is the package's
// realization of the spec's single opaque "switch context from A to B"
// primitive. [Scheduler.Tick] drives timed sleep ([Scheduler.Sleep]) and
// preemption the way a timer interrupt would.
//
// On top of the scheduler sit the synchronization primitives: [Semaphore]
// (counting, priority-ordered wait set), [Lock] (binary semaphore with
// priority donation), and [Cond] (condition variable with per-waiter
// private semaphores). A syscall dispatcher ([Dispatcher.Dispatch])
// demonstrates the narrow contract a user-process layer needs from the
// scheduler: blocking, wake-up, and mutual exclusion over shared kernel
// data.
//
// # Scheduling modes
//
// The scheduler runs in one of two mutually exclusive modes, selected at
// [New] time: strict-priority with donation (the default), or MLFQS
// (multi-level feedback queue, see mlfqs.go), matching the classic BSD
// decay-formula scheduler. Donation is meaningless under MLFQS and is
// disabled in that mode, matching the teaching kernel this is modeled on.
//
// # Out of scope
//
// Out of scope, as external collaborators: a real page allocator (see
// pagepool.go for a minimal accounting stand-in exercised by the
// resource-exhaustion path), a virtual address space activator, and a
// filesystem. The syscall boundary (syscall.go) dispatches against an
// in-memory simulated filesystem and process table, never real OS
// resources.
package threadsched
