package threadsched

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrSchedulerNotStarted is returned by operations that require Start
	// to have run first.
	ErrSchedulerNotStarted = errors.New("threadsched: scheduler not started")

	// ErrSchedulerAlreadyRunning is returned when Start is called twice.
	ErrSchedulerAlreadyRunning = errors.New("threadsched: scheduler already running")

	// ErrSchedulerStopped is returned by operations attempted after Stop.
	ErrSchedulerStopped = errors.New("threadsched: scheduler stopped")

	// ErrResourceExhausted is the sentinel resource-exhaustion error;
	// Spawn and the syscall layer wrap it with specifics.
	ErrResourceExhausted = errors.New("threadsched: resource exhausted")

	// ErrUserFault is the sentinel for a user-process fault (bad pointer,
	// unknown syscall); it never reaches the kernel as a panic.
	ErrUserFault = errors.New("threadsched: user fault")
)

// KernelPanic represents an assertion violation: a breach of one of the
// scheduler's invariants (magic-guard corruption, unblocking a thread that
// isn't Blocked, releasing a lock the caller doesn't hold, a donation
// chain deeper than the cap). These are fatal by design — the taxonomy in
// spec.md §7 classifies them as "Scheduler-internal impossibilities" that
// propagate straight to panic, never as a returned error.
type KernelPanic struct {
	Reason string
	Thread *Thread // the thread active when the invariant broke, if any
	Cause  error
}

func (e *KernelPanic) Error() string {
	if e.Thread != nil {
		return fmt.Sprintf("threadsched: kernel panic: %s (thread %q tid=%d)", e.Reason, e.Thread.Name, e.Thread.TID)
	}
	return fmt.Sprintf("threadsched: kernel panic: %s", e.Reason)
}

func (e *KernelPanic) Unwrap() error { return e.Cause }

// panicf raises a KernelPanic for thread t (nil if none is current).
func panicf(t *Thread, format string, args ...any) {
	panic(&KernelPanic{Reason: fmt.Sprintf(format, args...), Thread: t})
}

// ResourceError wraps ErrResourceExhausted with the specific resource that
// ran out. Spawn returns it for page allocation and for a priority outside
// [PriorityMin, PriorityMax].
type ResourceError struct {
	Resource string
	Cause    error
}

func (e *ResourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("threadsched: %s exhausted: %v", e.Resource, e.Cause)
	}
	return fmt.Sprintf("threadsched: %s exhausted", e.Resource)
}

func (e *ResourceError) Unwrap() error { return ErrResourceExhausted }

// UserFault represents a user-process fault detected by Dispatch: an
// invalid pointer argument, an unknown syscall number, a WAIT with no
// child, or FORK/EXEC issued through Dispatch. Dispatch terminates the
// offending process with ExitStatus -1 and never panics the kernel. A bad
// or wrong-direction file descriptor is not a UserFault: the file services
// return -1 and the process keeps running.
type UserFault struct {
	Syscall string
	Reason  string
}

func (e *UserFault) Error() string {
	return fmt.Sprintf("threadsched: user fault in %s: %s", e.Syscall, e.Reason)
}

func (e *UserFault) Unwrap() error { return ErrUserFault }
