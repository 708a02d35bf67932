package threadsched

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// kernelLogger is the structured logger used throughout the scheduler. It
// is a thin alias over stumpy's logiface.Logger[*stumpy.Event], so callers
// configure it exactly the way stumpy's own documentation shows, and the
// scheduler just needs a handful of fields logged consistently.
type kernelLogger = *logiface.Logger[*stumpy.Event]

// NewLogger builds a kernelLogger writing newline-delimited JSON via
// stumpy. Pass the result to WithLogger. A nil logger (the default) is a
// no-op: every call site below guards against it.
func NewLogger(options ...stumpy.Option) kernelLogger {
	return stumpy.L.New(stumpy.L.WithStumpy(options...))
}

// logTick records a single scheduler tick: the current tick count and
// whichever thread is now running.
func logTick(l kernelLogger, tick uint64, running *Thread) {
	if l == nil {
		return
	}
	name := "<idle>"
	if running != nil {
		name = running.Name
	}
	l.Debug().
		Int64(`tick`, int64(tick)).
		Str(`running`, name).
		Log(`tick`)
}

// logSwitch records a context switch from prev (nil if none) to next.
func logSwitch(l kernelLogger, prev, next *Thread) {
	if l == nil {
		return
	}
	e := l.Info()
	if prev != nil {
		e = e.Str(`from`, prev.Name)
	}
	e.Str(`to`, next.Name).
		Int64(`priority`, int64(next.EffectivePriority())).
		Log(`switch`)
}

// logDonation records a priority donation hop from donor to holder across
// a lock, for tracing donation chains during debugging. Called from
// Scheduler.propagateDonation with sched.mu already held, so it reads the
// donor's priority directly off the struct rather than through
// Thread.EffectivePriority, which would re-lock sched.mu and deadlock.
func logDonation(l kernelLogger, donor, holder *Thread, depth int) {
	if l == nil {
		return
	}
	l.Debug().
		Str(`donor`, donor.Name).
		Str(`holder`, holder.Name).
		Int64(`depth`, int64(depth)).
		Int64(`priority`, int64(donor.effectivePriority)).
		Log(`donate`)
}

// logPanic records a KernelPanic before it propagates, so the last thing
// written to the log explains what the kernel saw.
func logPanic(l kernelLogger, p *KernelPanic) {
	if l == nil {
		return
	}
	e := l.Err().Str(`reason`, p.Reason)
	if p.Thread != nil {
		e = e.Str(`thread`, p.Thread.Name)
	}
	e.Log(`kernel panic`)
}

// logExit records a thread or process exiting with the given status.
func logExit(l kernelLogger, t *Thread, status int) {
	if l == nil {
		return
	}
	l.Info().
		Str(`thread`, t.Name).
		Int64(`status`, int64(status)).
		Log(`exit`)
}
