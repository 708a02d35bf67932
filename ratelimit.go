package threadsched

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// execLimiter throttles FORK/EXEC syscalls per process, guarding against
// fork bombs. It is a thin wrapper over catrate.Limiter, categorized by
// the calling process's tid so one runaway process can't starve others.
type execLimiter struct {
	limiter *catrate.Limiter
}

func newExecLimiter(n int, window time.Duration) *execLimiter {
	if window <= 0 {
		window = defaultExecRateWindow
	}
	if n <= 0 {
		n = defaultExecRateLimit
	}
	return &execLimiter{
		limiter: catrate.NewLimiter(map[time.Duration]int{window: n}),
	}
}

// Allow reports whether another FORK/EXEC from tid is permitted right
// now. A nil receiver always allows; New leaves the limiter nil when
// WithExecRateLimit is given n <= 0.
func (e *execLimiter) Allow(tid uint64) bool {
	if e == nil {
		return true
	}
	_, ok := e.limiter.Allow(tid)
	return ok
}
