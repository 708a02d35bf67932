package threadsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tests below follow the single-CPU discipline documented on
// Scheduler: the test goroutine is the "main" thread, and it only ever
// waits for spawned threads through the package's own primitives
// (typically a done-semaphore), never by parking on a bare channel —
// a thread the scheduler cannot see blocking would starve every
// lower-priority thread of the CPU. Spawning above the caller's priority
// preempts immediately, so by the time Spawn returns, the child has run
// to its first suspension; that is what makes these scenarios
// deterministic without sleeps or polling.

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Start())
	return s
}

func TestSpawn_PriorityPreempt(t *testing.T) {
	s := newTestScheduler(t)
	doneSem := NewSemaphore(s, 0)

	var order []string

	_, err := s.Spawn("low", 10, func(aux any) {
		for i := 0; i < 5; i++ {
			order = append(order, "low")
			s.Yield()
		}
		doneSem.Up()
	}, nil)
	require.NoError(t, err)

	_, err = s.Spawn("high", 50, func(aux any) {
		order = append(order, "high")
	}, nil)
	require.NoError(t, err)

	// high outranked us and has already run to completion; low has not
	// had the CPU at all yet. Block on the done-semaphore to hand it over.
	doneSem.Down()

	require.NotEmpty(t, order)
	assert.Equal(t, "high", order[0], "higher priority thread must run before the low-priority thread completes")
	assert.Len(t, order, 6)

	// Drop below low so it can finish and exit.
	s.SetPriority(PriorityMin)
}

func TestSetPriority_YieldsToOutrankingReadyThread(t *testing.T) {
	s := newTestScheduler(t)

	ran := false
	_, err := s.Spawn("w", 10, func(aux any) { ran = true }, nil)
	require.NoError(t, err)
	assert.False(t, ran, "a lower-priority spawn must not run before the caller gives up the CPU")

	s.SetPriority(5)
	assert.True(t, ran, "lowering below a ready thread's priority must yield to it")
	assert.Equal(t, 5, s.Current().BasePriority())
}

func TestLock_PriorityDonationNested(t *testing.T) {
	s := newTestScheduler(t)

	lockA := NewLock(s)
	lockB := NewLock(s)
	releaseSem := NewSemaphore(s, 0)
	doneSem := NewSemaphore(s, 0)

	lt, err := s.Spawn("L", 31, func(aux any) {
		lockA.Acquire()
		releaseSem.Down()
		lockA.Release()
		doneSem.Up()
	}, nil)
	require.NoError(t, err)
	// L is at our own priority, so hand it the CPU explicitly; it runs
	// until it blocks on releaseSem, holding lockA.
	s.Yield()

	mt, err := s.Spawn("M", 32, func(aux any) {
		lockB.Acquire()
		lockA.Acquire() // blocks on L, donating
		lockA.Release()
		lockB.Release()
		doneSem.Up()
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, lt.EffectivePriority(), "M's donation must reach lockA's holder")

	_, err = s.Spawn("H", 33, func(aux any) {
		lockB.Acquire() // blocks on M; donation propagates M -> L
		lockB.Release()
		doneSem.Up()
	}, nil)
	require.NoError(t, err)

	// P3: with H blocked on B (held by M) and M blocked on A (held by L),
	// the chain carries H's priority all the way to L.
	assert.Equal(t, 33, lt.EffectivePriority())
	assert.Equal(t, 33, mt.EffectivePriority())

	releaseSem.Up()
	for i := 0; i < 3; i++ {
		doneSem.Down()
	}

	// P2: all donations unwound with the lock releases.
	assert.Equal(t, 31, lt.BasePriority())
	assert.Equal(t, 31, lt.EffectivePriority())
}

// TestLock_DonationWithLoggerEnabledDoesNotDeadlock covers a donation hop
// while a structured logger is installed: logDonation runs with sched.mu
// already held by propagateDonation, so it must read priorities directly
// off the Thread rather than through a locking accessor.
func TestLock_DonationWithLoggerEnabledDoesNotDeadlock(t *testing.T) {
	s, err := New(WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	lock := NewLock(s)
	startSem := NewSemaphore(s, 0)
	releaseSem := NewSemaphore(s, 0)
	doneSem := NewSemaphore(s, 0)

	lowT, err := s.Spawn("low", 10, func(aux any) {
		lock.Acquire()
		startSem.Up()
		releaseSem.Down()
		lock.Release()
	}, nil)
	require.NoError(t, err)
	startSem.Down() // hands the CPU to low until it holds the lock

	_, err = s.Spawn("high", 50, func(aux any) {
		lock.Acquire() // donates 50 to low, with logging active
		lock.Release()
		doneSem.Up()
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 50, lowT.EffectivePriority())

	releaseSem.Up() // lets low release the lock once it next runs
	doneSem.Down()  // low (boosted to 50) releases; high acquires and finishes

	assert.Equal(t, 10, lowT.EffectivePriority())

	// Drop below low so it can finish and exit.
	s.SetPriority(PriorityMin)
}

func TestSemaphore_ReleasesInDescendingPriorityOrder(t *testing.T) {
	s := newTestScheduler(t)
	sem := NewSemaphore(s, 0)
	doneSem := NewSemaphore(s, 0)

	var order []int

	// From the bottom of the priority range, every spawn preempts us and
	// runs until it blocks on the semaphore.
	s.SetPriority(PriorityMin)
	for pri := 30; pri < 40; pri++ {
		pri := pri
		_, err := s.Spawn("waiter", pri, func(aux any) {
			sem.Down()
			order = append(order, pri)
			doneSem.Up()
		}, nil)
		require.NoError(t, err)
	}

	for i := 0; i < 10; i++ {
		sem.Up()
	}
	for i := 0; i < 10; i++ {
		doneSem.Down()
	}

	want := []int{39, 38, 37, 36, 35, 34, 33, 32, 31, 30}
	assert.Equal(t, want, order)
}

func TestCond_SignalWakesExactlyOne(t *testing.T) {
	s := newTestScheduler(t)
	lock := NewLock(s)
	cond := NewCond(s)
	doneSem := NewSemaphore(s, 0)

	var woken []int
	for _, pri := range []int{40, 35} {
		pri := pri
		_, err := s.Spawn("waiter", pri, func(aux any) {
			lock.Acquire()
			cond.Wait(lock)
			woken = append(woken, pri)
			lock.Release()
			doneSem.Up()
		}, nil)
		require.NoError(t, err)
	}

	lock.Acquire()
	cond.Signal(lock)
	lock.Release()
	doneSem.Down()

	assert.Equal(t, []int{40}, woken, "signal wakes exactly the highest-priority waiter")

	lock.Acquire()
	cond.Broadcast(lock)
	lock.Release()
	doneSem.Down()

	assert.Equal(t, []int{40, 35}, woken)
}

func TestCond_BroadcastResumesInPriorityOrder(t *testing.T) {
	s := newTestScheduler(t)
	lock := NewLock(s)
	cond := NewCond(s)
	doneSem := NewSemaphore(s, 0)

	var order []int

	s.SetPriority(PriorityMin)
	for _, pri := range []int{35, 39, 31, 37, 33} {
		pri := pri
		_, err := s.Spawn("waiter", pri, func(aux any) {
			lock.Acquire()
			cond.Wait(lock)
			assert.True(t, lock.HeldByCurrent(), "a signalled waiter resumes holding the lock")
			order = append(order, pri)
			lock.Release()
			doneSem.Up()
		}, nil)
		require.NoError(t, err)
	}

	lock.Acquire()
	cond.Broadcast(lock)
	lock.Release()
	for range 5 {
		doneSem.Down()
	}

	assert.Equal(t, []int{39, 37, 35, 33, 31}, order)
}

func TestLock_TryAcquireDoesNotBlockOrDonate(t *testing.T) {
	s := newTestScheduler(t)
	lock := NewLock(s)

	require.True(t, lock.TryAcquire())
	assert.True(t, lock.HeldByCurrent())

	var got bool
	_, err := s.Spawn("contender", 50, func(aux any) {
		got = lock.TryAcquire()
	}, nil)
	require.NoError(t, err)

	assert.False(t, got, "TryAcquire on a held lock fails without blocking")
	assert.Equal(t, PriorityDefault, s.Current().EffectivePriority(),
		"TryAcquire must not donate")

	lock.Release()
}

func TestLock_RecursiveAcquirePanics(t *testing.T) {
	s := newTestScheduler(t)
	lock := NewLock(s)
	lock.Acquire()
	assert.Panics(t, func() { lock.Acquire() })
	lock.Release()
}

func TestLock_ReleaseWithoutHoldingPanics(t *testing.T) {
	s := newTestScheduler(t)
	lock := NewLock(s)
	assert.Panics(t, func() { lock.Release() })
}

func TestScheduler_UnblockOfRunningThreadPanics(t *testing.T) {
	s := newTestScheduler(t)
	assert.Panics(t, func() { s.Unblock(s.Current()) })
}

func TestSpawn_PageExhaustionIsResourceError(t *testing.T) {
	// One page total: Start's idle thread consumes it.
	s, err := New(WithPageCount(1))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	_, err = s.Spawn("unlucky", PriorityDefault, func(aux any) {}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestScheduler_MetricsCountContextSwitches(t *testing.T) {
	s, err := New(WithMetrics(true))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	_, err = s.Spawn("w", 50, func(aux any) {}, nil)
	require.NoError(t, err)

	snap := s.Metrics()
	assert.GreaterOrEqual(t, snap.ContextSwitches, uint64(2),
		"preemptive spawn and exit are at least two switches")

	// Disabled metrics read as the zero snapshot.
	plain := newTestScheduler(t)
	assert.Equal(t, Snapshot{}, plain.Metrics())
}

// TestScheduler_StopRejectsSpawn covers the HALT-equivalent lifecycle
// operation: after Stop, Spawn must fail fast.
func TestScheduler_StopRejectsSpawn(t *testing.T) {
	s := newTestScheduler(t)
	s.Stop()
	_, err := s.Spawn("late", PriorityDefault, func(aux any) {}, nil)
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}

// TestScheduler_StopHaltsIdle drives a whole scheduler from a sacrificial
// goroutine: halting the CPU abandons whatever was running on it, so the
// observing side must not be the scheduler's own main thread. The driver
// goroutine is intentionally left parked — that is what HALT does.
func TestScheduler_StopHaltsIdle(t *testing.T) {
	idleExited := make(chan chan struct{}, 1)
	go func() {
		s, err := New()
		if err != nil {
			panic(err)
		}
		if err := s.Start(); err != nil {
			panic(err)
		}
		s.Stop()
		idleExited <- s.idle.done
		// Give up the CPU; the halted scheduler never hands it back.
		s.Sleep(1)
	}()

	select {
	case ch := <-idleExited:
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("idle thread never exited after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver never reached Stop")
	}
}

// TestScheduler_StopIsIdempotent covers repeated Stop calls not panicking
// on a double close of stopCh.
func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := newTestScheduler(t)
	s.Stop()
	assert.NotPanics(t, func() { s.Stop() })
}

// TestScheduler_CurrentAssertsMagicGuard covers the spec's "current()
// returns the running thread, asserting magic" contract: a corrupted TCB
// must panic rather than be silently returned.
func TestScheduler_CurrentAssertsMagicGuard(t *testing.T) {
	s := newTestScheduler(t)
	s.running.magic = 0
	assert.Panics(t, func() { s.Current() })
	s.running.magic = threadMagic
}

// TestScheduler_SpawnBeforeStartIsRejected covers ErrSchedulerNotStarted:
// Spawn requires Start to have created the idle thread first.
func TestScheduler_SpawnBeforeStartIsRejected(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	_, err = s.Spawn("early", PriorityDefault, func(aux any) {}, nil)
	assert.ErrorIs(t, err, ErrSchedulerNotStarted)
}

func TestScheduler_StartTwiceIsRejected(t *testing.T) {
	s := newTestScheduler(t)
	assert.ErrorIs(t, s.Start(), ErrSchedulerAlreadyRunning)
}

func TestThreadTable_SnapshotIsTIDOrdered(t *testing.T) {
	s := newTestScheduler(t)
	doneSem := NewSemaphore(s, 0)
	for i := 0; i < 3; i++ {
		_, err := s.Spawn("held", 40, func(aux any) { doneSem.Down() }, nil)
		require.NoError(t, err)
	}

	infos := s.ThreadTable()
	require.GreaterOrEqual(t, len(infos), 5) // main, idle, three held threads
	for i := 1; i < len(infos); i++ {
		assert.Less(t, infos[i-1].TID, infos[i].TID)
	}

	for i := 0; i < 3; i++ {
		doneSem.Up()
	}
}
