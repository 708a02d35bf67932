package threadsched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The sleep tests rely on the idle thread being the timer: once every
// sleeper is blocked and the main thread is parked on the done-semaphore,
// the idle thread gets the CPU and ticks until the deadlines arrive. No
// wall-clock waiting is involved; a tick is a unit of virtual time.

// TestSleep_WakesAtOrAfterDeadline is P4: a thread calling Sleep(n) at
// tick T is not dispatched before tick T+n.
func TestSleep_WakesAtOrAfterDeadline(t *testing.T) {
	s := newTestScheduler(t)
	doneSem := NewSemaphore(s, 0)

	var start, woke uint64
	_, err := s.Spawn("sleeper", 40, func(aux any) {
		start = s.TickCount()
		s.Sleep(10)
		woke = s.TickCount()
		doneSem.Up()
	}, nil)
	require.NoError(t, err)

	doneSem.Down()
	assert.GreaterOrEqual(t, woke, start+10)
}

// TestSleep_AlarmSingle is the spec's "alarm-single" scenario: five threads
// i in {0..4} each sleep once for 10*(i+1) ticks; they must wake in
// ascending deadline order.
func TestSleep_AlarmSingle(t *testing.T) {
	s := newTestScheduler(t)
	doneSem := NewSemaphore(s, 0)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := s.Spawn("alarm", 40, func(aux any) {
			s.Sleep(uint64(10 * (i + 1)))
			order = append(order, i)
			doneSem.Up()
		}, nil)
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		doneSem.Down()
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestSleep_AlarmMultiple is the spec's "alarm-multiple" scenario: five
// threads each sleep 7 times with per-thread duration 10*(i+1). For every
// wake event recorded, the product (iterations so far * duration) of the
// waking thread must be non-decreasing over time (P5 generalized across
// repeated deadlines).
func TestSleep_AlarmMultiple(t *testing.T) {
	s := newTestScheduler(t)
	doneSem := NewSemaphore(s, 0)

	const iterations = 7
	const threads = 5

	var products []int
	for i := 0; i < threads; i++ {
		duration := 10 * (i + 1)
		_, err := s.Spawn("alarm", 40, func(aux any) {
			for iter := 1; iter <= iterations; iter++ {
				s.Sleep(uint64(duration))
				products = append(products, iter*duration)
			}
			doneSem.Up()
		}, nil)
		require.NoError(t, err)
	}

	for i := 0; i < threads; i++ {
		doneSem.Down()
	}

	require.Len(t, products, threads*iterations)
	for i := 1; i < len(products); i++ {
		assert.LessOrEqual(t, products[i-1], products[i],
			"iterations*duration must be non-decreasing across recorded wake events")
	}
}

// TestSleep_ZeroTicksReturnsImmediately covers the spec's "zero or negative
// ticks returns immediately without queuing" edge case.
func TestSleep_ZeroTicksReturnsImmediately(t *testing.T) {
	s := newTestScheduler(t)

	woke := false
	_, err := s.Spawn("instant", 40, func(aux any) {
		s.Sleep(0)
		woke = true
	}, nil)
	require.NoError(t, err)
	assert.True(t, woke, "Sleep(0) must not queue; no ticks have elapsed")
}

// TestSleep_SameDeadlineWakesInInsertionOrder pins down the FIFO tie-break
// of the sleep set.
func TestSleep_SameDeadlineWakesInInsertionOrder(t *testing.T) {
	s := newTestScheduler(t)
	doneSem := NewSemaphore(s, 0)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := s.Spawn(name, 40, func(aux any) {
			s.Sleep(5)
			order = append(order, name)
			doneSem.Up()
		}, nil)
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		doneSem.Down()
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)
}
