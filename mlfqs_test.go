package threadsched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMLFQS_NicerThreadGetsLowerPriority exercises the classic BSD decay
// formula end to end: a thread that sets a high (less favorable) nice value
// must end up with a priority no higher than a thread that kept nice at 0,
// once both have accumulated some recent_cpu under load. The competing
// threads tick themselves — the timer interrupt always runs on the CPU of
// whichever thread it interrupts — so recent_cpu is attributed to whoever
// is actually running.
func TestMLFQS_NicerThreadGetsLowerPriority(t *testing.T) {
	s, err := New(WithMLFQS(true))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	doneSem := NewSemaphore(s, 0)
	var nicePri, plainPri int

	_, err = s.Spawn("nicer", PriorityDefault, func(aux any) {
		s.SetNice(10)
		for i := 0; i < 200; i++ {
			s.Tick()
			s.Yield()
		}
		nicePri = s.Current().BasePriority()
		doneSem.Up()
	}, nil)
	require.NoError(t, err)

	_, err = s.Spawn("plain", PriorityDefault, func(aux any) {
		for i := 0; i < 200; i++ {
			s.Tick()
			s.Yield()
		}
		plainPri = s.Current().BasePriority()
		doneSem.Up()
	}, nil)
	require.NoError(t, err)

	doneSem.Down()
	doneSem.Down()

	assert.LessOrEqual(t, nicePri, plainPri,
		"a higher nice value must never yield a higher MLFQS priority")
	assert.Positive(t, s.LoadAvg(), "ready threads under load must raise load_avg")
}

// TestMLFQS_SetNiceOutsideMLFQSIsInert confirms SetNice has no scheduling
// effect when the scheduler was not constructed with WithMLFQS(true).
func TestMLFQS_SetNiceOutsideMLFQSIsInert(t *testing.T) {
	s := newTestScheduler(t)

	checked := false
	_, err := s.Spawn("t", 40, func(aux any) {
		before := s.Current().BasePriority()
		s.SetNice(15)
		after := s.Current().BasePriority()
		assert.Equal(t, before, after, "SetNice must not alter base priority outside MLFQS mode")
		assert.Equal(t, 15, s.Current().Nice(), "the nice value itself is still recorded")
		checked = true
	}, nil)
	require.NoError(t, err)
	assert.True(t, checked)
}

// TestMLFQS_SetPriorityIsDisabled mirrors the original kernel: explicit
// priority assignment is inert while the feedback-queue scheduler owns
// priorities.
func TestMLFQS_SetPriorityIsDisabled(t *testing.T) {
	s, err := New(WithMLFQS(true))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	before := s.Current().BasePriority()
	s.SetPriority(PriorityMin)
	assert.Equal(t, before, s.Current().BasePriority())
}

func TestMLFQS_NiceIsClamped(t *testing.T) {
	s, err := New(WithMLFQS(true))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	s.SetNice(100)
	assert.Equal(t, niceMax, s.Current().Nice())
	s.SetNice(-100)
	assert.Equal(t, niceMin, s.Current().Nice())
}

func TestMLFQS_PriorityFormula(t *testing.T) {
	assert.Equal(t, PriorityMax, mlfqsPriority(0, 0))
	assert.Equal(t, PriorityMax-2, mlfqsPriority(0, 1))
	assert.Equal(t, PriorityMax-10, mlfqsPriority(40, 0))
	assert.Equal(t, PriorityMin, mlfqsPriority(1000, niceMax), "priority clamps at the bottom")
	assert.Equal(t, PriorityMax, mlfqsPriority(0, niceMin), "priority clamps at the top")
}
