package threadsched

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intLess(a, b *int) bool { return *a < *b }

func intLinks(vals []int) []*Link[int] {
	links := make([]*Link[int], len(vals))
	for i := range vals {
		links[i] = NewLink(&vals[i])
	}
	return links
}

func TestSequence_PushPopOrder(t *testing.T) {
	s := NewSequence[int]()
	require.True(t, s.Empty())

	vals := []int{1, 2, 3}
	links := intLinks(vals)
	s.PushBack(links[0])
	s.PushBack(links[1])
	s.PushFront(links[2])

	require.Equal(t, 3, s.Len())
	assert.Equal(t, &vals[2], s.Front())
	assert.Equal(t, &vals[1], s.Back())

	assert.Equal(t, &vals[2], s.PopFront())
	assert.Equal(t, &vals[0], s.PopFront())
	assert.Equal(t, &vals[1], s.PopFront())
	assert.True(t, s.Empty())
}

func TestSequence_RemoveUnlinksAndReturnsNext(t *testing.T) {
	s := NewSequence[int]()
	vals := []int{1, 2, 3}
	links := intLinks(vals)
	for _, l := range links {
		s.PushBack(l)
	}

	next := s.Remove(links[1])
	assert.Equal(t, &vals[2], next.Value())
	assert.False(t, links[1].In())

	var out []int
	s.Each(func(v *int) { out = append(out, *v) })
	assert.Equal(t, []int{1, 3}, out)

	// removing an already-removed link is a no-op
	assert.Nil(t, s.Remove(links[1]))
	assert.True(t, links[0].In())
}

func TestSequence_DoubleInsertPanics(t *testing.T) {
	s := NewSequence[int]()
	other := NewSequence[int]()
	v := 1
	l := NewLink(&v)
	s.PushBack(l)
	assert.Panics(t, func() { other.PushBack(l) }, "a link is on at most one sequence at a time")
}

func TestSequence_InsertOrderedIsFIFOWithinTies(t *testing.T) {
	s := NewSequence[int]()
	vals := []int{5, 5, 1, 5, 3}
	idx := make(map[*int]int, len(vals))
	for i := range vals {
		idx[&vals[i]] = i
	}
	for _, l := range intLinks(vals) {
		s.InsertOrdered(l, intLess)
	}
	var out, order []int
	s.Each(func(v *int) {
		out = append(out, *v)
		order = append(order, idx[v])
	})
	assert.Equal(t, []int{1, 3, 5, 5, 5}, out)
	assert.Equal(t, []int{2, 4, 0, 1, 3}, order, "equal keys keep their insertion order")
}

func TestSequence_SortIsStablePermutation(t *testing.T) {
	s := NewSequence[int]()
	n := 200
	vals := make([]int, n)
	addrs := make(map[*int]bool, n)
	idx := make(map[*int]int, n)
	r := rand.New(rand.NewSource(42))
	for i := range vals {
		vals[i] = r.Intn(20)
	}
	links := intLinks(vals)
	for i := range vals {
		s.PushBack(links[i])
		addrs[&vals[i]] = true
		idx[&vals[i]] = i
	}

	s.Sort(intLess)

	// P7: sort is a permutation — same multiset of node addresses.
	seen := make(map[*int]bool, n)
	var prev *int
	s.Each(func(v *int) {
		assert.True(t, addrs[v])
		seen[v] = true
		if prev != nil {
			assert.LessOrEqual(t, *prev, *v)
			if *prev == *v {
				assert.Less(t, idx[prev], idx[v], "equal keys keep their original order")
			}
		}
		prev = v
	})
	assert.Equal(t, n, len(seen))

	// P8: every node still belongs to exactly this sequence.
	for _, l := range links {
		assert.True(t, l.In())
	}
}

func TestSequence_SortReverseSortedInput(t *testing.T) {
	s := NewSequence[int]()
	n := 64
	vals := make([]int, n)
	for i := range vals {
		vals[i] = n - i
	}
	for _, l := range intLinks(vals) {
		s.PushBack(l)
	}
	s.Sort(intLess)
	var out []int
	s.Each(func(v *int) { out = append(out, *v) })
	require.Len(t, out, n)
	for i := 1; i < n; i++ {
		assert.Less(t, out[i-1], out[i])
	}
}

func TestSequence_Unique(t *testing.T) {
	s := NewSequence[int]()
	vals := []int{1, 1, 2, 3, 3, 3, 4}
	for _, l := range intLinks(vals) {
		s.PushBack(l)
	}
	dups := NewSequence[int]()
	s.Unique(intLess, dups)

	var out []int
	s.Each(func(v *int) { out = append(out, *v) })
	assert.Equal(t, []int{1, 2, 3, 4}, out)
	assert.Equal(t, 3, dups.Len())
}

func TestSequence_MinMax(t *testing.T) {
	s := NewSequence[int]()
	assert.Nil(t, s.Min(intLess))
	vals := []int{4, 1, 9, 2}
	for _, l := range intLinks(vals) {
		s.PushBack(l)
	}
	assert.Equal(t, 1, *s.Min(intLess))
	assert.Equal(t, 9, *s.Max(intLess))
}

func TestSequence_Reverse(t *testing.T) {
	s := NewSequence[int]()
	vals := []int{1, 2, 3, 4}
	links := intLinks(vals)
	for _, l := range links {
		s.PushBack(l)
	}
	s.Reverse()
	var out []int
	s.Each(func(v *int) { out = append(out, *v) })
	assert.Equal(t, []int{4, 3, 2, 1}, out)
	for _, l := range links {
		assert.True(t, l.In())
	}

	// a single-element reversal is a no-op
	one := NewSequence[int]()
	v := 7
	one.PushBack(NewLink(&v))
	one.Reverse()
	assert.Equal(t, &v, one.Front())
}
