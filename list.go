package threadsched

// Link is the embedded intrusive link node. A type that wants to be a
// member of a Sequence embeds one or more Link fields (one per mutually
// exclusive membership) and binds each to itself once, via Bind or
// NewLink. The Sequence never allocates per element: inserting a thread
// into the ready queue or a wait set is a pointer splice, so the blocking
// path has no allocation failure mode.
//
// A Link belongs to at most one Sequence at a time (I5); inserting an
// already-owned link is an invariant breach and panics.
type Link[T any] struct {
	prev, next *Link[T]
	value      *T
	owner      *Sequence[T]
}

// NewLink returns a link bound to v, ready for insertion.
func NewLink[T any](v *T) *Link[T] { return &Link[T]{value: v} }

// Bind points an embedded (zero-valued) link at the object that owns it.
// Must be called before the link's first insertion.
func (l *Link[T]) Bind(v *T) { l.value = v }

// In reports whether the link is currently threaded into some Sequence.
func (l *Link[T]) In() bool { return l.owner != nil }

// Value returns the object this link is bound to.
func (l *Link[T]) Value() *T { return l.value }

// Sequence is a doubly-linked sequence of Link nodes with two sentinels,
// so insert and remove are unconditional pointer rewrites with no special
// casing for the ends. This mirrors the head/tail sentinel design used
// throughout intrusive kernel lists (e.g. Go's own runtime sudog chains),
// generalized here with Go generics instead of unsafe.Pointer arithmetic.
type Sequence[T any] struct {
	head, tail Link[T]
	len        int
}

// NewSequence returns an empty, ready-to-use sequence.
func NewSequence[T any]() *Sequence[T] {
	s := &Sequence[T]{}
	s.head.next = &s.tail
	s.tail.prev = &s.head
	return s
}

// Less is a strict weak order: Less(a, b) iff a < b.
type Less[T any] func(a, b *T) bool

// Empty reports whether the sequence has no elements.
func (s *Sequence[T]) Empty() bool { return s.head.next == &s.tail }

// Len returns the number of elements. O(1): maintained incrementally.
func (s *Sequence[T]) Len() int { return s.len }

func (s *Sequence[T]) insertBetween(l *Link[T], before, after *Link[T]) {
	if l.owner != nil {
		panicf(nil, "intrusive link inserted while still on another sequence")
	}
	if l.value == nil {
		panicf(nil, "intrusive link inserted before being bound to its owner")
	}
	l.prev = before
	l.next = after
	before.next = l
	after.prev = l
	l.owner = s
	s.len++
}

// PushFront inserts l at the front.
func (s *Sequence[T]) PushFront(l *Link[T]) {
	s.insertBetween(l, &s.head, s.head.next)
}

// PushBack inserts l at the back.
func (s *Sequence[T]) PushBack(l *Link[T]) {
	s.insertBetween(l, s.tail.prev, &s.tail)
}

// InsertBefore inserts l immediately before the element linked by at.
func (s *Sequence[T]) InsertBefore(at, l *Link[T]) {
	s.insertBetween(l, at.prev, at)
}

// Remove unlinks l from this sequence and returns the next link (the tail
// sentinel if l was the last element). Removing a link not currently on
// this sequence is a no-op returning nil.
func (s *Sequence[T]) Remove(l *Link[T]) *Link[T] {
	if l.owner != s {
		return nil
	}
	next := l.next
	l.prev.next = l.next
	l.next.prev = l.prev
	l.prev, l.next, l.owner = nil, nil, nil
	s.len--
	return next
}

// Front returns the first element, or nil if the sequence is empty.
func (s *Sequence[T]) Front() *T {
	if s.Empty() {
		return nil
	}
	return s.head.next.value
}

// FrontLink returns the first link, or nil if empty.
func (s *Sequence[T]) FrontLink() *Link[T] {
	if s.Empty() {
		return nil
	}
	return s.head.next
}

// Back returns the last element, or nil if the sequence is empty.
func (s *Sequence[T]) Back() *T {
	if s.Empty() {
		return nil
	}
	return s.tail.prev.value
}

// PopFront removes and returns the first element, or nil if empty.
func (s *Sequence[T]) PopFront() *T {
	l := s.FrontLink()
	if l == nil {
		return nil
	}
	v := l.value
	s.Remove(l)
	return v
}

// Each calls fn for every element, front to back. fn must not mutate the
// sequence; use manual Remove for that.
func (s *Sequence[T]) Each(fn func(*T)) {
	for l := s.head.next; l != &s.tail; l = l.next {
		fn(l.value)
	}
}

// Reverse reverses the sequence in place, O(n), no allocation.
func (s *Sequence[T]) Reverse() {
	if s.len < 2 {
		return
	}
	// Walk the old order back to front via prev pointers, relinking each
	// node forward as we go.
	cur := s.tail.prev
	prev := &s.head
	for cur != &s.head {
		p := cur.prev
		prev.next = cur
		cur.prev = prev
		prev = cur
		cur = p
	}
	prev.next = &s.tail
	s.tail.prev = prev
}

// InsertOrdered inserts l into its sorted position according to less,
// scanning from the front and stopping at the first element that l's
// value is less than (so ties land after existing equal elements: FIFO
// within a priority).
func (s *Sequence[T]) InsertOrdered(l *Link[T], less Less[T]) {
	at := &s.head
	for at.next != &s.tail && !less(l.value, at.next.value) {
		at = at.next
	}
	s.InsertBefore(at.next, l)
}

// Sort performs a natural merge sort in place: it is stable, does no
// allocation beyond a handful of run-boundary pointers, and is a
// permutation of the existing links (never a copy) — essential because
// link nodes are embedded in unrelated objects elsewhere in the kernel.
//
// Algorithm: repeatedly scan the sequence identifying maximal
// non-decreasing runs under less, merge each adjacent PAIR of runs in
// place via splicing, and repeat until one run remains. Pairing adjacent
// runs (rather than folding every run into one growing accumulator) is
// what gives this O(n log r) passes for r initial runs — folding would
// degrade to O(n*r), quadratic on a reverse-sorted input.
func (s *Sequence[T]) Sort(less Less[T]) {
	if s.len < 2 {
		return
	}
	for {
		// Detach the sequence's internal chain so we can work on raw
		// Link[T] pointers, sentinel-free, then relink at the end.
		first := s.head.next
		s.tail.prev.next = nil // terminate the chain

		runs := 0
		var mergedHead, mergedTail *Link[T]

		cur := first
		for cur != nil {
			// Identify a run [runAStart, ...).
			runAStart := cur
			for cur.next != nil && !less(cur.next.value, cur.value) {
				cur = cur.next
			}
			runAEnd := cur.next
			cur.next = nil // terminate this run
			cur = runAEnd
			runs++

			var pairHead, pairTail *Link[T]
			if cur == nil {
				// No partner run left this pass; carry it forward as-is.
				pairHead, pairTail = runAStart, runTail(runAStart)
			} else {
				runBStart := cur
				for cur.next != nil && !less(cur.next.value, cur.value) {
					cur = cur.next
				}
				runBEnd := cur.next
				cur.next = nil
				cur = runBEnd
				runs++

				pairHead, pairTail = mergeChains(runAStart, runBStart, less)
			}

			if mergedHead == nil {
				mergedHead, mergedTail = pairHead, pairTail
			} else {
				mergedTail.next = pairHead
				mergedTail = pairTail
			}
		}

		// Relink mergedHead..mergedTail back into the sentinels.
		relink(s, mergedHead)

		if runs <= 1 {
			return
		}
	}
}

func runTail[T any](l *Link[T]) *Link[T] {
	for l.next != nil {
		l = l.next
	}
	return l
}

// mergeChains merges two singly-forward-linked (via next only; prev is
// stale during this operation) chains, returning the merged chain's head
// and tail. Stable: on equal elements, a comes first.
func mergeChains[T any](a, b *Link[T], less Less[T]) (head, tail *Link[T]) {
	dummy := &Link[T]{}
	tail = dummy
	for a != nil && b != nil {
		if less(b.value, a.value) {
			tail.next = b
			b = b.next
		} else {
			tail.next = a
			a = a.next
		}
		tail = tail.next
	}
	if a != nil {
		tail.next = a
	} else {
		tail.next = b
	}
	for tail.next != nil {
		tail = tail.next
	}
	return dummy.next, tail
}

// relink rebuilds prev pointers and re-attaches the sentinels around a
// singly-forward-linked chain (by next only).
func relink[T any](s *Sequence[T], head *Link[T]) {
	if head == nil {
		s.head.next = &s.tail
		s.tail.prev = &s.head
		return
	}
	prev := &s.head
	cur := head
	for cur != nil {
		cur.prev = prev
		prev.next = cur
		prev = cur
		cur = cur.next
	}
	prev.next = &s.tail
	s.tail.prev = prev
}

// Unique removes every element equal to its left neighbour (under less, a
// is equal to b iff !less(a,b) && !less(b,a)). If out is non-nil, removed
// duplicate links are appended to it in encounter order.
func (s *Sequence[T]) Unique(less Less[T], out *Sequence[T]) {
	if s.len < 2 {
		return
	}
	cur := s.head.next
	for cur.next != &s.tail {
		if !less(cur.value, cur.next.value) && !less(cur.next.value, cur.value) {
			dup := cur.next
			s.Remove(dup)
			if out != nil {
				out.PushBack(dup)
			}
			continue
		}
		cur = cur.next
	}
}

// Min returns the smallest element under less, or nil if empty.
func (s *Sequence[T]) Min(less Less[T]) *T {
	if s.Empty() {
		return nil
	}
	best := s.head.next
	for l := best.next; l != &s.tail; l = l.next {
		if less(l.value, best.value) {
			best = l
		}
	}
	return best.value
}

// Max returns the largest element under less, or nil if empty.
func (s *Sequence[T]) Max(less Less[T]) *T {
	if s.Empty() {
		return nil
	}
	best := s.head.next
	for l := best.next; l != &s.tail; l = l.next {
		if less(best.value, l.value) {
			best = l
		}
	}
	return best.value
}
