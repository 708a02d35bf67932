package threadsched

import (
	"sync"
	"weak"

	"golang.org/x/exp/slices"
)

// ThreadInfo is a point-in-time snapshot of one thread, returned by
// threadTable.Snapshot for introspection (ps-style listing, debugging).
type ThreadInfo struct {
	TID               uint64
	Name              string
	Status            ThreadStatus
	BasePriority      int
	EffectivePriority int
}

// threadTable tracks every thread ever spawned using weak pointers, so a
// Thread that has exited and been dropped by the scheduler can still be
// garbage collected even though the table never explicitly deletes it on
// exit. Dead entries are reclaimed lazily by Scavenge, walking a ring of
// ids a batch at a time rather than the whole table at once.
type threadTable struct {
	mu   sync.RWMutex
	data map[uint64]weak.Pointer[Thread]
	ring []uint64
	head int

	scavengeMu sync.Mutex
}

func newThreadTable() *threadTable {
	return &threadTable{
		data: make(map[uint64]weak.Pointer[Thread]),
		ring: make([]uint64, 0, 256),
	}
}

// register adds t to the table. Called once per thread: from New for the
// main thread, and from spawnLocked for every other thread.
func (r *threadTable) register(t *Thread) {
	wp := weak.Make(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[t.TID] = wp
	r.ring = append(r.ring, t.TID)
}

// Scavenge reclaims table entries for threads that have been garbage
// collected, checking up to batchSize ring slots per call. The scheduler
// calls this periodically (once per tick) rather than all at once, so a
// huge thread table never causes a latency spike.
func (r *threadTable) Scavenge(batchSize int) {
	r.scavengeMu.Lock()
	defer r.scavengeMu.Unlock()
	if batchSize <= 0 {
		return
	}

	r.mu.RLock()
	ringLen := len(r.ring)
	if ringLen == 0 {
		r.mu.RUnlock()
		return
	}
	start := r.head
	end := min(start+batchSize, ringLen)

	type item struct {
		id  uint64
		idx int
	}
	items := make([]item, 0, end-start)
	for i := start; i < end; i++ {
		if id := r.ring[i]; id != 0 {
			items = append(items, item{id, i})
		}
	}
	dead := items[:0]
	for _, it := range items {
		wp, ok := r.data[it.id]
		if ok && wp.Value() == nil {
			dead = append(dead, it)
		}
	}
	nextHead := end
	if nextHead >= ringLen {
		nextHead = 0
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range dead {
		delete(r.data, it.id)
		if it.idx < len(r.ring) && r.ring[it.idx] == it.id {
			r.ring[it.idx] = 0
		}
	}
	r.head = nextHead
}

// Snapshot returns a stable, TID-ordered view of every live thread.
//
// Collecting the live *Thread pointers and releasing r.mu before reading
// per-thread priorities matters for lock ordering: Scheduler.spawnLocked
// holds sched.mu while calling register, which takes r.mu (sched.mu ->
// r.mu). Thread.BasePriority/EffectivePriority take sched.mu themselves,
// so calling them while still holding r.mu here would take the locks in
// the opposite order (r.mu -> sched.mu) and deadlock against a concurrent
// Spawn. Reading them only after r.mu is released avoids ever holding
// both at once.
func (r *threadTable) Snapshot() []ThreadInfo {
	r.mu.RLock()
	threads := make([]*Thread, 0, len(r.data))
	for _, wp := range r.data {
		if t := wp.Value(); t != nil {
			threads = append(threads, t)
		}
	}
	r.mu.RUnlock()

	out := make([]ThreadInfo, 0, len(threads))
	for _, t := range threads {
		out = append(out, ThreadInfo{
			TID:               t.TID,
			Name:              t.Name,
			Status:            t.Status(),
			BasePriority:      t.BasePriority(),
			EffectivePriority: t.EffectivePriority(),
		})
	}
	slices.SortFunc(out, func(a, b ThreadInfo) int {
		switch {
		case a.TID < b.TID:
			return -1
		case a.TID > b.TID:
			return 1
		default:
			return 0
		}
	})
	return out
}
