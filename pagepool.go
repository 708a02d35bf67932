package threadsched

import "sync"

// pagePool is a minimal accounting stand-in for the real page allocator,
// which the spec treats as an out-of-scope external collaborator. It
// exists only to give Spawn's resource-exhaustion path (§7, class 2)
// something concrete to exhaust, and to give the destruction queue's
// two-phase teardown a page to free.
type pagePool struct {
	mu        sync.Mutex
	available int
}

func newPagePool(n int) *pagePool {
	if n <= 0 {
		n = defaultPageCount
	}
	return &pagePool{available: n}
}

// Alloc reserves one page, returning false if the pool is exhausted.
func (p *pagePool) Alloc() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.available <= 0 {
		return false
	}
	p.available--
	return true
}

// Free returns one page to the pool.
func (p *pagePool) Free() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available++
}

// Available reports the current free page count, for introspection.
func (p *pagePool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}
