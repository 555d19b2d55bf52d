package region

import (
	"sync"
	"sync/atomic"
)

// Region is a fixed-capacity, reference-counted owner of arenas: a FIFO
// free list of pre-mapped arenas guarded by a mutex,
// self-destructing once its refcount reaches zero and every arena has
// been returned.
//
// All mutations of the free list and the allocated counter happen under
// mu; Acquire/Release never block on the guest.
type Region struct {
	mu      sync.Mutex
	limits  Limits
	free    []*Arena // FIFO: append on Release, pop front on Acquire
	allocated int    // arenas currently held by a caller

	refs atomic.Int32
}

// NewRegion allocates n arenas up front, each a PROT_NONE mapping sized
// per limits. Starts with a refcount of 1.
func NewRegion(n int, limits Limits) (*Region, error) {
	r := &Region{limits: limits}
	r.refs.Store(1)
	r.free = make([]*Arena, 0, n)
	for i := 0; i < n; i++ {
		a, err := NewArena(limits)
		if err != nil {
			for _, existing := range r.free {
				_ = existing.Close()
			}
			return nil, err
		}
		r.free = append(r.free, a)
	}
	return r, nil
}

// Limits returns the region's immutable Limits.
func (r *Region) Limits() Limits { return r.limits }

// Acquire pops a free arena, or returns ErrRegionFull if none remains.
func (r *Region) Acquire() (*Arena, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.free) == 0 {
		return nil, ErrRegionFull
	}
	a := r.free[0]
	r.free = r.free[1:]
	r.allocated++
	return a, nil
}

// Release returns an arena to the free list. If the region's refcount has
// already dropped to zero, Release instead finishes tearing the region
// down once every outstanding arena has come back.
func (r *Region) Release(a *Arena) {
	r.mu.Lock()
	r.allocated--
	destroyed := r.refs.Load() == 0 && r.allocated == 0
	if !destroyed {
		r.free = append(r.free, a)
	}
	free := r.free
	r.mu.Unlock()

	if destroyed {
		// refcount is already zero: the last outstanding arena just came
		// back, so finish the self-destruction IncRef/DecRef started.
		_ = a.Close()
		for _, fa := range free {
			_ = fa.Close()
		}
		r.mu.Lock()
		r.free = nil
		r.mu.Unlock()
	}
}

// IncRef bumps the region's reference count.
func (r *Region) IncRef() { r.refs.Add(1) }

// DecRef drops the region's reference count. If it reaches zero and every
// arena has already been returned, the region destroys itself
// immediately; otherwise destruction happens on the next matching
// Release.
func (r *Region) DecRef() {
	if r.refs.Add(-1) != 0 {
		return
	}
	r.mu.Lock()
	if r.allocated == 0 {
		free := r.free
		r.free = nil
		r.mu.Unlock()
		for _, a := range free {
			_ = a.Close()
		}
		return
	}
	r.mu.Unlock()
}

// UnboundedPool implements the simpler pool lifecycle found alongside
// the region model in lucet-runtime-c's lucet_pool.c: no fixed
// capacity, Acquire always mints a fresh arena, Release tears it down
// immediately rather than recycling it. Both abstractions coexist here,
// with the region model treated as canonical; this type is kept for
// embedders who want lucet_pool.c's unbounded semantics instead.
type UnboundedPool struct {
	limits Limits
	refs   atomic.Int32
}

// NewUnbounded constructs a Region-like allocator with no fixed arena
// count, following lucet_pool.c's create/acquire/release/refcount
// shape.
func NewUnbounded(limits Limits) *UnboundedPool {
	p := &UnboundedPool{limits: limits}
	p.refs.Store(1)
	return p
}

// Acquire allocates a brand new arena; an unbounded pool never reports
// ErrRegionFull.
func (p *UnboundedPool) Acquire() (*Arena, error) {
	return NewArena(p.limits)
}

// Release tears the arena down immediately: an unbounded pool keeps no
// free list to recycle into.
func (p *UnboundedPool) Release(a *Arena) {
	_ = a.Close()
}

// IncRef bumps the pool's reference count.
func (p *UnboundedPool) IncRef() { p.refs.Add(1) }

// DecRef drops the pool's reference count. Since arenas are never
// recycled, there is nothing left to tear down once it reaches zero.
func (p *UnboundedPool) DecRef() { p.refs.Add(-1) }
