// Package msi tracks a pool of available interrupt vectors a caller
// can draw from without picking a literal vector number itself. The
// teacher used this exact shape (Msivec_t/Msivecs_t) to hand out PCI
// message-signaled-interrupt vectors from a small fixed range; this
// kernel has no PCI bus, but the interrupt table needs the identical
// pattern to hand out software vectors to callers that just need "any
// free one" (intr.AllocSoft) -- so the allocator is
// generalized to an arbitrary [lo, hi] vector range instead of the
// eight fixed MSI slots.
package msi

import "sync"

/// Vector_t identifies an interrupt vector (0..255).
type Vector_t uint

/// Pool_t hands out vectors from a fixed range on request.
type Pool_t struct {
	sync.Mutex
	avail map[Vector_t]bool
}

/// NewPool returns a pool containing every vector in [lo, hi]
/// inclusive.
func NewPool(lo, hi Vector_t) *Pool_t {
	p := &Pool_t{avail: make(map[Vector_t]bool, hi-lo+1)}
	for v := lo; v <= hi; v++ {
		p.avail[v] = true
	}
	return p
}

/// Alloc removes and returns an available vector. It returns false if
/// the pool is exhausted instead of panicking: exhaustion of a soft
/// vector range is a normal, locally-handled condition (spec.md §7),
/// not a fatal one.
func (p *Pool_t) Alloc() (Vector_t, bool) {
	p.Lock()
	defer p.Unlock()
	for v := range p.avail {
		delete(p.avail, v)
		return v, true
	}
	return 0, false
}

/// Free returns vector to the pool. It panics on a double free, which
/// indicates a caller bug rather than a recoverable runtime condition.
func (p *Pool_t) Free(vector Vector_t) {
	p.Lock()
	defer p.Unlock()
	if p.avail[vector] {
		panic("msi: double free of vector")
	}
	p.avail[vector] = true
}
