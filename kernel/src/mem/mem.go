// Package mem implements the physical frame allocator backing the
// page-table walker in vm. The teacher's Physmem_t drove real x86
// hardware: per-CPU free lists indexed by runtime.CPUHint, frames
// discovered by repeatedly calling the patched runtime's
// runtime.Get_phys, and a direct map built by probing cr4/cpuid and
// installing 1GB/2MB PTEs into the live recursive mapping. None of
// that exists here: spec.md §1 excludes SMP, and this kernel runs as
// a simulation over a plain Go byte arena rather than real DRAM. The
// allocator keeps the teacher's refcounted-frame, singly-linked
// free-list design but backs it with one free list (no per-CPU
// sharding) threaded through a []byte arena that stands in for
// physical memory; Dmap casts directly into that arena with
// unsafe.Pointer the same way the teacher's Dmap cast into the live
// recursive map, so writes through a Dmap'd *Pg_t are visible to every
// other holder of the same physical address.
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"oommsg"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

const (
	PTE_P    Pa_t = 1 << 0 /// present
	PTE_W    Pa_t = 1 << 1 /// writable
	PTE_U    Pa_t = 1 << 2 /// user-accessible
	PTE_PCD  Pa_t = 1 << 4 /// cache-disable
	PTE_PS   Pa_t = 1 << 7 /// large page
	PTE_G    Pa_t = 1 << 8 /// global
	PTE_ADDR      = PGMASK
)

/// Pa_t represents a simulated physical address: a byte offset into
/// Physmem's backing arena, always a multiple of PGSIZE for a frame
/// base.
type Pa_t uintptr

/// Pg_t is a page-sized array of words, the unit vm walks page tables
/// with.
type Pg_t [512]int

/// Pmap_t is a page-table page: 512 page-table entries.
type Pmap_t [512]Pa_t

/// Bytepg_t is a page viewed as raw bytes.
type Bytepg_t [PGSIZE]uint8

/// Pg2bytes reinterprets a Pg_t as a Bytepg_t, the same aliasing cast
/// the teacher used to hand callers a byte view of a word page.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg reverses Pg2bytes.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

/// Physpg_t tracks one physical frame's reference count and free-list
/// link.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32
}

const noFrame = ^uint32(0)

/// Physmem_t is the kernel's single frame allocator: a flat arena of
/// nframes fixed-size frames plus a free list threaded through
/// Pgs[i].nexti, exactly as the teacher's per-CPU free lists worked
/// but without the per-CPU sharding single-CPU operation makes
/// unnecessary.
type Physmem_t struct {
	sync.Mutex
	arena   []byte
	Pgs     []Physpg_t
	nframes uint32
	freei   uint32
	freelen int32
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// Zeropg is a zero-filled page used to zero freshly allocated frames.
var Zeropg *Pg_t

/// P_zeropg is the physical address backing Zeropg.
var P_zeropg Pa_t

/// PhysInit builds an arena of nframes simulated physical frames,
/// threading them onto the free list, and reserves frame 0 as the
/// permanent zero page. It replaces the teacher's Phys_init, which
/// instead repeatedly polled runtime.Get_phys to discover real DRAM.
func PhysInit(nframes int) *Physmem_t {
	phys := Physmem
	phys.arena = make([]byte, nframes*PGSIZE)
	phys.Pgs = make([]Physpg_t, nframes)
	phys.nframes = uint32(nframes)
	for i := range phys.Pgs {
		phys.Pgs[i].nexti = uint32(i + 1)
	}
	phys.Pgs[nframes-1].nexti = noFrame
	phys.freei = 0
	phys.freelen = int32(nframes)

	p_pg := phys.frameAddr(0)
	phys.Pgs[0].Refcnt = 1
	phys.freei = phys.Pgs[0].nexti
	phys.freelen--
	Zeropg = phys.Dmap(p_pg)
	P_zeropg = p_pg
	fmt.Printf("mem: reserved %d frames (%dKB)\n", nframes, nframes*PGSIZE/1024)
	return phys
}

func (phys *Physmem_t) frameAddr(idx uint32) Pa_t {
	return Pa_t(idx) << PGSHIFT
}

func (phys *Physmem_t) frameIdx(p Pa_t) uint32 {
	return uint32(p >> PGSHIFT)
}

/// Dmap returns the direct-mapped page for a physical address: an
/// aliased view into the simulated arena, standing in for the
/// teacher's recursive 1GB/2MB direct map over real DRAM.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	idx := phys.frameIdx(p)
	base := int(idx) * PGSIZE
	return (*Pg_t)(unsafe.Pointer(&phys.arena[base]))
}

/// Dmap8 returns a byte slice view of the page at p, offset-adjusted.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	idx := phys.frameIdx(p)
	base := int(idx) * PGSIZE
	off := int(p & PGOFFSET)
	end := (int(idx) + 1) * PGSIZE
	return phys.arena[base+off : end]
}

/// Refcnt returns the current reference count of the frame at p.
func (phys *Physmem_t) Refcnt(p Pa_t) int {
	return int(atomic.LoadInt32(&phys.Pgs[phys.frameIdx(p)].Refcnt))
}

/// Refup increments the reference count of the frame at p.
func (phys *Physmem_t) Refup(p Pa_t) {
	c := atomic.AddInt32(&phys.Pgs[phys.frameIdx(p)].Refcnt, 1)
	if c <= 0 {
		panic("mem: refup of freed frame")
	}
}

/// Refdown decrements the reference count of the frame at p, freeing
/// it to the free list when it reaches zero. It reports whether the
/// frame was freed.
func (phys *Physmem_t) Refdown(p Pa_t) bool {
	idx := phys.frameIdx(p)
	c := atomic.AddInt32(&phys.Pgs[idx].Refcnt, -1)
	if c < 0 {
		panic("mem: refdown below zero")
	}
	if c != 0 {
		return false
	}
	phys.Lock()
	phys.Pgs[idx].nexti = phys.freei
	phys.freei = idx
	phys.freelen++
	phys.Unlock()
	return true
}

/// RefpgNew allocates and zeroes a fresh frame. Its refcount starts at
/// zero; the caller Refups it once the frame is placed somewhere.
func (phys *Physmem_t) RefpgNew() (*Pg_t, Pa_t, bool) {
	pg, p, ok := phys.RefpgNewNozero()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p, true
}

/// RefpgNewNozero allocates a fresh frame without zeroing it.
func (phys *Physmem_t) RefpgNewNozero() (*Pg_t, Pa_t, bool) {
	phys.Lock()
	idx := phys.freei
	if idx == noFrame {
		phys.Unlock()
		oommsg.Notify(1)
		return nil, 0, false
	}
	phys.freei = phys.Pgs[idx].nexti
	phys.freelen--
	phys.Pgs[idx].Refcnt = 0
	phys.Unlock()
	p := phys.frameAddr(idx)
	return phys.Dmap(p), p, true
}

/// PmapNew allocates a fresh zeroed page-table page.
func (phys *Physmem_t) PmapNew() (*Pmap_t, Pa_t, bool) {
	pg, p, ok := phys.RefpgNew()
	if !ok {
		return nil, 0, false
	}
	return pg2pmap(pg), p, true
}

/// Free reports how many frames remain on the free list, for
/// diagnostics and the out-of-memory notification threshold.
func (phys *Physmem_t) Free() int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen)
}

/// Total reports the arena's fixed frame capacity.
func (phys *Physmem_t) Total() int {
	return int(phys.nframes)
}

/// String renders a short allocator status line, used by boot's
/// console banner.
func (phys *Physmem_t) String() string {
	return fmt.Sprintf("frames: %d/%d free", phys.Free(), phys.Total())
}
