// Package vm implements the per-process page-table walker. The
// teacher's as.go built a full demand-paging address space: COW
// anonymous regions, shared and private file mappings, a vmregion
// interval tree, page-fault-driven allocation, and cross-CPU TLB
// shootdown. spec.md §1 excludes demand paging and SMP, and this
// kernel has no file-backed memory (no filesystem module), so this
// package keeps only what the spec's VMM module needs: an explicit
// map_page/unmap_page/translate interface over a 4-level page table,
// grounded in the teacher's Pmap_t/PTE_* layout and its
// Lock_pmap/Unlock_pmap/Lockassert_pmap locking discipline.
package vm

import (
	"sync"
	"unsafe"

	"defs"
	"mem"
)

const PGSIZE = mem.PGSIZE
const PGSHIFT = mem.PGSHIFT
const PGOFFSET = mem.PGOFFSET

const (
	PTE_P    = mem.PTE_P
	PTE_W    = mem.PTE_W
	PTE_U    = mem.PTE_U
	PTE_PCD  = mem.PTE_PCD
	PTE_PS   = mem.PTE_PS
	PTE_G    = mem.PTE_G
	PTE_ADDR = mem.PTE_ADDR
)

/// Vm_t represents a process address space: one 4-level page table
/// rooted at Pmap/P_pmap. The mutex protects every walk and mapping
/// change, exactly as the teacher's Lock_pmap/Unlock_pmap pair did.
type Vm_t struct {
	sync.Mutex

	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	pgfltaken bool
}

/// NewVm_t allocates a fresh, empty address space with a zeroed root
/// page table.
func NewVm_t() (*Vm_t, defs.Err_t) {
	pmap, p_pmap, ok := mem.Physmem.PmapNew()
	if !ok {
		return nil, -defs.ENOMEM
	}
	mem.Physmem.Refup(p_pmap)
	return &Vm_t{Pmap: pmap, P_pmap: p_pmap}, defs.Success
}

/// Lock_pmap acquires the address space mutex.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space mutex.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vm: pmap lock must be held")
	}
}

func pgbits(va int) (uint, uint, uint, uint) {
	v := uint(va)
	idx := func(shift uint) uint {
		return (v >> shift) & 0x1ff
	}
	return idx(39), idx(30), idx(21), idx(12)
}

/// pmap_walk descends the 4-level page table for va, allocating
/// intermediate levels on demand when create is true. It returns a
/// pointer to the leaf PTE.
func pmap_walk(pml4 *mem.Pmap_t, va int, create bool) (*mem.Pa_t, defs.Err_t) {
	l4i, l3i, l2i, l1i := pgbits(va)
	cur := pml4
	for _, idx := range []uint{l4i, l3i, l2i} {
		e := &cur[idx]
		if *e&PTE_P == 0 {
			if !create {
				return nil, -defs.EFAULT
			}
			child, p_child, ok := mem.Physmem.PmapNew()
			if !ok {
				return nil, -defs.ENOMEM
			}
			mem.Physmem.Refup(p_child)
			*e = p_child | PTE_P | PTE_W | PTE_U
			cur = child
		} else {
			cur = pmapAt(*e & PTE_ADDR)
		}
	}
	return &cur[l1i], defs.Success
}

func pmapAt(p mem.Pa_t) *mem.Pmap_t {
	pg := mem.Physmem.Dmap(p)
	return (*mem.Pmap_t)(unsafe.Pointer(pg))
}

/// MapPage installs a mapping from va to the physical frame p_pg with
/// the given permission bits, taking a reference on the frame. It
/// fails with EALREADYMAPPED if a leaf mapping is already present at
/// va; the caller must UnmapPage first.
func (as *Vm_t) MapPage(va int, p_pg mem.Pa_t, perms mem.Pa_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte, err := pmap_walk(as.Pmap, va, true)
	if err != defs.Success {
		return err
	}
	if *pte&PTE_P != 0 {
		return -defs.EALREADYMAPPED
	}
	mem.Physmem.Refup(p_pg)
	*pte = p_pg | perms | PTE_P
	return defs.Success
}

/// UnmapPage removes the mapping at va, if any, dropping the backing
/// frame's reference. It reports the physical frame that was unmapped.
func (as *Vm_t) UnmapPage(va int) (mem.Pa_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte, err := pmap_walk(as.Pmap, va, false)
	if err != defs.Success {
		return 0, err
	}
	if *pte&PTE_P == 0 {
		return 0, -defs.EFAULT
	}
	p_pg := *pte & PTE_ADDR
	*pte = 0
	mem.Physmem.Refdown(p_pg)
	return p_pg, defs.Success
}

/// Translate resolves va to its backing physical frame and permission
/// bits without modifying the mapping.
func (as *Vm_t) Translate(va int) (mem.Pa_t, mem.Pa_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte, err := pmap_walk(as.Pmap, va, false)
	if err != defs.Success {
		return 0, 0, err
	}
	if *pte&PTE_P == 0 {
		return 0, 0, -defs.EFAULT
	}
	return *pte & PTE_ADDR, *pte &^ PTE_ADDR, defs.Success
}

/// userBytes_inner returns the byte slice within the mapped page at
/// va. The caller must hold the pmap lock. Unlike the teacher's
/// Userdmap8_inner this never triggers a page fault: there is no
/// demand paging, so an unmapped address is simply a fault.
func (as *Vm_t) userBytes_inner(va int, forWrite bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()
	voff := va & int(PGOFFSET)
	pte, err := pmap_walk(as.Pmap, va, false)
	if err != defs.Success {
		return nil, -defs.EFAULT
	}
	if *pte&PTE_P == 0 {
		return nil, -defs.EFAULT
	}
	if forWrite && *pte&PTE_W == 0 {
		return nil, -defs.EPERM
	}
	bpg := mem.Pg2bytes(mem.Physmem.Dmap(*pte & PTE_ADDR))
	return bpg[voff:], defs.Success
}

/// Uvmfree walks every leaf of the page table, dropping the reference
/// on every mapped frame, then releases the root page table itself.
/// It replaces the teacher's Uvmfree/Dec_pmap pair, collapsed into one
/// call since this kernel has no vmregion bookkeeping to clear
/// alongside it.
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	freeLevel(as.Pmap, 3)
	as.Unlock_pmap()
	mem.Physmem.Refdown(as.P_pmap)
}

func freeLevel(pm *mem.Pmap_t, level int) {
	for i, e := range pm {
		if e&PTE_P == 0 {
			continue
		}
		addr := e & PTE_ADDR
		if level > 0 {
			freeLevel(pmapAt(addr), level-1)
			mem.Physmem.Refdown(addr)
		} else {
			mem.Physmem.Refdown(addr)
		}
		pm[i] = 0
	}
}
