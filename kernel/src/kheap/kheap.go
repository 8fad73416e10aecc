// Package kheap provides fixed-block-size pool allocation for kernel
// objects that need a stable integer handle instead of a Go pointer:
// IPC message entries, and any other table the kernel hands out by
// index rather than by reference. The teacher has no standalone
// kernel-heap package (Biscuit leans on the Go runtime's allocator for
// everything), so this package generalizes mem.Physmem_t's technique
// -- a flat arena plus a singly-linked free list threaded through a
// parallel index array -- from page-sized frames to an arbitrary
// fixed block size, the same way msi.Pool_t generalized the teacher's
// 8-slot MSI vector pool to an arbitrary range.
package kheap

import "sync"

const noBlock = ^uint32(0)

/// Pool_t hands out fixed-size byte blocks from a preallocated arena,
/// identified by a uint32 handle rather than a pointer so callers can
/// store them in fixed-capacity kernel tables cheaply.
type Pool_t struct {
	sync.Mutex
	blockSize int
	arena     []byte
	nexti     []uint32
	inUse     []bool
	freei     uint32
	freelen   int32
}

/// NewPool allocates a pool of capacity blocks, each blockSize bytes.
func NewPool(blockSize, capacity int) *Pool_t {
	if blockSize <= 0 || capacity <= 0 {
		panic("kheap: bad pool dimensions")
	}
	p := &Pool_t{
		blockSize: blockSize,
		arena:     make([]byte, blockSize*capacity),
		nexti:     make([]uint32, capacity),
		inUse:     make([]bool, capacity),
		freelen:   int32(capacity),
	}
	for i := range p.nexti {
		p.nexti[i] = uint32(i + 1)
	}
	p.nexti[capacity-1] = noBlock
	return p
}

/// Cap reports the pool's fixed block capacity.
func (p *Pool_t) Cap() int {
	return len(p.nexti)
}

/// Free_count reports how many blocks are currently unallocated.
func (p *Pool_t) Free_count() int {
	p.Lock()
	defer p.Unlock()
	return int(p.freelen)
}

/// Alloc reserves a block and returns its byte view and handle. It
/// reports false when the pool is exhausted.
func (p *Pool_t) Alloc() ([]byte, uint32, bool) {
	p.Lock()
	idx := p.freei
	if idx == noBlock {
		p.Unlock()
		return nil, 0, false
	}
	p.freei = p.nexti[idx]
	p.freelen--
	p.inUse[idx] = true
	p.Unlock()
	blk := p.blockAt(idx)
	for i := range blk {
		blk[i] = 0
	}
	return blk, idx, true
}

/// At returns the byte view for a previously allocated handle.
func (p *Pool_t) At(handle uint32) []byte {
	return p.blockAt(handle)
}

func (p *Pool_t) blockAt(idx uint32) []byte {
	base := int(idx) * p.blockSize
	return p.arena[base : base+p.blockSize]
}

/// Free returns handle to the pool. It panics on a double free, the
/// same caller-bug signal msi.Pool_t raises.
func (p *Pool_t) Free(handle uint32) {
	p.Lock()
	defer p.Unlock()
	if !p.inUse[handle] {
		panic("kheap: double free of block")
	}
	p.inUse[handle] = false
	p.nexti[handle] = p.freei
	p.freei = handle
	p.freelen++
}
