package kheap

import "testing"

func TestNewPoolRejectsBadDimensions(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-positive pool dimensions")
		}
	}()
	NewPool(0, 4)
}

func TestAllocZeroesBlock(t *testing.T) {
	p := NewPool(16, 4)
	blk, _, ok := p.Alloc()
	if !ok {
		t.Fatal("alloc failed with blocks available")
	}
	blk[0] = 0xff
	p.Free(0)
	blk2, handle, ok := p.Alloc()
	if !ok || handle != 0 {
		t.Fatal("expected the just-freed block to be reused")
	}
	if blk2[0] != 0 {
		t.Fatal("reallocated block was not zeroed")
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := NewPool(8, 2)
	if _, _, ok := p.Alloc(); !ok {
		t.Fatal("first alloc should succeed")
	}
	if _, _, ok := p.Alloc(); !ok {
		t.Fatal("second alloc should succeed")
	}
	if _, _, ok := p.Alloc(); ok {
		t.Fatal("third alloc should fail, pool has capacity 2")
	}
	if p.Free_count() != 0 {
		t.Fatalf("free_count = %d, want 0", p.Free_count())
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := NewPool(8, 2)
	_, handle, _ := p.Alloc()
	p.Free(handle)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	p.Free(handle)
}

func TestAtViewsSameBlockAsAlloc(t *testing.T) {
	p := NewPool(8, 2)
	blk, handle, _ := p.Alloc()
	blk[3] = 9
	if p.At(handle)[3] != 9 {
		t.Fatal("At did not return a view of the same backing block")
	}
}
