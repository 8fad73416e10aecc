package vm

import (
	"testing"

	"defs"
	"mem"
)

func freshPage(t *testing.T) mem.Pa_t {
	t.Helper()
	_, p, ok := mem.Physmem.RefpgNewNozero()
	if !ok {
		t.Fatal("out of simulated frames")
	}
	mem.Physmem.Refup(p)
	return p
}

func TestMapAndTranslate(t *testing.T) {
	mem.PhysInit(64)
	as, err := NewVm_t()
	if err != defs.Success {
		t.Fatalf("NewVm_t: %d", err)
	}
	p := freshPage(t)
	if err := as.MapPage(0x1000, p, PTE_W|PTE_U); err != defs.Success {
		t.Fatalf("MapPage: %d", err)
	}
	got, perms, err := as.Translate(0x1000)
	if err != defs.Success {
		t.Fatalf("Translate: %d", err)
	}
	if got != p {
		t.Fatalf("translated frame = %#x, want %#x", got, p)
	}
	if perms&PTE_W == 0 {
		t.Fatal("expected writable permission bit to survive translation")
	}
}

func TestMapPageRejectsAlreadyMapped(t *testing.T) {
	mem.PhysInit(64)
	as, _ := NewVm_t()
	p1 := freshPage(t)
	p2 := freshPage(t)
	if err := as.MapPage(0x2000, p1, PTE_W); err != defs.Success {
		t.Fatalf("first MapPage: %d", err)
	}
	if err := as.MapPage(0x2000, p2, PTE_W); err != -defs.EALREADYMAPPED {
		t.Fatalf("second MapPage at the same va: err = %d, want -EALREADYMAPPED", err)
	}
}

func TestUnmapThenRemapSucceeds(t *testing.T) {
	mem.PhysInit(64)
	as, _ := NewVm_t()
	p1 := freshPage(t)
	p2 := freshPage(t)
	if err := as.MapPage(0x3000, p1, PTE_W); err != defs.Success {
		t.Fatalf("MapPage: %d", err)
	}
	unmapped, err := as.UnmapPage(0x3000)
	if err != defs.Success {
		t.Fatalf("UnmapPage: %d", err)
	}
	if unmapped != p1 {
		t.Fatalf("unmapped frame = %#x, want %#x", unmapped, p1)
	}
	if err := as.MapPage(0x3000, p2, PTE_W); err != defs.Success {
		t.Fatalf("remap after unmap: %d", err)
	}
}

func TestTranslateUnmappedFaults(t *testing.T) {
	mem.PhysInit(64)
	as, _ := NewVm_t()
	if _, _, err := as.Translate(0x9000); err != -defs.EFAULT {
		t.Fatalf("translate of unmapped va: err = %d, want -EFAULT", err)
	}
}

func TestUnmapUnmappedFaults(t *testing.T) {
	mem.PhysInit(64)
	as, _ := NewVm_t()
	if _, err := as.UnmapPage(0x9000); err != -defs.EFAULT {
		t.Fatalf("unmap of unmapped va: err = %d, want -EFAULT", err)
	}
}
