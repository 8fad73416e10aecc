package intr

import (
	"testing"

	"defs"
)

func TestRegisterRejectsOutOfRangeVector(t *testing.T) {
	tbl := newTable()
	if err := tbl.Register(NumVectors, func(int, *CPUState_t) {}); err != -defs.EINVAL {
		t.Fatalf("err = %d, want -EINVAL", err)
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	tbl := newTable()
	if err := tbl.Register(10, func(int, *CPUState_t) {}); err != defs.Success {
		t.Fatalf("first register: %d", err)
	}
	if err := tbl.Register(10, func(int, *CPUState_t) {}); err != -defs.EEXIST {
		t.Fatalf("err = %d, want -EEXIST", err)
	}
}

func TestDispatchRunsHandlerAndCounts(t *testing.T) {
	tbl := newTable()
	ran := false
	tbl.Register(40, func(vector int, state *CPUState_t) { ran = true })
	if err := tbl.Dispatch(40, &CPUState_t{}); err != defs.Success {
		t.Fatalf("dispatch: %d", err)
	}
	if !ran {
		t.Fatal("handler did not run")
	}
	if tbl.Dispatched.Load() != 1 {
		t.Fatalf("dispatched count = %d, want 1", tbl.Dispatched.Load())
	}
}

func TestDispatchUnregisteredIRQIsHarmless(t *testing.T) {
	tbl := newTable()
	if err := tbl.Dispatch(50, &CPUState_t{}); err != defs.Success {
		t.Fatalf("unregistered IRQ dispatch: err = %d, want Success", err)
	}
}

func TestDispatchUnregisteredExceptionPanics(t *testing.T) {
	tbl := newTable()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on an unhandled exception vector")
		}
	}()
	tbl.Dispatch(14, &CPUState_t{})
}

func TestDisableThenDispatchDropsForIRQButPanicsForException(t *testing.T) {
	tbl := newTable()
	tbl.Register(60, func(int, *CPUState_t) {})
	tbl.Disable(60)
	if err := tbl.Dispatch(60, &CPUState_t{}); err != defs.Success {
		t.Fatalf("disabled IRQ dispatch: err = %d, want Success", err)
	}

	tbl.Register(0, func(int, *CPUState_t) {})
	tbl.Disable(0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on a disabled exception vector")
		}
	}()
	tbl.Dispatch(0, &CPUState_t{})
}

func TestAllocSoftDrawsFromReservedRange(t *testing.T) {
	tbl := newTable()
	v, ok := tbl.AllocSoft()
	if !ok {
		t.Fatal("AllocSoft failed")
	}
	if v < SoftBase || v > SoftMax {
		t.Fatalf("soft vector %d out of [%d,%d]", v, SoftBase, SoftMax)
	}
	tbl.FreeSoft(v)
}

func TestClassifyVector(t *testing.T) {
	cases := []struct {
		v    int
		want Kind
	}{
		{0, KindException},
		{31, KindException},
		{32, KindIRQ},
		{223, KindIRQ},
		{224, KindSoftware},
		{255, KindSoftware},
		{256, KindInvalid},
		{-1, KindInvalid},
	}
	for _, c := range cases {
		if got := ClassifyVector(c.v); got != c.want {
			t.Errorf("ClassifyVector(%d) = %v, want %v", c.v, got, c.want)
		}
	}
}
