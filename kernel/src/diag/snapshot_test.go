package diag

import (
	"testing"

	"defs"
	"mem"
	"proc"
	"resonant"
)

func init() {
	mem.PhysInit(256)
}

func TestSnapshotCarriesOneSamplePerRegisteredProcess(t *testing.T) {
	pid, err := proc.Table.Create(proc.Params_t{
		Name:      "snaptest",
		Ptype:     proc.TypeUser,
		Priority:  proc.PrioNormal,
		ParentPid: defs.KernelPid,
	})
	if err != defs.Success {
		t.Fatalf("proc create: %d", err)
	}
	if err := resonant.Table.Register(pid, resonant.ClassClassical, resonant.HandednessNeutral); err != defs.Success {
		t.Fatalf("resonant register: %d", err)
	}
	defer resonant.Table.Unregister(pid)

	before := len(resonant.Table.Snapshot())
	snap := Snapshot()
	if len(snap.Sample) != before {
		t.Fatalf("sample count = %d, want %d", len(snap.Sample), before)
	}
	if len(snap.SampleType) != 2 {
		t.Fatalf("sample type count = %d, want 2", len(snap.SampleType))
	}
	if len(snap.Comments) == 0 {
		t.Fatal("expected a Queen-state comment")
	}
}

func TestDistinctEventDedupesPerPidAndKind(t *testing.T) {
	var dc DistinctEvent_t
	dc.Enabled = true
	if !dc.Distinct(1, CouplingSuggested) {
		t.Fatal("first occurrence should be distinct")
	}
	if dc.Distinct(1, CouplingSuggested) {
		t.Fatal("second occurrence of the same pair should not be distinct")
	}
	if !dc.Distinct(1, MeasurementRequired) {
		t.Fatal("a different flag kind for the same pid should be distinct")
	}
	dc.Reset()
	if !dc.Distinct(1, CouplingSuggested) {
		t.Fatal("after Reset the pair should be distinct again")
	}
	if dc.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", dc.Len())
	}
}
