package resonant

import (
	"testing"

	"defs"
	"limits"
	"mem"
	"proc"
)

func init() {
	mem.PhysInit(256)
}

func freshProcess(t *testing.T, priority uint8) defs.Pid_t {
	t.Helper()
	pid, err := proc.Table.Create(proc.Params_t{
		Name:      "p",
		Ptype:     proc.TypeUser,
		Priority:  priority,
		ParentPid: defs.KernelPid,
	})
	if err != defs.Success {
		t.Fatalf("proc.Create: %d", err)
	}
	return pid
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	table := newTable()
	pid := freshProcess(t, proc.PrioNormal)
	if err := table.Register(pid, ClassClassical, HandednessNeutral); err != defs.Success {
		t.Fatalf("first register: %d", err)
	}
	if err := table.Register(pid, ClassClassical, HandednessNeutral); err != -defs.EEXIST {
		t.Fatalf("second register: got %d, want EEXIST", err)
	}
	proc.Table.Destroy(mustZombie(t, pid))
}

func TestCoupleIsSymmetricAndCapped(t *testing.T) {
	table := newTable()
	var pids []defs.Pid_t
	for i := 0; i < limits.MaxCoupledPeers+1; i++ {
		pid := freshProcess(t, proc.PrioNormal)
		pids = append(pids, pid)
		if err := table.Register(pid, ClassClassical, HandednessNeutral); err != defs.Success {
			t.Fatalf("register %d: %d", pid, err)
		}
	}
	hub := pids[0]
	for _, peer := range pids[1 : limits.MaxCoupledPeers+1] {
		if err := table.Couple(hub, peer); err != defs.Success {
			t.Fatalf("couple %d<->%d: %d", hub, peer, err)
		}
	}
	r := table.Get(hub)
	if r.CouplingCount != limits.MaxCoupledPeers {
		t.Fatalf("coupling count = %d, want %d", r.CouplingCount, limits.MaxCoupledPeers)
	}
	// Peer list is full; one more refuses.
	overflow := freshProcess(t, proc.PrioNormal)
	table.Register(overflow, ClassClassical, HandednessNeutral)
	if err := table.Couple(hub, overflow); err != -defs.ECOUPLEFAIL {
		t.Fatalf("couple over capacity = %d, want ECOUPLEFAIL", err)
	}

	// Every edge is symmetric: hub appears in each peer's list.
	for _, peer := range pids[1 : limits.MaxCoupledPeers+1] {
		pr := table.Get(peer)
		if !containsPid(pr.CoupledPids[:pr.CouplingCount], hub) {
			t.Fatalf("peer %d does not list hub %d", peer, hub)
		}
	}

	if err := table.Couple(hub, hub); err != -defs.ECOUPLEFAIL {
		t.Fatalf("couple(a,a) = %d, want ECOUPLEFAIL", err)
	}

	table.Decouple(hub, pids[1])
	rh := table.Get(hub)
	if containsPid(rh.CoupledPids[:rh.CouplingCount], pids[1]) {
		t.Fatalf("decouple left hub still listing peer")
	}
	rp := table.Get(pids[1])
	if containsPid(rp.CoupledPids[:rp.CouplingCount], hub) {
		t.Fatalf("decouple left peer still listing hub")
	}
}

// TestSchedulerTieBreak is S3: two classical processes, equal priority,
// neither coupled, equal deadlines -- the smaller pid wins.
func TestSchedulerTieBreak(t *testing.T) {
	table := newTable()
	p := freshProcess(t, proc.PrioNormal)
	r := freshProcess(t, proc.PrioNormal)
	if p > r {
		p, r = r, p
	}
	table.Register(p, ClassClassical, HandednessNeutral)
	table.Register(r, ClassClassical, HandednessNeutral)

	d, ok := table.ScheduleNext()
	if !ok {
		t.Fatal("schedule_next found nothing ready")
	}
	if d.Pid != p {
		t.Fatalf("schedule_next selected %d, want smaller pid %d", d.Pid, p)
	}
}

// TestCoherenceUrgencyPromotes is S4: a realtime process with a far-off
// deadline beats a normal process with an urgent deadline, because base
// priority dominates the 0.3 urgency ceiling; demoting the realtime
// process flips the winner.
func TestCoherenceUrgencyPromotes(t *testing.T) {
	table := newTable()
	x := freshProcess(t, proc.PrioNormal)
	y := freshProcess(t, proc.PrioRealtime)
	table.Register(x, ClassClassical, HandednessNeutral)
	table.Register(y, ClassClassical, HandednessNeutral)

	rx := table.Get(x)
	rx.CoherenceDeadlineNs = 1_000_000 // 1ms: near decoherence
	ry := table.Get(y)
	ry.CoherenceDeadlineNs = 1_000_000_000 // 1s: comfortable

	d, ok := table.ScheduleNext()
	if !ok || d.Pid != y {
		t.Fatalf("expected realtime Y to win, got pid=%d ok=%v", d.Pid, ok)
	}

	proc.Table.SetState(y, proc.Blocked)
	ypcb := proc.Table.Get(y)
	ypcb.Priority = proc.PrioLow
	proc.Table.SetState(y, proc.Ready)

	d, ok = table.ScheduleNext()
	if !ok || d.Pid != x {
		t.Fatalf("after demotion expected X to win, got pid=%d ok=%v", d.Pid, ok)
	}
}

// TestQueenSynchronization is S5: 4 equal-omega classical RPCBs coupled
// into a ring converge to high order-parameter magnitude under
// repeated Sync calls (Kuramoto synchronization).
func TestQueenSynchronization(t *testing.T) {
	table := newTable()
	table.Queen.Lambda = 0.1

	var pids []defs.Pid_t
	for i := 0; i < 4; i++ {
		pid := freshProcess(t, proc.PrioNormal)
		pids = append(pids, pid)
		table.Register(pid, ClassClassical, HandednessNeutral)
		table.Get(pid).Osc.Frequency = omegaClassical
	}
	for i := range pids {
		table.Couple(pids[i], pids[(i+1)%len(pids)])
	}

	for i := 0; i < 1000; i++ {
		table.Sync(1_000_000) // 1ms
	}

	if table.Queen.R <= 0.9 {
		t.Fatalf("Queen.r = %f after 1000 syncs, want > 0.9", table.Queen.R)
	}
	if table.Queen.SyncCount.Load() != 1000 {
		t.Fatalf("sync_count = %d, want 1000", table.Queen.SyncCount.Load())
	}
}

func TestStabilityFlagMatchesAsymmetry(t *testing.T) {
	table := newTable()
	pid := freshProcess(t, proc.PrioNormal)
	table.Register(pid, ClassClassical, HandednessLeft)
	r := table.Get(pid)

	r.Chiral.Eta = 1.0
	r.Chiral.Gamma = 1.0
	r.Chiral.recompute()
	if r.Chiral.Stable {
		t.Fatal("asymmetry == 1.0 must classify as not stable (strict inequality)")
	}

	r.Chiral.Eta = 0.5
	r.Chiral.recompute()
	if !r.Chiral.Stable {
		t.Fatal("asymmetry == 0.5 must classify as stable")
	}
}

func TestCompleteQuantumForcesDecoherent(t *testing.T) {
	table := newTable()
	pid := freshProcess(t, proc.PrioNormal)
	table.Register(pid, ClassClassical, HandednessNeutral)
	r := table.Get(pid)
	r.CoherenceDeadlineNs = 500

	if err := table.CompleteQuantum(pid, 1000); err != defs.Success {
		t.Fatalf("complete_quantum: %d", err)
	}
	if r.CoherenceDeadlineNs != 0 {
		t.Fatalf("deadline = %d, want floored at 0", r.CoherenceDeadlineNs)
	}
	if r.RState != Decoherent {
		t.Fatalf("state = %v, want Decoherent", r.RState)
	}
}

func TestEmergencyCoherenceRecovers(t *testing.T) {
	table := newTable()
	pid := freshProcess(t, proc.PrioNormal)
	table.Register(pid, ClassClassical, HandednessNeutral)
	r := table.Get(pid)
	r.CoherenceDeadlineNs = 0
	r.RState = Decoherent
	r.Chiral.Eta = 0.0
	r.Chiral.Gamma = 0.01
	r.Chiral.recompute()

	if err := table.EmergencyCoherence(pid); err != defs.Success {
		t.Fatalf("emergency_coherence: %d", err)
	}
	if r.RState != Coherent {
		t.Fatalf("state = %v, want Coherent", r.RState)
	}
	if r.CoherenceDeadlineNs != initialDeadlineNs {
		t.Fatalf("deadline = %d, want %d", r.CoherenceDeadlineNs, initialDeadlineNs)
	}
	if r.Osc.Coherence != 0.7 {
		t.Fatalf("coherence = %f, want 0.7", r.Osc.Coherence)
	}
}

func TestResetProcessIdempotentOnDormant(t *testing.T) {
	table := newTable()
	pid := freshProcess(t, proc.PrioNormal)
	table.Register(pid, ClassClassical, HandednessNeutral)
	r := table.Get(pid)
	r.RState = Dormant

	if err := table.ResetProcess(pid); err != defs.Success {
		t.Fatalf("first reset: %d", err)
	}
	first := *table.Get(pid)
	first.Osc.Phase = 0 // phase is re-randomized; exclude from comparison
	table.Get(pid).RState = Dormant
	if err := table.ResetProcess(pid); err != defs.Success {
		t.Fatalf("second reset: %d", err)
	}
	second := *table.Get(pid)
	second.Osc.Phase = 0
	if first.Emerg != second.Emerg || first.Chiral != second.Chiral || first.CoherenceDeadlineNs != second.CoherenceDeadlineNs {
		t.Fatalf("reset_process not idempotent on dormant RPCB")
	}
}

// mustZombie transitions pid through Ready -> Blocked -> ... is not
// needed for Destroy; Destroy requires Terminated or Zombie, so exit
// the process first.
func mustZombie(t *testing.T, pid defs.Pid_t) defs.Pid_t {
	t.Helper()
	if err := proc.Table.Exit(pid, 0); err != defs.Success {
		t.Fatalf("exit: %d", err)
	}
	return pid
}
