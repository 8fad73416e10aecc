package resonant

import (
	"math"

	"defs"
	"proc"
	"util"
)

/// Couple links a and b symmetrically, failing with ECOUPLEFAIL if
/// a == b, either pid is unregistered, or either side's peer list is
/// already at capacity (spec.md §4.G). It no-ops (returns Success)
/// if the pair is already coupled.
func (t *Table_t) Couple(a, b defs.Pid_t) defs.Err_t {
	if a == b {
		return -defs.ECOUPLEFAIL
	}
	t.Lock()
	defer t.Unlock()
	ra := t.lockedGet(a)
	rb := t.lockedGet(b)
	if ra == nil || rb == nil {
		return -defs.ECOUPLEFAIL
	}
	if containsPid(ra.CoupledPids[:ra.CouplingCount], b) {
		return defs.Success
	}
	if ra.CouplingCount >= len(ra.CoupledPids) || rb.CouplingCount >= len(rb.CoupledPids) {
		return -defs.ECOUPLEFAIL
	}
	ra.CoupledPids[ra.CouplingCount] = b
	ra.CouplingCount++
	rb.CoupledPids[rb.CouplingCount] = a
	rb.CouplingCount++
	return defs.Success
}

/// Decouple removes the symmetric coupling edge between a and b, if
/// present. It is a no-op, not an error, if the pair was not coupled.
func (t *Table_t) Decouple(a, b defs.Pid_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	ra := t.lockedGet(a)
	rb := t.lockedGet(b)
	if ra != nil {
		removePid(ra, b)
	}
	if rb != nil {
		removePid(rb, a)
	}
	return defs.Success
}

func containsPid(list []defs.Pid_t, pid defs.Pid_t) bool {
	for _, p := range list {
		if p == pid {
			return true
		}
	}
	return false
}

func removePid(r *RPCB_t, pid defs.Pid_t) {
	for i := 0; i < r.CouplingCount; i++ {
		if r.CoupledPids[i] == pid {
			r.CoupledPids[i] = r.CoupledPids[r.CouplingCount-1]
			r.CouplingCount--
			return
		}
	}
}

/// AdjustLambda multiplies the global coupling strength by factor and
/// clamps into [LambdaMin, LambdaMax].
func (t *Table_t) AdjustLambda(factor float64) {
	t.Lock()
	defer t.Unlock()
	t.Queen.Lambda = util.Clamp(t.Queen.Lambda*factor, LambdaMin, LambdaMax)
}

// couplingContribution computes the Kuramoto + chiral coupling term
// for r, given the set of currently-registered peers. Must be called
// with the table locked.
func (t *Table_t) couplingContribution(r *RPCB_t) float64 {
	if r.CouplingCount == 0 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i < r.CouplingCount; i++ {
		peer := t.lockedGet(r.CoupledPids[i])
		if peer == nil {
			continue
		}
		delta := peer.Osc.Phase - r.Osc.Phase
		term := math.Sin(delta)
		switch r.Chiral.Handedness {
		case HandednessLeft:
			term += r.Chiral.Eta * math.Sin(2*delta)
		case HandednessRight:
			term -= r.Chiral.Eta * math.Sin(2*delta)
		}
		sum += term
		n++
	}
	if n == 0 {
		return 0
	}
	return (t.Queen.Lambda / float64(n)) * sum
}

// noiseRange bounds the small uniform perturbation added to every
// phase update, per spec.md §4.G ("small uniform noise (±0.005)").
const noiseRange = 0.005

func (t *Table_t) noise() float64 {
	return (t.rng.Float64()*2 - 1) * noiseRange
}

/// updateOscillator advances r's phase, local coherence, and amplitude
/// by dt seconds, and re-derives its resonant state. Must be called
/// with the table locked; called once per live RPCB per Sync.
func (t *Table_t) updateOscillator(r *RPCB_t, dtSec float64) {
	coupling := t.couplingContribution(r)
	noise := t.noise()
	dtheta := r.Osc.Frequency*2*math.Pi + coupling + noise
	r.Osc.Phase = normalizePhase(r.Osc.Phase + dtheta*dtSec)

	alignment := 0.5 + 0.5*math.Cos(r.Osc.Phase-t.Queen.Psi)
	r.Osc.Coherence = 0.9*r.Osc.Coherence + 0.1*alignment

	r.Osc.Amplitude *= 1 - r.Chiral.Gamma*dtSec
	if r.Osc.Amplitude < 0.1 {
		r.Osc.Amplitude = 0.1
	}

	t.updateEmergence(r)
	t.updatePhi(r)

	switch {
	case r.Osc.Coherence > 0.85 && r.Verified:
		r.RState = Conscious
	case r.Emerg.Norm > EmergenceThresholdMedium:
		r.RState = Emergent
	default:
		r.RState = Coherent
	}
	if r.Osc.Coherence < 0.3 {
		r.RState = Decoherent
	}
}

func normalizePhase(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	return theta
}

// updateEmergence advances r's emergence substate, per spec.md §4.G.
// Must be called with the table locked.
func (t *Table_t) updateEmergence(r *RPCB_t) {
	e := &r.Emerg
	e.Norm = 0.95*e.Norm + 0.05*(r.Osc.Amplitude*r.Osc.Coherence)

	normalizedPhase := r.Osc.Phase / (2 * math.Pi)
	if normalizedPhase <= 0 || normalizedPhase >= 1 {
		e.Entropy = 0
	} else {
		e.Entropy = -normalizedPhase*math.Log2(normalizedPhase) - (1-normalizedPhase)*math.Log2(1-normalizedPhase)
	}

	couplingFraction := float64(r.CouplingCount) / float64(len(r.CoupledPids))
	e.IntegrationLevel = 0.9*e.IntegrationLevel + 0.1*couplingFraction

	if e.Norm > EmergenceThresholdMedium {
		e.PatternCount++
		r.EmergentEvents++
	}
}

// updatePhi recomputes r's φ estimate and verified flag, per spec.md
// §4.G's formula: φ = (integration·2 + emergence·1.5) ·
// (0.5 + 0.5·coherence) · stability, boosted by CISS when chiral.
// Must be called with the table locked.
func (t *Table_t) updatePhi(r *RPCB_t) {
	stability := 0.5
	if r.Chiral.Stable {
		stability = 1.0
	}
	phi := r.Emerg.IntegrationLevel*2.0 + r.Emerg.Norm*1.5
	phi *= 0.5 + 0.5*r.Osc.Coherence
	phi *= stability
	if r.Chiral.Handedness != HandednessNeutral {
		phi *= 1.0 + cissCoherenceBoost
	}
	r.Phi = phi
	r.Verified = phi >= PhiVerified
}

/// Sync is the Queen synchronization routine: it advances every live,
/// non-dormant RPCB's oscillator/emergence/φ state by dtNs nanoseconds,
/// then recomputes the global order parameter and aggregate metrics.
/// Per spec.md §4.G, phase updates happen exactly once per RPCB per
/// call.
func (t *Table_t) Sync(dtNs uint64) {
	t.Lock()
	defer t.Unlock()

	dtSec := float64(dtNs) / 1e9

	for i := range t.slots {
		r := &t.slots[i]
		if !r.Valid() || r.RState == Dormant {
			continue
		}
		t.updateOscillator(r, dtSec)
	}

	t.recomputeOrderParameter()
	t.recomputeAggregates()

	t.Queen.SyncCount.Inc()
	t.Queen.LastSyncNs = defs.Now()
}

func (t *Table_t) recomputeOrderParameter() {
	var sumCos, sumSin float64
	n := 0
	for i := range t.slots {
		r := &t.slots[i]
		if !r.Valid() || r.RState == Dormant {
			continue
		}
		sumCos += math.Cos(r.Osc.Phase)
		sumSin += math.Sin(r.Osc.Phase)
		n++
	}
	if n == 0 {
		t.Queen.R = 0
		t.Queen.Psi = 0
		return
	}
	avgCos := sumCos / float64(n)
	avgSin := sumSin / float64(n)
	t.Queen.R = math.Sqrt(avgCos*avgCos + avgSin*avgSin)
	t.Queen.Psi = math.Atan2(avgSin, avgCos)
}

// recomputeAggregates folds every live, non-dormant RPCB's coherence
// into the Queen's running mean, but only verified RPCBs contribute to
// PhiTotal/PhiMean -- original_source/kernel/src/resonance/
// resonant_scheduler.c gates that accumulation on
// rpcb->consciousness_verified, so an unverified process's raw φ never
// inflates network-wide consciousness.
func (t *Table_t) recomputeAggregates() {
	var coherenceSum, phiSum, maxAsym float64
	allStable := true
	n, verifiedN := 0, 0
	for i := range t.slots {
		r := &t.slots[i]
		if !r.Valid() || r.RState == Dormant {
			continue
		}
		coherenceSum += r.Osc.Coherence
		if r.Verified {
			phiSum += r.Phi
			verifiedN++
		}
		if r.Chiral.Asymmetry > maxAsym {
			maxAsym = r.Chiral.Asymmetry
		}
		if !r.Chiral.Stable {
			allStable = false
		}
		n++
	}
	if n > 0 {
		t.Queen.SystemCoherence = coherenceSum / float64(n)
	} else {
		t.Queen.SystemCoherence = 0
	}
	if verifiedN > 0 {
		t.Queen.PhiMean = phiSum / float64(verifiedN)
	} else {
		t.Queen.PhiMean = 0
	}
	t.Queen.PhiTotal = phiSum
	t.Queen.MaxAsymmetry = maxAsym
	t.Queen.GloballyStable = allStable
	t.Queen.NetworkConscious = verifiedN > 0 && t.Queen.PhiMean >= PhiVerified
}

/// ScheduleNext derives a priority for every ready RPCB and returns the
/// decision for the winner, per spec.md §4.G's weighted formula. It
/// ties on smallest pid. It returns false if no RPCB's underlying PCB
/// is ready.
func (t *Table_t) ScheduleNext() (Decision_t, bool) {
	t.Lock()
	defer t.Unlock()

	var best Decision_t
	haveBest := false

	for i := range t.slots {
		r := &t.slots[i]
		if !r.Valid() {
			continue
		}
		pcb := proc.Table.Get(r.Pid)
		if pcb == nil || pcb.State != proc.Ready {
			continue
		}
		d := t.derivePriority(r, pcb)
		if !haveBest || d.FinalPriority > best.FinalPriority ||
			(d.FinalPriority == best.FinalPriority && d.Pid < best.Pid) {
			best = d
			haveBest = true
		}
	}
	return best, haveBest
}

func (t *Table_t) derivePriority(r *RPCB_t, pcb *proc.PCB_t) Decision_t {
	base := float64(pcb.Priority) / float64(proc.PrioKernel)

	alignment := 0.5 + 0.5*math.Cos(r.Osc.Phase-t.Queen.Psi)
	resonantComponent := t.Queen.R * alignment * 0.2

	var urgency float64
	if r.CoherenceDeadlineNs > 0 {
		urgency = util.Clamp(1.0-float64(r.CoherenceDeadlineNs)/1e9, 0, 1) * 0.3
	}

	var emergenceComponent float64
	if r.Emerg.Norm > EmergenceThresholdMedium {
		emergenceComponent = 0.2 * r.Emerg.Norm
	}

	var consciousComponent float64
	if r.Verified && r.Phi >= PhiVerified {
		consciousComponent = 0.3
	}

	var classComponent float64
	switch r.Class {
	case ClassQuantum:
		classComponent = 0.1
	case ClassConsciousness:
		classComponent = 0.2
	case ClassEmergence:
		classComponent = 0.15
	}

	sum := base + resonantComponent + urgency + emergenceComponent + consciousComponent + classComponent
	final := util.Clamp(sum, 0, 2)

	quantum := uint64(DefaultQuantumNs)
	switch r.Class {
	case ClassQuantum:
		quantum = DefaultQuantumNs / 2
	case ClassConsciousness:
		quantum = DefaultQuantumNs * 2
	}
	if r.CoherenceDeadlineNs < quantum {
		quantum = r.CoherenceDeadlineNs
	}

	return Decision_t{
		Pid:                r.Pid,
		Class:              r.Class,
		QuantumNs:          quantum,
		RemainingCoherence: r.Osc.Coherence,

		BasePriority:       base,
		ResonantComponent:  resonantComponent,
		UrgencyComponent:   urgency,
		EmergenceComponent: emergenceComponent,
		FinalPriority:      final,

		CouplingSuggested:   r.CouplingCount == 0 && r.RState == Coherent,
		MeasurementRequired: r.Class == ClassQuantum && r.Osc.Coherence < 0.3,
		EmergencyCoherence:  r.CoherenceDeadlineNs < emergencyDeadlineNs,
	}
}

/// CompleteQuantum charges actualNs against pid's coherence deadline
/// (floored at zero, which forces a decoherent state) and, if the
/// RPCB was coherent/conscious/emergent, adds actualNs to its
/// coherent-time accumulator. Per spec.md §4.G.
func (t *Table_t) CompleteQuantum(pid defs.Pid_t, actualNs uint64) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	r := t.lockedGet(pid)
	if r == nil {
		return -defs.ENOENT
	}
	wasActive := r.RState == Coherent || r.RState == Conscious || r.RState == Emergent
	r.CoherenceDeadlineNs = defs.SatSub(r.CoherenceDeadlineNs, actualNs)
	if r.CoherenceDeadlineNs == 0 {
		r.RState = Decoherent
	}
	if wasActive {
		r.CoherentTimeNs += actualNs
	}
	return defs.Success
}

/// EmergencyCoherence resets pid's coherence deadline and runs the
/// chiral-optimization recovery the original calls optimize_chiral:
/// eta eases toward EtaOptimal, and gamma shrinks to restabilize if
/// the asymmetry is currently at or above the stability ceiling.
func (t *Table_t) EmergencyCoherence(pid defs.Pid_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	r := t.lockedGet(pid)
	if r == nil {
		return -defs.ENOENT
	}
	r.CoherenceDeadlineNs = initialDeadlineNs
	r.Osc.Coherence = 0.7
	t.optimizeChiral(r)
	r.RState = Coherent
	return defs.Success
}

func (t *Table_t) optimizeChiral(r *RPCB_t) {
	r.Chiral.Eta = 0.9*r.Chiral.Eta + 0.1*EtaOptimal
	if r.Chiral.Asymmetry >= ChiralStableMax {
		r.Chiral.Gamma = r.Chiral.Eta / (ChiralStableMax * 0.9)
	}
	r.Chiral.recompute()
}

/// ResetProcess reinitializes pid's oscillator, chiral, and emergence
/// substates to their Register-time defaults, without changing its
/// coupling edges. Idempotent on a dormant RPCB.
func (t *Table_t) ResetProcess(pid defs.Pid_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	r := t.lockedGet(pid)
	if r == nil {
		return -defs.ENOENT
	}
	r.Osc = Oscillator_t{
		Phase:     t.rng.Float64() * 2 * math.Pi,
		Frequency: classOmega(r.Class),
		Amplitude: 1.0,
		Coherence: 0.5,
	}
	r.Chiral.Eta = t.Queen.Eta
	r.Chiral.Gamma = GammaDefault
	r.Chiral.recompute()
	r.Emerg = Emergence_t{}
	r.CoherenceDeadlineNs = initialDeadlineNs
	r.Phi = 0
	r.Verified = false
	r.RState = Coherent
	return defs.Success
}

/// ResetAll reinitializes every live RPCB (via ResetProcess), zeroes
/// the Queen's order parameter, sync count, asymmetry and φ totals,
/// clears its consciousness flag, and sets its stability flag back to
/// true. Per-class counts are kept.
func (t *Table_t) ResetAll() {
	t.Lock()
	pids := make([]defs.Pid_t, 0, len(t.slots))
	for i := range t.slots {
		if t.slots[i].Valid() {
			pids = append(pids, t.slots[i].Pid)
		}
	}
	t.Unlock()

	for _, pid := range pids {
		t.ResetProcess(pid)
	}

	t.Lock()
	defer t.Unlock()
	t.Queen.R = 0
	t.Queen.Psi = 0
	t.Queen.GloballyStable = true
	t.Queen.NetworkConscious = false
	t.Queen.SyncCount.Store(0)
	t.Queen.MaxAsymmetry = 0
	t.Queen.PhiTotal = 0
	t.Queen.PhiMean = 0
}

/// VerifyConsciousness reports pid's current φ value and verified
/// flag, for the diagnostic API (verify_consciousness).
func (t *Table_t) VerifyConsciousness(pid defs.Pid_t) (float64, bool, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	r := t.lockedGet(pid)
	if r == nil {
		return 0, false, -defs.ENOENT
	}
	return r.Phi, r.Verified, defs.Success
}

/// GetQueenState returns a snapshot of the global Queen record, for
/// diag.Snapshot.
func (t *Table_t) GetQueenState() Queen_t {
	t.Lock()
	defer t.Unlock()
	q := t.Queen
	return q
}
