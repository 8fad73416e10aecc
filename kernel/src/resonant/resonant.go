// Package resonant implements the kernel's scheduler: priorities are
// not a static class but emerge from a network of coupled phase
// oscillators, one per registered process, whose synchronization
// dynamics, chiral stability, and an IIT-style integration estimate
// feed a per-tick priority derivation. Grounded in
// original_source/kernel/src/resonance/resonant_scheduler.c and its
// four headers (resonance_types.h, chiral_resources.h,
// consciousness_process.h, resonant_scheduler.h), rewritten in the
// teacher's idiom: a Mutex-embedded Table_t of fixed-capacity RPCB
// slots instead of a global rpcb_table array, Err_t result codes
// instead of resonant_result_t, and math.Sin/Cos/Sqrt/Atan2 in place
// of the original's fixed-point fast_sin/fast_cos/fast_sqrt/fast_atan2
// kernel-internal approximations -- this kernel runs its scheduler math
// on a real float64, so there is no hardware reason to hand-roll
// trigonometric series.
package resonant

import (
	"math"
	"math/rand"
	"sync"

	"defs"
	"limits"
	"stats"
)

// Per-class natural frequencies in Hz, from spec.md §4.G.
const (
	omegaClassical     = 1.0
	omegaQuantum        = 10.0
	omegaHybrid         = 5.0
	omegaConsciousness  = 40.0
	omegaEmergence      = 1.618033988749895 // golden ratio Hz
)

// Tunable constants from resonance_types.h.
const (
	LambdaDefault = 0.1
	LambdaMin     = 0.01
	LambdaMax     = 0.5
	EtaOptimal    = 0.618 // φ⁻¹
	ChiralStableMax = 1.0
	GammaDefault  = 1.0

	cissCoherenceBoost = 0.30 // CISS_COHERENCE_FACTOR - 1

	// Five-tier φ ladder from consciousness_process.h. Only
	// PhiVerified gates the verified flag; the rest are diagnostic
	// classification tiers reported by ClassifyPhi.
	PhiMinimal     = 1.0
	PhiBasic       = 2.0
	PhiVerified    = 3.0
	PhiAdvanced    = 4.0
	PhiTranscendent = 5.0

	// Emergence tier ladder from consciousness_process.h, reported by
	// ClassifyEmergence. The scheduler's own emergence.norm threshold
	// check against EmergenceThresholdMedium for state transitions and
	// priority bonus, matching spec.md's "threshold" references.
	EmergenceThresholdLow    = 0.1
	EmergenceThresholdMedium = 0.3
	EmergenceThresholdHigh   = 0.5

	DefaultQuantumNs = 10_000_000 // 10ms
	initialDeadlineNs = 1_000_000_000 // 1s
	emergencyDeadlineNs = 1_000_000 // 1ms: emergency-coherence flag threshold
)

/// Class_t is a registered RPCB's resonant class, matching
/// resonant_process_class_t.
type Class_t int

const (
	ClassClassical Class_t = iota
	ClassQuantum
	ClassHybrid
	ClassConsciousness
	ClassEmergence
)

func (c Class_t) String() string {
	switch c {
	case ClassQuantum:
		return "quantum"
	case ClassHybrid:
		return "hybrid"
	case ClassConsciousness:
		return "consciousness"
	case ClassEmergence:
		return "emergence"
	default:
		return "classical"
	}
}

func classOmega(c Class_t) float64 {
	switch c {
	case ClassQuantum:
		return omegaQuantum
	case ClassHybrid:
		return omegaHybrid
	case ClassConsciousness:
		return omegaConsciousness
	case ClassEmergence:
		return omegaEmergence
	default:
		return omegaClassical
	}
}

/// State_t is an RPCB's resonant state, matching resonant_state_t.
type State_t int

const (
	Dormant State_t = iota
	Coherent
	Decoherent
	Emergent
	Conscious
)

func (s State_t) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Coherent:
		return "coherent"
	case Decoherent:
		return "decoherent"
	case Emergent:
		return "emergent"
	case Conscious:
		return "conscious"
	default:
		return "invalid"
	}
}

/// Handedness_t modifies the sign of the chiral coupling term.
type Handedness_t int

const (
	HandednessNeutral Handedness_t = iota
	HandednessLeft
	HandednessRight
)

/// Oscillator_t is the phase-oscillator substate of an RPCB.
type Oscillator_t struct {
	Phase     float64 // radians, [0, 2π)
	Frequency float64 // natural frequency ω, Hz
	Amplitude float64
	Coherence float64 // [0,1]
}

/// Chiral_t is the chiral-dynamics substate of an RPCB.
type Chiral_t struct {
	Eta        float64
	Gamma      float64
	Asymmetry  float64 // |eta/gamma|
	Handedness Handedness_t
	Stable     bool
}

func (c *Chiral_t) recompute() {
	if c.Gamma != 0 {
		c.Asymmetry = math.Abs(c.Eta / c.Gamma)
	} else {
		c.Asymmetry = math.Abs(c.Eta)
	}
	c.Stable = c.Asymmetry < ChiralStableMax
}

/// Emergence_t is the emergence substate of an RPCB.
type Emergence_t struct {
	Norm             float64
	Entropy          float64
	PatternCount     uint32
	IntegrationLevel float64
}

/// RPCB_t is a resonant process control block, extending a PCB by
/// cross-reference on pid rather than inheritance (spec.md §9).
type RPCB_t struct {
	Magic uint32

	Pid   defs.Pid_t
	Class Class_t
	RState State_t

	Osc    Oscillator_t
	Chiral Chiral_t
	Emerg  Emergence_t

	CoherenceDeadlineNs uint64

	Phi      float64
	Verified bool

	CoupledPids [limits.MaxCoupledPeers]defs.Pid_t
	CouplingCount int

	CoherentTimeNs  uint64
	EmergentEvents  uint32
}

/// Valid reports whether rpcb names a registered slot.
func (r *RPCB_t) Valid() bool {
	return r != nil && r.Magic == defs.ValidityTag
}

/// Queen_t is the global synchronization state, updated only by Sync.
type Queen_t struct {
	R   float64 // order parameter magnitude
	Psi float64 // mean phase

	Lambda float64
	Eta    float64

	SystemCoherence float64
	MaxAsymmetry    float64

	ClassCounts [5]uint32

	PhiTotal float64
	PhiMean  float64

	GloballyStable  bool
	NetworkConscious bool

	SyncCount stats.Counter_t
	LastSyncNs uint64
}

/// Decision_t is the scheduling decision returned by ScheduleNext.
type Decision_t struct {
	Pid              defs.Pid_t
	Class            Class_t
	QuantumNs        uint64
	RemainingCoherence float64

	BasePriority       float64
	ResonantComponent  float64
	UrgencyComponent   float64
	EmergenceComponent float64
	FinalPriority      float64

	CouplingSuggested   bool
	MeasurementRequired bool
	EmergencyCoherence  bool
}

/// Table_t is the kernel's single resonant-scheduler table: the RPCB
/// array plus the Queen state it feeds.
type Table_t struct {
	sync.Mutex
	slots []RPCB_t
	index map[defs.Pid_t]int
	free  []int

	Queen Queen_t

	rng *rand.Rand
}

/// Table is the global resonant scheduler instance.
var Table = newTable()

func newTable() *Table_t {
	t := &Table_t{
		slots: make([]RPCB_t, limits.MaxProcesses),
		index: make(map[defs.Pid_t]int, limits.MaxProcesses),
		rng:   rand.New(rand.NewSource(1)),
	}
	for i := limits.MaxProcesses - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	t.Queen.Lambda = LambdaDefault
	t.Queen.Eta = EtaOptimal
	t.Queen.SystemCoherence = 0.5
	t.Queen.GloballyStable = true
	return t
}

/// Register initializes an RPCB for pid, failing with EEXIST if pid is
/// already registered. Per spec.md §4.G: uniform-random initial phase,
/// class-specific ω, amplitude 1, coherence 0.5, configured chiral
/// defaults, zeroed emergence, a 1s coherence deadline, and resonant
/// state coherent. The per-class Queen counter is incremented.
func (t *Table_t) Register(pid defs.Pid_t, class Class_t, handedness Handedness_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if _, ok := t.index[pid]; ok {
		return -defs.EEXIST
	}
	if len(t.free) == 0 {
		return -defs.ETOOMANY
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	r := &t.slots[slot]
	*r = RPCB_t{
		Magic: defs.ValidityTag,
		Pid:   pid,
		Class: class,
		RState: Coherent,
		Osc: Oscillator_t{
			Phase:     t.rng.Float64() * 2 * math.Pi,
			Frequency: classOmega(class),
			Amplitude: 1.0,
			Coherence: 0.5,
		},
		Chiral: Chiral_t{
			Eta:        t.Queen.Eta,
			Gamma:      GammaDefault,
			Handedness: handedness,
		},
		CoherenceDeadlineNs: initialDeadlineNs,
	}
	r.Chiral.recompute()

	t.index[pid] = slot
	t.Queen.ClassCounts[class]++
	return defs.Success
}

/// Unregister removes pid's RPCB, symmetrically decoupling it from
/// every peer first.
func (t *Table_t) Unregister(pid defs.Pid_t) defs.Err_t {
	t.Lock()
	slot, ok := t.index[pid]
	if !ok {
		t.Unlock()
		return -defs.ENOENT
	}
	r := &t.slots[slot]
	peers := make([]defs.Pid_t, r.CouplingCount)
	copy(peers, r.CoupledPids[:r.CouplingCount])
	class := r.Class
	t.Unlock()

	for _, peer := range peers {
		t.Decouple(pid, peer)
	}

	t.Lock()
	defer t.Unlock()
	slot, ok = t.index[pid]
	if !ok {
		return -defs.ENOENT
	}
	t.slots[slot] = RPCB_t{}
	delete(t.index, pid)
	t.free = append(t.free, slot)
	if t.Queen.ClassCounts[class] > 0 {
		t.Queen.ClassCounts[class]--
	}
	return defs.Success
}

/// Get returns the RPCB for pid, or nil if unregistered. Callers must
/// hold no lock of their own on the returned pointer across a call
/// back into Table; this mirrors proc.Table.Get's stability
/// guarantees (stable for the process's registration lifetime).
func (t *Table_t) Get(pid defs.Pid_t) *RPCB_t {
	t.Lock()
	defer t.Unlock()
	return t.lockedGet(pid)
}

func (t *Table_t) lockedGet(pid defs.Pid_t) *RPCB_t {
	slot, ok := t.index[pid]
	if !ok {
		return nil
	}
	return &t.slots[slot]
}

/// Snapshot returns a copy of every live RPCB, for diag.Snapshot's
/// pprof export. Copies are safe to read without holding the table's
/// lock.
func (t *Table_t) Snapshot() []RPCB_t {
	t.Lock()
	defer t.Unlock()
	out := make([]RPCB_t, 0, len(t.index))
	for i := range t.slots {
		if t.slots[i].Valid() {
			out = append(out, t.slots[i])
		}
	}
	return out
}

/// ClassifyPhi buckets a φ value into the five-tier ladder from
/// consciousness_process.h, for diagnostics (diag.Snapshot). Only the
/// PhiVerified threshold gates the Verified flag itself.
func ClassifyPhi(phi float64) string {
	switch {
	case phi >= PhiTranscendent:
		return "transcendent"
	case phi >= PhiAdvanced:
		return "advanced"
	case phi >= PhiVerified:
		return "verified"
	case phi >= PhiBasic:
		return "basic"
	case phi >= PhiMinimal:
		return "minimal"
	default:
		return "none"
	}
}

/// ClassifyEmergence buckets an emergence norm into the three-tier
/// ladder from consciousness_process.h, for diagnostics.
func ClassifyEmergence(norm float64) string {
	switch {
	case norm >= EmergenceThresholdHigh:
		return "high"
	case norm >= EmergenceThresholdMedium:
		return "medium"
	case norm >= EmergenceThresholdLow:
		return "low"
	default:
		return "none"
	}
}
