// Package accnt accumulates the per-process timing fields spec.md §3
// calls out for the PCB: creation time, total runtime, last-quantum
// runtime, and the last-scheduled timestamp. It is a direct descendant
// of the teacher's accnt.Accnt_t (which accumulated Userns/Sysns for a
// POSIX rusage), adapted away from rusage export -- this kernel has no
// user-visible rusage syscall -- and generalized to the four fields
// the resonant scheduler and process table both read.
package accnt

import (
	"sync/atomic"

	"defs"
)

/// Accnt_t accumulates the timing fields of a single PCB. All counters
/// are nanoseconds. Every field is read and written atomically so a
/// concurrent Snapshot never tears a read.
type Accnt_t struct {
	/// CreationTime is stamped once, when the PCB transitions out of
	/// unused.
	CreationTime uint64
	/// TotalRuntime accumulates every quantum this process has run.
	TotalRuntime uint64
	/// LastQuantumRuntime holds the duration of the most recently
	/// completed quantum.
	LastQuantumRuntime uint64
	/// LastScheduled is the timestamp of the most recent switch_to.
	LastScheduled uint64
}

/// Init stamps CreationTime and zeroes the runtime counters. Called
/// once when a process table slot transitions from unused to created.
func (a *Accnt_t) Init() {
	atomic.StoreUint64(&a.CreationTime, defs.Now())
	atomic.StoreUint64(&a.TotalRuntime, 0)
	atomic.StoreUint64(&a.LastQuantumRuntime, 0)
	atomic.StoreUint64(&a.LastScheduled, 0)
}

/// MarkScheduled records the instant switch_to loaded this PCB.
func (a *Accnt_t) MarkScheduled(now uint64) {
	atomic.StoreUint64(&a.LastScheduled, now)
}

/// ChargeQuantum adds actualNs to TotalRuntime and records it as the
/// last quantum's runtime. Called from proc.SwitchTo on the outgoing
/// PCB.
func (a *Accnt_t) ChargeQuantum(actualNs uint64) {
	atomic.StoreUint64(&a.LastQuantumRuntime, actualNs)
	atomic.AddUint64(&a.TotalRuntime, actualNs)
}

/// Snapshot returns a consistent copy of the four fields for
/// diagnostics export.
func (a *Accnt_t) Snapshot() Accnt_t {
	return Accnt_t{
		CreationTime:       atomic.LoadUint64(&a.CreationTime),
		TotalRuntime:       atomic.LoadUint64(&a.TotalRuntime),
		LastQuantumRuntime: atomic.LoadUint64(&a.LastQuantumRuntime),
		LastScheduled:      atomic.LoadUint64(&a.LastScheduled),
	}
}
