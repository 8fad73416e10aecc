// Package boot sequences the kernel core's subsystem initialization,
// validates the handoff block a bootloader hands the kernel entry
// point, and runs the idle loop that drives the resonant scheduler's
// periodic synchronization. Grounded in
// original_source/kernel/include/kernel/boot.h (the multiboot2 magic,
// boot_state_t init-order enum, boot_panic/boot_log surface), with the
// real firmware-handoff protocol and early serial console themselves
// left as external collaborators per spec.md §1 — this package only
// validates the handoff block's shape and sequences the subsystems
// spec.md §2 actually specifies.
package boot

import (
	"fmt"

	"golang.org/x/text/message"

	"defs"
	"diag"
	"intr"
	"ipc"
	"limits"
	"mem"
	"oommsg"
	"proc"
	"resonant"
)

// Multiboot2Magic is the value a compliant bootloader leaves in the
// handoff register, per boot.h's MULTIBOOT2_MAGIC.
const Multiboot2Magic uint32 = 0x36d76289

/// State_t mirrors boot_state_t: the kernel's init-sequence position.
type State_t int

const (
	StateFirmware State_t = iota
	StateBootloader
	StateKernelEntry
	StateHALInit
	StateMemoryInit
	StateInterruptsInit
	StateCoreServices
	StateUserspace
	StateComplete
)

func (s State_t) String() string {
	switch s {
	case StateFirmware:
		return "firmware"
	case StateBootloader:
		return "bootloader"
	case StateKernelEntry:
		return "kernel-entry"
	case StateHALInit:
		return "hal-init"
	case StateMemoryInit:
		return "memory-init"
	case StateInterruptsInit:
		return "interrupts-init"
	case StateCoreServices:
		return "core-services"
	case StateUserspace:
		return "userspace"
	case StateComplete:
		return "complete"
	default:
		return "invalid"
	}
}

// Compile-time tunables, centralized here in boot.h's boot_config_t
// spirit rather than scattered across subsystem packages.
const (
	FrameCount      = 65536 // simulated physical frames (256MB at 4K pages)
	TimerTickNs     = 1_000_000 // 1ms, matching RESONANT_SYNC_INTERVAL
)

var printer = message.NewPrinter(message.MatchLanguage("en"))

/// HandoffBlock mirrors boot_config_t, trimmed to the fields this
/// kernel's validation and init sequencing actually consult.
type HandoffBlock struct {
	Magic      uint32
	MemorySize uint32
}

/// ValidateHandoff reports whether hb names a handoff block the kernel
/// entry point can trust: the multiboot2 magic must match, and the
/// reported memory must be enough to back at least one frame.
func ValidateHandoff(hb HandoffBlock) bool {
	if hb.Magic != Multiboot2Magic {
		return false
	}
	return hb.MemorySize >= uint32(mem.PGSIZE)
}

/// Panic renders message as a fatal boot-time error and halts. Per
/// spec.md §7, fatal conditions never attempt recovery. Mirrors
/// boot_panic.
func Panic(message string) {
	fmt.Printf("boot panic: %s\n%s\n", message, diag.Callerdump(1))
	panic("boot: " + message)
}

/// Log writes an informational boot-time message, mirroring boot_log.
func Log(format string, args ...interface{}) {
	fmt.Printf("[boot] "+format+"\n", args...)
}

var state = StateFirmware

/// State reports the kernel's current position in the init sequence.
func State() State_t {
	return state
}

/// Init runs the kernel core's subsystem init sequence against hb,
/// panicking (never recovering) on an invalid handoff block. It brings
/// up the frame allocator, interrupt table, process table, IPC core,
/// and resonant scheduler in that order -- each subsystem after
/// mem depends on the one before it -- then registers the kernel and
/// idle pseudo-processes.
func Init(hb HandoffBlock) {
	state = StateBootloader
	if !ValidateHandoff(hb) {
		Panic("invalid handoff block")
	}
	state = StateKernelEntry

	state = StateHALInit
	Log("HAL init (no-op in this simulation)")

	state = StateMemoryInit
	mem.PhysInit(FrameCount)
	Log("frame allocator: %s", mem.Physmem.String())

	state = StateInterruptsInit
	installFaultHandlers()
	Log("interrupt table ready: %d vectors", intr.NumVectors)

	state = StateCoreServices
	bootstrapPseudoProcesses()
	Log("process table, IPC core, and resonant scheduler ready")

	state = StateUserspace
	state = StateComplete
}

func installFaultHandlers() {
	for v := intr.ExceptionBase; v <= intr.ExceptionMax; v++ {
		vector := v
		intr.Table.Register(vector, func(vector int, cs *intr.CPUState_t) {
			Panic(intr.DumpFault(vector, cs))
		})
	}
}

func bootstrapPseudoProcesses() {
	kpid, err := proc.Table.Create(proc.Params_t{
		Name:      "kernel",
		Ptype:     proc.TypeKernel,
		Priority:  proc.PrioKernel,
		ParentPid: defs.KernelPid,
	})
	if err != defs.Success {
		Panic(fmt.Sprintf("cannot create kernel pseudo-process: %d", err))
	}
	if kpid != defs.KernelPid {
		Panic("kernel pseudo-process did not receive pid 0")
	}
	resonant.Table.Register(kpid, resonant.ClassClassical, resonant.HandednessNeutral)
	ipc.Table.ProcessInit(kpid)

	ipid, err := proc.Table.Create(proc.Params_t{
		Name:      "idle",
		Ptype:     proc.TypeKernel,
		Priority:  proc.PrioIdle,
		ParentPid: defs.KernelPid,
	})
	if err != defs.Success {
		Panic(fmt.Sprintf("cannot create idle pseudo-process: %d", err))
	}
	if ipid != defs.IdlePid {
		Panic("idle pseudo-process did not receive pid 1")
	}
	resonant.Table.Register(ipid, resonant.ClassClassical, resonant.HandednessNeutral)
	ipc.Table.ProcessInit(ipid)
}

// DiagnosticsInterval is how many idle ticks pass between pprof
// snapshots of the resonant scheduler; snapshotting every tick would
// flood the console with a profile dump each 1ms.
const DiagnosticsInterval = 1000

var tickCount uint64

/// IdleTick runs one iteration of the idle loop's body: advance the
/// resonant scheduler by one timer tick, drain a pending
/// out-of-memory notice if any, periodically export a diagnostics
/// snapshot, and hand control to whatever schedule_next selects. It is
/// exported as a single step (rather than an infinite loop) so tests
/// and a real timer-interrupt handler can both drive it
/// deterministically.
func IdleTick() {
	defs.Tick(TimerTickNs)
	resonant.Table.Sync(TimerTickNs)

	tickCount++
	if tickCount%DiagnosticsInterval == 0 {
		snap := diag.Snapshot()
		Log("diagnostics snapshot: %d samples, %s", len(snap.Sample), snap.Comments[0])
	}

	select {
	case msg := <-oommsg.Ch:
		Log("frame exhaustion (wanted %d); running emergency coherence recovery", msg.Need)
		drainEmergencyCoherence()
	default:
	}

	d, ok := resonant.Table.ScheduleNext()
	if !ok {
		return
	}
	now := defs.Now()
	if err := proc.Table.SwitchTo(d.Pid, now); err != defs.Success {
		return
	}
	if d.CouplingSuggested {
		Log("pid %d is isolated and coherent; consider coupling it", d.Pid)
	}
	if d.MeasurementRequired {
		Log("pid %d is quantum-class with low coherence; measurement required", d.Pid)
	}
	if d.EmergencyCoherence {
		resonant.Table.EmergencyCoherence(d.Pid)
	}
}

func drainEmergencyCoherence() {
	for pid := defs.Pid_t(0); pid < limits.MaxProcesses; pid++ {
		if r := resonant.Table.Get(pid); r != nil {
			resonant.Table.EmergencyCoherence(pid)
		}
	}
}

/// Banner renders the boot-time identification line, grouping the
/// frame count and tick interval the way a real boot log would.
func Banner() string {
	return printer.Sprintf("resonant microkernel: %d frames, %d ns tick, %d max processes\n",
		FrameCount, TimerTickNs, limits.MaxProcesses)
}
