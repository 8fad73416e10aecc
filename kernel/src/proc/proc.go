// Package proc implements the kernel's process table: a fixed
// 256-entry array of process control blocks, their lifecycle
// (create/destroy/exit/block/unblock), and the per-priority ready
// lists the resonant scheduler drives. Grounded in
// kernel/include/kernel/process.h from the original implementation --
// the PCB field list, MAX_PROCESSES, the six-level priority scheme,
// and the process_state_t lifecycle -- rewritten in the teacher's
// idiom: Err_t result codes, a Mutex-guarded table struct instead of
// an intrusive next/prev linked list, kstr.Name instead of a raw char
// array, and accnt.Accnt_t for the timing fields the header spread
// across creation_time/runtime_total/runtime_last/last_scheduled.
package proc

import (
	"sync"

	"accnt"
	"defs"
	"kstr"
	"limits"
	"stats"
	"vm"
)

/// State_t mirrors process_state_t: a process slot's lifecycle stage.
type State_t int

const (
	Unused State_t = iota
	Created
	Ready
	Running
	Blocked
	Terminated
	Zombie
)

func (s State_t) String() string {
	switch s {
	case Unused:
		return "unused"
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	case Zombie:
		return "zombie"
	default:
		return "invalid"
	}
}

/// Type_t mirrors process_type_t.
type Type_t int

const (
	TypeKernel Type_t = iota
	TypeUser
	TypeService
	TypeResonant
)

/// Priority levels, matching PRIORITY_IDLE..PRIORITY_KERNEL.
const (
	PrioIdle = iota
	PrioLow
	PrioNormal
	PrioHigh
	PrioRealtime
	PrioKernel
	NumPriorities
)

/// PCB_t is a process control block. Every live pid has exactly one,
/// at Table.slots[pid].
type PCB_t struct {
	Magic uint32

	Pid       defs.Pid_t
	ParentPid defs.Pid_t
	Name      kstr.Name
	Ptype     Type_t
	State     State_t
	Priority  uint8

	Vm *vm.Vm_t

	Accnt accnt.Accnt_t

	MessageQueueID uint32
	PortCount      uint32

	Children []defs.Pid_t

	ExitCode  int32
	HasExited bool

	ResonantAware bool
}

/// Valid reports whether pcb is a live, magic-tagged slot.
func (p *PCB_t) Valid() bool {
	return p != nil && p.Magic == defs.ValidityTag && p.State != Unused
}

/// Table_t is the kernel's single process table.
type Table_t struct {
	sync.Mutex
	slots []PCB_t
	free  []defs.Pid_t
	ready [NumPriorities][]defs.Pid_t
	count int

	ContextSwitches stats.Counter_t
	TotalCreated    stats.Counter_t
}

/// Table is the global process table instance.
var Table = newTable()

func newTable() *Table_t {
	t := &Table_t{slots: make([]PCB_t, limits.MaxProcesses)}
	for i := limits.MaxProcesses - 1; i >= 0; i-- {
		t.free = append(t.free, defs.Pid_t(i))
	}
	return t
}

/// Params_t bundles process_create_params_t's fields relevant once
/// filesystem-backed executables and stack placement are out of
/// scope: a name, type, starting priority, and parent.
type Params_t struct {
	Name      string
	Ptype     Type_t
	Priority  uint8
	ParentPid defs.Pid_t
}

/// Create allocates a PCB, a fresh address space, and links the new
/// process as a child of ParentPid. A ParentPid of KernelPid (pid 0)
/// skips both the parent-exists check and the child-list link.
func (t *Table_t) Create(params Params_t) (defs.Pid_t, defs.Err_t) {
	if int(params.Priority) >= NumPriorities {
		return 0, -defs.EINVAL
	}
	name, err := kstr.New(params.Name)
	if err != defs.Success {
		return 0, err
	}
	t.Lock()
	if params.ParentPid != defs.KernelPid {
		parent := t.lockedLookup(params.ParentPid)
		if parent == nil {
			t.Unlock()
			return 0, -defs.EBADPARENT
		}
	}
	if len(t.free) == 0 {
		t.Unlock()
		return 0, -defs.ETOOMANY
	}
	pid := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.Unlock()

	avm, err := vm.NewVm_t()
	if err != defs.Success {
		t.Lock()
		t.free = append(t.free, pid)
		t.Unlock()
		return 0, err
	}

	t.Lock()
	pcb := &t.slots[pid]
	*pcb = PCB_t{
		Magic:     defs.ValidityTag,
		Pid:       pid,
		ParentPid: params.ParentPid,
		Name:      name,
		Ptype:     params.Ptype,
		State:     Created,
		Priority:  params.Priority,
		Vm:        avm,
	}
	pcb.Accnt.Init()
	t.count++
	t.TotalCreated.Inc()
	t.Unlock()

	if params.ParentPid != defs.KernelPid {
		t.AddChild(params.ParentPid, pid)
	}
	t.SetState(pid, Ready)
	return pid, defs.Success
}

/// Destroy frees a terminated or zombie process's slot and address
/// space. It is the Go analogue of process_destroy.
func (t *Table_t) Destroy(pid defs.Pid_t) defs.Err_t {
	t.Lock()
	pcb := t.lockedLookup(pid)
	if pcb == nil {
		t.Unlock()
		return -defs.ENOENT
	}
	if pcb.State != Terminated && pcb.State != Zombie {
		t.Unlock()
		return -defs.EINVAL
	}
	parent := pcb.ParentPid
	avm := pcb.Vm
	t.removeFromReadyLocked(pid)
	*pcb = PCB_t{}
	t.free = append(t.free, pid)
	t.count--
	t.Unlock()

	if avm != nil {
		avm.Uvmfree()
	}
	if parent != defs.KernelPid {
		t.RemoveChild(parent, pid)
	}
	return defs.Success
}

/// Exit marks pid as exited with the given code and transitions it to
/// Zombie, awaiting a parent's Destroy.
func (t *Table_t) Exit(pid defs.Pid_t, code int32) defs.Err_t {
	t.Lock()
	pcb := t.lockedLookup(pid)
	if pcb == nil {
		t.Unlock()
		return -defs.ENOENT
	}
	pcb.ExitCode = code
	pcb.HasExited = true
	t.Unlock()
	return t.SetState(pid, Zombie)
}

/// SetState transitions pid to newState, maintaining ready-list
/// membership as a side effect: entering Ready enqueues at the tail of
/// its priority level, leaving Ready (or Running) dequeues it.
func (t *Table_t) SetState(pid defs.Pid_t, newState State_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	pcb := t.lockedLookup(pid)
	if pcb == nil {
		return -defs.ENOENT
	}
	if pcb.State == Ready || pcb.State == Running {
		t.removeFromReadyLocked(pid)
	}
	pcb.State = newState
	if newState == Ready {
		lvl := readyLevel(pcb.Priority)
		t.ready[lvl] = append(t.ready[lvl], pid)
	}
	return defs.Success
}

/// GetState reports pid's current lifecycle state.
func (t *Table_t) GetState(pid defs.Pid_t) (State_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	pcb := t.lockedLookup(pid)
	if pcb == nil {
		return Unused, -defs.ENOENT
	}
	return pcb.State, defs.Success
}

/// Block transitions a running or ready process to Blocked.
func (t *Table_t) Block(pid defs.Pid_t) defs.Err_t {
	return t.SetState(pid, Blocked)
}

/// Unblock transitions a blocked process back to Ready.
func (t *Table_t) Unblock(pid defs.Pid_t) defs.Err_t {
	t.Lock()
	pcb := t.lockedLookup(pid)
	if pcb == nil {
		t.Unlock()
		return -defs.ENOENT
	}
	if pcb.State != Blocked {
		t.Unlock()
		return -defs.EINVAL
	}
	t.Unlock()
	return t.SetState(pid, Ready)
}

func readyLevel(priority uint8) int {
	if int(priority) >= NumPriorities {
		return NumPriorities - 1
	}
	return int(priority)
}

func (t *Table_t) removeFromReadyLocked(pid defs.Pid_t) {
	for lvl := range t.ready {
		q := t.ready[lvl]
		for i, p := range q {
			if p == pid {
				t.ready[lvl] = append(q[:i], q[i+1:]...)
				return
			}
		}
	}
}

func (t *Table_t) lockedLookup(pid defs.Pid_t) *PCB_t {
	if int(pid) < 0 || int(pid) >= len(t.slots) {
		return nil
	}
	pcb := &t.slots[pid]
	if !pcb.Valid() {
		return nil
	}
	return pcb
}

/// Get returns the PCB for pid, or nil if pid names no live process.
/// Callers that only read a handful of fields may do so without
/// locking the table further: the returned pointer is stable for the
/// lifetime of the process slot.
func (t *Table_t) Get(pid defs.Pid_t) *PCB_t {
	t.Lock()
	defer t.Unlock()
	return t.lockedLookup(pid)
}

/// NextReady peeks the highest-priority non-empty ready queue's head
/// pid without dequeuing it. The resonant scheduler consults this as
/// one input to its coupling-aware decision, per
/// process_get_next_ready.
func (t *Table_t) NextReady() (defs.Pid_t, bool) {
	t.Lock()
	defer t.Unlock()
	for lvl := NumPriorities - 1; lvl >= 0; lvl-- {
		if len(t.ready[lvl]) > 0 {
			return t.ready[lvl][0], true
		}
	}
	return 0, false
}

/// SwitchTo marks pid Running, demoting the previously running process
/// (if any) back to Ready, and charges the context-switch counter.
/// This is the bookkeeping half of process_switch_to; the resonant
/// scheduler decides which pid to pass in.
func (t *Table_t) SwitchTo(pid defs.Pid_t, now uint64) defs.Err_t {
	t.Lock()
	pcb := t.lockedLookup(pid)
	if pcb == nil {
		t.Unlock()
		return -defs.ENOENT
	}
	if pcb.State != Ready && pcb.State != Running {
		t.Unlock()
		return -defs.EINVAL
	}
	var prev *PCB_t
	for i := range t.slots {
		if t.slots[i].Valid() && t.slots[i].State == Running && t.slots[i].Pid != pid {
			prev = &t.slots[i]
			break
		}
	}
	if prev != nil {
		prev.Accnt.ChargeQuantum(defs.SatSub(now, prev.Accnt.LastScheduled))
	}
	if pcb.State == Ready {
		t.removeFromReadyLocked(pid)
	}
	pcb.State = Running
	pcb.Accnt.MarkScheduled(now)
	t.ContextSwitches.Inc()
	t.Unlock()

	if prev != nil {
		t.SetState(prev.Pid, Ready)
	}
	return defs.Success
}

/// AddChild records childPid as a child of parentPid.
func (t *Table_t) AddChild(parentPid, childPid defs.Pid_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	parent := t.lockedLookup(parentPid)
	if parent == nil {
		return -defs.ENOENT
	}
	if len(parent.Children) >= limits.MaxChildren {
		return -defs.ETOOMANY
	}
	parent.Children = append(parent.Children, childPid)
	return defs.Success
}

/// RemoveChild drops childPid from parentPid's child list.
func (t *Table_t) RemoveChild(parentPid, childPid defs.Pid_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	parent := t.lockedLookup(parentPid)
	if parent == nil {
		return -defs.ENOENT
	}
	for i, c := range parent.Children {
		if c == childPid {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return defs.Success
		}
	}
	return -defs.ENOENT
}

/// GetParent returns pid's parent, or KernelPid if pid is invalid.
func (t *Table_t) GetParent(pid defs.Pid_t) defs.Pid_t {
	t.Lock()
	defer t.Unlock()
	pcb := t.lockedLookup(pid)
	if pcb == nil {
		return defs.KernelPid
	}
	return pcb.ParentPid
}

/// Count reports the number of live processes.
func (t *Table_t) Count() int {
	t.Lock()
	defer t.Unlock()
	return t.count
}

/// IsValid, IsReady, IsRunning, and IsTerminated mirror the original's
/// process_is_* predicates.
func (t *Table_t) IsValid(pid defs.Pid_t) bool {
	return t.Get(pid) != nil
}

func (t *Table_t) IsReady(pid defs.Pid_t) bool {
	st, err := t.GetState(pid)
	return err == defs.Success && st == Ready
}

func (t *Table_t) IsRunning(pid defs.Pid_t) bool {
	st, err := t.GetState(pid)
	return err == defs.Success && st == Running
}

func (t *Table_t) IsTerminated(pid defs.Pid_t) bool {
	st, err := t.GetState(pid)
	return err == defs.Success && (st == Terminated || st == Zombie)
}
