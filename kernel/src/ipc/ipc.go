// Package ipc implements the kernel's message-passing layer: fixed
// 4096-byte messages, per-process bounded queues drawn from a shared
// entry pool, named ports backed by hashtable's lock-free-read table,
// zero-copy shared memory regions with grant/revoke, and
// bidirectional channels. Grounded in
// kernel/include/kernel/ipc.h and kernel/src/ipc/ipc.c from the
// original implementation: the ipc_message_t header layout,
// IPC_MAX_MESSAGE_SIZE/IPC_MAX_QUEUE_SIZE limits, the port/channel/
// shared-region operation set, and the ipc_result_t error taxonomy,
// rewritten with the teacher's Mutex-guarded-table and Err_t idiom.
package ipc

import (
	"sync"
	"unsafe"

	"defs"
	"hashtable"
	"kheap"
	"kstr"
	"limits"
	"mem"
	"proc"
	"stats"
)

/// MsgFlag bits mirror the original's IPC_MSG_* flags. The
/// circuit-handoff flag is kept for the resonant scheduler's
/// process-to-process coherence handoff (spec's supplemented
/// emergence features); QUANTUM is renamed Coherent since there is no
/// literal quantum circuit here, only the resonance model's state.
type MsgFlag uint32

const (
	MsgNormal       MsgFlag = 0
	MsgUrgent       MsgFlag = 1 << 0
	MsgReply        MsgFlag = 1 << 1
	MsgNotification MsgFlag = 1 << 2
	MsgCoherent     MsgFlag = 1 << 3
	MsgHandoff      MsgFlag = 1 << 4
)

/// Message_t is a fixed-size message: a small header plus up to
/// limits.MaxPayload bytes of payload, matching ipc_message_t's
/// layout.
type Message_t struct {
	Sender    defs.Pid_t
	Receiver  defs.Pid_t
	Flags     MsgFlag
	MsgID     uint32
	ReplyTo   uint32
	Length    uint32
	Timestamp uint64
	Deadline  uint64
	Data      [limits.MaxPayload]byte
}

/// PortState_t mirrors the original's port state enum.
type PortState_t uint8

const (
	PortClosed PortState_t = iota
	PortOpen
	PortListening
)

/// Port_t is a named endpoint processes can send to without knowing
/// the owner's pid.
type Port_t struct {
	ID    uint32
	Owner defs.Pid_t
	Name  kstr.Name
	State PortState_t
}

/// Region_t is a shared memory region backed by real frames from mem,
/// enabling true zero-copy sharing between address spaces once mapped
/// via a Grant_t.
type Region_t struct {
	ID      uint32
	Owner   defs.Pid_t
	Frames  []mem.Pa_t
	Size    int
	Perms   uint32
	Active  bool
	Grants  []Grant_t
}

const (
	ShareRead  = 0x01
	ShareWrite = 0x02
	ShareExec  = 0x04
)

/// Grant_t records a grantee's access to a Region_t.
type Grant_t struct {
	GranteeID defs.Pid_t
	MappedVA  int
	Perms     uint32
	Active    bool
}

/// Queue_t is a process's bounded inbox: a FIFO of handles into the
/// shared entry pool, capped at limits.MaxQueueDepth per
/// IPC_MAX_QUEUE_SIZE.
type Queue_t struct {
	entries []uint32
	dropped stats.Counter_t
	cond    *sync.Cond
}

/// Channel_t is a dedicated bidirectional pipe between two processes.
type Channel_t struct {
	ID       uint32
	A, B     defs.Pid_t
	AtoB     Queue_t
	BtoA     Queue_t
	Active   bool
}

/// Table_t is the kernel's single IPC subsystem instance.
type Table_t struct {
	sync.Mutex
	pool    *kheap.Pool_t
	queues  map[defs.Pid_t]*Queue_t
	ports   map[uint32]*Port_t
	portIDs *hashtable.Hashtable_t
	regions map[uint32]*Region_t
	chans   map[uint32]*Channel_t

	nextPort   uint32
	nextRegion uint32
	nextChan   uint32

	Sent     stats.Counter_t
	Received stats.Counter_t
	Dropped  stats.Counter_t
	NextMsgID stats.Counter_t
}

/// Table is the global IPC instance.
var Table = newTable()

func newTable() *Table_t {
	t := &Table_t{
		pool:    kheap.NewPool(messageSize(), limits.EntryPoolSize),
		queues:  make(map[defs.Pid_t]*Queue_t),
		ports:   make(map[uint32]*Port_t),
		portIDs: hashtable.MkHash(limits.MaxPorts),
		regions: make(map[uint32]*Region_t),
		chans:   make(map[uint32]*Channel_t),
	}
	return t
}

func messageSize() int {
	var m Message_t
	return int(unsafe.Sizeof(m))
}

/// ProcessInit allocates pid's message queue. Called from
/// proc.Table.Create's caller once a new process is ready to receive.
func (t *Table_t) ProcessInit(pid defs.Pid_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if _, ok := t.queues[pid]; ok {
		return -defs.EEXIST
	}
	t.queues[pid] = &Queue_t{cond: sync.NewCond(&t.Mutex)}
	return defs.Success
}

/// ProcessCleanup drops pid's queue, freeing any unconsumed entries
/// back to the pool, and deactivates ports/regions/channels it owned.
func (t *Table_t) ProcessCleanup(pid defs.Pid_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if q, ok := t.queues[pid]; ok {
		for _, h := range q.entries {
			t.pool.Free(h)
		}
		delete(t.queues, pid)
	}
	for id, p := range t.ports {
		if p.Owner == pid {
			t.portIDs.Del(p.Name)
			delete(t.ports, id)
		}
	}
	for id, r := range t.regions {
		if r.Owner == pid {
			for _, f := range r.Frames {
				mem.Physmem.Refdown(f)
			}
			delete(t.regions, id)
		}
	}
	for id, c := range t.chans {
		if c.A == pid || c.B == pid {
			c.Active = false
			delete(t.chans, id)
		}
	}
	return defs.Success
}

func (t *Table_t) enqueue(q *Queue_t, msg *Message_t) defs.Err_t {
	if len(q.entries) >= limits.MaxQueueDepth {
		q.dropped.Inc()
		t.Dropped.Inc()
		return -defs.EFULL
	}
	blk, handle, ok := t.pool.Alloc()
	if !ok {
		return -defs.ENOMEM
	}
	encodeMessage(blk, msg)
	q.entries = append(q.entries, handle)
	q.cond.Broadcast()
	return defs.Success
}

/// Send places msg in receiver's queue, failing with EMSGSIZE if the
/// payload exceeds limits.MaxPayload, EFULL if the queue is at its
/// IPC_MAX_QUEUE_SIZE-equivalent capacity, or ENOENT if receiver has no
/// queue (it does not exist or already exited).
func (t *Table_t) Send(receiver defs.Pid_t, msg Message_t) defs.Err_t {
	if msg.Length > limits.MaxPayload {
		return -defs.EMSGSIZE
	}
	t.Lock()
	defer t.Unlock()
	q, ok := t.queues[receiver]
	if !ok {
		return -defs.ENOENT
	}
	msg.Receiver = receiver
	msg.MsgID = uint32(t.NextMsgID.Inc())
	msg.Timestamp = defs.Now()
	err := t.enqueue(q, &msg)
	if err == defs.Success {
		t.Sent.Inc()
	}
	return err
}

/// Receive dequeues the oldest message addressed to pid. When block is
/// true and the queue is empty it waits until a message arrives.
func (t *Table_t) Receive(pid defs.Pid_t, block bool) (Message_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	q, ok := t.queues[pid]
	if !ok {
		return Message_t{}, -defs.ENOENT
	}
	for len(q.entries) == 0 {
		if !block {
			return Message_t{}, -defs.ETIMEDOUT
		}
		q.cond.Wait()
	}
	handle := q.entries[0]
	q.entries = q.entries[1:]
	var msg Message_t
	decodeMessage(t.pool.At(handle), &msg)
	t.pool.Free(handle)
	t.Received.Inc()
	return msg, defs.Success
}

/// Reply sends reply addressed back to original's sender, tagged with
/// original's message id so the caller's Call can match it.
func (t *Table_t) Reply(original Message_t, reply Message_t) defs.Err_t {
	reply.ReplyTo = original.MsgID
	reply.Flags |= MsgReply
	return t.Send(original.Sender, reply)
}

/// Call sends request to receiver and blocks for a reply whose
/// ReplyTo matches the sent message's id, implementing the original's
/// synchronous call semantics on top of async Send/Receive.
func (t *Table_t) Call(sender, receiver defs.Pid_t, request Message_t) (Message_t, defs.Err_t) {
	request.Sender = sender
	if err := t.Send(receiver, request); err != defs.Success {
		return Message_t{}, err
	}
	t.Lock()
	sentID := t.lastAssignedID()
	t.Unlock()
	for {
		msg, err := t.Receive(sender, true)
		if err != defs.Success {
			return Message_t{}, err
		}
		if msg.ReplyTo == sentID && msg.Sender == receiver {
			return msg, defs.Success
		}
		// not our reply; re-enqueue for the eventual real recipient of
		// this unrelated message is not meaningful in a single-inbox
		// model, so it is dropped and counted.
		t.Lock()
		t.Dropped.Inc()
		t.Unlock()
	}
}

func (t *Table_t) lastAssignedID() uint32 {
	return uint32(t.NextMsgID.Load())
}

/// PortCreate registers a named port owned by pid.
func (t *Table_t) PortCreate(pid defs.Pid_t, name string) (uint32, defs.Err_t) {
	n, err := kstr.New(name)
	if err != defs.Success {
		return 0, err
	}
	t.Lock()
	defer t.Unlock()
	if _, ok := t.portIDs.Get(n); ok {
		return 0, -defs.EEXIST
	}
	if len(t.ports) >= limits.MaxPorts {
		return 0, -defs.ETOOMANY
	}
	t.nextPort++
	id := t.nextPort
	t.ports[id] = &Port_t{ID: id, Owner: pid, Name: n, State: PortOpen}
	t.portIDs.Set(n, id)
	return id, defs.Success
}

/// PortDestroy removes a port.
func (t *Table_t) PortDestroy(portID uint32) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	p, ok := t.ports[portID]
	if !ok {
		return -defs.ENOENT
	}
	t.portIDs.Del(p.Name)
	delete(t.ports, portID)
	return defs.Success
}

/// PortLookup resolves a port name to its id.
func (t *Table_t) PortLookup(name string) (uint32, defs.Err_t) {
	n := kstr.FromBytes([]byte(name))
	v, ok := t.portIDs.Get(n)
	if !ok {
		return 0, -defs.ENOENT
	}
	return v.(uint32), defs.Success
}

/// PortSend delivers msg to the port's owning process.
func (t *Table_t) PortSend(portID uint32, msg Message_t) defs.Err_t {
	t.Lock()
	p, ok := t.ports[portID]
	t.Unlock()
	if !ok {
		return -defs.ENOENT
	}
	return t.Send(p.Owner, msg)
}

/// ShareCreate allocates a shared region backed by ceil(size/PGSIZE)
/// physical frames, owned by pid.
func (t *Table_t) ShareCreate(pid defs.Pid_t, size int) (*Region_t, defs.Err_t) {
	if size <= 0 {
		return nil, -defs.EINVAL
	}
	nframes := (size + mem.PGSIZE - 1) / mem.PGSIZE
	frames := make([]mem.Pa_t, 0, nframes)
	for i := 0; i < nframes; i++ {
		_, p, ok := mem.Physmem.RefpgNew()
		if !ok {
			for _, f := range frames {
				mem.Physmem.Refdown(f)
			}
			return nil, -defs.ENOMEM
		}
		mem.Physmem.Refup(p)
		frames = append(frames, p)
	}
	t.Lock()
	defer t.Unlock()
	if len(t.regions) >= limits.MaxRegions {
		for _, f := range frames {
			mem.Physmem.Refdown(f)
		}
		return nil, -defs.ETOOMANY
	}
	t.nextRegion++
	r := &Region_t{ID: t.nextRegion, Owner: pid, Frames: frames, Size: size, Perms: ShareRead | ShareWrite, Active: true}
	t.regions[r.ID] = r
	return r, defs.Success
}

/// ShareDestroy frees a region. All grants must already be revoked.
func (t *Table_t) ShareDestroy(regionID uint32) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	r, ok := t.regions[regionID]
	if !ok {
		return -defs.ENOENT
	}
	for _, g := range r.Grants {
		if g.Active {
			return -defs.EPERM
		}
	}
	for _, f := range r.Frames {
		mem.Physmem.Refdown(f)
	}
	delete(t.regions, regionID)
	return defs.Success
}

/// ShareGrant grants granteeID access to regionID with perms.
func (t *Table_t) ShareGrant(regionID uint32, granteeID defs.Pid_t, perms uint32) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	r, ok := t.regions[regionID]
	if !ok {
		return -defs.ENOENT
	}
	active := 0
	for i := range r.Grants {
		if !r.Grants[i].Active {
			continue
		}
		if r.Grants[i].GranteeID == granteeID {
			return -defs.EEXIST
		}
		active++
	}
	if active >= limits.MaxGrantsPerRegion {
		return -defs.ETOOMANY
	}
	r.Grants = append(r.Grants, Grant_t{GranteeID: granteeID, Perms: perms & r.Perms, Active: true})
	return defs.Success
}

/// ShareRevoke revokes granteeID's access to regionID.
func (t *Table_t) ShareRevoke(regionID uint32, granteeID defs.Pid_t) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	r, ok := t.regions[regionID]
	if !ok {
		return -defs.ENOENT
	}
	for i := range r.Grants {
		if r.Grants[i].GranteeID == granteeID && r.Grants[i].Active {
			r.Grants[i].Active = false
			return defs.Success
		}
	}
	return -defs.ENOENT
}

/// ShareMap maps a granted region into grantee's address space
/// starting at va, installing a mapping for each backing frame.
func (t *Table_t) ShareMap(regionID uint32, granteeID defs.Pid_t, va int) defs.Err_t {
	t.Lock()
	r, ok := t.regions[regionID]
	if !ok {
		t.Unlock()
		return -defs.ENOENT
	}
	var grant *Grant_t
	for i := range r.Grants {
		if r.Grants[i].GranteeID == granteeID && r.Grants[i].Active {
			grant = &r.Grants[i]
			break
		}
	}
	t.Unlock()
	if grant == nil {
		return -defs.EPERM
	}
	grantee := proc.Table.Get(granteeID)
	if grantee == nil {
		return -defs.ENOENT
	}
	perms := mem.PTE_U
	if grant.Perms&ShareWrite != 0 {
		perms |= mem.PTE_W
	}
	for i, f := range r.Frames {
		if err := grantee.Vm.MapPage(va+i*mem.PGSIZE, f, perms); err != defs.Success {
			return err
		}
	}
	grant.MappedVA = va
	return defs.Success
}

/// ShareUnmap removes a grantee's mapping of regionID without
/// revoking the grant itself.
func (t *Table_t) ShareUnmap(regionID uint32, granteeID defs.Pid_t) defs.Err_t {
	t.Lock()
	r, ok := t.regions[regionID]
	t.Unlock()
	if !ok {
		return -defs.ENOENT
	}
	grantee := proc.Table.Get(granteeID)
	if grantee == nil {
		return -defs.ENOENT
	}
	var grant *Grant_t
	for i := range r.Grants {
		if r.Grants[i].GranteeID == granteeID && r.Grants[i].Active {
			grant = &r.Grants[i]
			break
		}
	}
	if grant == nil {
		return -defs.EPERM
	}
	for i := range r.Frames {
		grantee.Vm.UnmapPage(grant.MappedVA + i*mem.PGSIZE)
	}
	grant.MappedVA = 0
	return defs.Success
}

/// ChannelCreate opens a bidirectional channel between a and b.
func (t *Table_t) ChannelCreate(a, b defs.Pid_t) (uint32, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if len(t.chans) >= limits.MaxChannels {
		return 0, -defs.ETOOMANY
	}
	t.nextChan++
	id := t.nextChan
	c := &Channel_t{ID: id, A: a, B: b, Active: true}
	c.AtoB.cond = sync.NewCond(&t.Mutex)
	c.BtoA.cond = sync.NewCond(&t.Mutex)
	t.chans[id] = c
	return id, defs.Success
}

/// ChannelDestroy closes a channel, dropping any queued entries.
func (t *Table_t) ChannelDestroy(channelID uint32) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	c, ok := t.chans[channelID]
	if !ok {
		return -defs.ENOENT
	}
	for _, h := range c.AtoB.entries {
		t.pool.Free(h)
	}
	for _, h := range c.BtoA.entries {
		t.pool.Free(h)
	}
	delete(t.chans, channelID)
	return defs.Success
}

func (t *Table_t) channelQueues(channelID uint32, sender defs.Pid_t) (*Queue_t, *Queue_t, defs.Err_t) {
	c, ok := t.chans[channelID]
	if !ok || !c.Active {
		return nil, nil, -defs.ENOENT
	}
	switch sender {
	case c.A:
		return &c.AtoB, &c.BtoA, defs.Success
	case c.B:
		return &c.BtoA, &c.AtoB, defs.Success
	default:
		return nil, nil, -defs.EPERM
	}
}

/// ChannelSend enqueues msg on the sender's outbound half of the
/// channel, failing with EMSGSIZE if the payload exceeds
/// limits.MaxPayload.
func (t *Table_t) ChannelSend(channelID uint32, sender defs.Pid_t, msg Message_t) defs.Err_t {
	if msg.Length > limits.MaxPayload {
		return -defs.EMSGSIZE
	}
	t.Lock()
	defer t.Unlock()
	out, _, err := t.channelQueues(channelID, sender)
	if err != defs.Success {
		return err
	}
	msg.Sender = sender
	msg.MsgID = uint32(t.NextMsgID.Inc())
	return t.enqueue(out, &msg)
}

/// ChannelReceive dequeues the oldest message on the receiver's
/// inbound half of the channel, blocking when empty and block is true.
func (t *Table_t) ChannelReceive(channelID uint32, receiver defs.Pid_t, block bool) (Message_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	_, in, err := t.channelQueues(channelID, receiver)
	if err != defs.Success {
		return Message_t{}, err
	}
	for len(in.entries) == 0 {
		if !block {
			return Message_t{}, -defs.ETIMEDOUT
		}
		in.cond.Wait()
	}
	handle := in.entries[0]
	in.entries = in.entries[1:]
	var msg Message_t
	decodeMessage(t.pool.At(handle), &msg)
	t.pool.Free(handle)
	return msg, defs.Success
}

/// QueueDepth reports the number of messages currently queued for
/// pid.
func (t *Table_t) QueueDepth(pid defs.Pid_t) int {
	t.Lock()
	defer t.Unlock()
	q, ok := t.queues[pid]
	if !ok {
		return 0
	}
	return len(q.entries)
}

// encodeMessage and decodeMessage copy a Message_t into and out of a
// pool block sized exactly sizeof(Message_t), the same aliasing trick
// mem.Pg2bytes uses to hand out a byte view of a fixed-layout struct.
func encodeMessage(blk []byte, msg *Message_t) {
	dst := (*Message_t)(unsafe.Pointer(&blk[0]))
	*dst = *msg
}

func decodeMessage(blk []byte, msg *Message_t) {
	src := (*Message_t)(unsafe.Pointer(&blk[0]))
	*msg = *src
}
