package ipc

import (
	"testing"

	"defs"
	"limits"
	"mem"
	"proc"
)

func freshPid(t *testing.T, priority uint8) defs.Pid_t {
	t.Helper()
	pid, err := proc.Table.Create(proc.Params_t{
		Name:      "p",
		Ptype:     proc.TypeUser,
		Priority:  priority,
		ParentPid: defs.KernelPid,
	})
	if err != defs.Success {
		t.Fatalf("proc create: %d", err)
	}
	if err := Table.ProcessInit(pid); err != defs.Success {
		t.Fatalf("ipc process init: %d", err)
	}
	return pid
}

func init() {
	mem.PhysInit(256)
}

func TestSendRejectsOversizePayload(t *testing.T) {
	pid := freshPid(t, proc.PrioNormal)
	msg := Message_t{Length: limits.MaxPayload + 1}
	if err := Table.Send(pid, msg); err != -defs.EMSGSIZE {
		t.Fatalf("err = %d, want -EMSGSIZE", err)
	}
}

func TestSendAcceptsMaxPayload(t *testing.T) {
	pid := freshPid(t, proc.PrioNormal)
	msg := Message_t{Length: limits.MaxPayload}
	if err := Table.Send(pid, msg); err != defs.Success {
		t.Fatalf("err = %d, want Success", err)
	}
}

func TestSendToUnknownReceiverFails(t *testing.T) {
	if err := Table.Send(99999, Message_t{}); err != -defs.ENOENT {
		t.Fatalf("err = %d, want -ENOENT", err)
	}
}

func TestQueueFullDropsAndCounts(t *testing.T) {
	pid := freshPid(t, proc.PrioNormal)
	for i := 0; i < limits.MaxQueueDepth; i++ {
		if err := Table.Send(pid, Message_t{}); err != defs.Success {
			t.Fatalf("send %d: %d", i, err)
		}
	}
	before := Table.Dropped.Load()
	if err := Table.Send(pid, Message_t{}); err != -defs.EFULL {
		t.Fatalf("err = %d, want -EFULL", err)
	}
	if Table.Dropped.Load() != before+1 {
		t.Fatal("dropped counter did not increment on a full queue")
	}
}

func TestSendThenReceiveRoundTrips(t *testing.T) {
	pid := freshPid(t, proc.PrioNormal)
	sender := freshPid(t, proc.PrioNormal)
	msg := Message_t{Sender: sender, Length: 4}
	copy(msg.Data[:], "ping")
	if err := Table.Send(pid, msg); err != defs.Success {
		t.Fatalf("send: %d", err)
	}
	got, err := Table.Receive(pid, false)
	if err != defs.Success {
		t.Fatalf("receive: %d", err)
	}
	if string(got.Data[:4]) != "ping" {
		t.Fatalf("payload = %q, want ping", got.Data[:4])
	}
	if got.Sender != sender {
		t.Fatalf("sender = %d, want %d", got.Sender, sender)
	}
}

func TestReceiveNonBlockingOnEmptyQueueTimesOut(t *testing.T) {
	pid := freshPid(t, proc.PrioNormal)
	if _, err := Table.Receive(pid, false); err != -defs.ETIMEDOUT {
		t.Fatalf("err = %d, want -ETIMEDOUT", err)
	}
}

func TestShareGrantMapUnmapRevoke(t *testing.T) {
	owner := freshPid(t, proc.PrioNormal)
	grantee := freshPid(t, proc.PrioNormal)

	region, err := Table.ShareCreate(owner, mem.PGSIZE)
	if err != defs.Success {
		t.Fatalf("share create: %d", err)
	}
	if err := Table.ShareGrant(region.ID, grantee, ShareRead|ShareWrite); err != defs.Success {
		t.Fatalf("share grant: %d", err)
	}
	if err := Table.ShareMap(region.ID, grantee, 0x40000); err != defs.Success {
		t.Fatalf("share map: %d", err)
	}
	if err := Table.ShareUnmap(region.ID, grantee); err != defs.Success {
		t.Fatalf("share unmap: %d", err)
	}
	// A revoked grantee cannot map again.
	if err := Table.ShareRevoke(region.ID, grantee); err != defs.Success {
		t.Fatalf("share revoke: %d", err)
	}
	if err := Table.ShareMap(region.ID, grantee, 0x50000); err != -defs.EPERM {
		t.Fatalf("map after revoke: err = %d, want -EPERM", err)
	}
}

func TestShareUnmapWithoutGrantFails(t *testing.T) {
	owner := freshPid(t, proc.PrioNormal)
	grantee := freshPid(t, proc.PrioNormal)
	region, err := Table.ShareCreate(owner, mem.PGSIZE)
	if err != defs.Success {
		t.Fatalf("share create: %d", err)
	}
	if err := Table.ShareUnmap(region.ID, grantee); err != -defs.EPERM {
		t.Fatalf("err = %d, want -EPERM", err)
	}
}

func TestChannelSendRejectsOversizePayload(t *testing.T) {
	a := freshPid(t, proc.PrioNormal)
	b := freshPid(t, proc.PrioNormal)
	id, err := Table.ChannelCreate(a, b)
	if err != defs.Success {
		t.Fatalf("channel create: %d", err)
	}
	msg := Message_t{Length: limits.MaxPayload + 1}
	if err := Table.ChannelSend(id, a, msg); err != -defs.EMSGSIZE {
		t.Fatalf("err = %d, want -EMSGSIZE", err)
	}
}

func TestChannelRoundTrip(t *testing.T) {
	a := freshPid(t, proc.PrioNormal)
	b := freshPid(t, proc.PrioNormal)
	id, _ := Table.ChannelCreate(a, b)
	msg := Message_t{Length: 3}
	copy(msg.Data[:], "abc")
	if err := Table.ChannelSend(id, a, msg); err != defs.Success {
		t.Fatalf("channel send: %d", err)
	}
	got, err := Table.ChannelReceive(id, b, false)
	if err != defs.Success {
		t.Fatalf("channel receive: %d", err)
	}
	if string(got.Data[:3]) != "abc" {
		t.Fatalf("payload = %q, want abc", got.Data[:3])
	}
}

func TestPortCreateLookupDestroy(t *testing.T) {
	owner := freshPid(t, proc.PrioNormal)
	id, err := Table.PortCreate(owner, "svc")
	if err != defs.Success {
		t.Fatalf("port create: %d", err)
	}
	got, err := Table.PortLookup("svc")
	if err != defs.Success || got != id {
		t.Fatalf("port lookup = (%d, %d), want (%d, Success)", got, err, id)
	}
	if err := Table.PortDestroy(id); err != defs.Success {
		t.Fatalf("port destroy: %d", err)
	}
	if _, err := Table.PortLookup("svc"); err != -defs.ENOENT {
		t.Fatalf("lookup after destroy: err = %d, want -ENOENT", err)
	}
}
