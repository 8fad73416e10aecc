package vm

import (
	"sync"

	"defs"
)

/// Userbuf_t walks a contiguous user virtual address range one mapped
/// page at a time, the same chunking the teacher's Userbuf_t used,
/// minus the iovec/fake-buffer variants this kernel has no caller for
/// (no scatter-gather syscalls, no kernel-internal fds to alias).
type Userbuf_t struct {
	as     *Vm_t
	userva int
	len    int
	off    int
}

/// Init prepares ub to transfer up to length bytes starting at uva in
/// as's address space.
func (ub *Userbuf_t) Init(as *Vm_t, uva, length int) {
	if length < 0 {
		panic("vm: negative userbuf length")
	}
	ub.as = as
	ub.userva = uva
	ub.len = length
	ub.off = 0
}

/// Remain reports how many bytes are left untransferred.
func (ub *Userbuf_t) Remain() int {
	return ub.len - ub.off
}

/// Totalsz reports the buffer's total length.
func (ub *Userbuf_t) Totalsz() int {
	return ub.len
}

/// Uioread copies from the user buffer into dst, returning the number
/// of bytes copied and an error if any page in range is unmapped.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

/// Uiowrite copies src into the user buffer, returning the number of
/// bytes copied and an error if any page in range is unmapped or
/// read-only.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}

func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.userva + ub.off
		ub.as.Lock_pmap()
		chunk, err := ub.as.userBytes_inner(va, write)
		ub.as.Unlock_pmap()
		if err != defs.Success {
			return ret, err
		}
		left := ub.len - ub.off
		if len(chunk) > left {
			chunk = chunk[:left]
		}
		var c int
		if write {
			c = copy(chunk, buf)
		} else {
			c = copy(buf, chunk)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
		if c == 0 {
			break
		}
	}
	return ret, defs.Success
}

/// Ubpool is a pool of reusable Userbuf_t structures, the same pattern
/// the teacher used to cut allocations on its hot read/write path.
var Ubpool = sync.Pool{New: func() interface{} { return new(Userbuf_t) }}
