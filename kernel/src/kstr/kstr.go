// Package kstr implements the bounded, immutable byte-string type used
// for process and port names throughout the kernel. It is a direct
// descendant of the teacher's ustr.Ustr, trimmed to the subset the
// kernel core needs (equality, length-bounded construction) and
// stripped of ustr's filesystem-path helpers (dot/dotdot/extend),
// which have no home in a kernel with no file system.
package kstr

import "defs"

/// MaxLen is the longest name the kernel core accepts for a process
/// or a named port (spec.md §3): 63 bytes, leaving room for a NUL
/// terminator in any C-ABI boundary that copies it out.
const MaxLen = 63

/// Name is an immutable, length-bounded byte string.
type Name []byte

/// Empty is the zero-length Name.
var Empty = Name{}

/// New validates s and returns the corresponding Name. Per spec.md
/// §3/§4.E, a name must be 1..63 bytes; New rejects anything outside
/// that range rather than silently truncating.
func New(s string) (Name, defs.Err_t) {
	if len(s) < 1 || len(s) > MaxLen {
		return nil, -defs.ENAMETOOLONG
	}
	n := make(Name, len(s))
	copy(n, s)
	return n, defs.Success
}

/// FromBytes copies a NUL-terminated or fully-packed byte slice into a
/// Name, truncating at the first NUL. It does not enforce MaxLen
/// itself (callers that size their source buffer to MaxLen get the
/// bound for free); use New to validate user-supplied names.
func FromBytes(buf []byte) Name {
	for i, b := range buf {
		if b == 0 {
			n := make(Name, i)
			copy(n, buf[:i])
			return n
		}
	}
	n := make(Name, len(buf))
	copy(n, buf)
	return n
}

/// Eq reports whether two Names hold identical bytes.
func (n Name) Eq(o Name) bool {
	if len(n) != len(o) {
		return false
	}
	for i, b := range n {
		if b != o[i] {
			return false
		}
	}
	return true
}

/// String converts the Name to a Go string.
func (n Name) String() string {
	return string(n)
}
