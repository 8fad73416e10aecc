// Package oommsg carries the frame allocator's exhaustion notification.
// The teacher's OomCh let a demand-paging reclaim daemon learn it was
// needed; this kernel has no demand paging (spec.md §1 non-goals), so
// the channel instead wakes boot's idle loop, which logs the
// exhaustion and runs resonant.EmergencyCoherence on every registered
// process to shed the coherence deadlines that made them ask for more
// frames in the first place.
package oommsg

/// Ch is sent to whenever mem.Physmem exhausts its free-frame list.
var Ch chan Msg_t = make(chan Msg_t, 1)

/// Msg_t describes a single exhaustion event.
type Msg_t struct {
	/// Need is the number of frames the failing allocation wanted.
	Need int
}

/// Notify sends a non-blocking exhaustion notice. It never blocks the
/// caller: a full channel just means the idle loop hasn't drained the
/// previous notice yet, which is fine since the allocator's own
/// return value is already how the immediate caller learns of the
/// failure.
func Notify(need int) {
	select {
	case Ch <- Msg_t{Need: need}:
	default:
	}
}
