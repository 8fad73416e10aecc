package defs

import (
	"sync/atomic"
	"time"
)

var bootInstant = time.Now()

// defaultClock returns nanoseconds elapsed since this package was
// loaded, measured on the host's monotonic clock. It does not read the
// tick counter that Tick advances.
func defaultClock() uint64 {
	return uint64(time.Since(bootInstant))
}

var tickCount uint64

/// Tick advances a separate tick counter by delta nanoseconds and
/// returns the new total. boot.IdleTick calls it once per idle tick.
/// Now() does not read this counter.
func Tick(delta uint64) uint64 {
	return atomic.AddUint64(&tickCount, delta)
}
