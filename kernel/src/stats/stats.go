// Package stats provides the always-on counter type the process
// table, interrupt table, and resonant scheduler use for the
// monotonic counters spec.md §8 requires (context switches, global
// message ids, Queen sync_count, per-vector interrupt totals). The
// teacher's stats package gated its counters behind compile-time
// Stats/Timing flags backed by runtime.Rdtsc (a patched-runtime cycle
// counter unavailable outside Biscuit's forked Go); this kernel's
// counters are load-bearing invariants rather than optional profiling
// data, so they are unconditionally atomic rather than flag-gated.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"
)

/// Counter_t is a monotonically-incremented statistic.
type Counter_t int64

/// Inc increments the counter by one and returns the new value.
func (c *Counter_t) Inc() int64 {
	return atomic.AddInt64((*int64)(unsafe.Pointer(c)), 1)
}

/// Add adds delta to the counter and returns the new value.
func (c *Counter_t) Add(delta int64) int64 {
	return atomic.AddInt64((*int64)(unsafe.Pointer(c)), delta)
}

/// Load reads the counter's current value.
func (c *Counter_t) Load() int64 {
	return atomic.LoadInt64((*int64)(unsafe.Pointer(c)))
}

/// Store sets the counter's value, for reset_all-style operations.
func (c *Counter_t) Store(v int64) {
	atomic.StoreInt64((*int64)(unsafe.Pointer(c)), v)
}

/// Dump renders every Counter_t field of st as a multi-line string,
/// named by its struct field.
func Dump(st interface{}) string {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
