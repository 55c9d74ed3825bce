package puma

import "time"

// clockAnchor is the process-wide reference point from which
// PrecisionTimestamp computes its offset. It is set once, at package
// initialisation, and never changes thereafter — mirroring the teacher's Loop.tickAnchor, but shared
// across every Runnable in the process rather than scoped to one loop.
var clockAnchor = time.Now()

// PrecisionTimestamp returns a monotonically non-decreasing timestamp, in
// fractional seconds, suitable for tick scheduling (spec.md §6). It is
// derived from Go's monotonic clock reading (time.Since ignores wall-clock
// adjustments such as NTP step changes) and has nanosecond precision, well
// within the required >=1ms bound. The epoch is the moment this package was
// initialised in the calling process, so values from different processes
// are not comparable; only differences between calls in the same process
// are meaningful.
func PrecisionTimestamp() float64 {
	return time.Since(clockAnchor).Seconds()
}

// monotonicNow returns the current instant as a time.Time carrying Go's
// monotonic reading, for use in tick deadline arithmetic.
func monotonicNow() time.Time {
	return time.Now()
}
