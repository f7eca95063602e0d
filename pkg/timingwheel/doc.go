// Package timingwheel implements a hierarchical timing wheel for large
// numbers of delayed, cancelable tasks.
//
// Scheduling and cancellation are O(1). A single worker goroutine owns time
// advancement: it sleeps until the earliest armed bucket expires (or until a
// newly scheduled task needs an earlier wake-up), drains every bucket that is
// due in tick order, cascades tasks from coarse levels into finer ones and
// hands ready tasks to a Sink. A task fires at or after its requested delay
// and less than one tick later.
//
// Layout:
//   - level 0 has WheelSize buckets of one tick each
//   - level n has WheelSize buckets of WheelSize^n ticks each, created lazily
//   - the top level (MaxLevels, or where the span would overflow int64)
//     tracks longer delays with remaining rounds
//
// Tasks live in a slab keyed by TaskID; buckets link entries by slab index.
package timingwheel
