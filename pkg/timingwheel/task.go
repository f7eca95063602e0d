package timingwheel

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a task.
type State int32

const (
	StatePending State = iota
	StateExpired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TaskID identifies a task: slab index in the low 32 bits, slot generation
// in the high 32 bits. IDs of resolved tasks never match a live task.
type TaskID uint64

func makeTaskID(idx int32, gen uint32) TaskID {
	return TaskID(uint64(gen)<<32 | uint64(uint32(idx)))
}

func (id TaskID) index() int32 { return int32(uint32(id)) }
func (id TaskID) gen() uint32  { return uint32(id >> 32) }

func (id TaskID) String() string { return fmt.Sprintf("%d.%d", id.index(), id.gen()) }

const nilIndex int32 = -1

// entry is one task's scheduling state. Entries are stored by value in the
// slab; prev/next link entries of the same bucket.
type entry struct {
	gen      uint32
	state    State
	seq      uint64
	deadline int64 // absolute tick
	rounds   int64
	level    int32
	slot     int32
	prev     int32
	next     int32
	fn       Callback
	label    string
	tag      uint64
}

type slab struct {
	entries []entry
	free    int32
	live    int
}

func newSlab() slab { return slab{free: nilIndex} }

// alloc returns a cleared pending entry index. It may grow the backing
// array, so pointers obtained from at() before alloc are invalid after it.
func (s *slab) alloc() int32 {
	var idx int32
	if s.free != nilIndex {
		idx = s.free
		s.free = s.entries[idx].next
	} else {
		s.entries = append(s.entries, entry{})
		idx = int32(len(s.entries) - 1)
	}
	e := &s.entries[idx]
	gen := e.gen
	*e = entry{gen: gen, state: StatePending, level: -1, slot: -1, prev: nilIndex, next: nilIndex}
	s.live++
	return idx
}

// release resolves the entry and returns its slot to the free list. The
// generation bump invalidates outstanding TaskIDs.
func (s *slab) release(idx int32, st State) {
	e := &s.entries[idx]
	e.state = st
	e.fn = nil
	e.label, e.tag = "", 0
	e.gen++
	e.level, e.slot, e.prev = -1, -1, nilIndex
	e.next = s.free
	s.free = idx
	s.live--
}

func (s *slab) at(idx int32) *entry { return &s.entries[idx] }

// lookup returns the live entry for id, or nil if id is stale or unknown.
func (s *slab) lookup(id TaskID) (int32, *entry) {
	idx := id.index()
	if idx < 0 || int(idx) >= len(s.entries) {
		return nilIndex, nil
	}
	e := &s.entries[idx]
	if e.gen != id.gen() || e.state != StatePending {
		return nilIndex, nil
	}
	return idx, e
}

// Handle is the cancellation token returned by Schedule. It is safe for
// concurrent use.
type Handle struct {
	tw       *TimingWheel
	id       TaskID
	deadline time.Time
}

func (h *Handle) ID() TaskID { return h.id }

// Deadline is the wall time of the tick the task is due on.
func (h *Handle) Deadline() time.Time { return h.deadline }

// Cancel is shorthand for TimingWheel.Cancel(h).
func (h *Handle) Cancel() bool {
	if h == nil || h.tw == nil {
		return false
	}
	return h.tw.Cancel(h)
}

// Pending reports whether the task has neither fired nor been cancelled.
func (h *Handle) Pending() bool {
	if h == nil || h.tw == nil {
		return false
	}
	return h.tw.isPending(h.id)
}
