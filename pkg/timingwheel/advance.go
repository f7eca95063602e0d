package timingwheel

import (
	"sort"

	logx "wheeld/pkg/logx"
)

// insertLocked places a pending entry whose deadline is after tw.current
// and returns the expiration tick of the bucket it landed in.
func (tw *TimingWheel) insertLocked(idx int32) int64 {
	deadline := tw.slab.at(idx).deadline
	l := tw.levels[0]
	for {
		vid := floorDiv(deadline, l.unit)
		ahead := vid - floorDiv(tw.current, l.unit)
		if ahead < l.size || l.top {
			return tw.placeLocked(l, idx, vid)
		}
		l = tw.overflowLocked(l)
	}
}

// placeLocked links idx into the slot for virtual tick vid of level l.
// If that bucket is already armed its expiration is the base the task's
// rounds are counted from; otherwise the bucket is armed for the first
// occurrence of the slot after the level's current position.
func (tw *TimingWheel) placeLocked(l *level, idx int32, vid int64) int64 {
	slot := mod(vid, l.size)
	b := &l.buckets[slot]

	var base int64
	if b.armed() {
		base = floorDiv(b.expiration, l.unit)
	} else {
		next := floorDiv(tw.current, l.unit) + 1
		base = vid - floorDiv(vid-next, l.size)*l.size
	}
	rounds := (vid - base) / l.size
	if rounds < 0 {
		// Armed bucket is later than the task; only reachable if the
		// level invariants are broken. Fire on the bucket anyway.
		tw.log.Warn("timing wheel bucket ahead of task",
			logx.Int("level", int(l.index)),
			logx.Int64("slot", slot),
			logx.Int64("vid", vid),
			logx.Int64("base", base),
		)
		rounds = 0
	}

	tw.slab.at(idx).rounds = rounds
	b.push(&tw.slab, idx)
	if !b.armed() {
		tw.queue.arm(b, base*l.unit)
	}
	return b.expiration
}

func (tw *TimingWheel) overflowLocked(l *level) *level {
	if l.overflow == nil {
		next := newLevel(l.index+1, l.unit*l.size, l.size, tw.cfg.MaxLevels)
		l.overflow = next
		tw.levels = append(tw.levels, next)
		tw.log.Debug("timing wheel level added",
			logx.Int("level", int(next.index)),
			logx.Int64("unit_ticks", next.unit),
			logx.Bool("top", next.top),
		)
	}
	return l.overflow
}

// expireLocked resolves idx as expired and returns what to hand the sink.
func (tw *TimingWheel) expireLocked(idx int32) Fired {
	e := tw.slab.at(idx)
	f := Fired{
		ID:       makeTaskID(idx, e.gen),
		Deadline: tw.tickTime(e.deadline),
		Label:    e.label,
		Tag:      e.tag,
		Fn:       e.fn,
	}
	tw.slab.release(idx, StateExpired)
	tw.stats.expired++
	return f
}

type readyTask struct {
	fired    Fired
	deadline int64
	seq      uint64
}

// drainLocked empties b (already popped from the queue) at tw.current.
func (tw *TimingWheel) drainLocked(b *bucket, ready []readyTask) []readyTask {
	l := tw.levels[b.level]
	expiration := b.expiration
	b.expiration = -1

	for idx := b.detach(); idx != nilIndex; {
		e := tw.slab.at(idx)
		next := e.next
		e.prev, e.next = nilIndex, nilIndex
		e.level, e.slot = -1, -1

		switch {
		case e.state != StatePending || e.fn == nil:
			tw.log.Warn("timing wheel skipped malformed entry",
				logx.Int("level", int(b.level)),
				logx.Int("slot", int(b.slot)),
				logx.String("state", e.state.String()),
			)
		case e.rounds > 0:
			e.rounds--
			b.push(&tw.slab, idx)
		case e.deadline <= tw.current:
			ready = append(ready, readyTask{deadline: e.deadline, seq: e.seq})
			ready[len(ready)-1].fired = tw.expireLocked(idx)
		default:
			tw.stats.cascaded++
			tw.insertLocked(idx)
		}
		idx = next
	}

	if b.count > 0 {
		tw.queue.arm(b, expiration+l.span())
	}
	return ready
}

// advanceLocked processes every bucket due at or before now's tick, in tick
// order, and moves the current tick to now. It returns fired tasks in
// (deadline, submission) order and the next expiration to wake for.
func (tw *TimingWheel) advanceLocked(nowTick int64) ([]Fired, int64) {
	var ready []readyTask
	for {
		b := tw.queue.popDue(nowTick)
		if b == nil {
			break
		}
		if b.expiration > tw.current {
			tw.current = b.expiration
		}
		ready = tw.drainLocked(b, ready)
	}
	if nowTick > tw.current {
		tw.current = nowTick
	}

	next, ok := tw.queue.peek()
	if !ok {
		next = noWake
	}
	tw.nextWake = next

	if len(ready) == 0 {
		return nil, next
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].deadline != ready[j].deadline {
			return ready[i].deadline < ready[j].deadline
		}
		return ready[i].seq < ready[j].seq
	})
	out := make([]Fired, len(ready))
	for i := range ready {
		out[i] = ready[i].fired
	}
	return out, next
}
