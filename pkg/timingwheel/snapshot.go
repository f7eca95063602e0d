package timingwheel

import "time"

type LevelSnapshot struct {
	Index        int           `json:"index"`
	SlotDuration time.Duration `json:"slot_duration"`
	Span         time.Duration `json:"span"`
	Tasks        int           `json:"tasks"`
	ArmedBuckets int           `json:"armed_buckets"`
	Top          bool          `json:"top"`
}

// Snapshot is a point-in-time view of the wheel for diagnostics.
type Snapshot struct {
	Running      bool            `json:"running"`
	Tick         time.Duration   `json:"tick"`
	WheelSize    int             `json:"wheel_size"`
	StartTime    time.Time       `json:"start_time"`
	CurrentTick  int64           `json:"current_tick"`
	CurrentTime  time.Time       `json:"current_time"`
	NextWake     *time.Time      `json:"next_wake,omitempty"`
	Pending      int             `json:"pending"`
	ArmedBuckets int             `json:"armed_buckets"`
	Levels       []LevelSnapshot `json:"levels"`

	Scheduled      uint64 `json:"scheduled"`
	Expired        uint64 `json:"expired"`
	Cancelled      uint64 `json:"cancelled"`
	Cascaded       uint64 `json:"cascaded"`
	DispatchErrors uint64 `json:"dispatch_errors"`
	Discarded      uint64 `json:"discarded"`
}

func (tw *TimingWheel) Snapshot() Snapshot {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	s := Snapshot{
		Running:        tw.state == stateRunning,
		Tick:           tw.cfg.TickDuration,
		WheelSize:      tw.cfg.WheelSize,
		StartTime:      tw.start,
		CurrentTick:    tw.current,
		CurrentTime:    tw.tickTime(tw.current),
		Pending:        tw.slab.live,
		ArmedBuckets:   len(tw.queue),
		Levels:         make([]LevelSnapshot, 0, len(tw.levels)),
		Scheduled:      tw.stats.scheduled,
		Expired:        tw.stats.expired,
		Cancelled:      tw.stats.cancelled,
		Cascaded:       tw.stats.cascaded,
		DispatchErrors: tw.stats.dispatchErrors,
		Discarded:      tw.stats.discarded,
	}
	if next, ok := tw.queue.peek(); ok {
		t := tw.tickTime(next)
		s.NextWake = &t
	}
	for _, l := range tw.levels {
		ls := LevelSnapshot{
			Index:        int(l.index),
			SlotDuration: durationOf(l.unit, tw.tick),
			Span:         durationOf(l.span(), tw.tick),
			Top:          l.top,
		}
		for i := range l.buckets {
			ls.Tasks += l.buckets[i].count
			if l.buckets[i].armed() {
				ls.ArmedBuckets++
			}
		}
		s.Levels = append(s.Levels, ls)
	}
	return s
}

// durationOf converts a tick count, saturating at the largest Duration.
func durationOf(ticks, tickNs int64) time.Duration {
	if ticks > 0 && ticks > (1<<63-1)/tickNs {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(ticks * tickNs)
}
