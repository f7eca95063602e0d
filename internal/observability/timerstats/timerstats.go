// Package timerstats counts timing wheel lifecycle signals and republishes
// them on the event bus.
package timerstats

import (
	"sync/atomic"
	"time"

	"wheeld/internal/eventbus"
	"wheeld/pkg/timingwheel"
)

// Event is the payload of timer.* bus events.
type Event struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// Stats implements timingwheel.Hooks. The zero value is not usable; use New.
type Stats struct {
	bus eventbus.Bus

	// PublishExpired also publishes timer.expired. Off by default because
	// every fired timer already yields task.* events.
	PublishExpired bool

	expired        atomic.Uint64
	cancelled      atomic.Uint64
	executed       atomic.Uint64
	dispatchFailed atomic.Uint64
	pending        atomic.Int64
	peakPending    atomic.Int64
}

var _ timingwheel.Hooks = (*Stats)(nil)

// New returns hooks publishing to bus. bus may be nil.
func New(bus eventbus.Bus) *Stats {
	return &Stats{bus: bus}
}

func (s *Stats) publish(typ string, ev Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (s *Stats) Expired(id timingwheel.TaskID) {
	s.expired.Add(1)
	if s.PublishExpired {
		s.publish(eventbus.TimerExpired, Event{ID: id.String()})
	}
}

func (s *Stats) Cancelled(id timingwheel.TaskID) {
	s.cancelled.Add(1)
	s.publish(eventbus.TimerCancelled, Event{ID: id.String()})
}

func (s *Stats) Executed(id timingwheel.TaskID, err error) {
	if err == nil {
		s.executed.Add(1)
		return
	}
	s.dispatchFailed.Add(1)
	s.publish(eventbus.TimerDispatchFailed, Event{ID: id.String(), Error: err.Error()})
}

func (s *Stats) Pending(n int) {
	v := int64(n)
	s.pending.Store(v)
	for {
		peak := s.peakPending.Load()
		if v <= peak || s.peakPending.CompareAndSwap(peak, v) {
			return
		}
	}
}

type Snapshot struct {
	Expired        uint64 `json:"expired"`
	Cancelled      uint64 `json:"cancelled"`
	Dispatched     uint64 `json:"dispatched"`
	DispatchFailed uint64 `json:"dispatch_failed"`
	Pending        int64  `json:"pending"`
	PeakPending    int64  `json:"peak_pending"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Expired:        s.expired.Load(),
		Cancelled:      s.cancelled.Load(),
		Dispatched:     s.executed.Load(),
		DispatchFailed: s.dispatchFailed.Load(),
		Pending:        s.pending.Load(),
		PeakPending:    s.peakPending.Load(),
	}
}
