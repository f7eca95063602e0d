package engine

import (
	"wheeld/pkg/timingwheel"
)

// TimerTask builds the engine task for a fired timer. Fields it leaves
// empty are filled from the Fired value. Returning false drops the fire
// without enqueueing anything.
type TimerTask func(f timingwheel.Fired) (Task, bool)

// Sink adapts the engine to a timing wheel: every fired timer becomes an
// Enqueue, so dispatch never blocks the wheel. A full queue or an open
// circuit is returned to the wheel as the dispatch error.
func (s *Service) Sink(build TimerTask) timingwheel.Sink {
	return timingwheel.SinkFunc(func(f timingwheel.Fired) error {
		var t Task
		if build != nil {
			var ok bool
			if t, ok = build(f); !ok {
				return nil
			}
		}
		if t.Name == "" {
			t.Name = f.Label
		}
		if t.Name == "" {
			t.Name = "timer." + f.ID.String()
		}
		if t.Run == nil {
			t.Run = f.Fn
		}
		if t.DueAt.IsZero() {
			t.DueAt = f.Deadline
		}
		return s.Enqueue(t)
	})
}
