package timingwheel

import (
	"context"
	"time"
)

// Callback is the unit of work carried by a task.
type Callback func(ctx context.Context) error

// Fired is handed to the Sink once a task is due.
type Fired struct {
	ID       TaskID
	Deadline time.Time
	// Label is the name given to ScheduleLabeled, empty otherwise.
	Label string
	// Tag is the caller's value from ScheduleTagged, zero otherwise.
	Tag uint64
	Fn  Callback
}

// Sink runs fired tasks. Dispatch is called from the worker goroutine, or
// from the Schedule caller for a task that is already due, and must not
// block; queue the work and return.
//
// Tasks of one worker batch reach the sink in deadline then schedule order.
// A task due on arrival is dispatched by its Schedule caller and may
// interleave with a batch the worker is dispatching at the same moment, so
// ordering across the two paths is not guaranteed.
type Sink interface {
	Dispatch(f Fired) error
}

type SinkFunc func(f Fired) error

func (fn SinkFunc) Dispatch(f Fired) error { return fn(f) }

// Hooks receive lifecycle signals. Implementations must be cheap and
// non-blocking; they are called from the worker and from callers of
// Schedule/Cancel. Pending is called with the wheel lock held so values
// arrive in order; it must not call back into the wheel.
type Hooks interface {
	Expired(id TaskID)
	Cancelled(id TaskID)
	// Executed reports the Sink's verdict for a fired task: nil if the task
	// was accepted.
	Executed(id TaskID, err error)
	Pending(n int)
}

type nopHooks struct{}

func (nopHooks) Expired(TaskID)         {}
func (nopHooks) Cancelled(TaskID)       {}
func (nopHooks) Executed(TaskID, error) {}
func (nopHooks) Pending(int)            {}
