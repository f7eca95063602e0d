package timingwheel

import (
	"context"
	"fmt"
	"time"

	logx "wheeld/pkg/logx"
)

// advance processes everything due at now and dispatches it. It returns
// the number of tasks handed to the sink and the next expiration tick
// (noWake when nothing is armed).
func (tw *TimingWheel) advance(now time.Time) (int, int64) {
	tw.mu.Lock()
	if tw.state == stateStopped {
		tw.mu.Unlock()
		return 0, noWake
	}
	ready, next := tw.advanceLocked(tw.floorTick(now))
	if len(ready) > 0 {
		tw.hooks.Pending(tw.slab.live)
	}
	tw.mu.Unlock()

	if len(ready) > 0 {
		tw.dispatch(ready)
	}
	return len(ready), next
}

func (tw *TimingWheel) run(ctx context.Context) {
	defer close(tw.doneC)

	var timer Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	defer stopTimer()

	for {
		_, next := tw.advance(tw.clock.Now())

		var fire <-chan time.Time
		if next != noWake {
			wait := tw.tickTime(next).Sub(tw.clock.Now())
			if wait < 0 {
				wait = 0
			}
			timer = tw.clock.NewTimer(wait)
			fire = timer.C()
		}

		select {
		case <-fire:
			timer = nil
		case <-tw.wakeC:
			stopTimer()
		case <-tw.stopC:
			tw.discardPending()
			return
		case <-ctx.Done():
			tw.mu.Lock()
			if tw.state == stateRunning {
				tw.state = stateStopped
				close(tw.stopC)
			}
			tw.mu.Unlock()
			tw.log.Info("timing wheel worker stopped by context", logx.Err(ctx.Err()))
			tw.discardPending()
			return
		}
	}
}

// dispatch hands fired tasks to the sink in order. A failing or panicking
// sink only affects the task it was given.
func (tw *TimingWheel) dispatch(ready []Fired) {
	for _, f := range ready {
		tw.hooks.Expired(f.ID)
		err := tw.dispatchOne(f)
		if err != nil {
			tw.mu.Lock()
			tw.stats.dispatchErrors++
			tw.mu.Unlock()
			tw.log.Warn("timer dispatch failed",
				logx.String("task_id", f.ID.String()),
				logx.Time("deadline", f.Deadline),
				logx.Err(err),
			)
		}
		tw.hooks.Executed(f.ID, err)
	}
}

func (tw *TimingWheel) dispatchOne(f Fired) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errSinkPanicked, r)
		}
	}()
	return tw.sink.Dispatch(f)
}
