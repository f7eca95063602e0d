package storage

import (
	"context"
	"strings"
	"time"

	"wheeld/internal/eventbus"
	"wheeld/internal/observability/timerstats"
	"wheeld/internal/task/engine"
	logx "wheeld/pkg/logx"
)

// Recorder copies task outcomes and timer cancellations from the bus into a
// Store. Started events are not recorded; the matching finish carries the
// same ID.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Run consumes events until ctx is done. Meant for supervisor.Go.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(512)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			rec, keep := ToRecord(ev)
			if !keep {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.store.AppendRun(wctx, rec)
			cancel()
			if err != nil {
				r.log.Warn("run history append failed", logx.String("event", ev.Type), logx.String("name", rec.Name), logx.Err(err))
			}
		}
	}
}

// ToRecord maps a bus event to a history record. It reports false for
// events that are not kept.
func ToRecord(ev eventbus.Event) (RunRecord, bool) {
	switch d := ev.Data.(type) {
	case engine.TaskEvent:
		if ev.Type == eventbus.TaskStarted {
			return RunRecord{}, false
		}
		return RunRecord{
			At:         ev.Time,
			Event:      ev.Type,
			ID:         d.ID,
			Name:       d.Name,
			Status:     d.Status,
			Lag:        d.Lag,
			QueueDelay: d.QueueDelay,
			Duration:   d.Duration,
			Attempts:   d.Attempts,
			Error:      d.Error,
		}, true
	case timerstats.Event:
		if !strings.HasPrefix(ev.Type, "timer.") || ev.Type == eventbus.TimerExpired {
			return RunRecord{}, false
		}
		return RunRecord{At: ev.Time, Event: ev.Type, ID: d.ID, Name: "timer:" + d.ID, Error: d.Error}, true
	}
	return RunRecord{}, false
}
