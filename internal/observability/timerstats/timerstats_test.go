package timerstats

import (
	"context"
	"errors"
	"testing"
	"time"

	"wheeld/internal/eventbus"
	"wheeld/pkg/timingwheel"
)

func TestCountsAndEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(bus)
	s.Pending(3)
	s.Pending(1)
	s.Expired(1)
	s.Executed(1, nil)
	s.Executed(2, errors.New("queue full"))
	s.Cancelled(3)

	snap := s.Snapshot()
	want := Snapshot{Expired: 1, Cancelled: 1, Dispatched: 1, DispatchFailed: 1, Pending: 1, PeakPending: 3}
	if snap != want {
		t.Fatalf("snapshot=%+v want %+v", snap, want)
	}

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("got events %v", types)
		}
	}
	if types[0] != eventbus.TimerDispatchFailed || types[1] != eventbus.TimerCancelled {
		t.Fatalf("events=%v", types)
	}
}

func TestHooksOnWheel(t *testing.T) {
	t.Parallel()
	s := New(nil)
	fired := make(chan struct{}, 1)
	sink := timingwheel.SinkFunc(func(f timingwheel.Fired) error {
		fired <- struct{}{}
		return nil
	})
	tw, err := timingwheel.New(timingwheel.Config{TickDuration: 2 * time.Millisecond, WheelSize: 8}, sink, timingwheel.WithHooks(s))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = tw.Stop(context.Background()) }()

	h, _ := tw.Schedule(time.Hour, func(context.Context) error { return nil })
	h.Cancel()
	_, _ = tw.Schedule(5*time.Millisecond, func(context.Context) error { return nil })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}

	snap := s.Snapshot()
	if snap.Cancelled != 1 || snap.Expired != 1 || snap.PeakPending != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
}
