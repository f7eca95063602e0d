package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"wheeld/internal/eventbus"
	"wheeld/internal/task/engine"
	logx "wheeld/pkg/logx"
	"wheeld/pkg/timingwheel"
)

type harness struct {
	s     *Service
	bus   eventbus.Bus
	wheel *timingwheel.TimingWheel
}

func newHarness(t *testing.T, start bool) *harness {
	t.Helper()
	bus := eventbus.New()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), bus)
	eng.Start(context.Background())

	s, wheel := newWired(t, eng, bus)
	if start {
		s.Start(context.Background())
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		_ = wheel.Stop(ctx)
		eng.Stop(ctx)
	})
	return &harness{s: s, bus: bus, wheel: wheel}
}

// newWired builds a started wheel whose sink is the scheduler's.
func newWired(t *testing.T, eng *engine.Service, bus eventbus.Bus) (*Service, *timingwheel.TimingWheel) {
	t.Helper()
	var sink timingwheel.Sink
	wheel, err := timingwheel.New(timingwheel.Config{TickDuration: 5 * time.Millisecond, WheelSize: 16},
		timingwheel.SinkFunc(func(f timingwheel.Fired) error { return sink.Dispatch(f) }))
	if err != nil {
		t.Fatalf("timingwheel.New: %v", err)
	}
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, wheel, logx.Nop(), bus)
	sink = s.Sink()
	if err := wheel.Start(context.Background()); err != nil {
		t.Fatalf("wheel.Start: %v", err)
	}
	return s, wheel
}

func waitFinished(t *testing.T, ch <-chan eventbus.Event, name string) engine.TaskEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			te, ok := ev.Data.(engine.TaskEvent)
			if ok && ev.Type == eventbus.TaskFinished && te.Name == name {
				return te
			}
		case <-timeout:
			t.Fatalf("task %q did not finish", name)
		}
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		src   string
		err   bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, src: "cron"},
		{in: "@hourly", kind: SpecCron, src: "cron"},
		{in: "cron:0 3 * * *", kind: SpecCron, src: "cron"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute, src: "duration"},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute, src: "hhmm"},
		{in: "every:90s", kind: SpecInterval, every: 90 * time.Second, src: "duration"},
		{in: "interval:00:05", kind: SpecInterval, every: 5 * time.Minute, src: "hhmm"},
		{in: "", err: true},
		{in: "00:00", err: true},
		{in: "01:75", err: true},
		{in: "-5m", err: true},
		{in: "soon", err: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if tc.err {
			if !errors.Is(err, ErrBadSchedule) {
				t.Fatalf("%q: err=%v want ErrBadSchedule", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got.Kind != tc.kind || got.Every != tc.every || got.Source != tc.src {
			t.Fatalf("%q: got %+v", tc.in, got)
		}
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	for in, ok := range map[string]bool{
		"*/5 * * * *":   true,
		"0 */2 * * * *": true,
		"@daily":        true,
		"10m":           true,
		"not a spec":    false,
		"61 * * * *":    false,
		"@sometimes":    false,
	} {
		err := ValidateSchedule(in)
		if ok && err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !ok && !errors.Is(err, ErrBadSchedule) {
			t.Fatalf("%q: err=%v want ErrBadSchedule", in, err)
		}
	}
}

func TestAddAfterRunsThroughWheel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	ch, unsub := h.bus.Subscribe(64)
	defer unsub()

	var ran atomic.Int32
	if _, err := h.s.AddAfter("ping", 20*time.Millisecond, 0, func(context.Context) error {
		ran.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddAfter: %v", err)
	}
	waitFinished(t, ch, "ping")
	if ran.Load() != 1 {
		t.Fatalf("ran=%d", ran.Load())
	}
	if snap := h.s.Snapshot(); len(snap.Once) != 0 {
		t.Fatalf("fired timer still listed: %+v", snap.Once)
	}
}

func TestAddAfterUpsertCancelsPrevious(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	ch, unsub := h.bus.Subscribe(64)
	defer unsub()

	var first, second atomic.Int32
	_, _ = h.s.AddAfter("dup", 40*time.Millisecond, 0, func(context.Context) error {
		first.Add(1)
		return nil
	})
	_, _ = h.s.AddAfter("dup", 10*time.Millisecond, 0, func(context.Context) error {
		second.Add(1)
		return nil
	})

	waitFinished(t, ch, "dup")
	time.Sleep(80 * time.Millisecond)
	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("first=%d second=%d", first.Load(), second.Load())
	}
}

func TestRemoveCancelsTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	var ran atomic.Int32
	_, _ = h.s.AddAfter("gone", 30*time.Millisecond, 0, func(context.Context) error {
		ran.Add(1)
		return nil
	})
	if !h.s.Remove("gone") {
		t.Fatalf("Remove returned false")
	}
	if h.s.Remove("gone") {
		t.Fatalf("second Remove returned true")
	}
	time.Sleep(80 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatalf("removed timer ran")
	}
	if n := h.wheel.PendingCount(); n != 0 {
		t.Fatalf("wheel pending=%d", n)
	}
}

func TestOnceRegisteredBeforeStartIsArmedOnStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	ch, unsub := h.bus.Subscribe(64)
	defer unsub()

	if _, err := h.s.AddOnce("later", time.Now().Add(10*time.Millisecond), time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	if snap := h.s.Snapshot(); len(snap.Once) != 1 || snap.Once[0].Pending {
		t.Fatalf("unexpected snapshot before start: %+v", snap.Once)
	}
	h.s.Start(context.Background())
	waitFinished(t, ch, "later")
}

func TestCronScheduleSnapshotAndRemove(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	if _, err := h.s.AddCron("nightly", "0 3 * * *", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if _, err := h.s.AddCron("broken", "not a spec", 0, func(context.Context) error { return nil }); !errors.Is(err, ErrBadSchedule) {
		t.Fatalf("bad spec err=%v", err)
	}
	snap := h.s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules=%+v", snap.Schedules)
	}
	next := snap.Schedules[0].Next.UTC()
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Fatalf("next=%s", next)
	}
	if snap.Wheel == nil || snap.Timezone != "UTC" {
		t.Fatalf("snapshot=%+v", snap)
	}

	// A one-shot with the same name replaces the cron entry.
	_, _ = h.s.AddAfter("nightly", time.Hour, 0, func(context.Context) error { return nil })
	snap = h.s.Snapshot()
	if len(snap.Schedules) != 0 || len(snap.Once) != 1 || !snap.Once[0].Pending {
		t.Fatalf("after upsert: %+v / %+v", snap.Schedules, snap.Once)
	}
	if !h.s.Remove("nightly") {
		t.Fatalf("Remove nightly")
	}
}

func TestIntervalRuns(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	ch, unsub := h.bus.Subscribe(64)
	defer unsub()

	// Spread is below one interval, so the first run lands within 2s.
	if _, err := h.s.AddSchedule("tick", "1s", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if te, ok := ev.Data.(engine.TaskEvent); ok && te.Name == "tick" && ev.Type == eventbus.TaskFinished {
				return
			}
		case <-timeout:
			t.Fatalf("interval schedule did not run")
		}
	}
}

func TestTimerTaskClaimsCurrentVersion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	_, _ = h.s.AddOnceOpt("opts", time.Now().Add(time.Hour), 3*time.Second, TaskOptions{RetryMax: 7}, func(context.Context) error { return nil })
	v, _ := h.s.once.Load("opts")
	ver := v.(*onceDef).ver

	if _, ok := h.s.TimerTask(timingwheel.Fired{Label: "opts", Tag: ver + 1}); ok {
		t.Fatalf("fire of another version claimed the timer")
	}
	task, ok := h.s.TimerTask(timingwheel.Fired{Label: "opts", Tag: ver})
	if !ok || task.Name != "opts" || task.Timeout != 3*time.Second || task.Opt.RetryMax != 7 {
		t.Fatalf("task=%+v ok=%v", task, ok)
	}
	if _, ok := h.s.TimerTask(timingwheel.Fired{Label: "opts", Tag: ver}); ok {
		t.Fatalf("timer claimed twice")
	}
	if _, ok := h.s.TimerTask(timingwheel.Fired{Label: "unknown", Tag: 1}); ok {
		t.Fatalf("unknown label claimed")
	}
}

func TestRejectedOneShotIsNotRearmed(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), bus)
	s, wheel := newWired(t, eng, bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		_ = wheel.Stop(ctx)
		eng.Stop(ctx)
	})

	var runs atomic.Int32
	if _, err := s.AddAfter("once", 10*time.Millisecond, 0, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddAfter: %v", err)
	}

	// The engine is not running yet, so the fire is refused.
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Names()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if names := s.Names(); len(names) != 0 {
		t.Fatalf("refused timer still registered: %v", names)
	}

	eng.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	s.Stop(ctx)
	cancel()
	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	if n := runs.Load(); n != 0 {
		t.Fatalf("refused job ran %d times", n)
	}
	if snap := wheel.Snapshot(); snap.Pending != 0 || snap.DispatchErrors != 1 {
		t.Fatalf("pending=%d dispatch_errors=%d after restart", snap.Pending, snap.DispatchErrors)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop(), nil)

	if _, err := s.AddAfter("x", time.Second, 0, func(context.Context) error { return nil }); !errors.Is(err, ErrNoWheel) {
		t.Fatalf("no wheel err=%v", err)
	}
	if _, err := s.AddCron(" ", "@hourly", 0, func(context.Context) error { return nil }); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("name err=%v", err)
	}
	if _, err := s.AddOnce("x", time.Time{}, 0, func(context.Context) error { return nil }); !errors.Is(err, ErrAtRequired) {
		t.Fatalf("at err=%v", err)
	}
	if _, err := s.AddDaily("x", "25:00", 0, func(context.Context) error { return nil }); !errors.Is(err, ErrBadSchedule) {
		t.Fatalf("daily err=%v", err)
	}
}
