package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"wheeld/internal/eventbus"
	"wheeld/pkg/logx"
	"wheeld/pkg/timingwheel"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	cfg.Enabled = true
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) TaskEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev.Data.(TaskEvent)
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	if err := s.Enqueue(Task{Name: "hello", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitEvent(t, ch, eventbus.TaskFinished)
	if ev.Name != "hello" || ev.Attempts != 1 || ev.ID == "" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled engine: err=%v", err)
	}
	s = New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped engine: err=%v", err)
	}
	if err := s.Enqueue(Task{Name: " "}); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("nil run: err=%v", err)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 3})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if ev := waitEvent(t, ch, eventbus.TaskFinished); ev.Attempts != 3 {
		t.Fatalf("attempts=%d want 3", ev.Attempts)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 5})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	permanent := errors.New("bad args")
	_ = s.Enqueue(Task{Name: "perm", Run: func(context.Context) error { return NoRetry(permanent) }})
	ev := waitEvent(t, ch, eventbus.TaskFailed)
	if ev.Attempts != 1 || ev.Error != permanent.Error() {
		t.Fatalf("event=%+v", ev)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	_ = s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error { panic("kaboom") }})
	waitEvent(t, ch, eventbus.TaskFailed)

	// The worker survives and picks up the next task.
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { return nil }})
	waitEvent(t, ch, eventbus.TaskFinished)
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 2})

	release := make(chan struct{})
	started := make(chan struct{})
	job := Task{Name: "slow", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(job); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(job); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue err=%v want ErrOverlapSkip", err)
	}
	close(release)
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	defer close(block)
	running := make(chan struct{}, 1)
	slow := func(context.Context) error {
		running <- struct{}{}
		<-block
		return nil
	}
	_ = s.Enqueue(Task{Name: "a", Run: slow})
	<-running
	_ = s.Enqueue(Task{Name: "b", Run: slow})
	if err := s.Enqueue(Task{Name: "c", Run: slow}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v want ErrQueueFull", err)
	}
	if snap := s.Snapshot(); snap.DroppedQueueFull != 1 {
		t.Fatalf("dropped_queue_full=%d", snap.DroppedQueueFull)
	}
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, CircuitTripFailures: 2, CircuitBaseDelay: time.Minute}, logx.Nop(), nil)
	cfg := s.cfg
	opt := TaskOptions{}.withDefaults(cfg)
	now := time.Now()

	s.circuitRecordResult(now, "job", cfg, opt, errors.New("x"))
	if open, _ := s.circuitIsOpen(now, "job", cfg, opt); open {
		t.Fatalf("open after one failure")
	}
	s.circuitRecordResult(now, "job", cfg, opt, errors.New("x"))
	open, until := s.circuitIsOpen(now, "job", cfg, opt)
	if !open || !until.Equal(now.Add(time.Minute)) {
		t.Fatalf("open=%v until=%s", open, until)
	}
	if _, o := s.circuitSnapshot(now, cfg); o != 1 {
		t.Fatalf("open circuits=%d", o)
	}
	s.circuitRecordResult(now, "job", cfg, opt, nil)
	if open, _ := s.circuitIsOpen(now, "job", cfg, opt); open {
		t.Fatalf("still open after success")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.0001}
	rng := rand.New(rand.NewSource(1))

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tc := range cases {
		got := backoffDelay(opt, tc.retry, rng)
		if diff := got - tc.want; diff > time.Millisecond || diff < -time.Millisecond {
			t.Fatalf("retry %d: got %s want ~%s", tc.retry, got, tc.want)
		}
	}
	if got := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("429"), time.Hour), rng); got > time.Second {
		t.Fatalf("hint not capped: %s", got)
	}
}

func TestSinkEnqueuesFiredTimer(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	sink := s.Sink(nil)
	due := time.Now().Add(-50 * time.Millisecond)
	err := sink.Dispatch(timingwheel.Fired{Label: "reminder", Deadline: due, Fn: func(context.Context) error { return nil }})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	ev := waitEvent(t, ch, eventbus.TaskFinished)
	if ev.Name != "reminder" || ev.Lag < 50*time.Millisecond {
		t.Fatalf("event=%+v", ev)
	}
}

func TestStopRejectsNewWork(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if err := s.Enqueue(Task{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v want ErrStopped", err)
	}
	if s.Running() {
		t.Fatalf("still running")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	var h history
	h.resize(3)
	for i := 0; i < 5; i++ {
		h.add(HistoryItem{Attempts: i})
	}
	items := h.items()
	if len(items) != 3 || items[0].Attempts != 2 || items[2].Attempts != 4 {
		t.Fatalf("items=%+v", items)
	}
}
