package timingwheel

import (
	"context"
	"math"
	"sync"
	"time"

	logx "wheeld/pkg/logx"
)

const noWake int64 = math.MaxInt64

type runState int

const (
	stateNew runState = iota
	stateRunning
	stateStopped
)

// TimingWheel is a hierarchical timing wheel driven by one worker goroutine.
//
// Schedule and Cancel may be called from any goroutine. They take the wheel
// lock for an O(1) splice and never wait on the worker.
type TimingWheel struct {
	cfg   Config
	tick  int64 // ns
	start time.Time

	clock Clock
	sink  Sink
	hooks Hooks
	log   logx.Logger

	mu      sync.Mutex
	state   runState
	current int64 // last processed tick
	levels  []*level
	slab    slab
	queue   expirationQueue
	seq     uint64

	// nextWake is the tick the worker is sleeping until (noWake when idle).
	nextWake int64
	wakeC    chan struct{}
	stopC    chan struct{}
	doneC    chan struct{}

	stats counters
}

type counters struct {
	scheduled      uint64
	expired        uint64
	cancelled      uint64
	cascaded       uint64
	dispatchErrors uint64
	discarded      uint64
}

// New builds a stopped wheel. Call Start to run the worker.
func New(cfg Config, sink Sink, opts ...Option) (*TimingWheel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	o := options{clock: SystemClock{}, hooks: nopHooks{}}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}

	now := o.clock.Now()
	start := cfg.StartTime
	if start.IsZero() {
		start = now
	}
	tw := &TimingWheel{
		cfg:      cfg,
		tick:     int64(cfg.TickDuration),
		start:    start,
		clock:    o.clock,
		sink:     sink,
		hooks:    o.hooks,
		log:      o.log,
		slab:     newSlab(),
		nextWake: noWake,
		wakeC:    make(chan struct{}, 1),
		stopC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
	tw.current = tw.floorTick(now)
	tw.levels = []*level{newLevel(0, 1, int64(cfg.WheelSize), cfg.MaxLevels)}
	return tw, nil
}

func (tw *TimingWheel) floorTick(t time.Time) int64 {
	return floorDiv(int64(t.Sub(tw.start)), tw.tick)
}

// tickTime is the wall time tick starts at.
func (tw *TimingWheel) tickTime(tick int64) time.Time {
	return tw.start.Add(time.Duration(tick * tw.tick))
}

// deadlineTick is the first tick at or after now+delay.
func (tw *TimingWheel) deadlineTick(now time.Time, delay time.Duration) int64 {
	elapsed := int64(now.Sub(tw.start))
	if delay > 0 && elapsed > math.MaxInt64-int64(delay) {
		return math.MaxInt64 / tw.tick
	}
	return ceilDiv(elapsed+int64(delay), tw.tick)
}

// Schedule registers fn to run after delay. The returned handle cancels it.
//
// A delay that resolves to an already processed tick is dispatched
// immediately and the handle is returned already expired.
func (tw *TimingWheel) Schedule(delay time.Duration, fn Callback) (*Handle, error) {
	return tw.ScheduleLabeled("", delay, fn)
}

// ScheduleLabeled is Schedule with a label carried through to Fired so the
// sink can tell tasks apart.
func (tw *TimingWheel) ScheduleLabeled(label string, delay time.Duration, fn Callback) (*Handle, error) {
	return tw.ScheduleTagged(label, 0, delay, fn)
}

// ScheduleTagged is ScheduleLabeled with an opaque tag, so a sink can tell a
// fire of the current registration from one of a replaced registration
// under the same label.
func (tw *TimingWheel) ScheduleTagged(label string, tag uint64, delay time.Duration, fn Callback) (*Handle, error) {
	if delay < 0 {
		return nil, ErrInvalidDelay
	}
	if fn == nil {
		return nil, ErrNilCallback
	}

	tw.mu.Lock()
	if tw.state == stateStopped {
		tw.mu.Unlock()
		return nil, ErrWorkerNotRunning
	}
	now := tw.clock.Now()
	dl := tw.deadlineTick(now, delay)

	idx := tw.slab.alloc()
	tw.seq++
	e := tw.slab.at(idx)
	e.seq = tw.seq
	e.deadline = dl
	e.fn = fn
	e.label = label
	e.tag = tag
	id := makeTaskID(idx, e.gen)
	h := &Handle{tw: tw, id: id, deadline: tw.tickTime(dl)}
	tw.stats.scheduled++

	if dl <= tw.current {
		f := tw.expireLocked(idx)
		tw.hooks.Pending(tw.slab.live)
		tw.mu.Unlock()
		tw.dispatch([]Fired{f})
		return h, nil
	}

	exp := tw.insertLocked(idx)
	wake := exp < tw.nextWake && tw.state == stateRunning
	if wake {
		tw.nextWake = exp
	}
	tw.hooks.Pending(tw.slab.live)
	tw.mu.Unlock()

	if wake {
		select {
		case tw.wakeC <- struct{}{}:
		default:
		}
	}
	return h, nil
}

// Cancel resolves h as cancelled if it is still pending. It returns false
// when the task already fired or was cancelled before; that is not an error.
func (tw *TimingWheel) Cancel(h *Handle) bool {
	if h == nil || h.tw != tw {
		return false
	}
	tw.mu.Lock()
	idx, e := tw.slab.lookup(h.id)
	if e == nil {
		tw.mu.Unlock()
		return false
	}
	if e.level >= 0 && int(e.level) < len(tw.levels) {
		tw.levels[e.level].buckets[e.slot].remove(&tw.slab, idx)
	}
	// An emptied bucket stays armed; the worker drains it as a no-op.
	tw.slab.release(idx, StateCancelled)
	tw.stats.cancelled++
	tw.hooks.Pending(tw.slab.live)
	tw.mu.Unlock()

	tw.hooks.Cancelled(h.id)
	return true
}

func (tw *TimingWheel) isPending(id TaskID) bool {
	tw.mu.Lock()
	_, e := tw.slab.lookup(id)
	tw.mu.Unlock()
	return e != nil
}

// PendingCount is the number of tasks that have neither fired nor been
// cancelled.
func (tw *TimingWheel) PendingCount() int {
	tw.mu.Lock()
	n := tw.slab.live
	tw.mu.Unlock()
	return n
}

// Running reports whether the worker loop is active.
func (tw *TimingWheel) Running() bool {
	tw.mu.Lock()
	r := tw.state == stateRunning
	tw.mu.Unlock()
	return r
}

// Config returns the geometry the wheel was built with.
func (tw *TimingWheel) Config() Config { return tw.cfg }

// Start launches the worker. The worker stops when Stop is called or ctx is
// done; a stopped wheel cannot be restarted.
func (tw *TimingWheel) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tw.mu.Lock()
	switch tw.state {
	case stateRunning:
		tw.mu.Unlock()
		return nil
	case stateStopped:
		tw.mu.Unlock()
		return ErrWorkerNotRunning
	}
	tw.state = stateRunning
	tw.mu.Unlock()

	go tw.run(ctx)
	tw.log.Info("timing wheel started",
		logx.Duration("tick", tw.cfg.TickDuration),
		logx.Int("wheel_size", tw.cfg.WheelSize),
		logx.Int("max_levels", tw.cfg.MaxLevels),
	)
	return nil
}

// Stop halts the worker and waits for it to exit or for ctx. Pending tasks
// are discarded by whichever of Stop and the exiting worker gets there
// first, so a Stop that times out still leaves the wheel empty once the
// worker returns. Stop is idempotent.
func (tw *TimingWheel) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tw.mu.Lock()
	prev := tw.state
	if prev == stateStopped {
		tw.mu.Unlock()
		return nil
	}
	tw.state = stateStopped
	close(tw.stopC)
	tw.mu.Unlock()

	if prev == stateNew {
		tw.discardPending()
		return nil
	}

	select {
	case <-tw.doneC:
	case <-ctx.Done():
		return ctx.Err()
	}
	tw.discardPending()
	return nil
}

func (tw *TimingWheel) discardPending() {
	tw.mu.Lock()
	n := tw.slab.live
	for i := range tw.slab.entries {
		if tw.slab.entries[i].state == StatePending && tw.slab.entries[i].fn != nil {
			tw.slab.release(int32(i), StateCancelled)
		}
	}
	for _, l := range tw.levels {
		for i := range l.buckets {
			l.buckets[i].detach()
			l.buckets[i].expiration = -1
			l.buckets[i].heapIndex = -1
		}
	}
	tw.queue = nil
	tw.stats.discarded += uint64(n)
	tw.hooks.Pending(0)
	tw.mu.Unlock()

	if n > 0 {
		tw.log.Warn("timing wheel stopped with pending tasks", logx.Int("discarded", n))
	}
}
