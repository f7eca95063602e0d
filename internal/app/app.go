// Package app wires wheeld's services together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"wheeld/internal/config"
	"wheeld/internal/eventbus"
	"wheeld/internal/jobs"
	"wheeld/internal/observability/pprof"
	"wheeld/internal/observability/timerstats"
	rtsup "wheeld/internal/runtime/supervisor"
	"wheeld/internal/storage"
	"wheeld/internal/task/engine"
	"wheeld/internal/task/scheduler"
	logx "wheeld/pkg/logx"
	"wheeld/pkg/systemd"
	"wheeld/pkg/timingwheel"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	stats  *timerstats.Stats
	wheel  *timingwheel.TimingWheel
	engine *engine.Service
	sched  *scheduler.Service
	jobs   *jobs.Manager
	units  *systemd.UnitController
	pprof  *pprof.Service
	notify *systemd.Notifier

	// sd is the systemd section read at start; it is not reloadable.
	sd config.SystemdConfig
}

// New loads the config and builds every service without starting any.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	wheelCfg, err := mapWheelConfig(cfg)
	if err != nil {
		return nil, err
	}
	stats := timerstats.New(bus)

	// The wheel's sink belongs to the scheduler, and the scheduler needs
	// the wheel; sink is bound right after, before the wheel starts.
	var sink timingwheel.Sink
	wheel, err := timingwheel.New(wheelCfg,
		timingwheel.SinkFunc(func(f timingwheel.Fired) error { return sink.Dispatch(f) }),
		timingwheel.WithHooks(stats),
		timingwheel.WithLogger(log.With(logx.String("comp", "wheel"))),
	)
	if err != nil {
		return nil, fmt.Errorf("wheel: %w", err)
	}
	sched := scheduler.New(mapSchedulerConfig(cfg), engineSvc, wheel, log.With(logx.String("comp", "scheduler")), bus)
	sink = sched.Sink()

	units := systemd.NewUnitController()
	jobMgr := jobs.New(sched, units, log.With(logx.String("comp", "jobs")))

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	a := &App{
		cfgm:   cfgm,
		log:    appLog,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		stats:  stats,
		wheel:  wheel,
		engine: engineSvc,
		sched:  sched,
		jobs:   jobMgr,
		units:  units,
		pprof:  pprofSvc,
		notify: systemd.NewNotifier(log),
		sd:     cfg.Systemd,
	}
	a.registerDiagnostics()
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings services up in dependency order: run recorder, wheel,
// engine, jobs, scheduler, then the optional outer surfaces.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)
	cfg := a.cfgm.Get()

	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.log.With(logx.String("comp", "recorder")))
		a.sup.Go("storage.recorder", rec.Run)
	}
	if err := a.wheel.Start(runCtx); err != nil {
		return fmt.Errorf("wheel start: %w", err)
	}
	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if err := a.jobs.Sync(cfg.Jobs); err != nil {
		a.log.Warn("some jobs were not registered", logx.Err(err))
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}
	// Reconfigure also applies the runtime profiling rates.
	if ppc, err := mapPprofConfig(cfg); err == nil {
		a.pprof.Reconfigure(runCtx, ppc)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug only; every fired timer yields events.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.sd.Notify {
		a.notify.Ready()
		a.notify.Status(fmt.Sprintf("running, %d jobs", len(a.jobs.Names())))
	}
	if a.sd.Watchdog {
		a.sup.Go("systemd.watchdog", a.notify.Watchdog)
	}

	a.log.Info("app started", logx.Int("jobs", len(a.jobs.Names())), logx.Duration("tick", a.wheel.Config().TickDuration))
	return nil
}

// Stop shuts services down in reverse start order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sd.Notify {
		a.notify.Stopping()
	}

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "wheel", time.Second, a.wheel.Stop)
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.units.Close()

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
