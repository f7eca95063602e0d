package scheduler

import (
	"sort"
	"time"

	"wheeld/internal/task/engine"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	running := s.started
	loc := s.loc
	c := s.c
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, StartupSpread: d.startupSpread}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	s.omu.Lock()
	once := []OnceInfo{}
	s.once.Range(func(_, v any) bool {
		d := v.(*onceDef)
		it := OnceInfo{Name: d.name, At: d.at, Timeout: d.timeout}
		if d.handle != nil {
			it.Deadline = d.handle.Deadline()
			it.Pending = d.handle.Pending()
		}
		once = append(once, it)
		return true
	})
	s.omu.Unlock()
	sort.Slice(once, func(i, j int) bool { return once[i].At.Before(once[j].At) })

	tz := cfg.Timezone
	if tz == "" {
		if loc == nil {
			loc = time.Local
		}
		tz = loc.String()
	}

	snap := Snapshot{
		Enabled:   cfg.Enabled,
		Running:   running,
		Timezone:  tz,
		Schedules: items,
		Once:      once,
	}
	ecfg := engine.Config{}
	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
		ecfg.RetryMax = snap.Engine.RetryMax
	}
	opt := engine.DefaultTaskOptions(ecfg)
	snap.RetryMax, snap.RetryBase, snap.RetryMaxDelay = opt.RetryMax, opt.RetryBase, opt.RetryMaxDelay
	if s.wheel != nil {
		ws := s.wheel.Snapshot()
		snap.Wheel = &ws
	}
	return snap
}
