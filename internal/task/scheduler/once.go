package scheduler

import (
	"fmt"
	"strings"
	"time"

	"wheeld/internal/task/engine"
	logx "wheeld/pkg/logx"
	"wheeld/pkg/timingwheel"
)

// AddOnce runs job once at the given time. Re-adding a name replaces the
// previous timer, and a time in the past fires on the next tick.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	return s.AddOnceOpt(name, at, timeout, TaskOptions{}, job)
}

func (s *Service) AddOnceOpt(name string, at time.Time, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	if at.IsZero() {
		return "", ErrAtRequired
	}
	return s.addOnce(name, at, timeout, opt, job)
}

// AddAfter runs job once after delay.
func (s *Service) AddAfter(name string, delay, timeout time.Duration, job Job) (string, error) {
	if delay < 0 {
		return "", fmt.Errorf("%w: delay must be >= 0", ErrBadSchedule)
	}
	return s.addOnce(name, time.Now().Add(delay), timeout, TaskOptions{}, job)
}

func (s *Service) addOnce(name string, at time.Time, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if job == nil {
		return "", fmt.Errorf("%w: job is nil", ErrBadSchedule)
	}
	if s.wheel == nil {
		return "", ErrNoWheel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)

	s.omu.Lock()
	defer s.omu.Unlock()
	if v, ok := s.once.Load(name); ok {
		if prev := v.(*onceDef); prev.handle != nil {
			prev.handle.Cancel()
		}
	}
	s.onceSeq++
	d := &onceDef{name: name, at: at, timeout: timeout, opt: opt, job: job, ver: s.onceSeq}
	s.once.Store(name, d)

	if !s.started {
		return name, nil
	}
	if err := s.armLocked(d); err != nil {
		s.once.CompareAndDelete(name, d)
		return "", err
	}
	s.log.Debug("timer registered", logx.String("name", name), logx.Time("at", at), logx.Time("deadline", d.handle.Deadline()))
	return name, nil
}

// armLocked puts d on the wheel, tagged with its version. omu must be held.
func (s *Service) armLocked(d *onceDef) error {
	delay := max(time.Until(d.at), 0)
	h, err := s.wheel.ScheduleTagged(d.name, d.ver, delay, d.job)
	if err != nil {
		return fmt.Errorf("schedule timer %q: %w", d.name, err)
	}
	d.handle = h
	return nil
}

// armAllOnce re-arms every stored one-shot. Called from Start with mu held.
func (s *Service) armAllOnce() int {
	s.omu.Lock()
	defer s.omu.Unlock()
	if s.wheel == nil {
		return 0
	}
	n := 0
	s.once.Range(func(k, v any) bool {
		if err := s.armLocked(v.(*onceDef)); err != nil {
			s.log.Warn("timer re-arm failed", logx.String("name", k.(string)), logx.Err(err))
			return true
		}
		n++
		return true
	})
	return n
}

// claimOnce removes the definition a fired timer belongs to. A fire of a
// replaced or removed timer yields false. It takes no lock because the wheel
// may dispatch from inside AddOnce.
func (s *Service) claimOnce(f timingwheel.Fired) (*onceDef, bool) {
	v, ok := s.once.Load(f.Label)
	if !ok {
		return nil, false
	}
	d := v.(*onceDef)
	if d.ver != f.Tag || !s.once.CompareAndDelete(f.Label, d) {
		return nil, false
	}
	return d, true
}

// removeOnce cancels and forgets the one-shot timer under name.
func (s *Service) removeOnce(name string) bool {
	s.omu.Lock()
	defer s.omu.Unlock()
	v, ok := s.once.LoadAndDelete(name)
	if !ok {
		return false
	}
	if d := v.(*onceDef); d.handle != nil {
		d.handle.Cancel()
	}
	return true
}

// Sink is the wheel's execution sink for one-shot timers. The definition
// is claimed before the engine sees it, so a task the engine refuses is
// dropped for good and never re-armed by a later Start.
func (s *Service) Sink() timingwheel.Sink {
	next := s.engine.Sink(s.TimerTask)
	return timingwheel.SinkFunc(func(f timingwheel.Fired) error {
		err := next.Dispatch(f)
		s.reportEnqueueError(f.Label, err)
		return err
	})
}

// TimerTask claims the one-shot behind f and maps it to its engine task.
// It reports false for a fire of a replaced or removed timer.
func (s *Service) TimerTask(f timingwheel.Fired) (engine.Task, bool) {
	d, ok := s.claimOnce(f)
	if !ok {
		s.log.Debug("stale timer ignored", logx.String("name", f.Label))
		return engine.Task{}, false
	}
	return engine.Task{Name: d.name, Timeout: d.timeout, Opt: d.opt, DueAt: f.Deadline}, true
}
