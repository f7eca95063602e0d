// Package jobs turns the jobs section of the config into scheduler
// registrations and keeps them in sync across reloads.
package jobs

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"wheeld/internal/config"
	"wheeld/internal/task/engine"
	"wheeld/internal/task/scheduler"
	logx "wheeld/pkg/logx"
)

// Prefix namespaces job names inside the scheduler.
const Prefix = "job:"

// Scheduler is the part of *scheduler.Service the manager needs.
type Scheduler interface {
	AddScheduleOpt(name, schedule string, timeout time.Duration, opt engine.TaskOptions, job scheduler.Job) (string, error)
	AddOnceOpt(name string, at time.Time, timeout time.Duration, opt engine.TaskOptions, job scheduler.Job) (string, error)
	Remove(name string) bool
}

type Manager struct {
	mu    sync.Mutex
	log   logx.Logger
	sched Scheduler
	units UnitRunner
	now   func() time.Time

	// applied holds the declaration each registered job was built from.
	applied map[string]config.JobConfig
}

// New returns a manager. units may be nil; systemd actions then fail to
// register.
func New(sched Scheduler, units UnitRunner, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:     log,
		sched:   sched,
		units:   units,
		now:     time.Now,
		applied: map[string]config.JobConfig{},
	}
}

// Sync registers new and changed jobs and removes jobs that disappeared or
// were disabled. Unchanged jobs keep their registration, so an "after" job
// is not pushed back by a reload. Invalid jobs are reported and skipped;
// the rest still apply.
func (m *Manager) Sync(jobs []config.JobConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	want := make(map[string]config.JobConfig, len(jobs))
	var errs []error
	for _, jc := range jobs {
		if jc.Disabled {
			continue
		}
		name := strings.TrimSpace(jc.Name)
		if _, dup := want[name]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateName, name))
			continue
		}
		want[name] = jc
	}

	for name := range m.applied {
		if _, ok := want[name]; ok {
			continue
		}
		m.sched.Remove(Prefix + name)
		delete(m.applied, name)
		m.log.Info("job removed", logx.String("job", name))
	}

	added, changed := 0, 0
	for name, jc := range want {
		prev, had := m.applied[name]
		if had && reflect.DeepEqual(prev, jc) {
			continue
		}
		if err := m.register(jc, now); err != nil {
			errs = append(errs, err)
			if had {
				m.sched.Remove(Prefix + name)
				delete(m.applied, name)
			}
			continue
		}
		m.applied[name] = jc
		if had {
			changed++
		} else {
			added++
		}
	}

	if added+changed > 0 {
		m.log.Info("jobs synced", logx.Int("added", added), logx.Int("changed", changed), logx.Int("total", len(m.applied)))
	}
	return errors.Join(errs...)
}

func (m *Manager) register(jc config.JobConfig, now time.Time) error {
	sp, err := Parse(jc, now)
	if err != nil {
		return err
	}
	job, err := m.buildAction(sp.Name, sp.Action)
	if err != nil {
		return fmt.Errorf("jobs.%s.action: %w", sp.Name, err)
	}

	full := Prefix + sp.Name
	if !sp.Once() {
		if _, err := m.sched.AddScheduleOpt(full, sp.Schedule, sp.Timeout, sp.Opt, job); err != nil {
			return fmt.Errorf("jobs.%s: %w", sp.Name, err)
		}
		m.log.Debug("job scheduled", logx.String("job", sp.Name), logx.String("schedule", sp.Schedule))
		return nil
	}

	if sp.After == 0 && sp.At.Before(now) {
		// An absolute time that already passed would fire on every restart.
		m.sched.Remove(full)
		m.log.Info("job time already passed; not armed", logx.String("job", sp.Name), logx.Time("at", sp.At))
		return nil
	}
	if _, err := m.sched.AddOnceOpt(full, sp.At, sp.Timeout, sp.Opt, job); err != nil {
		return fmt.Errorf("jobs.%s: %w", sp.Name, err)
	}
	m.log.Debug("job armed", logx.String("job", sp.Name), logx.Time("at", sp.At))
	return nil
}

// Names lists registered job names (without Prefix), sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.applied))
	for name := range m.applied {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clear unregisters every job.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.applied {
		m.sched.Remove(Prefix + name)
	}
	m.applied = map[string]config.JobConfig{}
}
