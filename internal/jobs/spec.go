package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wheeld/internal/config"
	"wheeld/internal/task/engine"
	"wheeld/internal/task/scheduler"
	"wheeld/pkg/systemd"
)

// Spec is a validated job declaration.
type Spec struct {
	Name     string
	Schedule string
	After    time.Duration
	At       time.Time
	Timeout  time.Duration
	Opt      engine.TaskOptions
	Action   config.ActionConfig
}

// Once reports whether the job runs a single time on the timing wheel.
func (s Spec) Once() bool { return s.Schedule == "" }

// Parse checks one job declaration. Relative "after" triggers are resolved
// against now.
func Parse(jc config.JobConfig, now time.Time) (Spec, error) {
	name := strings.TrimSpace(jc.Name)
	if name == "" {
		return Spec{}, ErrNameRequired
	}
	path := "jobs." + name

	schedule := strings.TrimSpace(jc.Schedule)
	after := strings.TrimSpace(jc.After)
	at := strings.TrimSpace(jc.At)
	set := 0
	for _, v := range []string{schedule, after, at} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return Spec{}, fmt.Errorf("%s: %w", path, ErrTrigger)
	}

	sp := Spec{Name: name, Schedule: schedule, Action: jc.Action}
	switch {
	case schedule != "":
		if err := scheduler.ValidateSchedule(schedule); err != nil {
			return Spec{}, fmt.Errorf("%s.schedule: %w", path, err)
		}
	case after != "":
		d, err := config.ParseDurationField(path+".after", after)
		if err != nil {
			return Spec{}, err
		}
		sp.After = d
		sp.At = now.Add(d)
	default:
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return Spec{}, fmt.Errorf("%s.at: %w", path, err)
		}
		sp.At = t
	}

	timeout, err := config.ParseDurationField(path+".timeout", jc.Timeout)
	if err != nil {
		return Spec{}, err
	}
	sp.Timeout = timeout

	sp.Opt = engine.TaskOptions{Overlap: engine.ParseOverlap(strings.ToLower(strings.TrimSpace(jc.Overlap)))}
	if jc.RetryMax < 0 {
		sp.Opt.RetryMax = -1
	} else {
		sp.Opt.RetryMax = jc.RetryMax
	}

	if err := checkAction(jc.Action); err != nil {
		return Spec{}, fmt.Errorf("%s.action: %w", path, err)
	}
	return sp, nil
}

func checkAction(a config.ActionConfig) error {
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "log", "":
		return nil
	case "command":
		if strings.TrimSpace(a.Command) == "" {
			return fmt.Errorf("%w: command is required", ErrAction)
		}
		return nil
	case "systemd":
		if systemd.UnitName(a.Unit) == "" {
			return fmt.Errorf("%w: unit is required", ErrAction)
		}
		if _, err := systemd.ParseOp(a.Op); err != nil {
			return fmt.Errorf("%w: %v", ErrAction, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrAction, a.Type)
	}
}

// Validate checks every enabled job and rejects duplicate names. It is the
// config reload validator for the jobs section.
func Validate(jobs []config.JobConfig) error {
	now := time.Now()
	seen := make(map[string]struct{}, len(jobs))
	var errs []error
	for _, jc := range jobs {
		if jc.Disabled {
			continue
		}
		sp, err := Parse(jc, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[sp.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateName, sp.Name))
			continue
		}
		seen[sp.Name] = struct{}{}
	}
	return errors.Join(errs...)
}
