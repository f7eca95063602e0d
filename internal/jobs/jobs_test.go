package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"wheeld/internal/config"
	"wheeld/internal/task/engine"
	"wheeld/internal/task/scheduler"
	logx "wheeld/pkg/logx"
	"wheeld/pkg/systemd"
)

type call struct {
	kind     string
	name     string
	schedule string
	at       time.Time
	opt      engine.TaskOptions
	job      scheduler.Job
}

type fakeSched struct {
	mu      sync.Mutex
	calls   []call
	removed []string
}

func (f *fakeSched) AddScheduleOpt(name, schedule string, _ time.Duration, opt engine.TaskOptions, job scheduler.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "schedule", name: name, schedule: schedule, opt: opt, job: job})
	return name, nil
}

func (f *fakeSched) AddOnceOpt(name string, at time.Time, _ time.Duration, opt engine.TaskOptions, job scheduler.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "once", name: name, at: at, opt: opt, job: job})
	return name, nil
}

func (f *fakeSched) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return true
}

type fakeUnits struct {
	op   systemd.Op
	unit string
	err  error
}

func (f *fakeUnits) Do(_ context.Context, op systemd.Op, unit string) error {
	f.op, f.unit = op, unit
	return f.err
}

func logJob(name, trigger, value string) config.JobConfig {
	jc := config.JobConfig{Name: name, Action: config.ActionConfig{Type: "log", Message: "hi"}}
	switch trigger {
	case "schedule":
		jc.Schedule = value
	case "after":
		jc.After = value
	case "at":
		jc.At = value
	}
	return jc
}

func TestParse(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		name string
		jc   config.JobConfig
		err  error
		msg  string
	}{
		{name: "cron", jc: logJob("a", "schedule", "*/5 * * * *")},
		{name: "interval", jc: logJob("a", "schedule", "every:10m")},
		{name: "after", jc: logJob("a", "after", "90s")},
		{name: "at", jc: logJob("a", "at", "2026-01-02T04:00:00Z")},
		{name: "no name", jc: config.JobConfig{Schedule: "1m"}, err: ErrNameRequired},
		{name: "no trigger", jc: logJob("a", "", ""), err: ErrTrigger},
		{name: "two triggers", jc: config.JobConfig{Name: "a", Schedule: "1m", After: "1m"}, err: ErrTrigger},
		{name: "bad schedule", jc: logJob("a", "schedule", "not a spec"), err: scheduler.ErrBadSchedule},
		{name: "bad after", jc: logJob("a", "after", "soon"), msg: "jobs.a.after"},
		{name: "bad at", jc: logJob("a", "at", "tomorrow"), msg: "jobs.a.at"},
		{name: "command without binary", jc: config.JobConfig{Name: "a", After: "1s", Action: config.ActionConfig{Type: "command"}}, err: ErrAction},
		{name: "systemd without unit", jc: config.JobConfig{Name: "a", After: "1s", Action: config.ActionConfig{Type: "systemd"}}, err: ErrAction},
		{name: "systemd bad op", jc: config.JobConfig{Name: "a", After: "1s", Action: config.ActionConfig{Type: "systemd", Unit: "x", Op: "reload"}}, err: ErrAction},
		{name: "unknown action", jc: config.JobConfig{Name: "a", After: "1s", Action: config.ActionConfig{Type: "email"}}, err: ErrAction},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sp, err := Parse(tc.jc, now)
			switch {
			case tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("err=%v, want %v", err, tc.err)
				}
			case tc.msg != "":
				if err == nil || !strings.Contains(err.Error(), tc.msg) {
					t.Fatalf("err=%v, want mention of %q", err, tc.msg)
				}
			case err != nil:
				t.Fatalf("Parse: %v", err)
			case tc.jc.After != "" && !sp.At.Equal(now.Add(90*time.Second)):
				t.Fatalf("At=%v", sp.At)
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	jc := logJob("a", "schedule", "1m")
	jc.Overlap = "allow"
	jc.RetryMax = -5
	jc.Timeout = "3s"
	sp, err := Parse(jc, time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sp.Opt.Overlap != engine.OverlapAllow || sp.Opt.RetryMax != -1 || sp.Timeout != 3*time.Second {
		t.Fatalf("spec=%+v", sp)
	}
	if sp.Once() {
		t.Fatalf("schedule job reported as once")
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	t.Parallel()

	jobs := []config.JobConfig{
		logJob("a", "schedule", "1m"),
		logJob("a", "after", "1m"),
		{Name: "b", Disabled: true},
	}
	if err := Validate(jobs); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Validate err=%v, want ErrDuplicateName", err)
	}
	if err := Validate(jobs[:1]); err != nil {
		t.Fatalf("Validate single: %v", err)
	}
}

func TestSyncAddsChangesAndRemoves(t *testing.T) {
	t.Parallel()

	fs := &fakeSched{}
	m := New(fs, nil, logx.Nop())

	first := []config.JobConfig{
		logJob("a", "schedule", "1m"),
		logJob("b", "after", "1h"),
	}
	if err := m.Sync(first); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(fs.calls) != 2 {
		t.Fatalf("calls=%d want 2", len(fs.calls))
	}
	if got := m.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Names=%v", got)
	}

	// Unchanged jobs are not re-registered.
	if err := m.Sync(first); err != nil {
		t.Fatalf("Sync again: %v", err)
	}
	if len(fs.calls) != 2 {
		t.Fatalf("unchanged sync re-registered: calls=%d", len(fs.calls))
	}

	second := []config.JobConfig{logJob("a", "schedule", "5m")}
	if err := m.Sync(second); err != nil {
		t.Fatalf("Sync second: %v", err)
	}
	if len(fs.calls) != 3 || fs.calls[2].schedule != "5m" || fs.calls[2].name != Prefix+"a" {
		t.Fatalf("changed job not re-registered: %+v", fs.calls)
	}
	if len(fs.removed) != 1 || fs.removed[0] != Prefix+"b" {
		t.Fatalf("removed=%v want [job:b]", fs.removed)
	}

	m.Clear()
	if len(m.Names()) != 0 {
		t.Fatalf("Names after Clear=%v", m.Names())
	}
}

func TestSyncKeepsValidJobsWhenOneFails(t *testing.T) {
	t.Parallel()

	fs := &fakeSched{}
	m := New(fs, nil, logx.Nop())
	err := m.Sync([]config.JobConfig{
		logJob("good", "schedule", "1m"),
		{Name: "unit", After: "1m", Action: config.ActionConfig{Type: "systemd", Unit: "x"}},
	})
	if !errors.Is(err, ErrNoUnits) {
		t.Fatalf("err=%v want ErrNoUnits", err)
	}
	if got := m.Names(); len(got) != 1 || got[0] != "good" {
		t.Fatalf("Names=%v", got)
	}
}

func TestSyncSkipsPastAt(t *testing.T) {
	t.Parallel()

	fs := &fakeSched{}
	m := New(fs, nil, logx.Nop())
	m.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := m.Sync([]config.JobConfig{logJob("old", "at", "2029-12-31T23:00:00Z")}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(fs.calls) != 0 {
		t.Fatalf("past job armed: %+v", fs.calls)
	}
}

func TestUnitActionMapsErrors(t *testing.T) {
	t.Parallel()

	fu := &fakeUnits{}
	fs := &fakeSched{}
	m := New(fs, fu, logx.Nop())
	err := m.Sync([]config.JobConfig{{
		Name:   "restart-nginx",
		After:  "1m",
		Action: config.ActionConfig{Type: "systemd", Unit: "nginx", Op: "restart"},
	}})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	job := fs.calls[0].job
	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if fu.op != systemd.OpRestart || fu.unit != "nginx.service" {
		t.Fatalf("unit call op=%q unit=%q", fu.op, fu.unit)
	}

	fu.err = systemd.ErrUnitMissing
	if err := job(context.Background()); !engine.IsNoRetry(err) {
		t.Fatalf("missing unit err=%v, want no-retry", err)
	}
}

func TestCommandAction(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		action  config.ActionConfig
		wantErr bool
		noRetry bool
		output  string
	}{
		{name: "ok", action: config.ActionConfig{Command: "sh", Args: []string{"-c", "echo hi"}}},
		{name: "exit code", action: config.ActionConfig{Command: "sh", Args: []string{"-c", "echo boom; exit 3"}}, wantErr: true, output: "boom"},
		{name: "missing binary", action: config.ActionConfig{Command: "wheeld-no-such-binary"}, wantErr: true, noRetry: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := commandAction(logx.Nop(), tc.action)(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if tc.noRetry != engine.IsNoRetry(err) {
				t.Fatalf("IsNoRetry=%v want %v (err=%v)", engine.IsNoRetry(err), tc.noRetry, err)
			}
			if tc.output != "" && !strings.Contains(err.Error(), tc.output) {
				t.Fatalf("err=%v missing output %q", err, tc.output)
			}
		})
	}
}

func TestTrimOutputKeepsTail(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", maxOutput) + "END"
	got := trimOutput([]byte(long + "\n"))
	if len(got) != maxOutput || !strings.HasSuffix(got, "END") {
		t.Fatalf("len=%d suffix ok=%v", len(got), strings.HasSuffix(got, "END"))
	}
}
