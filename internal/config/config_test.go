package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()

	const js = `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"wheel": {"tick": "50ms", "wheel_size": 32},
		"scheduler": {"enabled": true, "timezone": "UTC"},
		"jobs": [{"name": "ping", "after": "5s", "action": {"type": "log", "message": "hi"}}]
	}`
	const ym = `
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
wheel:
  tick: 50ms
  wheel_size: 32
scheduler:
  enabled: true
  timezone: UTC
jobs:
  - name: ping
    after: 5s
    action: {type: log, message: hi}
`
	a, err := Decode("c.json", []byte(js))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	b, err := Decode("c.yaml", []byte(ym))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if hashConfig(a) != hashConfig(b) {
		t.Fatalf("json and yaml decode differently:\n%+v\n%+v", a, b)
	}
	if a.Wheel.WheelSize != 32 || len(a.Jobs) != 1 || a.Jobs[0].Action.Type != "log" {
		t.Fatalf("unexpected decode: %+v", a)
	}
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{"unknown top-level", "c.json", `{"telegram": {}}`, "unknown field"},
		{"unknown nested", "c.json", `{"wheel": {"slots": 8}}`, "unknown field"},
		{"unknown in job action", "c.yaml", "jobs:\n  - name: x\n    action: {type: log, msg: hi}\n", "unknown field"},
		{"bad yaml", "c.yml", "wheel: [", "yaml unmarshal"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.path, []byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want substring %q", err, tc.want)
			}
		})
	}

	if _, err := Decode("c.json", []byte(`{} {}`)); !errors.Is(err, ErrTrailingData) {
		t.Fatalf("trailing data err=%v", err)
	}
}

func TestReloadSkipsUnchangedAndValidates(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "wheeld.json")
	writeFile(t, path, `{"scheduler": {"enabled": true}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	if published, err := m.Reload(context.Background()); err != nil || published {
		t.Fatalf("unchanged reload published=%v err=%v", published, err)
	}

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Wheel.WheelSize == 1 {
			return errors.New("wheel_size too small")
		}
		return nil
	})
	writeFile(t, path, `{"wheel": {"wheel_size": 1}}`)
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatalf("validator did not reject")
	}
	if m.Get().Wheel.WheelSize == 1 {
		t.Fatalf("rejected config was committed")
	}

	writeFile(t, path, `{"wheel": {"wheel_size": 16}}`)
	if published, err := m.Reload(context.Background()); err != nil || !published {
		t.Fatalf("reload published=%v err=%v", published, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Wheel.WheelSize != 16 {
			t.Fatalf("subscriber got %+v", cfg.Wheel)
		}
	default:
		t.Fatalf("subscriber not notified")
	}
}

func TestPublishKeepsNewestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)

	first := &Config{Wheel: WheelConfig{WheelSize: 8}}
	second := &Config{Wheel: WheelConfig{WheelSize: 16}}
	m.publish(first)
	m.publish(second)

	if got := <-sub; got != second {
		t.Fatalf("got %+v, want newest", got.Wheel)
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("channel not closed after Unsubscribe")
	}
}

func TestWatchPublishesFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wheeld.yaml")
	writeFile(t, path, "scheduler:\n  enabled: true\n")

	m := NewConfigManager(path)
	m.SetDebounce(20 * time.Millisecond)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "scheduler:\n  enabled: true\n  timezone: UTC\n")

	select {
	case cfg := <-sub:
		if cfg.Scheduler.Timezone != "UTC" {
			t.Fatalf("got timezone %q", cfg.Scheduler.Timezone)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Pprof: PprofConfig{Enabled: true, Token: "a"},
		Jobs: []JobConfig{
			{Name: "keep", After: "1m"},
			{Name: "edit", After: "1m"},
			{Name: "drop", After: "1m"},
		},
	}
	newCfg := &Config{
		Pprof: PprofConfig{Enabled: true, Token: "b"},
		Wheel: WheelConfig{Tick: "10ms"},
		Jobs: []JobConfig{
			{Name: "keep", After: "1m"},
			{Name: "edit", After: "2m"},
			{Name: "add", Schedule: "@every 1m"},
		},
	}
	sections, _, jobs := SummarizeConfigChange(oldCfg, newCfg)
	if got := strings.Join(sections, ","); got != "jobs,pprof,wheel" {
		t.Fatalf("sections=%s", got)
	}
	if got := strings.Join(jobs, ","); got != "add,drop,edit" {
		t.Fatalf("jobs=%s", got)
	}

	sections, _, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(sections) != 0 {
		t.Fatalf("identical configs reported %v", sections)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " "); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil || !strings.Contains(err.Error(), "x:") {
		t.Fatalf("bad duration err=%v", err)
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Second); d != time.Second {
		t.Fatalf("default not applied: %v", d)
	}
}
