package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"wheeld/internal/eventbus"
	"wheeld/internal/observability/timerstats"
	"wheeld/internal/task/engine"
	logx "wheeld/pkg/logx"
)

func openTest(t *testing.T, driver string, limit int) (Store, Config) {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "wheeld.db"), HistoryLimit: limit}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	return st, cfg
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	if st, err := Open(Config{Driver: "none"}, logx.Nop()); st != nil || err != nil {
		t.Fatalf("none: st=%v err=%v", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("unknown: err=%v", err)
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("file without path accepted")
	}
}

func TestDriversAppendAndRecent(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st, _ := openTest(t, driver, 100)
			defer st.Close()

			ctx := context.Background()
			base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				err := st.AppendRun(ctx, RunRecord{
					At:       base.Add(time.Duration(i) * time.Second),
					Event:    eventbus.TaskFinished,
					ID:       fmt.Sprintf("id-%d", i),
					Name:     "job",
					Status:   engine.StatusOK,
					Duration: 1500 * time.Millisecond,
					Attempts: 1,
				})
				if err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}
			got, err := st.RecentRuns(ctx, 2)
			if err != nil {
				t.Fatalf("RecentRuns: %v", err)
			}
			if len(got) != 2 || got[0].ID != "id-4" || got[1].ID != "id-3" {
				t.Fatalf("recent=%+v", got)
			}
			if !got[0].At.Equal(base.Add(4*time.Second)) || got[0].Duration != 1500*time.Millisecond {
				t.Fatalf("round trip lost fields: %+v", got[0])
			}
		})
	}
}

func TestFileStoreReloadsAndCompacts(t *testing.T) {
	t.Parallel()
	st, cfg := openTest(t, "file", 3)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if err := st.AppendRun(ctx, RunRecord{ID: fmt.Sprintf("r%d", i), Name: "job"}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	fs := st.(*fileStore)
	if fs.lines >= 2*fs.limit {
		t.Fatalf("not compacted: lines=%d", fs.lines)
	}
	_ = st.Close()
	if err := st.AppendRun(ctx, RunRecord{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: %v", err)
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, _ := st2.RecentRuns(ctx, 0)
	if len(got) != 3 || got[0].ID != "r6" || got[2].ID != "r4" {
		t.Fatalf("after reopen: %+v", got)
	}
}

func TestToRecord(t *testing.T) {
	t.Parallel()
	now := time.Now()
	cases := []struct {
		name string
		ev   eventbus.Event
		keep bool
		want string
	}{
		{"finished", eventbus.Event{Type: eventbus.TaskFinished, Time: now, Data: engine.TaskEvent{ID: "a", Name: "job"}}, true, "job"},
		{"started", eventbus.Event{Type: eventbus.TaskStarted, Time: now, Data: engine.TaskEvent{ID: "a", Name: "job"}}, false, ""},
		{"cancelled", eventbus.Event{Type: eventbus.TimerCancelled, Time: now, Data: timerstats.Event{ID: "7.2"}}, true, "timer:7.2"},
		{"expired", eventbus.Event{Type: eventbus.TimerExpired, Time: now, Data: timerstats.Event{ID: "7.2"}}, false, ""},
		{"foreign", eventbus.Event{Type: "other", Data: 42}, false, ""},
	}
	for _, tc := range cases {
		rec, keep := ToRecord(tc.ev)
		if keep != tc.keep || rec.Name != tc.want {
			t.Fatalf("%s: keep=%v rec=%+v", tc.name, keep, rec)
		}
	}
}

func TestRecorderWritesFromBus(t *testing.T) {
	t.Parallel()
	st, _ := openTest(t, "file", 10)
	defer st.Close()
	bus := eventbus.New()
	rec := NewRecorder(st, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rec.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		// Publish until the subscription is live.
		bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Time: time.Now(), Data: engine.TaskEvent{ID: "x", Name: "job", Error: "boom"}})
		got, _ := st.RecentRuns(context.Background(), 1)
		if len(got) == 1 {
			if got[0].Error != "boom" || got[0].Event != eventbus.TaskFailed {
				t.Fatalf("record=%+v", got[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("recorder wrote nothing")
}
