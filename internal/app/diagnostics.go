package app

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"wheeld/internal/eventbus"
	"wheeld/internal/observability/timerstats"
	"wheeld/internal/storage"
	"wheeld/internal/task/engine"
	"wheeld/internal/task/scheduler"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 1000
)

type timersReport struct {
	Scheduler     scheduler.Snapshot  `json:"scheduler"`
	Hooks         timerstats.Snapshot `json:"hooks"`
	Jobs          []string            `json:"jobs"`
	BusDropped    uint64              `json:"bus_dropped"`
	LogSuppressed uint64              `json:"log_suppressed"`
}

type runsReport struct {
	Source string               `json:"source"` // "storage" or "memory"
	Runs   []storage.RunRecord  `json:"runs,omitempty"`
	Recent []engine.HistoryItem `json:"recent,omitempty"`
}

func (a *App) registerDiagnostics() {
	a.pprof.SetHealth(a.health)
	a.pprof.Handle("/debug/timers", func(*http.Request) (any, error) { return a.timers(), nil })
	a.pprof.Handle("/debug/runs", a.runs)
}

func (a *App) health() error {
	if !a.wheel.Running() {
		return errors.New("timing wheel not running")
	}
	if a.engine.Enabled() && !a.engine.Running() {
		return errors.New("task engine not running")
	}
	return nil
}

func (a *App) timers() timersReport {
	r := timersReport{
		Scheduler: a.sched.Snapshot(),
		Hooks:     a.stats.Snapshot(),
		Jobs:      a.jobs.Names(),
	}
	if st, ok := a.bus.(eventbus.Stats); ok {
		r.BusDropped = st.Dropped()
	}
	if a.logs != nil {
		r.LogSuppressed = a.logs.Suppressed()
	}
	return r
}

// runs serves ?limit=N recent runs, newest first. Without storage it falls
// back to the engine's in-memory history.
func (a *App) runs(r *http.Request) (any, error) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("limit must be a positive integer")
		}
		limit = min(n, maxRunsLimit)
	}

	if a.store == nil {
		hist := a.engine.Snapshot().History
		if len(hist) > limit {
			hist = hist[len(hist)-limit:]
		}
		slices.Reverse(hist)
		return runsReport{Source: "memory", Recent: hist}, nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	recs, err := a.store.RecentRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	return runsReport{Source: "storage", Runs: recs}, nil
}
