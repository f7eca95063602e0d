package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wheeld/internal/eventbus"
	"wheeld/internal/task/engine"
	logx "wheeld/pkg/logx"
	"wheeld/pkg/timingwheel"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

type (
	OverlapPolicy = engine.OverlapPolicy
	TaskOptions   = engine.TaskOptions
	HistoryItem   = engine.HistoryItem
)

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Job is the body of a scheduled task.
type Job = func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	opt           TaskOptions
	state         *engine.RunState
}

// onceDef is a one-shot timer. ver changes on every upsert and rides on the
// wheel task as its tag, so a fire of a replaced timer can tell it is stale.
type onceDef struct {
	name    string
	at      time.Time
	timeout time.Duration
	opt     TaskOptions
	job     Job
	ver     uint64
	handle  *timingwheel.Handle
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service
	wheel  *timingwheel.TimingWheel

	parser  cron.Parser
	c       *cron.Cron
	defs    []scheduleDef
	started bool

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// omu serializes writers of once and guards onceSeq and every handle.
	// Readers on the fire path use once without it. Lock order: mu, then omu.
	omu     sync.Mutex
	once    sync.Map // string -> *onceDef
	onceSeq uint64
}

type ScheduleInfo struct {
	Name          string        `json:"name"`
	Spec          string        `json:"spec"`
	Timeout       time.Duration `json:"timeout"`
	StartupSpread time.Duration `json:"startup_spread,omitempty"`
	Next          time.Time     `json:"next"`
	Prev          time.Time     `json:"prev"`
}

type OnceInfo struct {
	Name     string        `json:"name"`
	At       time.Time     `json:"at"`
	Deadline time.Time     `json:"deadline"`
	Timeout  time.Duration `json:"timeout"`
	Pending  bool          `json:"pending"`
}

type Snapshot struct {
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	Timezone string `json:"timezone"`

	Schedules []ScheduleInfo `json:"schedules"`
	Once      []OnceInfo     `json:"once"`

	// Effective retry defaults applied to tasks without overrides.
	RetryMax      int           `json:"retry_max"`
	RetryBase     time.Duration `json:"retry_base"`
	RetryMaxDelay time.Duration `json:"retry_max_delay"`

	Engine engine.Snapshot       `json:"engine"`
	Wheel  *timingwheel.Snapshot `json:"wheel,omitempty"`
}
