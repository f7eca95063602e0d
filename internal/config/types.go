package config

// Config is the on-disk shape of wheeld's configuration (JSON or YAML).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Wheel sets timing wheel geometry. Changes need a restart.
	Wheel WheelConfig `json:"wheel"`

	// Scheduler controls triggers (cron/interval/one-shot).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of fired triggers.
	// If omitted, the engine follows scheduler.enabled with defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Pprof   PprofConfig    `json:"pprof,omitempty"`
	Systemd SystemdConfig  `json:"systemd,omitempty"`

	Jobs []JobConfig `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// MaxPerSec caps Warn/Error lines per second. 0 = unlimited.
	MaxPerSec int `json:"max_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WheelConfig controls the hierarchical timing wheel.
//
// Defaults: tick "100ms", wheel_size 64, max_levels 0 (grow on demand).
type WheelConfig struct {
	Tick      string `json:"tick,omitempty"`
	WheelSize int    `json:"wheel_size,omitempty"`
	MaxLevels int    `json:"max_levels,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone for cron schedules.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
//   - rate_per_sec: 0 (unlimited)
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`

	// RatePerSec limits how many tasks start per second across all workers.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	RateBurst  int `json:"rate_burst,omitempty"`
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./wheeld.db", "history_limit": 5000 }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite only
	HistoryLimit int    `json:"history_limit,omitempty"`
}

// PprofConfig controls the optional diagnostics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// SystemdConfig controls sd_notify integration. Both flags are no-ops when
// the process is not started by systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify,omitempty"`
	Watchdog bool `json:"watchdog,omitempty"`
}

// JobConfig declares a job. Exactly one of schedule, after and at is set.
//
//   - schedule: cron spec or "every 5m" style interval (robfig/cron)
//   - after: Go duration from load time, runs once on the timing wheel
//   - at: RFC3339 time, runs once on the timing wheel
type JobConfig struct {
	Name     string `json:"name"`
	Disabled bool   `json:"disabled,omitempty"`

	Schedule string `json:"schedule,omitempty"`
	After    string `json:"after,omitempty"`
	At       string `json:"at,omitempty"`

	Timeout  string `json:"timeout,omitempty"`
	Overlap  string `json:"overlap,omitempty"` // "skip" (default) or "allow"
	RetryMax int    `json:"retry_max,omitempty"`

	Action ActionConfig `json:"action"`
}

// ActionConfig selects what a job does when it fires.
//
//	{"type": "log", "message": "...", "level": "info"}
//	{"type": "command", "command": "/usr/bin/backup", "args": ["--fast"]}
//	{"type": "systemd", "unit": "nginx.service", "op": "restart"}
type ActionConfig struct {
	Type string `json:"type"`

	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`

	Unit string `json:"unit,omitempty"`
	Op   string `json:"op,omitempty"`
}
