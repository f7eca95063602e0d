package timingwheel

import (
	"fmt"
	"time"

	logx "wheeld/pkg/logx"
)

const (
	DefaultTickDuration = 100 * time.Millisecond
	DefaultWheelSize    = 64
)

// Config controls wheel geometry.
//
// MaxLevels caps the number of levels. 0 means levels are added on demand
// until the span no longer fits in int64; 1 gives a single hashed wheel
// where long delays wait out extra revolutions.
type Config struct {
	TickDuration time.Duration
	WheelSize    int
	MaxLevels    int

	// StartTime is the epoch tick 0 is measured from. Zero means the clock's
	// current time when the wheel is created.
	StartTime time.Time
}

func (c Config) validate() error {
	if c.TickDuration <= 0 {
		return fmt.Errorf("%w: tick_duration must be > 0 (got %s)", ErrInvalidConfig, c.TickDuration)
	}
	if c.WheelSize < 2 {
		return fmt.Errorf("%w: wheel_size must be >= 2 (got %d)", ErrInvalidConfig, c.WheelSize)
	}
	if c.MaxLevels < 0 {
		return fmt.Errorf("%w: max_levels must be >= 0 (got %d)", ErrInvalidConfig, c.MaxLevels)
	}
	return nil
}

// Option configures optional collaborators.
type Option func(*options)

type options struct {
	clock Clock
	hooks Hooks
	log   logx.Logger
}

// WithClock replaces the system clock (tests use a fake one).
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithHooks installs observability hooks.
func WithHooks(h Hooks) Option {
	return func(o *options) {
		if h != nil {
			o.hooks = h
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}
