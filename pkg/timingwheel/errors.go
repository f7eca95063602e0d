package timingwheel

import "errors"

var (
	ErrInvalidDelay     = errors.New("timingwheel: delay must be >= 0")
	ErrWorkerNotRunning = errors.New("timingwheel: worker not running")
	ErrInvalidConfig    = errors.New("timingwheel: invalid config")
	ErrNilCallback      = errors.New("timingwheel: callback is nil")
	ErrNilSink          = errors.New("timingwheel: sink is nil")

	errSinkPanicked = errors.New("timingwheel: sink panicked")
)
