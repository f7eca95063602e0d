package scheduler

import "errors"

var (
	ErrNameRequired = errors.New("scheduler: name required")
	ErrAtRequired   = errors.New("scheduler: run time required")
	ErrNoWheel      = errors.New("scheduler: no timing wheel for one-shot timers")
	ErrBadSchedule  = errors.New("scheduler: invalid schedule")
)
