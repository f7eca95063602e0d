package jobs

import "errors"

var (
	ErrNameRequired  = errors.New("jobs: name required")
	ErrDuplicateName = errors.New("jobs: duplicate name")
	ErrTrigger       = errors.New("jobs: exactly one of schedule, after, at is required")
	ErrAction        = errors.New("jobs: invalid action")
	ErrNoUnits       = errors.New("jobs: systemd action needs a unit controller")
)
