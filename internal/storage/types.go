package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// HistoryLimit bounds how many records are kept. 0 means 10000.
	HistoryLimit int
}

func (c Config) limit() int {
	if c.HistoryLimit <= 0 {
		return 10000
	}
	return c.HistoryLimit
}

// RunRecord is one line of run history. Keep it compact and schema-stable.
type RunRecord struct {
	At         time.Time     `json:"at"`
	Event      string        `json:"event"`
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     string        `json:"status,omitempty"`
	Lag        time.Duration `json:"lag,omitempty"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Store is the persistence API of run history.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}
