package systemd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

var (
	ErrUnknownOp   = errors.New("systemd: unknown unit operation")
	ErrUnitName    = errors.New("systemd: unit name required")
	ErrJobFailed   = errors.New("systemd: unit job did not complete")
	ErrUnitMissing = errors.New("systemd: unit not found")
)

type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
)

func ParseOp(s string) (Op, error) {
	switch Op(strings.ToLower(strings.TrimSpace(s))) {
	case OpStart:
		return OpStart, nil
	case OpStop:
		return OpStop, nil
	case OpRestart, "":
		return OpRestart, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOp, s)
	}
}

// UnitName appends ".service" to bare names.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 && i < len(name)-1 {
		switch name[i+1:] {
		case "service", "timer", "socket", "target", "mount", "path", "slice", "scope":
			return name
		}
	}
	return name + ".service"
}

// UnitController runs unit jobs on the system bus. The connection is dialed
// lazily and redialed after it drops.
type UnitController struct {
	mu   sync.Mutex
	conn *dbus.Conn
	dial func(ctx context.Context) (*dbus.Conn, error)
}

func NewUnitController() *UnitController {
	return &UnitController{dial: dbus.NewSystemConnectionContext}
}

func (c *UnitController) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if c.conn != nil && c.conn.Connected() {
		return c.conn, nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	c.conn = conn
	return conn, nil
}

// Do queues op for unit in "replace" mode and waits for the job result.
func (c *UnitController) Do(ctx context.Context, op Op, unit string) error {
	unit = UnitName(unit)
	if unit == "" {
		return ErrUnitName
	}

	c.mu.Lock()
	conn, err := c.connLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	done := make(chan string, 1)
	switch op {
	case OpStart:
		_, err = conn.StartUnitContext(ctx, unit, "replace", done)
	case OpStop:
		_, err = conn.StopUnitContext(ctx, unit, "replace", done)
	case OpRestart:
		_, err = conn.RestartUnitContext(ctx, unit, "replace", done)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	if err != nil {
		if isNoSuchUnit(err) {
			return fmt.Errorf("%w: %s", ErrUnitMissing, unit)
		}
		return fmt.Errorf("%s %s: %w", op, unit, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		return jobResult(op, unit, res)
	}
}

// ActiveState returns systemd's ActiveState (active, inactive, failed, ...).
func (c *UnitController) ActiveState(ctx context.Context, unit string) (string, error) {
	unit = UnitName(unit)
	if unit == "" {
		return "", ErrUnitName
	}
	c.mu.Lock()
	conn, err := c.connLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	units, err := conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err != nil {
		return "", fmt.Errorf("status %s: %w", unit, err)
	}
	if len(units) == 0 || units[0].LoadState == "not-found" {
		return "", fmt.Errorf("%w: %s", ErrUnitMissing, unit)
	}
	return units[0].ActiveState, nil
}

func (c *UnitController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func jobResult(op Op, unit, res string) error {
	if res == "done" {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %s", ErrJobFailed, op, unit, res)
}

func isNoSuchUnit(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NoSuchUnit")
}
