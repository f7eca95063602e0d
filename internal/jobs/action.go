package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"wheeld/internal/config"
	"wheeld/internal/task/engine"
	"wheeld/internal/task/scheduler"
	logx "wheeld/pkg/logx"
	"wheeld/pkg/systemd"
)

const maxOutput = 512

// UnitRunner runs a systemd unit job. *systemd.UnitController implements it.
type UnitRunner interface {
	Do(ctx context.Context, op systemd.Op, unit string) error
}

func (m *Manager) buildAction(name string, a config.ActionConfig) (scheduler.Job, error) {
	log := m.log.With(logx.String("job", name))
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "log", "":
		return logAction(log, a), nil
	case "command":
		return commandAction(log, a), nil
	case "systemd":
		if m.units == nil {
			return nil, ErrNoUnits
		}
		op, err := systemd.ParseOp(a.Op)
		if err != nil {
			return nil, err
		}
		return unitAction(log, m.units, op, a.Unit), nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrAction, a.Type)
	}
}

func logAction(log logx.Logger, a config.ActionConfig) scheduler.Job {
	msg := a.Message
	if msg == "" {
		msg = "job fired"
	}
	level := strings.ToLower(strings.TrimSpace(a.Level))
	return func(context.Context) error {
		switch level {
		case "debug":
			log.Debug(msg)
		case "warn", "warning":
			log.Warn(msg)
		case "error":
			log.Error(msg)
		default:
			log.Info(msg)
		}
		return nil
	}
}

func commandAction(log logx.Logger, a config.ActionConfig) scheduler.Job {
	bin := strings.TrimSpace(a.Command)
	args := append([]string(nil), a.Args...)
	dir := a.Dir
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, bin, args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		tail := trimOutput(out)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return engine.NoRetry(fmt.Errorf("command %s: %w", bin, err))
			}
			if tail != "" {
				return fmt.Errorf("command %s: %w: %s", bin, err, tail)
			}
			return fmt.Errorf("command %s: %w", bin, err)
		}
		if tail != "" && log.Enabled(logx.LevelDebug) {
			log.Debug("command output", logx.String("command", bin), logx.String("output", tail))
		}
		return nil
	}
}

func unitAction(log logx.Logger, units UnitRunner, op systemd.Op, unit string) scheduler.Job {
	unit = systemd.UnitName(unit)
	return func(ctx context.Context) error {
		if err := units.Do(ctx, op, unit); err != nil {
			if errors.Is(err, systemd.ErrUnitMissing) {
				return engine.NoRetry(err)
			}
			return err
		}
		log.Info("unit job done", logx.String("unit", unit), logx.String("op", string(op)))
		return nil
	}
}

// trimOutput keeps the last maxOutput bytes of combined output.
func trimOutput(out []byte) string {
	out = bytes.TrimSpace(out)
	if len(out) > maxOutput {
		out = out[len(out)-maxOutput:]
	}
	return string(out)
}
