package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "wheeld/pkg/logx"
)

// Notifier sends sd_notify state updates.
type Notifier struct {
	log logx.Logger

	send     func(state string) (bool, error)
	interval func() (time.Duration, error)
}

func NewNotifier(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log: log.With(logx.String("comp", "systemd")),
		send: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		interval: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) Ready()     { n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Reloading() { n.notify(daemon.SdNotifyReloading) }
func (n *Notifier) Stopping()  { n.notify(daemon.SdNotifyStopping) }

// Status sets the free-form STATUS= line shown by systemctl status.
func (n *Notifier) Status(msg string) { n.notify("STATUS=" + msg) }

func (n *Notifier) notify(state string) bool {
	ok, err := n.send(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	if ok && n.log.Enabled(logx.LevelDebug) {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
	return ok
}

// WatchdogInterval reports how often the watchdog expects a ping. It is zero
// when WatchdogSec is not configured for this unit.
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := n.interval()
	if err != nil {
		n.log.Warn("watchdog env invalid", logx.Err(err))
		return 0
	}
	return d
}

// Watchdog pings WATCHDOG=1 at half the configured interval until ctx ends.
// It returns nil immediately when no watchdog is configured.
func (n *Notifier) Watchdog(ctx context.Context) error {
	d := n.WatchdogInterval()
	if d <= 0 {
		return nil
	}
	every := d / 2
	if every <= 0 {
		every = d
	}
	n.log.Info("watchdog enabled", logx.Duration("interval", d), logx.Duration("ping_every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	n.notify(daemon.SdNotifyWatchdog)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
