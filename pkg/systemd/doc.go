// Package systemd talks to the service manager: sd_notify readiness and
// watchdog pings, and unit start/stop/restart over D-Bus.
//
// Every call degrades to a no-op (or a clear error) when the process is not
// running under systemd, so callers do not need to guard them.
package systemd
