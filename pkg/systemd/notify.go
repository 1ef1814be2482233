// Package systemd reports service state to systemd through sd_notify. Every
// call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd that startup finished. It reports whether the
// notification was delivered.
func Ready() (bool, error) {
	return notify(daemon.SdNotifyReady)
}

// Stopping tells systemd that shutdown began.
func Stopping() (bool, error) {
	return notify(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) {
	return notify("STATUS=" + msg)
}

// WatchdogInterval returns the interval at which the watchdog expects a
// ping, or zero when the unit has no watchdog.
func WatchdogInterval() (time.Duration, error) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0, errors.Wrap(err, "systemd: watchdog")
	}
	return d, nil
}

// RunWatchdog pings the watchdog at half its interval until ctx is done.
// alive is consulted before every ping; a false result skips the ping so
// systemd restarts a wedged process.
func RunWatchdog(ctx context.Context, interval time.Duration, alive func() bool) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if alive != nil && !alive() {
				continue
			}
			if _, err := notify(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}

func notify(state string) (bool, error) {
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		return false, errors.Wrapf(err, "systemd: notify %q", state)
	}
	return ok, nil
}
