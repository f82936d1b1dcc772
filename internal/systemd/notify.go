// Package systemd reports service state to systemd over the sd_notify socket.
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"log"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	watchdog time.Duration
}

// NewNotifier reads the watchdog interval from the environment systemd provides.
func NewNotifier() *Notifier {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Printf("systemd: watchdog: %v", err)
	}
	return &Notifier{watchdog: interval}
}

// WatchdogInterval returns the configured watchdog timeout, 0 when disabled.
func (n *Notifier) WatchdogInterval() time.Duration {
	return n.watchdog
}

// Ready tells systemd startup is complete.
func (n *Notifier) Ready() {
	n.send(daemon.SdNotifyReady)
}

// Stopping tells systemd shutdown has begun.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Watchdog pets the watchdog if one is configured.
func (n *Notifier) Watchdog() {
	if n.watchdog > 0 {
		n.send(daemon.SdNotifyWatchdog)
	}
}

// Status sets the one-line status shown by systemctl status.
func (n *Notifier) Status(line string) {
	n.send("STATUS=" + line)
}

func (n *Notifier) send(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Printf("systemd: notify %q: %v", state, err)
	}
}
