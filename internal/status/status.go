// Package status provides a thread-safe status tracker for the gpio-mirror daemon.
// It is read by the HTTP handlers and the MQTT lifecycle events while the
// poll loop writes to it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/gpio-mirror/internal/mirror"
)

// Config contains daemon configuration for display.
type Config struct {
	Backend     string
	SwitchLine  int
	LEDLine     int
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Switch        mirror.State
	LED           mirror.State
	Counts        mirror.Counts
	LastPoll      time.Time
	LastError     string
	LastErrorAt   time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Switch:    mirror.StateUnknown,
			LED:       mirror.StateUnknown,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the outcome of a successful poll.
func (t *Tracker) Update(res mirror.Result, counts mirror.Counts) {
	t.mu.Lock()
	t.snap.Switch = res.Switch
	t.snap.LED = res.LED
	t.snap.LastPoll = res.Time
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetError records a failed poll. A failed write leaves the LED state unknown.
func (t *Tracker) SetError(err error, at time.Time, led mirror.State, counts mirror.Counts) {
	t.mu.Lock()
	t.snap.LastError = err.Error()
	t.snap.LastErrorAt = at
	t.snap.LED = led
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetIntervals records a reloaded poll or heartbeat interval.
func (t *Tracker) SetIntervals(poll, heartbeat time.Duration) {
	t.mu.Lock()
	t.snap.Config.PollMs = poll.Milliseconds()
	t.snap.Config.HeartbeatMs = heartbeat.Milliseconds()
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
