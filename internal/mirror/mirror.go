package mirror

import "time"

// Mirror tracks the LED state driven from successive switch samples.
// Transitions are level-triggered: every sample decides the LED state on its own.
type Mirror struct {
	led           State
	counts        Counts
	startTime     time.Time
	lastHeartbeat time.Time
}

// New creates a Mirror. The startTime is used for calculating uptime in heartbeat events.
func New(startTime time.Time) *Mirror {
	return &Mirror{
		led:           StateUnknown,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process records a poll whose LED write succeeded and returns its result.
// The LED state always follows the sample, so the caller drives the LED to
// s.Switch before calling Process.
func (m *Mirror) Process(s Sample) Result {
	target := StateOf(s.Switch)
	changed := m.led != target
	m.led = target

	m.counts.Polls++
	if s.Switch {
		m.counts.On++
	} else {
		m.counts.Off++
	}
	if changed {
		m.counts.Changes++
	}

	return Result{
		Time:    s.Time,
		Switch:  target,
		LED:     target,
		Changed: changed,
	}
}

// RecordReadError counts a failed switch read. The LED state is left as is.
func (m *Mirror) RecordReadError() {
	m.counts.ReadErrors++
}

// RecordWriteError counts a failed LED write. The LED level is no longer
// known, so the next successful poll reports a change.
func (m *Mirror) RecordWriteError() {
	m.counts.WriteErrors++
	m.led = StateUnknown
}

// LED returns the last LED state driven.
func (m *Mirror) LED() State {
	return m.led
}

// Counts returns a copy of the poll counters.
func (m *Mirror) Counts() Counts {
	return m.counts
}

// CheckHeartbeat returns heartbeat data if interval has elapsed since the last
// heartbeat (or start), nil otherwise. An interval of 0 disables heartbeats.
func (m *Mirror) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(m.lastHeartbeat) < interval {
		return nil
	}
	m.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(m.startTime),
		Counts:    m.counts,
	}
}
