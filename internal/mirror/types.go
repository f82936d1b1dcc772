// Package mirror contains the pure switch-to-LED mirroring logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package mirror

import (
	"fmt"
	"time"
)

// State represents the logical state of a channel (switch or LED).
type State string

const (
	StateOn      State = "ON"
	StateOff     State = "OFF"
	StateUnknown State = "UNKNOWN"
)

// StateOf converts a logical level to a State.
func StateOf(level bool) State {
	if level {
		return StateOn
	}
	return StateOff
}

// EventType represents an LED transition to be published.
type EventType string

const (
	EventLEDOn  EventType = "LED_ON"
	EventLEDOff EventType = "LED_OFF"
)

// Sample represents a single reading of the switch input.
type Sample struct {
	Switch bool // true = ON
	Time   time.Time
}

// Result is the outcome of one poll.
type Result struct {
	Time   time.Time
	Switch State
	LED    State
	// Changed is true when the LED level differs from the previous poll,
	// including the first poll after startup or after a failed write.
	Changed bool
}

// Line renders the console status line for the poll.
func (r Result) Line() string {
	return fmt.Sprintf("Switch %s -> LED %s", r.Switch, r.LED)
}

// Event returns the transition event type for the LED state.
func (r Result) Event() EventType {
	if r.LED == StateOn {
		return EventLEDOn
	}
	return EventLEDOff
}

// Counts tracks poll outcomes since startup.
type Counts struct {
	Polls       int
	On          int
	Off         int
	Changes     int
	ReadErrors  int
	WriteErrors int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}
