// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/gpio-mirror/internal/mirror"
)

// Topic is the MQTT topic for LED change events.
const Topic = "gpio/mirror/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "gpio/mirror/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an LED change to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(result mirror.Result) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Mirror MirrorPayload `json:"mirror"`
}

// MirrorPayload contains the LED change details.
type MirrorPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Switch    string `json:"switch"`
	LED       string `json:"led"`
}

// FormatPayload creates the JSON payload for an LED change.
func FormatPayload(result mirror.Result) ([]byte, error) {
	payload := Payload{
		Mirror: MirrorPayload{
			Timestamp: result.Time.UTC().Format(time.RFC3339),
			Event:     string(result.Event()),
			Switch:    string(result.Switch),
			LED:       string(result.LED),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the retained last-will message the broker publishes on
// TopicSystem when the connection drops without a clean disconnect.
// It carries no timestamp because it is registered at connect time.
func WillPayload() []byte {
	data, _ := json.Marshal(SystemPayload{
		System: SystemPayloadInner{Event: "OFFLINE", Reason: "CONNECTION_LOST"},
	})
	return data
}
