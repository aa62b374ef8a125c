// Package emitter publishes zone, relay and safety events to MQTT so
// dashboards and home automation can react without polling the HTTP API.
package emitter

import (
	"encoding/json"
	"time"
)

// Event is anything the daemon can publish.
type Event interface {
	// Type names the event and selects its topic suffix and QoS.
	Type() string
	// Timestamp is when the event occurred.
	Timestamp() time.Time
	// ToJSON serializes the event payload.
	ToJSON() ([]byte, error)
}

// ZoneEvent reports a zone activation or deactivation.
type ZoneEvent struct {
	InstanceID string    `json:"instance_id"`
	ZoneID     int       `json:"zone_id"`
	ZoneName   string    `json:"zone_name"`
	Active     bool      `json:"active"`
	At         time.Time `json:"timestamp"`
}

func (e ZoneEvent) Type() string            { return "zone_event" }
func (e ZoneEvent) Timestamp() time.Time    { return e.At }
func (e ZoneEvent) ToJSON() ([]byte, error) { return json.Marshal(e) }

// RelayEvent reports a physical relay transition.
type RelayEvent struct {
	InstanceID string    `json:"instance_id"`
	Pin        int       `json:"pin"`
	On         bool      `json:"on"`
	At         time.Time `json:"timestamp"`
}

func (e RelayEvent) Type() string            { return "relay_event" }
func (e RelayEvent) Timestamp() time.Time    { return e.At }
func (e RelayEvent) ToJSON() ([]byte, error) { return json.Marshal(e) }

// WatchdogEvent reports a safety action: a watchdog trip or an emergency
// stop.
type WatchdogEvent struct {
	InstanceID string    `json:"instance_id"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"timestamp"`
}

func (e WatchdogEvent) Type() string            { return "watchdog_event" }
func (e WatchdogEvent) Timestamp() time.Time    { return e.At }
func (e WatchdogEvent) ToJSON() ([]byte, error) { return json.Marshal(e) }
