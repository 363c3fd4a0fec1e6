// Package domain holds the alarm event model shared by the router,
// publisher, and history packages.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AlarmType classifies what a connectivity violation means for the device.
type AlarmType string

const (
	// AlarmOffline signals the device stopped reporting (violation in-alarm).
	AlarmOffline AlarmType = "offline"
	// AlarmOnline signals the device resumed reporting (violation cleared).
	AlarmOnline AlarmType = "online"
	// AlarmInvalidated signals the violation was withdrawn; never routed.
	AlarmInvalidated AlarmType = "invalidated"
)

// MalformedEventError marks an event that can never route. Consumers log and
// acknowledge such events instead of retrying them.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed alarm event: " + e.Reason
}

// AlarmEvent is a connectivity violation in flight through the router.
// Events are ephemeral; only dispatch history persists them.
type AlarmEvent struct {
	DeviceID     string
	Organization string
	Type         AlarmType
	Timestamp    int64 // milliseconds since epoch
	Payload      []byte
}

// DedupKey identifies redelivered copies of the same violation. Destinations
// that honor the key collapse duplicates.
func (e *AlarmEvent) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d", e.DeviceID, e.Type, e.Timestamp)
}

// EventTime returns the violation time in UTC.
func (e *AlarmEvent) EventTime() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Connectivity renders the device state the alarm reports, in the wording
// notification emails use.
func (e *AlarmEvent) Connectivity() string {
	switch e.Type {
	case AlarmOffline:
		return "disconnected"
	case AlarmOnline:
		return "connected"
	default:
		return "invalidated"
	}
}

// Envelope is the wire shape violation events travel in. The fleet monitor
// publishes it; the router and the seed producer share it.
type Envelope struct {
	ThingName           string `json:"thingName"`
	Organization        string `json:"organization,omitempty"`
	ViolationEventType  string `json:"violationEventType"`
	ViolationEventTime  int64  `json:"violationEventTime"`
	SecurityProfileName string `json:"securityProfileName,omitempty"`
}

// ParseEvent deserializes a violation envelope. Missing device name or event
// type yields a MalformedEventError; unrecognized event types map to
// AlarmInvalidated, matching how the monitor retires stale violations.
func ParseEvent(raw []byte) (*AlarmEvent, error) {
	var v Envelope
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &MalformedEventError{Reason: err.Error()}
	}
	if v.ThingName == "" {
		return nil, &MalformedEventError{Reason: "missing thingName"}
	}
	if v.ViolationEventType == "" {
		return nil, &MalformedEventError{Reason: "missing violationEventType"}
	}
	return &AlarmEvent{
		DeviceID:     v.ThingName,
		Organization: v.Organization,
		Type:         alarmTypeOf(v.ViolationEventType),
		Timestamp:    v.ViolationEventTime,
		Payload:      raw,
	}, nil
}

func alarmTypeOf(violationType string) AlarmType {
	switch violationType {
	case "in-alarm":
		return AlarmOffline
	case "alarm-cleared":
		return AlarmOnline
	default:
		return AlarmInvalidated
	}
}
