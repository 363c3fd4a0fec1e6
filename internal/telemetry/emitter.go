// Package telemetry carries the application event stream: request and alarm
// events emitted best-effort to the configured backend (OTel logs).
package telemetry

import (
	"context"
	"time"
)

// Event is a single application event (API request handled, alarm routed).
// Metadata holds the event-type-specific JSON payload.
type Event struct {
	Subject      string    `json:"subject,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Organization string    `json:"organization,omitempty"`
	DeviceName   string    `json:"deviceName,omitempty"`
	EventType    string    `json:"eventType"`
	Source       string    `json:"source"`
	Metadata     []byte    `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EventEmitter emits application events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
