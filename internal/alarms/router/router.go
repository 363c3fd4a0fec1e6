// Package router resolves alarm events to destination topics and dispatches
// notifications, one event at a time.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"streaming-status/backend/internal/alarms/domain"
	"streaming-status/backend/internal/alarms/publisher"
	devicedomain "streaming-status/backend/internal/device/domain"
	devicerepo "streaming-status/backend/internal/device/repository"
)

const (
	subjectTemplate = "ALARM: %s Device Connectivity Alarm"
	bodyTemplate    = `
You are receiving this email because the IoT device %s has been %s.

Device name: %s
Connectivity status: %s
Event date and time: %s
`
	eventTimeLayout = "Mon, 02 Jan 2006 at 15:04"
)

// LedgerLookup is the slice of the device ledger the router uses to attach
// device attributes to events.
type LedgerLookup interface {
	Find(ctx context.Context, scope devicerepo.Scope, serial string) (*devicedomain.LedgerRecord, error)
}

// Recorder persists dispatched events. Recording is best-effort; failures
// are logged, never retried.
type Recorder interface {
	Record(ctx context.Context, event *domain.AlarmEvent, destinations []string) error
}

// State is the terminal routing state of one event.
type State string

const (
	// StateDispatched means every resolved destination accepted the event.
	StateDispatched State = "dispatched"
	// StateFailed means at least one destination publish failed; the event
	// is eligible for redelivery.
	StateFailed State = "failed"
)

// Dispatch is the outcome of publishing to one destination.
type Dispatch struct {
	Topic string
	Err   error
}

// Result reports how one event routed.
type Result struct {
	Event      *domain.AlarmEvent
	State      State
	Dispatches []Dispatch
}

// Router runs the per-event pipeline: parse, resolve destinations against
// the routing rules, dispatch to every destination, record history.
type Router struct {
	engine    *PolicyEngine
	ledger    LedgerLookup
	publisher publisher.Publisher
	history   Recorder
	timeout   time.Duration
}

// New returns a Router. ledger and history may be nil, disabling device
// attribute resolution and dispatch history respectively.
func New(engine *PolicyEngine, ledger LedgerLookup, pub publisher.Publisher, history Recorder, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{engine: engine, ledger: ledger, publisher: pub, history: history, timeout: timeout}
}

// Route processes one raw event envelope. A MalformedEventError is returned
// for events that can never route; the caller acknowledges those. Any other
// error leaves the event eligible for redelivery, so publishes must be
// idempotent on the dedup key.
func (r *Router) Route(ctx context.Context, raw []byte) (*Result, error) {
	event, err := domain.ParseEvent(raw)
	if err != nil {
		return nil, err
	}

	device, err := r.deviceAttributes(ctx, event)
	if err != nil {
		return nil, err
	}
	if event.Organization == "" {
		event.Organization = device.Organization
	}

	destinations, err := r.engine.Destinations(ctx, event, device)
	if err != nil {
		return nil, err
	}

	result := &Result{Event: event, State: StateDispatched}
	if len(destinations) == 0 {
		log.Printf("alarms: no destinations for %s event on %s, dropping", event.Type, event.DeviceID)
		return result, nil
	}

	msg := notification(event)
	result.Dispatches = make([]Dispatch, len(destinations))
	var wg sync.WaitGroup
	for i, topic := range destinations {
		wg.Add(1)
		go func(i int, topic string) {
			defer wg.Done()
			publishCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			err := r.publisher.Publish(publishCtx, topic, msg)
			if errors.Is(err, publisher.ErrTopicNotFound) {
				log.Printf("alarms: destination %s does not exist, skipping", topic)
				err = nil
			}
			result.Dispatches[i] = Dispatch{Topic: topic, Err: err}
		}(i, topic)
	}
	wg.Wait()

	failed := 0
	for _, d := range result.Dispatches {
		if d.Err != nil {
			failed++
			log.Printf("alarms: publish %s to %s failed: %v", event.DedupKey(), d.Topic, d.Err)
		}
	}
	if failed > 0 {
		result.State = StateFailed
		return result, fmt.Errorf("dispatch %s: %d of %d destinations failed", event.DedupKey(), failed, len(destinations))
	}

	r.record(ctx, event, destinations)
	return result, nil
}

func (r *Router) deviceAttributes(ctx context.Context, event *domain.AlarmEvent) (DeviceAttributes, error) {
	if r.ledger == nil {
		return DeviceAttributes{}, nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	record, err := r.ledger.Find(lookupCtx, devicerepo.Scope{}, event.DeviceID)
	if err != nil {
		return DeviceAttributes{}, fmt.Errorf("ledger lookup for %s: %w", event.DeviceID, err)
	}
	if record == nil {
		return DeviceAttributes{}, nil
	}
	return DeviceAttributes{Known: true, Organization: record.Organization, Project: record.Project}, nil
}

func (r *Router) record(ctx context.Context, event *domain.AlarmEvent, destinations []string) {
	if r.history == nil {
		return
	}
	if err := r.history.Record(ctx, event, destinations); err != nil {
		log.Printf("alarms: history record for %s failed: %v", event.DedupKey(), err)
	}
}

func notification(event *domain.AlarmEvent) publisher.Message {
	connectivity := event.Connectivity()
	when := event.EventTime().Format(eventTimeLayout)
	return publisher.Message{
		Subject:  fmt.Sprintf(subjectTemplate, event.DeviceID),
		Body:     fmt.Sprintf(bodyTemplate, event.DeviceID, connectivity, event.DeviceID, connectivity, when),
		DedupKey: event.DedupKey(),
	}
}
