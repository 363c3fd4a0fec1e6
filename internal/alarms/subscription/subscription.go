// Package subscription manages per-device email subscriptions to alarm
// topics.
package subscription

import (
	"context"
	"fmt"
	"strings"
)

// Status of one email endpoint's subscription to a device's alarm topic.
type Status string

const (
	// StatusDisabled means no live subscription exists.
	StatusDisabled Status = "disabled"
	// StatusPending means the confirmation email has not been acted on yet.
	StatusPending Status = "pending"
	// StatusEnabled means the subscription is confirmed and delivering.
	StatusEnabled Status = "enabled"
)

// Record links a device's alarm topic to one email endpoint.
type Record struct {
	DeviceName      string
	Endpoint        string
	SubscriptionARN string
}

// Store persists subscription records keyed by device name and endpoint.
// Find returns nil for an absent record.
type Store interface {
	Find(ctx context.Context, deviceName, endpoint string) (*Record, error)
	Put(ctx context.Context, record Record) error
}

// Notifier is the topic-service surface the subscription flow drives.
type Notifier interface {
	// EnsureTopic creates the named topic if needed and returns its ARN.
	EnsureTopic(ctx context.Context, name string) (string, error)
	// SubscribeEmail subscribes endpoint to the topic and returns the
	// subscription ARN; delivery starts after email confirmation.
	SubscribeEmail(ctx context.Context, topicARN, endpoint string) (string, error)
	Unsubscribe(ctx context.Context, subscriptionARN string) error
	// SubscriptionPending reports whether the subscription awaits
	// confirmation. found is false when the subscription no longer exists.
	SubscriptionPending(ctx context.Context, subscriptionARN string) (pending, found bool, err error)
}

// Service runs the subscription flows against a Store and a Notifier.
type Service struct {
	store       Store
	notifier    Notifier
	topicPrefix string
}

// NewService returns a Service. topicARNPrefix is the alarm topic ARN prefix;
// per-device topic names are derived from its final segment.
func NewService(store Store, notifier Notifier, topicARNPrefix string) *Service {
	return &Service{store: store, notifier: notifier, topicPrefix: topicNamePrefix(topicARNPrefix)}
}

// Status reports the subscription state for one device and endpoint.
func (s *Service) Status(ctx context.Context, deviceName, endpoint string) (Status, error) {
	record, err := s.store.Find(ctx, deviceName, endpoint)
	if err != nil {
		return "", err
	}
	if record == nil || record.SubscriptionARN == "" {
		return StatusDisabled, nil
	}
	pending, found, err := s.notifier.SubscriptionPending(ctx, record.SubscriptionARN)
	if err != nil {
		return "", err
	}
	if !found {
		return StatusDisabled, nil
	}
	if pending {
		return StatusPending, nil
	}
	return StatusEnabled, nil
}

// Subscribe creates the device's alarm topic if needed, subscribes the
// endpoint, and stores the resulting subscription. Resubscribing an endpoint
// replaces its stored subscription ARN.
func (s *Service) Subscribe(ctx context.Context, deviceName, endpoint string) error {
	topicARN, err := s.notifier.EnsureTopic(ctx, fmt.Sprintf("%s_%s", s.topicPrefix, deviceName))
	if err != nil {
		return err
	}
	subscriptionARN, err := s.notifier.SubscribeEmail(ctx, topicARN, endpoint)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, Record{
		DeviceName:      deviceName,
		Endpoint:        endpoint,
		SubscriptionARN: subscriptionARN,
	})
}

// Unsubscribe cancels the endpoint's subscription. Unsubscribing an endpoint
// that never subscribed is a no-op.
func (s *Service) Unsubscribe(ctx context.Context, deviceName, endpoint string) error {
	record, err := s.store.Find(ctx, deviceName, endpoint)
	if err != nil {
		return err
	}
	if record == nil || record.SubscriptionARN == "" {
		return nil
	}
	return s.notifier.Unsubscribe(ctx, record.SubscriptionARN)
}

// topicNamePrefix extracts the topic name prefix from a topic ARN prefix.
// SNS topic names are the final colon-separated ARN segment.
func topicNamePrefix(arnPrefix string) string {
	if i := strings.LastIndex(arnPrefix, ":"); i >= 0 {
		return arnPrefix[i+1:]
	}
	return arnPrefix
}
