package subscription

import (
	"context"
	"errors"
	"testing"

	devicedomain "streaming-status/backend/internal/device/domain"
)

const arnPrefix = "arn:aws:sns:eu-west-1:1:device-alarms"

func newTestService() (*Service, *MemoryStore, *MemoryNotifier) {
	store := NewMemoryStore()
	notifier := NewMemoryNotifier()
	return NewService(store, notifier, arnPrefix), store, notifier
}

func subscriptionARN(t *testing.T, store *MemoryStore, device, endpoint string) string {
	t.Helper()
	record, err := store.Find(context.Background(), device, endpoint)
	if err != nil || record == nil {
		t.Fatalf("no stored record for %s/%s (err=%v)", device, endpoint, err)
	}
	return record.SubscriptionARN
}

func TestStatus_NoRecord(t *testing.T) {
	svc, _, _ := newTestService()

	status, err := svc.Status(context.Background(), "d1", "ops@example.com")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusDisabled {
		t.Errorf("Status = %q, want disabled", status)
	}
}

func TestSubscribe_CreatesTopicAndPendingSubscription(t *testing.T) {
	svc, store, notifier := newTestService()

	if err := svc.Subscribe(context.Background(), "d1", "ops@example.com"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	names := notifier.TopicNames()
	if len(names) != 1 || names[0] != "device-alarms_d1" {
		t.Errorf("topics = %v, want [device-alarms_d1] derived from the ARN prefix", names)
	}
	if arn := subscriptionARN(t, store, "d1", "ops@example.com"); arn == "" {
		t.Error("stored record has no subscription ARN")
	}

	status, err := svc.Status(context.Background(), "d1", "ops@example.com")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusPending {
		t.Errorf("Status = %q, want pending before email confirmation", status)
	}
}

func TestStatus_EnabledAfterConfirmation(t *testing.T) {
	svc, store, notifier := newTestService()

	if err := svc.Subscribe(context.Background(), "d1", "ops@example.com"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	notifier.Confirm(subscriptionARN(t, store, "d1", "ops@example.com"))

	status, err := svc.Status(context.Background(), "d1", "ops@example.com")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusEnabled {
		t.Errorf("Status = %q, want enabled", status)
	}
}

func TestUnsubscribe_PendingRejected(t *testing.T) {
	svc, _, _ := newTestService()

	if err := svc.Subscribe(context.Background(), "d1", "ops@example.com"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	err := svc.Unsubscribe(context.Background(), "d1", "ops@example.com")
	if !errors.Is(err, devicedomain.ErrInvalidArgument) {
		t.Errorf("Unsubscribe() error = %v, want ErrInvalidArgument for pending subscription", err)
	}
}

func TestUnsubscribe_ConfirmedSubscription(t *testing.T) {
	svc, store, notifier := newTestService()

	if err := svc.Subscribe(context.Background(), "d1", "ops@example.com"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	notifier.Confirm(subscriptionARN(t, store, "d1", "ops@example.com"))

	if err := svc.Unsubscribe(context.Background(), "d1", "ops@example.com"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	status, err := svc.Status(context.Background(), "d1", "ops@example.com")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusDisabled {
		t.Errorf("Status = %q, want disabled after unsubscribe", status)
	}
}

func TestUnsubscribe_NoRecordIsNoop(t *testing.T) {
	svc, _, _ := newTestService()

	if err := svc.Unsubscribe(context.Background(), "d1", "ops@example.com"); err != nil {
		t.Errorf("Unsubscribe() error = %v, want nil for unknown endpoint", err)
	}
}

func TestTopicNamePrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"arn:aws:sns:eu-west-1:1:device-alarms", "device-alarms"},
		{"device-alarms", "device-alarms"},
	}
	for _, tt := range tests {
		if got := topicNamePrefix(tt.prefix); got != tt.want {
			t.Errorf("topicNamePrefix(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}
