package subscription

import (
	"context"
	"fmt"
	"sync"

	devicedomain "streaming-status/backend/internal/device/domain"
)

// MemoryStore is an in-memory Store for tests and offline runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

// Find implements Store.
func (s *MemoryStore) Find(ctx context.Context, deviceName, endpoint string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[deviceName+"|"+endpoint]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.DeviceName+"|"+record.Endpoint] = record
	return nil
}

// MemoryNotifier is an in-memory Notifier. Email subscriptions start
// pending, as with SNS; Confirm flips them to delivering.
type MemoryNotifier struct {
	mu      sync.Mutex
	topics  map[string]string
	pending map[string]bool
	serial  int
}

// NewMemoryNotifier returns an empty MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{topics: map[string]string{}, pending: map[string]bool{}}
}

// EnsureTopic implements Notifier.
func (n *MemoryNotifier) EnsureTopic(ctx context.Context, name string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	arn, ok := n.topics[name]
	if !ok {
		arn = "arn:memory:sns:" + name
		n.topics[name] = arn
	}
	return arn, nil
}

// SubscribeEmail implements Notifier.
func (n *MemoryNotifier) SubscribeEmail(ctx context.Context, topicARN, endpoint string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.serial++
	arn := fmt.Sprintf("%s:sub-%d", topicARN, n.serial)
	n.pending[arn] = true
	return arn, nil
}

// Unsubscribe implements Notifier. Pending subscriptions cannot be
// cancelled, matching SNS.
func (n *MemoryNotifier) Unsubscribe(ctx context.Context, subscriptionARN string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pending, ok := n.pending[subscriptionARN]
	if !ok {
		return nil
	}
	if pending {
		return fmt.Errorf("%w: pending subscriptions cannot be cancelled", devicedomain.ErrInvalidArgument)
	}
	delete(n.pending, subscriptionARN)
	return nil
}

// SubscriptionPending implements Notifier.
func (n *MemoryNotifier) SubscriptionPending(ctx context.Context, subscriptionARN string) (bool, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pending, ok := n.pending[subscriptionARN]
	if !ok {
		return false, false, nil
	}
	return pending, true, nil
}

// Confirm marks the subscription as confirmed, as the email link would.
func (n *MemoryNotifier) Confirm(subscriptionARN string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.pending[subscriptionARN]; ok {
		n.pending[subscriptionARN] = false
	}
}

// ConfirmAll confirms every pending subscription.
func (n *MemoryNotifier) ConfirmAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for arn := range n.pending {
		n.pending[arn] = false
	}
}

// TopicNames returns the names of every topic created so far.
func (n *MemoryNotifier) TopicNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.topics))
	for name := range n.topics {
		names = append(names, name)
	}
	return names
}
