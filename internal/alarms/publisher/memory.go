package publisher

import (
	"context"
	"fmt"
	"sync"
)

// MemoryPublisher collects published messages for tests and offline runs.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][]Message
	missing  map[string]bool
	failWith error
}

// NewMemoryPublisher returns an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		messages: map[string][]Message{},
		missing:  map[string]bool{},
	}
}

// SetMissing makes publishes to topic report ErrTopicNotFound.
func (p *MemoryPublisher) SetMissing(topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missing[topic] = true
}

// FailWith makes every publish fail with err. Pass nil to clear.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[topic] {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}
	if p.failWith != nil {
		return p.failWith
	}
	p.messages[topic] = append(p.messages[topic], msg)
	return nil
}

// Messages returns the messages published to topic in order.
func (p *MemoryPublisher) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages[topic]...)
}

// Topics returns every topic that received at least one message.
func (p *MemoryPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	topics := make([]string, 0, len(p.messages))
	for topic := range p.messages {
		topics = append(topics, topic)
	}
	return topics
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }
