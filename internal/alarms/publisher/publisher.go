// Package publisher delivers alarm notifications to destination topics.
package publisher

import (
	"context"
	"errors"
)

// Message is one alarm notification bound for a destination topic.
type Message struct {
	Subject  string
	Body     string
	DedupKey string
}

// ErrTopicNotFound reports that the destination topic does not exist.
// Routers treat it as a skip, not a dispatch failure.
var ErrTopicNotFound = errors.New("destination topic not found")

// Publisher delivers messages to named destination topics. Topic names are
// suffixes; implementations resolve them to full addresses.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}
