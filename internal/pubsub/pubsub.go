// Package pubsub is the in-process message bus used by the in-memory backend
// to deliver change-feed deltas.
package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g. "messages").
	Topic string
	// Key scopes the message within its topic, usually a room id.
	Key string
	// Payload contains the raw message data, JSON encoded.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the bus.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with
	// the handler until ctx is cancelled. It returns once the subscription is
	// registered.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
