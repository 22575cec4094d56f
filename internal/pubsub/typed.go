package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event binds a topic name to its JSON payload type.
type Event[T any] struct {
	topic string
}

// NewEvent creates a typed event for topic.
func NewEvent[T any](topic string) Event[T] {
	return Event[T]{topic: topic}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topic
}

// Publish sends a typed payload. The compiler ensures payload matches T.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], key string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.topic, err)
	}
	return p.Publish(ctx, Message{Topic: event.topic, Key: key, Payload: data})
}

// Decode unmarshals the payload of msg as T.
func Decode[T any](event Event[T], msg Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", event.topic, err)
	}
	return v, nil
}
