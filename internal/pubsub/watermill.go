package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// WatermillBridge implements the Publisher and Subscriber interfaces using
// watermill's GoChannel. Publish blocks until every subscriber has acked, so
// each subscriber sees a topic's messages in publish order.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	tracer trace.Tracer
	logger *slog.Logger
}

// BridgeOption configures a WatermillBridge.
type BridgeOption func(*WatermillBridge)

// WithTracer records a span for every publish and every handled message.
func WithTracer(t trace.Tracer) BridgeOption {
	return func(wb *WatermillBridge) {
		if t != nil {
			wb.tracer = t
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) BridgeOption {
	return func(wb *WatermillBridge) {
		wb.logger = l
	}
}

const (
	// Metadata keys used to carry Message fields through watermill's message.
	metaKeyKey   = "key"
	metaKeyTopic = "topic"
)

// NewWatermillBridge initializes an in-memory bus.
func NewWatermillBridge(opts ...BridgeOption) *WatermillBridge {
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewStdLogger(false, false),
	)

	wb := &WatermillBridge{
		pub:    goChannel,
		sub:    goChannel,
		tracer: noop.NewTracerProvider().Tracer("roomsync-pubsub"),
		logger: slog.Default().With("component", "pubsub"),
	}
	for _, opt := range opts {
		opt(wb)
	}
	return wb
}

// mapToWatermillMessage converts a Message to a watermill message.
func mapToWatermillMessage(msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	wmMsg.Metadata.Set(metaKeyKey, msg.Key)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	return wmMsg
}

// mapToPubSubMessage converts a watermill message back to a Message.
func mapToPubSubMessage(wmMsg *message.Message) Message {
	metadata := make(map[string]string, len(wmMsg.Metadata))
	for k, v := range wmMsg.Metadata {
		if k != metaKeyKey && k != metaKeyTopic {
			metadata[k] = v
		}
	}
	return Message{
		Topic:    wmMsg.Metadata.Get(metaKeyTopic),
		Key:      wmMsg.Metadata.Get(metaKeyKey),
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

func spanAttributes(op string, msg Message, id string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("messaging.system", "watermill"),
		attribute.String("messaging.operation", op),
		attribute.String("messaging.destination", msg.Topic),
		attribute.String("messaging.message_id", id),
		attribute.String("messaging.key", msg.Key),
		attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
	)
}

// Publish implements the Publisher interface.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	wmMsg := mapToWatermillMessage(msg)

	spanCtx, span := wb.tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", msg.Topic),
		spanAttributes("publish", msg, wmMsg.UUID))
	defer span.End()
	wmMsg.SetContext(spanCtx)

	if err := wb.pub.Publish(msg.Topic, wmMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Subscribe implements the Subscriber interface. Messages are handled one at
// a time; the subscription ends when ctx is cancelled.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for wmMsg := range messages {
			msg := mapToPubSubMessage(wmMsg)

			spanCtx, span := wb.tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", topic),
				spanAttributes("process", msg, wmMsg.UUID))
			if err := handler(spanCtx, msg); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				wb.logger.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
			}
			span.End()
			// The in-memory bus never redelivers, so failed messages are acked too.
			wmMsg.Ack()
		}
		wb.logger.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close shuts the bus down and ends every subscription.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}
