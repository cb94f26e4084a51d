package eventbus

import (
	"context"
	"time"
)

// TopicDef binds a Topic string to a payload type T at compile time, so
// publishers and subscribers of the same descriptor cannot disagree on
// the payload shape.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef creates a typed topic descriptor for the given topic string.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the underlying topic string.
func (d TopicDef[T]) Topic() Topic { return d.topic }

// Publish sends a typed payload on the bus using the topic descriptor.
// A nil bus is a no-op.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T) {
	PublishWithOpts(ctx, bus, td, source, payload)
}

// PublishOption customises the Envelope built by PublishWithOpts.
type PublishOption func(*Envelope)

// WithTimestamp overrides the envelope timestamp (default is time.Now().UTC()).
func WithTimestamp(ts time.Time) PublishOption {
	return func(env *Envelope) {
		env.Timestamp = ts
	}
}

// WithCorrelationID stamps the envelope with a caller-chosen id, letting
// subscribers group the events of one command execution.
func WithCorrelationID(id string) PublishOption {
	return func(env *Envelope) {
		env.CorrelationID = id
	}
}

// PublishWithOpts is Publish with envelope options applied before
// delivery. A nil bus is a no-op.
func PublishWithOpts[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T, opts ...PublishOption) {
	if bus == nil {
		return
	}
	env := Envelope{
		Topic:   td.topic,
		Source:  source,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(&env)
	}
	bus.publish(ctx, env)
}

// SubscribeTo creates a typed subscription from a topic descriptor,
// keeping the subscription's payload type tied to the descriptor's.
func SubscribeTo[T any](bus *Bus, td TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	return Subscribe[T](bus, td.topic, opts...)
}
