// Package events defines the durable event channel between the API and the
// analysis worker. Delivery is at-least-once and ordered only per key.
package events

import (
	"context"
	"errors"
)

// ErrClosed is returned by brokers and subscriptions after Close.
var ErrClosed = errors.New("events: closed")

// Message is a single record on a topic.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Publisher appends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Subscriber opens consumer-group subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string) (Subscription, error)
}

// Subscription is a lazy sequence of deliveries.
type Subscription interface {
	// Next blocks until a delivery is available, ctx is done, or the
	// subscription is closed.
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// Delivery is a received message awaiting settlement.
type Delivery interface {
	Message() Message
	// Attempt is 1 on first delivery and grows with each redelivery.
	Attempt() int
	Ack(ctx context.Context) error
	// Nack returns the message to the channel for redelivery.
	Nack(ctx context.Context) error
}

// Broker is a Publisher and Subscriber with a lifecycle.
type Broker interface {
	Publisher
	Subscriber
	Name() string
	Close() error
}
