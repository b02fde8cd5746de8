// Package rabbit implements events.Broker on RabbitMQ. Each topic is a durable
// fanout exchange and each consumer group a durable queue bound to it.
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"jobtracker-backend/internal/events"
)

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Broker shares one connection; publishing uses a dedicated channel and each
// subscription opens its own.
type Broker struct {
	conn        *amqp.Connection
	openChannel func() (channel, error)

	mu       sync.Mutex
	pubCh    channel
	declared map[string]bool
	subs     []channel
	closed   bool
}

// Dial connects to url.
func Dial(url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	b := newBroker(func() (channel, error) { return conn.Channel() })
	b.conn = conn
	return b, nil
}

func newBroker(open func() (channel, error)) *Broker {
	return &Broker{openChannel: open, declared: make(map[string]bool)}
}

func (b *Broker) Name() string { return "rabbit" }

func declareExchange(ch channel, topic string) error {
	if err := ch.ExchangeDeclare(
		topic,    // name
		"fanout", // kind
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return events.ErrClosed
	}
	if b.pubCh == nil {
		ch, err := b.openChannel()
		if err != nil {
			return fmt.Errorf("open rabbitmq channel: %w", err)
		}
		b.pubCh = ch
	}
	if !b.declared[topic] {
		if err := declareExchange(b.pubCh, topic); err != nil {
			b.resetPublisherLocked()
			return err
		}
		b.declared[topic] = true
	}
	err := b.pubCh.Publish(topic, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		b.resetPublisherLocked()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// resetPublisherLocked drops a channel the server may have closed after an error.
func (b *Broker) resetPublisherLocked() {
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	b.pubCh = nil
	b.declared = make(map[string]bool)
}

// QueueName returns the durable queue used by group on topic.
func QueueName(topic, group string) string {
	return topic + "." + group
}

func (b *Broker) Subscribe(ctx context.Context, topic, group string) (events.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, events.ErrClosed
	}

	ch, err := b.openChannel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	deliveries, err := setupConsumer(ch, topic, group)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	b.subs = append(b.subs, ch)
	return &subscription{ch: ch, topic: topic, deliveries: deliveries}, nil
}

func setupConsumer(ch channel, topic, group string) (<-chan amqp.Delivery, error) {
	if err := declareExchange(ch, topic); err != nil {
		return nil, err
	}
	queue := QueueName(topic, group)
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", topic, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, ch := range b.subs {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if b.pubCh != nil {
		if err := b.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type subscription struct {
	ch         channel
	topic      string
	deliveries <-chan amqp.Delivery
	closeOnce  sync.Once
}

func (s *subscription) Next(ctx context.Context) (events.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, events.ErrClosed
		}
		return &delivery{topic: s.topic, d: d}, nil
	}
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.ch.Close() })
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

type delivery struct {
	topic string
	d     amqp.Delivery
}

func (d *delivery) Message() events.Message {
	return events.Message{Topic: d.topic, Key: d.d.RoutingKey, Payload: d.d.Body}
}

// Attempt uses the quorum-queue delivery count when present. Classic queues
// only flag redelivery.
func (d *delivery) Attempt() int {
	if v, ok := d.d.Headers["x-delivery-count"]; ok {
		switch n := v.(type) {
		case int64:
			return int(n) + 1
		case int32:
			return int(n) + 1
		case int:
			return n + 1
		}
	}
	if d.d.Redelivered {
		return 2
	}
	return 1
}

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.d.Ack(false); err != nil {
		return fmt.Errorf("rabbitmq ack: %w", err)
	}
	return nil
}

func (d *delivery) Nack(ctx context.Context) error {
	if err := d.d.Nack(false, true); err != nil {
		return fmt.Errorf("rabbitmq nack: %w", err)
	}
	return nil
}

var _ events.Broker = (*Broker)(nil)
