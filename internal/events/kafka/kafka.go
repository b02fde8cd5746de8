// Package kafka implements events.Broker on Apache Kafka consumer groups.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"jobtracker-backend/internal/events"
)

// AttemptHeader carries the redelivery count of a re-published message.
const AttemptHeader = "x-attempt"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Broker publishes with a hash-balanced writer, so one key always lands on one
// partition, and consumes with group readers committing on ack.
type Broker struct {
	writer    messageWriter
	newReader func(topic, group string) messageReader

	mu      sync.Mutex
	readers []messageReader
	closed  bool
}

// New returns a Broker for the given bootstrap brokers.
func New(brokers []string) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		MaxAttempts:            3,
	}
	newReader := func(topic, group string) messageReader {
		return kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     brokers,
			GroupID:     group,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafkago.FirstOffset,
		})
	}
	return newBroker(writer, newReader), nil
}

func newBroker(w messageWriter, newReader func(topic, group string) messageReader) *Broker {
	return &Broker{writer: w, newReader: newReader}
}

func (b *Broker) Name() string { return "kafka" }

func (b *Broker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return b.publish(ctx, topic, key, payload, 1)
}

func (b *Broker) publish(ctx context.Context, topic, key string, payload []byte, attempt int) error {
	msg := kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	if attempt > 1 {
		msg.Headers = []kafkago.Header{{Key: AttemptHeader, Value: []byte(strconv.Itoa(attempt))}}
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write message: %w", err)
	}
	return nil
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
	r := b.newReader(topic, group)
	b.readers = append(b.readers, r)
	return &subscription{broker: b, reader: r}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type subscription struct {
	broker *Broker
	reader messageReader
}

func (s *subscription) Next(ctx context.Context) (events.Delivery, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, events.ErrClosed
		}
		return nil, fmt.Errorf("kafka fetch message: %w", err)
	}
	return &delivery{sub: s, msg: m, attempt: attemptOf(m)}, nil
}

func (s *subscription) Close() error {
	return s.reader.Close()
}

type delivery struct {
	sub     *subscription
	msg     kafkago.Message
	attempt int
}

func (d *delivery) Message() events.Message {
	return events.Message{Topic: d.msg.Topic, Key: string(d.msg.Key), Payload: d.msg.Value}
}

func (d *delivery) Attempt() int { return d.attempt }

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.sub.reader.CommitMessages(ctx, d.msg); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

// Nack re-publishes the message with an incremented attempt header and
// commits the original. Kafka has no per-message negative acknowledgement.
func (d *delivery) Nack(ctx context.Context) error {
	if err := d.sub.broker.publish(ctx, d.msg.Topic, string(d.msg.Key), d.msg.Value, d.attempt+1); err != nil {
		return err
	}
	return d.Ack(ctx)
}

func attemptOf(m kafkago.Message) int {
	for _, h := range m.Headers {
		if h.Key != AttemptHeader {
			continue
		}
		n, err := strconv.Atoi(string(h.Value))
		if err == nil && n > 0 {
			return n
		}
	}
	return 1
}

var _ events.Broker = (*Broker)(nil)
