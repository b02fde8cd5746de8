// Package sqs implements events.Broker on Amazon SQS. Each topic maps to one
// queue URL; the queue itself plays the consumer group.
package sqs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"jobtracker-backend/internal/events"
)

const (
	defaultRegion         = "us-east-1"
	defaultWaitSeconds    = 20
	defaultVisibilitySecs = 300
	maxMessagesPerReceive = 10
	receiveCountAttribute = "ApproximateReceiveCount"
	keyMessageAttribute   = "key"
)

// API is the subset of the SQS client used by the broker.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Options configures polling.
type Options struct {
	WaitSeconds       int32
	VisibilitySeconds int32
}

// Broker routes topics to queue URLs.
type Broker struct {
	client API
	queues map[string]string
	opts   Options

	mu     sync.Mutex
	closed bool
}

// NewFromEnv loads the default AWS config chain for region and builds a Broker.
func NewFromEnv(ctx context.Context, region string, queues map[string]string) (*Broker, error) {
	if strings.TrimSpace(region) == "" {
		region = defaultRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(sqs.NewFromConfig(cfg), queues, Options{})
}

// New builds a Broker over client. Every topic used must have a queue URL.
func New(client API, queues map[string]string, opts Options) (*Broker, error) {
	if client == nil {
		return nil, errors.New("sqs: client is required")
	}
	routes := make(map[string]string, len(queues))
	for topic, url := range queues {
		if url = strings.TrimSpace(url); url != "" {
			routes[topic] = url
		}
	}
	if len(routes) == 0 {
		return nil, errors.New("sqs: at least one queue url is required")
	}
	if opts.WaitSeconds <= 0 {
		opts.WaitSeconds = defaultWaitSeconds
	}
	if opts.VisibilitySeconds <= 0 {
		opts.VisibilitySeconds = defaultVisibilitySecs
	}
	return &Broker{client: client, queues: routes, opts: opts}, nil
}

func (b *Broker) Name() string { return "sqs" }

func (b *Broker) queueURL(topic string) (string, error) {
	url, ok := b.queues[topic]
	if !ok {
		return "", fmt.Errorf("sqs: no queue configured for topic %q", topic)
	}
	return url, nil
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Publish sends payload to the topic's queue. FIFO queues group by key.
func (b *Broker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if b.isClosed() {
		return events.ErrClosed
	}
	url, err := b.queueURL(topic)
	if err != nil {
		return err
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(payload)),
	}
	if key != "" {
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			keyMessageAttribute: {DataType: aws.String("String"), StringValue: aws.String(key)},
		}
	}
	if strings.HasSuffix(url, ".fifo") {
		group := key
		if group == "" {
			group = "default"
		}
		sum := sha256.Sum256(payload)
		input.MessageGroupId = aws.String(group)
		input.MessageDeduplicationId = aws.String(hex.EncodeToString(sum[:]))
	}
	if _, err := b.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Subscribe polls the topic's queue. The group is implied by the queue.
func (b *Broker) Subscribe(ctx context.Context, topic, group string) (events.Subscription, error) {
	if b.isClosed() {
		return nil, events.ErrClosed
	}
	url, err := b.queueURL(topic)
	if err != nil {
		return nil, err
	}
	return &subscription{broker: b, topic: topic, queueURL: url, done: make(chan struct{})}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

type subscription struct {
	broker   *Broker
	topic    string
	queueURL string

	buffered  []sqstypes.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Next(ctx context.Context) (events.Delivery, error) {
	for {
		select {
		case <-s.done:
			return nil, events.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if s.broker.isClosed() {
			return nil, events.ErrClosed
		}
		if len(s.buffered) > 0 {
			m := s.buffered[0]
			s.buffered = s.buffered[1:]
			return &delivery{sub: s, msg: m}, nil
		}

		resp, err := s.broker.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(s.queueURL),
			MaxNumberOfMessages:   maxMessagesPerReceive,
			WaitTimeSeconds:       s.broker.opts.WaitSeconds,
			VisibilityTimeout:     s.broker.opts.VisibilitySeconds,
			AttributeNames:        []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName(receiveCountAttribute)},
			MessageAttributeNames: []string{keyMessageAttribute},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("sqs receive message: %w", err)
		}
		s.buffered = append(s.buffered, resp.Messages...)
	}
}

// Close stops polling. Buffered messages not yet handed out become visible
// again once their visibility timeout lapses.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

type delivery struct {
	sub *subscription
	msg sqstypes.Message
}

func (d *delivery) Message() events.Message {
	key := ""
	if attr, ok := d.msg.MessageAttributes[keyMessageAttribute]; ok {
		key = aws.ToString(attr.StringValue)
	}
	return events.Message{Topic: d.sub.topic, Key: key, Payload: []byte(aws.ToString(d.msg.Body))}
}

func (d *delivery) Attempt() int {
	return receiveCount(d.msg)
}

func (d *delivery) receipt() (string, error) {
	receipt := aws.ToString(d.msg.ReceiptHandle)
	if receipt == "" {
		return "", errors.New("sqs: missing receipt handle")
	}
	return receipt, nil
}

// Ack deletes the message from the queue.
func (d *delivery) Ack(ctx context.Context) error {
	receipt, err := d.receipt()
	if err != nil {
		return err
	}
	if _, err := d.sub.broker.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(d.sub.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// Nack makes the message visible again immediately.
func (d *delivery) Nack(ctx context.Context) error {
	receipt, err := d.receipt()
	if err != nil {
		return err
	}
	if _, err := d.sub.broker.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(d.sub.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: 0,
	}); err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 1
	}
	raw := msg.Attributes[receiveCountAttribute]
	if raw == "" {
		return 1
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return 1
	}
	return parsed
}

var _ events.Broker = (*Broker)(nil)
