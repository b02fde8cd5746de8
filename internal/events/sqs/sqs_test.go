package sqs

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"jobtracker-backend/internal/events"
)

type fakeSQS struct {
	sent       []*sqs.SendMessageInput
	receives   [][]sqstypes.Message
	receiveIn  []*sqs.ReceiveMessageInput
	deleted    []string
	visibility []string
	sendErr    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveIn = append(f.receiveIn, params)
	if len(f.receives) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	batch := f.receives[0]
	f.receives = f.receives[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.visibility = append(f.visibility, aws.ToString(params.ReceiptHandle))
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func newTestBroker(t *testing.T, client *fakeSQS) *Broker {
	t.Helper()
	b, err := New(client, map[string]string{
		"application-created":     "https://sqs.local/123/app-created",
		"application-created.dlq": "https://sqs.local/123/app-created-dlq.fifo",
	}, Options{WaitSeconds: 1})
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	return b
}

func TestPublishSendsBodyAndKey(t *testing.T) {
	client := &fakeSQS{}
	b := newTestBroker(t, client)

	if err := b.Publish(context.Background(), "application-created", "user-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(client.sent))
	}
	in := client.sent[0]
	if aws.ToString(in.QueueUrl) != "https://sqs.local/123/app-created" || aws.ToString(in.MessageBody) != `{"a":1}` {
		t.Fatalf("unexpected send input %+v", in)
	}
	if aws.ToString(in.MessageAttributes["key"].StringValue) != "user-1" {
		t.Fatalf("expected key attribute")
	}
	if in.MessageGroupId != nil {
		t.Fatalf("standard queues must not set a group id")
	}
}

func TestPublishFIFOSetsGroupAndDedup(t *testing.T) {
	client := &fakeSQS{}
	b := newTestBroker(t, client)

	if err := b.Publish(context.Background(), "application-created.dlq", "user-1", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	in := client.sent[0]
	if aws.ToString(in.MessageGroupId) != "user-1" || aws.ToString(in.MessageDeduplicationId) == "" {
		t.Fatalf("expected fifo fields, got %+v", in)
	}
}

func TestPublishUnknownTopic(t *testing.T) {
	b := newTestBroker(t, &fakeSQS{})
	if err := b.Publish(context.Background(), "other", "k", nil); err == nil {
		t.Fatalf("expected error for unknown topic")
	}
}

func TestPublishWrapsSendError(t *testing.T) {
	boom := errors.New("throttled")
	b := newTestBroker(t, &fakeSQS{sendErr: boom})
	if err := b.Publish(context.Background(), "application-created", "k", nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNextBuffersBatchAndSettles(t *testing.T) {
	client := &fakeSQS{receives: [][]sqstypes.Message{{
		{
			MessageId:         aws.String("m1"),
			ReceiptHandle:     aws.String("r1"),
			Body:              aws.String("one"),
			Attributes:        map[string]string{"ApproximateReceiveCount": "3"},
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{"key": {StringValue: aws.String("user-1")}},
		},
		{MessageId: aws.String("m2"), ReceiptHandle: aws.String("r2"), Body: aws.String("two")},
	}}}
	b := newTestBroker(t, client)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "application-created", "ignored")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	first, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first.Attempt() != 3 || first.Message().Key != "user-1" || string(first.Message().Payload) != "one" {
		t.Fatalf("unexpected first delivery %+v attempt=%d", first.Message(), first.Attempt())
	}
	second, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if second.Attempt() != 1 {
		t.Fatalf("missing receive count should read as first attempt")
	}
	if len(client.receiveIn) != 1 {
		t.Fatalf("expected second delivery from buffer, got %d receives", len(client.receiveIn))
	}
	if client.receiveIn[0].WaitTimeSeconds != 1 || client.receiveIn[0].VisibilityTimeout != defaultVisibilitySecs {
		t.Fatalf("unexpected receive input %+v", client.receiveIn[0])
	}

	_ = first.Ack(ctx)
	_ = second.Nack(ctx)
	if len(client.deleted) != 1 || client.deleted[0] != "r1" {
		t.Fatalf("expected r1 deleted, got %v", client.deleted)
	}
	if len(client.visibility) != 1 || client.visibility[0] != "r2" {
		t.Fatalf("expected r2 visibility reset, got %v", client.visibility)
	}
}

func TestAckRequiresReceipt(t *testing.T) {
	client := &fakeSQS{receives: [][]sqstypes.Message{{{Body: aws.String("x")}}}}
	b := newTestBroker(t, client)
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "application-created", "")
	del, _ := sub.Next(ctx)
	if err := del.Ack(ctx); err == nil {
		t.Fatalf("expected missing receipt error")
	}
	if len(client.deleted) != 0 {
		t.Fatalf("delete should not be attempted")
	}
}

func TestNextHonorsContextAndClose(t *testing.T) {
	b := newTestBroker(t, &fakeSQS{})
	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := b.Subscribe(ctx, "application-created", "")
	cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	_ = sub.Close()
	if _, err := sub.Next(context.Background()); !errors.Is(err, events.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestNewValidatesInput(t *testing.T) {
	if _, err := New(nil, map[string]string{"t": "u"}, Options{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := New(&fakeSQS{}, map[string]string{"t": " "}, Options{}); err == nil {
		t.Fatalf("expected error without queue urls")
	}
}
