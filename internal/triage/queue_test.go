package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
)

func TestMemoryQueueSendReceive(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		if err := q.Send(ctx, body, 0); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	msgs, err := q.Receive(ctx, 2, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "a" || msgs[1].Body != "b" {
		t.Fatalf("unexpected batch %#v", msgs)
	}
}

func TestMemoryQueueDelayedSend(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	if err := q.Send(ctx, "later", 50*time.Millisecond); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgs, _ := q.Receive(ctx, 1, 0); len(msgs) != 0 {
		t.Fatalf("delayed message delivered early")
	}
	msgs, err := q.Receive(ctx, 1, 1)
	if err != nil || len(msgs) != 1 || msgs[0].Body != "later" {
		t.Fatalf("expected delayed message, got %#v err=%v", msgs, err)
	}
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Receive(ctx, 1, 5); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestMemoryQueueCloseDropsScheduled(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	if err := q.Send(ctx, "later", time.Hour); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := q.Scheduled(); got != 1 {
		t.Fatalf("expected one scheduled message, got %d", got)
	}
	q.Close()
	q.Close()
	if got := q.Scheduled(); got != 0 {
		t.Fatalf("expected scheduled messages dropped, got %d", got)
	}
	if _, err := q.Receive(ctx, 1, 1); !errors.Is(err, errQueueClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if err := q.Send(ctx, "late", time.Second); err != nil {
		t.Fatalf("delayed send after close should be dropped silently, got %v", err)
	}
}

func TestRedisQueueDelayedPromotion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisQueue(client, "test:jobs")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	if err := q.Send(ctx, "ready-1", 0); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := q.Send(ctx, "delayed-1", time.Minute); err != nil {
		t.Fatalf("send delayed: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "ready-1" {
		t.Fatalf("expected only the ready job, got %#v", msgs)
	}
	if n, _ := client.LLen(ctx, "test:jobs:processing").Result(); n != 1 {
		t.Fatalf("expected job on processing list, got %d", n)
	}
	if err := q.Delete(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := client.LLen(ctx, "test:jobs:processing").Result(); n != 0 {
		t.Fatalf("expected processing list empty after delete, got %d", n)
	}

	now = now.Add(2 * time.Minute)
	msgs, err = q.Receive(ctx, 10, 0)
	if err != nil {
		t.Fatalf("receive after delay: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "delayed-1" {
		t.Fatalf("expected promoted job, got %#v", msgs)
	}
}

func TestRedisQueueEmptyReceive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	msgs, err := NewRedisQueue(client, "").Receive(context.Background(), 1, 0)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty receive, got %#v err=%v", msgs, err)
	}
}

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	received []*sqs.ReceiveMessageInput
	deleted  []string
	inbox    []sqstypes.Message
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = append(f.received, in)
	out := &sqs.ReceiveMessageOutput{Messages: f.inbox}
	f.inbox = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueDelayIsCapped(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.local/triage")
	ctx := context.Background()

	_ = q.Send(ctx, "now", 0)
	_ = q.Send(ctx, "soon", 30*time.Second)
	_ = q.Send(ctx, "much later", time.Hour)

	if got := api.sent[0].DelaySeconds; got != 0 {
		t.Fatalf("expected no delay, got %d", got)
	}
	if got := api.sent[1].DelaySeconds; got != 30 {
		t.Fatalf("expected 30s delay, got %d", got)
	}
	if got := api.sent[2].DelaySeconds; got != 900 {
		t.Fatalf("expected delay capped at 900s, got %d", got)
	}
}

func TestSQSQueueReceiveAndDelete(t *testing.T) {
	api := &fakeSQS{inbox: []sqstypes.Message{
		{MessageId: aws.String("m1"), Body: aws.String("{}"), ReceiptHandle: aws.String("r1")},
		{MessageId: aws.String("m2"), Body: aws.String("{}"), ReceiptHandle: aws.String("r2"), Attributes: map[string]string{"ApproximateReceiveCount": "3"}},
	}}
	q := NewSQSQueue(api, "https://sqs.local/triage")

	msgs, err := q.Receive(context.Background(), 50, 60)
	if err != nil || len(msgs) != 2 || msgs[0].ReceiptHandle != "r1" {
		t.Fatalf("unexpected receive %#v err=%v", msgs, err)
	}
	if msgs[0].Receives != 1 || msgs[1].Receives != 3 {
		t.Fatalf("unexpected receive counts %d, %d", msgs[0].Receives, msgs[1].Receives)
	}
	in := api.received[0]
	if in.MaxNumberOfMessages != 10 || in.WaitTimeSeconds != 20 {
		t.Fatalf("expected SQS limits applied, got batch=%d wait=%d", in.MaxNumberOfMessages, in.WaitTimeSeconds)
	}
	_ = q.Delete(context.Background(), "r1")
	_ = q.Delete(context.Background(), "")
	if len(api.deleted) != 1 {
		t.Fatalf("expected one delete call, got %v", api.deleted)
	}
}

func TestDecodePayloadRequiresIntake(t *testing.T) {
	if _, err := decodePayload(`{"id":"j1"}`); err == nil {
		t.Fatalf("expected error for payload without intake")
	}
	if _, err := decodePayload(`not json`); err == nil {
		t.Fatalf("expected decode error")
	}
	p, err := decodePayload(`{"id":"j1","intake_id":"i1","message_id":"m1"}`)
	if err != nil || p.Attempt != 1 {
		t.Fatalf("expected attempt defaulted to 1, got %#v err=%v", p, err)
	}
}
