package triage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS service limits.
const (
	maxSQSDelay     = 15 * time.Minute
	maxSQSBatch     = 10
	maxSQSWaitSecs  = 20
	receiveCountKey = string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)
)

type sqsAPI interface {
	SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is the production Queue. Retries are re-sent as new messages with
// DelaySeconds, so a redelivered message (receive count above one) means a
// worker died before deleting it.
type SQSQueue struct {
	client   sqsAPI
	queueURL *string
}

func NewSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("triage: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("triage: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: aws.String(queueURL)}
}

func (q *SQSQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	in := &sqs.SendMessageInput{QueueUrl: q.queueURL, MessageBody: aws.String(body)}
	if delay > 0 {
		in.DelaySeconds = int32(min(delay, maxSQSDelay) / time.Second)
	}
	if _, err := q.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("triage: sqs send: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    q.queueURL,
		MaxNumberOfMessages:         int32(clampInt(maxMessages, 1, maxSQSBatch)),
		WaitTimeSeconds:             int32(clampInt(waitSeconds, 0, maxSQSWaitSecs)),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("triage: sqs receive: %w", err)
	}

	messages := make([]queueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		receives, _ := strconv.Atoi(m.Attributes[receiveCountKey])
		messages = append(messages, queueMessage{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Receives:      max(receives, 1),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      q.queueURL,
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		return fmt.Errorf("triage: sqs delete: %w", err)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
