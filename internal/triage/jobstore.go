package triage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

const (
	jobTTL = 24 * time.Hour
)

// JobStatus represents the lifecycle of a triage job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrJobNotFound indicates the requested job ID does not exist.
var ErrJobNotFound = errors.New("triage: job not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// JobRecord captures the persisted state of a triage job.
type JobRecord struct {
	JobID        string    `dynamodbav:"jobId" json:"job_id"`
	IntakeID     string    `dynamodbav:"intakeId" json:"intake_id"`
	MessageID    string    `dynamodbav:"messageId" json:"message_id"`
	Status       JobStatus `dynamodbav:"status" json:"status"`
	Attempt      int       `dynamodbav:"attempt" json:"attempt"`
	ErrorKind    ErrorKind `dynamodbav:"errorKind,omitempty" json:"error_kind,omitempty"`
	ErrorMessage string    `dynamodbav:"errorMessage,omitempty" json:"error_message,omitempty"`
	CreatedAt    string    `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt    string    `dynamodbav:"updatedAt" json:"updated_at"`
	ExpiresAt    int64     `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobRecorder creates and reads job records.
type JobRecorder interface {
	PutPending(ctx context.Context, job *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
}

// JobUpdater moves a job through its lifecycle.
type JobUpdater interface {
	MarkCompleted(ctx context.Context, jobID string, attempt int) error
	MarkRetrying(ctx context.Context, jobID string, attempt int, kind ErrorKind, errMsg string) error
	MarkFailed(ctx context.Context, jobID string, attempt int, kind ErrorKind, errMsg string) error
}

// JobTracker is implemented by every job store backend.
type JobTracker interface {
	JobRecorder
	JobUpdater
}

// JobStore persists job records to DynamoDB.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ JobTracker = (*JobStore)(nil)

// NewJobStore builds a store backed by the provided DynamoDB client.
func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("triage: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("triage: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &JobStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutPending inserts a new pending job record.
func (s *JobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("triage: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("triage: failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("triage: failed to persist job: %w", err)
	}
	return nil
}

// MarkCompleted records a successful attempt.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, attempt int) error {
	return s.transition(ctx, jobID, JobStatusCompleted, attempt, "", "")
}

// MarkRetrying records a failed attempt that has been re-enqueued.
func (s *JobStore) MarkRetrying(ctx context.Context, jobID string, attempt int, kind ErrorKind, errMsg string) error {
	return s.transition(ctx, jobID, JobStatusRetrying, attempt, kind, errMsg)
}

// MarkFailed records a discarded job.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, attempt int, kind ErrorKind, errMsg string) error {
	return s.transition(ctx, jobID, JobStatusFailed, attempt, kind, errMsg)
}

func (s *JobStore) transition(ctx context.Context, jobID string, status JobStatus, attempt int, kind ErrorKind, errMsg string) error {
	if jobID == "" {
		return errors.New("triage: jobID required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression: aws.String("SET #status = :status, #attempt = :attempt, errorKind = :kind, #error = :error, #updated = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#attempt": "attempt",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(status)},
			":attempt": &types.AttributeValueMemberN{Value: strconv.Itoa(attempt)},
			":kind":    &types.AttributeValueMemberS{Value: string(kind)},
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(jobId)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrJobNotFound
		}
		return fmt.Errorf("triage: failed to update job %s: %w", jobID, err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("triage: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("triage: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job JobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("triage: failed to decode job: %w", err)
	}
	return &job, nil
}
