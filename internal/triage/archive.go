package triage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ResponseArchive stores raw AI envelopes for audit.
type S3ResponseArchive struct {
	client s3API
	bucket string
	now    func() time.Time
	logger *logging.Logger
}

var _ ResponseArchive = (*S3ResponseArchive)(nil)

// NewS3ResponseArchive builds an archive writing to bucket.
func NewS3ResponseArchive(client s3API, bucket string, logger *logging.Logger) *S3ResponseArchive {
	if client == nil {
		panic("triage: s3 client cannot be nil")
	}
	if bucket == "" {
		panic("triage: archive bucket cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &S3ResponseArchive{
		client: client,
		bucket: bucket,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Put writes the envelope under triage-responses/YYYY/MM/DD/<intake>/<message>.json.
func (a *S3ResponseArchive) Put(ctx context.Context, intakeID, messageID string, envelope []byte) error {
	key := archiveKey(a.now(), intakeID, messageID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(envelope),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("triage: s3 put %s: %w", key, err)
	}
	a.logger.Debug("archived ai response", "intake_id", intakeID, "message_id", messageID, "s3_key", key)
	return nil
}

func archiveKey(at time.Time, intakeID, messageID string) string {
	return fmt.Sprintf("triage-responses/%d/%02d/%02d/%s/%s.json",
		at.Year(), at.Month(), at.Day(), intakeID, messageID)
}
