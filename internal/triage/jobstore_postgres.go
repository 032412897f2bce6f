package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgExecQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGJobStore persists job records to PostgreSQL for bootstrap deployments.
type PGJobStore struct {
	db pgExecQuerier
}

// NewPGJobStore builds a Postgres-backed JobStore.
func NewPGJobStore(db *pgxpool.Pool) *PGJobStore {
	if db == nil {
		panic("triage: pgx pool cannot be nil")
	}
	return &PGJobStore{db: db}
}

func newPGJobStoreWithQuerier(db pgExecQuerier) *PGJobStore {
	return &PGJobStore{db: db}
}

var _ JobTracker = (*PGJobStore)(nil)

// PutPending inserts a pending job record.
func (s *PGJobStore) PutPending(ctx context.Context, job *JobRecord) error {
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

	if _, err := s.db.Exec(ctx, `
		INSERT INTO triage_jobs (job_id, intake_id, message_id, status, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.JobID, job.IntakeID, job.MessageID, string(job.Status), job.Attempt, now, now); err != nil {
		return fmt.Errorf("triage: failed to persist job: %w", err)
	}
	return nil
}

func (s *PGJobStore) MarkCompleted(ctx context.Context, jobID string, attempt int) error {
	return s.transition(ctx, jobID, JobStatusCompleted, attempt, "", "")
}

func (s *PGJobStore) MarkRetrying(ctx context.Context, jobID string, attempt int, kind ErrorKind, errMsg string) error {
	return s.transition(ctx, jobID, JobStatusRetrying, attempt, kind, errMsg)
}

func (s *PGJobStore) MarkFailed(ctx context.Context, jobID string, attempt int, kind ErrorKind, errMsg string) error {
	return s.transition(ctx, jobID, JobStatusFailed, attempt, kind, errMsg)
}

func (s *PGJobStore) transition(ctx context.Context, jobID string, status JobStatus, attempt int, kind ErrorKind, errMsg string) error {
	if jobID == "" {
		return errors.New("triage: jobID required")
	}
	result, err := s.db.Exec(ctx, `
		UPDATE triage_jobs
		SET status = $2,
		    attempt = $3,
		    error_kind = NULLIF($4, ''),
		    error_message = NULLIF($5, ''),
		    updated_at = $6
		WHERE job_id = $1
	`, jobID, string(status), attempt, string(kind), errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("triage: failed to update job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob loads a job by ID.
func (s *PGJobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("triage: jobID required")
	}

	var (
		job       JobRecord
		status    string
		kind      pgtype.Text
		errMsg    pgtype.Text
		createdAt time.Time
		updatedAt time.Time
	)
	row := s.db.QueryRow(ctx, `
		SELECT job_id, intake_id, message_id, status, attempt, error_kind, error_message, created_at, updated_at
		FROM triage_jobs
		WHERE job_id = $1
	`, jobID)
	if err := row.Scan(&job.JobID, &job.IntakeID, &job.MessageID, &status, &job.Attempt, &kind, &errMsg, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("triage: failed to fetch job: %w", err)
	}
	job.Status = JobStatus(status)
	if kind.Valid {
		job.ErrorKind = ErrorKind(kind.String)
	}
	if errMsg.Valid {
		job.ErrorMessage = errMsg.String
	}
	job.CreatedAt = createdAt.Format(time.RFC3339Nano)
	job.UpdatedAt = updatedAt.Format(time.RFC3339Nano)
	return &job, nil
}
