package triage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryJobStore keeps job records in process for local development.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]JobRecord
}

var _ JobTracker = (*MemoryJobStore)(nil)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]JobRecord)}
}

func (s *MemoryJobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("triage: job cannot be nil")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	job.Status = JobStatusPending
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID]; exists {
		return errors.New("triage: job already exists")
	}
	s.jobs[job.JobID] = *job
	return nil
}

func (s *MemoryJobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryJobStore) MarkCompleted(ctx context.Context, jobID string, attempt int) error {
	return s.transition(jobID, JobStatusCompleted, attempt, "", "")
}

func (s *MemoryJobStore) MarkRetrying(ctx context.Context, jobID string, attempt int, kind ErrorKind, errMsg string) error {
	return s.transition(jobID, JobStatusRetrying, attempt, kind, errMsg)
}

func (s *MemoryJobStore) MarkFailed(ctx context.Context, jobID string, attempt int, kind ErrorKind, errMsg string) error {
	return s.transition(jobID, JobStatusFailed, attempt, kind, errMsg)
}

func (s *MemoryJobStore) transition(jobID string, status JobStatus, attempt int, kind ErrorKind, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.Attempt = attempt
	job.ErrorKind = kind
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	s.jobs[jobID] = job
	return nil
}
