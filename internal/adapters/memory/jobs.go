package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"geoaudit/internal/ports"
)

// JobStatus mirrors the audit_jobs.status column.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type storedJob struct {
	rec         ports.JobRecord
	status      JobStatus
	lockedUntil time.Time
	seq         int
}

// JobStore is an in-process ports.JobStore with the same claim semantics as
// the Postgres store: due queued jobs, or running jobs whose lease expired.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*storedJob
	seq  int
	now  func() time.Time
}

func NewJobStore(now func() time.Time) *JobStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &JobStore{jobs: make(map[string]*storedJob), now: now}
}

func (s *JobStore) Insert(ctx context.Context, rec ports.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[rec.ID]; exists {
		return fmt.Errorf("job %s already exists", rec.ID)
	}
	s.seq++
	s.jobs[rec.ID] = &storedJob{rec: rec, status: JobQueued, seq: s.seq}
	return nil
}

func (s *JobStore) ClaimNext(ctx context.Context, queue string, lease time.Duration) (ports.JobRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var next *storedJob
	for _, j := range s.jobs {
		if j.rec.Queue != queue {
			continue
		}
		due := j.status == JobQueued && !j.rec.RunAt.After(now)
		expired := j.status == JobRunning && j.lockedUntil.Before(now)
		if !due && !expired {
			continue
		}
		if next == nil || j.rec.RunAt.Before(next.rec.RunAt) ||
			(j.rec.RunAt.Equal(next.rec.RunAt) && j.seq < next.seq) {
			next = j
		}
	}
	if next == nil {
		return ports.JobRecord{}, false, nil
	}
	next.status = JobRunning
	next.lockedUntil = now.Add(lease)
	next.rec.Attempts++
	return next.rec, true, nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID string) error {
	return s.update(jobID, func(j *storedJob) { j.status = JobCompleted })
}

func (s *JobStore) MarkRetry(ctx context.Context, jobID string, reason string, runAt time.Time) error {
	return s.update(jobID, func(j *storedJob) {
		j.status = JobQueued
		j.rec.LastError = reason
		j.rec.RunAt = runAt
	})
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return s.update(jobID, func(j *storedJob) {
		j.status = JobFailed
		j.rec.LastError = reason
	})
}

func (s *JobStore) update(jobID string, fn func(*storedJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	fn(j)
	return nil
}

// Jobs returns a snapshot of every job with the given status in insertion order.
// An empty status matches all jobs.
func (s *JobStore) Jobs(status JobStatus) []ports.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*storedJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if status == "" || j.status == status {
			list = append(list, j)
		}
	}
	sort.Slice(list, func(a, b int) bool { return list[a].seq < list[b].seq })
	out := make([]ports.JobRecord, len(list))
	for i, j := range list {
		out[i] = j.rec
	}
	return out
}

var _ ports.JobStore = (*JobStore)(nil)
