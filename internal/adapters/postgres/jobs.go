package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"geoaudit/internal/ports"
)

// JobStore implements ports.JobStore on the audit_jobs table.
type JobStore struct {
	db *DB
}

func NewJobStore(db *DB) *JobStore { return &JobStore{db: db} }

func (s *JobStore) Insert(ctx context.Context, rec ports.JobRecord) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO audit_jobs (id, queue, kind, payload, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.Queue, string(rec.Kind), string(rec.Payload), rec.MaxAttempts, rec.RunAt.UTC())
	return err
}

// ClaimNext locks the next due job of queue with SKIP LOCKED, marks it
// running under a lease and bumps its attempt counter. Running jobs whose
// lease ran out are claimable again.
func (s *JobStore) ClaimNext(ctx context.Context, queue string, lease time.Duration) (job ports.JobRecord, found bool, err error) {
	err = s.db.inTx(ctx, func(tx pgx.Tx) error {
		var (
			kind, lastErr string
			payload       []byte
		)
		err := tx.QueryRow(ctx, `
			SELECT id, queue, kind, payload, attempts, max_attempts, run_at, COALESCE(last_error, '')
			FROM audit_jobs
			WHERE queue = $1
			  AND ((status = 'queued' AND run_at <= now())
			    OR (status = 'running' AND locked_until < now()))
			ORDER BY run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		`, queue).Scan(&job.ID, &job.Queue, &kind, &payload, &job.Attempts, &job.MaxAttempts, &job.RunAt, &lastErr)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		job.Kind = ports.JobKind(kind)
		job.Payload = payload
		job.LastError = lastErr

		if err := tx.QueryRow(ctx, `
			UPDATE audit_jobs
			SET status = 'running', attempts = attempts + 1, locked_until = now() + $2::interval
			WHERE id = $1
			RETURNING attempts
		`, job.ID, fmt.Sprintf("%d milliseconds", lease.Milliseconds())).Scan(&job.Attempts); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return ports.JobRecord{}, false, err
	}
	return job, found, nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE audit_jobs SET status = 'completed', finished_at = now(), locked_until = NULL WHERE id = $1
	`, jobID)
	return err
}

func (s *JobStore) MarkRetry(ctx context.Context, jobID string, reason string, runAt time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE audit_jobs SET status = 'queued', last_error = $2, run_at = $3, locked_until = NULL WHERE id = $1
	`, jobID, reason, runAt.UTC())
	return err
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, reason string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE audit_jobs SET status = 'failed', last_error = $2, finished_at = now(), locked_until = NULL WHERE id = $1
	`, jobID, reason)
	return err
}

var _ ports.JobStore = (*JobStore)(nil)
