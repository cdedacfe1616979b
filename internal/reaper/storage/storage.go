package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/taskforge/dispatchd/internal/reaper/domain"
)

// Storage implements the reaper's job store on PostgreSQL.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a Storage instance.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ListAssigned returns non-workflow jobs in running or waiting state whose
// execution or controller node matches hostname.
func (s *Storage) ListAssigned(ctx context.Context, hostname string) ([]domain.JobRecord, error) {
	query := `
		SELECT job_id, kind, status, execution_node, controller_node,
		       modified, start_args, job_explanation
		FROM jobs
		WHERE kind <> $1
		  AND status IN ($2, $3)
		  AND (execution_node = $4 OR controller_node = $4)
	`

	var jobs []domain.JobRecord
	err := s.db.SelectContext(ctx, &jobs, query,
		domain.KindWorkflow, domain.StatusRunning, domain.StatusWaiting, hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to list assigned jobs: %w", err)
	}
	return jobs, nil
}

// MarkFailed fails the job, records the operator-facing explanation, and
// clears its start args so the terminal record leaks no sensitive payload.
// The status guard keeps the update idempotent: a job another reap already
// failed is not touched again.
func (s *Storage) MarkFailed(ctx context.Context, jobID, explanation string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    job_explanation = $2,
		    start_args = '',
		    modified = NOW()
		WHERE job_id = $3
		  AND status IN ($4, $5)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusFailed, explanation, jobID, domain.StatusRunning, domain.StatusWaiting)
	if err != nil {
		return fmt.Errorf("failed to mark job %s as failed: %w", jobID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		s.logger.Debug("Job already left running/waiting, nothing to reap",
			slog.String("job_id", jobID),
		)
	}
	return nil
}

// UpsertHeartbeat records that hostname is alive right now.
func (s *Storage) UpsertHeartbeat(ctx context.Context, hostname string) error {
	query := `
		INSERT INTO instances (hostname, last_seen)
		VALUES ($1, NOW())
		ON CONFLICT (hostname) DO UPDATE SET last_seen = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, hostname); err != nil {
		return fmt.Errorf("failed to upsert heartbeat for %s: %w", hostname, err)
	}
	return nil
}

// ListLostInstances returns instances whose heartbeat is older than cutoff.
func (s *Storage) ListLostInstances(ctx context.Context, cutoff time.Time) ([]domain.Instance, error) {
	query := `
		SELECT hostname, last_seen
		FROM instances
		WHERE last_seen < $1
	`

	var instances []domain.Instance
	if err := s.db.SelectContext(ctx, &instances, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list lost instances: %w", err)
	}
	return instances, nil
}
