package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskforge/dispatchd/internal/reaper/domain"
)

// DefaultGraceWindow is how long a waiting job may sit unmodified before it
// counts as orphaned. Waiting jobs younger than this may be mid-handoff: the
// write that assigned the node may not be visible yet, or work may simply not
// have started.
const DefaultGraceWindow = time.Minute

// JobStore is the slice of the job store the reaper depends on.
type JobStore interface {
	// ListAssigned returns non-workflow jobs in running or waiting state
	// whose execution or controller node matches hostname.
	ListAssigned(ctx context.Context, hostname string) ([]domain.JobRecord, error)

	// MarkFailed fails the job, records the explanation, and clears its
	// start args. It must be a no-op once the job has left running/waiting,
	// which is what makes concurrent reaps of the same instance safe.
	MarkFailed(ctx context.Context, jobID, explanation string) error

	// ListLostInstances returns instances whose heartbeat is older than
	// cutoff.
	ListLostInstances(ctx context.Context, cutoff time.Time) ([]domain.Instance, error)
}

// Config holds reaper construction parameters.
type Config struct {
	Store       JobStore
	GraceWindow time.Duration
	Logger      *slog.Logger
}

// Reaper fails jobs orphaned by dead or unreachable nodes. Update-only: it
// never creates or deletes job records.
type Reaper struct {
	store       JobStore
	graceWindow time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Reaper.
func New(cfg *Config) *Reaper {
	graceWindow := cfg.GraceWindow
	if graceWindow <= 0 {
		graceWindow = DefaultGraceWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:       cfg.Store,
		graceWindow: graceWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// Reap fails every job orphaned on the given instance. Waiting jobs inside
// the grace window are left alone as handoff-in-progress. Store failures on
// one job do not stop the scan.
func (r *Reaper) Reap(ctx context.Context, instance domain.Instance) error {
	jobs, err := r.store.ListAssigned(ctx, instance.Hostname)
	if err != nil {
		return fmt.Errorf("failed to list jobs assigned to %s: %w", instance.Hostname, err)
	}

	now := r.now()
	for i := range jobs {
		job := &jobs[i]
		if !r.shouldReap(job, instance.Hostname, now) {
			continue
		}

		explanation := fmt.Sprintf(
			"Job was in %s state but its node (%s) was found to be unavailable, so it has been marked as failed.",
			job.Status, instance.Hostname,
		)
		if err := r.store.MarkFailed(ctx, job.ID, explanation); err != nil {
			r.logger.Error("Failed to reap job",
				slog.String("job_id", job.ID),
				slog.String("hostname", instance.Hostname),
				slog.Any("error", err),
			)
			continue
		}

		r.logger.Warn("Reaped orphaned job",
			slog.String("job_id", job.ID),
			slog.String("hostname", instance.Hostname),
			slog.String("previous_status", job.Status),
		)
	}
	return nil
}

// shouldReap applies the orphaning rules for a single job.
func (r *Reaper) shouldReap(job *domain.JobRecord, hostname string, now time.Time) bool {
	if job.IsWorkflow() || !job.AssignedTo(hostname) {
		return false
	}

	switch job.Status {
	case domain.StatusRunning:
		// a running job only runs on the node that holds it
		return true
	case domain.StatusWaiting:
		return now.Sub(job.Modified) > r.graceWindow
	default:
		return false
	}
}

// ReapLostInstances finds nodes whose heartbeat has gone stale and reaps
// each of them. A failure on one node does not stop the sweep.
func (r *Reaper) ReapLostInstances(ctx context.Context, lostAfter time.Duration) error {
	cutoff := r.now().Add(-lostAfter)
	instances, err := r.store.ListLostInstances(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list lost instances: %w", err)
	}

	for _, instance := range instances {
		if err := r.Reap(ctx, instance); err != nil {
			r.logger.Error("Failed to reap lost instance",
				slog.String("hostname", instance.Hostname),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
