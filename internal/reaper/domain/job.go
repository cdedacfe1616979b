package domain

import "time"

// Job statuses observed by the reaper.
const (
	StatusPending    = "pending"
	StatusWaiting    = "waiting"
	StatusRunning    = "running"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
	StatusError      = "error"
)

// Job kinds. Workflow jobs orchestrate other jobs and never bind to an
// execution node, so the reaper must leave them alone.
const (
	KindJob      = "job"
	KindWorkflow = "workflow_job"
)

// JobRecord is the slice of the job store the reaper reads and writes.
type JobRecord struct {
	ID             string    `db:"job_id"`
	Kind           string    `db:"kind"`
	Status         string    `db:"status"`
	ExecutionNode  string    `db:"execution_node"`
	ControllerNode string    `db:"controller_node"`
	Modified       time.Time `db:"modified"`
	StartArgs      string    `db:"start_args"`
	JobExplanation string    `db:"job_explanation"`
}

// IsWorkflow reports whether the record is a workflow orchestration job.
func (j *JobRecord) IsWorkflow() bool {
	return j.Kind == KindWorkflow
}

// AssignedTo reports whether the job runs on or is controlled by hostname.
func (j *JobRecord) AssignedTo(hostname string) bool {
	if hostname == "" {
		return false
	}
	return j.ExecutionNode == hostname || j.ControllerNode == hostname
}

// Instance is a cluster node identity.
type Instance struct {
	Hostname string    `db:"hostname"`
	LastSeen time.Time `db:"last_seen"`
}
