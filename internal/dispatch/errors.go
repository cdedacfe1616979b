package dispatch

import "errors"

var (
	// ErrPoolNotInitialized is returned when Write is called before InitWorkers
	// or after Stop
	ErrPoolNotInitialized = errors.New("worker pool not initialized")

	// ErrWorkerDead is returned when a message is offered to a worker whose
	// consumer loop has already exited
	ErrWorkerDead = errors.New("worker is no longer alive")

	// ErrTaskNotFound is returned when a message names a task that was never
	// registered
	ErrTaskNotFound = errors.New("task not registered")

	// ErrDuplicateTask is returned when a dotted name is registered twice
	ErrDuplicateTask = errors.New("task already registered")
)

// TaskExecutionError wraps a failure raised by a task body during dispatch.
// The resolver never swallows these; the worker loop decides what to do.
type TaskExecutionError struct {
	TaskName string
	Err      error
}

func (e *TaskExecutionError) Error() string {
	return "task " + e.TaskName + " failed: " + e.Err.Error()
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}
