package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// TaskWorker resolves received task messages against a registry and invokes
// the named callable.
type TaskWorker struct {
	registry *Registry
}

// NewTaskWorker creates a resolver backed by registry. A nil registry falls
// back to the process-wide one.
func NewTaskWorker(registry *Registry) *TaskWorker {
	if registry == nil {
		registry = defaultRegistry
	}
	return &TaskWorker{registry: registry}
}

// PerformWork resolves msg.Task and invokes it, returning the task's result
// verbatim. A resolution miss surfaces as ErrTaskNotFound; a failure inside
// the task body, including a panic, comes back wrapped in TaskExecutionError.
func (tw *TaskWorker) PerformWork(msg TaskMessage) (result any, err error) {
	task, err := tw.registry.Resolve(msg.Task)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &TaskExecutionError{
				TaskName: msg.Task,
				Err:      fmt.Errorf("panic: %v", r),
			}
		}
	}()

	result, err = task.invoke(msg.Args, msg.Kwargs)
	if err != nil {
		return nil, &TaskExecutionError{TaskName: msg.Task, Err: err}
	}
	return result, nil
}

// TaskHandler adapts a TaskWorker to the pool's Handler contract: it decodes
// raw deliveries into task messages and surfaces dispatch failures to the
// worker loop's error sink instead of letting them end the loop.
type TaskHandler struct {
	Worker *TaskWorker
	Logger *slog.Logger
}

// PerformWork decodes body and dispatches the task it names.
func (h *TaskHandler) PerformWork(body []byte) error {
	var msg TaskMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to decode task message: %w", err)
	}

	result, err := h.Worker.PerformWork(msg)
	if err != nil {
		return err
	}

	if h.Logger != nil {
		h.Logger.Debug("Task completed",
			slog.String("task", msg.Task),
			slog.Any("result", result),
		)
	}
	return nil
}
