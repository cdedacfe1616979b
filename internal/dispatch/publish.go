package dispatch

import (
	"fmt"
	"sync"
)

// DefaultQueue is the process-wide fallback used when neither the publish
// call nor the task declaration names a queue.
const DefaultQueue = "default_private_queue"

// QueueSpec names a target queue either as a literal or as a selector
// evaluated at publish time (e.g. to shard by node identity).
type QueueSpec struct {
	literal string
	dynamic func() (string, error)
}

// StaticQueue names a queue by literal string.
func StaticQueue(name string) QueueSpec {
	return QueueSpec{literal: name}
}

// DynamicQueue defers queue selection to fn, called once per publish.
func DynamicQueue(fn func() (string, error)) QueueSpec {
	return QueueSpec{dynamic: fn}
}

func (q QueueSpec) isZero() bool {
	return q.literal == "" && q.dynamic == nil
}

func (q QueueSpec) resolve() (string, error) {
	if q.dynamic != nil {
		return q.dynamic()
	}
	return q.literal, nil
}

// TaskMessage is the transport-agnostic wire shape of one task invocation.
// The resolved queue name travels alongside it, never inside it.
type TaskMessage struct {
	Task   string         `json:"task"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// TaskFunc is a plain function task.
type TaskFunc func(args []any, kwargs map[string]any) (any, error)

// Runnable is the entry point object-style tasks must expose. A fresh
// instance is constructed for every dispatch.
type Runnable interface {
	Run(args []any, kwargs map[string]any) (any, error)
}

// Task is a registered unit of work addressable by its dotted name.
type Task struct {
	name         string
	fn           TaskFunc
	factory      func() Runnable
	defaultQueue QueueSpec
}

// Name returns the task's dotted name.
func (t *Task) Name() string {
	return t.name
}

// TaskOption customizes a task at registration time.
type TaskOption func(*Task)

// WithQueue sets the task's default queue.
func WithQueue(q QueueSpec) TaskOption {
	return func(t *Task) {
		t.defaultQueue = q
	}
}

// ApplyAsync builds the routable message for one invocation and resolves its
// target queue without contacting any transport. Queue resolution order: the
// explicit override, then the task's default, then DefaultQueue. A failing
// dynamic selector propagates to the publisher.
func (t *Task) ApplyAsync(args []any, kwargs map[string]any, queue ...QueueSpec) (TaskMessage, string, error) {
	spec := t.defaultQueue
	if len(queue) > 0 && !queue[0].isZero() {
		spec = queue[0]
	}

	name := DefaultQueue
	if !spec.isZero() {
		resolved, err := spec.resolve()
		if err != nil {
			return TaskMessage{}, "", fmt.Errorf("failed to resolve queue for task %s: %w", t.name, err)
		}
		name = resolved
	}

	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return TaskMessage{Task: t.name, Args: args, Kwargs: kwargs}, name, nil
}

// invoke calls the registered handle. Object-style tasks run on a fresh
// instance per dispatch.
func (t *Task) invoke(args []any, kwargs map[string]any) (any, error) {
	if t.fn != nil {
		return t.fn(args, kwargs)
	}
	return t.factory().Run(args, kwargs)
}

// Registry maps dotted task names to their handles. It is populated during
// process startup and read-only once dispatch begins.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register adds a function task under its dotted name.
func (r *Registry) Register(name string, fn TaskFunc, opts ...TaskOption) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("task name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("task %s: function is required", name)
	}

	t := &Task{name: name, fn: fn}
	for _, opt := range opts {
		opt(t)
	}
	return t, r.add(t)
}

// RegisterRunnable adds an object-style task. Conformance to Runnable is part
// of the factory signature, so it is checked here rather than at call time.
func (r *Registry) RegisterRunnable(name string, factory func() Runnable, opts ...TaskOption) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("task name is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("task %s: factory is required", name)
	}

	t := &Task{name: name, factory: factory}
	for _, opt := range opts {
		opt(t)
	}
	return t, r.add(t)
}

func (r *Registry) add(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.name)
	}
	r.tasks[t.name] = t
	return nil
}

// Resolve looks a task up by its dotted name.
func (r *Registry) Resolve(name string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return t, nil
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// defaultRegistry backs the package-level registration helpers, mirroring the
// one-registry-per-process model.
var defaultRegistry = NewRegistry()

// Default returns the process-wide task registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a function task to the process-wide registry.
func Register(name string, fn TaskFunc, opts ...TaskOption) (*Task, error) {
	return defaultRegistry.Register(name, fn, opts...)
}

// RegisterRunnable adds an object-style task to the process-wide registry.
func RegisterRunnable(name string, factory func() Runnable, opts ...TaskOption) (*Task, error) {
	return defaultRegistry.RegisterRunnable(name, factory, opts...)
}
