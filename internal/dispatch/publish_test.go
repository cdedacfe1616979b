package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addFunc(args []any, kwargs map[string]any) (any, error) {
	return args[0].(int) + args[1].(int), nil
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	task, err := registry.Register("example.tasks.add", addFunc)
	require.NoError(t, err)
	assert.Equal(t, "example.tasks.add", task.Name())
	assert.Equal(t, 1, registry.Len())

	resolved, err := registry.Resolve("example.tasks.add")
	require.NoError(t, err)
	assert.Same(t, task, resolved)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Register("", addFunc)
	assert.Error(t, err)

	_, err = registry.Register("example.tasks.add", nil)
	assert.Error(t, err)

	_, err = registry.RegisterRunnable("example.tasks.Adder", nil)
	assert.Error(t, err)
}

func TestRegistry_DuplicateName(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Register("example.tasks.add", addFunc)
	require.NoError(t, err)

	_, err = registry.Register("example.tasks.add", addFunc)
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestRegistry_ResolveMiss(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Resolve("example.tasks.missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTask_ApplyAsync(t *testing.T) {
	registry := NewRegistry()
	add, err := registry.Register("example.tasks.add", addFunc)
	require.NoError(t, err)

	message, queue, err := add.ApplyAsync([]any{2, 2}, nil)
	require.NoError(t, err)

	assert.Equal(t, "example.tasks.add", message.Task)
	assert.Equal(t, []any{2, 2}, message.Args)
	assert.Equal(t, map[string]any{}, message.Kwargs)
	assert.Equal(t, DefaultQueue, queue)
}

func TestTask_ApplyAsyncQueueResolution(t *testing.T) {
	registry := NewRegistry()
	add, err := registry.Register("example.tasks.add", addFunc)
	require.NoError(t, err)
	multiply, err := registry.Register("example.tasks.multiply", addFunc,
		WithQueue(StaticQueue("hard-math")))
	require.NoError(t, err)

	tests := []struct {
		name      string
		task      *Task
		override  []QueueSpec
		wantQueue string
	}{
		{
			name:      "no override and no default falls back",
			task:      add,
			wantQueue: DefaultQueue,
		},
		{
			name:      "task default queue",
			task:      multiply,
			wantQueue: "hard-math",
		},
		{
			name:      "explicit literal overrides task default",
			task:      multiply,
			override:  []QueueSpec{StaticQueue("not-so-hard")},
			wantQueue: "not-so-hard",
		},
		{
			name:      "explicit literal on task without default",
			task:      add,
			override:  []QueueSpec{StaticQueue("abc123")},
			wantQueue: "abc123",
		},
		{
			name: "dynamic selector evaluated at publish time",
			task: add,
			override: []QueueSpec{DynamicQueue(func() (string, error) {
				return "called", nil
			})},
			wantQueue: "called",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message, queue, err := tt.task.ApplyAsync([]any{2, 2}, nil, tt.override...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQueue, queue)
			assert.Equal(t, tt.task.Name(), message.Task)
		})
	}
}

func TestTask_ApplyAsyncSelectorFailure(t *testing.T) {
	registry := NewRegistry()
	add, err := registry.Register("example.tasks.add", addFunc)
	require.NoError(t, err)

	_, _, err = add.ApplyAsync([]any{2, 2}, nil, DynamicQueue(func() (string, error) {
		return "", fmt.Errorf("no shard available")
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no shard available")
}

func TestTask_ApplyAsyncKwargs(t *testing.T) {
	registry := NewRegistry()
	add, err := registry.Register("example.tasks.add", addFunc)
	require.NoError(t, err)

	message, _, err := add.ApplyAsync([]any{2}, map[string]any{"b": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 2}, message.Kwargs)
}
