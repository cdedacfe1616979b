package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// QueuePublisher is the slice of the broker client the publisher depends on.
type QueuePublisher interface {
	PublishToQueueWithRetry(ctx context.Context, queue string, body []byte) error
}

// Publisher sends task invocations to their resolved queues. It is the
// producer-side counterpart of TaskWorker: Publish resolves the task, builds
// its wire message, and hands the encoded body to the transport under the
// queue name ApplyAsync picked.
type Publisher struct {
	transport QueuePublisher
	registry  *Registry
	logger    *slog.Logger
}

// NewPublisher creates a Publisher. A nil registry falls back to the
// process-wide one.
func NewPublisher(transport QueuePublisher, registry *Registry, logger *slog.Logger) *Publisher {
	if registry == nil {
		registry = defaultRegistry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		transport: transport,
		registry:  registry,
		logger:    logger,
	}
}

// Publish sends one invocation of the named task and returns the queue it was
// routed to.
func (p *Publisher) Publish(ctx context.Context, taskName string, args []any, kwargs map[string]any, queue ...QueueSpec) (string, error) {
	task, err := p.registry.Resolve(taskName)
	if err != nil {
		return "", err
	}

	message, queueName, err := task.ApplyAsync(args, kwargs, queue...)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to encode task message for %s: %w", taskName, err)
	}

	if err := p.transport.PublishToQueueWithRetry(ctx, queueName, body); err != nil {
		return "", err
	}

	p.logger.Debug("Task published",
		slog.String("task", taskName),
		slog.String("queue", queueName),
	)
	return queueName, nil
}
