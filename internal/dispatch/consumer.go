package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource is the slice of the broker client the consumer depends on:
// a stream of raw deliveries from one named queue.
type DeliverySource interface {
	Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Pool is the write surface the consumer routes into.
type Pool interface {
	Write(preferred int, body []byte) error
}

// ConsumerConfig holds consumer construction parameters.
type ConsumerConfig struct {
	Source      DeliverySource
	Pool        Pool
	Queue       string
	ConsumerTag string
	Prefetch    int
	Logger      *slog.Logger
}

// Consumer bridges broker deliveries into the worker pool, rotating the
// preferred index so backlog spreads round-robin once the pool is saturated.
type Consumer struct {
	source      DeliverySource
	pool        Pool
	queue       string
	consumerTag string
	prefetch    int
	logger      *slog.Logger
	next        int
}

// NewConsumer creates a consumer for the dispatcher's private queue.
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		source:      cfg.Source,
		pool:        cfg.Pool,
		queue:       cfg.Queue,
		consumerTag: cfg.ConsumerTag,
		prefetch:    cfg.Prefetch,
		logger:      logger,
	}
}

// Run consumes until ctx is canceled or the delivery channel closes. Each
// delivery is acked once the pool accepts it; a rejected delivery is nacked
// back to the broker for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.queue, c.consumerTag, c.prefetch)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", c.queue, err)
	}

	c.logger.Info("Dispatcher consuming",
		slog.String("queue", c.queue),
		slog.String("consumer_tag", c.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Dispatcher consumer stopped - context canceled")
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queue)
			}
			c.dispatch(d)
		}
	}
}

func (c *Consumer) dispatch(d amqp.Delivery) {
	if err := c.pool.Write(c.next, d.Body); err != nil {
		c.logger.Error("Failed to route delivery into pool",
			slog.String("queue", c.queue),
			slog.Any("error", err),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("Failed to NACK delivery",
				slog.Any("error", nackErr),
			)
		}
		return
	}
	c.next++

	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to ACK delivery",
			slog.Any("error", err),
		)
	}
}
