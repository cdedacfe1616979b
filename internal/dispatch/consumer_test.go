package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAcknowledger records ack/nack outcomes per delivery tag.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func (a *fakeAcknowledger) ackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked)
}

func (a *fakeAcknowledger) nackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.nacked)
}

type fakeSource struct {
	deliveries chan amqp.Delivery
	err        error
}

func (s *fakeSource) Consume(string, string, int) (<-chan amqp.Delivery, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.deliveries, nil
}

type poolWrite struct {
	preferred int
	body      string
}

// recordingPool captures writes and fails on demand.
type recordingPool struct {
	mu     sync.Mutex
	writes []poolWrite
	err    error
}

func (p *recordingPool) Write(preferred int, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.writes = append(p.writes, poolWrite{preferred: preferred, body: string(body)})
	return nil
}

func (p *recordingPool) snapshot() []poolWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]poolWrite(nil), p.writes...)
}

func TestConsumer_RoutesAndAcks(t *testing.T) {
	ack := &fakeAcknowledger{}
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 3)}
	pool := &recordingPool{}

	for i := 0; i < 3; i++ {
		source.deliveries <- amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  uint64(i + 1),
			Body:         []byte(fmt.Sprintf("msg-%d", i)),
		}
	}
	close(source.deliveries)

	consumer := NewConsumer(&ConsumerConfig{Source: source, Pool: pool, Queue: "default_private_queue"})
	err := consumer.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery channel closed")

	// preferred index rotates so backlog spreads once the pool saturates
	assert.Equal(t, []poolWrite{
		{preferred: 0, body: "msg-0"},
		{preferred: 1, body: "msg-1"},
		{preferred: 2, body: "msg-2"},
	}, pool.snapshot())
	assert.Equal(t, 3, ack.ackCount())
	assert.Equal(t, 0, ack.nackCount())
}

func TestConsumer_NacksWhenPoolRejects(t *testing.T) {
	ack := &fakeAcknowledger{}
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 1)}
	pool := &recordingPool{err: ErrPoolNotInitialized}

	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte("msg")}
	close(source.deliveries)

	consumer := NewConsumer(&ConsumerConfig{Source: source, Pool: pool, Queue: "default_private_queue"})
	err := consumer.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, 0, ack.ackCount())
	require.Equal(t, 1, ack.nackCount())
	assert.True(t, ack.requeue[0], "rejected delivery must be requeued")
}

func TestConsumer_StopsOnContextCancel(t *testing.T) {
	source := &fakeSource{deliveries: make(chan amqp.Delivery)}
	consumer := NewConsumer(&ConsumerConfig{Source: source, Pool: &recordingPool{}, Queue: "default_private_queue"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestConsumer_ConsumeFailure(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("channel gone")}
	consumer := NewConsumer(&ConsumerConfig{Source: source, Pool: &recordingPool{}, Queue: "default_private_queue"})

	err := consumer.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming")
}
