package dispatch

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopHandler discards every delivery.
type noopHandler struct{}

func (noopHandler) PerformWork([]byte) error { return nil }

// resultWriter appends a marker to each body and sends it to Results.
type resultWriter struct {
	Results chan string
}

func (h *resultWriter) PerformWork(body []byte) error {
	h.Results <- string(body) + "!!!"
	return nil
}

// blockingHandler holds every delivery until Release is closed, keeping the
// worker busy for as long as the test needs.
type blockingHandler struct {
	Release chan struct{}
}

func (h *blockingHandler) PerformWork(body []byte) error {
	<-h.Release
	return nil
}

func newTestPool(t *testing.T, minWorkers int) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool(&PoolConfig{MinWorkers: minWorkers})
	t.Cleanup(pool.Stop)
	return pool
}

func TestWorkerPool_InitWorkers(t *testing.T) {
	pool := newTestPool(t, 3)
	require.NoError(t, pool.InitWorkers(noopHandler{}))

	assert.Equal(t, 3, pool.Len())
	for _, w := range pool.Workers() {
		assert.True(t, w.Alive())
		assert.False(t, w.Busy())
		assert.EqualValues(t, 0, w.MessagesSent())
	}
}

func TestWorkerPool_WriteBeforeInit(t *testing.T) {
	pool := newTestPool(t, 3)

	err := pool.Write(0, []byte("xyz"))
	assert.ErrorIs(t, err, ErrPoolNotInitialized)
}

func TestWorkerPool_WritePlacement(t *testing.T) {
	tests := []struct {
		name      string
		preferred int
		target    int
	}{
		{name: "first worker", preferred: 0, target: 0},
		{name: "last worker", preferred: 2, target: 2},
		{name: "index wraps modulo pool size", preferred: 5, target: 2},
		{name: "large index wraps", preferred: 10, target: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newTestPool(t, 3)
			require.NoError(t, pool.InitWorkers(noopHandler{}))

			require.NoError(t, pool.Write(tt.preferred, []byte("xyz")))

			for i, w := range pool.Workers() {
				if i == tt.target {
					assert.EqualValues(t, 1, w.MessagesSent(), "worker %d should have the message", i)
				} else {
					assert.EqualValues(t, 0, w.MessagesSent(), "worker %d should be untouched", i)
				}
			}
		})
	}
}

func TestWorkerPool_Processing(t *testing.T) {
	pool := newTestPool(t, 3)
	results := make(chan string, 10)
	require.NoError(t, pool.InitWorkers(&resultWriter{Results: results}))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Write(i, []byte(fmt.Sprintf("Hello, Worker %d", i))))
	}

	var all []string
	for i := 0; i < 10; i++ {
		select {
		case msg := <-results:
			all = append(all, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for result %d", i)
		}
	}
	sort.Strings(all)

	var want []string
	for i := 0; i < 10; i++ {
		want = append(want, fmt.Sprintf("Hello, Worker %d!!!", i))
	}
	sort.Strings(want)
	assert.Equal(t, want, all)

	var total int64
	for _, w := range pool.Workers() {
		total += w.MessagesSent()
	}
	assert.EqualValues(t, 10, total)
}

func TestWorkerPool_HandlerFailureDoesNotKillWorker(t *testing.T) {
	pool := newTestPool(t, 1)
	results := make(chan string, 2)
	require.NoError(t, pool.InitWorkers(&faultyHandler{Results: results}))

	require.NoError(t, pool.Write(0, []byte("boom")))
	require.NoError(t, pool.Write(0, []byte("panic")))
	require.NoError(t, pool.Write(0, []byte("fine")))

	select {
	case msg := <-results:
		assert.Equal(t, "fine", msg)
	case <-time.After(time.Second):
		t.Fatal("worker stopped serving after a handler failure")
	}
	assert.True(t, pool.Workers()[0].Alive())
}

// faultyHandler fails on demand to exercise the loop's error boundary.
type faultyHandler struct {
	Results chan string
}

func (h *faultyHandler) PerformWork(body []byte) error {
	switch string(body) {
	case "boom":
		return fmt.Errorf("simulated handler failure")
	case "panic":
		panic("simulated handler panic")
	default:
		h.Results <- string(body)
		return nil
	}
}

func TestWorkerPool_StopIsIdempotent(t *testing.T) {
	pool := newTestPool(t, 3)
	require.NoError(t, pool.InitWorkers(noopHandler{}))

	pool.Stop()
	pool.Stop()

	assert.Equal(t, 0, pool.Len())
	assert.ErrorIs(t, pool.Write(0, []byte("xyz")), ErrPoolNotInitialized)
}

func TestWorkerPool_BackedUpWorkerDoesNotStallPool(t *testing.T) {
	pool := NewWorkerPool(&PoolConfig{MinWorkers: 1, QueueDepth: 1})
	t.Cleanup(pool.Stop)
	release := make(chan struct{})
	require.NoError(t, pool.InitWorkers(&blockingHandler{Release: release}))

	// first delivery occupies the handler, second fills the queue
	worker := pool.Workers()[0]
	require.NoError(t, pool.Write(0, []byte("a")))
	require.Eventually(t, func() bool { return worker.QueueDepth() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Write(0, []byte("b")))

	// this write has nowhere to go until the handler drains
	stalled := make(chan error, 1)
	go func() { stalled <- pool.Write(0, []byte("c")) }()

	// the pool must keep answering while the write waits for queue space
	observed := make(chan int, 1)
	go func() { observed <- pool.Len() }()
	select {
	case n := <-observed:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("Len blocked behind a stalled write")
	}

	close(release)
	select {
	case err := <-stalled:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stalled write never completed after the handler drained")
	}
}

func TestWorker_TerminateIsObservable(t *testing.T) {
	pool := newTestPool(t, 1)
	require.NoError(t, pool.InitWorkers(noopHandler{}))

	w := pool.Workers()[0]
	require.True(t, w.Alive())

	w.Terminate()
	w.Terminate() // safe to repeat

	require.Eventually(t, func() bool { return !w.Alive() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, w.Put([]byte("xyz")), ErrWorkerDead)
}
