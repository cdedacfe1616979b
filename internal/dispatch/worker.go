package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler consumes one message delivered to a worker's queue. Implementations
// carry their fixed collaborators (result sinks, registries) as struct fields,
// bound before the pool spawns its workers.
type Handler interface {
	PerformWork(body []byte) error
}

// delivery is one queued message plus the identifier used for busy tracking.
type delivery struct {
	id   string
	body []byte
}

// Worker wraps one long-running consumer goroutine with a private inbound
// queue. Only the owning pool enqueues into it; only the worker's own loop
// dequeues.
type Worker struct {
	ID string

	queue chan delivery
	stop  chan struct{}
	done  chan struct{}

	mu           sync.Mutex
	managedTasks map[string]struct{}
	messagesSent atomic.Int64
	stopOnce     sync.Once

	handler Handler
	logger  *slog.Logger
}

func newWorker(queueSize int, handler Handler, logger *slog.Logger) *Worker {
	return &Worker{
		ID:           uuid.New().String(),
		queue:        make(chan delivery, queueSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		managedTasks: make(map[string]struct{}),
		handler:      handler,
		logger:       logger,
	}
}

// spawn starts the worker's consumer loop.
func (w *Worker) spawn() {
	go w.workLoop()
}

// workLoop blocks on the private queue and hands each message to the handler.
// Handler failures and panics are reported and the loop keeps serving: a
// single failing message must not end the worker.
func (w *Worker) workLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return
		case d := <-w.queue:
			w.handle(d)
		}
	}
}

func (w *Worker) handle(d delivery) {
	defer w.finish(d.id)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Worker handler panicked",
				slog.String("worker_id", w.ID),
				slog.Any("panic", r),
			)
		}
	}()

	if err := w.handler.PerformWork(d.body); err != nil {
		w.logger.Error("Worker handler failed",
			slog.String("worker_id", w.ID),
			slog.Any("error", err),
		)
	}
}

// Put enqueues a message. The delivery counts as managed (busy) from the
// moment it is accepted; workLoop drops it from the managed set once the
// handler returns. The enqueue selects on the worker's done channel so a dead
// worker's full queue never wedges the caller.
func (w *Worker) Put(body []byte) error {
	d := delivery{id: uuid.New().String(), body: body}

	if !w.Alive() {
		return ErrWorkerDead
	}

	w.mu.Lock()
	w.managedTasks[d.id] = struct{}{}
	w.mu.Unlock()
	w.messagesSent.Add(1)

	select {
	case w.queue <- d:
		return nil
	case <-w.done:
		w.finish(d.id)
		return ErrWorkerDead
	}
}

func (w *Worker) finish(id string) {
	w.mu.Lock()
	delete(w.managedTasks, id)
	w.mu.Unlock()
}

// Busy reports whether the worker has at least one delivery in flight or
// queued.
func (w *Worker) Busy() bool {
	return w.ManagedTasks() > 0
}

// ManagedTasks returns the number of deliveries currently tracked by the
// worker.
func (w *Worker) ManagedTasks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.managedTasks)
}

// MessagesSent returns the number of deliveries accepted over the worker's
// lifetime. Monotonically non-decreasing.
func (w *Worker) MessagesSent() int64 {
	return w.messagesSent.Load()
}

// QueueDepth returns the number of deliveries waiting in the inbound queue.
func (w *Worker) QueueDepth() int {
	return len(w.queue)
}

// Alive probes the consumer loop directly rather than trusting cached state.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Terminate requests shutdown of the consumer loop. Safe to call repeatedly
// and while the worker is mid-task; in-flight results may be lost.
func (w *Worker) Terminate() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}
