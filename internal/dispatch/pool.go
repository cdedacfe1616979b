package dispatch

import (
	"log/slog"
	"sync"
)

const defaultQueueDepth = 64

// PoolConfig holds worker pool construction parameters.
type PoolConfig struct {
	MinWorkers int
	MaxWorkers int // autoscaling pools only
	QueueDepth int // per-worker inbound queue capacity
	Logger     *slog.Logger
}

func (c *PoolConfig) normalize() {
	if c.MinWorkers < 1 {
		c.MinWorkers = 1
	}
	if c.QueueDepth < 1 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WorkerPool is a fixed-size set of workers with deterministic queue routing:
// Write delivers to workers[preferred mod size], always. Membership mutation
// and routing share one lock so observers always see a consistent snapshot.
type WorkerPool struct {
	mu      sync.Mutex
	workers []*Worker
	inited  bool

	minWorkers int
	queueDepth int
	handler    Handler
	logger     *slog.Logger
}

// NewWorkerPool creates a pool that will spawn MinWorkers workers.
func NewWorkerPool(cfg *PoolConfig) *WorkerPool {
	cfg.normalize()
	return &WorkerPool{
		minWorkers: cfg.MinWorkers,
		queueDepth: cfg.QueueDepth,
		logger:     cfg.Logger,
	}
}

// InitWorkers spawns exactly MinWorkers workers bound to handler. Write
// refuses to run before this.
func (p *WorkerPool) InitWorkers(handler Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inited {
		return nil
	}

	p.handler = handler
	for i := 0; i < p.minWorkers; i++ {
		p.spawnLocked()
	}
	p.inited = true
	return nil
}

func (p *WorkerPool) spawnLocked() *Worker {
	w := newWorker(p.queueDepth, p.handler, p.logger)
	w.spawn()
	p.workers = append(p.workers, w)

	p.logger.Info("Worker spawned",
		slog.String("worker_id", w.ID),
		slog.Int("pool_size", len(p.workers)),
	)
	return w
}

// Write delivers body to the worker preferred by index. The preference is
// honored verbatim: target = preferred mod size. The target is snapshotted
// under the lock but the enqueue happens outside it: Put can block on a full
// queue, and a backed-up worker must not stall the rest of the pool.
func (p *WorkerPool) Write(preferred int, body []byte) error {
	p.mu.Lock()
	if !p.inited || len(p.workers) == 0 {
		p.mu.Unlock()
		return ErrPoolNotInitialized
	}
	target := p.workers[preferred%len(p.workers)]
	p.mu.Unlock()

	return target.Put(body)
}

// Stop terminates every worker and clears membership. Safe to call repeatedly
// and while workers are mid-task; in-flight results may be lost.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		w.Terminate()
	}
	p.workers = nil
	p.inited = false
}

// Len reports the current worker count.
func (p *WorkerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Workers returns a snapshot of the current membership.
func (p *WorkerPool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Worker(nil), p.workers...)
}

// WorkerStat is a point-in-time view of one worker, exposed by the status
// API.
type WorkerStat struct {
	ID           string `json:"id"`
	Alive        bool   `json:"alive"`
	Busy         bool   `json:"busy"`
	ManagedTasks int    `json:"managed_tasks"`
	MessagesSent int64  `json:"messages_sent"`
	QueueDepth   int    `json:"queue_depth"`
}

// Stats returns a snapshot of every worker in the pool.
func (p *WorkerPool) Stats() []WorkerStat {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]WorkerStat, 0, len(p.workers))
	for _, w := range p.workers {
		stats = append(stats, WorkerStat{
			ID:           w.ID,
			Alive:        w.Alive(),
			Busy:         w.Busy(),
			ManagedTasks: w.ManagedTasks(),
			MessagesSent: w.MessagesSent(),
			QueueDepth:   w.QueueDepth(),
		})
	}
	return stats
}
