package dispatch

import "log/slog"

// AutoscalePool grows the worker set under saturation and shrinks it back to
// the floor when workers go idle, keeping the size within
// [MinWorkers, MaxWorkers].
type AutoscalePool struct {
	WorkerPool
	maxWorkers int
}

// NewAutoscalePool creates a pool bounded by cfg.MinWorkers and
// cfg.MaxWorkers.
func NewAutoscalePool(cfg *PoolConfig) *AutoscalePool {
	cfg.normalize()
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	return &AutoscalePool{
		WorkerPool: WorkerPool{
			minWorkers: cfg.MinWorkers,
			queueDepth: cfg.QueueDepth,
			logger:     cfg.Logger,
		},
		maxWorkers: cfg.MaxWorkers,
	}
}

// MaxWorkers returns the pool's size ceiling.
func (p *AutoscalePool) MaxWorkers() int {
	return p.maxWorkers
}

// ShouldGrow reports whether every current worker is busy and capacity
// remains.
func (p *AutoscalePool) ShouldGrow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldGrowLocked()
}

func (p *AutoscalePool) shouldGrowLocked() bool {
	if len(p.workers) >= p.maxWorkers {
		return false
	}
	for _, w := range p.workers {
		if !w.Busy() {
			return false
		}
	}
	return true
}

// Full reports whether the pool has reached MaxWorkers.
func (p *AutoscalePool) Full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers) >= p.maxWorkers
}

// Up spawns one additional worker bound to the handler from InitWorkers.
// No-op once the pool is full.
func (p *AutoscalePool) Up() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upLocked()
}

func (p *AutoscalePool) upLocked() *Worker {
	if len(p.workers) >= p.maxWorkers {
		p.logger.Debug("Pool at capacity, refusing to grow",
			slog.Int("max_workers", p.maxWorkers),
		)
		return nil
	}
	return p.spawnLocked()
}

// Write routes with load sensitivity. A slot lost to a dead worker is
// replaced before routing, and a busy preferred worker triggers growth before
// the message is allowed to queue behind it. Only when the pool is full does
// a write land on a busy worker's backlog. Target selection runs under the
// lock; the enqueue does not, so a write waiting on a full queue cannot stall
// Cleanup or the status snapshots.
func (p *AutoscalePool) Write(preferred int, body []byte) error {
	p.mu.Lock()

	if !p.inited {
		p.mu.Unlock()
		return ErrPoolNotInitialized
	}

	// lazy replacement of workers reaped by Cleanup
	for len(p.workers) < p.minWorkers {
		if p.upLocked() == nil {
			break
		}
	}
	if len(p.workers) == 0 {
		p.mu.Unlock()
		return ErrPoolNotInitialized
	}

	target := p.workers[preferred%len(p.workers)]
	if target.Busy() {
		if grown := p.upLocked(); grown != nil {
			target = grown
		}
	}
	p.mu.Unlock()

	return target.Put(body)
}

// Cleanup reaps workers whose liveness probe fails and scales idle workers
// back down to the floor in one pass. Dead workers are not replaced here; the
// next Write that needs the capacity restores it.
func (p *AutoscalePool) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	alive := p.workers[:0]
	for _, w := range p.workers {
		if !w.Alive() {
			p.logger.Warn("Reaped dead worker",
				slog.String("worker_id", w.ID),
				slog.Int("pool_size", len(alive)),
			)
			continue
		}
		alive = append(alive, w)
	}
	p.workers = alive

	// scale down never drops below the floor and never touches a busy worker
	for len(p.workers) > p.minWorkers {
		idx := -1
		for i, w := range p.workers {
			if !w.Busy() {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}

		w := p.workers[idx]
		w.Terminate()
		p.workers = append(p.workers[:idx], p.workers[idx+1:]...)

		p.logger.Info("Scaled down idle worker",
			slog.String("worker_id", w.ID),
			slog.Int("pool_size", len(p.workers)),
		)
	}
}
