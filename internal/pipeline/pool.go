package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pool runs a bounded set of workers polling the orchestrator for work.
// Each worker claims at most one job at a time, so at most Workers jobs
// are ever in flight.
type Pool struct {
	orch    *Orchestrator
	workers int
	poll    time.Duration
	logger  *slog.Logger
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Orchestrator *Orchestrator
	Workers      int           // default 3
	PollInterval time.Duration // default 500ms
	Logger       *slog.Logger
}

// NewPool creates a worker pool.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		orch:    cfg.Orchestrator,
		workers: workers,
		poll:    poll,
		logger:  logger,
	}
}

// Run starts the workers and blocks until ctx is cancelled and all
// in-flight stage executions have drained.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("starting worker pool", "workers", p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			p.workerLoop(ctx, workerNum)
		}(i)
	}

	wg.Wait()
	p.logger.Info("all workers stopped")
}

func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	logger := p.logger.With("worker_num", workerNum)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		case <-ticker.C:
			// Drain available work before sleeping again.
			for {
				worked, err := p.orch.ProcessNext(ctx)
				if err != nil {
					logger.Error("process_next failed", "error", err)
					break
				}
				if !worked || ctx.Err() != nil {
					break
				}
			}
		}
	}
}
