package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/stillmind/backend/pkg/config"
)

// WorkerPool manages a pool of queue workers plus the orphan scan loop.
type WorkerPool struct {
	podID       string
	db          *sql.DB
	config      *config.QueueConfig
	handler     Handler
	failureHook FailureHook
	workers     []*Worker
	limiter     *rate.Limiter
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	started     bool

	// Orphan scan state
	orphans orphanState
}

// NewWorkerPool creates a new worker pool. The rate limiter enforces the
// global job-starts-per-minute cap across all workers in this replica.
func NewWorkerPool(podID string, db *sql.DB, cfg *config.QueueConfig, handler Handler, hook FailureHook) *WorkerPool {
	perSecond := rate.Limit(float64(cfg.StartsPerMinute) / 60.0)
	return &WorkerPool{
		podID:       podID,
		db:          db,
		config:      cfg,
		handler:     handler,
		failureHook: hook,
		workers:     make([]*Worker, 0, cfg.Concurrency),
		limiter:     rate.NewLimiter(perSecond, cfg.StartsPerMinute),
		stopCh:      make(chan struct{}),
	}
}

// Start spawns worker goroutines and the orphan scan background task.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool",
		"pod_id", p.podID,
		"concurrency", p.config.Concurrency,
		"starts_per_minute", p.config.StartsPerMinute)

	for i := 0; i < p.config.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.db, p.config, p.handler, p.failureHook, p.limiter)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanScan(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current jobs (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	var queueDepth int
	errQ := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`, JobQueued,
	).Scan(&queueDepth)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID, "error", errQ)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == workerWorking {
			activeWorkers++
		}
	}

	// DB errors affect health status — if we can't reach the DB, we're not healthy.
	dbHealthy := errQ == nil
	var dbError string
	if errQ != nil {
		dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
	}

	p.orphans.mu.Lock()
	lastScan := p.orphans.lastScan
	requeued := p.orphans.requeued
	p.orphans.mu.Unlock()

	return &PoolHealth{
		IsHealthy:       len(p.workers) > 0 && dbHealthy,
		DBReachable:     dbHealthy,
		DBError:         dbError,
		PodID:           p.podID,
		ActiveWorkers:   activeWorkers,
		TotalWorkers:    len(p.workers),
		QueueDepth:      queueDepth,
		WorkerStats:     workerStats,
		LastOrphanScan:  lastScan,
		OrphansRequeued: requeued,
	}
}
