package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stillmind/backend/pkg/config"
)

// Worker status constants.
const (
	workerIdle    = "idle"
	workerWorking = "working"
)

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id          string
	podID       string
	db          *sql.DB
	config      *config.QueueConfig
	handler     Handler
	failureHook FailureHook
	limiter     *rate.Limiter
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        string
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker. The limiter is shared across the
// pool so job starts stay under the global per-minute cap.
func NewWorker(id, podID string, db *sql.DB, cfg *config.QueueConfig, handler Handler, hook FailureHook, limiter *rate.Limiter) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		db:           db,
		config:       cfg,
		handler:      handler,
		failureHook:  hook,
		limiter:      limiter,
		stopCh:       make(chan struct{}),
		status:       workerIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// job. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobs) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims one job, runs the handler, and settles the outcome.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Respect the global starts-per-minute cap before claiming, so a claimed
	// job is never held idle waiting for a token.
	if err := w.waitForStartToken(ctx); err != nil {
		return err
	}

	job, err := w.claimNextJob(ctx)
	if err != nil {
		return err
	}

	log := slog.With("request_id", job.RequestID, "worker_id", w.id,
		"attempt", job.Attempts, "max_attempts", job.MaxAttempts)
	log.Info("Job claimed")

	w.setStatus(workerWorking, job.RequestID)
	defer w.setStatus(workerIdle, "")

	jobCtx, cancelJob := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancelJob()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.RequestID)

	execErr := w.handler.Execute(jobCtx, job)
	if execErr == nil && jobCtx.Err() != nil {
		execErr = fmt.Errorf("job interrupted: %w", jobCtx.Err())
	}

	cancelHeartbeat()

	// Settle with a background context — the job context may be cancelled.
	if err := w.settle(context.Background(), job, execErr); err != nil {
		log.Error("Failed to settle job", "error", err)
		return err
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	if execErr != nil {
		log.Warn("Job attempt failed", "error", execErr, "final", job.Final())
	} else {
		log.Info("Job completed")
	}
	return nil
}

// waitForStartToken blocks on the shared limiter, remaining responsive to
// stop signals.
func (w *Worker) waitForStartToken(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	if err := w.limiter.Wait(waitCtx); err != nil {
		return ErrNoJobs
	}
	return nil
}

// claimNextJob atomically claims the next runnable job using
// FOR UPDATE SKIP LOCKED, incrementing its attempt counter.
func (w *Worker) claimNextJob(ctx context.Context) (*Job, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Order by run_at so backoff-delayed jobs keep their place.
	var job Job
	err = tx.QueryRowContext(ctx, `
		SELECT request_id, attempts, max_attempts
		FROM jobs
		WHERE status = $1 AND run_at <= NOW()
		ORDER BY run_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		JobQueued,
	).Scan(&job.RequestID, &job.Attempts, &job.MaxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobs
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queued job: %w", err)
	}

	job.Attempts++ // this run counts

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2, attempts = $3, locked_by = $4,
		    heartbeat_at = NOW(), updated_at = NOW()
		WHERE request_id = $1`,
		job.RequestID, JobRunning, job.Attempts, w.id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &job, nil
}

// runHeartbeat periodically refreshes the job's lease for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, requestID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := w.db.ExecContext(ctx, `
				UPDATE jobs SET heartbeat_at = NOW() WHERE request_id = $1`,
				requestID,
			)
			if err != nil {
				slog.Warn("Heartbeat update failed", "request_id", requestID, "error", err)
			}
		}
	}
}

// settle writes the job's outcome: done, requeued with backoff, or failed.
// The failure hook fires only on the transition to failed.
func (w *Worker) settle(ctx context.Context, job *Job, execErr error) error {
	if execErr == nil {
		_, err := w.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = $2, locked_by = NULL, last_error = NULL, updated_at = NOW()
			WHERE request_id = $1`,
			job.RequestID, JobDone,
		)
		if err != nil {
			return fmt.Errorf("failed to mark job done: %w", err)
		}
		return nil
	}

	if !job.Final() {
		delay := Backoff(w.config.BackoffBase, job.Attempts)
		_, err := w.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = $2, locked_by = NULL, last_error = $3,
			    run_at = NOW() + $4::interval, updated_at = NOW()
			WHERE request_id = $1`,
			job.RequestID, JobQueued, execErr.Error(),
			fmt.Sprintf("%d seconds", int(delay.Seconds())),
		)
		if err != nil {
			return fmt.Errorf("failed to requeue job: %w", err)
		}
		return nil
	}

	_, err := w.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2, locked_by = NULL, last_error = $3, updated_at = NOW()
		WHERE request_id = $1`,
		job.RequestID, JobFailed, execErr.Error(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	if w.failureHook != nil {
		w.failureHook.OnJobFailed(ctx, job.RequestID, execErr)
	}
	return nil
}

// Backoff returns the delay before the next attempt: base doubling per
// completed attempt (30s, 60s, 120s, ... with the default base).
func Backoff(base time.Duration, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return base << (attemptsMade - 1)
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
