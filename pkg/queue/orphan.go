package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan scan metrics (thread-safe).
type orphanState struct {
	mu       sync.Mutex
	lastScan time.Time
	requeued int
}

// runOrphanScan periodically requeues jobs whose heartbeat went stale.
// All replicas run this independently — the updates are idempotent.
func (p *WorkerPool) runOrphanScan(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanScanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.requeueOrphans(ctx); err != nil {
				slog.Error("Orphan scan failed", "error", err)
			}
		}
	}
}

// requeueOrphans finds running jobs with stale heartbeats and puts them
// back in the queue. The interrupted run already counted as an attempt at
// claim time, so a crash loop cannot retry forever: once attempts are
// exhausted the job goes terminal instead.
func (p *WorkerPool) requeueOrphans(ctx context.Context) error {
	threshold := fmt.Sprintf("%d seconds", int(p.config.OrphanThreshold.Seconds()))

	requeued, err := p.requeueStale(ctx, `
		UPDATE jobs
		SET status = $1, locked_by = NULL, heartbeat_at = NULL,
		    last_error = 'orphaned: heartbeat lost', updated_at = NOW()
		WHERE status = $2 AND heartbeat_at < NOW() - $3::interval
		  AND attempts < max_attempts
		RETURNING request_id`,
		threshold)
	if err != nil {
		return err
	}

	failed, err := p.failStale(ctx, threshold)
	if err != nil {
		return err
	}

	p.orphans.mu.Lock()
	p.orphans.lastScan = time.Now()
	p.orphans.requeued += len(requeued)
	p.orphans.mu.Unlock()

	if len(requeued) > 0 {
		slog.Warn("Requeued orphaned jobs", "count", len(requeued), "request_ids", requeued)
	}
	if len(failed) > 0 {
		slog.Warn("Orphaned jobs exhausted attempts", "count", len(failed), "request_ids", failed)
	}
	return nil
}

func (p *WorkerPool) requeueStale(ctx context.Context, query, threshold string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query, JobQueued, JobRunning, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue orphaned jobs: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// failStale moves heartbeat-lost jobs that are out of attempts to failed and
// fires the failure hook for each — the same single path that marks
// requests failed everywhere else.
func (p *WorkerPool) failStale(ctx context.Context, threshold string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE jobs
		SET status = $1, locked_by = NULL,
		    last_error = 'orphaned: heartbeat lost, attempts exhausted', updated_at = NOW()
		WHERE status = $2 AND heartbeat_at < NOW() - $3::interval
		  AND attempts >= max_attempts
		RETURNING request_id`,
		JobFailed, JobRunning, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fail orphaned jobs: %w", err)
	}
	defer rows.Close()

	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	if p.failureHook != nil {
		for _, id := range ids {
			p.failureHook.OnJobFailed(ctx, id, fmt.Errorf("orphaned: heartbeat lost, attempts exhausted"))
		}
	}
	return ids, nil
}

// RequeueStartupOrphans performs a one-time recovery of jobs this pod held
// when it previously crashed. Interrupted jobs with attempts left go back to
// the queue; jobs interrupted on their final attempt go terminal, and the
// failure hook fires for each so their requests reach failed too. Called
// once during startup, before the pool begins processing.
func RequeueStartupOrphans(ctx context.Context, db *sql.DB, podPrefix string, hook FailureHook) error {
	requeued, err := updateStartupOrphans(ctx, db, JobQueued, podPrefix,
		"attempts < max_attempts", "orphaned: pod restarted mid-run")
	if err != nil {
		return err
	}

	failed, err := updateStartupOrphans(ctx, db, JobFailed, podPrefix,
		"attempts >= max_attempts", "orphaned: pod restarted mid-run, attempts exhausted")
	if err != nil {
		return err
	}
	if hook != nil {
		for _, id := range failed {
			hook.OnJobFailed(ctx, id, fmt.Errorf("orphaned: pod restarted mid-run, attempts exhausted"))
		}
	}

	if len(requeued) > 0 || len(failed) > 0 {
		slog.Warn("Recovered startup orphans from previous run",
			"pod_prefix", podPrefix, "requeued", len(requeued), "failed", len(failed))
	}
	return nil
}

func updateStartupOrphans(ctx context.Context, db *sql.DB, toStatus, podPrefix, attemptsCond, lastError string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		UPDATE jobs
		SET status = $1, locked_by = NULL, heartbeat_at = NULL,
		    last_error = $2, updated_at = NOW()
		WHERE status = $3 AND locked_by LIKE $4 AND `+attemptsCond+`
		RETURNING request_id`,
		toStatus, lastError, JobRunning, podPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to recover startup orphans: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
