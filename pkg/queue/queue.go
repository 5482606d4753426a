package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Queue is the enqueue/maintenance side of the jobs table. Workers use
// their own claim path (worker.go).
type Queue struct {
	db          *sql.DB
	maxAttempts int
}

// New creates a Queue. maxAttempts is stamped onto new jobs.
func New(db *sql.DB, maxAttempts int) *Queue {
	if db == nil {
		panic("queue.New: db must not be nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{db: db, maxAttempts: maxAttempts}
}

// Enqueue inserts a job for the given generation request. The request id is
// the primary key, so enqueueing the same request twice is a no-op: at most
// one execution results from any number of submissions.
func (q *Queue) Enqueue(ctx context.Context, requestID string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (request_id, max_attempts)
		VALUES ($1, $2)
		ON CONFLICT (request_id) DO NOTHING`,
		requestID, q.maxAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", requestID, err)
	}
	return nil
}

// Depth returns the number of runnable jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`, JobQueued,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to query queue depth: %w", err)
	}
	return n, nil
}

// PurgeDone deletes done jobs older than ttl. Returns rows removed.
func (q *Queue) PurgeDone(ctx context.Context, ttl time.Duration) (int64, error) {
	return q.purge(ctx, JobDone, ttl)
}

// PurgeFailed deletes failed jobs older than ttl. Failed rows are kept
// longer than done ones so operators can inspect them.
func (q *Queue) PurgeFailed(ctx context.Context, ttl time.Duration) (int64, error) {
	return q.purge(ctx, JobFailed, ttl)
}

func (q *Queue) purge(ctx context.Context, status string, ttl time.Duration) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status = $1 AND updated_at < NOW() - $2::interval`,
		status, fmt.Sprintf("%d seconds", int(ttl.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s jobs: %w", status, err)
	}
	return res.RowsAffected()
}
