// Package queue provides the durable, at-least-once job queue backed by
// PostgreSQL and the worker pool that drains it.
//
// One row in the jobs table represents one generation request's pipeline
// work. The primary key equals the request id, so enqueue is idempotent.
// Workers claim rows with FOR UPDATE SKIP LOCKED, hold a heartbeat lease
// while running, and reschedule failed attempts with exponential backoff.
package queue

import (
	"context"
	"errors"
	"time"
)

// Job statuses as stored in the jobs table.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Sentinel errors for worker claim results.
var (
	// ErrNoJobs indicates no runnable jobs are in the queue.
	ErrNoJobs = errors.New("no jobs available")
)

// Job is one claimed unit of work handed to the Handler.
type Job struct {
	RequestID   string
	Attempts    int // attempts made, including the current one
	MaxAttempts int
}

// Final reports whether this is the job's last attempt.
func (j *Job) Final() bool {
	return j.Attempts >= j.MaxAttempts
}

// Handler processes one job attempt. A nil return marks the job done. Any
// error reschedules the job until attempts are exhausted; the handler must
// not write a terminal failed status itself.
type Handler interface {
	Execute(ctx context.Context, job *Job) error
}

// FailureHook is invoked exactly once per job, when its attempts are
// exhausted. This is the only place the request is marked failed.
type FailureHook interface {
	OnJobFailed(ctx context.Context, requestID string, jobErr error)
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRequeued  int            `json:"orphans_requeued"`
}
