// Package cleanup provides data retention and lost-work recovery.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/stillmind/backend/pkg/config"
)

// jobPurger is the retention side of the queue.
type jobPurger interface {
	PurgeDone(ctx context.Context, ttl time.Duration) (int64, error)
	PurgeFailed(ctx context.Context, ttl time.Duration) (int64, error)
	Enqueue(ctx context.Context, requestID string) error
}

// pendingFinder surfaces requests whose enqueue was lost.
type pendingFinder interface {
	StalePendingIDs(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
}

// Service periodically enforces retention policies:
//   - Removes done/failed queue rows past their TTL
//   - Re-enqueues requests stuck pending past the grace window
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config   *config.RetentionConfig
	queue    jobPurger
	requests pendingFinder

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, queue jobPurger, requests pendingFinder) *Service {
	return &Service{
		config:   cfg,
		queue:    queue,
		requests: requests,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"completed_job_ttl", s.config.CompletedJobTTL,
		"failed_job_ttl", s.config.FailedJobTTL,
		"pending_grace", s.config.PendingGrace,
		"interval", s.config.SweepInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeFinishedJobs(ctx)
	s.recoverStalePending(ctx)
}

func (s *Service) purgeFinishedJobs(ctx context.Context) {
	done, err := s.queue.PurgeDone(ctx, s.config.CompletedJobTTL)
	if err != nil {
		slog.Error("Retention: purge of done jobs failed", "error", err)
	} else if done > 0 {
		slog.Info("Retention: purged done jobs", "count", done)
	}

	failed, err := s.queue.PurgeFailed(ctx, s.config.FailedJobTTL)
	if err != nil {
		slog.Error("Retention: purge of failed jobs failed", "error", err)
	} else if failed > 0 {
		slog.Info("Retention: purged failed jobs", "count", failed)
	}
}

// recoverStalePending re-enqueues requests that committed but whose
// post-commit enqueue never landed. Enqueue idempotency makes re-submitting
// an already-queued request a no-op.
func (s *Service) recoverStalePending(ctx context.Context) {
	ids, err := s.requests.StalePendingIDs(ctx, s.config.PendingGrace, 100)
	if err != nil {
		slog.Error("Retention: stale pending scan failed", "error", err)
		return
	}
	requeued := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, id); err != nil {
			slog.Error("Retention: re-enqueue failed", "request_id", id, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		slog.Info("Retention: re-enqueued stale pending requests", "count", requeued)
	}
}
