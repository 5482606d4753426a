package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/stillmind/backend/pkg/config"
	"github.com/stillmind/backend/pkg/store"
	"github.com/stillmind/backend/test/util"
)

// recordingHook captures failure hook invocations.
type recordingHook struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHook) OnJobFailed(_ context.Context, requestID string, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, requestID)
}

func (h *recordingHook) failed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		Concurrency:       2,
		StartsPerMinute:   600,
		MaxAttempts:       3,
		BackoffBase:       30 * time.Second,
		PollInterval:      10 * time.Millisecond,
		JobTimeout:        time.Minute,
		HeartbeatInterval: time.Second,
		OrphanScanEvery:   time.Minute,
		OrphanThreshold:   5 * time.Minute,
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 100)
	reqID := util.CreateTestRequest(t, db, userID)

	q := New(db, 3)
	require.NoError(t, q.Enqueue(ctx, reqID))
	require.NoError(t, q.Enqueue(ctx, reqID))
	require.NoError(t, q.Enqueue(ctx, reqID))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "repeated enqueues collapse to one job")
}

func TestClaimIncrementsAttemptsAndLocks(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 100)
	reqID := util.CreateTestRequest(t, db, userID)

	q := New(db, 3)
	require.NoError(t, q.Enqueue(ctx, reqID))

	cfg := testQueueConfig()
	limiter := rate.NewLimiter(rate.Inf, 1)
	w := NewWorker("pod-worker-0", "pod", db, cfg, nil, nil, limiter)

	job, err := w.claimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, reqID, job.RequestID)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)

	// The running job is invisible to further claims.
	_, err = w.claimNextJob(ctx)
	assert.ErrorIs(t, err, ErrNoJobs)

	var status, lockedBy string
	require.NoError(t, db.QueryRow(
		`SELECT status, locked_by FROM jobs WHERE request_id = $1`, reqID,
	).Scan(&status, &lockedBy))
	assert.Equal(t, JobRunning, status)
	assert.Equal(t, "pod-worker-0", lockedBy)
}

func TestSettleSuccessMarksDone(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 100)
	reqID := util.CreateTestRequest(t, db, userID)

	q := New(db, 3)
	require.NoError(t, q.Enqueue(ctx, reqID))

	w := NewWorker("w0", "pod", db, testQueueConfig(), nil, nil, rate.NewLimiter(rate.Inf, 1))
	job, err := w.claimNextJob(ctx)
	require.NoError(t, err)

	require.NoError(t, w.settle(ctx, job, nil))

	var status string
	require.NoError(t, db.QueryRow(
		`SELECT status FROM jobs WHERE request_id = $1`, reqID).Scan(&status))
	assert.Equal(t, JobDone, status)
}

func TestSettleRetriesWithBackoffThenFails(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 100)
	reqID := util.CreateTestRequest(t, db, userID)

	q := New(db, 2)
	require.NoError(t, q.Enqueue(ctx, reqID))

	hook := &recordingHook{}
	w := NewWorker("w0", "pod", db, testQueueConfig(), nil, hook, rate.NewLimiter(rate.Inf, 1))

	// Attempt 1 fails: job goes back to queued with a future run_at.
	job, err := w.claimNextJob(ctx)
	require.NoError(t, err)
	require.NoError(t, w.settle(ctx, job, errors.New("provider unavailable")))

	var status, lastError string
	var delayed bool
	require.NoError(t, db.QueryRow(`
		SELECT status, last_error, run_at > NOW() FROM jobs WHERE request_id = $1`,
		reqID).Scan(&status, &lastError, &delayed))
	assert.Equal(t, JobQueued, status)
	assert.Equal(t, "provider unavailable", lastError)
	assert.True(t, delayed, "retry is scheduled in the future")
	assert.Empty(t, hook.failed(), "hook must not fire before attempts are exhausted")

	// Claim ignores the delayed job until run_at passes.
	_, err = w.claimNextJob(ctx)
	assert.ErrorIs(t, err, ErrNoJobs)

	// Make it runnable and burn the final attempt.
	_, err = db.Exec(`UPDATE jobs SET run_at = NOW() WHERE request_id = $1`, reqID)
	require.NoError(t, err)

	job, err = w.claimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	assert.True(t, job.Final())

	require.NoError(t, w.settle(ctx, job, errors.New("provider unavailable")))

	require.NoError(t, db.QueryRow(
		`SELECT status FROM jobs WHERE request_id = $1`, reqID).Scan(&status))
	assert.Equal(t, JobFailed, status)
	assert.Equal(t, []string{reqID}, hook.failed(), "hook fires exactly once, on the terminal failure")
}

// markFailedHook mimics the pipeline's failure hook: record the call and
// move the request to failed.
type markFailedHook struct {
	recordingHook
	requests *store.GenerationStore
}

func (h *markFailedHook) OnJobFailed(ctx context.Context, requestID string, jobErr error) {
	h.recordingHook.OnJobFailed(ctx, requestID, jobErr)
	_ = h.requests.MarkFailed(ctx, requestID, jobErr.Error())
}

func TestRequeueStartupOrphans(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 100)
	retriable := util.CreateTestRequest(t, db, userID)
	exhausted := util.CreateTestRequest(t, db, userID)
	otherPod := util.CreateTestRequest(t, db, userID)

	q := New(db, 3)
	for _, id := range []string{retriable, exhausted, otherPod} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	mustExec := func(query string, args ...any) {
		_, err := db.Exec(query, args...)
		require.NoError(t, err)
	}
	mustExec(`UPDATE jobs SET status = 'running', attempts = 1, locked_by = 'pod-a-worker-0' WHERE request_id = $1`, retriable)
	mustExec(`UPDATE jobs SET status = 'running', attempts = 3, locked_by = 'pod-a-worker-1' WHERE request_id = $1`, exhausted)
	mustExec(`UPDATE jobs SET status = 'running', attempts = 1, locked_by = 'pod-b-worker-0' WHERE request_id = $1`, otherPod)

	hook := &markFailedHook{requests: store.NewGenerationStore(db)}
	require.NoError(t, RequeueStartupOrphans(ctx, db, "pod-a", hook))

	status := func(id string) string {
		var s string
		require.NoError(t, db.QueryRow(`SELECT status FROM jobs WHERE request_id = $1`, id).Scan(&s))
		return s
	}
	assert.Equal(t, JobQueued, status(retriable), "interrupted job with attempts left is requeued")
	assert.Equal(t, JobFailed, status(exhausted), "interrupted job out of attempts goes terminal")
	assert.Equal(t, JobRunning, status(otherPod), "another pod's running job is untouched")

	assert.Equal(t, []string{exhausted}, hook.failed(),
		"the hook fires only for the exhausted job, so its request goes terminal too")

	reqStatus := func(id string) string {
		var s string
		require.NoError(t, db.QueryRow(`SELECT status FROM generation_requests WHERE id = $1`, id).Scan(&s))
		return s
	}
	assert.Equal(t, "failed", reqStatus(exhausted), "request does not stay stuck in a non-terminal status")
	assert.Equal(t, "pending", reqStatus(retriable))
}

func TestPurgeRespectsTTL(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 100)
	oldDone := util.CreateTestRequest(t, db, userID)
	freshDone := util.CreateTestRequest(t, db, userID)
	oldFailed := util.CreateTestRequest(t, db, userID)

	q := New(db, 3)
	for _, id := range []string{oldDone, freshDone, oldFailed} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	mustExec := func(query string, args ...any) {
		_, err := db.Exec(query, args...)
		require.NoError(t, err)
	}
	mustExec(`UPDATE jobs SET status = 'done', updated_at = NOW() - interval '2 days' WHERE request_id = $1`, oldDone)
	mustExec(`UPDATE jobs SET status = 'done' WHERE request_id = $1`, freshDone)
	mustExec(`UPDATE jobs SET status = 'failed', updated_at = NOW() - interval '8 days' WHERE request_id = $1`, oldFailed)

	removed, err := q.PurgeDone(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed, "only the aged done job is purged")

	removed, err = q.PurgeFailed(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	var remaining int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&remaining))
	assert.Equal(t, 1, remaining, "the fresh done job survives")
}
