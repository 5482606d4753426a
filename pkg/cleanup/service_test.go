package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stillmind/backend/pkg/config"
)

type fakePurger struct {
	mu        sync.Mutex
	doneTTL   time.Duration
	failedTTL time.Duration
	enqueued  []string
}

func (f *fakePurger) PurgeDone(_ context.Context, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doneTTL = ttl
	return 2, nil
}

func (f *fakePurger) PurgeFailed(_ context.Context, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedTTL = ttl
	return 1, nil
}

func (f *fakePurger) Enqueue(_ context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, requestID)
	return nil
}

type fakePending struct {
	ids       []string
	gotOlder  time.Duration
	gotLimit  int
	callCount int
}

func (f *fakePending) StalePendingIDs(_ context.Context, olderThan time.Duration, limit int) ([]string, error) {
	f.callCount++
	f.gotOlder = olderThan
	f.gotLimit = limit
	return f.ids, nil
}

func TestRunAllSweepsAndRecovers(t *testing.T) {
	purger := &fakePurger{}
	pending := &fakePending{ids: []string{"req-1", "req-2"}}

	svc := NewService(&config.RetentionConfig{
		SweepInterval:   time.Minute,
		CompletedJobTTL: 24 * time.Hour,
		FailedJobTTL:    7 * 24 * time.Hour,
		PendingGrace:    5 * time.Minute,
	}, purger, pending)

	svc.runAll(context.Background())

	assert.Equal(t, 24*time.Hour, purger.doneTTL)
	assert.Equal(t, 7*24*time.Hour, purger.failedTTL)
	assert.Equal(t, 5*time.Minute, pending.gotOlder)
	assert.Equal(t, []string{"req-1", "req-2"}, purger.enqueued,
		"stale pending requests are re-enqueued")
}

func TestStartStopLifecycle(t *testing.T) {
	purger := &fakePurger{}
	pending := &fakePending{}

	svc := NewService(&config.RetentionConfig{
		SweepInterval:   time.Hour, // first sweep runs immediately, ticker never fires
		CompletedJobTTL: time.Hour,
		FailedJobTTL:    time.Hour,
		PendingGrace:    time.Minute,
	}, purger, pending)

	svc.Start(context.Background())
	svc.Stop()

	assert.Equal(t, 1, pending.callCount, "one sweep ran before shutdown")

	// Stop again is a no-op, and Start after Stop is not supported; just
	// verify double Stop does not panic.
	svc.Stop()
}
