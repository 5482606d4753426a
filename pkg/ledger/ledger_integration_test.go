package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillmind/backend/pkg/models"
	"github.com/stillmind/backend/test/util"
)

func TestReserveSpendsAndLogs(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 20)
	l := New(db)

	balance, err := l.Reserve(ctx, userID, 8, "generation abc")
	require.NoError(t, err)
	assert.EqualValues(t, 12, balance)

	balance, err = l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 12, balance)

	txs, err := l.Transactions(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.EqualValues(t, -8, txs[0].Amount)
	assert.Equal(t, models.TxGenerationSpend, txs[0].Type)
	assert.Equal(t, "generation abc", txs[0].Description)
}

func TestReserveInsufficientCredits(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 5)
	l := New(db)

	_, err := l.Reserve(ctx, userID, 8, "generation abc")
	require.Error(t, err)
	assert.True(t, IsInsufficientCredits(err))

	var ice *InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.EqualValues(t, 8, ice.Required)

	// A failed reservation leaves balance and log untouched.
	balance, err := l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, balance)

	txs, err := l.Transactions(ctx, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestReserveUnknownUser(t *testing.T) {
	db := util.SetupTestDatabase(t)
	l := New(db)

	_, err := l.Reserve(context.Background(),
		"00000000-0000-0000-0000-000000000000", 5, "generation abc")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

// TestConcurrentReservesNeverOverspend races many reservations against one
// balance. The WHERE-clause guard must admit exactly balance/amount of them
// no matter how the goroutines interleave.
func TestConcurrentReservesNeverOverspend(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 50)
	l := New(db)

	const (
		workers = 20
		amount  = 5
	)

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, userID, amount, "concurrent spend")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, insufficient := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case IsInsufficientCredits(err):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 10, succeeded, "50 credits admit exactly 10 spends of 5")
	assert.Equal(t, workers-10, insufficient)

	balance, err := l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)

	// The log replays to the balance.
	txs, err := l.Transactions(ctx, userID, workers)
	require.NoError(t, err)
	require.Len(t, txs, 10)
	var sum int64
	for _, tx := range txs {
		sum += tx.Amount
	}
	assert.EqualValues(t, -50, sum)
}

func TestGrantAddsCredits(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	userID := util.CreateTestUser(t, db, 0)
	l := New(db)

	ref := "pay_123"
	balance, err := l.Grant(ctx, userID, 100, models.TxPurchase, "credit pack", &ref)
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)

	txs, err := l.Transactions(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.EqualValues(t, 100, txs[0].Amount)
	assert.Equal(t, models.TxPurchase, txs[0].Type)
	require.NotNil(t, txs[0].ExternalRef)
	assert.Equal(t, "pay_123", *txs[0].ExternalRef)
}

func TestReserveRejectsNonPositiveAmounts(t *testing.T) {
	db := util.SetupTestDatabase(t)
	userID := util.CreateTestUser(t, db, 10)
	l := New(db)

	_, err := l.Reserve(context.Background(), userID, 0, "noop")
	assert.Error(t, err)
	_, err = l.Reserve(context.Background(), userID, -5, "negative")
	assert.Error(t, err)
}
