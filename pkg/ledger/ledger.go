// Package ledger maintains user credit balances and the append-only
// credit transaction log.
//
// Every balance mutation is a guarded single-statement UPDATE paired with a
// transaction-log insert inside one database transaction. The guard lives in
// the WHERE clause, so concurrent spends can never drive a balance negative
// regardless of what a caller previously read.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stillmind/backend/pkg/database"
	"github.com/stillmind/backend/pkg/models"
)

// ErrUserNotFound is returned when the user row does not exist.
var ErrUserNotFound = errors.New("user not found")

// InsufficientCreditsError is returned when a reservation exceeds the
// user's balance. Required carries the amount that was asked for.
type InsufficientCreditsError struct {
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: %d required", e.Required)
}

// IsInsufficientCredits checks whether err is an insufficient-credits error.
func IsInsufficientCredits(err error) bool {
	var ice *InsufficientCreditsError
	return errors.As(err, &ice)
}

// Ledger performs atomic balance mutations against PostgreSQL.
type Ledger struct {
	db *sql.DB
}

// New creates a Ledger over the given connection pool.
func New(db *sql.DB) *Ledger {
	if db == nil {
		panic("ledger.New: db must not be nil")
	}
	return &Ledger{db: db}
}

// Reserve atomically spends amount credits from the user and appends a
// generation_spend transaction. Returns the new balance.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := l.ReserveTx(ctx, tx, userID, amount, description)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return balance, nil
}

// ReserveTx performs the reservation inside a caller-owned transaction.
// The decrement is guarded server-side: it affects zero rows when the
// balance is short, which surfaces as InsufficientCreditsError. Relying on
// a previously read balance is deliberately impossible here.
func (l *Ledger) ReserveTx(ctx context.Context, q database.DBTX, userID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("reserve amount must be positive, got %d", amount)
	}

	var balance int64
	err := q.QueryRowContext(ctx, `
		UPDATE users
		SET credits_balance = credits_balance - $2, updated_at = NOW()
		WHERE id = $1 AND credits_balance >= $2
		RETURNING credits_balance`,
		userID, amount,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// Zero rows: either the user is unknown or the guard rejected the
		// spend. Distinguish so callers can map 404 vs 402.
		var exists bool
		if lookupErr := q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
		).Scan(&exists); lookupErr != nil {
			return 0, fmt.Errorf("failed to check user: %w", lookupErr)
		}
		if !exists {
			return 0, ErrUserNotFound
		}
		return 0, &InsufficientCreditsError{Required: amount}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to reserve credits: %w", err)
	}

	if err := l.appendTx(ctx, q, userID, -amount, models.TxGenerationSpend, description, nil); err != nil {
		return 0, err
	}
	return balance, nil
}

// Grant atomically adds amount credits to the user and appends a matching
// transaction. externalRef may carry a payment-provider reference.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string, externalRef *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE users
		SET credits_balance = credits_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credits_balance`,
		userID, amount,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to grant credits: %w", err)
	}

	if err := l.appendTx(ctx, tx, userID, amount, txType, description, externalRef); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit grant: %w", err)
	}
	return balance, nil
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT credits_balance FROM users WHERE id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query balance: %w", err)
	}
	return balance, nil
}

// Transactions lists the user's ledger entries, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, description, external_ref, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.CreditTransaction
	for rows.Next() {
		t := &models.CreditTransaction{}
		var txType string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &txType, &t.Description, &t.ExternalRef, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = models.TransactionType(txType)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// appendTx inserts one ledger row. The log is append-only; nothing in this
// package updates or deletes credit_transactions.
func (l *Ledger) appendTx(ctx context.Context, q database.DBTX, userID string, amount int64, txType models.TransactionType, description string, externalRef *string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, description, external_ref)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), userID, amount, string(txType), description, externalRef,
	)
	if err != nil {
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}
