package models

import (
	"fmt"
	"time"
)

// TransactionType classifies a ledger entry.
type TransactionType string

// Ledger entry types. Positive amounts are grants, negative are spends.
const (
	TxPurchase         TransactionType = "purchase"
	TxGenerationSpend  TransactionType = "generation_spend"
	TxPrivateSurcharge TransactionType = "private_surcharge"
	TxRefund           TransactionType = "refund"
)

// ParseTransactionType validates a raw transaction type.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case TxPurchase, TxGenerationSpend, TxPrivateSurcharge, TxRefund:
		return TransactionType(s), nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// CreditTransaction is one append-only ledger row. The sum of all amounts
// for a user always equals that user's credits_balance.
type CreditTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	ExternalRef *string         `json:"external_ref,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// User is read-mostly from the core's perspective; only credits_balance is
// mutated here, and only through the ledger's guarded update.
type User struct {
	ID             string    `json:"id"`
	CreditsBalance int64     `json:"credits_balance"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
