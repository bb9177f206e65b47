package wallet

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxType defines supported wallet transaction types.
type TxType string

const (
	TxTypePurchase   TxType = "purchase"
	TxTypeUsage      TxType = "usage"
	TxTypeRefund     TxType = "refund"
	TxTypeAdjustment TxType = "adjustment"
)

// CreditAllowed reports whether the type may be supplied on a credit.
// Usage rows are written only by Debit, with a negative amount.
func (t TxType) CreditAllowed() bool {
	return t == TxTypePurchase || t == TxTypeRefund || t == TxTypeAdjustment
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// Wallet holds a user's call-credit balance, denominated in minutes.
// The balance is never mutated without a matching Transaction row written in
// the same database transaction, so it always equals the sum of all
// transaction amounts for the wallet.
type Wallet struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	CreditsBalance decimal.Decimal `db:"credits_balance" json:"credits_balance"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// Transaction is an append-only ledger row. Positive amounts are credits
// (purchase/refund/adjustment), negative amounts are usage debits. Reference
// carries the payment confirmation id on purchases and is unique when set.
type Transaction struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	WalletID    uuid.UUID       `db:"wallet_id" json:"wallet_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	TxType      string          `db:"tx_type" json:"transaction_type"`
	Description string          `db:"description" json:"description"`
	AgentID     uuid.NullUUID   `db:"agent_id" json:"agent_id,omitempty"`
	Reference   sql.NullString  `db:"reference" json:"reference,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
