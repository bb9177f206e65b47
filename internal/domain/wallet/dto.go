package wallet

import "github.com/google/uuid"

// DeductRequest is the usage debit body: a call consumed N minutes on an agent.
type DeductRequest struct {
	Minutes     float64 `json:"minutes" validate:"required,gt=0"`
	AgentID     string  `json:"agent_id" validate:"required,uuid"`
	Description string  `json:"description" validate:"omitempty,max=255"`
}

// CreditRequest is the credit purchase body. Reference carries the payment
// confirmation id so redelivered confirmations do not double-credit.
type CreditRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Type        string  `json:"type" validate:"required,tx_type"`
	Description string  `json:"description" validate:"omitempty,max=255"`
	Reference   string  `json:"reference" validate:"omitempty,max=128"`
}

// WalletResponse bundles the wallet with its recent transactions.
type WalletResponse struct {
	Wallet       *Wallet       `json:"wallet"`
	Transactions []Transaction `json:"transactions"`
}

// TransactionResult reports the ledger row a mutation produced. Duplicate is
// set when a credit reference had already been processed and the existing
// transaction is returned instead of a new one.
type TransactionResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Duplicate     bool      `json:"duplicate,omitempty"`
}
