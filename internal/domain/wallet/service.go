package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Service interface defines the wallet ledger operations
type Service interface {
	// EnsureWallet lazily creates the user's wallet. Idempotent, safe to
	// call on every access.
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)

	// GetWallet returns the wallet and its most recent transactions,
	// creating the wallet if it does not exist yet.
	GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, []Transaction, error)

	// Credit atomically adds credits and records the transaction.
	// reference carries the payment confirmation id; a reference that was
	// already credited returns ErrDuplicateReference without double-crediting.
	Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType TxType, description, reference string) (uuid.UUID, error)

	// Debit atomically deducts call minutes and records a usage transaction
	// referencing the agent that consumed them.
	// Returns ErrInsufficientCredits when the balance is too low.
	Debit(ctx context.Context, userID uuid.UUID, minutes decimal.Decimal, agentID uuid.UUID, description string) (uuid.UUID, error)

	// ListTransactions returns paginated transaction history, newest first
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)

	// FindByReference returns the transaction for a payment confirmation
	// reference, or nil when it has never been credited
	FindByReference(ctx context.Context, reference string) (*Transaction, error)
}

const recentTransactionsLimit = 10

type service struct {
	repo Repository
}

// NewService creates a new wallet service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) EnsureWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return s.repo.EnsureWallet(ctx, userID)
}

func (s *service) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, []Transaction, error) {
	w, err := s.repo.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	transactions, err := s.repo.ListTransactions(ctx, userID, Pagination{Limit: recentTransactionsLimit})
	if err != nil {
		return nil, nil, err
	}

	return w, transactions, nil
}

func (s *service) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType TxType, description, reference string) (uuid.UUID, error) {
	if !amount.IsPositive() {
		return uuid.Nil, ErrInvalidAmount
	}
	if !txType.CreditAllowed() {
		return uuid.Nil, ErrInvalidType
	}
	if description == "" {
		description = "Credit purchase"
	}

	if _, err := s.repo.EnsureWallet(ctx, userID); err != nil {
		return uuid.Nil, err
	}

	txID, err := s.repo.Credit(ctx, userID, amount, string(txType), description, reference)
	if err != nil {
		return uuid.Nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("amount", amount.String()).
		Str("tx_type", string(txType)).
		Str("reference", reference).
		Msg("wallet credit applied")

	return txID, nil
}

func (s *service) Debit(ctx context.Context, userID uuid.UUID, minutes decimal.Decimal, agentID uuid.UUID, description string) (uuid.UUID, error) {
	if !minutes.IsPositive() {
		return uuid.Nil, ErrInvalidAmount
	}
	if description == "" {
		description = "Call minutes used"
	}

	if _, err := s.repo.EnsureWallet(ctx, userID); err != nil {
		return uuid.Nil, err
	}

	txID, err := s.repo.Debit(ctx, userID, minutes, agentID, description)
	if err != nil {
		return uuid.Nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("minutes", minutes.String()).
		Str("agent_id", agentID.String()).
		Msg("wallet usage debit applied")

	return txID, nil
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return s.repo.ListTransactions(ctx, userID, Pagination{Limit: limit, Offset: offset})
}

func (s *service) FindByReference(ctx context.Context, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, nil
	}
	return s.repo.GetByReference(ctx, reference)
}
