package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const queryTimeout = 3 * time.Second

type Repository interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType string, description, reference string) (uuid.UUID, error)
	Debit(ctx context.Context, userID uuid.UUID, minutes decimal.Decimal, agentID uuid.UUID, description string) (uuid.UUID, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]Transaction, error)
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
}

// WalletRepository provides ledger and balance operations. Balance math is
// done entirely inside the database: the balance update and the ledger insert
// always share one transaction, and debits use a conditional update so the
// check and the decrement cannot be separated by a concurrent writer.
type WalletRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// EnsureWallet creates the user's wallet with a zero balance on first access.
// Creation races collapse onto the unique constraint on user_id. The newly
// created wallet gets a zero-amount purchase transaction as its existence
// marker so history and balance line up from the start.
func (r *WalletRepository) EnsureWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var walletID uuid.UUID
	err = tx.QueryRowContext(ctx2, `
		INSERT INTO wallets (id, user_id, credits_balance)
		VALUES (gen_random_uuid(), $1, 0)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING id
	`, userID).Scan(&walletID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Wallet already exists, nothing to record
	case err != nil:
		return nil, fmt.Errorf("%w: create wallet", ErrInternal)
	default:
		if _, err := r.insertTransaction(ctx2, tx, walletID, decimal.Zero, string(TxTypePurchase), "Initial wallet creation", uuid.Nil, ""); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return r.GetByUserID(ctx, userID)
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var w Wallet
	err := r.db.GetContext(ctx2, &w, `
		SELECT id, user_id, credits_balance, created_at
		FROM wallets
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("%w: get wallet", ErrInternal)
	}

	return &w, nil
}

// Credit atomically increments the balance and appends the ledger row.
// A reference that was already credited trips the partial unique index on
// wallet_transactions.reference; the whole transaction rolls back and the
// balance is untouched.
func (r *WalletRepository) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType string, description, reference string) (uuid.UUID, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var walletID uuid.UUID
	err = tx.QueryRowContext(ctx2, `
		UPDATE wallets
		SET credits_balance = credits_balance + $2
		WHERE user_id = $1
		RETURNING id
	`, userID, amount).Scan(&walletID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrWalletNotFound
		}
		return uuid.Nil, fmt.Errorf("%w: update wallet balance", ErrInternal)
	}

	txID, err := r.insertTransaction(ctx2, tx, walletID, amount, txType, description, uuid.Nil, reference)
	if err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return txID, nil
}

// Debit atomically checks and decrements the balance, then appends a
// negative usage row. The conditional update is the entire overdraft guard:
// zero rows affected means the balance was too low (or the wallet is
// missing), and nothing is changed.
func (r *WalletRepository) Debit(ctx context.Context, userID uuid.UUID, minutes decimal.Decimal, agentID uuid.UUID, description string) (uuid.UUID, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var walletID uuid.UUID
	err = tx.QueryRowContext(ctx2, `
		UPDATE wallets
		SET credits_balance = credits_balance - $2
		WHERE user_id = $1 AND credits_balance >= $2
		RETURNING id
	`, userID, minutes).Scan(&walletID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if probeErr := tx.GetContext(ctx2, &exists, `SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, userID); probeErr != nil {
				return uuid.Nil, fmt.Errorf("%w: probe wallet", ErrInternal)
			}
			if !exists {
				return uuid.Nil, ErrWalletNotFound
			}
			return uuid.Nil, ErrInsufficientCredits
		}
		return uuid.Nil, fmt.Errorf("%w: update wallet balance", ErrInternal)
	}

	txID, err := r.insertTransaction(ctx2, tx, walletID, minutes.Neg(), string(TxTypeUsage), description, agentID, "")
	if err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return txID, nil
}

func (r *WalletRepository) ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 {
		limit = 20
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT t.id, t.wallet_id, t.amount, t.tx_type, t.description, t.agent_id, t.reference, t.created_at
		FROM wallet_transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE w.user_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, pagination.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}

	return transactions, nil
}

// GetByReference returns the transaction carrying a payment confirmation
// reference, or nil when the reference has never been credited.
func (r *WalletRepository) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Transaction
	err := r.db.GetContext(ctx2, &t, `
		SELECT id, wallet_id, amount, tx_type, description, agent_id, reference, created_at
		FROM wallet_transactions
		WHERE reference = $1
	`, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get transaction by reference", ErrInternal)
	}

	return &t, nil
}

func (r *WalletRepository) insertTransaction(ctx context.Context, tx *sqlx.Tx, walletID uuid.UUID, amount decimal.Decimal, txType string, description string, agentID uuid.UUID, reference string) (uuid.UUID, error) {
	var agent interface{}
	if agentID != uuid.Nil {
		agent = agentID
	}
	var ref interface{}
	if reference != "" {
		ref = reference
	}

	var txID uuid.UUID
	err := tx.QueryRowContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, amount, tx_type, description, agent_id, reference)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id
	`, walletID, amount, txType, description, agent, ref).Scan(&txID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return uuid.Nil, ErrDuplicateReference
		}
		return uuid.Nil, fmt.Errorf("%w: insert transaction", ErrInternal)
	}

	return txID, nil
}
