package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

type Repository interface {
	EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*BillingProfile, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*BillingProfile, error)
	GetProfileByCustomerID(ctx context.Context, customerID string) (*BillingProfile, error)
	GetProfileByEmail(ctx context.Context, email string) (*BillingProfile, error)
	SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error
	UpdateSubscription(ctx context.Context, userID uuid.UUID, update SubscriptionUpdate) error
	SetSubscriptionStatus(ctx context.Context, userID uuid.UUID, status SubscriptionStatus) error
	ReplacePaymentMethods(ctx context.Context, userID uuid.UUID, methods []PaymentMethod) error
	ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) (*PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) error
	DeletePaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) error
}

type BillingRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

const profileColumns = `user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id,
	subscription_status, subscription_period_end, email, updated_at`

// EnsureProfile lazily creates the profile row with status none. Races
// collapse onto the primary key, same as wallet creation.
func (r *BillingRepository) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*BillingProfile, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO billing_profiles (user_id, subscription_status, email, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID, StatusNone, email)
	if err != nil {
		return nil, fmt.Errorf("%w: create billing profile", ErrInternal)
	}

	return r.GetProfile(ctx, userID)
}

func (r *BillingRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*BillingProfile, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p BillingProfile
	err := r.db.GetContext(ctx2, &p, `
		SELECT `+profileColumns+`
		FROM billing_profiles
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: get billing profile", ErrInternal)
	}

	return &p, nil
}

func (r *BillingRepository) GetProfileByCustomerID(ctx context.Context, customerID string) (*BillingProfile, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p BillingProfile
	err := r.db.GetContext(ctx2, &p, `
		SELECT `+profileColumns+`
		FROM billing_profiles
		WHERE stripe_customer_id = $1
	`, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: get billing profile by customer", ErrInternal)
	}

	return &p, nil
}

func (r *BillingRepository) GetProfileByEmail(ctx context.Context, email string) (*BillingProfile, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p BillingProfile
	err := r.db.GetContext(ctx2, &p, `
		SELECT `+profileColumns+`
		FROM billing_profiles
		WHERE LOWER(email) = LOWER($1)
	`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: get billing profile by email", ErrInternal)
	}

	return &p, nil
}

func (r *BillingRepository) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE billing_profiles
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, customerID)
	if err != nil {
		return fmt.Errorf("%w: set customer id", ErrInternal)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// UpdateSubscription syncs the flattened subscription columns from a provider
// event. Set-to-value semantics keep redeliveries idempotent.
func (r *BillingRepository) UpdateSubscription(ctx context.Context, userID uuid.UUID, update SubscriptionUpdate) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE billing_profiles
		SET stripe_subscription_id = $2,
		    stripe_price_id = $3,
		    subscription_status = $4,
		    subscription_period_end = COALESCE($5, subscription_period_end),
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, update.SubscriptionID, update.PriceID, update.Status, update.PeriodEnd)
	if err != nil {
		return fmt.Errorf("%w: update subscription", ErrInternal)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// SetSubscriptionStatus changes only the status column. Cancellations and
// payment failures go through here so the stored period end survives.
func (r *BillingRepository) SetSubscriptionStatus(ctx context.Context, userID uuid.UUID, status SubscriptionStatus) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE billing_profiles
		SET subscription_status = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, status)
	if err != nil {
		return fmt.Errorf("%w: set subscription status", ErrInternal)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ReplacePaymentMethods swaps the user's cached cards for the freshly pulled
// set in one transaction, so readers never see a half-refreshed list.
func (r *BillingRepository) ReplacePaymentMethods(ctx context.Context, userID uuid.UUID, methods []PaymentMethod) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx2, `DELETE FROM payment_methods WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%w: clear payment methods", ErrInternal)
	}

	for _, m := range methods {
		_, err := tx.ExecContext(ctx2, `
			INSERT INTO payment_methods (id, user_id, stripe_payment_method_id, stripe_customer_id,
				card_brand, card_last4, card_exp_month, card_exp_year, is_default)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		`, userID, m.StripePaymentMethodID, m.StripeCustomerID, m.CardBrand, m.CardLast4, m.CardExpMonth, m.CardExpYear, m.IsDefault)
		if err != nil {
			return fmt.Errorf("%w: insert payment method", ErrInternal)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

func (r *BillingRepository) ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	methods := make([]PaymentMethod, 0)
	err := r.db.SelectContext(ctx2, &methods, `
		SELECT id, user_id, stripe_payment_method_id, stripe_customer_id,
			card_brand, card_last4, card_exp_month, card_exp_year, is_default, created_at
		FROM payment_methods
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list payment methods", ErrInternal)
	}

	return methods, nil
}

func (r *BillingRepository) GetPaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) (*PaymentMethod, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var m PaymentMethod
	err := r.db.GetContext(ctx2, &m, `
		SELECT id, user_id, stripe_payment_method_id, stripe_customer_id,
			card_brand, card_last4, card_exp_month, card_exp_year, is_default, created_at
		FROM payment_methods
		WHERE user_id = $1 AND stripe_payment_method_id = $2
	`, userID, stripeMethodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMethodNotFound
		}
		return nil, fmt.Errorf("%w: get payment method", ErrInternal)
	}

	return &m, nil
}

func (r *BillingRepository) SetDefaultPaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx2, `UPDATE payment_methods SET is_default = FALSE WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%w: clear default flag", ErrInternal)
	}

	res, err := tx.ExecContext(ctx2, `
		UPDATE payment_methods SET is_default = TRUE
		WHERE user_id = $1 AND stripe_payment_method_id = $2
	`, userID, stripeMethodID)
	if err != nil {
		return fmt.Errorf("%w: set default flag", ErrInternal)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrMethodNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

func (r *BillingRepository) DeletePaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		DELETE FROM payment_methods
		WHERE user_id = $1 AND stripe_payment_method_id = $2
	`, userID, stripeMethodID)
	if err != nil {
		return fmt.Errorf("%w: delete payment method", ErrInternal)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrMethodNotFound
	}
	return nil
}
