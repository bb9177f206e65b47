package billing

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the flattened subscription state kept on the billing
// profile. It is the authoritative view; raw provider payloads are not stored.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// NormalizeStatus maps a provider subscription status onto our state machine.
// Unpaid collapses into past_due, terminal provider states into canceled, and
// anything unrecognized into none rather than failing the event.
func NormalizeStatus(providerStatus string) SubscriptionStatus {
	switch providerStatus {
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCanceled
	default:
		return StatusNone
	}
}

// BillingProfile is a user's billing state: the Stripe customer mapping plus
// the flattened subscription columns.
type BillingProfile struct {
	UserID                uuid.UUID          `db:"user_id"`
	StripeCustomerID      sql.NullString     `db:"stripe_customer_id"`
	StripeSubscriptionID  sql.NullString     `db:"stripe_subscription_id"`
	StripePriceID         sql.NullString     `db:"stripe_price_id"`
	SubscriptionStatus    SubscriptionStatus `db:"subscription_status"`
	SubscriptionPeriodEnd sql.NullTime       `db:"subscription_period_end"`
	Email                 string             `db:"email"`
	UpdatedAt             time.Time          `db:"updated_at"`
}

// PaymentMethod is an informational cache row mirroring a card stored at
// Stripe. Stripe remains the source of truth; the cache exists so the billing
// page renders without a provider round trip.
type PaymentMethod struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	UserID                uuid.UUID `db:"user_id" json:"user_id"`
	StripePaymentMethodID string    `db:"stripe_payment_method_id" json:"stripe_payment_method_id"`
	StripeCustomerID      string    `db:"stripe_customer_id" json:"-"`
	CardBrand             string    `db:"card_brand" json:"card_brand"`
	CardLast4             string    `db:"card_last4" json:"card_last4"`
	CardExpMonth          int       `db:"card_exp_month" json:"card_exp_month"`
	CardExpYear           int       `db:"card_exp_year" json:"card_exp_year"`
	IsDefault             bool      `db:"is_default" json:"is_default"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// SubscriptionUpdate carries the fields synced from a provider subscription
// event. PeriodEnd nil means "leave the stored period end alone".
type SubscriptionUpdate struct {
	SubscriptionID string
	PriceID        string
	Status         SubscriptionStatus
	PeriodEnd      *time.Time
}
