package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Config holds Stripe configuration
type Config struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
}

// Client wraps the Stripe API operations this service needs: checkout
// sessions, customer lookup, the payment-method cache refresh, and webhook
// signature verification.
type Client struct {
	webhookSecret string
}

// NewClient creates a new Stripe client
func NewClient(cfg Config) *Client {
	// stripe-go uses a package-level API key
	stripe.Key = cfg.SecretKey

	return &Client{webhookSecret: cfg.WebhookSecret}
}

// CreateCustomer creates a new Stripe customer tagged with our user id
func (c *Client) CreateCustomer(ctx context.Context, userID, email, name string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	if name != "" {
		params.Name = stripe.String(name)
	}

	cust, err := customer.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	log.Info().Str("customer_id", cust.ID).Str("user_id", userID).Msg("Created Stripe customer")
	return cust, nil
}

// GetCustomer retrieves a Stripe customer by id
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	cust, err := customer.Get(customerID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get Stripe customer: %w", err)
	}
	return cust, nil
}

// FindCustomerByEmail returns the first Stripe customer matching the email,
// or nil when none exists
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list Stripe customers: %w", err)
	}
	return nil, nil
}

// TopUpSessionParams for a one-time credit purchase session
type TopUpSessionParams struct {
	CustomerID string
	UserID     string
	Minutes    int64 // credit minutes to purchase; $1 = 1 minute
	SuccessURL string
	CancelURL  string
}

// CreateTopUpSession creates a payment-mode Checkout Session for buying call
// minutes. The user id and minute count travel in session metadata so the
// webhook can credit the right wallet.
func (c *Client) CreateTopUpSession(ctx context.Context, p TopUpSessionParams) (*stripe.CheckoutSession, error) {
	minutes := strconv.FormatInt(p.Minutes, 10)

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(p.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String("usd"),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(minutes + " call minutes"),
					},
					// 1 minute costs $1 (100 cents)
					UnitAmount: stripe.Int64(p.Minutes * 100),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.UserID),
		Metadata: map[string]string{
			"user_id": p.UserID,
			"minutes": minutes,
		},
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("user_id", p.UserID).
		Int64("minutes", p.Minutes).
		Msg("Created Stripe top-up session")

	return sess, nil
}

// SubscriptionSessionParams for a subscription checkout session
type SubscriptionSessionParams struct {
	CustomerID string
	UserID     string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CreateSubscriptionSession creates a subscription-mode Checkout Session
func (c *Client) CreateSubscriptionSession(ctx context.Context, p SubscriptionSessionParams) (*stripe.CheckoutSession, error) {
	metadata := map[string]string{"user_id": p.UserID}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.UserID),
		Metadata:          metadata,
		// Ensure metadata is also set on the created Stripe subscription
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		AllowPromotionCodes: stripe.Bool(true),
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("user_id", p.UserID).
		Str("price_id", p.PriceID).
		Msg("Created Stripe subscription session")

	return sess, nil
}

// ListCardPaymentMethods returns the customer's card payment methods and the
// id of the default one (empty when no default is set)
func (c *Client) ListCardPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, string, error) {
	cust, err := customer.Get(customerID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get Stripe customer: %w", err)
	}

	defaultID := ""
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		defaultID = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}

	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}

	var methods []*stripe.PaymentMethod
	iter := paymentmethod.List(params)
	for iter.Next() {
		methods = append(methods, iter.PaymentMethod())
	}
	if err := iter.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to list payment methods: %w", err)
	}

	return methods, defaultID, nil
}

// SetDefaultPaymentMethod updates the customer's default payment instrument
func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	if _, err := customer.Update(customerID, params); err != nil {
		return fmt.Errorf("failed to update default payment method: %w", err)
	}
	return nil
}

// DetachPaymentMethod removes a payment method from its customer. A method
// already missing on the Stripe side is not an error; the cache row still
// has to go.
func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	if _, err := paymentmethod.Detach(paymentMethodID, nil); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			log.Warn().Str("payment_method_id", paymentMethodID).Msg("Payment method already detached in Stripe")
			return nil
		}
		return fmt.Errorf("failed to detach payment method: %w", err)
	}
	return nil
}

// VerifyWebhook verifies the webhook signature and parses the event.
// An unverifiable payload is rejected before any state is touched.
func (c *Client) VerifyAndParseWebhook(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, c.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}
