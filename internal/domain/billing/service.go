package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"github.com/callwise/callwise-api/internal/domain/wallet"
	"github.com/callwise/callwise-api/internal/pkg/stripeclient"
)

// Gateway is the slice of the payment provider client the billing domain
// uses. *stripeclient.Client satisfies it; tests substitute a stub.
type Gateway interface {
	CreateCustomer(ctx context.Context, userID, email, name string) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	CreateTopUpSession(ctx context.Context, p stripeclient.TopUpSessionParams) (*stripe.CheckoutSession, error)
	CreateSubscriptionSession(ctx context.Context, p stripeclient.SubscriptionSessionParams) (*stripe.CheckoutSession, error)
	ListCardPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, string, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	VerifyAndParseWebhook(payload []byte, signature string) (*stripe.Event, error)
}

// Service orchestrates purchases, payment methods, and subscription state.
type Service interface {
	// CreateCheckoutSession starts a hosted checkout, creating the provider
	// customer on first use and persisting the mapping.
	CreateCheckoutSession(ctx context.Context, userID uuid.UUID, email string, req CheckoutRequest) (*CheckoutResponse, error)

	// ConfirmPurchase credits the wallet for a completed payment.
	// amountCents converts at one dollar per minute; this is the only place
	// the conversion lives. Replays of the same reference are acknowledged
	// without a second credit.
	ConfirmPurchase(ctx context.Context, userID uuid.UUID, amountCents int64, reference string) error

	// GetProfile returns the billing profile, creating it lazily.
	GetProfile(ctx context.Context, userID uuid.UUID, email string) (*BillingProfile, error)

	// RefreshPaymentMethods re-pulls the card list from the provider into
	// the informational cache and returns it.
	RefreshPaymentMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error)

	// ListPaymentMethods returns the cached card list.
	ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error)

	SetDefaultPaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) error

	// DeletePaymentMethod detaches a non-default card at the provider and
	// drops the cache row.
	DeletePaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) error
}

// URLs for checkout redirects.
type CheckoutURLs struct {
	SuccessURL string
	CancelURL  string
}

type service struct {
	repo    Repository
	gateway Gateway
	wallets wallet.Service
	urls    CheckoutURLs
}

func NewService(repo Repository, gateway Gateway, wallets wallet.Service, urls CheckoutURLs) Service {
	return &service{repo: repo, gateway: gateway, wallets: wallets, urls: urls}
}

func (s *service) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, email string, req CheckoutRequest) (*CheckoutResponse, error) {
	switch req.Mode {
	case "payment":
		if req.Minutes <= 0 {
			return nil, fmt.Errorf("%w: minutes required for payment mode", ErrInvalidRequest)
		}
	case "subscription":
		if req.PriceID == "" {
			return nil, fmt.Errorf("%w: price_id required for subscription mode", ErrInvalidRequest)
		}
	default:
		return nil, ErrInvalidRequest
	}

	customerID, err := s.ensureCustomer(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	var sess *stripe.CheckoutSession
	if req.Mode == "payment" {
		sess, err = s.gateway.CreateTopUpSession(ctx, stripeclient.TopUpSessionParams{
			CustomerID: customerID,
			UserID:     userID.String(),
			Minutes:    req.Minutes,
			SuccessURL: s.urls.SuccessURL,
			CancelURL:  s.urls.CancelURL,
		})
	} else {
		sess, err = s.gateway.CreateSubscriptionSession(ctx, stripeclient.SubscriptionSessionParams{
			CustomerID: customerID,
			UserID:     userID.String(),
			PriceID:    req.PriceID,
			SuccessURL: s.urls.SuccessURL,
			CancelURL:  s.urls.CancelURL,
		})
	}
	if err != nil {
		return nil, err
	}

	return &CheckoutResponse{SessionID: sess.ID, URL: sess.URL}, nil
}

// ensureCustomer returns the user's provider customer id, creating the
// customer and persisting the mapping on first checkout. An existing provider
// customer with the same email is adopted instead of duplicated.
func (s *service) ensureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	profile, err := s.repo.EnsureProfile(ctx, userID, email)
	if err != nil {
		return "", err
	}
	if profile.StripeCustomerID.Valid {
		return profile.StripeCustomerID.String, nil
	}

	cust, err := s.gateway.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if cust == nil {
		cust, err = s.gateway.CreateCustomer(ctx, userID.String(), email, "")
		if err != nil {
			return "", err
		}
	}

	if err := s.repo.SetCustomerID(ctx, userID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (s *service) ConfirmPurchase(ctx context.Context, userID uuid.UUID, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return wallet.ErrInvalidAmount
	}

	// One dollar buys one minute.
	minutes := decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(100))

	_, err := s.wallets.Credit(ctx, userID, minutes, wallet.TxTypePurchase, "Credit purchase", reference)
	if errors.Is(err, wallet.ErrDuplicateReference) {
		log.Info().
			Str("user_id", userID.String()).
			Str("reference", reference).
			Msg("purchase confirmation replayed, already credited")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("minutes", minutes.String()).
		Str("reference", reference).
		Msg("purchase confirmed")
	return nil
}

func (s *service) GetProfile(ctx context.Context, userID uuid.UUID, email string) (*BillingProfile, error) {
	return s.repo.EnsureProfile(ctx, userID, email)
}

func (s *service) RefreshPaymentMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !profile.StripeCustomerID.Valid {
		return nil, ErrNoCustomer
	}
	customerID := profile.StripeCustomerID.String

	providerMethods, defaultID, err := s.gateway.ListCardPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, err
	}

	methods := make([]PaymentMethod, 0, len(providerMethods))
	for _, pm := range providerMethods {
		if pm.Card == nil {
			continue
		}
		methods = append(methods, PaymentMethod{
			UserID:                userID,
			StripePaymentMethodID: pm.ID,
			StripeCustomerID:      customerID,
			CardBrand:             string(pm.Card.Brand),
			CardLast4:             pm.Card.Last4,
			CardExpMonth:          int(pm.Card.ExpMonth),
			CardExpYear:           int(pm.Card.ExpYear),
			IsDefault:             pm.ID == defaultID,
		})
	}

	if err := s.repo.ReplacePaymentMethods(ctx, userID, methods); err != nil {
		return nil, err
	}

	return s.repo.ListPaymentMethods(ctx, userID)
}

func (s *service) ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx, userID)
}

func (s *service) SetDefaultPaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) error {
	method, err := s.repo.GetPaymentMethod(ctx, userID, stripeMethodID)
	if err != nil {
		return err
	}

	if err := s.gateway.SetDefaultPaymentMethod(ctx, method.StripeCustomerID, stripeMethodID); err != nil {
		return err
	}

	return s.repo.SetDefaultPaymentMethod(ctx, userID, stripeMethodID)
}

func (s *service) DeletePaymentMethod(ctx context.Context, userID uuid.UUID, stripeMethodID string) error {
	method, err := s.repo.GetPaymentMethod(ctx, userID, stripeMethodID)
	if err != nil {
		return err
	}
	if method.IsDefault {
		return ErrDefaultMethodDelete
	}

	if err := s.gateway.DetachPaymentMethod(ctx, stripeMethodID); err != nil {
		return err
	}

	return s.repo.DeletePaymentMethod(ctx, userID, stripeMethodID)
}
