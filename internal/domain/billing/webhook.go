package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
)

// Lean views of the provider event payloads. Only the fields the
// reconciliation needs are decoded; the rest of the payload is ignored so
// provider API version drift does not break event handling.

type checkoutSessionPayload struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	Customer          string `json:"customer"`
	AmountTotal       int64  `json:"amount_total"`
	ClientReferenceID string `json:"client_reference_id"`
	Subscription      string `json:"subscription"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type invoicePayload struct {
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
}

// Processor applies verified provider events to local state. Every handler is
// idempotent: subscription sync writes fixed values, and the credit path is
// guarded by reference idempotency, so redelivered events are harmless.
type Processor struct {
	repo     Repository
	svc      Service
	resolver *Resolver
}

func NewProcessor(repo Repository, svc Service, resolver *Resolver) *Processor {
	return &Processor{repo: repo, svc: svc, resolver: resolver}
}

// ProcessEvent dispatches one verified event. An error fails only this event;
// the provider redelivers it independently of any sibling events.
func (p *Processor) ProcessEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return p.handleSubscriptionSync(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_failed":
		return p.handlePaymentFailed(ctx, event)
	default:
		log.Debug().Str("type", string(event.Type)).Msg("webhook event ignored")
		return nil
	}
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var sess checkoutSessionPayload
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	userID, err := p.resolveSessionUser(ctx, sess)
	if err != nil {
		return err
	}

	// Checkout is the first moment we can tie the provider customer to the
	// user; persist the mapping for later subscription events.
	if sess.Customer != "" {
		if err := p.repo.SetCustomerID(ctx, userID, sess.Customer); err != nil && err != ErrProfileNotFound {
			return err
		}
	}

	if sess.Mode == "payment" {
		// The session id is the idempotency reference for the credit.
		return p.svc.ConfirmPurchase(ctx, userID, sess.AmountTotal, sess.ID)
	}

	// Subscription mode: the subscription.created/updated events carry the
	// authoritative status and period; nothing more to do here.
	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sess.ID).
		Str("subscription_id", sess.Subscription).
		Msg("subscription checkout completed")
	return nil
}

// resolveSessionUser identifies the buyer. Sessions we created carry the user
// id in metadata and client_reference_id; sessions created out of band fall
// back to customer resolution.
func (p *Processor) resolveSessionUser(ctx context.Context, sess checkoutSessionPayload) (uuid.UUID, error) {
	if raw, ok := sess.Metadata["user_id"]; ok {
		if userID, err := uuid.Parse(raw); err == nil {
			return userID, nil
		}
	}
	if sess.ClientReferenceID != "" {
		if userID, err := uuid.Parse(sess.ClientReferenceID); err == nil {
			return userID, nil
		}
	}
	return p.resolver.Resolve(ctx, sess.Customer, sess.CustomerDetails.Email)
}

func (p *Processor) handleSubscriptionSync(ctx context.Context, event *stripe.Event) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	userID, err := p.resolveSubscriptionUser(ctx, sub)
	if err != nil {
		return err
	}

	update := SubscriptionUpdate{
		SubscriptionID: sub.ID,
		Status:         NormalizeStatus(sub.Status),
	}
	if len(sub.Items.Data) > 0 {
		update.PriceID = sub.Items.Data[0].Price.ID
	}
	if end := sub.periodEnd(); end != nil {
		update.PeriodEnd = end
	}

	if err := p.repo.UpdateSubscription(ctx, userID, update); err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("subscription_id", sub.ID).
		Str("status", string(update.Status)).
		Msg("subscription state synced")
	return nil
}

// handleSubscriptionDeleted marks the subscription canceled. The stored
// period end is kept so access can run out the paid period.
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	userID, err := p.resolveSubscriptionUser(ctx, sub)
	if err != nil {
		return err
	}

	if err := p.repo.SetSubscriptionStatus(ctx, userID, StatusCanceled); err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("subscription_id", sub.ID).
		Msg("subscription canceled")
	return nil
}

func (p *Processor) resolveSubscriptionUser(ctx context.Context, sub subscriptionPayload) (uuid.UUID, error) {
	if raw, ok := sub.Metadata["user_id"]; ok {
		if userID, err := uuid.Parse(raw); err == nil {
			return userID, nil
		}
	}
	return p.resolver.Resolve(ctx, sub.Customer, "")
}

func (p *Processor) handlePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}

	userID, err := p.resolver.Resolve(ctx, inv.Customer, inv.CustomerEmail)
	if err != nil {
		return err
	}

	if err := p.repo.SetSubscriptionStatus(ctx, userID, StatusPastDue); err != nil {
		return err
	}

	log.Warn().
		Str("user_id", userID.String()).
		Str("customer_id", inv.Customer).
		Msg("subscription payment failed, marked past due")
	return nil
}

// periodEnd returns the subscription period end, preferring the top-level
// field and falling back to the first item for newer provider API versions.
func (s *subscriptionPayload) periodEnd() *time.Time {
	ts := s.CurrentPeriodEnd
	if ts == 0 && len(s.Items.Data) > 0 {
		ts = s.Items.Data[0].CurrentPeriodEnd
	}
	if ts == 0 {
		return nil
	}
	end := time.Unix(ts, 0).UTC()
	return &end
}
