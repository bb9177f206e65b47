package billing

import "time"

// CheckoutRequest starts a hosted checkout. Mode "payment" buys call minutes
// (Minutes required), mode "subscription" starts a plan (PriceID required).
type CheckoutRequest struct {
	Mode    string `json:"mode" validate:"required,oneof=payment subscription"`
	Minutes int64  `json:"minutes" validate:"omitempty,gt=0"`
	PriceID string `json:"price_id" validate:"omitempty,max=128"`
}

// CheckoutResponse carries the hosted checkout redirect.
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// ProfileResponse is the outward view of a billing profile with null columns
// flattened to plain JSON.
type ProfileResponse struct {
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	StripePriceID         string             `json:"price_id,omitempty"`
	SubscriptionPeriodEnd *time.Time         `json:"subscription_period_end,omitempty"`
	HasPaymentCustomer    bool               `json:"has_payment_customer"`
}

// NewProfileResponse flattens a profile for API output.
func NewProfileResponse(p *BillingProfile) ProfileResponse {
	resp := ProfileResponse{
		SubscriptionStatus: p.SubscriptionStatus,
		HasPaymentCustomer: p.StripeCustomerID.Valid,
	}
	if p.StripePriceID.Valid {
		resp.StripePriceID = p.StripePriceID.String
	}
	if p.SubscriptionPeriodEnd.Valid {
		end := p.SubscriptionPeriodEnd.Time
		resp.SubscriptionPeriodEnd = &end
	}
	return resp
}

// PaymentMethodsResponse lists cached cards.
type PaymentMethodsResponse struct {
	Methods []PaymentMethod `json:"methods"`
}
