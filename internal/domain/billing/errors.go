package billing

import "errors"

var (
	// ErrSignatureInvalid is returned when a webhook payload fails signature
	// verification. No state is touched.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrLookupFailed is returned when a webhook event's customer cannot be
	// mapped to a user. The event is failed so the provider redelivers it.
	ErrLookupFailed = errors.New("customer lookup failed")

	// ErrProfileNotFound is returned when no billing profile exists
	ErrProfileNotFound = errors.New("billing profile not found")

	// ErrNoCustomer is returned for payment-method operations before the user
	// has ever checked out (no Stripe customer yet)
	ErrNoCustomer = errors.New("no payment provider customer for user")

	// ErrMethodNotFound is returned when a payment method does not belong to
	// the user
	ErrMethodNotFound = errors.New("payment method not found")

	// ErrDefaultMethodDelete is returned on an attempt to delete the default
	// payment method
	ErrDefaultMethodDelete = errors.New("default payment method cannot be deleted")

	// ErrInvalidRequest is returned when a checkout request mixes modes or
	// lacks the fields its mode requires
	ErrInvalidRequest = errors.New("invalid checkout request")

	ErrInternal = errors.New("internal error")
)
