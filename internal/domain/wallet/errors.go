package wallet

import "errors"

var (
	// ErrInsufficientCredits is returned when the balance cannot cover a debit
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrInvalidType is returned when a transaction type is not allowed for the operation
	ErrInvalidType = errors.New("invalid transaction type")

	// ErrWalletNotFound is returned when no wallet exists for the user
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrDuplicateReference is returned when a payment confirmation reference
	// has already been credited (webhook redelivery)
	ErrDuplicateReference = errors.New("reference already credited")

	ErrInternal = errors.New("internal error")
)
