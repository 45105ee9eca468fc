package ledger

import "errors"

var (
	ErrLoanNotFound    = errors.New("loan not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPenaltyNotFound = errors.New("penalty not found")
	ErrClientNotFound  = errors.New("client not found")

	// ErrInvalidTransition signals a lifecycle race: the loan or penalty was
	// not in the expected state when the transition was attempted.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateReference is returned when a pending payment already holds
	// the external reference. First writer wins; the caller must not issue a
	// second prompt against the same reference.
	ErrDuplicateReference = errors.New("duplicate payment reference")
)
