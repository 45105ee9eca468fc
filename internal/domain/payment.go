package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Account-reference prefixes. A penalty marker routes the settled amount to
// the loan's active penalties; the other two tag rows that need operator
// review. The payment reference itself is immutable once recorded.
const (
	PenaltyReferencePrefix   = "PENALTY-"
	UnmatchedReferencePrefix = "UNMATCHED-"
	ManualReferencePrefix    = "MANUAL-"
)

type Payment struct {
	ID       string
	LoanID   *string
	ClientID *string

	Amount decimal.Decimal
	Method string

	// Reference is the unique external lookup key: the gateway checkout ID
	// for push payments, a caller-supplied reference otherwise.
	Reference string

	// AccountRef is the human-facing account reference given to the gateway
	// (e.g. LOAN<id> or PENALTY-<id>). Penalty routing keys off its prefix.
	AccountRef  *string
	ReceiptCode *string

	Status PaymentStatus

	CreatedAt *time.Time
	UpdatedAt *time.Time

	ClientName *string
}

// Terminal reports whether the payment has reached its final state.
func (p *Payment) Terminal() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentFailed
}
