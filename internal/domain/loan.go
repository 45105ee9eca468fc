package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanPending  LoanStatus = "pending"
	LoanApproved LoanStatus = "approved"
	LoanRejected LoanStatus = "rejected"
	LoanActive   LoanStatus = "active"
	LoanOverdue  LoanStatus = "overdue"
	LoanPaid     LoanStatus = "paid"
)

type Loan struct {
	ID       string
	ClientID string

	Principal    decimal.Decimal
	InterestRate decimal.Decimal
	PenaltyRate  decimal.Decimal

	Term                 int
	TermUnit             string
	InstallmentFrequency string

	InstallmentAmount decimal.Decimal
	TotalRepayable    decimal.Decimal
	RemainingBalance  decimal.Decimal
	Penalties         decimal.Decimal
	TotalPaid         decimal.Decimal

	DueDate          *time.Time
	PaymentStartDate *time.Time

	Status LoanStatus

	CreatedAt *time.Time
	UpdatedAt *time.Time

	ClientName  *string
	ClientPhone *string
}

// Open reports whether the loan is still collecting repayments.
func (l *Loan) Open() bool {
	return l.Status == LoanActive || l.Status == LoanOverdue
}
