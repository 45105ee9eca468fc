// Package ledger defines the durable store for loan financial state. The
// store is the single source of truth for balances; every mutating operation
// executes as one transaction so that a loan's read-modify-write never
// interleaves with a concurrent payment or penalty for the same loan.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
)

// Outcome is the terminal result reported for a payment.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Store exposes the atomic ledger operations. Implementations must serialize
// mutations per loan (row locks or equivalent) and must keep the invariant
// remaining_balance == max(0, total_repayable + penalties - total_paid).
type Store interface {
	CreateLoan(ctx context.Context, loan *domain.Loan) error
	GetLoan(ctx context.Context, id string) (*domain.Loan, error)
	ListLoans(ctx context.Context) ([]domain.Loan, error)
	ListLoansByClient(ctx context.Context, clientID string) ([]domain.Loan, error)

	// ListDueLoans returns loans in {active, overdue} with a payment-start
	// date, joined with the client's name and phone for notifications.
	ListDueLoans(ctx context.Context) ([]domain.Loan, error)

	// FindOpenLoanByClient returns the client's oldest open loan, or
	// ErrLoanNotFound when the client has none.
	FindOpenLoanByClient(ctx context.Context, clientID string) (*domain.Loan, error)

	// TransitionLoanStatus moves the loan from exactly fromStatus to toStatus.
	// Returns ErrInvalidTransition when the current status differs, which is
	// how concurrent approve/reject races surface.
	TransitionLoanStatus(ctx context.Context, loanID string, from, to domain.LoanStatus) (*domain.Loan, error)

	// ActivateLoan sets the payment-start date and the first due date and
	// moves the loan approved -> active in one transaction.
	ActivateLoan(ctx context.Context, loanID string, startDate, dueDate time.Time) (*domain.Loan, error)

	// ApplyPayment decrements the remaining balance (floored at zero),
	// increments total paid, and closes the loan as paid at zero balance.
	ApplyPayment(ctx context.Context, loanID string, amount decimal.Decimal) (*domain.Loan, error)

	// AccruePenalty creates a penalty row and adds its amount to both the
	// loan's cumulative penalties and its remaining balance atomically.
	AccruePenalty(ctx context.Context, loanID string, amount decimal.Decimal, reason string) (*domain.Penalty, error)

	// AccrueOverduePenalty is AccruePenalty plus the overdue bookkeeping the
	// scheduler owns: status -> overdue and due date rolled to nextDue, all
	// in the same transaction so a rerun before the rollover cannot happen.
	AccrueOverduePenalty(ctx context.Context, loanID string, amount decimal.Decimal, reason string, nextDue time.Time) (*domain.Loan, *domain.Penalty, error)

	// RecordPayment creates a pending payment. ErrDuplicateReference when a
	// pending row already holds payment.Reference.
	RecordPayment(ctx context.Context, payment *domain.Payment) error

	GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error)
	ListPayments(ctx context.Context) ([]domain.Payment, error)

	// SettlePayment writes the payment's terminal state exactly once. A row
	// that is already terminal is returned unchanged with a nil loan - the
	// defense against replayed gateway callbacks. On success with a resolved
	// loan the payment is applied to it within the same transaction; with no
	// loan the reference is retagged UNMATCHED-<receipt> instead.
	SettlePayment(ctx context.Context, reference, receiptCode string, outcome Outcome, loanID *string) (*domain.Payment, *domain.Loan, error)

	// MarkPenaltiesPaid flips the loan's active penalties to paid and returns
	// how many rows changed. Used when a PENALTY- reference settles.
	MarkPenaltiesPaid(ctx context.Context, loanID string) (int, error)

	ListPenalties(ctx context.Context) ([]domain.Penalty, error)
	WaivePenalty(ctx context.Context, penaltyID string) (*domain.Penalty, error)
}
