package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
	"github.com/nzukiegan/blaiz-loan-backend/internal/schedule"
)

// LoanService owns the loan lifecycle: issue, approve or reject, activate,
// and the penalty operations an operator performs by hand.
type LoanService struct {
	store    ledger.Store
	notifier Notifier
}

func NewLoanService(store ledger.Store, notifier Notifier) *LoanService {
	return &LoanService{store: store, notifier: notifier}
}

type CreateLoanInput struct {
	ClientID             string
	Principal            decimal.Decimal
	InterestRate         decimal.Decimal
	PenaltyRate          decimal.Decimal
	Term                 int
	TermUnit             string
	InstallmentFrequency string
}

// Create computes the repayment schedule server-side and records the loan as
// pending. The due date anchors on the issue date; activation re-anchors it
// on the payment start date.
func (s *LoanService) Create(ctx context.Context, in CreateLoanInput) (*domain.Loan, error) {
	sched, err := schedule.Compute(in.Principal, in.InterestRate, in.Term)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	dueDate, err := schedule.DueDate(now, in.Term, in.TermUnit)
	if err != nil {
		return nil, err
	}
	if _, err := schedule.NextDueDate(now, in.InstallmentFrequency); err != nil {
		return nil, err
	}

	loan := &domain.Loan{
		ClientID:             in.ClientID,
		Principal:            in.Principal,
		InterestRate:         in.InterestRate,
		PenaltyRate:          in.PenaltyRate,
		Term:                 in.Term,
		TermUnit:             in.TermUnit,
		InstallmentFrequency: in.InstallmentFrequency,
		InstallmentAmount:    sched.InstallmentAmount,
		TotalRepayable:       sched.TotalRepayable,
		RemainingBalance:     sched.TotalRepayable,
		Penalties:            decimal.Zero,
		TotalPaid:            decimal.Zero,
		DueDate:              &dueDate,
		Status:               domain.LoanPending,
	}
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// Approve moves a pending loan to approved and tells the borrower.
func (s *LoanService) Approve(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := s.store.TransitionLoanStatus(ctx, loanID, domain.LoanPending, domain.LoanApproved)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if full, err := s.store.GetLoan(ctx, loan.ID); err == nil && full.ClientPhone != nil {
			msg := fmt.Sprintf("Your loan of KES %s has been approved. Total repayable: KES %s in %d installments of KES %s.",
				loan.Principal.StringFixed(2), loan.TotalRepayable.StringFixed(2),
				loan.Term, loan.InstallmentAmount.StringFixed(2))
			s.notifier.Send(ctx, *full.ClientPhone, msg)
		}
	}
	return loan, nil
}

func (s *LoanService) Reject(ctx context.Context, loanID string) (*domain.Loan, error) {
	return s.store.TransitionLoanStatus(ctx, loanID, domain.LoanPending, domain.LoanRejected)
}

// Activate starts repayment: the payment start date is now and the first
// due date sits one installment boundary after it.
func (s *LoanService) Activate(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != domain.LoanApproved {
		return nil, fmt.Errorf("loan %s is %s: %w", loanID, loan.Status, ledger.ErrInvalidTransition)
	}

	start := time.Now()
	due, err := schedule.NextDueDate(start, loan.InstallmentFrequency)
	if err != nil {
		return nil, err
	}
	return s.store.ActivateLoan(ctx, loanID, start, due)
}

func (s *LoanService) Get(ctx context.Context, loanID string) (*domain.Loan, error) {
	return s.store.GetLoan(ctx, loanID)
}

func (s *LoanService) List(ctx context.Context) ([]domain.Loan, error) {
	return s.store.ListLoans(ctx)
}

func (s *LoanService) ListByClient(ctx context.Context, clientID string) ([]domain.Loan, error) {
	return s.store.ListLoansByClient(ctx, clientID)
}

// AccruePenalty records an operator-entered penalty against an open loan.
func (s *LoanService) AccruePenalty(ctx context.Context, loanID string, amount decimal.Decimal, reason string) (*domain.Penalty, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("penalty amount must be positive")
	}
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.Open() {
		return nil, fmt.Errorf("loan %s is %s: %w", loanID, loan.Status, ledger.ErrInvalidTransition)
	}

	penalty, err := s.store.AccruePenalty(ctx, loanID, amount, reason)
	if err != nil {
		return nil, err
	}
	log.Printf("[LOAN] manual penalty of %s on loan %s: %s", amount.StringFixed(2), loanID, reason)
	return penalty, nil
}

func (s *LoanService) ListPenalties(ctx context.Context) ([]domain.Penalty, error) {
	return s.store.ListPenalties(ctx)
}

// WaivePenalty forgives an active penalty. The loan's balance is untouched:
// only completed payments move it.
func (s *LoanService) WaivePenalty(ctx context.Context, penaltyID string) (*domain.Penalty, error) {
	return s.store.WaivePenalty(ctx, penaltyID)
}
