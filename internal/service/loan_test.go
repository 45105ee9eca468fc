package service

import (
	"context"
	"errors"
	"testing"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
)

func createInput() CreateLoanInput {
	return CreateLoanInput{
		ClientID:             "client-1",
		Principal:            dec("10000"),
		InterestRate:         dec("5"),
		PenaltyRate:          dec("2.5"),
		Term:                 5,
		TermUnit:             "months",
		InstallmentFrequency: "monthly",
	}
}

func TestCreateComputesSchedule(t *testing.T) {
	store := newMockStore()
	svc := NewLoanService(store, nil)

	loan, err := svc.Create(context.Background(), createInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got := loan.InstallmentAmount.StringFixed(2); got != "2100.00" {
		t.Errorf("installment = %s, want 2100.00", got)
	}
	if got := loan.TotalRepayable.StringFixed(2); got != "10500.00" {
		t.Errorf("total repayable = %s, want 10500.00", got)
	}
	if got := loan.RemainingBalance.StringFixed(2); got != "10500.00" {
		t.Errorf("remaining balance = %s, want 10500.00", got)
	}
	if loan.Status != domain.LoanPending {
		t.Errorf("status = %s, want pending", loan.Status)
	}
	if loan.DueDate == nil {
		t.Errorf("due date must be set at creation")
	}
}

func TestCreateRejectsUnknownTermUnit(t *testing.T) {
	store := newMockStore()
	svc := NewLoanService(store, nil)

	in := createInput()
	in.TermUnit = "fortnights"
	if _, err := svc.Create(context.Background(), in); err == nil {
		t.Fatalf("expected error for unknown term unit")
	}
}

func TestApproveThenActivate(t *testing.T) {
	store := newMockStore()
	notifier := &mockNotifier{}
	svc := NewLoanService(store, notifier)

	loan, err := svc.Create(context.Background(), createInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	phone := "254712345678"
	store.loans[loan.ID].ClientPhone = &phone

	if _, err := svc.Activate(context.Background(), loan.ID); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("activating a pending loan: err = %v, want ErrInvalidTransition", err)
	}

	approved, err := svc.Approve(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != domain.LoanApproved {
		t.Errorf("status = %s, want approved", approved.Status)
	}
	if !notifier.sentTo(phone) {
		t.Errorf("expected an approval SMS")
	}

	active, err := svc.Activate(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if active.Status != domain.LoanActive {
		t.Errorf("status = %s, want active", active.Status)
	}
	if active.PaymentStartDate == nil || active.DueDate == nil {
		t.Errorf("activation must set the payment start and due dates")
	}
}

func TestRejectOnlyFromPending(t *testing.T) {
	store := newMockStore()
	svc := NewLoanService(store, nil)

	loan, err := svc.Create(context.Background(), createInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Approve(context.Background(), loan.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := svc.Reject(context.Background(), loan.ID); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("rejecting an approved loan: err = %v, want ErrInvalidTransition", err)
	}
}
