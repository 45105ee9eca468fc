package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
)

// PushInitiator starts a payment prompt on the payer's device.
type PushInitiator interface {
	InitiatePush(ctx context.Context, phone string, amount decimal.Decimal, accountReference, description string) (*clients.PushResult, error)
}

// PaymentService records payments: gateway pushes that settle later through
// the reconciliation engine, and manual payments that settle immediately.
type PaymentService struct {
	store    ledger.Store
	gateway  PushInitiator
	notifier Notifier
}

func NewPaymentService(store ledger.Store, gateway PushInitiator, notifier Notifier) *PaymentService {
	return &PaymentService{store: store, gateway: gateway, notifier: notifier}
}

type PushInput struct {
	LoanID     string
	Phone      string
	Amount     decimal.Decimal
	AccountRef string
}

type PushReceipt struct {
	CheckoutRequestID string
	CustomerMessage   string
	Payment           *domain.Payment
}

// InitiatePush asks the gateway for an STK prompt and records the pending
// payment under the returned checkout ID, so the callback can find it. The
// account reference travels with the row: a PENALTY- reference later routes
// the settled amount to the loan's penalties.
func (s *PaymentService) InitiatePush(ctx context.Context, in PushInput) (*PushReceipt, error) {
	loan, err := s.store.GetLoan(ctx, in.LoanID)
	if err != nil {
		return nil, err
	}
	if !loan.Open() {
		return nil, fmt.Errorf("loan %s is %s: %w", in.LoanID, loan.Status, ledger.ErrInvalidTransition)
	}

	phone := in.Phone
	if phone == "" && loan.ClientPhone != nil {
		phone = *loan.ClientPhone
	}
	if phone == "" {
		return nil, fmt.Errorf("no phone number for loan %s", in.LoanID)
	}

	accountRef := in.AccountRef
	if accountRef == "" {
		accountRef = "LOAN-" + loan.ID
	}

	result, err := s.gateway.InitiatePush(ctx, phone, in.Amount, accountRef, "Loan repayment")
	if err != nil {
		return nil, err
	}

	payment := &domain.Payment{
		LoanID:     &loan.ID,
		ClientID:   &loan.ClientID,
		Amount:     in.Amount,
		Method:     "mpesa",
		Reference:  result.CheckoutRequestID,
		AccountRef: &accountRef,
	}
	if err := s.store.RecordPayment(ctx, payment); err != nil {
		// The push is already on the payer's device; the callback will land
		// as an orphan and get flagged for review.
		log.Printf("[PAYMENT] push %s accepted but not recorded: %v", result.CheckoutRequestID, err)
		return nil, err
	}

	return &PushReceipt{
		CheckoutRequestID: result.CheckoutRequestID,
		CustomerMessage:   result.CustomerMessage,
		Payment:           payment,
	}, nil
}

type ManualPaymentInput struct {
	LoanID    string
	Amount    decimal.Decimal
	Method    string
	Reference string
}

// RecordManual records and settles a cash or bank payment in one flow. A
// PENALTY- reference also clears the loan's active penalties.
func (s *PaymentService) RecordManual(ctx context.Context, in ManualPaymentInput) (*domain.Payment, *domain.Loan, error) {
	loan, err := s.store.GetLoan(ctx, in.LoanID)
	if err != nil {
		return nil, nil, err
	}
	if !loan.Open() {
		return nil, nil, fmt.Errorf("loan %s is %s: %w", in.LoanID, loan.Status, ledger.ErrInvalidTransition)
	}

	reference := in.Reference
	if reference == "" {
		reference = domain.ManualReferencePrefix + uuid.NewString()
	}
	method := in.Method
	if method == "" {
		method = "cash"
	}

	payment := &domain.Payment{
		LoanID:    &loan.ID,
		ClientID:  &loan.ClientID,
		Amount:    in.Amount,
		Method:    method,
		Reference: reference,
	}
	if err := s.store.RecordPayment(ctx, payment); err != nil {
		return nil, nil, err
	}

	settled, updated, err := s.store.SettlePayment(ctx, reference, reference, ledger.OutcomeSuccess, &loan.ID)
	if err != nil {
		return nil, nil, err
	}

	if strings.HasPrefix(reference, domain.PenaltyReferencePrefix) {
		if n, err := s.store.MarkPenaltiesPaid(ctx, loan.ID); err != nil {
			log.Printf("[PAYMENT] mark penalties paid for loan %s: %v", loan.ID, err)
		} else if n > 0 {
			log.Printf("[PAYMENT] %d penalties cleared on loan %s", n, loan.ID)
		}
	}

	if s.notifier != nil && loan.ClientPhone != nil && updated != nil {
		msg := fmt.Sprintf("Payment of KES %s received. Your loan balance is KES %s.",
			settled.Amount.StringFixed(2), updated.RemainingBalance.StringFixed(2))
		s.notifier.Send(ctx, *loan.ClientPhone, msg)
	}

	return settled, updated, nil
}

func (s *PaymentService) List(ctx context.Context) ([]domain.Payment, error) {
	return s.store.ListPayments(ctx)
}

func (s *PaymentService) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return s.store.GetPaymentByReference(ctx, reference)
}
