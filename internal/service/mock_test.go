package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
)

// mockStore is an in-memory ledger.Store with the same semantics as the
// Postgres implementation: idempotent settlement, balance floored at zero,
// penalty accrual bundled with the due-date rollover.
type mockStore struct {
	loans     map[string]*domain.Loan
	loanOrder []string
	payments  map[string]*domain.Payment
	penalties []*domain.Penalty

	nextID int

	// settleErrs is consumed, one error per SettlePayment call, before the
	// normal behavior runs. Simulates transient ledger conflicts.
	settleErrs []error
}

func newMockStore() *mockStore {
	return &mockStore{
		loans:    make(map[string]*domain.Loan),
		payments: make(map[string]*domain.Payment),
	}
}

func (m *mockStore) genID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *mockStore) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	if loan.ID == "" {
		loan.ID = m.genID("loan")
	}
	cp := *loan
	m.loans[loan.ID] = &cp
	m.loanOrder = append(m.loanOrder, loan.ID)
	return nil
}

func (m *mockStore) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	l, ok := m.loans[id]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *mockStore) ListLoans(ctx context.Context) ([]domain.Loan, error) {
	var out []domain.Loan
	for _, id := range m.loanOrder {
		out = append(out, *m.loans[id])
	}
	return out, nil
}

func (m *mockStore) ListLoansByClient(ctx context.Context, clientID string) ([]domain.Loan, error) {
	var out []domain.Loan
	for _, id := range m.loanOrder {
		if m.loans[id].ClientID == clientID {
			out = append(out, *m.loans[id])
		}
	}
	return out, nil
}

func (m *mockStore) ListDueLoans(ctx context.Context) ([]domain.Loan, error) {
	var out []domain.Loan
	for _, id := range m.loanOrder {
		l := m.loans[id]
		if l.Open() && l.PaymentStartDate != nil {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *mockStore) FindOpenLoanByClient(ctx context.Context, clientID string) (*domain.Loan, error) {
	for _, id := range m.loanOrder {
		l := m.loans[id]
		if l.ClientID == clientID && l.Open() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ledger.ErrLoanNotFound
}

func (m *mockStore) TransitionLoanStatus(ctx context.Context, loanID string, from, to domain.LoanStatus) (*domain.Loan, error) {
	l, ok := m.loans[loanID]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	if l.Status != from {
		return nil, ledger.ErrInvalidTransition
	}
	l.Status = to
	cp := *l
	return &cp, nil
}

func (m *mockStore) ActivateLoan(ctx context.Context, loanID string, startDate, dueDate time.Time) (*domain.Loan, error) {
	l, ok := m.loans[loanID]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	if l.Status != domain.LoanApproved {
		return nil, ledger.ErrInvalidTransition
	}
	l.Status = domain.LoanActive
	l.PaymentStartDate = &startDate
	l.DueDate = &dueDate
	cp := *l
	return &cp, nil
}

func (m *mockStore) applyPayment(l *domain.Loan, amount decimal.Decimal) {
	l.TotalPaid = l.TotalPaid.Add(amount)
	l.RemainingBalance = l.RemainingBalance.Sub(amount)
	if !l.RemainingBalance.IsPositive() {
		l.RemainingBalance = decimal.Zero
		l.Status = domain.LoanPaid
	}
}

func (m *mockStore) ApplyPayment(ctx context.Context, loanID string, amount decimal.Decimal) (*domain.Loan, error) {
	l, ok := m.loans[loanID]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	m.applyPayment(l, amount)
	cp := *l
	return &cp, nil
}

func (m *mockStore) accruePenalty(l *domain.Loan, amount decimal.Decimal, reason string) *domain.Penalty {
	p := &domain.Penalty{
		ID:       m.genID("penalty"),
		LoanID:   l.ID,
		ClientID: l.ClientID,
		Amount:   amount,
		Reason:   reason,
		Status:   domain.PenaltyActive,
	}
	m.penalties = append(m.penalties, p)
	l.Penalties = l.Penalties.Add(amount)
	l.RemainingBalance = l.RemainingBalance.Add(amount)
	return p
}

func (m *mockStore) AccruePenalty(ctx context.Context, loanID string, amount decimal.Decimal, reason string) (*domain.Penalty, error) {
	l, ok := m.loans[loanID]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	p := m.accruePenalty(l, amount, reason)
	cp := *p
	return &cp, nil
}

func (m *mockStore) AccrueOverduePenalty(ctx context.Context, loanID string, amount decimal.Decimal, reason string, nextDue time.Time) (*domain.Loan, *domain.Penalty, error) {
	l, ok := m.loans[loanID]
	if !ok {
		return nil, nil, ledger.ErrLoanNotFound
	}
	p := m.accruePenalty(l, amount, reason)
	l.Status = domain.LoanOverdue
	l.DueDate = &nextDue
	lcp := *l
	pcp := *p
	return &lcp, &pcp, nil
}

func (m *mockStore) RecordPayment(ctx context.Context, payment *domain.Payment) error {
	if existing, ok := m.payments[payment.Reference]; ok && existing.Status == domain.PaymentPending {
		return ledger.ErrDuplicateReference
	}
	if payment.ID == "" {
		payment.ID = m.genID("payment")
	}
	if payment.Status == "" {
		payment.Status = domain.PaymentPending
	}
	cp := *payment
	m.payments[payment.Reference] = &cp
	return nil
}

func (m *mockStore) GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	p, ok := m.payments[reference]
	if !ok {
		return nil, ledger.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range m.payments {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockStore) SettlePayment(ctx context.Context, reference, receiptCode string, outcome ledger.Outcome, loanID *string) (*domain.Payment, *domain.Loan, error) {
	if len(m.settleErrs) > 0 {
		err := m.settleErrs[0]
		m.settleErrs = m.settleErrs[1:]
		if err != nil {
			return nil, nil, err
		}
	}

	p, ok := m.payments[reference]
	if !ok {
		return nil, nil, ledger.ErrPaymentNotFound
	}
	if p.Terminal() {
		cp := *p
		return &cp, nil, nil
	}

	if outcome == ledger.OutcomeFailure {
		p.Status = domain.PaymentFailed
		cp := *p
		return &cp, nil, nil
	}

	targetLoan := p.LoanID
	if targetLoan == nil {
		targetLoan = loanID
	}

	p.Status = domain.PaymentCompleted
	if receiptCode != "" {
		rc := receiptCode
		p.ReceiptCode = &rc
	}
	if targetLoan == nil {
		tag := receiptCode
		if tag == "" {
			tag = p.Reference
		}
		marked := domain.UnmatchedReferencePrefix + tag
		p.AccountRef = &marked
		cp := *p
		return &cp, nil, nil
	}

	p.LoanID = targetLoan
	l, ok := m.loans[*targetLoan]
	if !ok {
		return nil, nil, ledger.ErrLoanNotFound
	}
	m.applyPayment(l, p.Amount)
	pcp := *p
	lcp := *l
	return &pcp, &lcp, nil
}

func (m *mockStore) MarkPenaltiesPaid(ctx context.Context, loanID string) (int, error) {
	n := 0
	for _, p := range m.penalties {
		if p.LoanID == loanID && p.Status == domain.PenaltyActive {
			p.Status = domain.PenaltyPaid
			n++
		}
	}
	return n, nil
}

func (m *mockStore) ListPenalties(ctx context.Context) ([]domain.Penalty, error) {
	var out []domain.Penalty
	for _, p := range m.penalties {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockStore) WaivePenalty(ctx context.Context, penaltyID string) (*domain.Penalty, error) {
	for _, p := range m.penalties {
		if p.ID == penaltyID {
			if p.Status != domain.PenaltyActive {
				return nil, ledger.ErrInvalidTransition
			}
			p.Status = domain.PenaltyWaived
			now := time.Now()
			p.WaivedAt = &now
			cp := *p
			return &cp, nil
		}
	}
	return nil, ledger.ErrPenaltyNotFound
}

type mockDirectory struct {
	byPhone map[string]*domain.Client
}

func (d *mockDirectory) FindByPhone(ctx context.Context, phone string) (*domain.Client, error) {
	c, ok := d.byPhone[phone]
	if !ok {
		return nil, ledger.ErrClientNotFound
	}
	return c, nil
}

type mockNotifier struct {
	sent []string
}

func (n *mockNotifier) Send(ctx context.Context, recipient, message string) {
	n.sent = append(n.sent, recipient+": "+message)
}

func (n *mockNotifier) sentTo(recipient string) bool {
	for _, s := range n.sent {
		if strings.HasPrefix(s, recipient+": ") {
			return true
		}
	}
	return false
}

type mockGateway struct {
	status *clients.StatusResult
	err    error
}

func (g *mockGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*clients.StatusResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.status, nil
}
