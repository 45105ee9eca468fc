package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testLoan(store *mockStore, clientID string) *domain.Loan {
	phone := "254712345678"
	loan := &domain.Loan{
		ClientID:             clientID,
		ClientPhone:          &phone,
		Principal:            dec("10000"),
		InterestRate:         dec("5"),
		PenaltyRate:          dec("2.5"),
		Term:                 5,
		TermUnit:             "months",
		InstallmentFrequency: "monthly",
		InstallmentAmount:    dec("2100"),
		TotalRepayable:       dec("10500"),
		RemainingBalance:     dec("10500"),
		Penalties:            decimal.Zero,
		TotalPaid:            decimal.Zero,
		Status:               domain.LoanActive,
	}
	_ = store.CreateLoan(context.Background(), loan)
	return loan
}

func pendingPayment(store *mockStore, loan *domain.Loan, reference, accountRef string, amount decimal.Decimal) *domain.Payment {
	p := &domain.Payment{
		Amount:    amount,
		Method:    "mpesa",
		Reference: reference,
	}
	if loan != nil {
		p.LoanID = &loan.ID
		p.ClientID = &loan.ClientID
	}
	if accountRef != "" {
		p.AccountRef = &accountRef
	}
	_ = store.RecordPayment(context.Background(), p)
	return p
}

func newTestEngine(store *mockStore) (*Engine, *mockNotifier, *mockGateway) {
	notifier := &mockNotifier{}
	gateway := &mockGateway{}
	directory := &mockDirectory{byPhone: map[string]*domain.Client{}}
	engine := NewEngine(store, directory, notifier, gateway, NewAnomalyLog(nil, nil))
	return engine, notifier, gateway
}

func successCallback(t *testing.T, checkoutID, receipt, phone string, amount string) *CallbackEnvelope {
	t.Helper()
	raw := fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "mreq-1",
				"CheckoutRequestID": %q,
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": %s},
						{"Name": "MpesaReceiptNumber", "Value": %q},
						{"Name": "TransactionDate", "Value": 20260115103000},
						{"Name": "PhoneNumber", "Value": %s}
					]
				}
			}
		}
	}`, checkoutID, amount, receipt, phone)

	var env CallbackEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal callback: %v", err)
	}
	return &env
}

func failureCallback(t *testing.T, checkoutID string) *CallbackEnvelope {
	t.Helper()
	raw := fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "mreq-1",
				"CheckoutRequestID": %q,
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`, checkoutID)

	var env CallbackEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal callback: %v", err)
	}
	return &env
}

func TestHandleCallbackSettlesPayment(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK123", "LOAN-"+loan.ID, dec("2100"))
	engine, notifier, _ := newTestEngine(store)

	env := successCallback(t, "CHK123", "QGR7TKQ1XL", "254712345678", "2100")
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	payment, err := store.GetPaymentByReference(context.Background(), "CHK123")
	if err != nil {
		t.Fatalf("payment lookup: %v", err)
	}
	if payment.Status != domain.PaymentCompleted {
		t.Errorf("payment status = %s, want completed", payment.Status)
	}
	if payment.ReceiptCode == nil || *payment.ReceiptCode != "QGR7TKQ1XL" {
		t.Errorf("receipt code not recorded")
	}

	updated, _ := store.GetLoan(context.Background(), loan.ID)
	if got := updated.RemainingBalance.StringFixed(2); got != "8400.00" {
		t.Errorf("remaining balance = %s, want 8400.00", got)
	}
	if got := updated.TotalPaid.StringFixed(2); got != "2100.00" {
		t.Errorf("total paid = %s, want 2100.00", got)
	}
	if len(notifier.sent) == 0 {
		t.Errorf("expected a confirmation SMS")
	}
}

func TestHandleCallbackReplayIsNoOp(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK123", "", dec("2100"))
	engine, _, _ := newTestEngine(store)

	env := successCallback(t, "CHK123", "QGR7TKQ1XL", "254712345678", "2100")
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("replayed callback: %v", err)
	}

	updated, _ := store.GetLoan(context.Background(), loan.ID)
	if got := updated.TotalPaid.StringFixed(2); got != "2100.00" {
		t.Errorf("total paid after replay = %s, want 2100.00", got)
	}
	if got := updated.RemainingBalance.StringFixed(2); got != "8400.00" {
		t.Errorf("balance after replay = %s, want 8400.00", got)
	}
}

func TestHandleCallbackFailureLeavesLoanUntouched(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK456", "", dec("2100"))
	engine, notifier, _ := newTestEngine(store)

	if err := engine.HandleCallback(context.Background(), failureCallback(t, "CHK456")); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	payment, _ := store.GetPaymentByReference(context.Background(), "CHK456")
	if payment.Status != domain.PaymentFailed {
		t.Errorf("payment status = %s, want failed", payment.Status)
	}
	updated, _ := store.GetLoan(context.Background(), loan.ID)
	if got := updated.RemainingBalance.StringFixed(2); got != "10500.00" {
		t.Errorf("balance = %s, want untouched 10500.00", got)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("no SMS expected for a failed payment")
	}
}

func TestHandleCallbackMalformedSuccess(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK789", "", dec("2100"))
	engine, _, _ := newTestEngine(store)

	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "mreq-1",
				"CheckoutRequestID": "CHK789",
				"ResultCode": 0,
				"ResultDesc": "success with no metadata"
			}
		}
	}`
	var env CallbackEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	err := engine.HandleCallback(context.Background(), &env)
	if !errors.Is(err, ErrMalformedCallback) {
		t.Fatalf("err = %v, want ErrMalformedCallback", err)
	}

	payment, _ := store.GetPaymentByReference(context.Background(), "CHK789")
	if payment.Status != domain.PaymentPending {
		t.Errorf("payment status = %s, want pending after malformed callback", payment.Status)
	}
}

func TestHandleCallbackMissingCheckoutID(t *testing.T) {
	store := newMockStore()
	engine, _, _ := newTestEngine(store)

	var env CallbackEnvelope
	err := engine.HandleCallback(context.Background(), &env)
	if !errors.Is(err, ErrMalformedCallback) {
		t.Fatalf("err = %v, want ErrMalformedCallback", err)
	}
}

func TestHandleCallbackResolvesLoanByPhone(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, nil, "CHK321", "", dec("500"))

	notifier := &mockNotifier{}
	directory := &mockDirectory{byPhone: map[string]*domain.Client{
		"254712345678": {ID: "client-1", Name: "Amina", Phone: "254712345678"},
	}}
	engine := NewEngine(store, directory, notifier, &mockGateway{}, NewAnomalyLog(nil, nil))

	env := successCallback(t, "CHK321", "QQW8PLM2ZZ", "254712345678", "500")
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	updated, _ := store.GetLoan(context.Background(), loan.ID)
	if got := updated.TotalPaid.StringFixed(2); got != "500.00" {
		t.Errorf("total paid = %s, want 500.00", got)
	}
	if !notifier.sentTo("254712345678") {
		t.Errorf("expected SMS to the resolved client")
	}
}

func TestHandleCallbackUnmatchedPayment(t *testing.T) {
	store := newMockStore()
	testLoan(store, "client-1")
	pendingPayment(store, nil, "CHK999", "", dec("750"))
	engine, _, _ := newTestEngine(store)

	env := successCallback(t, "CHK999", "QAB1CDE2FG", "254700000000", "750")
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	settled, err := store.GetPaymentByReference(context.Background(), "CHK999")
	if err != nil {
		t.Fatalf("payment must stay findable by its reference: %v", err)
	}
	if settled.Status != domain.PaymentCompleted {
		t.Errorf("unmatched payment status = %s, want completed", settled.Status)
	}
	if settled.LoanID != nil {
		t.Errorf("unmatched payment must not carry a loan")
	}
	if settled.AccountRef == nil || *settled.AccountRef != domain.UnmatchedReferencePrefix+"QAB1CDE2FG" {
		t.Errorf("account ref = %v, want UNMATCHED-QAB1CDE2FG", settled.AccountRef)
	}
}

func TestHandleCallbackUnmatchedReplayIsNoOp(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, nil, "CHK998", "", dec("750"))
	engine, _, _ := newTestEngine(store)

	env := successCallback(t, "CHK998", "QAB1CDE2FG", "254700000000", "750")
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	first, err := store.GetPaymentByReference(context.Background(), "CHK998")
	if err != nil {
		t.Fatalf("payment lookup: %v", err)
	}

	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("replayed callback: %v", err)
	}

	payments, _ := store.ListPayments(context.Background())
	if len(payments) != 1 {
		t.Fatalf("payments after replay = %d, want 1", len(payments))
	}
	second, _ := store.GetPaymentByReference(context.Background(), "CHK998")
	if second.ID != first.ID {
		t.Errorf("replay created a new payment row: first ID %s, now %s", first.ID, second.ID)
	}
	updated, _ := store.GetLoan(context.Background(), loan.ID)
	if got := updated.TotalPaid.StringFixed(2); got != "0.00" {
		t.Errorf("total paid = %s, want 0.00 for an unmatched payment", got)
	}
}

func TestHandleCallbackOrphanRecordsTaggedPayment(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")

	notifier := &mockNotifier{}
	directory := &mockDirectory{byPhone: map[string]*domain.Client{
		"254712345678": {ID: "client-1", Name: "Amina", Phone: "254712345678"},
	}}
	engine := NewEngine(store, directory, notifier, &mockGateway{}, NewAnomalyLog(nil, nil))

	env := successCallback(t, "CHK640", "QOR9PHN3AA", "254712345678", "600")
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	payment, err := store.GetPaymentByReference(context.Background(), "CHK640")
	if err != nil {
		t.Fatalf("orphan payment not recorded: %v", err)
	}
	if payment.Status != domain.PaymentCompleted {
		t.Errorf("orphan payment status = %s, want completed", payment.Status)
	}
	if payment.AccountRef == nil || !strings.HasPrefix(*payment.AccountRef, domain.ManualReferencePrefix) {
		t.Errorf("account ref = %v, want MANUAL- tag", payment.AccountRef)
	}
	updated, _ := store.GetLoan(context.Background(), loan.ID)
	if got := updated.TotalPaid.StringFixed(2); got != "600.00" {
		t.Errorf("total paid = %s, want 600.00", got)
	}
}

func TestHandleCallbackPenaltyMarker(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	_, _ = store.AccruePenalty(context.Background(), loan.ID, dec("52.50"), "late payment")
	pendingPayment(store, loan, "CHK555", domain.PenaltyReferencePrefix+loan.ID, dec("52.50"))
	engine, _, _ := newTestEngine(store)

	env := successCallback(t, "CHK555", "QPN4LTY5XX", "254712345678", "52.5")
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	penalties, _ := store.ListPenalties(context.Background())
	if len(penalties) != 1 {
		t.Fatalf("penalties = %d, want 1", len(penalties))
	}
	if penalties[0].Status != domain.PenaltyPaid {
		t.Errorf("penalty status = %s, want paid", penalties[0].Status)
	}
}

func TestHandleCallbackRetriesConflictOnce(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK777", "", dec("2100"))
	store.settleErrs = []error{errors.New("deadlock detected")}
	engine, _, _ := newTestEngine(store)

	env := successCallback(t, "CHK777", "QRT6YCF7HH", "254712345678", "2100")
	if err := engine.HandleCallback(context.Background(), env); err != nil {
		t.Fatalf("HandleCallback after retry: %v", err)
	}

	payment, _ := store.GetPaymentByReference(context.Background(), "CHK777")
	if payment.Status != domain.PaymentCompleted {
		t.Errorf("payment status = %s, want completed after one retry", payment.Status)
	}
}

func TestHandleCallbackEscalatesAfterSecondFailure(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK778", "", dec("2100"))
	store.settleErrs = []error{errors.New("deadlock"), errors.New("deadlock")}
	engine, _, _ := newTestEngine(store)

	env := successCallback(t, "CHK778", "QRT6YCF7HH", "254712345678", "2100")
	err := engine.HandleCallback(context.Background(), env)
	if err == nil {
		t.Fatalf("expected error after two settle failures")
	}
	if !strings.Contains(err.Error(), "CHK778") {
		t.Errorf("error %q should name the reference", err)
	}
}

func TestResolveByPollStillPending(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK200", "", dec("1000"))
	engine, _, gateway := newTestEngine(store)
	gateway.err = clients.ErrTransactionPending

	payment, err := engine.ResolveByPoll(context.Background(), "CHK200")
	if err != nil {
		t.Fatalf("ResolveByPoll: %v", err)
	}
	if payment.Status != domain.PaymentPending {
		t.Errorf("payment status = %s, want pending", payment.Status)
	}
}

func TestResolveByPollSettlesSuccess(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK201", "", dec("1000"))
	engine, _, gateway := newTestEngine(store)
	gateway.status = &clients.StatusResult{ResultCode: "0", Description: "processed successfully"}

	payment, err := engine.ResolveByPoll(context.Background(), "CHK201")
	if err != nil {
		t.Fatalf("ResolveByPoll: %v", err)
	}
	if payment.Status != domain.PaymentCompleted {
		t.Errorf("payment status = %s, want completed", payment.Status)
	}

	updated, _ := store.GetLoan(context.Background(), loan.ID)
	if got := updated.RemainingBalance.StringFixed(2); got != "9500.00" {
		t.Errorf("balance = %s, want 9500.00", got)
	}
}

func TestResolveByPollSettlesFailure(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK202", "", dec("1000"))
	engine, _, gateway := newTestEngine(store)
	gateway.status = &clients.StatusResult{ResultCode: "1032", Description: "cancelled by user"}

	payment, err := engine.ResolveByPoll(context.Background(), "CHK202")
	if err != nil {
		t.Fatalf("ResolveByPoll: %v", err)
	}
	if payment.Status != domain.PaymentFailed {
		t.Errorf("payment status = %s, want failed", payment.Status)
	}
	updated, _ := store.GetLoan(context.Background(), loan.ID)
	if got := updated.RemainingBalance.StringFixed(2); got != "10500.00" {
		t.Errorf("balance = %s, want untouched", got)
	}
}

func TestResolveByPollTerminalAnsweredLocally(t *testing.T) {
	store := newMockStore()
	loan := testLoan(store, "client-1")
	pendingPayment(store, loan, "CHK203", "", dec("2100"))
	engine, _, gateway := newTestEngine(store)
	gateway.status = &clients.StatusResult{ResultCode: "0"}

	if _, err := engine.ResolveByPoll(context.Background(), "CHK203"); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	// Second poll must not hit the gateway at all.
	gateway.err = errors.New("gateway must not be called")
	payment, err := engine.ResolveByPoll(context.Background(), "CHK203")
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if payment.Status != domain.PaymentCompleted {
		t.Errorf("payment status = %s, want completed", payment.Status)
	}
}
