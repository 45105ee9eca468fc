package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
)

var ErrMalformedCallback = errors.New("malformed gateway callback")

// ClientDirectory is the narrow lookup reconciliation needs to attribute a
// payment to a borrower.
type ClientDirectory interface {
	FindByPhone(ctx context.Context, phone string) (*domain.Client, error)
}

// Notifier delivers a message to a recipient. Delivery is fire-and-forget;
// implementations log their own failures.
type Notifier interface {
	Send(ctx context.Context, recipient, message string)
}

// StatusQuerier asks the gateway for the state of an in-flight checkout.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, checkoutRequestID string) (*clients.StatusResult, error)
}

// CallbackEnvelope is the gateway's asynchronous payment confirmation.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// Engine reconciles gateway outcomes against the ledger. Settlement itself is
// idempotent at the store, so the engine's job is resolution: parse what the
// gateway sent, find the payment and the loan it belongs to, and escalate
// anything it cannot place.
type Engine struct {
	store     ledger.Store
	directory ClientDirectory
	notifier  Notifier
	gateway   StatusQuerier
	anomalies *AnomalyLog
}

func NewEngine(store ledger.Store, directory ClientDirectory, notifier Notifier, gateway StatusQuerier, anomalies *AnomalyLog) *Engine {
	return &Engine{
		store:     store,
		directory: directory,
		notifier:  notifier,
		gateway:   gateway,
		anomalies: anomalies,
	}
}

type callbackDetails struct {
	amount  decimal.Decimal
	receipt string
	phone   string
}

// parseMetadata pulls the amount, receipt and payer phone out of the Item
// list. The gateway sends Amount and PhoneNumber as JSON numbers and the
// receipt as a string; anything unparseable is treated as absent.
func parseMetadata(md *CallbackMetadata) callbackDetails {
	var d callbackDetails
	if md == nil {
		return d
	}
	for _, item := range md.Item {
		switch item.Name {
		case "Amount":
			var f float64
			if err := json.Unmarshal(item.Value, &f); err == nil {
				d.amount = decimal.NewFromFloat(f)
			}
		case "MpesaReceiptNumber":
			var s string
			if err := json.Unmarshal(item.Value, &s); err == nil {
				d.receipt = s
			}
		case "PhoneNumber":
			var n json.Number
			if err := json.Unmarshal(item.Value, &n); err == nil {
				d.phone = n.String()
			} else {
				var s string
				if err := json.Unmarshal(item.Value, &s); err == nil {
					d.phone = s
				}
			}
		}
	}
	return d
}

// HandleCallback applies one gateway confirmation to the ledger. It returns
// an error for the caller's logs only; the HTTP transport acknowledges the
// gateway regardless, since the gateway retries on anything but a 200.
func (e *Engine) HandleCallback(ctx context.Context, envelope *CallbackEnvelope) error {
	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		e.anomalies.Report(ctx, AnomalyMalformedCallback, "", "callback without CheckoutRequestID")
		return ErrMalformedCallback
	}

	success := cb.ResultCode == 0
	details := parseMetadata(cb.CallbackMetadata)

	if success && (details.amount.IsZero() || details.receipt == "") {
		e.anomalies.Report(ctx, AnomalyMalformedCallback, cb.CheckoutRequestID,
			"success callback missing amount or receipt")
		return ErrMalformedCallback
	}

	payment, err := e.store.GetPaymentByReference(ctx, cb.CheckoutRequestID)
	if errors.Is(err, ledger.ErrPaymentNotFound) {
		// A confirmation for a push this instance never recorded. Keep the
		// money visible: record the row now, tagged for review.
		accountRef := domain.ManualReferencePrefix + cb.CheckoutRequestID
		payment = &domain.Payment{
			Amount:     details.amount,
			Method:     "mpesa",
			Reference:  cb.CheckoutRequestID,
			AccountRef: &accountRef,
		}
		if recErr := e.store.RecordPayment(ctx, payment); recErr != nil {
			e.anomalies.Report(ctx, AnomalyOrphanCallback, cb.CheckoutRequestID,
				fmt.Sprintf("orphan callback could not be recorded: %v", recErr))
			return fmt.Errorf("record orphan callback: %w", recErr)
		}
		e.anomalies.Report(ctx, AnomalyOrphanCallback, cb.CheckoutRequestID,
			"callback for a payment this service never initiated")
	} else if err != nil {
		return fmt.Errorf("load payment for callback: %w", err)
	}

	if payment.Terminal() {
		log.Printf("[RECON] replayed callback for %s ignored (already %s)",
			cb.CheckoutRequestID, payment.Status)
		return nil
	}

	if !success {
		_, _, err := e.settleWithRetry(ctx, cb.CheckoutRequestID, "", ledger.OutcomeFailure, nil)
		if err != nil {
			return err
		}
		log.Printf("[RECON] payment %s failed at gateway: %s", cb.CheckoutRequestID, cb.ResultDesc)
		return nil
	}

	loanID, client := e.resolveLoan(ctx, payment, details.phone)
	if loanID == nil {
		e.anomalies.Report(ctx, AnomalyUnmatchedPayment, cb.CheckoutRequestID,
			fmt.Sprintf("no open loan for payer %s, receipt %s", details.phone, details.receipt))
	}

	settled, loan, err := e.settleWithRetry(ctx, cb.CheckoutRequestID, details.receipt, ledger.OutcomeSuccess, loanID)
	if err != nil {
		return err
	}

	e.afterSettle(ctx, settled, loan, client)
	return nil
}

// ResolveByPoll settles a still-pending payment by asking the gateway
// directly. Used when the operator checks a payment's status before the
// callback has arrived (or after it was lost).
func (e *Engine) ResolveByPoll(ctx context.Context, reference string) (*domain.Payment, error) {
	payment, err := e.store.GetPaymentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment.Terminal() {
		return payment, nil
	}

	status, err := e.gateway.QueryStatus(ctx, reference)
	if errors.Is(err, clients.ErrTransactionPending) {
		return payment, nil
	}
	if err != nil {
		return nil, err
	}

	if status.ResultCode != "0" {
		settled, _, err := e.settleWithRetry(ctx, reference, "", ledger.OutcomeFailure, nil)
		if err != nil {
			return nil, err
		}
		return settled, nil
	}

	// The status query carries no receipt or payer metadata, so attribution
	// relies on what the push recorded.
	loanID, client := e.resolveLoan(ctx, payment, "")
	if loanID == nil {
		e.anomalies.Report(ctx, AnomalyUnmatchedPayment, reference,
			"poll confirmed a payment with no resolvable loan")
	}

	settled, loan, err := e.settleWithRetry(ctx, reference, "", ledger.OutcomeSuccess, loanID)
	if err != nil {
		return nil, err
	}
	e.afterSettle(ctx, settled, loan, client)
	return settled, nil
}

// resolveLoan finds the loan a payment belongs to: the one it was recorded
// against, or the payer's oldest open loan by phone lookup.
func (e *Engine) resolveLoan(ctx context.Context, payment *domain.Payment, phone string) (*string, *domain.Client) {
	if payment.LoanID != nil {
		return payment.LoanID, nil
	}

	if phone == "" {
		return nil, nil
	}
	client, err := e.directory.FindByPhone(ctx, phone)
	if err != nil {
		return nil, nil
	}
	loan, err := e.store.FindOpenLoanByClient(ctx, client.ID)
	if err != nil {
		return nil, client
	}
	return &loan.ID, client
}

// settleWithRetry retries a failed settle exactly once before escalating to
// the operator channel. Idempotent no-ops and replays are not errors.
func (e *Engine) settleWithRetry(ctx context.Context, reference, receipt string, outcome ledger.Outcome, loanID *string) (*domain.Payment, *domain.Loan, error) {
	payment, loan, err := e.store.SettlePayment(ctx, reference, receipt, outcome, loanID)
	if err == nil {
		return payment, loan, nil
	}
	log.Printf("[RECON] settle %s failed, retrying: %v", reference, err)

	payment, loan, err = e.store.SettlePayment(ctx, reference, receipt, outcome, loanID)
	if err != nil {
		e.anomalies.Report(ctx, AnomalyLedgerConflict, reference,
			fmt.Sprintf("settlement failed twice: %v", err))
		return nil, nil, fmt.Errorf("settle %s: %w", reference, err)
	}
	return payment, loan, nil
}

// afterSettle runs the post-settlement side effects: penalty-marker routing
// and the confirmation SMS. Both are best-effort.
func (e *Engine) afterSettle(ctx context.Context, payment *domain.Payment, loan *domain.Loan, client *domain.Client) {
	if payment == nil || loan == nil {
		return
	}

	if payment.AccountRef != nil && strings.HasPrefix(*payment.AccountRef, domain.PenaltyReferencePrefix) {
		n, err := e.store.MarkPenaltiesPaid(ctx, loan.ID)
		if err != nil {
			log.Printf("[RECON] mark penalties paid for loan %s: %v", loan.ID, err)
		} else if n > 0 {
			log.Printf("[RECON] %d penalties cleared on loan %s", n, loan.ID)
		}
	}

	phone := ""
	if client != nil {
		phone = client.Phone
	} else if loan.ClientPhone != nil {
		phone = *loan.ClientPhone
	} else if full, err := e.store.GetLoan(ctx, loan.ID); err == nil && full.ClientPhone != nil {
		phone = *full.ClientPhone
	}
	if phone != "" && e.notifier != nil {
		msg := fmt.Sprintf("Payment of KES %s received. Your loan balance is KES %s.",
			payment.Amount.StringFixed(2), loan.RemainingBalance.StringFixed(2))
		e.notifier.Send(ctx, phone, msg)
	}
}
