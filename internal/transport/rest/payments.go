package rest

import (
	"log"
	"net/http"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/service"
)

func paymentJSON(p *domain.Payment) map[string]interface{} {
	m := map[string]interface{}{
		"id":        p.ID,
		"amount":    p.Amount.StringFixed(2),
		"method":    p.Method,
		"reference": p.Reference,
		"status":    string(p.Status),
	}
	if p.LoanID != nil {
		m["loan_id"] = *p.LoanID
	}
	if p.ClientID != nil {
		m["client_id"] = *p.ClientID
	}
	if p.AccountRef != nil {
		m["account_ref"] = *p.AccountRef
	}
	if p.ReceiptCode != nil {
		m["receipt_code"] = *p.ReceiptCode
	}
	if p.CreatedAt != nil {
		m["created_at"] = p.CreatedAt
	}
	if p.ClientName != nil {
		m["client_name"] = *p.ClientName
	}
	return m
}

func paymentsJSON(payments []domain.Payment) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(payments))
	for i := range payments {
		out = append(out, paymentJSON(&payments[i]))
	}
	return out
}

type rawManualPaymentRequest struct {
	LoanID    string      `json:"loan_id"`
	Amount    interface{} `json:"amount"`
	Method    string      `json:"method"`
	Reference string      `json:"reference"`
}

func ValidateManualPaymentRequest(r *http.Request) (*service.ManualPaymentInput, error) {
	var raw rawManualPaymentRequest
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}

	loanID, err := requireString(raw.LoanID, "loan_id")
	if err != nil {
		return nil, err
	}
	amount, err := toPositiveDecimal(raw.Amount, "amount")
	if err != nil {
		return nil, err
	}

	return &service.ManualPaymentInput{
		LoanID:    loanID,
		Amount:    amount,
		Method:    raw.Method,
		Reference: raw.Reference,
	}, nil
}

func (h *Handler) recordManualPayment(w http.ResponseWriter, r *http.Request) {
	in, err := ValidateManualPaymentRequest(r)
	if err != nil {
		if _, ok := err.(*ValidationError); ok {
			ErrorBadRequest(w, err.Error())
			return
		}
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	payment, loan, err := h.payments.RecordManual(r.Context(), *in)
	if err != nil {
		log.Printf("[HTTP] record manual payment: %v", err)
		respondError(w, err)
		return
	}

	data := map[string]interface{}{"payment": paymentJSON(payment)}
	if loan != nil {
		data["loan"] = loanJSON(loan)
	}
	SuccessCreated(w, "payment recorded", data)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.List(r.Context())
	if err != nil {
		log.Printf("[HTTP] list payments: %v", err)
		ErrorInternal(w, "failed to list payments")
		return
	}
	Success(w, "payments", paymentsJSON(payments))
}
