package rest

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nzukiegan/blaiz-loan-backend/internal/service"
)

type rawStkPushRequest struct {
	LoanID     string      `json:"loan_id"`
	Phone      string      `json:"phone"`
	Amount     interface{} `json:"amount"`
	AccountRef string      `json:"account_ref"`
}

func ValidateStkPushRequest(r *http.Request) (*service.PushInput, error) {
	var raw rawStkPushRequest
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

	return &service.PushInput{
		LoanID:     loanID,
		Phone:      raw.Phone,
		Amount:     amount,
		AccountRef: raw.AccountRef,
	}, nil
}

func (h *Handler) initiateStkPush(w http.ResponseWriter, r *http.Request) {
	in, err := ValidateStkPushRequest(r)
	if err != nil {
		if _, ok := err.(*ValidationError); ok {
			ErrorBadRequest(w, err.Error())
			return
		}
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	receipt, err := h.payments.InitiatePush(r.Context(), *in)
	if err != nil {
		log.Printf("[HTTP] stk push: %v", err)
		respondError(w, err)
		return
	}

	SuccessAccepted(w, "push initiated", map[string]interface{}{
		"checkout_request_id": receipt.CheckoutRequestID,
		"customer_message":    receipt.CustomerMessage,
		"payment":             paymentJSON(receipt.Payment),
	})
}

// mpesaCallback receives the gateway's asynchronous confirmation. The
// gateway retries anything that is not a 200, so the handler always
// acknowledges; failures are logged and flagged inside the engine.
func (h *Handler) mpesaCallback(w http.ResponseWriter, r *http.Request) {
	ack := func() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ResultCode": 0,
			"ResultDesc": "Accepted",
		})
	}

	var envelope service.CallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		log.Printf("[HTTP] undecodable mpesa callback: %v", err)
		ack()
		return
	}

	if err := h.recon.HandleCallback(r.Context(), &envelope); err != nil {
		log.Printf("[HTTP] mpesa callback: %v", err)
	}
	ack()
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	payment, err := h.recon.ResolveByPoll(r.Context(), reference)
	if err != nil {
		log.Printf("[HTTP] payment status %s: %v", reference, err)
		respondError(w, err)
		return
	}
	Success(w, "payment status", paymentJSON(payment))
}
