package rest

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
)

func penaltyJSON(p *domain.Penalty) map[string]interface{} {
	m := map[string]interface{}{
		"id":        p.ID,
		"loan_id":   p.LoanID,
		"client_id": p.ClientID,
		"amount":    p.Amount.StringFixed(2),
		"reason":    p.Reason,
		"status":    string(p.Status),
	}
	if p.CreatedAt != nil {
		m["created_at"] = p.CreatedAt
	}
	if p.WaivedAt != nil {
		m["waived_at"] = p.WaivedAt
	}
	if p.ClientName != nil {
		m["client_name"] = *p.ClientName
	}
	return m
}

func (h *Handler) listPenalties(w http.ResponseWriter, r *http.Request) {
	penalties, err := h.loans.ListPenalties(r.Context())
	if err != nil {
		log.Printf("[HTTP] list penalties: %v", err)
		ErrorInternal(w, "failed to list penalties")
		return
	}

	out := make([]map[string]interface{}, 0, len(penalties))
	for i := range penalties {
		out = append(out, penaltyJSON(&penalties[i]))
	}
	Success(w, "penalties", out)
}

type rawPenaltyRequest struct {
	LoanID string      `json:"loan_id"`
	Amount interface{} `json:"amount"`
	Reason string      `json:"reason"`
}

func (h *Handler) accruePenalty(w http.ResponseWriter, r *http.Request) {
	var raw rawPenaltyRequest
	if err := decodeJSON(r, &raw); err != nil {
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	loanID, err := requireString(raw.LoanID, "loan_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}
	amount, err := toPositiveDecimal(raw.Amount, "amount")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}
	reason := raw.Reason
	if reason == "" {
		reason = "Manual penalty"
	}

	penalty, err := h.loans.AccruePenalty(r.Context(), loanID, amount, reason)
	if err != nil {
		log.Printf("[HTTP] accrue penalty: %v", err)
		respondError(w, err)
		return
	}
	SuccessCreated(w, "penalty accrued", penaltyJSON(penalty))
}

func (h *Handler) waivePenalty(w http.ResponseWriter, r *http.Request) {
	penalty, err := h.loans.WaivePenalty(r.Context(), chi.URLParam(r, "penalty_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	Success(w, "penalty waived", penaltyJSON(penalty))
}
