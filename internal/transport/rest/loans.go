package rest

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/service"
)

func loanJSON(l *domain.Loan) map[string]interface{} {
	m := map[string]interface{}{
		"id":                    l.ID,
		"client_id":             l.ClientID,
		"principal":             l.Principal.StringFixed(2),
		"interest_rate":         l.InterestRate.String(),
		"penalty_rate":          l.PenaltyRate.String(),
		"term":                  l.Term,
		"term_unit":             l.TermUnit,
		"installment_frequency": l.InstallmentFrequency,
		"installment_amount":    l.InstallmentAmount.StringFixed(2),
		"total_repayable":       l.TotalRepayable.StringFixed(2),
		"remaining_balance":     l.RemainingBalance.StringFixed(2),
		"penalties":             l.Penalties.StringFixed(2),
		"total_paid":            l.TotalPaid.StringFixed(2),
		"status":                string(l.Status),
	}
	if l.DueDate != nil {
		m["due_date"] = l.DueDate.Format("2006-01-02")
	}
	if l.PaymentStartDate != nil {
		m["payment_start_date"] = l.PaymentStartDate.Format("2006-01-02")
	}
	if l.CreatedAt != nil {
		m["created_at"] = l.CreatedAt
	}
	if l.ClientName != nil {
		m["client_name"] = *l.ClientName
	}
	if l.ClientPhone != nil {
		m["client_phone"] = *l.ClientPhone
	}
	return m
}

func loansJSON(loans []domain.Loan) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(loans))
	for i := range loans {
		out = append(out, loanJSON(&loans[i]))
	}
	return out
}

type rawCreateLoanRequest struct {
	ClientID             string      `json:"client_id"`
	Principal            interface{} `json:"principal"`
	InterestRate         interface{} `json:"interest_rate"`
	PenaltyRate          interface{} `json:"penalty_rate"`
	Term                 interface{} `json:"term"`
	TermUnit             string      `json:"term_unit"`
	InstallmentFrequency string      `json:"installment_frequency"`
}

func ValidateCreateLoanRequest(r *http.Request) (*service.CreateLoanInput, error) {
	var raw rawCreateLoanRequest
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}

	clientID, err := requireString(raw.ClientID, "client_id")
	if err != nil {
		return nil, err
	}
	principal, err := toPositiveDecimal(raw.Principal, "principal")
	if err != nil {
		return nil, err
	}
	interestRate, err := toNonNegativeDecimal(raw.InterestRate, "interest_rate")
	if err != nil {
		return nil, err
	}
	penaltyRate, err := toNonNegativeDecimal(raw.PenaltyRate, "penalty_rate")
	if err != nil {
		return nil, err
	}
	term, err := toInt(raw.Term, "term")
	if err != nil {
		return nil, err
	}
	if term <= 0 {
		return nil, &ValidationError{Field: "term", Message: "term must be positive"}
	}

	termUnit := raw.TermUnit
	if termUnit == "" {
		termUnit = "months"
	}
	frequency := raw.InstallmentFrequency
	if frequency == "" {
		frequency = "monthly"
	}

	return &service.CreateLoanInput{
		ClientID:             clientID,
		Principal:            principal,
		InterestRate:         interestRate,
		PenaltyRate:          penaltyRate,
		Term:                 term,
		TermUnit:             termUnit,
		InstallmentFrequency: frequency,
	}, nil
}

func (h *Handler) createLoan(w http.ResponseWriter, r *http.Request) {
	in, err := ValidateCreateLoanRequest(r)
	if err != nil {
		if _, ok := err.(*ValidationError); ok {
			ErrorBadRequest(w, err.Error())
			return
		}
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	loan, err := h.loans.Create(r.Context(), *in)
	if err != nil {
		log.Printf("[HTTP] create loan: %v", err)
		respondError(w, err)
		return
	}
	SuccessCreated(w, "loan created", loanJSON(loan))
}

func (h *Handler) listLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.loans.List(r.Context())
	if err != nil {
		log.Printf("[HTTP] list loans: %v", err)
		ErrorInternal(w, "failed to list loans")
		return
	}
	Success(w, "loans", loansJSON(loans))
}

func (h *Handler) getLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.Get(r.Context(), chi.URLParam(r, "loan_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	Success(w, "loan", loanJSON(loan))
}

func (h *Handler) approveLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.Approve(r.Context(), chi.URLParam(r, "loan_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	Success(w, "loan approved", loanJSON(loan))
}

func (h *Handler) rejectLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.Reject(r.Context(), chi.URLParam(r, "loan_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	Success(w, "loan rejected", loanJSON(loan))
}

func (h *Handler) activateLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.Activate(r.Context(), chi.URLParam(r, "loan_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	Success(w, "loan activated", loanJSON(loan))
}
