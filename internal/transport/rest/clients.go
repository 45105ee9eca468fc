package rest

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
)

func clientJSON(c *domain.Client) map[string]interface{} {
	m := map[string]interface{}{
		"id":    c.ID,
		"name":  c.Name,
		"phone": c.Phone,
	}
	if c.Email != nil {
		m["email"] = *c.Email
	}
	if c.IDNumber != nil {
		m["id_number"] = *c.IDNumber
	}
	if c.Address != nil {
		m["address"] = *c.Address
	}
	if c.CreatedAt != nil {
		m["created_at"] = c.CreatedAt
	}
	return m
}

type createClientRequest struct {
	Name     string  `json:"name"`
	Phone    string  `json:"phone"`
	Email    *string `json:"email"`
	IDNumber *string `json:"id_number"`
	Address  *string `json:"address"`
}

func (h *Handler) createClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorBadRequest(w, "invalid JSON")
		return
	}
	if _, err := requireString(req.Name, "name"); err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}
	if _, err := requireString(req.Phone, "phone"); err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	client := &domain.Client{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		IDNumber: req.IDNumber,
		Address:  req.Address,
	}
	if err := h.clients.Create(r.Context(), client); err != nil {
		log.Printf("[HTTP] create client: %v", err)
		respondError(w, err)
		return
	}
	SuccessCreated(w, "client created", clientJSON(client))
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	list, err := h.clients.List(r.Context())
	if err != nil {
		log.Printf("[HTTP] list clients: %v", err)
		ErrorInternal(w, "failed to list clients")
		return
	}

	out := make([]map[string]interface{}, 0, len(list))
	for i := range list {
		out = append(out, clientJSON(&list[i]))
	}
	Success(w, "clients", out)
}

func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.clients.Get(r.Context(), chi.URLParam(r, "client_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	Success(w, "client", clientJSON(client))
}

func (h *Handler) listClientLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.loans.ListByClient(r.Context(), chi.URLParam(r, "client_id"))
	if err != nil {
		log.Printf("[HTTP] list client loans: %v", err)
		ErrorInternal(w, "failed to list loans")
		return
	}
	Success(w, "loans", loansJSON(loans))
}
