package rest

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) listAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.anomaly.List(r.Context())
	if err != nil {
		log.Printf("[HTTP] list anomalies: %v", err)
		ErrorInternal(w, "failed to list anomalies")
		return
	}
	Success(w, "anomalies", anomalies)
}

func (h *Handler) startExport(w http.ResponseWriter, r *http.Request) {
	exportID, err := h.exports.StartRegisterExport(r.Context())
	if err != nil {
		log.Printf("[HTTP] start export: %v", err)
		ErrorInternal(w, "failed to start export")
		return
	}
	SuccessAccepted(w, "export queued", map[string]interface{}{"export_id": exportID})
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	exports, err := h.exports.ListExports(r.Context())
	if err != nil {
		log.Printf("[HTTP] list exports: %v", err)
		ErrorInternal(w, "failed to list exports")
		return
	}
	Success(w, "exports", exports)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	status, err := h.exports.GetExport(r.Context(), chi.URLParam(r, "export_id"))
	if err != nil {
		ErrorNotFound(w, "export not found")
		return
	}
	Success(w, "export", status)
}
