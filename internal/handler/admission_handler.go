package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bulletin-service/internal/admission"
)

type StatusReporter interface {
	Status(q admission.StatusQuery) admission.StatusReport
}

// AdmissionHandler exposes admission state to operators holding the
// operator token. Reports name tracked addresses, so the route is never public.
type AdmissionHandler struct {
	responder
	status        StatusReporter
	operatorToken string
}

func NewAdmissionHandler(status StatusReporter, operatorToken string, logger *zap.Logger) *AdmissionHandler {
	return &AdmissionHandler{responder: responder{logger: logger}, status: status, operatorToken: operatorToken}
}

func (h *AdmissionHandler) RegisterRoutes(router chi.Router) {
	router.With(RequireOperator(h.operatorToken, h.logger)).Get("/admission/status", h.Status)
}

func (h *AdmissionHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report := h.status.Status(admission.StatusQuery{
		Address:  q.Get("address"),
		Identity: q.Get("identity"),
	})
	h.respondWithJSON(w, http.StatusOK, successResponse(report, ""))
}
