package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/OptiFlow/internal/application/orchestration"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// SolveHandler serves one-shot solves and flow discovery.
type SolveHandler struct {
	svc     orchestration.Service
	logger  logging.Logger
	maxBody int64
}

// NewSolveHandler creates a SolveHandler.
func NewSolveHandler(svc orchestration.Service, logger logging.Logger, maxBody int64) *SolveHandler {
	return &SolveHandler{svc: svc, logger: logging.OrNop(logger).Named("http.solve"), maxBody: maxBody}
}

// Solve handles POST /api/v1/solve.  The body's "type" selects the flow; a
// body without one is a generic model definition.
func (h *SolveHandler) Solve(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	req, err := orchestration.NewRequest(body)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.Solve(r.Context(), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SolveDomain handles POST /api/v1/solve/{slug}.
func (h *SolveHandler) SolveDomain(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.SolvePath(r.Context(), chi.URLParam(r, "slug"), body)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Flows handles GET /api/v1/flows.
func (h *SolveHandler) Flows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, common.FlowList{Flows: h.svc.Flows()})
}

// OpenAPI handles GET /api/v1/openapi.json.
func (h *SolveHandler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.OpenAPI())
}

//Personal.AI order the ending
