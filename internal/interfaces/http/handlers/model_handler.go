package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/OptiFlow/internal/application/orchestration"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// ModelHandler serves the build / run / delete lifecycle of stored models.
type ModelHandler struct {
	svc     orchestration.Service
	logger  logging.Logger
	maxBody int64
}

// NewModelHandler creates a ModelHandler.  maxBody ≤ 0 selects
// DefaultMaxBodySize.
func NewModelHandler(svc orchestration.Service, logger logging.Logger, maxBody int64) *ModelHandler {
	return &ModelHandler{svc: svc, logger: logging.OrNop(logger).Named("http.models"), maxBody: maxBody}
}

// Build handles POST /api/v1/models.
func (h *ModelHandler) Build(w http.ResponseWriter, r *http.Request) {
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
	resp, err := h.svc.Build(r.Context(), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Run handles POST /api/v1/models/{id}/run.  The body is optional.
func (h *ModelHandler) Run(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	var run common.RunRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &run); err != nil {
			writeAppError(w, r, h.logger, errors.Validation("malformed run request").WithCause(err).WithDetail(err.Error()))
			return
		}
	}
	res, err := h.svc.Run(r.Context(), chi.URLParam(r, "id"), run.Overrides())
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Delete handles DELETE /api/v1/models/{id}.
func (h *ModelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//Personal.AI order the ending
