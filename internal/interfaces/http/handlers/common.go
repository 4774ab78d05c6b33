// Package handlers implements the OptiFlow HTTP endpoints on top of the
// orchestration service.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// DefaultMaxBodySize bounds request bodies when no limit is configured.
const DefaultMaxBodySize int64 = 10 << 20

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errors.Validationf("request body exceeds %d bytes", limit).WithDetail("field=body")
		}
		return nil, errors.Validation("unreadable request body").WithCause(err)
	}
	return body, nil
}

// writeJSON writes data with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeAppError maps err to its HTTP status and writes {code, message,
// detail}.  Unclassified failures are masked as internal errors.
func writeAppError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)
	body := common.ErrorDetail{
		Code:    string(code),
		Message: errors.MessageOf(err),
		Detail:  errors.DetailOf(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			logging.String("request_id", chimw.GetReqID(r.Context())),
			logging.String("path", r.URL.Path),
			logging.Err(err))
	}
	if status == http.StatusInternalServerError {
		body = common.ErrorDetail{
			Code:    string(errors.ErrCodeInternal),
			Message: errors.ErrorCodeMessage[errors.ErrCodeInternal],
		}
	}
	if body.Message == "" {
		body.Message = errors.ErrorCodeMessage[code]
	}
	writeJSON(w, status, body)
}

//Personal.AI order the ending
