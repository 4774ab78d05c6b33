package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string identifier for a specific error condition.
// Codes follow the "<MODULE>_<NNN>" convention.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Model module error codes (canonical model and expression parser).
const (
	ErrCodeUnknownVariable     ErrorCode = "MDL_001"
	ErrCodeMalformedExpression ErrorCode = "MDL_002"
	ErrCodeModelNotFound       ErrorCode = "MDL_003"
)

// Optimization module error codes (dispatch and solving capabilities).
const (
	ErrCodeUnsupportedProblemType ErrorCode = "OPT_001"
	ErrCodeInfeasible             ErrorCode = "OPT_002"
	ErrCodeUnbounded              ErrorCode = "OPT_003"
	ErrCodeCapabilityFailure      ErrorCode = "OPT_004"
)

// Short aliases.
const (
	CodeOK       = ErrorCode("OK")
	CodeUnknown  = ErrorCode("UNKNOWN")
	CodeInternal = ErrCodeInternal

	CodeValidation             = ErrCodeValidation
	CodeUnknownVariable        = ErrCodeUnknownVariable
	CodeMalformedExpression    = ErrCodeMalformedExpression
	CodeModelNotFound          = ErrCodeModelNotFound
	CodeUnsupportedProblemType = ErrCodeUnsupportedProblemType
	CodeInfeasible             = ErrCodeInfeasible
	CodeUnbounded              = ErrCodeUnbounded
	CodeCapabilityFailure      = ErrCodeCapabilityFailure
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeUnknownVariable:     http.StatusBadRequest,
	ErrCodeMalformedExpression: http.StatusBadRequest,
	ErrCodeModelNotFound:       http.StatusNotFound,

	ErrCodeUnsupportedProblemType: http.StatusBadRequest,
	ErrCodeInfeasible:             http.StatusUnprocessableEntity,
	ErrCodeUnbounded:              http.StatusUnprocessableEntity,
	ErrCodeCapabilityFailure:      http.StatusBadGateway,
}

// ErrorCodeMessage maps error codes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeUnknownVariable:     "unknown variable",
	ErrCodeMalformedExpression: "malformed expression",
	ErrCodeModelNotFound:       "model not found",

	ErrCodeUnsupportedProblemType: "unsupported problem type",
	ErrCodeInfeasible:             "problem is infeasible",
	ErrCodeUnbounded:              "problem is unbounded",
	ErrCodeCapabilityFailure:      "solving capability failure",
}

// HTTPStatusForCode returns the HTTP status for an ErrorCode, 500 if unmapped.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the code maps to a 5xx status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}

//Personal.AI order the ending
