// Package errors provides the unified error type and factory functions used by
// every OptiFlow layer.  Parser, builder, store, solver and transport code all
// report failures as *AppError so that the HTTP boundary can map a single code
// to a status and the dispatcher can annotate failures without losing their
// classification.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// stackDepth is the maximum number of frames captured per error.
const stackDepth = 32

// captureStack returns a formatted call stack starting above the caller.
func captureStack(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// AppError
// ─────────────────────────────────────────────────────────────────────────────

// AppError is the structured error carried across OptiFlow layers.  It supports
// errors.Is / errors.As / errors.Unwrap through Unwrap.
//
// Usage:
//
//	return errors.New(errors.CodeModelNotFound, "model 1b9d... not found")
//	return errors.Wrap(err, errors.CodeUnknown, "solve vap")
//	return errors.Validation("tasks must not be empty").WithDetail("field=tasks")
type AppError struct {
	// Code classifies the failure; it drives the HTTP status at the boundary.
	Code ErrorCode

	// Message is the human-readable description returned to callers.
	Message string

	// Detail carries supplementary context such as the offending field or term.
	Detail string

	// Cause is the underlying error, if any.
	Cause error

	// Stack is the call stack captured at construction.  It is never part of
	// Error() output.
	Stack string
}

// Error implements the error interface.
// Format: "[<code>] <message>: <detail>: <cause>" with empty segments omitted.
func (e *AppError) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(e.Code.String())
	sb.WriteString("] ")
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail returns a copy of the receiver with Detail set.  Nil-safe.
func (e *AppError) WithDetail(detail string) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithDetailf is WithDetail with fmt.Sprintf formatting.
func (e *AppError) WithDetailf(format string, args ...interface{}) *AppError {
	return e.WithDetail(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the receiver with Cause set.  Nil-safe.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Cause = err
	return &clone
}

// ─────────────────────────────────────────────────────────────────────────────
// Primary factories
// ─────────────────────────────────────────────────────────────────────────────

// New constructs an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Newf is New with fmt.Sprintf formatting of the message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(1),
	}
}

// Wrap constructs an AppError around err.  It returns nil when err is nil.
// When code is CodeUnknown and err already carries an AppError, the original
// code is kept so that annotating a failure never changes its classification.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if code == CodeUnknown {
		var ae *AppError
		if errors.As(err, &ae) {
			code = ae.Code
		} else {
			code = CodeInternal
		}
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   captureStack(1),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Chain inspection
// ─────────────────────────────────────────────────────────────────────────────

// IsCode reports whether any AppError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) && ae.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsValidation reports whether err is a ValidationError or one of its
// parser-level subtypes (UnknownVariable, MalformedExpression).
func IsValidation(err error) bool {
	return IsCode(err, ErrCodeValidation) ||
		IsCode(err, ErrCodeUnknownVariable) ||
		IsCode(err, ErrCodeMalformedExpression)
}

// IsNotFound reports whether err's chain contains a not-found classification.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound) || IsCode(err, ErrCodeModelNotFound)
}

// GetCode extracts the code of the first AppError in err's chain.
// It returns CodeOK for nil and CodeUnknown when no AppError is present.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// DetailOf returns the first non-empty Detail in err's chain.
func DetailOf(err error) string {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) {
			if ae.Detail != "" {
				return ae.Detail
			}
			err = ae.Cause
			continue
		}
		return ""
	}
	return ""
}

// MessageOf joins the messages of the AppError chain in err, outermost
// first, without codes or details.  It returns "" when err holds no AppError.
func MessageOf(err error) string {
	var parts []string
	var ae *AppError
	for err != nil && errors.As(err, &ae) {
		if ae.Message != "" {
			parts = append(parts, ae.Message)
		}
		err = ae.Cause
	}
	return strings.Join(parts, ": ")
}

// Is and As re-export the standard library helpers so callers importing this
// package under the name "errors" keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// ─────────────────────────────────────────────────────────────────────────────
// Convenience factories
// ─────────────────────────────────────────────────────────────────────────────

// Validation constructs a ValidationError: the request is malformed or
// incomplete and must not be retried.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Stack: captureStack(1)}
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...interface{}) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...), Stack: captureStack(1)}
}

// UnknownVariable reports an expression term that references an undeclared
// variable.  term is the raw offending term.
func UnknownVariable(term string) *AppError {
	return &AppError{
		Code:    ErrCodeUnknownVariable,
		Message: fmt.Sprintf("unknown variable in term %q", term),
		Detail:  term,
		Stack:   captureStack(1),
	}
}

// MalformedExpression reports an unparseable expression term.
func MalformedExpression(term, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedExpression,
		Message: fmt.Sprintf("malformed term %q: %s", term, reason),
		Detail:  term,
		Stack:   captureStack(1),
	}
}

// UnsupportedProblemType reports an unregistered dispatch key.
func UnsupportedProblemType(key string) *AppError {
	return &AppError{
		Code:    ErrCodeUnsupportedProblemType,
		Message: fmt.Sprintf("unsupported problem type: %q", key),
		Detail:  key,
		Stack:   captureStack(1),
	}
}

// ModelNotFound reports a stale or never-issued model identifier.
func ModelNotFound(id string) *AppError {
	return &AppError{
		Code:    ErrCodeModelNotFound,
		Message: fmt.Sprintf("model %s not found", id),
		Detail:  id,
		Stack:   captureStack(1),
	}
}

// Infeasible reports a well-posed model with no admissible solution.
func Infeasible(message string) *AppError {
	return &AppError{Code: ErrCodeInfeasible, Message: message, Stack: captureStack(1)}
}

// Unbounded reports a model whose objective improves without limit.
func Unbounded(message string) *AppError {
	return &AppError{Code: ErrCodeUnbounded, Message: message, Stack: captureStack(1)}
}

// CapabilityFailure reports that a solving capability could not be invoked,
// crashed, or could not determine any definite status.
func CapabilityFailure(message string) *AppError {
	return &AppError{Code: ErrCodeCapabilityFailure, Message: message, Stack: captureStack(1)}
}

// NotFound constructs a generic not-found error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message, Stack: captureStack(1)}
}

// InvalidParam constructs a bad-request error.
func InvalidParam(message string) *AppError {
	return &AppError{Code: ErrCodeBadRequest, Message: message, Stack: captureStack(1)}
}

// Internal constructs an internal error.  Log the underlying cause.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message, Stack: captureStack(1)}
}

//Personal.AI order the ending
