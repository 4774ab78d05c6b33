package errors

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "COMMON_001", ErrCodeInternal.String())
	assert.Equal(t, "MDL_003", ErrCodeModelNotFound.String())
}

func TestHTTPStatusForCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrCodeInternal, 500},
		{ErrCodeValidation, 400},
		{ErrCodeUnknownVariable, 400},
		{ErrCodeMalformedExpression, 400},
		{ErrCodeUnsupportedProblemType, 400},
		{ErrCodeModelNotFound, 404},
		{ErrCodeInfeasible, 422},
		{ErrCodeUnbounded, 422},
		{ErrCodeCapabilityFailure, 502},
		{ErrorCode("UNKNOWN"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatusForCode(tt.code), tt.code)
	}
}

func TestDefaultMessageForCode(t *testing.T) {
	assert.Equal(t, "internal server error", DefaultMessageForCode(ErrCodeInternal))
	assert.Equal(t, "problem is infeasible", DefaultMessageForCode(ErrCodeInfeasible))
	assert.Equal(t, "unknown error", DefaultMessageForCode(ErrorCode("UNKNOWN")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrCodeValidation))
	assert.True(t, IsClientError(ErrCodeModelNotFound))
	assert.False(t, IsClientError(ErrCodeCapabilityFailure))
}

func TestIsServerError(t *testing.T) {
	assert.True(t, IsServerError(ErrCodeInternal))
	assert.True(t, IsServerError(ErrCodeCapabilityFailure))
	assert.False(t, IsServerError(ErrCodeUnsupportedProblemType))
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "COMMON", ModuleForCode(ErrCodeInternal))
	assert.Equal(t, "MDL", ModuleForCode(ErrCodeUnknownVariable))
	assert.Equal(t, "OPT", ModuleForCode(ErrCodeInfeasible))
	assert.Equal(t, "UNKNOWN", ModuleForCode(ErrorCode("")))
}

func TestErrorCodeFormat_Convention(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z]+_\d{3}$`)
	for code := range ErrorCodeHTTPStatus {
		assert.Regexp(t, re, string(code))
	}
}

func TestErrorCodeMappings_Completeness(t *testing.T) {
	for code := range ErrorCodeHTTPStatus {
		_, hasMessage := ErrorCodeMessage[code]
		assert.True(t, hasMessage, "missing message for %s", code)
	}
	for code := range ErrorCodeMessage {
		_, hasStatus := ErrorCodeHTTPStatus[code]
		assert.True(t, hasStatus, "missing status for %s", code)
	}
}

//Personal.AI order the ending
