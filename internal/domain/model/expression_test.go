package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

func TestIsIdentifier(t *testing.T) {
	assert.True(t, IsIdentifier("x"))
	assert.True(t, IsIdentifier("_zero"))
	assert.True(t, IsIdentifier("x_0_12"))
	assert.False(t, IsIdentifier("0x"))
	assert.False(t, IsIdentifier("x-y"))
	assert.False(t, IsIdentifier(""))
}

func TestParseExpression_Basic(t *testing.T) {
	terms, err := ParseExpression("3*x + y + -2*z")
	require.NoError(t, err)
	assert.Equal(t, []Term{T(3, "x"), T(1, "y"), T(-2, "z")}, terms)
}

func TestParseExpression_WhitespaceInsignificant(t *testing.T) {
	a, err := ParseExpression("3*x+y")
	require.NoError(t, err)
	b, err := ParseExpression("  3 * x   +   y ")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseExpression_ExponentCoefficient(t *testing.T) {
	terms, err := ParseExpression("1e+3*x + 2.5E-1*y")
	require.NoError(t, err)
	assert.Equal(t, []Term{T(1000, "x"), T(0.25, "y")}, terms)
}

func TestParseExpression_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"empty term":       "x + + y",
		"trailing plus":    "x +",
		"multiple stars":   "2*3*x",
		"bad coefficient":  "abc*x",
		"bad identifier":   "2*3x",
		"subtraction":      "x - y",
		"missing variable": "2*",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseExpression(text)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeMalformedExpression), err.Error())
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestParseExpression_MalformedCarriesRawTerm(t *testing.T) {
	_, err := ParseExpression("x + 2*3*y")
	require.Error(t, err)
	var ae *errors.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "2*3*y", ae.Detail)
}

func TestParseExpressionIn_UnknownVariable(t *testing.T) {
	known := func(name string) bool { return name == "x" }
	_, err := ParseExpressionIn("x + 4*w", known)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnknownVariable))
	var ae *errors.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "4*w", ae.Detail)
}

func TestFormatExpression_RoundTrip(t *testing.T) {
	inputs := []string{
		"3*x + y + -2*z",
		"0.5*a + 1e-7*b + 1000000*c",
		"x",
		"-1*x + x",
	}
	for _, in := range inputs {
		first, err := ParseExpression(in)
		require.NoError(t, err)
		second, err := ParseExpression(FormatExpression(first))
		require.NoError(t, err)
		assert.Equal(t, first, second, in)
	}
}

func TestFormatExpression_OmitsUnitCoefficient(t *testing.T) {
	assert.Equal(t, "x + 2*y + -1*z", FormatExpression([]Term{T(1, "x"), T(2, "y"), T(-1, "z")}))
}

func TestParseRelation(t *testing.T) {
	expr, op, rhs, err := ParseRelation("x + y <= 4")
	require.NoError(t, err)
	assert.Equal(t, "x + y", expr)
	assert.Equal(t, OpLessEqual, op)
	assert.Equal(t, 4.0, rhs)

	_, op, rhs, err = ParseRelation("2*x == -3.5")
	require.NoError(t, err)
	assert.Equal(t, OpEqual, op)
	assert.Equal(t, -3.5, rhs)

	_, op, _, err = ParseRelation("x >= 1")
	require.NoError(t, err)
	assert.Equal(t, OpGreaterEqual, op)
}

func TestParseRelation_Malformed(t *testing.T) {
	_, _, _, err := ParseRelation("x + y")
	assert.True(t, errors.IsCode(err, errors.CodeMalformedExpression))

	_, _, _, err = ParseRelation("x <= y")
	assert.True(t, errors.IsCode(err, errors.CodeMalformedExpression))
}
