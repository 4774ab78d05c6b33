package model

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Term is one coefficient*variable product of a linear expression.
type Term struct {
	Coefficient float64 `json:"coefficient"`
	Variable    string  `json:"variable"`
}

// T is shorthand for building a Term.
func T(coef float64, variable string) Term {
	return Term{Coefficient: coef, Variable: variable}
}

var (
	identPattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	exponentPrefix  = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)[eE]$`)
	relationPattern = regexp.MustCompile(`^(.*?)(<=|>=|==|=)\s*([^<>=]+)$`)
)

// IsIdentifier reports whether name is a valid variable identifier.
func IsIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

// ParseExpression turns "3*x + y + -2*z" into its terms.
//
// Terms are separated by '+'.  A term is either "<number>*<identifier>" or a
// bare identifier with an implicit coefficient of 1.  Subtraction is written
// as a negative coefficient; '-' is never an operator.  Every term is either
// returned or reported as MalformedExpression, never dropped.
func ParseExpression(text string) ([]Term, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.MalformedExpression(text, "expression is empty")
	}
	raw := splitTerms(text)
	terms := make([]Term, 0, len(raw))
	for _, r := range raw {
		term, err := parseTerm(r)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, nil
}

// ParseExpressionIn parses text and resolves every term against known.
// An unresolved reference fails with UnknownVariable naming the raw term.
func ParseExpressionIn(text string, known func(name string) bool) ([]Term, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.MalformedExpression(text, "expression is empty")
	}
	raw := splitTerms(text)
	terms := make([]Term, 0, len(raw))
	for _, r := range raw {
		term, err := parseTerm(r)
		if err != nil {
			return nil, err
		}
		if !known(term.Variable) {
			return nil, errors.UnknownVariable(strings.TrimSpace(r))
		}
		terms = append(terms, term)
	}
	return terms, nil
}

// splitTerms splits on '+' except where '+' is the sign of a float exponent
// such as "1e+3*x".
func splitTerms(text string) []string {
	var (
		parts []string
		start int
	)
	for i := 0; i < len(text); i++ {
		if text[i] != '+' {
			continue
		}
		if exponentPrefix.MatchString(strings.TrimSpace(text[start:i])) {
			continue
		}
		parts = append(parts, text[start:i])
		start = i + 1
	}
	return append(parts, text[start:])
}

func parseTerm(raw string) (Term, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Term{}, errors.MalformedExpression(raw, "empty term")
	}
	pieces := strings.Split(s, "*")
	switch len(pieces) {
	case 1:
		if !IsIdentifier(s) {
			return Term{}, errors.MalformedExpression(s, "expected identifier or <number>*<identifier>")
		}
		return Term{Coefficient: 1, Variable: s}, nil
	case 2:
		coefText := strings.TrimSpace(pieces[0])
		name := strings.TrimSpace(pieces[1])
		coef, err := strconv.ParseFloat(coefText, 64)
		if err != nil || math.IsInf(coef, 0) || math.IsNaN(coef) {
			return Term{}, errors.MalformedExpression(s, "coefficient is not a finite number")
		}
		if !IsIdentifier(name) {
			return Term{}, errors.MalformedExpression(s, "invalid identifier after '*'")
		}
		return Term{Coefficient: coef, Variable: name}, nil
	default:
		return Term{}, errors.MalformedExpression(s, "multiple '*' in term")
	}
}

// FormatExpression renders terms in the grammar accepted by ParseExpression.
// Coefficients of exactly 1 are omitted; formatting never emits an exponent so
// the output always re-parses to the same terms.
func FormatExpression(terms []Term) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		if t.Coefficient == 1 {
			parts[i] = t.Variable
			continue
		}
		parts[i] = strconv.FormatFloat(t.Coefficient, 'f', -1, 64) + "*" + t.Variable
	}
	return strings.Join(parts, " + ")
}

// ParseRelation splits inline relational text such as "x + y <= 4" into its
// left-hand expression, operator and numeric right-hand side.
func ParseRelation(text string) (expr string, op Operator, rhs float64, err error) {
	m := relationPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", 0, errors.MalformedExpression(text, "expected <expression> <op> <number>")
	}
	op = Operator(m[2])
	if op == "==" {
		op = OpEqual
	}
	rhs, perr := strconv.ParseFloat(strings.TrimSpace(m[3]), 64)
	if perr != nil {
		return "", "", 0, errors.MalformedExpression(text, "right-hand side is not a number")
	}
	return strings.TrimSpace(m[1]), op, rhs, nil
}

// HasRelation reports whether text contains a relational operator.
func HasRelation(text string) bool {
	return strings.ContainsAny(text, "<>=")
}
