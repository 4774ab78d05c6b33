package model

import (
	"fmt"
	"math"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Row is one linear row of a compiled Program: Σ Coefficients[j]·x_j Sense RHS.
type Row struct {
	Name         string
	Coefficients []float64
	Sense        Operator
	RHS          float64
}

// Program is the index-based form of a Model consumed by the linear
// capability.  Variable j of the Program is Model.Variables[j].
type Program struct {
	Names     []string
	Objective []float64
	Maximize  bool
	Rows      []Row
	Lower     []float64 // -Inf when open
	Upper     []float64 // +Inf when open
	Integral  []bool
}

// NumVars returns the number of columns.
func (p *Program) NumVars() int { return len(p.Names) }

// Index returns the column of name, or -1.
func (p *Program) Index(name string) int {
	for i, n := range p.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Compile lowers m to a Program.  Repeated references to the same variable in
// one expression are summed.  A bound-form constraint yields one row per
// finite side.
func Compile(m *Model) (*Program, error) {
	if m == nil {
		return nil, errors.Validation("model is nil")
	}
	n := len(m.Variables)
	p := &Program{
		Names:     make([]string, n),
		Objective: make([]float64, n),
		Maximize:  m.Objective.Type == Maximize,
		Lower:     make([]float64, n),
		Upper:     make([]float64, n),
		Integral:  make([]bool, n),
	}
	index := make(map[string]int, n)
	for j, v := range m.Variables {
		p.Names[j] = v.Name
		index[v.Name] = j
		p.Lower[j], p.Upper[j] = math.Inf(-1), math.Inf(1)
		if v.LowerBound != nil {
			p.Lower[j] = *v.LowerBound
		}
		if v.UpperBound != nil {
			p.Upper[j] = *v.UpperBound
		}
		p.Integral[j] = v.Kind == Integer || v.Kind == Binary
	}
	known := func(name string) bool {
		_, ok := index[name]
		return ok
	}

	dense := func(text string) ([]float64, error) {
		terms, err := ParseExpressionIn(text, known)
		if err != nil {
			return nil, err
		}
		row := make([]float64, n)
		for _, t := range terms {
			row[index[t.Variable]] += t.Coefficient
		}
		return row, nil
	}

	obj, err := dense(m.Objective.Expression)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "objective")
	}
	p.Objective = obj

	for _, c := range m.Constraints {
		coefs, err := dense(c.Expression)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("constraint %q", c.Name))
		}
		if c.IsBoundForm() {
			if c.LowerBound != nil {
				p.Rows = append(p.Rows, Row{Name: c.Name + "_lb", Coefficients: coefs, Sense: OpGreaterEqual, RHS: *c.LowerBound})
			}
			if c.UpperBound != nil {
				p.Rows = append(p.Rows, Row{Name: c.Name + "_ub", Coefficients: coefs, Sense: OpLessEqual, RHS: *c.UpperBound})
			}
			continue
		}
		if c.RHS == nil || !c.Operator.IsValid() {
			return nil, errors.Validationf("constraint %q needs a valid operator and rhs", c.Name)
		}
		p.Rows = append(p.Rows, Row{Name: c.Name, Coefficients: coefs, Sense: c.Operator, RHS: *c.RHS})
	}
	return p, nil
}

// Evaluate returns Σ coefficients·values for an objective or row.
func Evaluate(coefficients, values []float64) float64 {
	var sum float64
	for j, c := range coefficients {
		sum += c * values[j]
	}
	return sum
}
