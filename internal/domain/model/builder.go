package model

import (
	"math"
	"time"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// ZeroVariable is the fixed-zero helper a Builder declares on demand.  It
// carries term-less constraints and empty objectives so that the model still
// parses and the solver, not the builder, decides feasibility.
const ZeroVariable = "_zero"

// Builder constructs a Model programmatically.  Errors are sticky: the first
// one is recorded and returned by Model, later calls become no-ops.
//
//	b := model.NewBuilder("fleet_mix")
//	b.Integer("x_0", 0, math.Inf(1))
//	b.Constrain("budget", []model.Term{model.T(25000, "x_0")}, model.OpLessEqual, 100000)
//	b.Minimize([]model.Term{model.T(25000, "x_0")})
//	m, err := b.Model()
type Builder struct {
	name        string
	description string
	variables   []Variable
	declared    map[string]struct{}
	constraints []Constraint
	objective   *Objective
	parameters  map[string]any
	hasZero     bool
	err         error
}

// NewBuilder returns an empty Builder for a model called name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:       name,
		declared:   make(map[string]struct{}),
		parameters: make(map[string]any),
	}
}

// Describe sets the model description.
func (b *Builder) Describe(description string) *Builder {
	b.description = description
	return b
}

// Param sets a solver parameter on the built model.
func (b *Builder) Param(key string, value any) *Builder {
	b.parameters[key] = value
	return b
}

// Binary declares a 0/1 variable.
func (b *Builder) Binary(name string) string {
	return b.declare(Variable{Name: name, Kind: Binary, LowerBound: Float(0), UpperBound: Float(1)})
}

// Integer declares an integer variable.  Infinite bounds are left open.
func (b *Builder) Integer(name string, lb, ub float64) string {
	return b.declare(Variable{Name: name, Kind: Integer, LowerBound: finite(lb), UpperBound: finite(ub)})
}

// Continuous declares a continuous variable.  Infinite bounds are left open.
func (b *Builder) Continuous(name string, lb, ub float64) string {
	return b.declare(Variable{Name: name, Kind: Continuous, LowerBound: finite(lb), UpperBound: finite(ub)})
}

func (b *Builder) declare(v Variable) string {
	if b.err != nil {
		return v.Name
	}
	if !IsIdentifier(v.Name) {
		b.err = errors.Validationf("invalid variable name %q", v.Name)
		return v.Name
	}
	if _, dup := b.declared[v.Name]; dup {
		b.err = errors.Validationf("duplicate variable name %q", v.Name)
		return v.Name
	}
	b.declared[v.Name] = struct{}{}
	b.variables = append(b.variables, v)
	return v.Name
}

// Has reports whether name was declared.
func (b *Builder) Has(name string) bool {
	_, ok := b.declared[name]
	return ok
}

// Constrain adds an expression-form constraint.  Zero coefficients are
// dropped.  A constraint left without terms is skipped when 0 op rhs holds,
// and otherwise written over the fixed-zero helper so the model is reported
// infeasible by the solver.
func (b *Builder) Constrain(name string, terms []Term, op Operator, rhs float64) *Builder {
	if b.err != nil {
		return b
	}
	if !op.IsValid() {
		b.err = errors.Validationf("constraint %q has invalid operator %q", name, op)
		return b
	}
	kept := compact(terms)
	if len(kept) == 0 {
		if holds(op, rhs) {
			return b
		}
		kept = []Term{T(1, b.zero())}
	}
	for _, t := range kept {
		if !b.Has(t.Variable) {
			b.err = errors.UnknownVariable(t.Variable)
			return b
		}
	}
	b.constraints = append(b.constraints, Constraint{
		Name:       name,
		Expression: FormatExpression(kept),
		Operator:   op,
		RHS:        Float(rhs),
	})
	return b
}

// Minimize sets a minimization objective.
func (b *Builder) Minimize(terms []Term) *Builder { return b.setObjective(Minimize, terms) }

// Maximize sets a maximization objective.
func (b *Builder) Maximize(terms []Term) *Builder { return b.setObjective(Maximize, terms) }

func (b *Builder) setObjective(sense Sense, terms []Term) *Builder {
	if b.err != nil {
		return b
	}
	kept := compact(terms)
	if len(kept) == 0 {
		kept = []Term{T(0, b.zero())}
	}
	b.objective = &Objective{Type: sense, Expression: FormatExpression(kept)}
	return b
}

func (b *Builder) zero() string {
	if !b.hasZero {
		b.hasZero = true
		b.declare(Variable{Name: ZeroVariable, Kind: Continuous, LowerBound: Float(0), UpperBound: Float(0)})
	}
	return ZeroVariable
}

// Model validates and returns the built model.
func (b *Builder) Model() (*Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.objective == nil {
		return nil, errors.Validationf("model %q has no objective", b.name)
	}
	if len(b.variables) == 0 {
		b.zero()
	}
	m := &Model{
		Variables:   b.variables,
		Constraints: b.constraints,
		Objective:   *b.objective,
		Parameters:  copyParams(b.parameters),
		Metadata: Metadata{
			Name:        b.name,
			Description: b.description,
			CreatedAt:   time.Now().UTC(),
		},
	}
	if m.Constraints == nil {
		m.Constraints = []Constraint{}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func compact(terms []Term) []Term {
	out := make([]Term, 0, len(terms))
	for _, t := range terms {
		if t.Coefficient != 0 {
			out = append(out, t)
		}
	}
	return out
}

func holds(op Operator, rhs float64) bool {
	switch op {
	case OpLessEqual:
		return 0 <= rhs
	case OpGreaterEqual:
		return 0 >= rhs
	default:
		return rhs == 0
	}
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return Float(v)
}
