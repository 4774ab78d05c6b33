// Package model defines the canonical optimization model shared by every
// generic and domain problem type: typed decision variables, linear
// constraints, a linear objective, and the textual expression grammar used to
// write them.  It also hosts the programmatic Builder and the reusable
// constraint primitives the domain packages compose.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Enumerations
// ─────────────────────────────────────────────────────────────────────────────

// VariableKind is the domain of a decision variable.
type VariableKind string

const (
	Continuous VariableKind = "continuous"
	Integer    VariableKind = "integer"
	Binary     VariableKind = "binary"
)

// IsValid reports whether k is a known kind.
func (k VariableKind) IsValid() bool {
	switch k {
	case Continuous, Integer, Binary:
		return true
	}
	return false
}

// Operator is a constraint relation.
type Operator string

const (
	OpLessEqual    Operator = "<="
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "="
)

// IsValid reports whether op is a known relation.
func (op Operator) IsValid() bool {
	switch op {
	case OpLessEqual, OpGreaterEqual, OpEqual:
		return true
	}
	return false
}

// Sense is the objective direction.
type Sense string

const (
	Minimize Sense = "minimize"
	Maximize Sense = "maximize"
)

// DefaultModelName is used when a definition carries no name.
const DefaultModelName = "Unnamed Model"

// ─────────────────────────────────────────────────────────────────────────────
// Model types
// ─────────────────────────────────────────────────────────────────────────────

// Variable is a typed decision variable.  A nil bound is open on that side.
type Variable struct {
	Name       string       `json:"name" yaml:"name"`
	Kind       VariableKind `json:"type" yaml:"type"`
	LowerBound *float64     `json:"lower_bound,omitempty" yaml:"lower_bound,omitempty"`
	UpperBound *float64     `json:"upper_bound,omitempty" yaml:"upper_bound,omitempty"`
}

// Constraint is either expression form (Operator + RHS) or bound form
// (LowerBound and/or UpperBound) over Expression.
type Constraint struct {
	Name       string   `json:"name" yaml:"name"`
	Expression string   `json:"expression" yaml:"expression"`
	Operator   Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	RHS        *float64 `json:"rhs,omitempty" yaml:"rhs,omitempty"`
	LowerBound *float64 `json:"lower_bound,omitempty" yaml:"lower_bound,omitempty"`
	UpperBound *float64 `json:"upper_bound,omitempty" yaml:"upper_bound,omitempty"`
}

// IsBoundForm reports whether c uses the bound form.
func (c Constraint) IsBoundForm() bool {
	return c.Operator == "" && c.RHS == nil && (c.LowerBound != nil || c.UpperBound != nil)
}

// Objective is the linear function to optimize.
type Objective struct {
	Type       Sense  `json:"type" yaml:"type"`
	Expression string `json:"expression" yaml:"expression"`
}

// Metadata describes a built model.  ProblemType and Request are set when a
// domain builder produced the model so that a later run can normalize its
// result in domain terms.
type Metadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	ProblemType string          `json:"problem_type,omitempty"`
	Request     json.RawMessage `json:"request,omitempty"`
}

// Model is an immutable, validated optimization model.  Only Parameters may
// change, and only through WithParameters which returns a copy.
type Model struct {
	Variables   []Variable     `json:"variables"`
	Constraints []Constraint   `json:"constraints"`
	Objective   Objective      `json:"objective"`
	Parameters  map[string]any `json:"parameters"`
	Metadata    Metadata       `json:"metadata"`
}

// Definition is the generic build request.  Nil Variables/Constraints or a
// nil Objective mean the key was absent.
type Definition struct {
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Variables   []Variable     `json:"variables" yaml:"variables"`
	Constraints []Constraint   `json:"constraints" yaml:"constraints"`
	Objective   *Objective     `json:"objective" yaml:"objective"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Build
// ─────────────────────────────────────────────────────────────────────────────

// Build validates def and returns the canonical Model.  Every expression is
// resolved against the declared variables here, so a model that builds never
// fails later on an unknown reference.
func Build(def Definition) (*Model, error) {
	switch {
	case def.Variables == nil:
		return nil, errors.Validation("missing required model component").WithDetail("field=variables")
	case def.Constraints == nil:
		return nil, errors.Validation("missing required model component").WithDetail("field=constraints")
	case def.Objective == nil:
		return nil, errors.Validation("missing required model component").WithDetail("field=objective")
	}
	if len(def.Variables) == 0 {
		return nil, errors.Validation("model declares no variables").WithDetail("field=variables")
	}

	m := &Model{
		Variables:   make([]Variable, 0, len(def.Variables)),
		Constraints: make([]Constraint, 0, len(def.Constraints)),
		Objective:   *def.Objective,
		Parameters:  copyParams(def.Parameters),
		Metadata: Metadata{
			Name:        def.Name,
			Description: def.Description,
			CreatedAt:   time.Now().UTC(),
		},
	}
	if m.Metadata.Name == "" {
		m.Metadata.Name = DefaultModelName
	}

	for i, v := range def.Variables {
		nv, err := normalizeVariable(v)
		if err != nil {
			return nil, err.WithDetailf("field=variables[%d]", i)
		}
		m.Variables = append(m.Variables, nv)
	}

	for i, c := range def.Constraints {
		nc, err := normalizeConstraint(c)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("constraint %d (%s)", i, c.Name))
		}
		m.Constraints = append(m.Constraints, nc)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func normalizeVariable(v Variable) (Variable, *errors.AppError) {
	if !IsIdentifier(v.Name) {
		return v, errors.Validationf("invalid variable name %q", v.Name)
	}
	if v.Kind == "" {
		v.Kind = Continuous
	}
	if !v.Kind.IsValid() {
		return v, errors.Validationf("variable %q has invalid type %q", v.Name, v.Kind)
	}
	if v.Kind == Binary {
		v.LowerBound, v.UpperBound = Float(0), Float(1)
	}
	if v.LowerBound != nil && v.UpperBound != nil && *v.LowerBound > *v.UpperBound {
		return v, errors.Validationf("variable %q has lower_bound %v > upper_bound %v", v.Name, *v.LowerBound, *v.UpperBound)
	}
	return v, nil
}

// normalizeConstraint splits inline relational text into expression form.
func normalizeConstraint(c Constraint) (Constraint, error) {
	if c.Operator == "" && c.RHS == nil && c.LowerBound == nil && c.UpperBound == nil && HasRelation(c.Expression) {
		expr, op, rhs, err := ParseRelation(c.Expression)
		if err != nil {
			return c, err
		}
		c.Expression, c.Operator, c.RHS = expr, op, Float(rhs)
	}
	if c.Operator == "==" {
		c.Operator = OpEqual
	}
	return c, nil
}

// Validate checks structural invariants and resolves every expression.
func (m *Model) Validate() error {
	known := make(map[string]struct{}, len(m.Variables))
	for _, v := range m.Variables {
		if _, dup := known[v.Name]; dup {
			return errors.Validationf("duplicate variable name %q", v.Name)
		}
		known[v.Name] = struct{}{}
	}
	isKnown := func(name string) bool {
		_, ok := known[name]
		return ok
	}

	for _, c := range m.Constraints {
		exprForm := c.Operator != "" || c.RHS != nil
		boundForm := c.LowerBound != nil || c.UpperBound != nil
		switch {
		case exprForm && boundForm:
			return errors.Validationf("constraint %q mixes operator/rhs with bounds", c.Name)
		case !exprForm && !boundForm:
			return errors.Validationf("constraint %q has neither operator/rhs nor bounds", c.Name)
		case exprForm && (c.RHS == nil || !c.Operator.IsValid()):
			return errors.Validationf("constraint %q needs a valid operator and rhs", c.Name).
				WithDetailf("operator=%q", c.Operator)
		case boundForm && c.LowerBound != nil && c.UpperBound != nil && *c.LowerBound > *c.UpperBound:
			return errors.Validationf("constraint %q has lower_bound > upper_bound", c.Name)
		}
		if _, err := ParseExpressionIn(c.Expression, isKnown); err != nil {
			return errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("constraint %q", c.Name))
		}
	}

	switch m.Objective.Type {
	case Minimize, Maximize:
	default:
		return errors.Validationf("objective type %q is invalid; expected minimize|maximize", m.Objective.Type).
			WithDetail("field=objective.type")
	}
	if _, err := ParseExpressionIn(m.Objective.Expression, isKnown); err != nil {
		return errors.Wrap(err, errors.CodeUnknown, "objective")
	}
	return nil
}

// HasIntegrality reports whether any variable is integer or binary.
func (m *Model) HasIntegrality() bool {
	for _, v := range m.Variables {
		if v.Kind == Integer || v.Kind == Binary {
			return true
		}
	}
	return false
}

// WithParameters returns a copy of m whose parameters are m's merged with
// overrides; keys in overrides win.
func (m *Model) WithParameters(overrides map[string]any) *Model {
	clone := m.Clone()
	if clone.Parameters == nil {
		clone.Parameters = make(map[string]any, len(overrides))
	}
	for k, v := range overrides {
		clone.Parameters[k] = v
	}
	return clone
}

// Clone returns a deep copy of m.  Parameter values are treated as opaque and
// copied by reference.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	out := &Model{
		Variables:   make([]Variable, len(m.Variables)),
		Constraints: make([]Constraint, len(m.Constraints)),
		Objective:   m.Objective,
		Parameters:  copyParams(m.Parameters),
		Metadata:    m.Metadata,
	}
	for i, v := range m.Variables {
		v.LowerBound = copyFloat(v.LowerBound)
		v.UpperBound = copyFloat(v.UpperBound)
		out.Variables[i] = v
	}
	for i, c := range m.Constraints {
		c.RHS = copyFloat(c.RHS)
		c.LowerBound = copyFloat(c.LowerBound)
		c.UpperBound = copyFloat(c.UpperBound)
		out.Constraints[i] = c
	}
	if m.Metadata.Request != nil {
		out.Metadata.Request = append(json.RawMessage(nil), m.Metadata.Request...)
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
