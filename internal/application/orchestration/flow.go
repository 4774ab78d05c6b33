// Package orchestration maps problem-type keys to domain flows and runs
// them: build a canonical model or routing problem, hand it to a solving
// capability, and normalize the answer back into domain terms.
package orchestration

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Family groups flows for discovery.
type Family string

const (
	FamilyGeneric      Family = "generic"
	FamilyFleet        Family = "fleet"
	FamilyWorkforce    Family = "workforce"
	FamilyOperations   Family = "operations"
	FamilyConstruction Family = "construction"
	FamilyRisk         Family = "risk"
)

// Kind tells whether a flow goes through the canonical model.
type Kind int

const (
	// KindModel flows build a Model, solve it with the linear capability and
	// normalize the raw solution.  They can be stored and re-run.
	KindModel Kind = iota
	// KindDirect flows call the routing capability or run a simulation.
	KindDirect
)

func (k Kind) String() string {
	if k == KindDirect {
		return "direct"
	}
	return "model"
}

// Outcome is what a direct flow returns.
type Outcome struct {
	Status   model.Status
	Solution any
}

// Flow is one registered problem type.
type Flow struct {
	Key         string
	Path        string
	Description string
	Family      Family
	Kind        Kind

	// Request is a zero value of the request type, used for schemas.
	Request any

	build     func(raw json.RawMessage) (*model.Model, error)
	normalize func(raw json.RawMessage, sol *model.Solution) (any, error)
	direct    func(ctx context.Context, router routing.Capability, raw json.RawMessage) (*Outcome, error)
}

// Generic reports whether f is the bare lp/mip path.
func (f *Flow) Generic() bool { return f.Family == FamilyGeneric }

// defaulter is implemented by requests with optional fields to fill.
type defaulter interface {
	ApplyDefaults()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// decodeRequest unmarshals raw into a fresh Req, validates it and applies
// its defaults.
func decodeRequest[Req any](raw json.RawMessage) (*Req, error) {
	req := new(Req)
	if len(raw) == 0 {
		return nil, errors.Validation("request body is empty")
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, errors.Validation("malformed request").WithCause(err).WithDetail(err.Error())
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if d, ok := any(req).(defaulter); ok {
		d.ApplyDefaults()
	}
	return req, nil
}

// validateStruct maps the first validator failure to a ValidationError that
// names the offending field by its JSON path.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.Validation("invalid request").WithCause(err)
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	msg := "field " + field + " failed " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return errors.Validation(msg).WithDetail("field=" + field)
}

// ModelFlow registers a request type whose answer comes from the linear
// capability.  build compiles the request; normalize reads the solution back.
func ModelFlow[Req, Sol any](key, path string, family Family, description string,
	build func(*Req) (*model.Model, error),
	normalize func(*Req, *model.Solution) Sol,
) Flow {
	return Flow{
		Key:         key,
		Path:        path,
		Description: description,
		Family:      family,
		Kind:        KindModel,
		Request:     new(Req),
		build: func(raw json.RawMessage) (*model.Model, error) {
			req, err := decodeRequest[Req](raw)
			if err != nil {
				return nil, err
			}
			m, err := build(req)
			if err != nil {
				return nil, err
			}
			canonical, err := json.Marshal(req)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode request")
			}
			m.Metadata.ProblemType = key
			m.Metadata.Request = canonical
			return m, nil
		},
		normalize: func(raw json.RawMessage, sol *model.Solution) (any, error) {
			req := new(Req)
			if err := json.Unmarshal(raw, req); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode stored request")
			}
			return normalize(req, sol), nil
		},
	}
}

// DirectFlow registers a request type answered without the canonical model.
func DirectFlow[Req, Sol any](key, path string, family Family, description string,
	run func(ctx context.Context, router routing.Capability, r *Req) (Sol, model.Status, error),
) Flow {
	return Flow{
		Key:         key,
		Path:        path,
		Description: description,
		Family:      family,
		Kind:        KindDirect,
		Request:     new(Req),
		direct: func(ctx context.Context, router routing.Capability, raw json.RawMessage) (*Outcome, error) {
			req, err := decodeRequest[Req](raw)
			if err != nil {
				return nil, err
			}
			sol, status, err := run(ctx, router, req)
			if err != nil {
				return nil, err
			}
			out := &Outcome{Status: status}
			if status.HasSolution() {
				out.Solution = sol
			}
			return out, nil
		},
	}
}

// Routed adapts a routing builder and normalizer into a DirectFlow body.
func Routed[Req, Sol any](build func(*Req) (*routing.Problem, error), normalize func(*Req, *routing.Plan) Sol) func(context.Context, routing.Capability, *Req) (Sol, model.Status, error) {
	return func(ctx context.Context, router routing.Capability, r *Req) (Sol, model.Status, error) {
		var zero Sol
		p, err := build(r)
		if err != nil {
			return zero, "", err
		}
		if router == nil {
			return zero, "", errors.CapabilityFailure("no routing capability configured")
		}
		plan, err := router.Route(ctx, p)
		if err != nil {
			return zero, "", errors.Wrap(err, errors.CodeCapabilityFailure, "routing capability")
		}
		if !plan.Status.HasSolution() {
			return zero, plan.Status, nil
		}
		return normalize(r, plan), plan.Status, nil
	}
}

// Simulated adapts an in-process computation into a DirectFlow body.  A
// completed run reports OPTIMAL.
func Simulated[Req, Sol any](run func(context.Context, *Req) (Sol, error)) func(context.Context, routing.Capability, *Req) (Sol, model.Status, error) {
	return func(ctx context.Context, _ routing.Capability, r *Req) (Sol, model.Status, error) {
		sol, err := run(ctx, r)
		if err != nil {
			var zero Sol
			return zero, "", err
		}
		return sol, model.StatusOptimal, nil
	}
}
