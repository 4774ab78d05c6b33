package model

import (
	"github.com/mitchellh/mapstructure"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// SolverParams are the tuning knobs a solving capability understands.  The
// rest of the parameter bag is kept in Extra and forwarded uninspected.
type SolverParams struct {
	TimeLimit float64        `mapstructure:"time_limit"`
	MaxNodes  int            `mapstructure:"max_nodes"`
	Tolerance float64        `mapstructure:"tolerance"`
	Presolve  *bool          `mapstructure:"presolve"`
	Extra     map[string]any `mapstructure:",remain"`
}

// DecodeParams reads SolverParams from an opaque parameter bag on top of
// defaults.  Numeric strings such as "30" are accepted.
func DecodeParams(bag map[string]any, defaults SolverParams) (SolverParams, error) {
	out := defaults
	if len(bag) == 0 {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return defaults, errors.Wrap(err, errors.CodeInternal, "create parameter decoder")
	}
	if err := dec.Decode(bag); err != nil {
		return defaults, errors.Validation("invalid solver parameters").WithCause(err)
	}
	if out.TimeLimit < 0 || out.MaxNodes < 0 || out.Tolerance < 0 {
		return defaults, errors.Validation("solver parameters must not be negative").
			WithDetailf("time_limit=%v max_nodes=%d tolerance=%v", out.TimeLimit, out.MaxNodes, out.Tolerance)
	}
	return out, nil
}
