package model

// Status is the outcome taxonomy shared by every solving capability.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	StatusUnbounded  Status = "UNBOUNDED"
	StatusFailed     Status = "FAILED"
)

// HasSolution reports whether s carries usable variable values.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// SelectionThreshold is the fixed rounding convention for reading a boolean
// decision back from a numeric solver: a value above it means "selected".
const SelectionThreshold = 0.5

// Solution is the raw outcome of the linear/integer capability.
type Solution struct {
	Status         Status             `json:"status"`
	Values         map[string]float64 `json:"solution"`
	ObjectiveValue *float64           `json:"objective_value,omitempty"`
	SolveTime      float64            `json:"solve_time"`
	Iterations     int                `json:"iterations"`
}

// Value returns the value of name, 0 when absent.
func (s *Solution) Value(name string) float64 {
	if s == nil || s.Values == nil {
		return 0
	}
	return s.Values[name]
}

// Selected reports whether the boolean decision name is set.
func (s *Solution) Selected(name string) bool {
	return s.Value(name) > SelectionThreshold
}

// Objective returns the objective value, 0 when absent.
func (s *Solution) Objective() float64 {
	if s == nil || s.ObjectiveValue == nil {
		return 0
	}
	return *s.ObjectiveValue
}
