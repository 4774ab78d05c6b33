package workforce

import (
	"fmt"
	"math"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// DefaultShiftHours is the length of a shift that does not state one.
const DefaultShiftHours = 8.0

// Shift is a staffed period.  Time is the start slot.
type Shift struct {
	ID             int      `json:"id" validate:"min=0"`
	Type           string   `json:"type"`
	Time           int      `json:"time" validate:"min=0"`
	Duration       float64  `json:"duration,omitempty" validate:"min=0"`
	RequiredSkills []string `json:"required_skills,omitempty"`
}

// Hours returns the shift length.
func (s Shift) Hours() float64 {
	if s.Duration > 0 {
		return s.Duration
	}
	return DefaultShiftHours
}

// requiredSkills merges the shift's own skills with the per-type rule.
func requiredSkills(s Shift, byType map[string][]string) []string {
	return append(append([]string(nil), s.RequiredSkills...), byType[s.Type]...)
}

func checkShifts(shifts []Shift, horizon int) error {
	for i, s := range shifts {
		if s.Time >= horizon {
			return errors.Validationf("shift %d starts at %d, outside the %d-slot horizon", s.ID, s.Time, horizon).
				WithDetailf("field=shifts[%d].time", i)
		}
	}
	return nil
}

func shiftVar(e, s int) string { return fmt.Sprintf("x_%d_%d", e, s) }

// ShiftCoverageRequest staffs shifts subject to per-type minimums, a cap on
// consecutive shifts and a minimum rest between shifts.
type ShiftCoverageRequest struct {
	Employees   []common.Employee `json:"employees" validate:"required,min=1,dive"`
	Shifts      []Shift           `json:"shifts" validate:"required,min=1,dive"`
	TimeHorizon int               `json:"time_horizon" validate:"required,min=1"`
	Constraints CoverageRules     `json:"constraints"`
}

// CoverageRules are the shift coverage rules.  Slots are shift time units.
type CoverageRules struct {
	MinEmployeesPerShift map[string]int      `json:"min_employees_per_shift,omitempty"`
	MaxConsecutiveShifts int                 `json:"max_consecutive_shifts,omitempty" validate:"min=0"`
	MinRestBetweenShifts int                 `json:"min_rest_between_shifts,omitempty" validate:"min=0"`
	SkillRequirements    map[string][]string `json:"skill_requirements,omitempty"`
}

// BuildShiftCoverage compiles r into a binary model maximizing staffed
// employee-shifts.
func BuildShiftCoverage(r *ShiftCoverageRequest) (*model.Model, error) {
	if err := checkShifts(r.Shifts, r.TimeHorizon); err != nil {
		return nil, err
	}
	c := r.Constraints
	b := model.NewBuilder("shift_coverage").Describe("staff shifts to meet per-type minimums")
	perShift := make([][]string, len(r.Shifts))
	var objective []model.Term
	for e, emp := range r.Employees {
		slots := make([][]string, r.TimeHorizon)
		var unskilled []string
		for s, shift := range r.Shifts {
			x := b.Binary(shiftVar(e, s))
			perShift[s] = append(perShift[s], x)
			slots[shift.Time] = append(slots[shift.Time], x)
			objective = append(objective, model.T(1, x))
			if !common.HasSkills(emp.Skills, requiredSkills(shift, c.SkillRequirements)) {
				unskilled = append(unskilled, x)
			}
		}
		b.ForceZero(fmt.Sprintf("skill_%d", e), unskilled)
		if k := c.MaxConsecutiveShifts; k > 0 {
			b.SlidingWindow(fmt.Sprintf("consecutive_%d", e), slots, k+1, float64(k), model.OpLessEqual)
		}
		rest := c.MinRestBetweenShifts
		if rest < 1 {
			rest = 1
		}
		b.SlidingWindow(fmt.Sprintf("rest_%d", e), slots, rest, 1, model.OpLessEqual)
	}
	for s, shift := range r.Shifts {
		b.AtLeast(fmt.Sprintf("min_staff_%d", s), perShift[s], float64(c.MinEmployeesPerShift[shift.Type]))
	}
	b.Maximize(objective)
	return b.Model()
}

// ShiftAssignment puts an employee on a shift.
type ShiftAssignment struct {
	EmployeeID int     `json:"employee_id"`
	ShiftID    int     `json:"shift_id"`
	Cost       float64 `json:"cost,omitempty"`
}

// ShiftCoverageSolution is the normalized shift coverage.
type ShiftCoverageSolution struct {
	Assignments   []ShiftAssignment `json:"assignments"`
	TotalCoverage int               `json:"total_coverage"`
}

// NormalizeShiftCoverage reads the staffed shifts.
func NormalizeShiftCoverage(r *ShiftCoverageRequest, sol *model.Solution) *ShiftCoverageSolution {
	out := &ShiftCoverageSolution{Assignments: []ShiftAssignment{}}
	for e, emp := range r.Employees {
		for s, shift := range r.Shifts {
			if sol.Selected(shiftVar(e, s)) {
				out.Assignments = append(out.Assignments, ShiftAssignment{EmployeeID: emp.ID, ShiftID: shift.ID})
			}
		}
	}
	out.TotalCoverage = len(out.Assignments)
	return out
}

// Labor scheduling objectives.
const (
	MinimizeCost     = "minimize_cost"
	MaximizeCoverage = "maximize_coverage"
)

// LaborSchedulingRequest staffs hour-based shifts with rest and
// consecutive-hour limits.
type LaborSchedulingRequest struct {
	Employees   []common.Employee `json:"employees" validate:"required,min=1,dive"`
	Shifts      []Shift           `json:"shifts" validate:"required,min=1,dive"`
	TimeHorizon int               `json:"time_horizon" validate:"required,min=1"`
	Constraints LaborRules        `json:"constraints"`
	Objective   string            `json:"objective,omitempty" validate:"omitempty,oneof=minimize_cost maximize_coverage"`
}

// LaborRules are the labour scheduling rules.  Times are in hours.
type LaborRules struct {
	MinRestHours         float64             `json:"min_rest_hours,omitempty" validate:"min=0"`
	MaxConsecutiveHours  float64             `json:"max_consecutive_hours,omitempty" validate:"min=0"`
	SkillRequirements    map[string][]string `json:"skill_requirements,omitempty"`
	CoverageRequirements map[string]int      `json:"coverage_requirements,omitempty"`
}

// ApplyDefaults fills the objective.
func (r *LaborSchedulingRequest) ApplyDefaults() {
	if r.Objective == "" {
		r.Objective = MinimizeCost
	}
}

// overlap returns the hours shift s works inside [from, to).
func overlap(s Shift, from, to float64) float64 {
	start := float64(s.Time)
	return math.Max(0, math.Min(start+s.Hours(), to)-math.Max(start, from))
}

// BuildLaborScheduling compiles r into a binary model.  Two shifts that start
// closer than the first one's length plus the rest period are exclusive per
// employee, and any window of max_consecutive_hours plus min_rest_hours (at
// least one hour) holds at most max_consecutive_hours of work.
func BuildLaborScheduling(r *LaborSchedulingRequest) (*model.Model, error) {
	if err := checkShifts(r.Shifts, r.TimeHorizon); err != nil {
		return nil, err
	}
	c := r.Constraints
	b := model.NewBuilder("labor_scheduling").Describe("staff shifts under rest and consecutive-hour rules")

	order := make([]int, len(r.Shifts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return r.Shifts[order[i]].Time < r.Shifts[order[j]].Time })

	perShift := make([][]string, len(r.Shifts))
	var cost, count []model.Term
	for e, emp := range r.Employees {
		var hours []model.Term
		var unskilled []string
		for s, shift := range r.Shifts {
			x := b.Binary(shiftVar(e, s))
			perShift[s] = append(perShift[s], x)
			hours = append(hours, model.T(shift.Hours(), x))
			cost = append(cost, model.T(emp.HourlyRate*shift.Hours(), x))
			count = append(count, model.T(1, x))
			if !common.HasSkills(emp.Skills, requiredSkills(shift, c.SkillRequirements)) {
				unskilled = append(unskilled, x)
			}
		}
		b.ForceZero(fmt.Sprintf("skill_%d", e), unskilled)
		if emp.MaxHours > 0 {
			b.CapacitySum(fmt.Sprintf("hours_%d", e), hours, emp.MaxHours)
		}

		for i, si := range order {
			first := r.Shifts[si]
			for _, sj := range order[i+1:] {
				second := r.Shifts[sj]
				if float64(second.Time) < float64(first.Time)+first.Hours()+c.MinRestHours {
					b.AtMostOne(fmt.Sprintf("rest_%d_%d_%d", e, si, sj), []string{shiftVar(e, si), shiftVar(e, sj)})
				}
			}
		}

		if c.MaxConsecutiveHours > 0 {
			window := c.MaxConsecutiveHours + math.Max(c.MinRestHours, 1)
			last := math.Max(0, float64(r.TimeHorizon)-window)
			for from := 0.0; from <= last; from++ {
				var worked []model.Term
				for s, shift := range r.Shifts {
					if h := overlap(shift, from, from+window); h > 0 {
						worked = append(worked, model.T(h, shiftVar(e, s)))
					}
				}
				b.CapacitySum(fmt.Sprintf("consecutive_%d_%d", e, int(from)), worked, c.MaxConsecutiveHours)
			}
		}
	}
	for s, shift := range r.Shifts {
		b.AtLeast(fmt.Sprintf("coverage_%d", s), perShift[s], float64(c.CoverageRequirements[shift.Type]))
	}
	if r.Objective == MaximizeCoverage {
		b.Maximize(count)
	} else {
		b.Minimize(cost)
	}
	return b.Model()
}

// LaborSchedulingSolution is the normalized labour schedule.
type LaborSchedulingSolution struct {
	Assignments []ShiftAssignment `json:"assignments"`
	TotalCost   float64           `json:"total_cost"`
	Coverage    map[int]int       `json:"coverage"`
}

// NormalizeLaborScheduling reads the staffed shifts with their cost and the
// head count of every shift.
func NormalizeLaborScheduling(r *LaborSchedulingRequest, sol *model.Solution) *LaborSchedulingSolution {
	out := &LaborSchedulingSolution{Assignments: []ShiftAssignment{}, Coverage: make(map[int]int, len(r.Shifts))}
	for _, shift := range r.Shifts {
		out.Coverage[shift.ID] = 0
	}
	for e, emp := range r.Employees {
		for s, shift := range r.Shifts {
			if !sol.Selected(shiftVar(e, s)) {
				continue
			}
			cost := emp.HourlyRate * shift.Hours()
			out.Assignments = append(out.Assignments, ShiftAssignment{EmployeeID: emp.ID, ShiftID: shift.ID, Cost: cost})
			out.TotalCost += cost
			out.Coverage[shift.ID]++
		}
	}
	return out
}
