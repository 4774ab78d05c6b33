package workforce

import (
	"fmt"
	"math"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// PreferredBreak is a slot an employee would like to rest in.
type PreferredBreak struct {
	EmployeeID int `json:"employee_id"`
	Time       int `json:"time" validate:"min=0"`
}

// BreakRequest places break slots for every employee over the horizon.
type BreakRequest struct {
	Employees   []common.Employee `json:"employees" validate:"required,min=1,dive"`
	Tasks       []common.Task     `json:"tasks,omitempty" validate:"dive"`
	TimeHorizon int               `json:"time_horizon" validate:"required,min=1"`
	Constraints BreakRules        `json:"constraints"`
}

// BreakRules shape when breaks may fall.
type BreakRules struct {
	BreakDuration       int              `json:"break_duration" validate:"min=0"`
	MinWorkBeforeBreak  int              `json:"min_work_before_break" validate:"min=0"`
	MaxWorkBeforeBreak  int              `json:"max_work_before_break" validate:"min=0"`
	PreferredBreakTimes []PreferredBreak `json:"preferred_break_times,omitempty" validate:"dive"`
}

func breakVar(e, t int) string { return fmt.Sprintf("x_%d_%d", e, t) }

// deviation is the precomputed distance from slot t to the employee's
// nearest preferred break, 0 without preferences.
func (r *BreakRequest) deviation(employeeID, t int) float64 {
	best := math.Inf(1)
	for _, p := range r.Constraints.PreferredBreakTimes {
		if p.EmployeeID == employeeID {
			best = math.Min(best, math.Abs(float64(t-p.Time)))
		}
	}
	if math.IsInf(best, 1) {
		return 0
	}
	return best
}

// BuildBreaks compiles r into a binary model over (employee, slot).
func BuildBreaks(r *BreakRequest) (*model.Model, error) {
	c := r.Constraints
	if c.BreakDuration > r.TimeHorizon {
		return nil, errors.Validationf("break_duration %d exceeds the %d-slot horizon", c.BreakDuration, r.TimeHorizon).
			WithDetail("field=constraints.break_duration")
	}
	b := model.NewBuilder("break_schedule").Describe("place breaks close to preferred times")
	var objective []model.Term
	for e, emp := range r.Employees {
		slots := make([]string, r.TimeHorizon)
		var early []string
		for t := range slots {
			slots[t] = b.Binary(breakVar(e, t))
			if t < c.MinWorkBeforeBreak {
				early = append(early, slots[t])
			}
			objective = append(objective, model.T(r.deviation(emp.ID, t), slots[t]))
		}
		b.Constrain(fmt.Sprintf("duration_%d", e), model.Sum(slots...), model.OpEqual, float64(c.BreakDuration))
		b.ForceZero(fmt.Sprintf("min_work_%d", e), early)
		if c.MaxWorkBeforeBreak > 0 {
			b.SlidingWindow(fmt.Sprintf("max_work_%d", e), model.Singletons(slots), c.MaxWorkBeforeBreak, 1, model.OpGreaterEqual)
		}
	}
	b.Minimize(objective)
	return b.Model()
}

// Break is one break slot.
type Break struct {
	EmployeeID int     `json:"employee_id"`
	Time       int     `json:"time"`
	Deviation  float64 `json:"deviation"`
}

// BreakSolution is the normalized break schedule.
type BreakSolution struct {
	Breaks         []Break `json:"breaks"`
	TotalDeviation float64 `json:"total_deviation"`
}

// NormalizeBreaks reads the chosen break slots, ordered by employee and time.
func NormalizeBreaks(r *BreakRequest, sol *model.Solution) *BreakSolution {
	out := &BreakSolution{Breaks: []Break{}}
	for e, emp := range r.Employees {
		for t := 0; t < r.TimeHorizon; t++ {
			if sol.Selected(breakVar(e, t)) {
				dev := r.deviation(emp.ID, t)
				out.Breaks = append(out.Breaks, Break{EmployeeID: emp.ID, Time: t, Deviation: dev})
				out.TotalDeviation += dev
			}
		}
	}
	sort.SliceStable(out.Breaks, func(i, j int) bool {
		if out.Breaks[i].EmployeeID != out.Breaks[j].EmployeeID {
			return out.Breaks[i].EmployeeID < out.Breaks[j].EmployeeID
		}
		return out.Breaks[i].Time < out.Breaks[j].Time
	})
	return out
}
