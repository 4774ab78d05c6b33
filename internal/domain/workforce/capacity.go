package workforce

import (
	"fmt"
	"math"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// CapacityRequest decides how many people to hire per skill so that the
// existing staff plus new hires meet forecast demand.
type CapacityRequest struct {
	Employees      []common.Employee `json:"employees,omitempty" validate:"dive"`
	DemandForecast []float64         `json:"demand_forecast" validate:"required,min=1,dive,min=0"`
	TimeHorizon    int               `json:"time_horizon,omitempty" validate:"min=0"`
	Constraints    CapacityRules     `json:"constraints"`
}

// CapacityRules lists the hireable skills and their costs.
type CapacityRules struct {
	MinCoverage         map[string]int      `json:"min_coverage,omitempty"`
	MaxHoursPerEmployee float64             `json:"max_hours_per_employee,omitempty" validate:"min=0"`
	SkillRequirements   map[string][]string `json:"skill_requirements,omitempty"`
	HiringCosts         map[string]float64  `json:"hiring_costs,omitempty"`
}

// skills is the sorted set of hireable skills.
func (r *CapacityRequest) skills() []string {
	set := make(map[string]struct{})
	for s := range r.Constraints.SkillRequirements {
		set[s] = struct{}{}
	}
	for s := range r.Constraints.HiringCosts {
		set[s] = struct{}{}
	}
	for s := range r.Constraints.MinCoverage {
		set[s] = struct{}{}
	}
	return sortedKeys(set)
}

func hireVar(i int) string { return fmt.Sprintf("h_%d", i) }

// BuildCapacity compiles r into an integer hiring model.
func BuildCapacity(r *CapacityRequest) (*model.Model, error) {
	skills := r.skills()
	if len(skills) == 0 {
		return nil, errors.Validation("at least one hireable skill is required").
			WithDetail("field=constraints.skill_requirements")
	}
	c := r.Constraints
	existing := float64(len(r.Employees))

	b := model.NewBuilder("workforce_capacity").Describe("size hiring per skill against demand")
	hires := make([]string, len(skills))
	costs := make([]float64, len(skills))
	for i, s := range skills {
		hires[i] = b.Integer(hireVar(i), 0, math.Inf(1))
		costs[i] = c.HiringCosts[s]
	}

	var total float64
	for t, demand := range r.DemandForecast {
		total += demand
		b.CoverSum(fmt.Sprintf("demand_%d", t), model.Sum(hires...), demand-existing)
	}
	if c.MaxHoursPerEmployee > 0 {
		var have float64
		for _, e := range r.Employees {
			if e.MaxHours > 0 {
				have += e.MaxHours
			} else {
				have += c.MaxHoursPerEmployee
			}
		}
		b.CoverSum("hours", model.Scale(model.Sum(hires...), c.MaxHoursPerEmployee), total-have)
	}
	for i, s := range skills {
		need, ok := c.MinCoverage[s]
		if !ok {
			continue
		}
		var skilled float64
		for _, e := range r.Employees {
			if common.HasSkill(e.Skills, s) {
				skilled++
			}
		}
		b.CoverSum("coverage_"+identifier(s), model.Sum(hires[i]), float64(need)-skilled)
	}
	b.Minimize(model.Weighted(hires, costs))
	return b.Model()
}

// CapacitySolution is the normalized hiring plan.
type CapacitySolution struct {
	Hiring    map[string]int `json:"hiring"`
	TotalCost float64        `json:"total_cost"`
}

// NormalizeCapacity reads the hire count of every skill.
func NormalizeCapacity(r *CapacityRequest, sol *model.Solution) *CapacitySolution {
	out := &CapacitySolution{Hiring: map[string]int{}}
	for i, s := range r.skills() {
		n := int(math.Round(sol.Value(hireVar(i))))
		out.Hiring[s] = n
		out.TotalCost += float64(n) * r.Constraints.HiringCosts[s]
	}
	return out
}
