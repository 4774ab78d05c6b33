// Package construction compiles construction planning requests (crews,
// equipment, subcontractors, deliveries, portfolios, change orders and
// compliance windows) into canonical models, routing problems or simulations.
package construction

import (
	"fmt"
	"math"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// Crew is a work crew.
type Crew struct {
	ID           int          `json:"id" validate:"min=0"`
	Skills       []string     `json:"skills,omitempty"`
	Availability [][2]float64 `json:"availability,omitempty"`
}

// hours is the crew's total available time, +Inf without intervals.
func (c Crew) hours() float64 {
	if len(c.Availability) == 0 {
		return math.Inf(1)
	}
	var h float64
	for _, a := range c.Availability {
		h += math.Max(0, a[1]-a[0])
	}
	return h
}

// Site is a work site.
type Site struct {
	ID     int     `json:"id" validate:"min=0"`
	Name   string  `json:"name,omitempty"`
	Budget float64 `json:"budget,omitempty" validate:"min=0"`
}

// SiteTask is a task to be done at a site.
type SiteTask struct {
	ID             int      `json:"id" validate:"min=0"`
	SiteID         int      `json:"site_id"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	Duration       float64  `json:"duration" validate:"min=0"`
}

// CrewShift is a shift definition.
type CrewShift struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end" validate:"gtefield=Start"`
	BreakMinutes float64 `json:"break_minutes,omitempty" validate:"min=0"`
}

// UnionRule is a contractual limit.
type UnionRule struct {
	MaxWorkHoursPerDay float64 `json:"max_work_hours_per_day,omitempty" validate:"min=0"`
	MaxTasksPerCrew    int     `json:"max_tasks_per_crew,omitempty" validate:"min=0"`
}

// CrewAllocationRequest assigns crews to site tasks.
type CrewAllocationRequest struct {
	Crews      []Crew          `json:"crews" validate:"required,min=1,dive"`
	Sites      []Site          `json:"sites,omitempty" validate:"dive"`
	Tasks      []SiteTask      `json:"tasks" validate:"required,min=1,dive"`
	Shifts     []CrewShift     `json:"shifts,omitempty" validate:"dive"`
	UnionRules []UnionRule     `json:"union_rules,omitempty" validate:"dive"`
	Priorities map[int]float64 `json:"priorities,omitempty"`
}

// priority is the weight of a site, 1 when unset.
func (r *CrewAllocationRequest) priority(siteID int) float64 {
	if p, ok := r.Priorities[siteID]; ok {
		return p
	}
	return 1
}

// hourLimit is the tightest of the union daily limit, the crew's
// availability and the longest shift net of breaks.
func (r *CrewAllocationRequest) hourLimit(c Crew) float64 {
	limit := c.hours()
	for _, u := range r.UnionRules {
		if u.MaxWorkHoursPerDay > 0 {
			limit = math.Min(limit, u.MaxWorkHoursPerDay)
		}
	}
	if len(r.Shifts) > 0 {
		var longest float64
		for _, s := range r.Shifts {
			longest = math.Max(longest, s.End-s.Start-s.BreakMinutes/60)
		}
		limit = math.Min(limit, longest)
	}
	return limit
}

// taskLimit is the tightest union cap on tasks per crew, 0 when none.
func (r *CrewAllocationRequest) taskLimit() int {
	limit := 0
	for _, u := range r.UnionRules {
		if u.MaxTasksPerCrew > 0 && (limit == 0 || u.MaxTasksPerCrew < limit) {
			limit = u.MaxTasksPerCrew
		}
	}
	return limit
}

func crewVar(c, t int) string { return fmt.Sprintf("x_%d_%d", c, t) }

// BuildCrewAllocation compiles r into a binary model maximizing the
// priority-weighted number of covered tasks.
func BuildCrewAllocation(r *CrewAllocationRequest) (*model.Model, error) {
	b := model.NewBuilder("crew_allocation").Describe("cover site tasks with qualified crews")
	perTask := make([][]string, len(r.Tasks))
	maxTasks := r.taskLimit()
	var objective []model.Term
	for c, crew := range r.Crews {
		var hours []model.Term
		var jobs, unskilled []string
		for t, task := range r.Tasks {
			x := b.Binary(crewVar(c, t))
			perTask[t] = append(perTask[t], x)
			jobs = append(jobs, x)
			hours = append(hours, model.T(task.Duration, x))
			objective = append(objective, model.T(r.priority(task.SiteID), x))
			if !common.HasSkills(crew.Skills, task.RequiredSkills) {
				unskilled = append(unskilled, x)
			}
		}
		b.ForceZero(fmt.Sprintf("skill_%d", c), unskilled)
		if limit := r.hourLimit(crew); !math.IsInf(limit, 1) {
			b.CapacitySum(fmt.Sprintf("hours_%d", c), hours, limit)
		}
		if maxTasks > 0 {
			b.CapacitySum(fmt.Sprintf("max_tasks_%d", c), model.Sum(jobs...), float64(maxTasks))
		}
	}
	for t, vars := range perTask {
		b.AtMostOne(fmt.Sprintf("once_%d", t), vars)
	}
	b.Maximize(objective)
	return b.Model()
}

// CrewAssignment puts a crew on a site task.
type CrewAssignment struct {
	CrewID   int     `json:"crew_id"`
	TaskID   int     `json:"task_id"`
	SiteID   int     `json:"site_id"`
	Duration float64 `json:"duration"`
}

// CrewAllocationSolution is the normalized crew plan.
type CrewAllocationSolution struct {
	Assignments   []CrewAssignment `json:"assignments"`
	Unassigned    []int            `json:"unassigned"`
	TotalPriority float64          `json:"total_priority"`
}

// NormalizeCrewAllocation reads the covered tasks and lists the rest.
func NormalizeCrewAllocation(r *CrewAllocationRequest, sol *model.Solution) *CrewAllocationSolution {
	out := &CrewAllocationSolution{Assignments: []CrewAssignment{}, Unassigned: []int{}}
	for t, task := range r.Tasks {
		covered := false
		for c, crew := range r.Crews {
			if sol.Selected(crewVar(c, t)) {
				out.Assignments = append(out.Assignments, CrewAssignment{
					CrewID: crew.ID, TaskID: task.ID, SiteID: task.SiteID, Duration: task.Duration,
				})
				out.TotalPriority += r.priority(task.SiteID)
				covered = true
			}
		}
		if !covered {
			out.Unassigned = append(out.Unassigned, task.ID)
		}
	}
	return out
}
