package workforce

import (
	"fmt"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

func pairVar(e, t int) string { return fmt.Sprintf("x_%d_%d", e, t) }

// Preference marks an employee-task pairing worth Bonus extra priority.
type Preference struct {
	EmployeeID int     `json:"employee_id"`
	TaskID     int     `json:"task_id"`
	Bonus      float64 `json:"bonus,omitempty" validate:"min=0"`
}

// TaskAssignmentRequest gives every task to exactly one qualified employee.
type TaskAssignmentRequest struct {
	Employees   []common.Employee   `json:"employees" validate:"required,min=1,dive"`
	Tasks       []common.Task       `json:"tasks" validate:"required,min=1,dive"`
	TimeHorizon int                 `json:"time_horizon,omitempty" validate:"min=0"`
	Constraints TaskAssignmentRules `json:"constraints"`
}

// TaskAssignmentRules are the optional assignment rules.
type TaskAssignmentRules struct {
	MaxTasksPerEmployee  int          `json:"max_tasks_per_employee,omitempty" validate:"min=0"`
	PreferredAssignments []Preference `json:"preferred_assignments,omitempty" validate:"dive"`
}

// bonus returns the preference bonus of a pairing.  A preference without an
// explicit bonus is worth 1.
func (r *TaskAssignmentRequest) bonus(employeeID, taskID int) float64 {
	var total float64
	for _, p := range r.Constraints.PreferredAssignments {
		if p.EmployeeID == employeeID && p.TaskID == taskID {
			if p.Bonus == 0 {
				total++
			} else {
				total += p.Bonus
			}
		}
	}
	return total
}

// BuildTaskAssignment compiles r into a binary assignment model maximizing
// priority plus preference bonus.
func BuildTaskAssignment(r *TaskAssignmentRequest) (*model.Model, error) {
	b := model.NewBuilder("task_assignment").Describe("assign tasks to qualified employees")
	perTask := make([][]string, len(r.Tasks))
	var objective []model.Term
	for e, emp := range r.Employees {
		var load, unskilled []string
		for t, task := range r.Tasks {
			x := b.Binary(pairVar(e, t))
			perTask[t] = append(perTask[t], x)
			load = append(load, x)
			if !common.HasSkills(emp.Skills, task.RequiredSkills) {
				unskilled = append(unskilled, x)
			}
			objective = append(objective, model.T(float64(task.Priority)+r.bonus(emp.ID, task.ID), x))
		}
		if r.Constraints.MaxTasksPerEmployee > 0 {
			b.CapacitySum(fmt.Sprintf("max_tasks_%d", e), model.Sum(load...), float64(r.Constraints.MaxTasksPerEmployee))
		}
		b.ForceZero(fmt.Sprintf("skill_%d", e), unskilled)
	}
	for t, vars := range perTask {
		b.ExactlyOne(fmt.Sprintf("once_%d", t), vars)
	}
	b.Maximize(objective)
	return b.Model()
}

// Assignment pairs an employee with a task.
type Assignment struct {
	EmployeeID int     `json:"employee_id"`
	TaskID     int     `json:"task_id"`
	Priority   int     `json:"priority,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
}

// TaskAssignmentSolution is the normalized task assignment.
type TaskAssignmentSolution struct {
	Assignments   []Assignment `json:"assignments"`
	TotalPriority float64      `json:"total_priority"`
}

// NormalizeTaskAssignment reads the selected pairs back by id.
func NormalizeTaskAssignment(r *TaskAssignmentRequest, sol *model.Solution) *TaskAssignmentSolution {
	out := &TaskAssignmentSolution{Assignments: []Assignment{}}
	for e, emp := range r.Employees {
		for t, task := range r.Tasks {
			if sol.Selected(pairVar(e, t)) {
				out.Assignments = append(out.Assignments, Assignment{EmployeeID: emp.ID, TaskID: task.ID, Priority: task.Priority})
				out.TotalPriority += float64(task.Priority) + r.bonus(emp.ID, task.ID)
			}
		}
	}
	return out
}

// LaborCostRequest completes as many tasks as the budget, skill coverage and
// overtime allowance permit.
type LaborCostRequest struct {
	Employees      []common.Employee  `json:"employees" validate:"required,min=1,dive"`
	Tasks          []common.Task      `json:"tasks" validate:"required,min=1,dive"`
	TimeHorizon    int                `json:"time_horizon,omitempty" validate:"min=0"`
	CostParameters map[string]float64 `json:"cost_parameters,omitempty"`
	Constraints    LaborCostRules     `json:"constraints"`
}

// LaborCostRules bound spend, per-skill coverage and overtime.
type LaborCostRules struct {
	Budget      *float64       `json:"budget,omitempty" validate:"omitempty,min=0"`
	MinCoverage map[string]int `json:"min_coverage,omitempty"`
	MaxOvertime float64        `json:"max_overtime,omitempty" validate:"min=0"`
}

// rate returns the hourly rate of emp, scaled by the optional
// "rate_multiplier" cost parameter.
func (r *LaborCostRequest) rate(emp common.Employee) float64 {
	if m, ok := r.CostParameters["rate_multiplier"]; ok && m > 0 {
		return emp.HourlyRate * m
	}
	return emp.HourlyRate
}

// BuildLaborCost compiles r into a binary model that maximizes the number of
// completed tasks.  A task is done by at most one employee.
func BuildLaborCost(r *LaborCostRequest) (*model.Model, error) {
	b := model.NewBuilder("labor_cost").Describe("maximize completed tasks within budget")
	perTask := make([][]string, len(r.Tasks))
	var spend, objective []model.Term
	for e, emp := range r.Employees {
		var hours []model.Term
		var unskilled []string
		for t, task := range r.Tasks {
			x := b.Binary(pairVar(e, t))
			perTask[t] = append(perTask[t], x)
			hours = append(hours, model.T(task.Duration, x))
			spend = append(spend, model.T(r.rate(emp)*task.Duration, x))
			objective = append(objective, model.T(1, x))
			if !common.HasSkills(emp.Skills, task.RequiredSkills) {
				unskilled = append(unskilled, x)
			}
		}
		b.ForceZero(fmt.Sprintf("skill_%d", e), unskilled)
		if emp.MaxHours > 0 {
			b.CapacitySum(fmt.Sprintf("hours_%d", e), hours, emp.MaxHours+r.Constraints.MaxOvertime)
		}
	}
	for t, vars := range perTask {
		b.AtMostOne(fmt.Sprintf("once_%d", t), vars)
	}
	if r.Constraints.Budget != nil {
		b.CapacitySum("budget", spend, *r.Constraints.Budget)
	}
	for _, skill := range sortedKeys(r.Constraints.MinCoverage) {
		var covering []string
		for e, emp := range r.Employees {
			if common.HasSkill(emp.Skills, skill) {
				for t := range r.Tasks {
					covering = append(covering, pairVar(e, t))
				}
			}
		}
		b.AtLeast("coverage_"+identifier(skill), covering, float64(r.Constraints.MinCoverage[skill]))
	}
	b.Maximize(objective)
	return b.Model()
}

// LaborCostSolution is the normalized labour cost answer.
type LaborCostSolution struct {
	Assignments []Assignment    `json:"assignments"`
	TotalTasks  int             `json:"total_tasks"`
	TotalCost   float64         `json:"total_cost"`
	Overtime    map[int]float64 `json:"overtime"`
}

// NormalizeLaborCost reads the selected pairs with their cost and the
// overtime each employee works.
func NormalizeLaborCost(r *LaborCostRequest, sol *model.Solution) *LaborCostSolution {
	out := &LaborCostSolution{Assignments: []Assignment{}, Overtime: map[int]float64{}}
	for e, emp := range r.Employees {
		var hours float64
		for t, task := range r.Tasks {
			if !sol.Selected(pairVar(e, t)) {
				continue
			}
			cost := r.rate(emp) * task.Duration
			out.Assignments = append(out.Assignments, Assignment{EmployeeID: emp.ID, TaskID: task.ID, Cost: cost})
			out.TotalCost += cost
			hours += task.Duration
		}
		if emp.MaxHours > 0 && hours > emp.MaxHours {
			out.Overtime[emp.ID] = hours - emp.MaxHours
		}
	}
	out.TotalTasks = len(out.Assignments)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// identifier turns free text into a constraint-name fragment.
func identifier(s string) string {
	out := []byte(s)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			out[i] = '_'
		}
	}
	return string(out)
}
