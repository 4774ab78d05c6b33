// Package workforce compiles staffing requests (task scheduling and
// assignment, breaks, labour cost, hiring and shift coverage) into canonical
// models and reads solver output back into workforce terms.
package workforce

import (
	"fmt"
	"math"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// ScheduleRequest places every task on one employee at one start hour.
type ScheduleRequest struct {
	Employees   []common.Employee `json:"employees" validate:"required,min=1,dive"`
	Tasks       []common.Task     `json:"tasks" validate:"required,min=1,dive"`
	TimeHorizon int               `json:"time_horizon" validate:"required,min=1"`
}

func startVar(e, t, h int) string { return fmt.Sprintf("x_%d_%d_%d", e, t, h) }

// span is the number of whole hours a task occupies.
func span(duration float64) int {
	return int(math.Max(1, math.Ceil(duration)))
}

// available reports whether [start, end) fits inside one availability
// interval.  No intervals means always available.
func available(e common.Employee, start, end float64) bool {
	if len(e.Availability) == 0 {
		return true
	}
	for _, a := range e.Availability {
		if start >= a[0] && end <= a[1] {
			return true
		}
	}
	return false
}

// admissible reports whether task t may start at hour h.
func admissible(task common.Task, h, horizon int) bool {
	lo, hi := task.Window()
	return float64(h) >= lo && float64(h) <= hi && h+span(task.Duration) <= horizon
}

// BuildSchedule compiles r into a time-indexed binary model.  x_e_t_h starts
// task t at hour h on employee e.
func BuildSchedule(r *ScheduleRequest) (*model.Model, error) {
	b := model.NewBuilder("employee_schedule").Describe("schedule tasks onto employees and start hours")
	horizon := r.TimeHorizon

	once := make([][]string, len(r.Tasks))
	var objective []model.Term
	for e, emp := range r.Employees {
		busy := make([][]string, horizon)
		var hours []model.Term
		for t, task := range r.Tasks {
			var blocked []string
			skilled := common.HasSkills(emp.Skills, task.RequiredSkills)
			var unskilled []string
			for h := 0; h < horizon; h++ {
				x := b.Binary(startVar(e, t, h))
				once[t] = append(once[t], x)
				hours = append(hours, model.T(task.Duration, x))
				objective = append(objective, model.T(emp.HourlyRate*task.Duration, x))
				if !skilled {
					unskilled = append(unskilled, x)
					continue
				}
				end := h + span(task.Duration)
				if !admissible(task, h, horizon) || !available(emp, float64(h), float64(end)) {
					blocked = append(blocked, x)
					continue
				}
				for k := h; k < end; k++ {
					busy[k] = append(busy[k], x)
				}
			}
			b.ForceZero(fmt.Sprintf("skill_%d_%d", e, t), unskilled)
			b.ForceZero(fmt.Sprintf("window_%d_%d", e, t), blocked)
		}
		if emp.MaxHours > 0 {
			b.CapacitySum(fmt.Sprintf("hours_%d", e), hours, emp.MaxHours)
		}
		for k, running := range busy {
			if len(running) > 1 {
				b.AtMostOne(fmt.Sprintf("busy_%d_%d", e, k), running)
			}
		}
	}
	for t, vars := range once {
		b.ExactlyOne(fmt.Sprintf("once_%d", t), vars)
	}
	b.Minimize(objective)
	return b.Model()
}

// ScheduledTask is one task placed on an employee.
type ScheduledTask struct {
	EmployeeID int     `json:"employee_id"`
	TaskID     int     `json:"task_id"`
	Hour       int     `json:"hour"`
	End        float64 `json:"end"`
	Cost       float64 `json:"cost"`
}

// ScheduleSolution is the normalized employee schedule.
type ScheduleSolution struct {
	Schedule  []ScheduledTask `json:"schedule"`
	TotalCost float64         `json:"total_cost"`
}

// NormalizeSchedule reads the chosen employee and start of every task.
func NormalizeSchedule(r *ScheduleRequest, sol *model.Solution) *ScheduleSolution {
	out := &ScheduleSolution{Schedule: []ScheduledTask{}}
	for e, emp := range r.Employees {
		for t, task := range r.Tasks {
			for h := 0; h < r.TimeHorizon; h++ {
				if !sol.Selected(startVar(e, t, h)) {
					continue
				}
				cost := emp.HourlyRate * task.Duration
				out.Schedule = append(out.Schedule, ScheduledTask{
					EmployeeID: emp.ID,
					TaskID:     task.ID,
					Hour:       h,
					End:        float64(h) + task.Duration,
					Cost:       cost,
				})
				out.TotalCost += cost
			}
		}
	}
	sort.SliceStable(out.Schedule, func(i, j int) bool { return out.Schedule[i].Hour < out.Schedule[j].Hour })
	return out
}
