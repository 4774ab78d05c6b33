package construction

import (
	"fmt"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Asset is a high-value piece of equipment.
type Asset struct {
	ID        int     `json:"id" validate:"min=0"`
	Type      string  `json:"type"`
	DailyCost float64 `json:"daily_cost,omitempty" validate:"min=0"`
}

// Project is a site with a time span in days.
type Project struct {
	ID    int `json:"id" validate:"min=0"`
	Start int `json:"start,omitempty" validate:"min=0"`
	End   int `json:"end,omitempty" validate:"min=0"`
}

// UsageTask needs one asset of EquipmentType at a project for Duration days
// from StartDay.
type UsageTask struct {
	ID            int    `json:"id" validate:"min=0"`
	ProjectID     int    `json:"project_id"`
	EquipmentType string `json:"equipment_type"`
	StartDay      int    `json:"start_day" validate:"min=0"`
	Duration      int    `json:"duration" validate:"min=1"`
}

func (u UsageTask) end() int { return u.StartDay + u.Duration }

// ResourceLimits bound spend and relocations.
type ResourceLimits struct {
	Budget   *float64 `json:"budget,omitempty" validate:"omitempty,min=0"`
	MaxMoves *int     `json:"max_moves,omitempty" validate:"omitempty,min=0"`
}

// EquipmentPlanningRequest assigns assets to usage tasks across projects.
// MoveTimes[a][b] is the days needed to move an asset from project index a
// to project index b.
type EquipmentPlanningRequest struct {
	Equipment   []Asset        `json:"equipment" validate:"required,min=1,dive"`
	Projects    []Project      `json:"projects" validate:"required,min=1,dive"`
	Tasks       []UsageTask    `json:"tasks" validate:"required,min=1,dive"`
	TimeHorizon int            `json:"time_horizon" validate:"required,min=1"`
	MoveTimes   [][]float64    `json:"move_times,omitempty"`
	Constraints ResourceLimits `json:"constraints"`
}

// projectIndex maps each task to its project's position.
func (r *EquipmentPlanningRequest) projectIndex() ([]int, error) {
	index := make(map[int]int, len(r.Projects))
	for p, proj := range r.Projects {
		index[proj.ID] = p
	}
	out := make([]int, len(r.Tasks))
	for k, task := range r.Tasks {
		p, ok := index[task.ProjectID]
		if !ok {
			return nil, errors.Validationf("task %d refers to unknown project %d", task.ID, task.ProjectID).
				WithDetailf("field=tasks[%d].project_id", k)
		}
		if task.end() > r.TimeHorizon {
			return nil, errors.Validationf("task %d ends on day %d, past the %d-day horizon", task.ID, task.end(), r.TimeHorizon).
				WithDetailf("field=tasks[%d].duration", k)
		}
		out[k] = p
	}
	if len(r.MoveTimes) > 0 {
		if len(r.MoveTimes) != len(r.Projects) {
			return nil, errors.Validationf("move_times has %d rows for %d projects", len(r.MoveTimes), len(r.Projects)).
				WithDetail("field=move_times")
		}
		for a, row := range r.MoveTimes {
			if len(row) != len(r.Projects) {
				return nil, errors.Validationf("move_times row %d has %d entries", a, len(row)).
					WithDetailf("field=move_times[%d]", a)
			}
		}
	}
	return out, nil
}

func (r *EquipmentPlanningRequest) move(a, b int) float64 {
	if a == b || len(r.MoveTimes) == 0 {
		return 0
	}
	return r.MoveTimes[a][b]
}

// conflict reports whether one asset cannot serve both tasks: they overlap
// in time, or the gap between them is shorter than the move.
func (r *EquipmentPlanningRequest) conflict(i, j int, proj []int) bool {
	a, b := r.Tasks[i], r.Tasks[j]
	if a.StartDay > b.StartDay || (a.StartDay == b.StartDay && i > j) {
		a, b = b, a
		i, j = j, i
	}
	return float64(b.StartDay) < float64(a.end())+r.move(proj[i], proj[j])
}

func (u UsageTask) cost(a Asset) float64 { return a.DailyCost * float64(u.Duration) }

func useVar(e, k int) string  { return fmt.Sprintf("x_%d_%d", e, k) }
func siteVar(e, p int) string { return fmt.Sprintf("y_%d_%d", e, p) }

// BuildEquipmentPlanning compiles r into a binary model minimizing usage
// cost.  Pairwise conflicts cover both same-day overlap and move time.
func BuildEquipmentPlanning(r *EquipmentPlanningRequest) (*model.Model, error) {
	proj, err := r.projectIndex()
	if err != nil {
		return nil, err
	}
	c := r.Constraints
	b := model.NewBuilder("equipment_resource_planning").Describe("plan asset usage across projects")
	perTask := make([][]string, len(r.Tasks))
	var spend []model.Term
	for e, asset := range r.Equipment {
		var wrongType []string
		for k, task := range r.Tasks {
			x := b.Binary(useVar(e, k))
			perTask[k] = append(perTask[k], x)
			spend = append(spend, model.T(task.cost(asset), x))
			if task.EquipmentType != "" && task.EquipmentType != asset.Type {
				wrongType = append(wrongType, x)
			}
		}
		b.ForceZero(fmt.Sprintf("type_%d", e), wrongType)
		for i := range r.Tasks {
			for j := i + 1; j < len(r.Tasks); j++ {
				if r.conflict(i, j, proj) {
					b.AtMostOne(fmt.Sprintf("conflict_%d_%d_%d", e, i, j), []string{useVar(e, i), useVar(e, j)})
				}
			}
		}
		if c.MaxMoves != nil {
			sites := make([]string, len(r.Projects))
			for p := range r.Projects {
				sites[p] = b.Binary(siteVar(e, p))
			}
			for k := range r.Tasks {
				b.Constrain(fmt.Sprintf("visit_%d_%d", e, k),
					[]model.Term{model.T(1, useVar(e, k)), model.T(-1, sites[proj[k]])}, model.OpLessEqual, 0)
			}
			b.CapacitySum(fmt.Sprintf("moves_%d", e), model.Sum(sites...), float64(*c.MaxMoves+1))
		}
	}
	for k, vars := range perTask {
		b.ExactlyOne(fmt.Sprintf("once_%d", k), vars)
	}
	if c.Budget != nil {
		b.CapacitySum("budget", spend, *c.Budget)
	}
	b.Minimize(spend)
	return b.Model()
}

// AssetAssignment books an asset for a usage task.
type AssetAssignment struct {
	EquipmentID int     `json:"equipment_id"`
	TaskID      int     `json:"task_id"`
	ProjectID   int     `json:"project_id"`
	StartDay    int     `json:"start_day"`
	EndDay      int     `json:"end_day"`
	Cost        float64 `json:"cost"`
}

// EquipmentPlanningSolution is the normalized asset plan.  Utilization is the
// share of the horizon each asset is booked.
type EquipmentPlanningSolution struct {
	Assignments []AssetAssignment `json:"assignments"`
	Utilization map[int]float64   `json:"utilization"`
	TotalCost   float64           `json:"total_cost"`
}

// NormalizeEquipmentPlanning reads bookings ordered by start day.
func NormalizeEquipmentPlanning(r *EquipmentPlanningRequest, sol *model.Solution) *EquipmentPlanningSolution {
	out := &EquipmentPlanningSolution{Assignments: []AssetAssignment{}, Utilization: map[int]float64{}}
	for e, asset := range r.Equipment {
		var days int
		for k, task := range r.Tasks {
			if !sol.Selected(useVar(e, k)) {
				continue
			}
			cost := task.cost(asset)
			out.Assignments = append(out.Assignments, AssetAssignment{
				EquipmentID: asset.ID,
				TaskID:      task.ID,
				ProjectID:   task.ProjectID,
				StartDay:    task.StartDay,
				EndDay:      task.end(),
				Cost:        cost,
			})
			out.TotalCost += cost
			days += task.Duration
		}
		out.Utilization[asset.ID] = float64(days) / float64(r.TimeHorizon)
	}
	sort.SliceStable(out.Assignments, func(i, j int) bool {
		return out.Assignments[i].StartDay < out.Assignments[j].StartDay
	})
	return out
}
