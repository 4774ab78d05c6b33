package construction

import (
	"fmt"
	"math"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// PermitTask is work that must avoid blackout windows.
type PermitTask struct {
	ID       int     `json:"id" validate:"min=0"`
	Duration float64 `json:"duration" validate:"min=0"`
	Earliest float64 `json:"earliest,omitempty" validate:"min=0"`
	Deadline float64 `json:"deadline,omitempty" validate:"min=0"`
}

// ComplianceRules hold the horizon and the concurrency cap.
type ComplianceRules struct {
	TimeHorizon   int `json:"time_horizon" validate:"required,min=1"`
	MaxConcurrent int `json:"max_concurrent,omitempty" validate:"min=0"`
}

// ComplianceRequest schedules tasks on integer starts outside blackout
// windows.
type ComplianceRequest struct {
	Tasks           []PermitTask    `json:"tasks" validate:"required,min=1,dive"`
	BlackoutWindows [][]float64     `json:"blackout_windows,omitempty"`
	Constraints     ComplianceRules `json:"constraints"`
}

func (r *ComplianceRequest) check() error {
	for i, w := range r.BlackoutWindows {
		if len(w) != 2 || w[0] > w[1] {
			return errors.Validation("blackout windows must be [start, end] pairs").WithDetailf("field=blackout_windows[%d]", i)
		}
	}
	return nil
}

// admissibleStarts lists the integer starts of task t that stay inside the
// horizon and its own window and clear every blackout.
func (r *ComplianceRequest) admissibleStarts(t PermitTask) []int {
	horizon := float64(r.Constraints.TimeHorizon)
	var out []int
	for s := int(math.Ceil(t.Earliest)); float64(s)+t.Duration <= horizon; s++ {
		start, end := float64(s), float64(s)+t.Duration
		if t.Deadline > 0 && end > t.Deadline {
			break
		}
		free := true
		for _, w := range r.BlackoutWindows {
			if start < w[1] && end > w[0] {
				free = false
				break
			}
		}
		if free {
			out = append(out, s)
		}
	}
	return out
}

func permitVar(t, s int) string { return fmt.Sprintf("x_%d_%d", t, s) }

// BuildCompliance compiles r into a binary model over admissible starts
// only, minimizing the sum of start times.
func BuildCompliance(r *ComplianceRequest) (*model.Model, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	horizon := r.Constraints.TimeHorizon
	b := model.NewBuilder("compliance_planning").Describe("schedule work around blackout windows")
	running := make([][]string, horizon)
	var objective []model.Term
	for t, task := range r.Tasks {
		var starts []string
		for _, s := range r.admissibleStarts(task) {
			x := b.Binary(permitVar(t, s))
			starts = append(starts, x)
			objective = append(objective, model.T(float64(s), x))
			last := int(math.Ceil(float64(s) + task.Duration))
			for k := s; k < last && k < horizon; k++ {
				running[k] = append(running[k], x)
			}
		}
		b.ExactlyOne(fmt.Sprintf("once_%d", t), starts)
	}
	if limit := r.Constraints.MaxConcurrent; limit > 0 {
		for k, vars := range running {
			if len(vars) > limit {
				b.CapacitySum(fmt.Sprintf("concurrent_%d", k), model.Sum(vars...), float64(limit))
			}
		}
	}
	b.Minimize(objective)
	return b.Model()
}

// PermitEvent is one scheduled task.
type PermitEvent struct {
	TaskID int     `json:"task_id"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
}

// ComplianceSolution is the normalized schedule.
type ComplianceSolution struct {
	Schedule []PermitEvent `json:"schedule"`
	Makespan float64       `json:"makespan"`
}

// NormalizeCompliance reads the chosen start of every task.
func NormalizeCompliance(r *ComplianceRequest, sol *model.Solution) *ComplianceSolution {
	out := &ComplianceSolution{Schedule: []PermitEvent{}}
	for t, task := range r.Tasks {
		for _, s := range r.admissibleStarts(task) {
			if !sol.Selected(permitVar(t, s)) {
				continue
			}
			end := float64(s) + task.Duration
			out.Schedule = append(out.Schedule, PermitEvent{TaskID: task.ID, Start: float64(s), End: end})
			out.Makespan = math.Max(out.Makespan, end)
		}
	}
	sort.SliceStable(out.Schedule, func(i, j int) bool { return out.Schedule[i].Start < out.Schedule[j].Start })
	return out
}
