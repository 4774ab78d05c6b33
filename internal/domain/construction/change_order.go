package construction

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/turtacn/OptiFlow/internal/domain/risk"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// DefaultChangeOrderSimulations is the Monte-Carlo run count.
const DefaultChangeOrderSimulations = 100

// ChangeOrder alters the plan: it shifts a task's duration, adds
// predecessors, or introduces a new task.
type ChangeOrder struct {
	TaskID          int            `json:"task_id"`
	DurationDelta   float64        `json:"duration_delta,omitempty"`
	AddPredecessors []int          `json:"add_predecessors,omitempty"`
	NewTask         *risk.Activity `json:"new_task,omitempty"`
}

// Plan is the baseline project network.
type Plan struct {
	Tasks []risk.Activity `json:"tasks" validate:"required,min=1,dive"`
}

// ChangeOrderRequest measures the schedule impact of change orders.
// Uncertainty is the relative spread of each duration delta in the
// simulation, 0.5 when unset.
type ChangeOrderRequest struct {
	OriginalPlan   Plan          `json:"original_plan"`
	ChangeOrders   []ChangeOrder `json:"change_orders" validate:"dive"`
	NumSimulations int           `json:"num_simulations,omitempty" validate:"min=0"`
	Uncertainty    float64       `json:"uncertainty,omitempty" validate:"min=0,max=1"`
	Seed           *uint64       `json:"seed,omitempty"`
}

// ApplyDefaults fills the run count and the uncertainty.
func (r *ChangeOrderRequest) ApplyDefaults() {
	if r.NumSimulations == 0 {
		r.NumSimulations = DefaultChangeOrderSimulations
	}
	if r.Uncertainty == 0 {
		r.Uncertainty = 0.5
	}
}

// revised applies the change orders to a copy of the plan.
func (r *ChangeOrderRequest) revised() ([]risk.Activity, error) {
	tasks := make([]risk.Activity, len(r.OriginalPlan.Tasks))
	index := make(map[int]int, len(tasks))
	for i, a := range r.OriginalPlan.Tasks {
		a.Predecessors = append([]int(nil), a.Predecessors...)
		tasks[i] = a
		index[a.ID] = i
	}
	for k, co := range r.ChangeOrders {
		if co.NewTask != nil {
			if _, dup := index[co.NewTask.ID]; dup {
				return nil, errors.Validationf("change order adds task %d, which already exists", co.NewTask.ID).
					WithDetailf("field=change_orders[%d].new_task", k)
			}
			index[co.NewTask.ID] = len(tasks)
			tasks = append(tasks, *co.NewTask)
			continue
		}
		i, ok := index[co.TaskID]
		if !ok {
			return nil, errors.Validationf("change order refers to unknown task %d", co.TaskID).
				WithDetailf("field=change_orders[%d].task_id", k)
		}
		tasks[i].Duration = math.Max(0, tasks[i].Duration+co.DurationDelta)
		tasks[i].Predecessors = append(tasks[i].Predecessors, co.AddPredecessors...)
	}
	return tasks, nil
}

// SimulatedDelay summarizes the sampled delay distribution.
type SimulatedDelay struct {
	Simulations int          `json:"num_simulations"`
	Delay       risk.Summary `json:"delay"`
}

// ChangeOrderSolution is the normalized impact analysis.
type ChangeOrderSolution struct {
	OriginalMakespan     float64        `json:"original_makespan"`
	NewMakespan          float64        `json:"new_makespan"`
	Delay                float64        `json:"delay"`
	ImpactedTasks        []int          `json:"impacted_tasks"`
	OriginalCriticalPath []int          `json:"original_critical_path"`
	NewCriticalPath      []int          `json:"new_critical_path"`
	Simulation           SimulatedDelay `json:"simulation"`
}

// AnalyzeChangeOrders runs the critical path method before and after the
// change orders, then samples each duration delta from a triangular
// distribution of relative width Uncertainty around its stated value.
func AnalyzeChangeOrders(ctx context.Context, r *ChangeOrderRequest) (*ChangeOrderSolution, error) {
	before, err := risk.NewNetwork(r.OriginalPlan.Tasks)
	if err != nil {
		return nil, err
	}
	tasks, err := r.revised()
	if err != nil {
		return nil, err
	}
	after, err := risk.NewNetwork(tasks)
	if err != nil {
		return nil, err
	}
	base := before.CPM(before.Durations())
	changed := after.CPM(after.Durations())

	out := &ChangeOrderSolution{
		OriginalMakespan:     base.Makespan,
		NewMakespan:          changed.Makespan,
		Delay:                changed.Makespan - base.Makespan,
		ImpactedTasks:        []int{},
		OriginalCriticalPath: before.CriticalPath(base),
		NewCriticalPath:      after.CriticalPath(changed),
	}
	for i, a := range after.Activities {
		j, existed := before.Index(a.ID)
		if !existed || math.Abs(changed.Finish[i]-base.Finish[j]) > 1e-9 {
			out.ImpactedTasks = append(out.ImpactedTasks, a.ID)
		}
	}

	samplers, err := risk.Samplers(after, r.factors(after))
	if err != nil {
		return nil, err
	}
	runs := r.NumSimulations
	if runs <= 0 {
		runs = DefaultChangeOrderSimulations
	}
	seed := rand.Uint64()
	if r.Seed != nil {
		seed = *r.Seed
	}
	trials, err := risk.Run(ctx, after, samplers, runs, seed)
	if err != nil {
		return nil, err
	}
	delays := make([]float64, len(trials.Makespans))
	for t, m := range trials.Makespans {
		delays[t] = m - base.Makespan
	}
	out.Simulation = SimulatedDelay{Simulations: runs, Delay: risk.Summarize(delays, risk.DefaultBins)}
	return out, nil
}

// factors turns each changed duration into a triangular factor centred on
// the revised duration.
func (r *ChangeOrderRequest) factors(n *risk.Network) []risk.Factor {
	u := r.Uncertainty
	if u == 0 {
		u = 0.5
	}
	deltas := map[int]float64{}
	for _, co := range r.ChangeOrders {
		if co.NewTask != nil {
			deltas[co.NewTask.ID] += co.NewTask.Duration
			continue
		}
		deltas[co.TaskID] += co.DurationDelta
	}
	var out []risk.Factor
	for _, a := range n.Activities {
		delta, ok := deltas[a.ID]
		if !ok || delta == 0 {
			continue
		}
		spread := math.Abs(delta) * u
		out = append(out, risk.Factor{
			TaskID:       a.ID,
			Distribution: risk.Triangular,
			Min:          math.Max(0, a.Duration-spread),
			Mode:         a.Duration,
			Max:          a.Duration + spread,
		})
	}
	return out
}
