// Package operations compiles site-operations requests (equipment allocation
// and material delivery planning) into canonical models or routing problems.
package operations

import (
	"fmt"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// Equipment is an allocatable machine.  Capacity bounds the task hours it can
// absorb; 0 means unlimited.
type Equipment struct {
	ID       int     `json:"id" validate:"min=0"`
	Type     string  `json:"type,omitempty"`
	Capacity float64 `json:"capacity,omitempty" validate:"min=0"`
	Cost     float64 `json:"cost,omitempty" validate:"min=0"`
}

// Restriction forbids one equipment-task pairing.
type Restriction struct {
	EquipmentID int `json:"equipment_id"`
	TaskID      int `json:"task_id"`
}

// EquipmentAllocationRequest assigns every task to one piece of equipment.
type EquipmentAllocationRequest struct {
	Equipment   []Equipment       `json:"equipment" validate:"required,min=1,dive"`
	Tasks       []common.Task     `json:"tasks" validate:"required,min=1,dive"`
	Locations   []common.Location `json:"locations,omitempty" validate:"dive"`
	CostMatrix  [][]float64       `json:"cost_matrix,omitempty"`
	Constraints AllocationRules   `json:"constraints"`
	Objective   string            `json:"objective,omitempty" validate:"omitempty,oneof=minimize_total_cost"`
}

// AllocationRules are the optional allocation rules.
type AllocationRules struct {
	MaxEquipmentPerLocation int           `json:"max_equipment_per_location,omitempty" validate:"min=0"`
	MinTasksPerEquipment    int           `json:"min_tasks_per_equipment,omitempty" validate:"min=0"`
	AssignmentRestrictions  []Restriction `json:"assignment_restrictions,omitempty" validate:"dive"`
}

// ApplyDefaults fills the objective.
func (r *EquipmentAllocationRequest) ApplyDefaults() {
	if r.Objective == "" {
		r.Objective = "minimize_total_cost"
	}
}

// cost returns the cost of running task t on equipment e.  Without a cost
// matrix the equipment's own cost applies.
func (r *EquipmentAllocationRequest) cost(e, t int) float64 {
	if len(r.CostMatrix) > 0 {
		return r.CostMatrix[e][t]
	}
	return r.Equipment[e].Cost
}

func (r *EquipmentAllocationRequest) check() error {
	if len(r.CostMatrix) > 0 {
		if len(r.CostMatrix) != len(r.Equipment) {
			return errors.Validationf("cost_matrix has %d rows for %d equipment", len(r.CostMatrix), len(r.Equipment)).
				WithDetail("field=cost_matrix")
		}
		for e, row := range r.CostMatrix {
			if len(row) != len(r.Tasks) {
				return errors.Validationf("cost_matrix row %d has %d entries for %d tasks", e, len(row), len(r.Tasks)).
					WithDetailf("field=cost_matrix[%d]", e)
			}
		}
	}
	if len(r.Locations) == 0 {
		return nil
	}
	known := make(map[int]struct{}, len(r.Locations))
	for _, l := range r.Locations {
		known[l.ID] = struct{}{}
	}
	for k, t := range r.Tasks {
		if t.Location == nil {
			continue
		}
		if _, ok := known[t.Location.ID]; !ok {
			return errors.Validationf("task %d is at unknown location %d", t.ID, t.Location.ID).
				WithDetailf("field=tasks[%d].location", k)
		}
	}
	return nil
}

// sites returns the sorted ids of the locations tasks are placed at.
func (r *EquipmentAllocationRequest) sites() []int {
	seen := map[int]struct{}{}
	for _, t := range r.Tasks {
		if id := t.LocationID(); id >= 0 {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *EquipmentAllocationRequest) restricted(equipmentID, taskID int) bool {
	for _, x := range r.Constraints.AssignmentRestrictions {
		if x.EquipmentID == equipmentID && x.TaskID == taskID {
			return true
		}
	}
	return false
}

func allocVar(e, t int) string   { return fmt.Sprintf("x_%d_%d", e, t) }
func presentVar(e, l int) string { return fmt.Sprintf("y_%d_%d", e, l) }
func usedVar(e int) string       { return fmt.Sprintf("z_%d", e) }

// BuildEquipmentAllocation compiles r into a binary model.  x_e_t runs task t
// on equipment e, y_e_l places e at site l and z_e marks e as used.
func BuildEquipmentAllocation(r *EquipmentAllocationRequest) (*model.Model, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	c := r.Constraints
	sites := r.sites()
	siteIndex := make(map[int]int, len(sites))
	for l, id := range sites {
		siteIndex[id] = l
	}

	b := model.NewBuilder("equipment_allocation").Describe("allocate equipment to tasks and sites")
	perTask := make([][]string, len(r.Tasks))
	perSite := make([][]string, len(sites))
	var objective []model.Term
	for e, eq := range r.Equipment {
		used := b.Binary(usedVar(e))
		present := make([]string, len(sites))
		for l := range sites {
			present[l] = b.Binary(presentVar(e, l))
			perSite[l] = append(perSite[l], present[l])
		}

		var load []model.Term
		var jobs, blocked []string
		for t, task := range r.Tasks {
			x := b.Binary(allocVar(e, t))
			perTask[t] = append(perTask[t], x)
			jobs = append(jobs, x)
			load = append(load, model.T(task.Duration, x))
			objective = append(objective, model.T(r.cost(e, t), x))
			if r.restricted(eq.ID, task.ID) {
				blocked = append(blocked, x)
			}
			b.Constrain(fmt.Sprintf("used_%d_%d", e, t), []model.Term{model.T(1, x), model.T(-1, used)}, model.OpLessEqual, 0)
			if id := task.LocationID(); id >= 0 {
				b.Constrain(fmt.Sprintf("site_%d_%d", e, t),
					[]model.Term{model.T(1, x), model.T(-1, present[siteIndex[id]])}, model.OpLessEqual, 0)
			}
		}
		b.ForceZero(fmt.Sprintf("restricted_%d", e), blocked)
		if eq.Capacity > 0 {
			b.CapacitySum(fmt.Sprintf("capacity_%d", e), load, eq.Capacity)
		}
		if c.MinTasksPerEquipment > 0 {
			b.Constrain(fmt.Sprintf("min_tasks_%d", e),
				append(model.Sum(jobs...), model.T(-float64(c.MinTasksPerEquipment), used)), model.OpGreaterEqual, 0)
		}
	}
	for t, vars := range perTask {
		b.ExactlyOne(fmt.Sprintf("once_%d", t), vars)
	}
	if c.MaxEquipmentPerLocation > 0 {
		for l, vars := range perSite {
			b.CapacitySum(fmt.Sprintf("site_limit_%d", l), model.Sum(vars...), float64(c.MaxEquipmentPerLocation))
		}
	}
	b.Minimize(objective)
	return b.Model()
}

// EquipmentAssignment runs a task on a piece of equipment.
type EquipmentAssignment struct {
	EquipmentID int     `json:"equipment_id"`
	TaskID      int     `json:"task_id"`
	LocationID  *int    `json:"location_id,omitempty"`
	Cost        float64 `json:"cost"`
}

// EquipmentAllocationSolution is the normalized allocation.
type EquipmentAllocationSolution struct {
	Assignments   []EquipmentAssignment `json:"assignments"`
	EquipmentUsed []int                 `json:"equipment_used"`
	TotalCost     float64               `json:"total_cost"`
}

// NormalizeEquipmentAllocation reads the selected pairs back by id.
func NormalizeEquipmentAllocation(r *EquipmentAllocationRequest, sol *model.Solution) *EquipmentAllocationSolution {
	out := &EquipmentAllocationSolution{Assignments: []EquipmentAssignment{}, EquipmentUsed: []int{}}
	for e, eq := range r.Equipment {
		var busy bool
		for t, task := range r.Tasks {
			if !sol.Selected(allocVar(e, t)) {
				continue
			}
			busy = true
			a := EquipmentAssignment{EquipmentID: eq.ID, TaskID: task.ID, Cost: r.cost(e, t)}
			if task.Location != nil {
				id := task.Location.ID
				a.LocationID = &id
			}
			out.Assignments = append(out.Assignments, a)
			out.TotalCost += a.Cost
		}
		if busy {
			out.EquipmentUsed = append(out.EquipmentUsed, eq.ID)
		}
	}
	return out
}
