// Package fleet compiles fleet-operations planning requests (vehicle
// assignment, fleet mix, maintenance and refuelling) into canonical models
// and reads solver output back into fleet terms.
package fleet

import (
	"fmt"
	"math"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// VehicleAssignmentRequest assigns located tasks to vehicles and sequences
// each vehicle's tasks into a tour that starts and ends at the depot.
type VehicleAssignmentRequest struct {
	Vehicles       []common.Vehicle  `json:"vehicles" validate:"required,min=1,dive"`
	Tasks          []common.Task     `json:"tasks" validate:"required,min=1,dive"`
	Locations      []common.Location `json:"locations,omitempty" validate:"dive"`
	DistanceMatrix [][]float64       `json:"distance_matrix" validate:"required,min=1"`
	Depot          *int              `json:"depot,omitempty"`
	Constraints    AssignmentLimits  `json:"constraints"`
}

// AssignmentLimits are per-vehicle tour limits.  Zero disables a limit.
type AssignmentLimits struct {
	MaxDistance     float64 `json:"max_distance,omitempty" validate:"min=0"`
	MaxWorkingHours float64 `json:"max_working_hours,omitempty" validate:"min=0"`
}

// depot returns the depot location id.
func (r *VehicleAssignmentRequest) depot() int {
	switch {
	case r.Depot != nil:
		return *r.Depot
	case len(r.Locations) > 0:
		return r.Locations[0].ID
	default:
		return 0
	}
}

// nodeDistances returns the distances between tour nodes.  Node 0 is the
// depot and node k+1 is task k.
func (r *VehicleAssignmentRequest) nodeDistances() ([][]float64, error) {
	matrix := routing.NewMatrix(r.DistanceMatrix, r.Locations)
	ids := []int{r.depot()}
	for k, t := range r.Tasks {
		if t.Location == nil {
			return nil, errors.Validationf("task %d has no location", t.ID).WithDetailf("field=tasks[%d].location", k)
		}
		ids = append(ids, t.Location.ID)
	}
	return matrix.Between(ids)
}

func assignVar(v, k int) string     { return fmt.Sprintf("x_%d_%d", v, k) }
func arrivalVar(v, k int) string    { return fmt.Sprintf("t_%d_%d", v, k) }
func legVar(v, from, to int) string { return fmt.Sprintf("y_%d_%d_%d", v, from, to) }

// BuildVehicleAssignment compiles r into a mixed-integer model.
//
// x_v_k selects vehicle v for task k, y_v_a_b selects the leg from node a to
// node b on vehicle v, and t_v_k is the arrival time at task k.  Flow
// conservation ties legs to assignments, and big-M precedence over arrival
// times removes tours that do not pass through the depot.
func BuildVehicleAssignment(r *VehicleAssignmentRequest) (*model.Model, error) {
	d, err := r.nodeDistances()
	if err != nil {
		return nil, err
	}
	nTasks := len(r.Tasks)

	// Every arrival is bounded by the windows, the depot leg and the work
	// plus the longest outgoing leg of each task.
	work := make([]float64, nTasks)
	var bounds []float64
	for k, t := range r.Tasks {
		var longest float64
		for b := 1; b <= nTasks; b++ {
			longest = math.Max(longest, d[k+1][b])
		}
		work[k] = t.Duration + longest
		lo, hi := t.Window()
		bounds = append(bounds, lo, hi)
	}
	bigM := model.BigM(work, d, bounds)

	b := model.NewBuilder("vehicle_assignment").
		Describe("assign tasks to vehicles and sequence each tour")

	for v := range r.Vehicles {
		for k := 0; k < nTasks; k++ {
			b.Binary(assignVar(v, k))
			b.Continuous(arrivalVar(v, k), 0, bigM)
		}
		for a := 0; a <= nTasks; a++ {
			for c := 0; c <= nTasks; c++ {
				if a != c {
					b.Binary(legVar(v, a, c))
				}
			}
		}
	}

	// Vehicles of equal capacity are interchangeable, so the first task only
	// goes to the first of them.
	for v := range r.Vehicles {
		for u := 0; u < v; u++ {
			if r.Vehicles[u].Capacity == r.Vehicles[v].Capacity {
				b.ForceZero(fmt.Sprintf("symmetry_%d", v), []string{assignVar(v, 0)})
				break
			}
		}
	}

	for k := range r.Tasks {
		vars := make([]string, len(r.Vehicles))
		for v := range r.Vehicles {
			vars[v] = assignVar(v, k)
		}
		b.ExactlyOne(fmt.Sprintf("assign_%d", k), vars)
	}

	var objective []model.Term
	for v, veh := range r.Vehicles {
		var load, legs, hours []model.Term
		var depotOut, depotIn []model.Term
		for k, t := range r.Tasks {
			x := assignVar(v, k)
			load = append(load, model.T(t.Duration, x))
			hours = append(hours, model.T(t.Duration, x))

			node := k + 1
			out := []model.Term{model.T(-1, x)}
			in := []model.Term{model.T(-1, x)}
			for c := 0; c <= nTasks; c++ {
				if c == node {
					continue
				}
				out = append(out, model.T(1, legVar(v, node, c)))
				in = append(in, model.T(1, legVar(v, c, node)))
			}
			b.Constrain(fmt.Sprintf("flow_out_%d_%d", v, k), out, model.OpEqual, 0)
			b.Constrain(fmt.Sprintf("flow_in_%d_%d", v, k), in, model.OpEqual, 0)

			depotOut = append(depotOut, model.T(1, legVar(v, 0, node)))
			depotIn = append(depotIn, model.T(1, legVar(v, node, 0)))

			arrival := arrivalVar(v, k)
			b.Constrain(fmt.Sprintf("first_leg_%d_%d", v, k),
				[]model.Term{model.T(1, arrival), model.T(-d[0][node], legVar(v, 0, node))}, model.OpGreaterEqual, 0)
			lo, hi := t.Window()
			if lo > 0 {
				b.WindowLower(fmt.Sprintf("open_%d_%d", v, k), arrival, x, lo)
			}
			if !math.IsInf(hi, 1) {
				b.WindowUpper(fmt.Sprintf("close_%d_%d", v, k), arrival, x, hi, bigM)
			}
			for j := range r.Tasks {
				if j == k {
					continue
				}
				b.BigMPrecedence(fmt.Sprintf("seq_%d_%d_%d", v, k, j),
					arrival, arrivalVar(v, j), t.Duration+d[node][j+1], legVar(v, node, j+1), bigM)
			}
		}
		for a := 0; a <= nTasks; a++ {
			for c := 0; c <= nTasks; c++ {
				if a != c {
					legs = append(legs, model.T(d[a][c], legVar(v, a, c)))
				}
			}
		}

		if veh.Capacity > 0 {
			b.CapacitySum(fmt.Sprintf("capacity_%d", v), load, veh.Capacity)
		}
		b.CapacitySum(fmt.Sprintf("depot_out_%d", v), depotOut, 1)
		b.Constrain(fmt.Sprintf("depot_in_%d", v), append(depotIn, model.Scale(depotOut, -1)...), model.OpEqual, 0)
		if r.Constraints.MaxDistance > 0 {
			b.CapacitySum(fmt.Sprintf("max_distance_%d", v), legs, r.Constraints.MaxDistance)
		}
		if r.Constraints.MaxWorkingHours > 0 {
			b.CapacitySum(fmt.Sprintf("max_hours_%d", v), append(hours, legs...), r.Constraints.MaxWorkingHours)
		}
		objective = append(objective, legs...)
	}
	b.Minimize(objective)
	return b.Model()
}

// TaskAssignment is one task placed on a vehicle.
type TaskAssignment struct {
	VehicleID   int     `json:"vehicle_id"`
	TaskID      int     `json:"task_id"`
	ArrivalTime float64 `json:"arrival_time"`
}

// SequenceEdge says the vehicle drives from one task straight to another.
type SequenceEdge struct {
	VehicleID int `json:"vehicle_id"`
	FromTask  int `json:"from_task"`
	ToTask    int `json:"to_task"`
}

// VehicleTour is the ordered task list of one vehicle.
type VehicleTour struct {
	VehicleID int     `json:"vehicle_id"`
	Tasks     []int   `json:"tasks"`
	Distance  float64 `json:"distance"`
}

// VehicleAssignmentSolution is the normalized vehicle assignment answer.
type VehicleAssignmentSolution struct {
	Assignments   []TaskAssignment `json:"assignments"`
	Sequence      []SequenceEdge   `json:"sequence"`
	Routes        []VehicleTour    `json:"routes"`
	TotalDistance float64          `json:"total_distance"`
}

// NormalizeVehicleAssignment maps sol back to vehicle and task ids.
// Assignments and sequence edges are ordered by arrival time.
func NormalizeVehicleAssignment(r *VehicleAssignmentRequest, sol *model.Solution) *VehicleAssignmentSolution {
	d, err := r.nodeDistances()
	if err != nil {
		return nil
	}
	nTasks := len(r.Tasks)
	out := &VehicleAssignmentSolution{
		Assignments: []TaskAssignment{},
		Sequence:    []SequenceEdge{},
		Routes:      []VehicleTour{},
	}
	arrival := make(map[[2]int]float64)
	for v, veh := range r.Vehicles {
		for k, t := range r.Tasks {
			if sol.Selected(assignVar(v, k)) {
				at := sol.Value(arrivalVar(v, k))
				arrival[[2]int{v, k}] = at
				out.Assignments = append(out.Assignments, TaskAssignment{VehicleID: veh.ID, TaskID: t.ID, ArrivalTime: at})
			}
		}
		for a := 1; a <= nTasks; a++ {
			for c := 1; c <= nTasks; c++ {
				if a != c && sol.Selected(legVar(v, a, c)) {
					out.Sequence = append(out.Sequence, SequenceEdge{VehicleID: veh.ID, FromTask: r.Tasks[a-1].ID, ToTask: r.Tasks[c-1].ID})
				}
			}
		}

		tour := VehicleTour{VehicleID: veh.ID, Tasks: []int{}}
		node := 0
		for step := 0; step <= nTasks; step++ {
			next := -1
			for c := 0; c <= nTasks; c++ {
				if c != node && sol.Selected(legVar(v, node, c)) {
					next = c
					break
				}
			}
			if next < 0 {
				break
			}
			tour.Distance += d[node][next]
			if next == 0 {
				break
			}
			tour.Tasks = append(tour.Tasks, r.Tasks[next-1].ID)
			node = next
		}
		if len(tour.Tasks) > 0 {
			out.Routes = append(out.Routes, tour)
			out.TotalDistance += tour.Distance
		}
	}

	sort.SliceStable(out.Assignments, func(i, j int) bool {
		return out.Assignments[i].ArrivalTime < out.Assignments[j].ArrivalTime
	})
	taskIndex := make(map[int]int, nTasks)
	for k, t := range r.Tasks {
		taskIndex[t.ID] = k
	}
	vehicleIndex := make(map[int]int, len(r.Vehicles))
	for v, veh := range r.Vehicles {
		vehicleIndex[veh.ID] = v
	}
	at := func(e SequenceEdge) float64 {
		return arrival[[2]int{vehicleIndex[e.VehicleID], taskIndex[e.FromTask]}]
	}
	sort.SliceStable(out.Sequence, func(i, j int) bool { return at(out.Sequence[i]) < at(out.Sequence[j]) })
	return out
}
