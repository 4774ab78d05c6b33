package fleet

import (
	"fmt"
	"math"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// MaintenanceTask is one service job owned by a vehicle.
type MaintenanceTask struct {
	ID            int      `json:"id" validate:"min=0"`
	VehicleID     int      `json:"vehicle_id" validate:"min=0"`
	Type          string   `json:"type,omitempty"`
	Duration      float64  `json:"duration" validate:"min=0"`
	RequiredParts []string `json:"required_parts,omitempty"`
	Priority      int      `json:"priority,omitempty"`
}

// MaintenanceRequest places every maintenance task in a time slot.
type MaintenanceRequest struct {
	Vehicles              []common.Vehicle  `json:"vehicles" validate:"required,min=1,dive"`
	MaintenanceTasks      []MaintenanceTask `json:"maintenance_tasks" validate:"required,min=1,dive"`
	MaintenanceFacilities []common.Location `json:"maintenance_facilities,omitempty" validate:"dive"`
	TimeHorizon           int               `json:"time_horizon" validate:"required,min=1"`
	Constraints           MaintenanceLimits `json:"constraints"`
}

// MaintenanceLimits bound lateness and per-slot throughput.
type MaintenanceLimits struct {
	MaxMaintenanceDelay int   `json:"max_maintenance_delay" validate:"min=0"`
	FacilityCapacity    []int `json:"facility_capacity,omitempty" validate:"dive,min=0"`
}

// slotCapacity is the number of jobs the facilities can take per slot, or
// -1 when unlimited.
func (r *MaintenanceRequest) slotCapacity() (int, error) {
	caps := r.Constraints.FacilityCapacity
	switch {
	case len(caps) > 0 && len(r.MaintenanceFacilities) > 0 && len(caps) != len(r.MaintenanceFacilities):
		return 0, errors.Validationf("facility_capacity has %d entries for %d facilities", len(caps), len(r.MaintenanceFacilities)).
			WithDetail("field=constraints.facility_capacity")
	case len(caps) > 0:
		total := 0
		for _, c := range caps {
			total += c
		}
		return total, nil
	case len(r.MaintenanceFacilities) > 0:
		return len(r.MaintenanceFacilities), nil
	default:
		return -1, nil
	}
}

// owners resolves the vehicle index of each task.
func (r *MaintenanceRequest) owners() ([]int, error) {
	byID := make(map[int]int, len(r.Vehicles))
	for v, veh := range r.Vehicles {
		byID[veh.ID] = v
	}
	owners := make([]int, len(r.MaintenanceTasks))
	for m, task := range r.MaintenanceTasks {
		v, ok := byID[task.VehicleID]
		if !ok {
			return nil, errors.Validationf("maintenance task %d references unknown vehicle %d", task.ID, task.VehicleID).
				WithDetailf("field=maintenance_tasks[%d].vehicle_id", m)
		}
		owners[m] = v
	}
	return owners, nil
}

func slotVar(v, m, t int) string { return fmt.Sprintf("x_%d_%d_%d", v, m, t) }

// delay is the precomputed lateness of servicing at slot t.
func delay(t, interval int) float64 {
	return math.Max(0, float64(t-interval))
}

// BuildMaintenance compiles r into a time-indexed binary model.  Variables
// exist only for the owning vehicle of each task.
func BuildMaintenance(r *MaintenanceRequest) (*model.Model, error) {
	owners, err := r.owners()
	if err != nil {
		return nil, err
	}
	capacity, err := r.slotCapacity()
	if err != nil {
		return nil, err
	}

	b := model.NewBuilder("maintenance_schedule").Describe("schedule maintenance tasks into time slots")
	perSlot := make([][]string, r.TimeHorizon)
	var objective []model.Term
	for m := range r.MaintenanceTasks {
		v := owners[m]
		interval := r.Vehicles[v].MaintenanceInterval
		vars := make([]string, r.TimeHorizon)
		var timed []model.Term
		for t := 0; t < r.TimeHorizon; t++ {
			x := b.Binary(slotVar(v, m, t))
			vars[t] = x
			perSlot[t] = append(perSlot[t], x)
			timed = append(timed, model.T(float64(t), x))
			objective = append(objective, model.T(delay(t, interval), x))
		}
		b.ExactlyOne(fmt.Sprintf("once_%d", m), vars)
		b.CapacitySum(fmt.Sprintf("due_%d", m), timed, float64(interval+r.Constraints.MaxMaintenanceDelay))
	}
	if capacity >= 0 {
		for t, vars := range perSlot {
			b.CapacitySum(fmt.Sprintf("facility_%d", t), model.Sum(vars...), float64(capacity))
		}
	}
	b.Minimize(objective)
	return b.Model()
}

// MaintenanceSlot is one scheduled maintenance task.
type MaintenanceSlot struct {
	VehicleID     int     `json:"vehicle_id"`
	MaintenanceID int     `json:"maintenance_id"`
	Time          int     `json:"time"`
	Delay         float64 `json:"delay"`
}

// MaintenanceSolution is the normalized maintenance answer.
type MaintenanceSolution struct {
	Schedule   []MaintenanceSlot `json:"schedule"`
	TotalDelay float64           `json:"total_delay"`
}

// NormalizeMaintenance reads the chosen slot of every task.
func NormalizeMaintenance(r *MaintenanceRequest, sol *model.Solution) *MaintenanceSolution {
	owners, err := r.owners()
	if err != nil {
		return nil
	}
	out := &MaintenanceSolution{Schedule: []MaintenanceSlot{}}
	for m, task := range r.MaintenanceTasks {
		v := owners[m]
		for t := 0; t < r.TimeHorizon; t++ {
			if !sol.Selected(slotVar(v, m, t)) {
				continue
			}
			late := delay(t, r.Vehicles[v].MaintenanceInterval)
			out.Schedule = append(out.Schedule, MaintenanceSlot{
				VehicleID:     task.VehicleID,
				MaintenanceID: task.ID,
				Time:          t,
				Delay:         late,
			})
			out.TotalDelay += late
		}
	}
	sort.SliceStable(out.Schedule, func(i, j int) bool { return out.Schedule[i].Time < out.Schedule[j].Time })
	return out
}
