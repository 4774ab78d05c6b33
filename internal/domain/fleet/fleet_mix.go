package fleet

import (
	"fmt"
	"math"

	"github.com/turtacn/OptiFlow/internal/domain/model"
)

// VehicleType is a purchasable vehicle class.
type VehicleType struct {
	ID       int     `json:"id" validate:"min=0"`
	Type     string  `json:"type,omitempty"`
	Capacity float64 `json:"capacity" validate:"min=0"`
	Cost     float64 `json:"cost" validate:"min=0"`
}

// FleetMixRequest sizes a fleet against a demand forecast.
type FleetMixRequest struct {
	VehicleTypes   []VehicleType  `json:"vehicle_types" validate:"required,min=1,dive"`
	DemandForecast []float64      `json:"demand_forecast" validate:"dive,min=0"`
	Constraints    FleetMixLimits `json:"constraints"`
}

// FleetMixLimits are optional; a nil field is not enforced.
type FleetMixLimits struct {
	Budget      *float64 `json:"budget,omitempty" validate:"omitempty,min=0"`
	MinVehicles *int     `json:"min_vehicles,omitempty" validate:"omitempty,min=0"`
	MaxVehicles *int     `json:"max_vehicles,omitempty" validate:"omitempty,min=0"`
}

func countVar(i int) string { return fmt.Sprintf("n_%d", i) }

// BuildFleetMix compiles r into an integer model with one count per type.
func BuildFleetMix(r *FleetMixRequest) (*model.Model, error) {
	b := model.NewBuilder("fleet_mix").Describe("choose vehicle counts per type")
	counts := make([]string, len(r.VehicleTypes))
	costs := make([]float64, len(r.VehicleTypes))
	caps := make([]float64, len(r.VehicleTypes))
	for i, vt := range r.VehicleTypes {
		counts[i] = b.Integer(countVar(i), 0, math.Inf(1))
		costs[i] = vt.Cost
		caps[i] = vt.Capacity
	}

	if c := r.Constraints; c.Budget != nil {
		b.CapacitySum("budget", model.Weighted(counts, costs), *c.Budget)
	}
	if c := r.Constraints; c.MinVehicles != nil {
		b.AtLeast("min_vehicles", counts, float64(*c.MinVehicles))
	}
	if c := r.Constraints; c.MaxVehicles != nil {
		b.CapacitySum("max_vehicles", model.Sum(counts...), float64(*c.MaxVehicles))
	}
	for t, demand := range r.DemandForecast {
		b.CoverSum(fmt.Sprintf("demand_%d", t), model.Weighted(counts, caps), demand)
	}
	b.Minimize(model.Weighted(counts, costs))
	return b.Model()
}

// FleetMixSolution is the normalized fleet mix answer.
type FleetMixSolution struct {
	VehicleCounts map[int]int `json:"vehicle_counts"`
	TotalCapacity float64     `json:"total_capacity"`
	TotalCost     float64     `json:"total_cost"`
}

// NormalizeFleetMix reads the chosen counts back by vehicle type id.
func NormalizeFleetMix(r *FleetMixRequest, sol *model.Solution) *FleetMixSolution {
	out := &FleetMixSolution{VehicleCounts: make(map[int]int, len(r.VehicleTypes))}
	for i, vt := range r.VehicleTypes {
		n := int(math.Round(sol.Value(countVar(i))))
		out.VehicleCounts[vt.ID] = n
		out.TotalCost += float64(n) * vt.Cost
		out.TotalCapacity += float64(n) * vt.Capacity
	}
	return out
}
