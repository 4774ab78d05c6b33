package fleet

import (
	"fmt"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// FuelRequest picks refuelling stations for every vehicle on every route.
// Route distance comes from DistanceMatrix when given, otherwise from the
// great-circle distance between consecutive route locations.
type FuelRequest struct {
	Vehicles       []common.Vehicle    `json:"vehicles" validate:"required,min=1,dive"`
	Routes         [][]common.Location `json:"routes" validate:"required,min=1,dive,min=1"`
	FuelStations   []common.Location   `json:"fuel_stations" validate:"required,min=1,dive"`
	FuelPrices     []float64           `json:"fuel_prices" validate:"required,dive,min=0"`
	DistanceMatrix [][]float64         `json:"distance_matrix,omitempty"`
	Constraints    FuelLimits          `json:"constraints"`
}

// FuelLimits is the usable tank band.
type FuelLimits struct {
	MinFuelLevel float64 `json:"min_fuel_level" validate:"min=0"`
	MaxFuelLevel float64 `json:"max_fuel_level" validate:"gtfield=MinFuelLevel"`
}

// routeDistances returns the length of every route.
func (r *FuelRequest) routeDistances() ([]float64, error) {
	matrix := routing.NewMatrix(r.DistanceMatrix, nil)
	out := make([]float64, len(r.Routes))
	for i, route := range r.Routes {
		for j := 1; j < len(route); j++ {
			if len(r.DistanceMatrix) == 0 {
				out[i] += common.HaversineKM(route[j-1], route[j])
				continue
			}
			d, err := matrix.Distance(route[j-1].ID, route[j].ID)
			if err != nil {
				return nil, err
			}
			out[i] += d
		}
	}
	return out, nil
}

func (r *FuelRequest) check() error {
	if len(r.FuelPrices) != len(r.FuelStations) {
		return errors.Validationf("fuel_prices has %d entries for %d stations", len(r.FuelPrices), len(r.FuelStations)).
			WithDetail("field=fuel_prices")
	}
	if r.Constraints.MaxFuelLevel <= r.Constraints.MinFuelLevel {
		return errors.Validation("max_fuel_level must exceed min_fuel_level").WithDetail("field=constraints.max_fuel_level")
	}
	for v, veh := range r.Vehicles {
		if veh.FuelEfficiency <= 0 {
			return errors.Validationf("vehicle %d has no fuel efficiency", veh.ID).
				WithDetailf("field=vehicles[%d].fuel_efficiency", v)
		}
	}
	return nil
}

func stopVar(v, route, station int) string { return fmt.Sprintf("x_%d_%d_%d", v, route, station) }

func routeID(route []common.Location, index int) int {
	if len(route) == 0 {
		return index
	}
	return route[0].ID
}

// BuildFuel compiles r into a binary model: the stops chosen on a route must
// refill at least the fuel the route burns.
func BuildFuel(r *FuelRequest) (*model.Model, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	distances, err := r.routeDistances()
	if err != nil {
		return nil, err
	}
	tank := r.Constraints.MaxFuelLevel - r.Constraints.MinFuelLevel

	b := model.NewBuilder("fuel_optimization").Describe("choose refuelling stops per vehicle and route")
	var objective []model.Term
	for v, veh := range r.Vehicles {
		for i := range r.Routes {
			var stops []model.Term
			for s, price := range r.FuelPrices {
				x := b.Binary(stopVar(v, i, s))
				stops = append(stops, model.T(tank, x))
				objective = append(objective, model.T(price, x))
			}
			b.CoverSum(fmt.Sprintf("fuel_%d_%d", v, i), stops, distances[i]/veh.FuelEfficiency)
		}
	}
	b.Minimize(objective)
	return b.Model()
}

// RefuelStop is one station visit.
type RefuelStop struct {
	VehicleID int     `json:"vehicle_id"`
	RouteID   int     `json:"route_id"`
	StationID int     `json:"station_id"`
	Price     float64 `json:"price"`
}

// RouteFuel is the fuel need of one route for one vehicle.
type RouteFuel struct {
	VehicleID  int     `json:"vehicle_id"`
	RouteID    int     `json:"route_id"`
	Distance   float64 `json:"distance"`
	FuelNeeded float64 `json:"fuel_needed"`
}

// FuelSolution is the normalized fuel answer.
type FuelSolution struct {
	RefuelStops []RefuelStop `json:"refuel_stops"`
	Routes      []RouteFuel  `json:"routes"`
	TotalCost   float64      `json:"total_cost"`
}

// NormalizeFuel reads the chosen stops back by vehicle, route and station.
func NormalizeFuel(r *FuelRequest, sol *model.Solution) *FuelSolution {
	distances, err := r.routeDistances()
	if err != nil {
		return nil
	}
	out := &FuelSolution{RefuelStops: []RefuelStop{}, Routes: []RouteFuel{}}
	for v, veh := range r.Vehicles {
		for i, route := range r.Routes {
			id := routeID(route, i)
			need := 0.0
			if veh.FuelEfficiency > 0 {
				need = distances[i] / veh.FuelEfficiency
			}
			out.Routes = append(out.Routes, RouteFuel{VehicleID: veh.ID, RouteID: id, Distance: distances[i], FuelNeeded: need})
			for s, station := range r.FuelStations {
				if sol.Selected(stopVar(v, i, s)) {
					out.RefuelStops = append(out.RefuelStops, RefuelStop{
						VehicleID: veh.ID, RouteID: id, StationID: station.ID, Price: r.FuelPrices[s],
					})
					out.TotalCost += r.FuelPrices[s]
				}
			}
		}
	}
	return out
}
