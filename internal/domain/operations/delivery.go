package operations

import (
	"math"

	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// MaterialDeliveryRequest routes deliveries out of a depot.  The depot is the
// first location; every delivery carries one unit of load.
type MaterialDeliveryRequest struct {
	Vehicles       []common.Vehicle  `json:"vehicles" validate:"required,min=1,dive"`
	Deliveries     []common.Task     `json:"deliveries" validate:"required,min=1,dive"`
	Locations      []common.Location `json:"locations,omitempty" validate:"dive"`
	TimeWindows    [][]float64       `json:"time_windows,omitempty"`
	DistanceMatrix [][]float64       `json:"distance_matrix" validate:"required,min=1"`
	Constraints    DeliveryRules     `json:"constraints"`
	Objective      string            `json:"objective,omitempty" validate:"omitempty,oneof=minimize_total_distance"`
}

// DeliveryRules are the optional routing limits.
type DeliveryRules struct {
	VehicleCapacity     float64     `json:"vehicle_capacity,omitempty" validate:"min=0"`
	MaxRouteTime        float64     `json:"max_route_time,omitempty" validate:"min=0"`
	DeliveryTimeWindows [][]float64 `json:"delivery_time_windows,omitempty"`
}

// ApplyDefaults fills the objective.
func (r *MaterialDeliveryRequest) ApplyDefaults() {
	if r.Objective == "" {
		r.Objective = "minimize_total_distance"
	}
}

// depot returns the depot location id.
func (r *MaterialDeliveryRequest) depot() int {
	if len(r.Locations) > 0 {
		return r.Locations[0].ID
	}
	return 0
}

// window returns the delivery window of delivery k.  The delivery's own
// window wins over constraints.delivery_time_windows, which wins over
// time_windows.
func (r *MaterialDeliveryRequest) window(k int) ([2]float64, bool, error) {
	d := r.Deliveries[k]
	var w []float64
	field := ""
	switch {
	case len(d.TimeWindow) > 0:
		w, field = d.TimeWindow, "deliveries"
	case k < len(r.Constraints.DeliveryTimeWindows):
		w, field = r.Constraints.DeliveryTimeWindows[k], "constraints.delivery_time_windows"
	case k < len(r.TimeWindows):
		w, field = r.TimeWindows[k], "time_windows"
	default:
		return [2]float64{0, math.Inf(1)}, false, nil
	}
	if len(w) != 2 || w[0] > w[1] {
		return [2]float64{}, false, errors.Validationf("delivery %d has a malformed time window", d.ID).
			WithDetailf("field=%s[%d]", field, k)
	}
	return [2]float64{w[0], w[1]}, true, nil
}

// BuildMaterialDelivery compiles r into a routing problem.  Node 0 is the
// depot and node k+1 is delivery k.
func BuildMaterialDelivery(r *MaterialDeliveryRequest) (*routing.Problem, error) {
	demands := make([]float64, len(r.Deliveries))
	for k := range demands {
		demands[k] = 1
	}
	return DeliveryProblem(r.Vehicles, r.Deliveries, demands, DeliveryNetwork{
		Depot:        r.depot(),
		Matrix:       routing.NewMatrix(r.DistanceMatrix, r.Locations),
		Capacity:     r.Constraints.VehicleCapacity,
		MaxRouteTime: r.Constraints.MaxRouteTime,
		Window:       r.window,
	})
}

// DeliveryNetwork is the shared shape of depot-based delivery routing.
type DeliveryNetwork struct {
	Depot        int
	Matrix       routing.Matrix
	Capacity     float64 // fallback vehicle capacity, 0 = unlimited
	MaxRouteTime float64
	Window       func(k int) ([2]float64, bool, error)
}

// DeliveryProblem builds the routing problem for stops with the given
// demands.  A vehicle's own capacity wins over the network fallback.
func DeliveryProblem(vehicles []common.Vehicle, stops []common.Task, demands []float64, n DeliveryNetwork) (*routing.Problem, error) {
	ids := []int{n.Depot}
	for k, s := range stops {
		if s.Location == nil {
			return nil, errors.Validationf("delivery %d has no location", s.ID).WithDetailf("field=deliveries[%d].location", k)
		}
		ids = append(ids, s.Location.ID)
	}
	d, err := n.Matrix.Between(ids)
	if err != nil {
		return nil, err
	}

	p := &routing.Problem{
		Depot:        0,
		Distances:    d,
		Demands:      append([]float64{0}, demands...),
		Capacities:   make([]float64, len(vehicles)),
		TimeWindows:  make([][2]float64, len(ids)),
		ServiceTimes: make([]float64, len(ids)),
		MaxRouteTime: n.MaxRouteTime,
	}
	for v, veh := range vehicles {
		switch {
		case veh.Capacity > 0:
			p.Capacities[v] = veh.Capacity
		case n.Capacity > 0:
			p.Capacities[v] = n.Capacity
		default:
			p.Capacities[v] = math.Inf(1)
		}
	}
	p.TimeWindows[0] = [2]float64{0, math.Inf(1)}
	for k, s := range stops {
		p.ServiceTimes[k+1] = s.Duration
		p.TimeWindows[k+1] = [2]float64{0, math.Inf(1)}
		if n.Window == nil {
			continue
		}
		w, ok, err := n.Window(k)
		if err != nil {
			return nil, err
		}
		if ok {
			p.TimeWindows[k+1] = w
			p.EnforceWindows = true
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DeliveryStop is one delivery on a route.
type DeliveryStop struct {
	DeliveryID  int     `json:"delivery_id"`
	LocationID  int     `json:"location_id"`
	ArrivalTime float64 `json:"arrival_time"`
	Load        float64 `json:"load"`
}

// DeliveryRoute is one vehicle's delivery run.
type DeliveryRoute struct {
	VehicleID int            `json:"vehicle_id"`
	Stops     []DeliveryStop `json:"stops"`
	Distance  float64        `json:"distance"`
	Load      float64        `json:"load"`
	Duration  float64        `json:"duration"`
}

// MaterialDeliverySolution is the normalized delivery plan.
type MaterialDeliverySolution struct {
	Routes        []DeliveryRoute `json:"routes"`
	Unserved      []int           `json:"unserved"`
	TotalDistance float64         `json:"total_distance"`
}

// NormalizeDelivery maps plan nodes back to delivery and vehicle ids.
func NormalizeDelivery(vehicles []common.Vehicle, stops []common.Task, plan *routing.Plan) *MaterialDeliverySolution {
	out := &MaterialDeliverySolution{
		Routes:        []DeliveryRoute{},
		Unserved:      []int{},
		TotalDistance: plan.TotalDistance,
	}
	for _, r := range plan.Routes {
		view := DeliveryRoute{Stops: []DeliveryStop{}, Distance: r.Distance, Load: r.Load, Duration: r.Duration}
		if r.Vehicle < len(vehicles) {
			view.VehicleID = vehicles[r.Vehicle].ID
		}
		for _, s := range r.Stops {
			if s.Node == 0 {
				continue
			}
			stop := stops[s.Node-1]
			view.Stops = append(view.Stops, DeliveryStop{
				DeliveryID:  stop.ID,
				LocationID:  stop.LocationID(),
				ArrivalTime: s.Arrival,
				Load:        s.Load,
			})
		}
		out.Routes = append(out.Routes, view)
	}
	for _, n := range plan.Unserved {
		if n > 0 && n <= len(stops) {
			out.Unserved = append(out.Unserved, stops[n-1].ID)
		}
	}
	return out
}

// NormalizeMaterialDelivery reads a routing plan back into delivery terms.
func NormalizeMaterialDelivery(r *MaterialDeliveryRequest, plan *routing.Plan) *MaterialDeliverySolution {
	return NormalizeDelivery(r.Vehicles, r.Deliveries, plan)
}
