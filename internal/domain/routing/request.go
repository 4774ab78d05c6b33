package routing

import (
	"math"

	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// Toggles switches optional dimensions off.  Absent means on.
type Toggles struct {
	CapacityConstraint   *bool `json:"capacity_constraint,omitempty"`
	TimeWindowConstraint *bool `json:"time_window_constraint,omitempty"`
}

// Request is the generic "vrp" payload.
type Request struct {
	Locations         []common.Location `json:"locations"`
	Vehicles          int               `json:"vehicles" validate:"required,min=1"`
	Depot             int               `json:"depot" validate:"min=0"`
	DistanceMatrix    [][]float64       `json:"distance_matrix" validate:"required,min=1"`
	Demands           []float64         `json:"demands"`
	VehicleCapacities []float64         `json:"vehicle_capacities"`
	TimeWindows       [][2]float64      `json:"time_windows"`
	ServiceTimes      []float64         `json:"service_times"`
	MaxRouteTime      float64           `json:"max_route_time" validate:"min=0"`
	Constraints       Toggles           `json:"constraints"`
}

// Problem converts r into a routing Problem.
func (r *Request) Problem() (*Problem, error) {
	caps := make([]float64, r.Vehicles)
	switch {
	case r.Constraints.CapacityConstraint != nil && !*r.Constraints.CapacityConstraint,
		len(r.VehicleCapacities) == 0:
		for i := range caps {
			caps[i] = math.Inf(1)
		}
	case len(r.VehicleCapacities) != r.Vehicles:
		return nil, errors.Validationf("vehicle_capacities has %d entries for %d vehicles", len(r.VehicleCapacities), r.Vehicles).
			WithDetail("field=vehicle_capacities")
	default:
		copy(caps, r.VehicleCapacities)
	}
	p := &Problem{
		Depot:          r.Depot,
		Distances:      r.DistanceMatrix,
		Demands:        r.Demands,
		Capacities:     caps,
		TimeWindows:    r.TimeWindows,
		ServiceTimes:   r.ServiceTimes,
		MaxRouteTime:   r.MaxRouteTime,
		EnforceWindows: len(r.TimeWindows) > 0 && (r.Constraints.TimeWindowConstraint == nil || *r.Constraints.TimeWindowConstraint),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(r.Locations) > 0 && len(r.Locations) != p.NumNodes() {
		return nil, errors.Validationf("locations has %d entries, want %d", len(r.Locations), p.NumNodes()).
			WithDetail("field=locations")
	}
	return p, nil
}

// RouteView is one route of a normalized routing answer.
type RouteView struct {
	VehicleID int        `json:"vehicle_id"`
	Route     []StopView `json:"route"`
	Distance  float64    `json:"distance"`
	Load      float64    `json:"load"`
}

// StopView is one stop addressed by location id.
type StopView struct {
	LocationID  int     `json:"location_id"`
	ArrivalTime float64 `json:"arrival_time"`
	Load        float64 `json:"load"`
}

// Solution is the normalized routing answer.
type Solution struct {
	Routes        []RouteView `json:"routes"`
	TotalDistance float64     `json:"total_distance"`
	Unserved      []int       `json:"unserved"`
}

// Normalize maps plan node indices back to location ids.  ids may be nil,
// in which case node indices are reported.
func Normalize(plan *Plan, ids []int) *Solution {
	id := func(node int) int {
		if node < len(ids) {
			return ids[node]
		}
		return node
	}
	out := &Solution{
		Routes:        make([]RouteView, 0, len(plan.Routes)),
		TotalDistance: plan.TotalDistance,
		Unserved:      make([]int, 0, len(plan.Unserved)),
	}
	for _, r := range plan.Routes {
		view := RouteView{VehicleID: r.Vehicle, Distance: r.Distance, Load: r.Load}
		for _, s := range r.Stops {
			view.Route = append(view.Route, StopView{LocationID: id(s.Node), ArrivalTime: s.Arrival, Load: s.Load})
		}
		out.Routes = append(out.Routes, view)
	}
	for _, n := range plan.Unserved {
		out.Unserved = append(out.Unserved, id(n))
	}
	return out
}

// LocationIDs returns the id of each location, or nil when none are given.
func (r *Request) LocationIDs() []int {
	if len(r.Locations) == 0 {
		return nil
	}
	ids := make([]int, len(r.Locations))
	for i, l := range r.Locations {
		ids[i] = l.ID
	}
	return ids
}

// Matrix addresses a square distance matrix by location id.  Without an
// explicit location list, ids are the row indices themselves.
type Matrix struct {
	values [][]float64
	index  map[int]int
}

// NewMatrix indexes values by the ids of locations.
func NewMatrix(values [][]float64, locations []common.Location) Matrix {
	m := Matrix{values: values}
	if len(locations) > 0 {
		m.index = make(map[int]int, len(locations))
		for i, l := range locations {
			m.index[l.ID] = i
		}
	}
	return m
}

// Row returns the matrix row of location id.
func (m Matrix) Row(id int) (int, bool) {
	if m.index != nil {
		i, ok := m.index[id]
		return i, ok && i < len(m.values)
	}
	return id, id >= 0 && id < len(m.values)
}

// Distance returns the distance between two location ids.
func (m Matrix) Distance(from, to int) (float64, error) {
	i, ok := m.Row(from)
	if !ok {
		return 0, errors.Validationf("location %d is not in the distance matrix", from).WithDetail("field=distance_matrix")
	}
	j, ok := m.Row(to)
	if !ok || j >= len(m.values[i]) {
		return 0, errors.Validationf("location %d is not in the distance matrix", to).WithDetail("field=distance_matrix")
	}
	return m.values[i][j], nil
}

// Between returns the square matrix of distances between ids, in order.
func (m Matrix) Between(ids []int) ([][]float64, error) {
	d := make([][]float64, len(ids))
	for a := range ids {
		d[a] = make([]float64, len(ids))
		for b := range ids {
			v, err := m.Distance(ids[a], ids[b])
			if err != nil {
				return nil, err
			}
			d[a][b] = v
		}
	}
	return d, nil
}
