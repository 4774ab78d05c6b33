// Package routing holds the capacitated, time-windowed vehicle-routing
// structure consumed by the combinatorial capability, and the generic
// routing request that compiles into it.
package routing

import (
	"context"
	"math"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Problem is a single-depot routing instance.  Node indices address the
// distance matrix; node Depot has no demand.
type Problem struct {
	Depot          int
	Distances      [][]float64
	Demands        []float64
	Capacities     []float64 // one per vehicle
	TimeWindows    [][2]float64
	ServiceTimes   []float64
	MaxRouteTime   float64 // 0 = unlimited
	EnforceWindows bool
}

// NumNodes returns the number of nodes.
func (p *Problem) NumNodes() int { return len(p.Distances) }

// NumVehicles returns the number of vehicles.
func (p *Problem) NumVehicles() int { return len(p.Capacities) }

// Validate checks that the instance is structurally consistent.
func (p *Problem) Validate() error {
	n := len(p.Distances)
	if n == 0 {
		return errors.Validation("distance matrix must not be empty").WithDetail("field=distance_matrix")
	}
	for i, row := range p.Distances {
		if len(row) != n {
			return errors.Validationf("distance matrix row %d has %d entries, want %d", i, len(row), n).
				WithDetail("field=distance_matrix")
		}
	}
	if p.Depot < 0 || p.Depot >= n {
		return errors.Validationf("depot %d is outside the matrix", p.Depot).WithDetail("field=depot")
	}
	if len(p.Capacities) == 0 {
		return errors.Validation("at least one vehicle is required").WithDetail("field=vehicles")
	}
	if p.Demands != nil && len(p.Demands) != n {
		return errors.Validationf("demands has %d entries, want %d", len(p.Demands), n).WithDetail("field=demands")
	}
	if p.TimeWindows != nil && len(p.TimeWindows) != n {
		return errors.Validationf("time_windows has %d entries, want %d", len(p.TimeWindows), n).WithDetail("field=time_windows")
	}
	if p.ServiceTimes != nil && len(p.ServiceTimes) != n {
		return errors.Validationf("service_times has %d entries, want %d", len(p.ServiceTimes), n).WithDetail("field=service_times")
	}
	return nil
}

// Demand returns the demand of node i.
func (p *Problem) Demand(i int) float64 {
	if p.Demands == nil {
		return 0
	}
	return p.Demands[i]
}

// Service returns the service time of node i.
func (p *Problem) Service(i int) float64 {
	if p.ServiceTimes == nil {
		return 0
	}
	return p.ServiceTimes[i]
}

// Window returns the time window of node i, unbounded when windows are off.
func (p *Problem) Window(i int) (float64, float64) {
	if !p.EnforceWindows || p.TimeWindows == nil {
		return 0, math.Inf(1)
	}
	return p.TimeWindows[i][0], p.TimeWindows[i][1]
}

// Stop is one visit on a route.
type Stop struct {
	Node      int     `json:"location_id"`
	Arrival   float64 `json:"arrival_time"`
	Load      float64 `json:"load"`
	Departure float64 `json:"departure_time"`
}

// Route is one vehicle's tour, depot to depot.
type Route struct {
	Vehicle  int     `json:"vehicle_id"`
	Stops    []Stop  `json:"route"`
	Distance float64 `json:"distance"`
	Load     float64 `json:"load"`
	Duration float64 `json:"duration"`
}

// Plan is the outcome of the routing capability.
type Plan struct {
	Status        model.Status `json:"status"`
	Routes        []Route      `json:"routes"`
	TotalDistance float64      `json:"total_distance"`
	Unserved      []int        `json:"unserved"`
}

// Capability solves routing problems.
type Capability interface {
	Route(ctx context.Context, p *Problem) (*Plan, error)
}
