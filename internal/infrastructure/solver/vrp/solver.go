// Package vrp is the in-process routing capability: cheapest feasible
// insertion followed by intra-route 2-opt.  Plans are heuristic and are never
// reported as OPTIMAL.
package vrp

import (
	"context"
	"math"
	"time"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

const epsilon = 1e-9

// Solver implements routing.Capability.
type Solver struct {
	logger logging.Logger
	// MaxImprovementPasses bounds the 2-opt loop per route.
	MaxImprovementPasses int
}

// NewSolver creates a routing Solver.
func NewSolver(logger logging.Logger) *Solver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Solver{logger: logger.Named("vrp"), MaxImprovementPasses: 50}
}

var _ routing.Capability = (*Solver)(nil)

// Route builds a plan for p.
func (s *Solver) Route(ctx context.Context, p *routing.Problem) (*routing.Plan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	routes := make([][]int, p.NumVehicles())
	pending := make([]int, 0, p.NumNodes())
	for i := 0; i < p.NumNodes(); i++ {
		if i != p.Depot {
			pending = append(pending, i)
		}
	}

	var unserved []int
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errors.CapabilityFailure("routing interrupted").WithCause(err)
		}
		best := insertion{cost: math.Inf(1)}
		bestIdx := -1
		for k, node := range pending {
			ins, ok := cheapestInsertion(p, routes, node)
			if ok && ins.cost < best.cost-epsilon {
				best, bestIdx = ins, k
			}
		}
		if bestIdx < 0 {
			unserved = append(unserved, pending...)
			break
		}
		r := routes[best.vehicle]
		r = append(r, 0)
		copy(r[best.pos+1:], r[best.pos:])
		r[best.pos] = pending[bestIdx]
		routes[best.vehicle] = r
		pending = append(pending[:bestIdx], pending[bestIdx+1:]...)
	}

	for v := range routes {
		routes[v] = s.twoOpt(p, v, routes[v])
	}

	plan := &routing.Plan{Status: model.StatusFeasible, Routes: []routing.Route{}, Unserved: []int{}}
	plan.Unserved = append(plan.Unserved, unserved...)
	if len(unserved) > 0 {
		plan.Status = model.StatusInfeasible
	}
	for v, seq := range routes {
		if len(seq) == 0 {
			continue
		}
		route, _ := simulate(p, v, seq)
		plan.Routes = append(plan.Routes, route)
		plan.TotalDistance += route.Distance
	}

	s.logger.Debug("routing plan built",
		logging.Int("nodes", p.NumNodes()),
		logging.Int("vehicles", p.NumVehicles()),
		logging.Int("routes", len(plan.Routes)),
		logging.Int("unserved", len(unserved)),
		logging.Float64("total_distance", plan.TotalDistance),
		logging.Duration("elapsed", time.Since(start)),
	)
	return plan, nil
}

type insertion struct {
	vehicle int
	pos     int
	cost    float64
}

// cheapestInsertion finds the feasible position adding the least distance.
func cheapestInsertion(p *routing.Problem, routes [][]int, node int) (insertion, bool) {
	best := insertion{cost: math.Inf(1)}
	found := false
	d := p.Distances
	for v, seq := range routes {
		for pos := 0; pos <= len(seq); pos++ {
			prev, next := p.Depot, p.Depot
			if pos > 0 {
				prev = seq[pos-1]
			}
			if pos < len(seq) {
				next = seq[pos]
			}
			delta := d[prev][node] + d[node][next] - d[prev][next]
			if delta >= best.cost-epsilon {
				continue
			}
			candidate := make([]int, 0, len(seq)+1)
			candidate = append(candidate, seq[:pos]...)
			candidate = append(candidate, node)
			candidate = append(candidate, seq[pos:]...)
			if _, ok := simulate(p, v, candidate); !ok {
				continue
			}
			best, found = insertion{vehicle: v, pos: pos, cost: delta}, true
		}
	}
	return best, found
}

// twoOpt reverses segments while that shortens the route and keeps it
// feasible.
func (s *Solver) twoOpt(p *routing.Problem, v int, seq []int) []int {
	if len(seq) < 3 {
		return seq
	}
	current, _ := simulate(p, v, seq)
	for pass := 0; pass < s.MaxImprovementPasses; pass++ {
		improved := false
		for i := 0; i < len(seq)-1; i++ {
			for j := i + 1; j < len(seq); j++ {
				candidate := append([]int(nil), seq...)
				reverse(candidate[i : j+1])
				route, ok := simulate(p, v, candidate)
				if ok && route.Distance < current.Distance-epsilon {
					seq, current, improved = candidate, route, true
				}
			}
		}
		if !improved {
			break
		}
	}
	return seq
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// simulate walks seq from and back to the depot, waiting for windows to
// open, and reports whether capacity, windows and route time all hold.
func simulate(p *routing.Problem, v int, seq []int) (routing.Route, bool) {
	route := routing.Route{Vehicle: v}
	d := p.Distances
	depotOpen, depotClose := p.Window(p.Depot)

	var load float64
	for _, n := range seq {
		load += p.Demand(n)
	}
	ok := load <= p.Capacities[v]+epsilon

	t := depotOpen
	route.Stops = append(route.Stops, routing.Stop{Node: p.Depot, Arrival: t, Load: 0, Departure: t})
	prev := p.Depot
	var carried float64
	for _, n := range seq {
		route.Distance += d[prev][n]
		arrival := t + d[prev][n]
		open, shut := p.Window(n)
		begin := math.Max(arrival, open)
		if begin > shut+epsilon {
			ok = false
		}
		t = begin + p.Service(n)
		carried += p.Demand(n)
		route.Stops = append(route.Stops, routing.Stop{Node: n, Arrival: arrival, Load: carried, Departure: t})
		prev = n
	}
	route.Distance += d[prev][p.Depot]
	t += d[prev][p.Depot]
	if t > depotClose+epsilon {
		ok = false
	}
	route.Stops = append(route.Stops, routing.Stop{Node: p.Depot, Arrival: t, Load: carried, Departure: t})
	route.Load = load
	route.Duration = t - depotOpen
	if p.MaxRouteTime > 0 && route.Duration > p.MaxRouteTime+epsilon {
		ok = false
	}
	return route, ok
}
