package vrp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// seventeenNodes is the classic 17-location capacitated routing instance.
var seventeenNodes = [][]float64{
	{0, 548, 776, 696, 582, 274, 502, 194, 308, 194, 536, 502, 388, 354, 468, 776, 662},
	{548, 0, 684, 308, 194, 502, 730, 354, 696, 742, 1084, 594, 480, 674, 1016, 868, 1210},
	{776, 684, 0, 992, 878, 502, 274, 810, 468, 742, 400, 1278, 1164, 1130, 788, 1552, 754},
	{696, 308, 992, 0, 114, 650, 878, 502, 844, 890, 1232, 514, 628, 822, 1164, 560, 1358},
	{582, 194, 878, 114, 0, 536, 764, 388, 730, 776, 1118, 400, 514, 708, 1050, 674, 1244},
	{274, 502, 502, 650, 536, 0, 228, 308, 194, 240, 582, 776, 662, 628, 514, 1050, 708},
	{502, 730, 274, 878, 764, 228, 0, 536, 194, 468, 354, 1004, 890, 856, 514, 1278, 480},
	{194, 354, 810, 502, 388, 308, 536, 0, 342, 388, 730, 468, 354, 320, 662, 742, 856},
	{308, 696, 468, 844, 730, 194, 194, 342, 0, 274, 388, 810, 696, 662, 320, 1084, 514},
	{194, 742, 742, 890, 776, 240, 468, 388, 274, 0, 342, 536, 422, 388, 274, 810, 468},
	{536, 1084, 400, 1232, 1118, 582, 354, 730, 388, 342, 0, 878, 764, 730, 388, 1152, 354},
	{502, 594, 1278, 514, 400, 776, 1004, 468, 810, 536, 878, 0, 114, 308, 650, 274, 844},
	{388, 480, 1164, 628, 514, 662, 890, 354, 696, 422, 764, 114, 0, 194, 536, 388, 730},
	{354, 674, 1130, 822, 708, 628, 856, 320, 662, 388, 730, 308, 194, 0, 342, 422, 536},
	{468, 1016, 788, 1164, 1050, 514, 514, 662, 320, 274, 388, 650, 536, 342, 0, 764, 194},
	{776, 868, 1552, 560, 674, 1050, 1278, 742, 1084, 810, 1152, 274, 388, 422, 764, 0, 798},
	{662, 1210, 754, 1358, 1244, 708, 480, 856, 514, 468, 354, 844, 730, 536, 194, 798, 0},
}

func capacitated() *routing.Problem {
	demands := make([]float64, 17)
	for i := 1; i < 17; i++ {
		demands[i] = 1
	}
	return &routing.Problem{
		Depot:      0,
		Distances:  seventeenNodes,
		Demands:    demands,
		Capacities: []float64{5, 5, 5, 5},
	}
}

func TestRoute_ServesEveryCustomerOnce(t *testing.T) {
	p := capacitated()
	plan, err := NewSolver(nil).Route(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFeasible, plan.Status)
	assert.Empty(t, plan.Unserved)

	seen := make(map[int]int)
	var total float64
	for _, r := range plan.Routes {
		assert.LessOrEqual(t, r.Load, 5.0)
		require.GreaterOrEqual(t, len(r.Stops), 3)
		assert.Equal(t, 0, r.Stops[0].Node)
		assert.Equal(t, 0, r.Stops[len(r.Stops)-1].Node)

		var dist float64
		for i := 1; i < len(r.Stops); i++ {
			dist += seventeenNodes[r.Stops[i-1].Node][r.Stops[i].Node]
		}
		assert.InDelta(t, dist, r.Distance, 1e-9)
		for _, s := range r.Stops[1 : len(r.Stops)-1] {
			seen[s.Node]++
		}
		total += r.Distance
	}
	assert.Len(t, seen, 16)
	for node, count := range seen {
		assert.Equal(t, 1, count, "node %d", node)
	}
	assert.InDelta(t, total, plan.TotalDistance, 1e-9)
}

func TestRoute_TimeWindowsAndWaiting(t *testing.T) {
	p := &routing.Problem{
		Depot: 0,
		Distances: [][]float64{
			{0, 2, 3},
			{2, 0, 4},
			{3, 4, 0},
		},
		Capacities:     []float64{10},
		TimeWindows:    [][2]float64{{0, 100}, {5, 6}, {0, 20}},
		ServiceTimes:   []float64{0, 1, 1},
		EnforceWindows: true,
	}
	plan, err := NewSolver(nil).Route(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, model.StatusFeasible, plan.Status)
	require.Len(t, plan.Routes, 1)
	for _, s := range plan.Routes[0].Stops {
		if s.Node == 1 {
			assert.LessOrEqual(t, s.Arrival, 6.0)
		}
	}
}

func TestRoute_UnservableCustomer(t *testing.T) {
	p := &routing.Problem{
		Depot:          0,
		Distances:      [][]float64{{0, 10}, {10, 0}},
		Capacities:     []float64{10},
		TimeWindows:    [][2]float64{{0, 100}, {0, 5}},
		EnforceWindows: true,
	}
	plan, err := NewSolver(nil).Route(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInfeasible, plan.Status)
	assert.Equal(t, []int{1}, plan.Unserved)
	assert.Empty(t, plan.Routes)
}

func TestRoute_MaxRouteTimeSplitsRoutes(t *testing.T) {
	p := &routing.Problem{
		Depot: 0,
		Distances: [][]float64{
			{0, 5, 5},
			{5, 0, 8},
			{5, 8, 0},
		},
		Capacities:   []float64{10, 10},
		MaxRouteTime: 12,
	}
	plan, err := NewSolver(nil).Route(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFeasible, plan.Status)
	assert.Len(t, plan.Routes, 2)
	assert.InDelta(t, 20.0, plan.TotalDistance, 1e-9)
}

func TestRoute_InvalidProblem(t *testing.T) {
	_, err := NewSolver(nil).Route(context.Background(), &routing.Problem{Distances: [][]float64{{0, 1}}, Capacities: []float64{1}})
	assert.True(t, errors.IsValidation(err))
}

func TestRoute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSolver(nil).Route(ctx, capacitated())
	assert.True(t, errors.IsCode(err, errors.CodeCapabilityFailure))
}
