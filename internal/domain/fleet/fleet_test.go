package fleet

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/infrastructure/solver/lp"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

func solve(t *testing.T, m *model.Model) *model.Solution {
	t.Helper()
	sol, err := lp.NewSolver(lp.Config{}, nil).Solve(context.Background(), m)
	require.NoError(t, err)
	return sol
}

func lineMatrix(n int) [][]float64 {
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := range d[i] {
			d[i][j] = math.Abs(float64(i - j))
		}
	}
	return d
}

func located(id, loc int, duration float64) common.Task {
	return common.Task{ID: id, Location: &common.Location{ID: loc}, Duration: duration}
}

// ─────────────────────────────────────────────────────────────────────────────
// Vehicle assignment
// ─────────────────────────────────────────────────────────────────────────────

func TestVehicleAssignment_SingleVehicleTour(t *testing.T) {
	req := &VehicleAssignmentRequest{
		Vehicles:       []common.Vehicle{{ID: 7, Capacity: 10}},
		Tasks:          []common.Task{located(1, 1, 1), located(2, 2, 1), located(3, 3, 1)},
		DistanceMatrix: lineMatrix(4),
	}
	m, err := BuildVehicleAssignment(req)
	require.NoError(t, err)
	assert.True(t, m.HasIntegrality())

	sol := solve(t, m)
	require.Equal(t, model.StatusOptimal, sol.Status)
	assert.InDelta(t, 6.0, sol.Objective(), 1e-6)

	out := NormalizeVehicleAssignment(req, sol)
	require.NotNil(t, out)
	assert.Len(t, out.Assignments, 3)
	assert.InDelta(t, 6.0, out.TotalDistance, 1e-6)
	require.Len(t, out.Routes, 1)
	tasks := append([]int(nil), out.Routes[0].Tasks...)
	sort.Ints(tasks)
	assert.Equal(t, []int{1, 2, 3}, tasks)

	// Arrivals are non-decreasing and successor edges chain every task.
	for i := 1; i < len(out.Assignments); i++ {
		assert.LessOrEqual(t, out.Assignments[i-1].ArrivalTime, out.Assignments[i].ArrivalTime)
	}
	require.Len(t, out.Sequence, 2)
	assert.Equal(t, out.Sequence[0].ToTask, out.Sequence[1].FromTask)
}

func TestVehicleAssignment_FourTasksTwoVehiclesOptimal(t *testing.T) {
	req := &VehicleAssignmentRequest{
		Vehicles:       []common.Vehicle{{ID: 1, Capacity: 2}, {ID: 2, Capacity: 2}},
		Tasks:          []common.Task{located(1, 1, 1), located(2, 2, 1), located(3, 3, 1), located(4, 4, 1)},
		DistanceMatrix: lineMatrix(5),
	}
	m, err := BuildVehicleAssignment(req)
	require.NoError(t, err)

	sol := solve(t, m)
	require.Equal(t, model.StatusOptimal, sol.Status)
	assert.Less(t, sol.SolveTime, 10.0)
	// {1,2} and {3,4}: 0-1-2-0 plus 0-3-4-0.
	assert.InDelta(t, 12.0, sol.Objective(), 1e-6)

	out := NormalizeVehicleAssignment(req, sol)
	require.NotNil(t, out)
	assert.Len(t, out.Assignments, 4)
	require.Len(t, out.Routes, 2)
	for _, r := range out.Routes {
		assert.Len(t, r.Tasks, 2)
	}
	// Equal vehicles are interchangeable; task 1 is pinned to the first.
	assert.Equal(t, 1.0, sol.Values["x_0_0"])
}

func TestVehicleAssignment_CapacitySplitsTasks(t *testing.T) {
	req := &VehicleAssignmentRequest{
		Vehicles:       []common.Vehicle{{ID: 1, Capacity: 1}, {ID: 2, Capacity: 1}},
		Tasks:          []common.Task{located(10, 1, 1), located(20, 2, 1)},
		DistanceMatrix: lineMatrix(3),
	}
	m, err := BuildVehicleAssignment(req)
	require.NoError(t, err)
	sol := solve(t, m)
	require.Equal(t, model.StatusOptimal, sol.Status)

	out := NormalizeVehicleAssignment(req, sol)
	perVehicle := map[int]int{}
	for _, a := range out.Assignments {
		perVehicle[a.VehicleID]++
	}
	assert.Equal(t, map[int]int{1: 1, 2: 1}, perVehicle)
	assert.Empty(t, out.Sequence)
	assert.Len(t, out.Routes, 2)
}

func TestVehicleAssignment_TimeWindowOrdersTour(t *testing.T) {
	late := located(2, 1, 1)
	late.TimeWindow = []float64{10, 20}
	req := &VehicleAssignmentRequest{
		Vehicles:       []common.Vehicle{{ID: 1}},
		Tasks:          []common.Task{late, located(1, 2, 1)},
		DistanceMatrix: lineMatrix(3),
	}
	m, err := BuildVehicleAssignment(req)
	require.NoError(t, err)
	sol := solve(t, m)
	require.Equal(t, model.StatusOptimal, sol.Status)

	out := NormalizeVehicleAssignment(req, sol)
	require.Len(t, out.Assignments, 2)
	for _, a := range out.Assignments {
		if a.TaskID == 2 {
			assert.GreaterOrEqual(t, a.ArrivalTime, 10.0-1e-6)
			assert.LessOrEqual(t, a.ArrivalTime, 20.0+1e-6)
		}
	}
}

func TestVehicleAssignment_MissingLocation(t *testing.T) {
	req := &VehicleAssignmentRequest{
		Vehicles:       []common.Vehicle{{ID: 1}},
		Tasks:          []common.Task{{ID: 1, Duration: 1}},
		DistanceMatrix: lineMatrix(2),
	}
	_, err := BuildVehicleAssignment(req)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "tasks[0].location")
}

func TestVehicleAssignment_LocationOutsideMatrix(t *testing.T) {
	req := &VehicleAssignmentRequest{
		Vehicles:       []common.Vehicle{{ID: 1}},
		Tasks:          []common.Task{located(1, 9, 1)},
		DistanceMatrix: lineMatrix(2),
	}
	_, err := BuildVehicleAssignment(req)
	assert.True(t, errors.IsValidation(err))
}

func TestVehicleAssignment_DecodesOriginalPayload(t *testing.T) {
	payload := `{
		"vehicles": [{"id": 1, "type": "truck", "capacity": 8, "operating_cost": 50}],
		"tasks": [{"id": 1, "location": {"id": 1, "latitude": 0, "longitude": 0}, "duration": 2, "time_window": [0, 10]}],
		"locations": [{"id": 0, "latitude": 0, "longitude": 0}, {"id": 1, "latitude": 0, "longitude": 0}],
		"distance_matrix": [[0, 4], [4, 0]],
		"constraints": {"max_distance": 100, "max_working_hours": 12}
	}`
	var req VehicleAssignmentRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	m, err := BuildVehicleAssignment(&req)
	require.NoError(t, err)
	sol := solve(t, m)
	require.Equal(t, model.StatusOptimal, sol.Status)
	assert.InDelta(t, 8.0, NormalizeVehicleAssignment(&req, sol).TotalDistance, 1e-6)
}

// ─────────────────────────────────────────────────────────────────────────────
// Fleet mix
// ─────────────────────────────────────────────────────────────────────────────

func TestFleetMix_CheapestCover(t *testing.T) {
	req := &FleetMixRequest{
		VehicleTypes: []VehicleType{
			{ID: 1, Type: "van", Capacity: 10, Cost: 100},
			{ID: 2, Type: "truck", Capacity: 25, Cost: 200},
		},
		DemandForecast: []float64{40, 60},
	}
	m, err := BuildFleetMix(req)
	require.NoError(t, err)
	sol := solve(t, m)
	require.Equal(t, model.StatusOptimal, sol.Status)

	out := NormalizeFleetMix(req, sol)
	assert.Equal(t, map[int]int{1: 1, 2: 2}, out.VehicleCounts)
	assert.Equal(t, 500.0, out.TotalCost)
	assert.Equal(t, 60.0, out.TotalCapacity)
}

func TestFleetMix_BudgetMakesInfeasible(t *testing.T) {
	budget := 100.0
	req := &FleetMixRequest{
		VehicleTypes:   []VehicleType{{ID: 1, Capacity: 10, Cost: 100}},
		DemandForecast: []float64{30},
		Constraints:    FleetMixLimits{Budget: &budget},
	}
	m, err := BuildFleetMix(req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInfeasible, solve(t, m).Status)
}

func TestFleetMix_MinVehicles(t *testing.T) {
	minimum := 3
	req := &FleetMixRequest{
		VehicleTypes: []VehicleType{{ID: 1, Capacity: 10, Cost: 100}, {ID: 2, Capacity: 10, Cost: 150}},
		Constraints:  FleetMixLimits{MinVehicles: &minimum},
	}
	m, err := BuildFleetMix(req)
	require.NoError(t, err)
	out := NormalizeFleetMix(req, solve(t, m))
	assert.Equal(t, 3, out.VehicleCounts[1])
	assert.Equal(t, 0, out.VehicleCounts[2])
}

// ─────────────────────────────────────────────────────────────────────────────
// Maintenance
// ─────────────────────────────────────────────────────────────────────────────

func maintenanceRequest() *MaintenanceRequest {
	return &MaintenanceRequest{
		Vehicles: []common.Vehicle{
			{ID: 1, MaintenanceInterval: 2},
			{ID: 2, MaintenanceInterval: 3},
		},
		MaintenanceTasks: []MaintenanceTask{
			{ID: 100, VehicleID: 1, Duration: 1},
			{ID: 200, VehicleID: 2, Duration: 1},
			{ID: 300, VehicleID: 1, Duration: 1},
		},
		MaintenanceFacilities: []common.Location{{ID: 1}},
		TimeHorizon:           5,
		Constraints:           MaintenanceLimits{MaxMaintenanceDelay: 1, FacilityCapacity: []int{1}},
	}
}

func TestMaintenance_NoDelayWhenCapacityAllows(t *testing.T) {
	req := maintenanceRequest()
	m, err := BuildMaintenance(req)
	require.NoError(t, err)
	sol := solve(t, m)
	require.Equal(t, model.StatusOptimal, sol.Status)

	out := NormalizeMaintenance(req, sol)
	require.Len(t, out.Schedule, 3)
	assert.Equal(t, 0.0, out.TotalDelay)
	used := map[int]bool{}
	for i, s := range out.Schedule {
		assert.False(t, used[s.Time], "slot %d used twice", s.Time)
		used[s.Time] = true
		if i > 0 {
			assert.LessOrEqual(t, out.Schedule[i-1].Time, s.Time)
		}
	}
}

func TestMaintenance_VariablesOnlyForOwner(t *testing.T) {
	m, err := BuildMaintenance(maintenanceRequest())
	require.NoError(t, err)
	assert.Len(t, m.Variables, 3*5)
}

func TestMaintenance_UnknownVehicle(t *testing.T) {
	req := maintenanceRequest()
	req.MaintenanceTasks[1].VehicleID = 99
	_, err := BuildMaintenance(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance_tasks[1].vehicle_id")
}

func TestMaintenance_CapacityMismatch(t *testing.T) {
	req := maintenanceRequest()
	req.Constraints.FacilityCapacity = []int{1, 2}
	_, err := BuildMaintenance(req)
	assert.True(t, errors.IsValidation(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Fuel
// ─────────────────────────────────────────────────────────────────────────────

func TestFuel_PicksCheapestSufficientStops(t *testing.T) {
	req := &FuelRequest{
		Vehicles:       []common.Vehicle{{ID: 1, FuelEfficiency: 10}},
		Routes:         [][]common.Location{{{ID: 0}, {ID: 1}, {ID: 2}}},
		FuelStations:   []common.Location{{ID: 11}, {ID: 12}, {ID: 13}},
		FuelPrices:     []float64{1.5, 1.2, 1.4},
		DistanceMatrix: [][]float64{{0, 300, 600}, {300, 0, 300}, {600, 300, 0}},
		Constraints:    FuelLimits{MinFuelLevel: 10, MaxFuelLevel: 50},
	}
	m, err := BuildFuel(req)
	require.NoError(t, err)
	sol := solve(t, m)
	require.Equal(t, model.StatusOptimal, sol.Status)

	out := NormalizeFuel(req, sol)
	require.Len(t, out.RefuelStops, 2)
	stations := []int{out.RefuelStops[0].StationID, out.RefuelStops[1].StationID}
	assert.ElementsMatch(t, []int{12, 13}, stations)
	assert.InDelta(t, 2.6, out.TotalCost, 1e-9)
	require.Len(t, out.Routes, 1)
	assert.Equal(t, 600.0, out.Routes[0].Distance)
	assert.Equal(t, 60.0, out.Routes[0].FuelNeeded)
}

func TestFuel_HaversineFallback(t *testing.T) {
	req := &FuelRequest{
		Vehicles:     []common.Vehicle{{ID: 1, FuelEfficiency: 10}},
		Routes:       [][]common.Location{{{ID: 0, Latitude: 0, Longitude: 0}, {ID: 1, Latitude: 0, Longitude: 1}}},
		FuelStations: []common.Location{{ID: 1}},
		FuelPrices:   []float64{2},
		Constraints:  FuelLimits{MinFuelLevel: 0, MaxFuelLevel: 5},
	}
	distances, err := req.routeDistances()
	require.NoError(t, err)
	assert.InDelta(t, 111.19, distances[0], 0.1)

	m, err := BuildFuel(req)
	require.NoError(t, err)
	// 11.1 litres needed but a single stop refills only 5.
	assert.Equal(t, model.StatusInfeasible, solve(t, m).Status)
}

func TestFuel_Validation(t *testing.T) {
	base := func() *FuelRequest {
		return &FuelRequest{
			Vehicles:     []common.Vehicle{{ID: 1, FuelEfficiency: 10}},
			Routes:       [][]common.Location{{{ID: 0}, {ID: 1}}},
			FuelStations: []common.Location{{ID: 1}},
			FuelPrices:   []float64{2},
			Constraints:  FuelLimits{MaxFuelLevel: 5},
		}
	}
	r := base()
	r.FuelPrices = []float64{1, 2}
	_, err := BuildFuel(r)
	assert.Contains(t, err.Error(), "fuel_prices")

	r = base()
	r.Vehicles[0].FuelEfficiency = 0
	_, err = BuildFuel(r)
	assert.Contains(t, err.Error(), "vehicles[0].fuel_efficiency")

	r = base()
	r.Constraints = FuelLimits{MinFuelLevel: 5, MaxFuelLevel: 5}
	_, err = BuildFuel(r)
	assert.True(t, errors.IsValidation(err))
}
