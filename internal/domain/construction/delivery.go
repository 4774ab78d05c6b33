package construction

import (
	"github.com/turtacn/OptiFlow/internal/domain/operations"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// Drop is a material drop-off.  Quantity is the load it takes on a vehicle
// and the space it takes in its storage facility.
type Drop struct {
	ID          int       `json:"id" validate:"min=0"`
	LocationID  int       `json:"location_id" validate:"min=0"`
	Quantity    float64   `json:"quantity" validate:"min=0"`
	TimeWindow  []float64 `json:"time_window,omitempty" validate:"omitempty,len=2"`
	ServiceTime float64   `json:"service_time,omitempty" validate:"min=0"`
	StorageID   *int      `json:"storage_id,omitempty"`
}

// Storage is an on-site storage facility.
type Storage struct {
	ID       int     `json:"id" validate:"min=0"`
	Capacity float64 `json:"capacity" validate:"min=0"`
}

// DeliveryLimits are the site and routing limits.
type DeliveryLimits struct {
	DepotID      int     `json:"depot_id,omitempty" validate:"min=0"`
	MaxRouteTime float64 `json:"max_route_time,omitempty" validate:"min=0"`
}

// DeliveryOptimizationRequest checks storage and then routes drops from the
// depot.  Distance matrix rows are location ids.
type DeliveryOptimizationRequest struct {
	Deliveries     []Drop           `json:"deliveries" validate:"required,min=1,dive"`
	Vehicles       []common.Vehicle `json:"vehicles" validate:"required,min=1,dive"`
	Storage        []Storage        `json:"storage,omitempty" validate:"dive"`
	DistanceMatrix [][]float64      `json:"distance_matrix" validate:"required,min=1"`
	Constraints    DeliveryLimits   `json:"constraints"`
}

// storageUsage sums drop quantities per facility and rejects overflow.
func (r *DeliveryOptimizationRequest) storageUsage() (map[int]float64, error) {
	usage := make(map[int]float64, len(r.Storage))
	capacity := make(map[int]float64, len(r.Storage))
	for _, s := range r.Storage {
		usage[s.ID] = 0
		capacity[s.ID] = s.Capacity
	}
	for k, d := range r.Deliveries {
		if d.StorageID == nil {
			continue
		}
		if _, ok := capacity[*d.StorageID]; !ok {
			return nil, errors.Validationf("delivery %d refers to unknown storage %d", d.ID, *d.StorageID).
				WithDetailf("field=deliveries[%d].storage_id", k)
		}
		usage[*d.StorageID] += d.Quantity
	}
	for i, s := range r.Storage {
		if usage[s.ID] > s.Capacity {
			return nil, errors.Validationf("storage %d receives %.2f, over its capacity %.2f", s.ID, usage[s.ID], s.Capacity).
				WithDetailf("field=storage[%d].capacity", i)
		}
	}
	return usage, nil
}

// stops lifts drops into routing tasks.
func (r *DeliveryOptimizationRequest) stops() []common.Task {
	out := make([]common.Task, len(r.Deliveries))
	for k, d := range r.Deliveries {
		out[k] = common.Task{
			ID:         d.ID,
			Location:   &common.Location{ID: d.LocationID},
			Duration:   d.ServiceTime,
			TimeWindow: d.TimeWindow,
		}
	}
	return out
}

// BuildDeliveryOptimization validates storage and compiles r into a routing
// problem with drop quantities as demands.
func BuildDeliveryOptimization(r *DeliveryOptimizationRequest) (*routing.Problem, error) {
	if _, err := r.storageUsage(); err != nil {
		return nil, err
	}
	stops := r.stops()
	demands := make([]float64, len(r.Deliveries))
	for k, d := range r.Deliveries {
		demands[k] = d.Quantity
	}
	return operations.DeliveryProblem(r.Vehicles, stops, demands, operations.DeliveryNetwork{
		Depot:        r.Constraints.DepotID,
		Matrix:       routing.NewMatrix(r.DistanceMatrix, nil),
		MaxRouteTime: r.Constraints.MaxRouteTime,
		Window: func(k int) ([2]float64, bool, error) {
			w := r.Deliveries[k].TimeWindow
			if len(w) != 2 {
				return [2]float64{}, false, nil
			}
			if w[0] > w[1] {
				return [2]float64{}, false, errors.Validationf("delivery %d has an inverted time window", r.Deliveries[k].ID).
					WithDetailf("field=deliveries[%d].time_window", k)
			}
			return [2]float64{w[0], w[1]}, true, nil
		},
	})
}

// DeliveryOptimizationSolution is the normalized delivery plan with storage
// usage per facility.
type DeliveryOptimizationSolution struct {
	*operations.MaterialDeliverySolution
	StorageUsage map[int]float64 `json:"storage_usage"`
}

// NormalizeDeliveryOptimization reads the plan back into drop terms.
func NormalizeDeliveryOptimization(r *DeliveryOptimizationRequest, plan *routing.Plan) *DeliveryOptimizationSolution {
	usage, err := r.storageUsage()
	if err != nil {
		usage = map[int]float64{}
	}
	return &DeliveryOptimizationSolution{
		MaterialDeliverySolution: operations.NormalizeDelivery(r.Vehicles, r.stops(), plan),
		StorageUsage:             usage,
	}
}
