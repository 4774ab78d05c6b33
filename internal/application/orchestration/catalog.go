package orchestration

import (
	"encoding/json"

	"github.com/turtacn/OptiFlow/internal/domain/construction"
	"github.com/turtacn/OptiFlow/internal/domain/fleet"
	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/domain/operations"
	"github.com/turtacn/OptiFlow/internal/domain/risk"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/internal/domain/workforce"
)

// Generic keys.
const (
	KeyLP  = "lp"
	KeyMIP = "mip"
)

// GenericFlow registers a bare model definition under key.
func GenericFlow(key, path, description string) Flow {
	return Flow{
		Key:         key,
		Path:        path,
		Description: description,
		Family:      FamilyGeneric,
		Kind:        KindModel,
		Request:     new(model.Definition),
		build: func(raw json.RawMessage) (*model.Model, error) {
			def, err := decodeRequest[model.Definition](raw)
			if err != nil {
				return nil, err
			}
			return model.Build(*def)
		},
	}
}

func buildRouting(r *routing.Request) (*routing.Problem, error) { return r.Problem() }

func normalizeRouting(r *routing.Request, plan *routing.Plan) *routing.Solution {
	return routing.Normalize(plan, r.LocationIDs())
}

// DefaultFlows returns every built-in flow.
func DefaultFlows() []Flow {
	return []Flow{
		GenericFlow(KeyLP, "generic", "Linear program over a bare model definition"),
		GenericFlow(KeyMIP, "generic-mip", "Mixed-integer program over a bare model definition"),

		// Fleet
		ModelFlow("vap", "vehicle-assignment", FamilyFleet,
			"Assign located tasks to vehicles and sequence each tour from the depot",
			fleet.BuildVehicleAssignment, fleet.NormalizeVehicleAssignment),
		ModelFlow("fleet_mix", "fleet-mix", FamilyFleet,
			"Choose how many vehicles of each type to operate",
			fleet.BuildFleetMix, fleet.NormalizeFleetMix),
		ModelFlow("maintenance", "maintenance", FamilyFleet,
			"Schedule maintenance tasks under facility capacity",
			fleet.BuildMaintenance, fleet.NormalizeMaintenance),
		ModelFlow("fuel", "fuel", FamilyFleet,
			"Pick refuel stops that cover each route at least cost",
			fleet.BuildFuel, fleet.NormalizeFuel),
		DirectFlow("vrp", "vehicle-routing", FamilyFleet,
			"Capacitated vehicle routing with optional time windows",
			Routed(buildRouting, normalizeRouting)),

		// Workforce
		ModelFlow("employee_schedule", "employee-schedule", FamilyWorkforce,
			"Schedule tasks onto employees and hours",
			workforce.BuildSchedule, workforce.NormalizeSchedule),
		ModelFlow("task_assignment", "task-assignment", FamilyWorkforce,
			"Assign tasks to skilled employees by priority",
			workforce.BuildTaskAssignment, workforce.NormalizeTaskAssignment),
		ModelFlow("break_schedule", "break-schedule", FamilyWorkforce,
			"Place breaks close to preferred times within work limits",
			workforce.BuildBreaks, workforce.NormalizeBreaks),
		ModelFlow("labor_cost", "labor-cost", FamilyWorkforce,
			"Complete the most tasks within budget and overtime",
			workforce.BuildLaborCost, workforce.NormalizeLaborCost),
		ModelFlow("workforce_capacity", "workforce-capacity", FamilyWorkforce,
			"Plan hires per skill to meet demand",
			workforce.BuildCapacity, workforce.NormalizeCapacity),
		ModelFlow("shift_coverage", "shift-coverage", FamilyWorkforce,
			"Cover shifts under consecutive and rest rules",
			workforce.BuildShiftCoverage, workforce.NormalizeShiftCoverage),
		ModelFlow("labor_scheduling", "labor-scheduling", FamilyWorkforce,
			"Staff shifts by cost or coverage",
			workforce.BuildLaborScheduling, workforce.NormalizeLaborScheduling),

		// Operations
		ModelFlow("equipment_allocation", "equipment-allocation", FamilyOperations,
			"Allocate equipment to tasks and locations",
			operations.BuildEquipmentAllocation, operations.NormalizeEquipmentAllocation),
		DirectFlow("material_delivery_planning", "material-delivery-planning", FamilyOperations,
			"Route unit deliveries from the depot",
			Routed(operations.BuildMaterialDelivery, operations.NormalizeMaterialDelivery)),
		DirectFlow("risk_simulation", "risk-simulation", FamilyRisk,
			"Monte-Carlo completion time of a project network",
			Simulated(risk.Simulate)),

		// Construction
		ModelFlow("crew_allocation", "crew-allocation", FamilyConstruction,
			"Assign crews to tasks by priority",
			construction.BuildCrewAllocation, construction.NormalizeCrewAllocation),
		ModelFlow("equipment_resource_planning", "equipment-resource-planning", FamilyConstruction,
			"Plan equipment use by day with move times and budget",
			construction.BuildEquipmentPlanning, construction.NormalizeEquipmentPlanning),
		ModelFlow("subcontractor_scheduling", "subcontractor-scheduling", FamilyConstruction,
			"Sequence subcontractor work to minimize makespan",
			construction.BuildSubcontractor, construction.NormalizeSubcontractor),
		DirectFlow("material_delivery_optimization", "material-delivery-optimization", FamilyConstruction,
			"Check storage and route material drops",
			Routed(construction.BuildDeliveryOptimization, construction.NormalizeDeliveryOptimization)),
		ModelFlow("portfolio_balancing", "portfolio-balancing", FamilyConstruction,
			"Spread resources across sites by weight",
			construction.BuildPortfolio, construction.NormalizePortfolio),
		DirectFlow("change_order_impact", "change-order-impact", FamilyConstruction,
			"Schedule impact of change orders",
			Simulated(construction.AnalyzeChangeOrders)),
		ModelFlow("compliance_planning", "compliance-planning", FamilyConstruction,
			"Schedule inspections outside blackout windows",
			construction.BuildCompliance, construction.NormalizeCompliance),
	}
}

// Catalog builds the default registry, optionally extended with extra flows.
func Catalog(extra ...Flow) (*Registry, error) {
	return NewRegistry(append(DefaultFlows(), extra...)...)
}
