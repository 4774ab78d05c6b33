package construction

import (
	"fmt"
	"math"

	"github.com/turtacn/OptiFlow/internal/domain/model"
)

// Resource is a pool of interchangeable units.
type Resource struct {
	ID       int     `json:"id" validate:"min=0"`
	Count    int     `json:"count" validate:"min=0"`
	UnitCost float64 `json:"unit_cost,omitempty" validate:"min=0"`
}

// PortfolioLimits bound allocations per site and overall spend.  Allocation
// maps are keyed by site id.
type PortfolioLimits struct {
	MinAllocations map[int]int `json:"min_allocations,omitempty"`
	MaxAllocations map[int]int `json:"max_allocations,omitempty"`
	Budget         *float64    `json:"budget,omitempty" validate:"omitempty,min=0"`
}

// PortfolioRequest spreads resource units over active sites.
type PortfolioRequest struct {
	Sites       []Site          `json:"sites" validate:"required,min=1,dive"`
	Resources   []Resource      `json:"resources" validate:"required,min=1,dive"`
	Weights     map[int]float64 `json:"weights,omitempty"`
	Constraints PortfolioLimits `json:"constraints"`
}

// weight is the priority of a site, 1 when unset.
func (r *PortfolioRequest) weight(siteID int) float64 {
	if w, ok := r.Weights[siteID]; ok {
		return w
	}
	return 1
}

func allocationVar(s, k int) string { return fmt.Sprintf("a_%d_%d", s, k) }

// BuildPortfolio compiles r into an integer model maximizing weighted
// allocation.  a_s_k is the number of units of resource k sent to site s.
func BuildPortfolio(r *PortfolioRequest) (*model.Model, error) {
	c := r.Constraints
	b := model.NewBuilder("portfolio_balancing").Describe("balance resource pools across sites")
	perResource := make([][]string, len(r.Resources))
	var objective, spend []model.Term
	for s, site := range r.Sites {
		var units, siteSpend []model.Term
		for k, res := range r.Resources {
			a := b.Integer(allocationVar(s, k), 0, float64(res.Count))
			perResource[k] = append(perResource[k], a)
			units = append(units, model.T(1, a))
			objective = append(objective, model.T(r.weight(site.ID), a))
			if res.UnitCost > 0 {
				siteSpend = append(siteSpend, model.T(res.UnitCost, a))
			}
		}
		spend = append(spend, siteSpend...)
		if lo, ok := c.MinAllocations[site.ID]; ok {
			b.CoverSum(fmt.Sprintf("min_%d", s), units, float64(lo))
		}
		if hi, ok := c.MaxAllocations[site.ID]; ok {
			b.CapacitySum(fmt.Sprintf("max_%d", s), units, float64(hi))
		}
		if site.Budget > 0 {
			b.CapacitySum(fmt.Sprintf("site_budget_%d", s), siteSpend, site.Budget)
		}
	}
	for k, res := range r.Resources {
		b.CapacitySum(fmt.Sprintf("pool_%d", k), model.Sum(perResource[k]...), float64(res.Count))
	}
	if c.Budget != nil {
		b.CapacitySum("budget", spend, *c.Budget)
	}
	b.Maximize(objective)
	return b.Model()
}

// Allocation is the units of one resource sent to one site.
type Allocation struct {
	SiteID     int `json:"site_id"`
	ResourceID int `json:"resource_id"`
	Units      int `json:"units"`
}

// PortfolioSolution is the normalized portfolio.  Allocations totals units
// per site id.
type PortfolioSolution struct {
	Allocations map[int]int  `json:"allocations"`
	Detail      []Allocation `json:"detail"`
	TotalWeight float64      `json:"total_weight"`
	TotalCost   float64      `json:"total_cost"`
}

// NormalizePortfolio reads integer allocations.
func NormalizePortfolio(r *PortfolioRequest, sol *model.Solution) *PortfolioSolution {
	out := &PortfolioSolution{Allocations: map[int]int{}, Detail: []Allocation{}}
	for s, site := range r.Sites {
		out.Allocations[site.ID] = 0
		for k, res := range r.Resources {
			units := int(math.Round(sol.Value(allocationVar(s, k))))
			if units == 0 {
				continue
			}
			out.Allocations[site.ID] += units
			out.Detail = append(out.Detail, Allocation{SiteID: site.ID, ResourceID: res.ID, Units: units})
			out.TotalWeight += r.weight(site.ID) * float64(units)
			out.TotalCost += res.UnitCost * float64(units)
		}
	}
	return out
}
