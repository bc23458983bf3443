// Package planner turns a job spec into the frozen, ordered area plan
// the executor walks.
package planner

import (
	"github.com/sells-group/prospector/internal/catalog"
	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/model"
)

// Config holds the planning knobs.
type Config struct {
	// YieldPerPage is the expected number of usable leads from one
	// provider page. Default: 20.
	YieldPerPage int

	// SafetyFactor inflates the target before the early stop so normal
	// yield shortfall does not leave a job under target. Default: 1.5.
	SafetyFactor float64
}

// DefaultConfig returns the default planning knobs.
func DefaultConfig() Config {
	return Config{YieldPerPage: 20, SafetyFactor: 1.5}
}

// Plan is a frozen schedule: the ordered areas with their page budgets,
// and the projections the schedule was cut off at.
type Plan struct {
	Areas          []model.PlannedArea `json:"areas"`
	TotalPages     int                 `json:"total_pages"`
	EstimatedLeads int                 `json:"estimated_leads"`
	EstimatedCost  float64             `json:"estimated_cost"`
}

// Planner schedules areas for jobs.
type Planner struct {
	cfg  Config
	calc *cost.Calculator
}

// New creates a Planner. Zero config values fall back to defaults; a
// nil calculator prices with default rates.
func New(cfg Config, calc *cost.Calculator) *Planner {
	if cfg.YieldPerPage <= 0 {
		cfg.YieldPerPage = 20
	}
	if cfg.SafetyFactor <= 0 {
		cfg.SafetyFactor = 1.5
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	return &Planner{cfg: cfg, calc: calc}
}

// Plan selects and orders areas for the spec and assigns each its
// tier's page budget. Areas are included in catalog order until the
// projected yield clears target × safety factor; budgets are never
// trimmed, so the last included area may overshoot the projection.
// A non-positive target disables the early stop and schedules every
// eligible area. Identical spec and snapshot produce identical plans,
// which is what lets a resumed job replay its stored plan safely.
func (p *Planner) Plan(spec model.JobSpec, cat *catalog.Catalog) Plan {
	selected := cat.Select(spec.Country, spec.MinPopulation, spec.MaxPriority)

	plan := Plan{Areas: make([]model.PlannedArea, 0, len(selected))}
	capLeads := float64(spec.TargetLeadCount) * p.cfg.SafetyFactor

	for _, area := range selected {
		tier := cat.Tier(area)
		budget := cat.Policy().PageBudget(tier)
		if budget <= 0 {
			continue
		}
		plan.Areas = append(plan.Areas, model.PlannedArea{
			Name:       area.Name,
			Country:    area.Country,
			Population: area.Population,
			Tier:       tier,
			PageBudget: budget,
		})
		plan.TotalPages += budget
		plan.EstimatedLeads += budget * p.cfg.YieldPerPage
		if spec.TargetLeadCount > 0 && float64(plan.EstimatedLeads) >= capLeads {
			break
		}
	}

	plan.EstimatedCost = p.calc.SearchGross(plan.TotalPages)
	return plan
}
