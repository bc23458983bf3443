// Package catalog holds the area snapshot jobs plan against and the
// population tiering that ranks it.
package catalog

import (
	"sort"
	"strings"

	"github.com/sells-group/prospector/internal/model"
)

// Catalog is an immutable snapshot of candidate areas. A job plans
// against the snapshot it was submitted with; a later refresh never
// reshuffles an existing plan.
type Catalog struct {
	policy *Policy
	areas  []model.Area
}

// New builds a catalog over a copy of the given areas. A nil policy
// means the built-in defaults.
func New(policy *Policy, areas []model.Area) *Catalog {
	if policy == nil {
		policy = DefaultPolicy()
	}
	cp := make([]model.Area, len(areas))
	copy(cp, areas)
	return &Catalog{policy: policy, areas: cp}
}

// Policy returns the tiering policy the catalog ranks with.
func (c *Catalog) Policy() *Policy { return c.policy }

// Len returns the number of areas in the snapshot.
func (c *Catalog) Len() int { return len(c.areas) }

// Tier assigns the area's tier under the catalog's policy.
func (c *Catalog) Tier(a model.Area) model.Tier {
	return c.policy.Tier(a.Population)
}

// Select returns the areas eligible for a job, ordered population
// descending then name ascending, so two runs over the same snapshot
// produce the same plan. Unknown populations order last and fail any
// positive population floor. SKIP areas never qualify. An empty result
// is valid: such a job completes immediately with zero leads.
func (c *Catalog) Select(country string, minPopulation int64, maxPriority int) []model.Area {
	if maxPriority <= 0 {
		maxPriority = model.TierLow.Priority()
	}

	out := make([]model.Area, 0, len(c.areas))
	for _, a := range c.areas {
		if country != "" && !strings.EqualFold(a.Country, country) {
			continue
		}
		tier := c.policy.Tier(a.Population)
		if tier == model.TierSkip || tier.Priority() > maxPriority {
			continue
		}
		if minPopulation > 0 && (a.Population == nil || *a.Population < minPopulation) {
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		pi, pj := popKey(out[i]), popKey(out[j])
		if pi != pj {
			return pi > pj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func popKey(a model.Area) int64 {
	if a.Population == nil {
		return -1
	}
	return *a.Population
}
