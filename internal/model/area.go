package model

// Tier buckets areas by population so the planner spends the paid search
// budget on the densest markets first.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
	// TierSkip marks areas too small to be worth a paid search call.
	// Skipped areas are never planned regardless of job settings.
	TierSkip Tier = "skip"
)

// Priority returns the scheduling rank of the tier, 1 being highest.
func (t Tier) Priority() int {
	switch t {
	case TierHigh:
		return 1
	case TierMedium:
		return 2
	case TierLow:
		return 3
	default:
		return 4
	}
}

// Area is a named geographic unit a search query can be scoped to,
// typically a city or town.
type Area struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Country    string `json:"country"`
	Population *int64 `json:"population,omitempty"` // nil when the reference file had no figure
}
