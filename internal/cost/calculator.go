// Package cost prices provider usage so plans can be sanity-checked
// before a job spends real money.
package cost

// Rates carries the pricing knobs for everything the engine pays for.
type Rates struct {
	Places PlacesRate `yaml:"places" mapstructure:"places"`
	Export ExportRate `yaml:"export" mapstructure:"export"`
}

// PlacesRate holds places-search pricing. Every page fetch is one billed
// search request regardless of how many results it returns.
type PlacesRate struct {
	PerSearch        float64 `yaml:"per_search" mapstructure:"per_search"`
	MonthlyFreeCalls int     `yaml:"monthly_free_calls" mapstructure:"monthly_free_calls"`
}

// ExportRate holds flat per-record pricing for downstream sinks that
// meter writes.
type ExportRate struct {
	PerRecord float64 `yaml:"per_record" mapstructure:"per_record"`
}

// Calculator prices search and export volume against a rate card.
type Calculator struct {
	rates Rates
}

// NewCalculator builds a Calculator over the given rate card.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Search returns the cost of n billed search requests, net of the
// monthly free allowance.
func (c *Calculator) Search(n int) float64 {
	billable := max(n-c.rates.Places.MonthlyFreeCalls, 0)
	return float64(billable) * c.rates.Places.PerSearch
}

// SearchGross returns the cost of n search requests ignoring the free
// allowance. Planners use the gross figure so estimates stay stable
// within a billing month.
func (c *Calculator) SearchGross(n int) float64 {
	return float64(n) * c.rates.Places.PerSearch
}

// ExportRecords returns the cost of pushing n records to a metered sink.
func (c *Calculator) ExportRecords(n int) float64 {
	return float64(n) * c.rates.Export.PerRecord
}

// DefaultRates returns the rate card used when config carries none.
func DefaultRates() Rates {
	return Rates{
		Places: PlacesRate{PerSearch: 0.032, MonthlyFreeCalls: 0},
		Export: ExportRate{PerRecord: 0},
	}
}
