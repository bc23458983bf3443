package catalog

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospector/internal/model"
)

// Policy maps populations to tiers and tiers to page budgets. The
// built-in defaults reflect US city-size economics; operators targeting
// other markets override them with a YAML file.
type Policy struct {
	Tiers                 TierConfig `yaml:"tiers"`
	UnknownPopulationTier model.Tier `yaml:"unknown_population_tier"`
}

// TierConfig holds one band per schedulable tier.
type TierConfig struct {
	High   Band `yaml:"high"`
	Medium Band `yaml:"medium"`
	Low    Band `yaml:"low"`
}

// Band defines a population bound and the page budget granted to areas
// in the band.
type Band struct {
	MinPopulation int64 `yaml:"min_population"`
	PageBudget    int   `yaml:"page_budget"`
}

// Tier assigns a tier under the policy. The high bound is exclusive: a
// population exactly at it stays MEDIUM. Below the low bound the area is
// SKIP and never scheduled.
func (p *Policy) Tier(population *int64) model.Tier {
	if population == nil {
		return p.UnknownPopulationTier
	}
	switch pop := *population; {
	case pop > p.Tiers.High.MinPopulation:
		return model.TierHigh
	case pop >= p.Tiers.Medium.MinPopulation:
		return model.TierMedium
	case pop >= p.Tiers.Low.MinPopulation:
		return model.TierLow
	default:
		return model.TierSkip
	}
}

// PageBudget returns the page budget for a tier, zero for SKIP.
func (p *Policy) PageBudget(t model.Tier) int {
	switch t {
	case model.TierHigh:
		return p.Tiers.High.PageBudget
	case model.TierMedium:
		return p.Tiers.Medium.PageBudget
	case model.TierLow:
		return p.Tiers.Low.PageBudget
	default:
		return 0
	}
}

// DefaultPolicy returns the built-in tiering policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Tiers: TierConfig{
			High:   Band{MinPopulation: 100_000, PageBudget: 10},
			Medium: Band{MinPopulation: 20_000, PageBudget: 5},
			Low:    Band{MinPopulation: 5_000, PageBudget: 2},
		},
		UnknownPopulationTier: model.TierLow,
	}
}

// LoadPolicy reads a tiering policy from a YAML file. Omitted values
// fall back to the defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read policy %s", path)
	}

	// The YAML has a top-level "tiering" key.
	var wrapper struct {
		Tiering Policy `yaml:"tiering"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse policy")
	}

	cfg := &wrapper.Tiering
	def := DefaultPolicy()
	fillBand(&cfg.Tiers.High, def.Tiers.High)
	fillBand(&cfg.Tiers.Medium, def.Tiers.Medium)
	fillBand(&cfg.Tiers.Low, def.Tiers.Low)
	if cfg.UnknownPopulationTier == "" {
		cfg.UnknownPopulationTier = def.UnknownPopulationTier
	}

	switch cfg.UnknownPopulationTier {
	case model.TierHigh, model.TierMedium, model.TierLow, model.TierSkip:
	default:
		return nil, eris.Errorf("catalog: unknown_population_tier %q is not a tier", cfg.UnknownPopulationTier)
	}
	if cfg.Tiers.High.MinPopulation < cfg.Tiers.Medium.MinPopulation ||
		cfg.Tiers.Medium.MinPopulation < cfg.Tiers.Low.MinPopulation {
		return nil, eris.New("catalog: tier population bounds must descend high > medium > low")
	}

	return cfg, nil
}

func fillBand(b *Band, def Band) {
	if b.MinPopulation == 0 {
		b.MinPopulation = def.MinPopulation
	}
	if b.PageBudget == 0 {
		b.PageBudget = def.PageBudget
	}
}
