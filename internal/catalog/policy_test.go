package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

func popPtr(v int64) *int64 { return &v }

func TestPolicyTier(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()

	tests := []struct {
		name       string
		population *int64
		want       model.Tier
	}{
		{"large city", popPtr(150_000), model.TierHigh},
		{"mid-size city", popPtr(50_000), model.TierMedium},
		{"small town", popPtr(10_000), model.TierLow},
		{"village below cutoff", popPtr(3_000), model.TierSkip},
		{"exactly at high bound stays medium", popPtr(100_000), model.TierMedium},
		{"just above high bound", popPtr(100_001), model.TierHigh},
		{"exactly at medium bound", popPtr(20_000), model.TierMedium},
		{"just below medium bound", popPtr(19_999), model.TierLow},
		{"exactly at low bound", popPtr(5_000), model.TierLow},
		{"just below low bound", popPtr(4_999), model.TierSkip},
		{"unknown population defaults to low", nil, model.TierLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.Tier(tt.population))
		})
	}
}

func TestPolicyPageBudget(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()

	assert.Equal(t, 10, p.PageBudget(model.TierHigh))
	assert.Equal(t, 5, p.PageBudget(model.TierMedium))
	assert.Equal(t, 2, p.PageBudget(model.TierLow))
	assert.Equal(t, 0, p.PageBudget(model.TierSkip))
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()

	yml := `
tiering:
  tiers:
    high:   { min_population: 500000, page_budget: 20 }
    medium: { min_population: 50000 }
  unknown_population_tier: skip
`
	dir := t.TempDir()
	path := filepath.Join(dir, "tiering.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, int64(500_000), p.Tiers.High.MinPopulation)
	assert.Equal(t, 20, p.Tiers.High.PageBudget)
	// Partially specified band inherits the default budget.
	assert.Equal(t, int64(50_000), p.Tiers.Medium.MinPopulation)
	assert.Equal(t, 5, p.Tiers.Medium.PageBudget)
	// Untouched band stays at defaults.
	assert.Equal(t, int64(5_000), p.Tiers.Low.MinPopulation)
	assert.Equal(t, 2, p.Tiers.Low.PageBudget)
	assert.Equal(t, model.TierSkip, p.UnknownPopulationTier)

	// The overridden policy reclassifies accordingly.
	assert.Equal(t, model.TierMedium, p.Tier(popPtr(150_000)))
	assert.Equal(t, model.TierSkip, p.Tier(nil))
}

func TestLoadPolicy_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadPolicy_InvalidUnknownTier(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiering.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiering:\n  unknown_population_tier: enormous\n"), 0644))

	_, err := LoadPolicy(path)
	assert.ErrorContains(t, err, "not a tier")
}

func TestLoadPolicy_BoundsMustDescend(t *testing.T) {
	t.Parallel()

	yml := `
tiering:
  tiers:
    high:   { min_population: 10000 }
    medium: { min_population: 50000 }
`
	path := filepath.Join(t.TempDir(), "tiering.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	_, err := LoadPolicy(path)
	assert.ErrorContains(t, err, "must descend")
}
