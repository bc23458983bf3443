package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

func testAreas() []model.Area {
	return []model.Area{
		{Name: "Shelbyville", Country: "US", Population: popPtr(45_000)},
		{Name: "Springfield", Country: "US", Population: popPtr(160_000)},
		{Name: "Ogdenville", Country: "US", Population: popPtr(45_000)},
		{Name: "North Haverbrook", Country: "US", Population: popPtr(9_500)},
		{Name: "Cypress Creek", Country: "US", Population: nil},
		{Name: "Tiny Gulch", Country: "US", Population: popPtr(900)},
		{Name: "Toronto", Country: "CA", Population: popPtr(2_800_000)},
	}
}

func TestSelectOrdering(t *testing.T) {
	t.Parallel()
	c := New(nil, testAreas())

	got := c.Select("US", 0, 0)
	require.Len(t, got, 5)

	names := make([]string, len(got))
	for i, a := range got {
		names[i] = a.Name
	}
	// Population descending, ties broken by name, unknown population last.
	assert.Equal(t, []string{"Springfield", "Ogdenville", "Shelbyville", "North Haverbrook", "Cypress Creek"}, names)
}

func TestSelectDeterministic(t *testing.T) {
	t.Parallel()
	c := New(nil, testAreas())

	first := c.Select("US", 0, 0)
	second := c.Select("US", 0, 0)
	assert.Equal(t, first, second)
}

func TestSelectMaxPriority(t *testing.T) {
	t.Parallel()
	c := New(nil, testAreas())

	t.Run("priority 1 keeps only high tier", func(t *testing.T) {
		t.Parallel()
		got := c.Select("US", 0, 1)
		require.Len(t, got, 1)
		assert.Equal(t, "Springfield", got[0].Name)
	})

	t.Run("priority 2 adds medium tier", func(t *testing.T) {
		t.Parallel()
		got := c.Select("US", 0, 2)
		assert.Len(t, got, 3)
	})

	t.Run("zero priority means no filter", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, c.Select("US", 0, 0), 5)
	})
}

func TestSelectPopulationFloor(t *testing.T) {
	t.Parallel()
	c := New(nil, testAreas())

	got := c.Select("US", 40_000, 0)
	require.Len(t, got, 3)
	for _, a := range got {
		require.NotNil(t, a.Population)
		assert.GreaterOrEqual(t, *a.Population, int64(40_000))
	}

	t.Run("unknown population fails a positive floor", func(t *testing.T) {
		t.Parallel()
		for _, a := range c.Select("US", 1, 0) {
			assert.NotNil(t, a.Population)
		}
	})
}

func TestSelectCountry(t *testing.T) {
	t.Parallel()
	c := New(nil, testAreas())

	got := c.Select("ca", 0, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Toronto", got[0].Name)

	t.Run("no match is empty not nil error", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, c.Select("FR", 0, 0))
	})
}

func TestSelectExcludesSkipTier(t *testing.T) {
	t.Parallel()
	c := New(nil, testAreas())

	for _, a := range c.Select("US", 0, 0) {
		assert.NotEqual(t, model.TierSkip, c.Tier(a), "area %s", a.Name)
	}
}

func TestNewCopiesSnapshot(t *testing.T) {
	t.Parallel()
	areas := testAreas()
	c := New(nil, areas)

	areas[0].Name = "Mutated"
	got := c.Select("US", 0, 0)
	for _, a := range got {
		assert.NotEqual(t, "Mutated", a.Name)
	}
	assert.Equal(t, len(testAreas()), c.Len())
}
