package world

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainsOnly(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Load(StaticSource{{
		Type:             BiomePlains,
		ResourceRanges:   map[ResourceType]Range{ResourceFood: {Min: 5, Max: 10}},
		BuildingCapacity: Range{Min: 2, Max: 6},
	}}))
	return reg
}

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Load(DefaultTemplates()))
	return reg
}

func TestGeneratePlainsWorld(t *testing.T) {
	reg := plainsOnly(t)
	m, err := Generate(GenConfig{Width: 10, Height: 10, Seed: 7, Rule: UniformRule{Biome: BiomePlains}}, reg)
	require.NoError(t, err)
	require.Equal(t, 100, m.Len())

	seen := make(map[HexCoord]bool)
	for _, e := range m.Entries() {
		require.False(t, seen[e.Coordinates], "duplicate coordinate %s", e.Coordinates)
		seen[e.Coordinates] = true

		terr := e.Territory
		assert.Equal(t, e.Coordinates, terr.Location)
		assert.Equal(t, e.Coordinates.String(), terr.ID)
		food := terr.Biome.Resources[ResourceFood]
		assert.GreaterOrEqual(t, food, 5)
		assert.LessOrEqual(t, food, 10)
		assert.GreaterOrEqual(t, terr.MaxBuildingCapacity, 2)
		assert.LessOrEqual(t, terr.MaxBuildingCapacity, 6)
		assert.Equal(t, 0, terr.CurrentBuildingCapacity)
		assert.False(t, terr.Claimed)
		assert.NoError(t, terr.Validate())
	}
	for q := 0; q < 10; q++ {
		for r := 0; r < 10; r++ {
			assert.True(t, seen[HexCoord{Q: q, R: r}])
		}
	}
}

func TestGenerateYieldsWithinTemplateRanges(t *testing.T) {
	reg := defaultRegistry(t)
	cfg := SmallTestConfig()
	m, err := Generate(cfg, reg)
	require.NoError(t, err)
	require.Equal(t, cfg.Width*cfg.Height, m.Len())

	for _, e := range m.Entries() {
		tmpl, err := reg.Get(e.Territory.Biome.Type)
		require.NoError(t, err)
		for res, amount := range e.Territory.Biome.Resources {
			assert.True(t, tmpl.ResourceRanges[res].Contains(amount), "%s %s=%d", e.Territory.ID, res, amount)
		}
		assert.True(t, tmpl.BuildingCapacity.Contains(e.Territory.MaxBuildingCapacity))
		assert.NoError(t, e.Territory.Validate())
		if e.Territory.Claimed {
			assert.True(t, IsNPC(e.Territory.ClaimedBy))
		}
	}
}

func TestGenerateIsReproducible(t *testing.T) {
	reg := defaultRegistry(t)
	cfg := SmallTestConfig()
	a, err := Generate(cfg, reg)
	require.NoError(t, err)
	b, err := Generate(cfg, reg)
	require.NoError(t, err)
	assert.Equal(t, a.Entries(), b.Entries())
}

func TestQuadrantRule(t *testing.T) {
	rule := QuadrantRule{}
	assert.Equal(t, BiomeMountains, rule.BiomeAt(HexCoord{Q: -1, R: -1}))
	assert.Equal(t, BiomeForest, rule.BiomeAt(HexCoord{Q: -1, R: 0}))
	assert.Equal(t, BiomeDesert, rule.BiomeAt(HexCoord{Q: 0, R: -1}))
	assert.Equal(t, BiomePlains, rule.BiomeAt(HexCoord{Q: 0, R: 0}))
}

func TestNoiseRuleIsDeterministic(t *testing.T) {
	a := NewNoiseRule(99)
	b := NewNoiseRule(99)
	for q := -5; q < 5; q++ {
		for r := -5; r < 5; r++ {
			c := HexCoord{Q: q, R: r}
			assert.Equal(t, a.BiomeAt(c), b.BiomeAt(c))
			assert.Contains(t, a.Biomes, a.BiomeAt(c))
		}
	}
}

func TestGenerateMissingTemplate(t *testing.T) {
	reg := plainsOnly(t)
	_, err := Generate(GenConfig{Width: 4, Height: 4, Origin: HexCoord{Q: -2, R: -2}}, reg)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConfiguration))
}

func TestGenerateRejectsEmptySize(t *testing.T) {
	_, err := Generate(GenConfig{Width: 0, Height: 3}, plainsOnly(t))
	assert.True(t, eris.Is(err, ErrConfiguration))
}

func TestRegistryLoad(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(BiomePlains)
	assert.True(t, eris.Is(err, ErrConfiguration), "get before load")

	require.NoError(t, reg.Load(DefaultTemplates()))
	assert.Len(t, reg.Types(), 7)
	tmpl, err := reg.Get(BiomeMountains)
	require.NoError(t, err)
	assert.Equal(t, Range{Min: 10, Max: 20}, tmpl.ResourceRanges[ResourceStone])

	err = reg.Load(DefaultTemplates())
	assert.True(t, eris.Is(err, ErrConfiguration), "reload")
}

func TestRegistryRejectsInvalidTemplates(t *testing.T) {
	cases := map[string]StaticSource{
		"empty":        {},
		"inverted":     {{Type: BiomePlains, BuildingCapacity: Range{Min: 5, Max: 1}}},
		"negative":     {{Type: BiomePlains, ResourceRanges: map[ResourceType]Range{ResourceFood: {Min: -1, Max: 2}}}},
		"rate":         {{Type: BiomePlains, NPCOwnershipRate: 1.5}},
		"duplicate":    {{Type: BiomePlains}, {Type: BiomePlains}},
		"missing type": {{}},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			err := NewRegistry().Load(src)
			assert.True(t, eris.Is(err, ErrConfiguration), "%v", err)
		})
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biomes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"type":"plains","resource_ranges":{"food":{"min":5,"max":10}},
		 "building_capacity":{"min":1,"max":3},"npc_ownership_rate":0}
	]`), 0o644))

	reg := NewRegistry()
	require.NoError(t, reg.Load(FileSource(path)))
	tmpl, err := reg.Get(BiomePlains)
	require.NoError(t, err)
	assert.Equal(t, Range{Min: 5, Max: 10}, tmpl.ResourceRanges[ResourceFood])

	err = NewRegistry().Load(FileSource(filepath.Join(t.TempDir(), "missing.json")))
	assert.True(t, eris.Is(err, ErrConfiguration))
}
