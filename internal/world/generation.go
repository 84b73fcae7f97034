// World generation: a width x height block of axial coordinates, each assigned a biome
// by a deterministic rule and given yields rolled from that biome's template.
package world

import (
	"math"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/rotisserie/eris"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Width  int
	Height int
	Origin HexCoord  // Lowest (q, r) of the generated block
	Seed   int64     // Seeds yield and capacity rolls (0 = random)
	Rule   BiomeRule // nil means QuadrantRule
}

// DefaultGenConfig returns the standard 100x100 world.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:  100,
		Height: 100,
		Seed:   42,
		Rule:   QuadrantRule{},
	}
}

// SmallTestConfig returns a tiny world for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Width:  6,
		Height: 6,
		Origin: HexCoord{Q: -3, R: -3},
		Seed:   42,
		Rule:   QuadrantRule{},
	}
}

// BiomeRule assigns a biome to a coordinate. Implementations must be pure:
// the same coordinate always yields the same biome.
type BiomeRule interface {
	BiomeAt(c HexCoord) BiomeType
}

// QuadrantRule picks a biome from the signs of q and r.
type QuadrantRule struct{}

func (QuadrantRule) BiomeAt(c HexCoord) BiomeType {
	switch {
	case c.Q < 0 && c.R < 0:
		return BiomeMountains
	case c.Q < 0:
		return BiomeForest
	case c.R < 0:
		return BiomeDesert
	default:
		return BiomePlains
	}
}

// UniformRule assigns one biome everywhere.
type UniformRule struct {
	Biome BiomeType
}

func (u UniformRule) BiomeAt(HexCoord) BiomeType {
	return u.Biome
}

// NoiseRule samples seeded simplex noise and buckets it into Biomes.
// It is deterministic for a given seed and biome list.
type NoiseRule struct {
	noise  opensimplex.Noise
	Biomes []BiomeType
	Scale  float64
}

// NewNoiseRule builds a NoiseRule. An empty biome list uses the seven standard biomes.
func NewNoiseRule(seed int64, biomes ...BiomeType) *NoiseRule {
	if len(biomes) == 0 {
		biomes = []BiomeType{
			BiomeWetland, BiomePlains, BiomeForest, BiomeWildlands,
			BiomeHills, BiomeDesert, BiomeMountains,
		}
	}
	return &NoiseRule{
		noise:  opensimplex.NewNormalized(seed),
		Biomes: biomes,
		Scale:  0.08,
	}
}

func (n *NoiseRule) BiomeAt(c HexCoord) BiomeType {
	// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
	x := float64(c.Q) + float64(c.R)*0.5
	y := float64(c.R) * math.Sqrt(3.0) / 2.0
	v := n.noise.Eval2(x*n.Scale, y*n.Scale)
	idx := int(v * float64(len(n.Biomes)))
	if idx >= len(n.Biomes) {
		idx = len(n.Biomes) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return n.Biomes[idx]
}

// Generate creates a world of cfg.Width*cfg.Height territories, one per coordinate.
// It fails with ErrConfiguration when the rule names a biome without a template.
func Generate(cfg GenConfig, templates *Registry) (*Map, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, eris.Wrapf(ErrConfiguration, "world size %dx%d must be positive", cfg.Width, cfg.Height)
	}
	rule := cfg.Rule
	if rule == nil {
		rule = QuadrantRule{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))

	m := NewMap(cfg.Width, cfg.Height)
	for q := cfg.Origin.Q; q < cfg.Origin.Q+cfg.Width; q++ {
		for r := cfg.Origin.R; r < cfg.Origin.R+cfg.Height; r++ {
			coord := HexCoord{Q: q, R: r}
			biome := rule.BiomeAt(coord)
			tmpl, err := templates.Get(biome)
			if err != nil {
				return nil, err
			}
			m.Set(newTerritory(coord, tmpl, rng))
		}
	}
	return m, nil
}

// newTerritory rolls a territory's yields and capacity from its template.
func newTerritory(coord HexCoord, tmpl BiomeTemplate, rng *rand.Rand) *Territory {
	t := &Territory{
		ID:       coord.String(),
		Location: coord,
		Biome: TerritoryBiome{
			Type:      tmpl.Type,
			Resources: make(map[ResourceType]int, len(tmpl.ResourceRanges)),
		},
		MaxBuildingCapacity: rollInclusive(rng, tmpl.BuildingCapacity),
	}
	// Roll in a fixed resource order so a seed reproduces the same world.
	for _, res := range sortedResources(tmpl.ResourceRanges) {
		t.Biome.Resources[res] = rollInclusive(rng, tmpl.ResourceRanges[res])
	}
	if tmpl.NPCOwnershipRate > 0 && rng.Float64() < tmpl.NPCOwnershipRate {
		owner := NPCSovereignty
		if rng.Intn(2) == 1 {
			owner = NPCBandit
		}
		t.SetOwner(owner)
	}
	return t
}

func rollInclusive(rng *rand.Rand, r Range) int {
	return r.Min + rng.Intn(r.Max-r.Min+1)
}

func sortedResources(ranges map[ResourceType]Range) []ResourceType {
	out := make([]ResourceType, 0, len(ranges))
	for _, res := range NaturalResources {
		if _, ok := ranges[res]; ok {
			out = append(out, res)
		}
	}
	// Resource types outside the standard set follow in lexical order.
	var extra []ResourceType
	for res := range ranges {
		if !isNatural(res) {
			extra = append(extra, res)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func isNatural(res ResourceType) bool {
	for _, n := range NaturalResources {
		if n == res {
			return true
		}
	}
	return false
}
