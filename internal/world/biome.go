package world

import (
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// ErrConfiguration marks a missing or invalid biome template. It is fatal to world generation.
var ErrConfiguration = eris.New("configuration error")

// ResourceType enumerates natural resources a territory yields.
type ResourceType string

const (
	ResourceWood     ResourceType = "wood"
	ResourceStone    ResourceType = "stone"
	ResourceIron     ResourceType = "iron"
	ResourceFood     ResourceType = "food"
	ResourceEtherium ResourceType = "etherium"
	ResourceMythril  ResourceType = "mythril"
)

// NaturalResources lists every resource type in a stable order.
var NaturalResources = []ResourceType{
	ResourceWood, ResourceStone, ResourceIron, ResourceFood, ResourceEtherium, ResourceMythril,
}

// BiomeType names a biome.
type BiomeType string

const (
	BiomeForest    BiomeType = "forest"
	BiomePlains    BiomeType = "plains"
	BiomeHills     BiomeType = "hills"
	BiomeMountains BiomeType = "mountains"
	BiomeDesert    BiomeType = "desert"
	BiomeWetland   BiomeType = "wetland"
	BiomeWildlands BiomeType = "wildlands"
)

// Range is an inclusive integer interval.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) validate() error {
	if r.Min < 0 || r.Min > r.Max {
		return eris.Errorf("invalid range [%d,%d]", r.Min, r.Max)
	}
	return nil
}

// BiomeTemplate describes the yield and building-capacity ranges for one biome.
type BiomeTemplate struct {
	Type             BiomeType              `json:"type"`
	ResourceRanges   map[ResourceType]Range `json:"resource_ranges"`
	BuildingCapacity Range                  `json:"building_capacity"`
	NPCOwnershipRate float64                `json:"npc_ownership_rate"`
}

func (t BiomeTemplate) validate() error {
	if t.Type == "" {
		return eris.Wrap(ErrConfiguration, "biome template without type")
	}
	if err := t.BuildingCapacity.validate(); err != nil {
		return eris.Wrapf(ErrConfiguration, "biome %s building capacity: %v", t.Type, err)
	}
	for res, rng := range t.ResourceRanges {
		if err := rng.validate(); err != nil {
			return eris.Wrapf(ErrConfiguration, "biome %s resource %s: %v", t.Type, res, err)
		}
	}
	if t.NPCOwnershipRate < 0 || t.NPCOwnershipRate > 1 {
		return eris.Wrapf(ErrConfiguration, "biome %s npc ownership rate %v out of [0,1]", t.Type, t.NPCOwnershipRate)
	}
	return nil
}

// TemplateSource supplies biome templates to a Registry.
type TemplateSource interface {
	BiomeTemplates() ([]BiomeTemplate, error)
}

// StaticSource serves a fixed template list.
type StaticSource []BiomeTemplate

func (s StaticSource) BiomeTemplates() ([]BiomeTemplate, error) {
	return s, nil
}

// FileSource reads a JSON array of templates from a file.
type FileSource string

func (f FileSource) BiomeTemplates() ([]BiomeTemplate, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, eris.Wrapf(ErrConfiguration, "read biome templates %s: %v", string(f), err)
	}
	var templates []BiomeTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, eris.Wrapf(ErrConfiguration, "decode biome templates %s: %v", string(f), err)
	}
	return templates, nil
}

// Registry holds one immutable template per biome type.
type Registry struct {
	mu        sync.RWMutex
	templates map[BiomeType]BiomeTemplate
}

// NewRegistry returns an empty registry. Load must be called before Get.
func NewRegistry() *Registry {
	return &Registry{}
}

// Load populates the registry from src. Templates cannot be reloaded.
func (r *Registry) Load(src TemplateSource) error {
	list, err := src.BiomeTemplates()
	if err != nil {
		return eris.Wrap(err, "load biome templates")
	}
	if len(list) == 0 {
		return eris.Wrap(ErrConfiguration, "no biome templates")
	}

	templates := make(map[BiomeType]BiomeTemplate, len(list))
	for _, t := range list {
		if err := t.validate(); err != nil {
			return err
		}
		if _, dup := templates[t.Type]; dup {
			return eris.Wrapf(ErrConfiguration, "duplicate biome template %s", t.Type)
		}
		ranges := make(map[ResourceType]Range, len(t.ResourceRanges))
		for res, rng := range t.ResourceRanges {
			ranges[res] = rng
		}
		t.ResourceRanges = ranges
		templates[t.Type] = t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.templates != nil {
		return eris.Wrap(ErrConfiguration, "biome templates already loaded")
	}
	r.templates = templates
	return nil
}

// Get returns the template for a biome type.
func (r *Registry) Get(biome BiomeType) (BiomeTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.templates == nil {
		return BiomeTemplate{}, eris.Wrap(ErrConfiguration, "biome templates not loaded")
	}
	t, ok := r.templates[biome]
	if !ok {
		return BiomeTemplate{}, eris.Wrapf(ErrConfiguration, "biome template not found for type %s", biome)
	}
	return t, nil
}

// Types returns the loaded biome types in sorted order.
func (r *Registry) Types() []BiomeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BiomeType, 0, len(r.templates))
	for t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultTemplates returns the seed biome data every new game starts with.
func DefaultTemplates() StaticSource {
	return StaticSource{
		{
			Type: BiomeForest,
			ResourceRanges: map[ResourceType]Range{
				ResourceWood: {5, 10}, ResourceStone: {2, 5}, ResourceIron: {1, 3},
				ResourceFood: {3, 7}, ResourceEtherium: {0, 2}, ResourceMythril: {0, 1},
			},
			BuildingCapacity: Range{2, 4},
			NPCOwnershipRate: 0.1,
		},
		{
			Type: BiomeDesert,
			ResourceRanges: map[ResourceType]Range{
				ResourceWood: {0, 1}, ResourceStone: {5, 10}, ResourceIron: {3, 6},
				ResourceFood: {1, 3}, ResourceEtherium: {2, 5}, ResourceMythril: {0, 2},
			},
			BuildingCapacity: Range{3, 5},
			NPCOwnershipRate: 0.2,
		},
		{
			Type: BiomePlains,
			ResourceRanges: map[ResourceType]Range{
				ResourceWood: {2, 5}, ResourceStone: {3, 6}, ResourceIron: {2, 4},
				ResourceFood: {5, 10}, ResourceEtherium: {1, 3}, ResourceMythril: {0, 1},
			},
			BuildingCapacity: Range{5, 7},
			NPCOwnershipRate: 0.3,
		},
		{
			Type: BiomeMountains,
			ResourceRanges: map[ResourceType]Range{
				ResourceWood: {1, 3}, ResourceStone: {10, 20}, ResourceIron: {5, 10},
				ResourceFood: {1, 3}, ResourceEtherium: {3, 6}, ResourceMythril: {2, 5},
			},
			BuildingCapacity: Range{4, 6},
			NPCOwnershipRate: 0.4,
		},
		{
			Type: BiomeHills,
			ResourceRanges: map[ResourceType]Range{
				ResourceWood: {3, 6}, ResourceStone: {6, 12}, ResourceIron: {3, 7},
				ResourceFood: {2, 5}, ResourceEtherium: {1, 4}, ResourceMythril: {1, 3},
			},
			BuildingCapacity: Range{3, 6},
			NPCOwnershipRate: 0.25,
		},
		{
			Type: BiomeWetland,
			ResourceRanges: map[ResourceType]Range{
				ResourceWood: {4, 8}, ResourceStone: {1, 3}, ResourceIron: {2, 4},
				ResourceFood: {6, 12}, ResourceEtherium: {2, 5}, ResourceMythril: {0, 2},
			},
			BuildingCapacity: Range{2, 5},
			NPCOwnershipRate: 0.15,
		},
		{
			Type: BiomeWildlands,
			ResourceRanges: map[ResourceType]Range{
				ResourceWood: {3, 8}, ResourceStone: {3, 8}, ResourceIron: {3, 8},
				ResourceFood: {3, 8}, ResourceEtherium: {3, 8}, ResourceMythril: {1, 4},
			},
			BuildingCapacity: Range{1, 4},
			NPCOwnershipRate: 0.5,
		},
	}
}
