package world

import (
	"sort"

	"github.com/rotisserie/eris"
)

// TerritoryRecord is the flat, storage-neutral form of a territory.
type TerritoryRecord struct {
	ID           string                      `json:"id" db:"id"`
	InstanceID   string                      `json:"instance_id" db:"instance_id"`
	Q            int                         `json:"q" db:"q"`
	R            int                         `json:"r" db:"r"`
	Biome        BiomeType                   `json:"biome" db:"biome"`
	Claimed      bool                        `json:"claimed" db:"claimed"`
	ClaimedBy    string                      `json:"claimed_by" db:"claimed_by"`
	MaxBC        int                         `json:"max_bc" db:"max_bc"`
	CurrentBC    int                         `json:"current_bc" db:"current_bc"`
	ClaimHistory map[string][]TerritoryClaim `json:"claim_history,omitempty" db:"-"`
}

// ResourceRecord is one territory yield row.
type ResourceRecord struct {
	TerritoryID string       `json:"territory_id" db:"territory_id"`
	Resource    ResourceType `json:"resource" db:"resource"`
	Amount      int          `json:"amount" db:"amount"`
}

// ClaimRecord is one row of a territory's ordered claim list.
type ClaimRecord struct {
	TerritoryID string         `json:"territory_id"`
	Position    int            `json:"position"`
	Claim       TerritoryClaim `json:"claim"`
}

// RecordSet is everything needed to rebuild a world.
type RecordSet struct {
	InstanceID  string            `json:"instance_id"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Territories []TerritoryRecord `json:"territories"`
	Resources   []ResourceRecord  `json:"resources"`
	Claims      []ClaimRecord     `json:"claims"`
}

// Flatten converts the current world into rows for the given instance.
// Rows are ordered by coordinate so saves are reproducible.
func Flatten(m *Map, instanceID string) RecordSet {
	set := RecordSet{InstanceID: instanceID, Width: m.Width, Height: m.Height}
	for _, e := range m.Entries() {
		t := e.Territory
		set.Territories = append(set.Territories, TerritoryRecord{
			ID:           t.ID,
			InstanceID:   instanceID,
			Q:            t.Location.Q,
			R:            t.Location.R,
			Biome:        t.Biome.Type,
			Claimed:      t.Claimed,
			ClaimedBy:    t.ClaimedBy,
			MaxBC:        t.MaxBuildingCapacity,
			CurrentBC:    t.CurrentBuildingCapacity,
			ClaimHistory: t.ClaimHistory,
		})
		res := make([]ResourceType, 0, len(t.Biome.Resources))
		for r := range t.Biome.Resources {
			res = append(res, r)
		}
		sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
		for _, r := range res {
			set.Resources = append(set.Resources, ResourceRecord{
				TerritoryID: t.ID,
				Resource:    r,
				Amount:      t.Biome.Resources[r],
			})
		}
		for i, c := range t.Claims {
			set.Claims = append(set.Claims, ClaimRecord{TerritoryID: t.ID, Position: i, Claim: c})
		}
	}
	return set
}

// FromRecords rebuilds a world from rows produced by Flatten.
func FromRecords(set RecordSet) (*Map, error) {
	m := NewMap(set.Width, set.Height)
	byID := make(map[string]*Territory, len(set.Territories))
	for _, rec := range set.Territories {
		if _, dup := byID[rec.ID]; dup {
			return nil, eris.Errorf("duplicate territory %s", rec.ID)
		}
		loc := HexCoord{Q: rec.Q, R: rec.R}
		if m.Contains(loc) {
			return nil, eris.Errorf("duplicate territory location %s", loc)
		}
		t := &Territory{
			ID:                      rec.ID,
			Location:                loc,
			Biome:                   TerritoryBiome{Type: rec.Biome, Resources: make(map[ResourceType]int)},
			Claimed:                 rec.Claimed,
			ClaimedBy:               rec.ClaimedBy,
			MaxBuildingCapacity:     rec.MaxBC,
			CurrentBuildingCapacity: rec.CurrentBC,
			ClaimHistory:            rec.ClaimHistory,
		}
		byID[rec.ID] = t
		m.Set(t)
	}
	for _, rr := range set.Resources {
		t, ok := byID[rr.TerritoryID]
		if !ok {
			return nil, eris.Errorf("resource row for unknown territory %s", rr.TerritoryID)
		}
		t.Biome.Resources[rr.Resource] = rr.Amount
	}
	claims := append([]ClaimRecord(nil), set.Claims...)
	sort.SliceStable(claims, func(i, j int) bool { return claims[i].Position < claims[j].Position })
	for _, cr := range claims {
		t, ok := byID[cr.TerritoryID]
		if !ok {
			return nil, eris.Errorf("claim row for unknown territory %s", cr.TerritoryID)
		}
		t.Claims = append(t.Claims, cr.Claim)
	}
	for _, t := range byID {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return m, nil
}
