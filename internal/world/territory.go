package world

import (
	"time"

	"github.com/rotisserie/eris"
)

// NPC owners that can hold territory without being a nation.
const (
	NPCSovereignty = "sovereignty"
	NPCBandit      = "bandit"
)

// IsNPC reports whether an owner id names an NPC rather than a nation.
func IsNPC(owner string) bool {
	return owner == NPCSovereignty || owner == NPCBandit
}

// ClaimStatus tracks the lifecycle of a territory claim.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimSuccess   ClaimStatus = "success"
	ClaimWithdrawn ClaimStatus = "withdrawn"
)

// TerritoryClaim is one nation's attempt to take a territory.
type TerritoryClaim struct {
	ID               string      `json:"id"`
	TerritoryID      string      `json:"territory_id"`
	ClaimantID       string      `json:"claimant_id"`
	ClaimantNationID string      `json:"claimant_nation_id"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	ExpiresAt        *time.Time  `json:"expires_at,omitempty"`
	Status           ClaimStatus `json:"status"`
	IsOpen           bool        `json:"is_open"`
	IsContested      bool        `json:"is_contested"`
}

// TerritoryBiome is the biome a territory was generated with and its rolled yields.
type TerritoryBiome struct {
	Type      BiomeType            `json:"type"`
	Resources map[ResourceType]int `json:"resources"`
}

// Territory is one hex cell of the world map.
type Territory struct {
	ID       string         `json:"id"`
	Location HexCoord       `json:"location"`
	Biome    TerritoryBiome `json:"biome"`

	// ClaimedBy holds a nation id or an NPC id. Empty when unclaimed.
	Claimed   bool   `json:"claimed"`
	ClaimedBy string `json:"claimed_by,omitempty"`

	MaxBuildingCapacity     int `json:"max_bc"`
	CurrentBuildingCapacity int `json:"current_bc"`

	Claims []TerritoryClaim `json:"claims"`
	// ClaimHistory maps an RFC3339 timestamp to the claims as they stood when a claim resolved.
	ClaimHistory map[string][]TerritoryClaim `json:"claim_history"`
}

// Clone returns a deep copy.
func (t *Territory) Clone() *Territory {
	c := *t
	c.Biome.Resources = make(map[ResourceType]int, len(t.Biome.Resources))
	for k, v := range t.Biome.Resources {
		c.Biome.Resources[k] = v
	}
	c.Claims = cloneClaims(t.Claims)
	if t.ClaimHistory != nil {
		c.ClaimHistory = make(map[string][]TerritoryClaim, len(t.ClaimHistory))
		for k, v := range t.ClaimHistory {
			c.ClaimHistory[k] = cloneClaims(v)
		}
	}
	return &c
}

func cloneClaims(in []TerritoryClaim) []TerritoryClaim {
	if in == nil {
		return nil
	}
	out := make([]TerritoryClaim, len(in))
	copy(out, in)
	for i := range out {
		if in[i].ExpiresAt != nil {
			exp := *in[i].ExpiresAt
			out[i].ExpiresAt = &exp
		}
	}
	return out
}

// Validate checks the capacity, ownership and yield invariants.
func (t *Territory) Validate() error {
	if t.CurrentBuildingCapacity < 0 || t.CurrentBuildingCapacity > t.MaxBuildingCapacity {
		return eris.Errorf("territory %s: building capacity %d outside [0,%d]",
			t.ID, t.CurrentBuildingCapacity, t.MaxBuildingCapacity)
	}
	if t.Claimed != (t.ClaimedBy != "") {
		return eris.Errorf("territory %s: claimed=%v but claimed_by=%q", t.ID, t.Claimed, t.ClaimedBy)
	}
	for res, v := range t.Biome.Resources {
		if v < 0 {
			return eris.Errorf("territory %s: negative %s yield %d", t.ID, res, v)
		}
	}
	return nil
}

// SetOwner marks the territory as claimed by owner.
func (t *Territory) SetOwner(owner string) {
	t.Claimed = true
	t.ClaimedBy = owner
}

// ClearOwner marks the territory unclaimed.
func (t *Territory) ClearOwner() {
	t.Claimed = false
	t.ClaimedBy = ""
}

// AddBuildingCapacity raises the current building level by n, bounded by the maximum.
func (t *Territory) AddBuildingCapacity(n int) error {
	if n <= 0 {
		return eris.Errorf("building capacity increase must be positive, got %d", n)
	}
	if t.CurrentBuildingCapacity+n > t.MaxBuildingCapacity {
		return eris.Errorf("territory %s: building capacity %d+%d exceeds max %d",
			t.ID, t.CurrentBuildingCapacity, n, t.MaxBuildingCapacity)
	}
	t.CurrentBuildingCapacity += n
	return nil
}

// OpenClaims returns the indexes of claims that are still open.
func (t *Territory) OpenClaims() []int {
	var idx []int
	for i, c := range t.Claims {
		if c.IsOpen {
			idx = append(idx, i)
		}
	}
	return idx
}

// ClaimByID returns the index of the claim with the given id, or -1.
func (t *Territory) ClaimByID(id string) int {
	for i, c := range t.Claims {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// RecordClaimHistory snapshots the current claims under the given time.
func (t *Territory) RecordClaimHistory(at time.Time) {
	if t.ClaimHistory == nil {
		t.ClaimHistory = make(map[string][]TerritoryClaim)
	}
	key := at.UTC().Format(time.RFC3339)
	t.ClaimHistory[key] = append(t.ClaimHistory[key], cloneClaims(t.Claims)...)
}
