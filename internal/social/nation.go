// Package social holds nations, the registry that owns them, and the
// per-tick resource aggregation.
package social

import (
	"sort"

	"github.com/google/uuid"

	"github.com/talgya/cli-mmo/internal/world"
)

// ResourceAmount is a nation's stock of one resource.
type ResourceAmount struct {
	Amount     int    `json:"amount"`
	ResourceID string `json:"resource_id"`
}

// Nation is a player faction that owns territories and accumulates their yield.
type Nation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	LeaderID string `json:"leader_id,omitempty"`

	Territories    map[string]bool                        `json:"territories"`
	OwnedResources map[world.ResourceType]*ResourceAmount `json:"owned_resources"`
}

// NewNation creates a nation with a fresh id and empty holdings.
func NewNation(name, code, leaderID string) *Nation {
	return &Nation{
		ID:             uuid.NewString(),
		Name:           name,
		Code:           code,
		LeaderID:       leaderID,
		Territories:    make(map[string]bool),
		OwnedResources: make(map[world.ResourceType]*ResourceAmount),
	}
}

// Clone returns a deep copy.
func (n *Nation) Clone() *Nation {
	c := *n
	c.Territories = make(map[string]bool, len(n.Territories))
	for id := range n.Territories {
		c.Territories[id] = true
	}
	c.OwnedResources = make(map[world.ResourceType]*ResourceAmount, len(n.OwnedResources))
	for res, amt := range n.OwnedResources {
		a := *amt
		c.OwnedResources[res] = &a
	}
	return &c
}

// TerritoryIDs returns the owned territory ids in sorted order.
func (n *Nation) TerritoryIDs() []string {
	ids := make([]string, 0, len(n.Territories))
	for id := range n.Territories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Amount returns the stock of res, zero when the nation has never held it.
func (n *Nation) Amount(res world.ResourceType) int {
	if a, ok := n.OwnedResources[res]; ok {
		return a.Amount
	}
	return 0
}

func (n *Nation) ensureMaps() {
	if n.Territories == nil {
		n.Territories = make(map[string]bool)
	}
	if n.OwnedResources == nil {
		n.OwnedResources = make(map[world.ResourceType]*ResourceAmount)
	}
}
