package social

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

var (
	ErrUnknownNation   = eris.New("unknown nation")
	ErrTerritoryOwned  = eris.New("territory already owned by a nation")
	ErrDuplicateNation = eris.New("nation already registered")
)

// Registry is the set of nations in a game instance. Readers get copies;
// holdings change only through registry methods.
type Registry struct {
	mu      sync.RWMutex
	nations map[string]*Nation
	owners  map[string]string // territory id -> nation id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nations: make(map[string]*Nation),
		owners:  make(map[string]string),
	}
}

// Add registers a nation together with the territories it already holds.
func (r *Registry) Add(n *Nation) error {
	if n == nil || n.ID == "" {
		return eris.New("nation without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nations[n.ID]; ok {
		return eris.Wrapf(ErrDuplicateNation, "nation %s", n.ID)
	}
	for tid := range n.Territories {
		if owner, ok := r.owners[tid]; ok {
			return eris.Wrapf(ErrTerritoryOwned, "territory %s held by %s", tid, owner)
		}
	}
	c := n.Clone()
	c.ensureMaps()
	r.nations[c.ID] = c
	for tid := range c.Territories {
		r.owners[tid] = c.ID
	}
	return nil
}

// Get returns a copy of the nation.
func (r *Registry) Get(id string) (*Nation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nations[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Has reports whether id is a registered nation.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nations[id]
	return ok
}

// All returns copies of every nation ordered by id.
func (r *Registry) All() []*Nation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Nation, 0, len(r.nations))
	for _, n := range r.nations {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of nations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nations)
}

// AssignTerritory gives a territory to a nation. A territory belongs to at most one nation.
func (r *Registry) AssignTerritory(nationID, territoryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nations[nationID]
	if !ok {
		return eris.Wrapf(ErrUnknownNation, "nation %s", nationID)
	}
	if owner, ok := r.owners[territoryID]; ok {
		if owner == nationID {
			return nil
		}
		return eris.Wrapf(ErrTerritoryOwned, "territory %s held by %s", territoryID, owner)
	}
	n.Territories[territoryID] = true
	r.owners[territoryID] = nationID
	return nil
}

// ReleaseTerritory removes a territory from a nation's holdings.
func (r *Registry) ReleaseTerritory(nationID, territoryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nations[nationID]
	if !ok {
		return eris.Wrapf(ErrUnknownNation, "nation %s", nationID)
	}
	if r.owners[territoryID] != nationID {
		return eris.Errorf("territory %s is not held by %s", territoryID, nationID)
	}
	delete(n.Territories, territoryID)
	delete(r.owners, territoryID)
	return nil
}

// OwnerOf returns the nation holding a territory.
func (r *Registry) OwnerOf(territoryID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[territoryID]
	return id, ok
}
