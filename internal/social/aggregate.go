package social

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/world"
)

var ErrAlreadyAggregated = eris.New("tick already aggregated")

// YieldSource looks up a territory's current resource yield.
type YieldSource interface {
	Yield(territoryID string) (map[world.ResourceType]int, bool)
}

// Aggregator adds each owned territory's yield to its nation once per tick.
type Aggregator struct {
	Nations *Registry
	World   YieldSource
	Log     *slog.Logger

	mu   sync.Mutex
	last uint64
}

// NewAggregator creates an aggregator over the given registry and world.
func NewAggregator(nations *Registry, w YieldSource, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{Nations: nations, World: w, Log: log}
}

// LastTick returns the most recently aggregated tick.
func (a *Aggregator) LastTick() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Resume sets the last aggregated tick, used after loading saved nations.
func (a *Aggregator) Resume(tick uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = tick
}

// Aggregate accumulates yields for tick. A tick at or below the last one
// aggregated returns ErrAlreadyAggregated and changes nothing. A nation whose
// holdings cannot be resolved is logged and left unchanged.
func (a *Aggregator) Aggregate(tick uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tick <= a.last {
		return eris.Wrapf(ErrAlreadyAggregated, "tick %d (last %d)", tick, a.last)
	}
	a.last = tick

	r := a.Nations
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for _, n := range r.nations {
		delta, err := a.nationYield(n)
		if err != nil {
			a.Log.Error("nation aggregation failed", "tick", tick, "nation_id", n.ID, "error", err)
			continue
		}
		for res, v := range delta {
			amt, ok := n.OwnedResources[res]
			if !ok {
				amt = &ResourceAmount{ResourceID: uuid.NewString()}
				n.OwnedResources[res] = amt
			}
			amt.Amount += v
		}
		if len(n.Territories) > 0 {
			updated++
		}
	}
	a.Log.Debug("aggregated nation resources", "tick", tick, "nations", updated)
	return nil
}

func (a *Aggregator) nationYield(n *Nation) (map[world.ResourceType]int, error) {
	delta := make(map[world.ResourceType]int)
	for tid := range n.Territories {
		y, ok := a.World.Yield(tid)
		if !ok {
			return nil, eris.Errorf("territory %s not in world", tid)
		}
		for res, v := range y {
			delta[res] += v
		}
	}
	return delta, nil
}
