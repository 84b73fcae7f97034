// Package jobs holds player-issued job requests and the queue the tick engine drains.
package jobs

import (
	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/world"
)

var (
	ErrQueueClosed  = eris.New("job queue closed")
	ErrMalformedJob = eris.New("malformed job request")
	ErrDuplicateJob = eris.New("duplicate job request id")
)

// ActionTier selects how a job is resolved, not how urgent it is.
type ActionTier string

const (
	TierInfo     ActionTier = "info"
	TierOrder    ActionTier = "order"
	TierDistance ActionTier = "distance"
	TierTimer    ActionTier = "timer"
)

// Tiers lists the tiers in resolution order.
var Tiers = []ActionTier{TierInfo, TierOrder, TierDistance, TierTimer}

// Rank returns the tier's position in the per-tick resolution order, or -1 if unknown.
func (t ActionTier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the four tiers.
func (t ActionTier) Valid() bool {
	return t.Rank() >= 0
}

// InfoQuery names what an INFO job reads.
type InfoQuery string

const (
	QueryTerritory InfoQuery = "territory"
	QueryNation    InfoQuery = "nation"
	QueryWorld     InfoQuery = "world"
)

// InfoPayload is a read-only status query.
type InfoPayload struct {
	Query    InfoQuery       `json:"query"`
	Target   *world.HexCoord `json:"target,omitempty"`
	NationID string          `json:"nation_id,omitempty"`
}

// OrderKind names a standing order.
type OrderKind string

const (
	OrderClaim   OrderKind = "claim"
	OrderRelease OrderKind = "release"
	OrderBuild   OrderKind = "build"
)

// OrderPayload is a standing action evaluated once per tick until it succeeds or fails.
type OrderPayload struct {
	Kind       OrderKind      `json:"kind"`
	Target     world.HexCoord `json:"target"`
	ClaimantID string         `json:"claimant_id,omitempty"`
	Amount     int            `json:"amount,omitempty"`

	// Progress, filled in by the engine.
	ClaimID     string `json:"claim_id,omitempty"`
	StartedTick uint64 `json:"started_tick,omitempty"`
}

// DistancePayload moves a subject one hex per tick from Origin to Destination.
type DistancePayload struct {
	Subject     string           `json:"subject"`
	Origin      world.HexCoord   `json:"origin"`
	Destination world.HexCoord   `json:"destination"`
	Position    world.HexCoord   `json:"position"`
	Path        []world.HexCoord `json:"path,omitempty"` // hexes occupied so far, origin first
}

// Remaining returns the hex distance still to travel.
func (d *DistancePayload) Remaining() int {
	return world.Distance(d.Position, d.Destination)
}

// TimerEffect is what happens when a timer expires.
type TimerEffect string

const (
	EffectNotify TimerEffect = "notify"
	EffectBuild  TimerEffect = "build"
)

// TimerPayload waits Duration ticks after enqueue, then applies Effect.
type TimerPayload struct {
	Duration int             `json:"duration"`
	Effect   TimerEffect     `json:"effect"`
	Target   *world.HexCoord `json:"target,omitempty"`
}

// Request is a queued job. Exactly one payload is set, matching ActionType.
type Request struct {
	ID         string     `json:"id"`
	ActionType ActionTier `json:"actionType"`
	NationID   string     `json:"nation_id,omitempty"`

	// EnqueuedTick is the last completed tick when the job was accepted.
	EnqueuedTick uint64 `json:"enqueued_tick"`
	// Attempts counts resolution errors so far.
	Attempts int `json:"attempts,omitempty"`

	Info     *InfoPayload     `json:"info,omitempty"`
	Order    *OrderPayload    `json:"order,omitempty"`
	Distance *DistancePayload `json:"distance,omitempty"`
	Timer    *TimerPayload    `json:"timer,omitempty"`
}

// Validate checks that the payload matches the tier and is well formed.
func (r *Request) Validate() error {
	if !r.ActionType.Valid() {
		return eris.Wrapf(ErrMalformedJob, "unknown action type %q", r.ActionType)
	}
	set := 0
	for _, present := range []bool{r.Info != nil, r.Order != nil, r.Distance != nil, r.Timer != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return eris.Wrapf(ErrMalformedJob, "job %s carries %d payloads", r.ID, set)
	}

	switch r.ActionType {
	case TierInfo:
		if r.Info == nil {
			r.Info = &InfoPayload{Query: QueryWorld}
		}
		switch r.Info.Query {
		case QueryWorld:
		case QueryTerritory:
			if r.Info.Target == nil {
				return eris.Wrap(ErrMalformedJob, "territory query without target")
			}
		case QueryNation:
			if r.Info.NationID == "" && r.NationID == "" {
				return eris.Wrap(ErrMalformedJob, "nation query without nation")
			}
		default:
			return eris.Wrapf(ErrMalformedJob, "unknown info query %q", r.Info.Query)
		}
	case TierOrder:
		if r.Order == nil {
			return eris.Wrap(ErrMalformedJob, "order job without order payload")
		}
		if r.NationID == "" {
			return eris.Wrap(ErrMalformedJob, "order job without nation")
		}
		switch r.Order.Kind {
		case OrderClaim, OrderRelease:
		case OrderBuild:
			if r.Order.Amount <= 0 {
				return eris.Wrapf(ErrMalformedJob, "build amount %d must be positive", r.Order.Amount)
			}
		default:
			return eris.Wrapf(ErrMalformedJob, "unknown order kind %q", r.Order.Kind)
		}
	case TierDistance:
		if r.Distance == nil {
			return eris.Wrap(ErrMalformedJob, "distance job without distance payload")
		}
		if len(r.Distance.Path) == 0 {
			r.Distance.Position = r.Distance.Origin
			r.Distance.Path = []world.HexCoord{r.Distance.Origin}
		}
	case TierTimer:
		if r.Timer == nil {
			return eris.Wrap(ErrMalformedJob, "timer job without timer payload")
		}
		if r.Timer.Duration <= 0 {
			return eris.Wrapf(ErrMalformedJob, "timer duration %d must be positive", r.Timer.Duration)
		}
		switch r.Timer.Effect {
		case "":
			r.Timer.Effect = EffectNotify
		case EffectNotify:
		case EffectBuild:
			if r.Timer.Target == nil {
				return eris.Wrap(ErrMalformedJob, "build timer without target")
			}
		default:
			return eris.Wrapf(ErrMalformedJob, "unknown timer effect %q", r.Timer.Effect)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	c := *r
	if r.Info != nil {
		info := *r.Info
		if r.Info.Target != nil {
			target := *r.Info.Target
			info.Target = &target
		}
		c.Info = &info
	}
	if r.Order != nil {
		order := *r.Order
		c.Order = &order
	}
	if r.Distance != nil {
		d := *r.Distance
		d.Path = append([]world.HexCoord(nil), r.Distance.Path...)
		c.Distance = &d
	}
	if r.Timer != nil {
		timer := *r.Timer
		if r.Timer.Target != nil {
			target := *r.Timer.Target
			timer.Target = &target
		}
		c.Timer = &timer
	}
	return &c
}
