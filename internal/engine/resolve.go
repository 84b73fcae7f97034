package engine

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/jobs"
	"github.com/talgya/cli-mmo/internal/world"
)

// WorldSummary answers a world INFO query.
type WorldSummary struct {
	Tick        uint64                  `json:"tick"`
	GameTime    string                  `json:"game_time"`
	Width       int                     `json:"width"`
	Height      int                     `json:"height"`
	Territories int                     `json:"territories"`
	Biomes      map[world.BiomeType]int `json:"biomes"`
	Nations     int                     `json:"nations"`
	QueuedJobs  int                     `json:"queued_jobs"`
}

// Arrival answers a completed DISTANCE job.
type Arrival struct {
	Subject  string           `json:"subject"`
	Position world.HexCoord   `json:"position"`
	Path     []world.HexCoord `json:"path"`
}

// Expiry answers a completed TIMER job.
type Expiry struct {
	Effect    jobs.TimerEffect `json:"effect"`
	ExpiredAt uint64           `json:"expired_at"`
	Territory *world.Territory `json:"territory,omitempty"`
}

func (e *Engine) resolve(ts *tickState, job *jobs.Request) (outcome, error) {
	switch job.ActionType {
	case jobs.TierInfo:
		return e.resolveInfo(ts, job)
	case jobs.TierOrder:
		return e.resolveOrder(ts, job)
	case jobs.TierDistance:
		return e.resolveDistance(ts, job)
	case jobs.TierTimer:
		return e.resolveTimer(ts, job)
	}
	return outcome{}, eris.Errorf("unknown action type %q", job.ActionType)
}

// INFO runs before any other tier, so the published map is the working map.
func (e *Engine) resolveInfo(ts *tickState, job *jobs.Request) (outcome, error) {
	q := job.Info
	if q == nil {
		return outcome{}, eris.New("info job without payload")
	}
	switch q.Query {
	case jobs.QueryTerritory:
		t, ok := ts.tx.Read(*q.Target)
		if !ok {
			return failed("no territory at %s", q.Target), nil
		}
		return succeeded(t.Clone()), nil
	case jobs.QueryNation:
		id := q.NationID
		if id == "" {
			id = job.NationID
		}
		if e.Nations == nil {
			return failed("unknown nation %s", id), nil
		}
		n, ok := e.Nations.Get(id)
		if !ok {
			return failed("unknown nation %s", id), nil
		}
		return succeeded(n), nil
	default:
		s := WorldSummary{
			Tick:        ts.tick,
			GameTime:    GameTime(ts.tick),
			Width:       e.World.Width,
			Height:      e.World.Height,
			Territories: e.World.Len(),
			Biomes:      e.World.BiomeCounts(),
			QueuedJobs:  e.Queue.Len(),
		}
		if e.Nations != nil {
			s.Nations = e.Nations.Len()
		}
		return succeeded(s), nil
	}
}

func (e *Engine) resolveOrder(ts *tickState, job *jobs.Request) (outcome, error) {
	o := job.Order
	if o == nil {
		return outcome{}, eris.New("order job without payload")
	}
	t, ok := ts.tx.Read(o.Target)
	if !ok {
		return failed("no territory at %s", o.Target), nil
	}

	switch o.Kind {
	case jobs.OrderClaim:
		if o.ClaimID == "" {
			return e.openClaim(ts, job, t)
		}
		return e.progressClaim(ts, job, t)

	case jobs.OrderRelease:
		if t.ClaimedBy != job.NationID {
			return failed("territory %s is not held by %s", t.ID, job.NationID), nil
		}
		mt, err := ts.tx.Modify(o.Target)
		if err != nil {
			return outcome{}, err
		}
		mt.ClearOwner()
		ts.ops = append(ts.ops, nationOp{nationID: job.NationID, territoryID: mt.ID})
		return succeeded(mt.Clone()), nil

	case jobs.OrderBuild:
		if t.ClaimedBy != job.NationID {
			return failed("territory %s is not held by %s", t.ID, job.NationID), nil
		}
		if t.CurrentBuildingCapacity+o.Amount > t.MaxBuildingCapacity {
			return failed("territory %s has room for %d more, asked %d",
				t.ID, t.MaxBuildingCapacity-t.CurrentBuildingCapacity, o.Amount), nil
		}
		mt, err := ts.tx.Modify(o.Target)
		if err != nil {
			return outcome{}, err
		}
		if err := mt.AddBuildingCapacity(o.Amount); err != nil {
			return outcome{}, err
		}
		return succeeded(mt.Clone()), nil
	}
	return outcome{}, eris.Errorf("unknown order kind %q", o.Kind)
}

// openClaim files a pending claim. It is contested when other claims are open.
func (e *Engine) openClaim(ts *tickState, job *jobs.Request, t *world.Territory) (outcome, error) {
	if t.Claimed {
		return failed("territory %s already claimed by %s", t.ID, t.ClaimedBy), nil
	}
	if e.Nations == nil || !e.Nations.Has(job.NationID) {
		return failed("unknown nation %s", job.NationID), nil
	}

	mt, err := ts.tx.Modify(t.Location)
	if err != nil {
		return outcome{}, err
	}
	open := mt.OpenClaims()
	for _, i := range open {
		mt.Claims[i].IsContested = true
		mt.Claims[i].UpdatedAt = ts.now
	}
	claimant := job.Order.ClaimantID
	if claimant == "" {
		claimant = job.NationID
	}
	claim := world.TerritoryClaim{
		ID:               uuid.NewString(),
		TerritoryID:      mt.ID,
		ClaimantID:       claimant,
		ClaimantNationID: job.NationID,
		CreatedAt:        ts.now,
		UpdatedAt:        ts.now,
		Status:           world.ClaimPending,
		IsOpen:           true,
		IsContested:      len(open) > 0,
	}
	mt.Claims = append(mt.Claims, claim)

	job.Order.ClaimID = claim.ID
	job.Order.StartedTick = ts.tick
	return pending(true), nil
}

// progressClaim resolves a pending claim once it has been open for ClaimTicks.
// The first claim to mature takes the territory and withdraws its rivals.
func (e *Engine) progressClaim(ts *tickState, job *jobs.Request, t *world.Territory) (outcome, error) {
	o := job.Order
	idx := t.ClaimByID(o.ClaimID)
	if idx < 0 {
		return outcome{}, eris.Errorf("claim %s missing from territory %s", o.ClaimID, t.ID)
	}
	if !t.Claims[idx].IsOpen {
		return failed("claim on %s was %s", t.ID, t.Claims[idx].Status), nil
	}
	if ts.tick-o.StartedTick < e.claimTicks() {
		return pending(false), nil
	}

	mt, err := ts.tx.Modify(t.Location)
	if err != nil {
		return outcome{}, err
	}
	if mt.Claimed {
		closeClaim(&mt.Claims[idx], world.ClaimWithdrawn, ts)
		return failed("territory %s already claimed by %s", mt.ID, mt.ClaimedBy), nil
	}
	for i := range mt.Claims {
		if i == idx {
			closeClaim(&mt.Claims[i], world.ClaimSuccess, ts)
		} else if mt.Claims[i].IsOpen {
			closeClaim(&mt.Claims[i], world.ClaimWithdrawn, ts)
		}
	}
	mt.SetOwner(job.NationID)
	mt.RecordClaimHistory(ts.now)
	ts.ops = append(ts.ops, nationOp{assign: true, nationID: job.NationID, territoryID: mt.ID})
	return succeeded(mt.Clone()), nil
}

func closeClaim(c *world.TerritoryClaim, status world.ClaimStatus, ts *tickState) {
	c.Status = status
	c.IsOpen = false
	c.UpdatedAt = ts.now
	at := ts.now
	c.ExpiresAt = &at
}

// resolveDistance moves the subject one hex toward its destination.
func (e *Engine) resolveDistance(ts *tickState, job *jobs.Request) (outcome, error) {
	d := job.Distance
	if d == nil {
		return outcome{}, eris.New("distance job without payload")
	}
	if d.Position == d.Destination {
		return succeeded(arrival(d)), nil
	}
	next := world.Step(d.Position, d.Destination)
	if _, ok := ts.tx.Read(next); !ok {
		return failed("path leaves the map at %s", next), nil
	}
	d.Position = next
	d.Path = append(d.Path, next)
	if next == d.Destination {
		return succeeded(arrival(d)), nil
	}
	return pending(true), nil
}

func arrival(d *jobs.DistancePayload) Arrival {
	return Arrival{
		Subject:  d.Subject,
		Position: d.Position,
		Path:     append([]world.HexCoord(nil), d.Path...),
	}
}

// resolveTimer checks expiry. An unexpired timer is left untouched.
func (e *Engine) resolveTimer(ts *tickState, job *jobs.Request) (outcome, error) {
	tm := job.Timer
	if tm == nil {
		return outcome{}, eris.New("timer job without payload")
	}
	if ts.tick < job.EnqueuedTick+uint64(tm.Duration) {
		return pending(false), nil
	}

	exp := Expiry{Effect: tm.Effect, ExpiredAt: ts.tick}
	switch tm.Effect {
	case jobs.EffectNotify:
		return succeeded(exp), nil
	case jobs.EffectBuild:
		t, ok := ts.tx.Read(*tm.Target)
		if !ok {
			return failed("no territory at %s", tm.Target), nil
		}
		if job.NationID != "" && t.ClaimedBy != job.NationID {
			return failed("territory %s is not held by %s", t.ID, job.NationID), nil
		}
		if t.CurrentBuildingCapacity >= t.MaxBuildingCapacity {
			return failed("territory %s is at full building capacity", t.ID), nil
		}
		mt, err := ts.tx.Modify(*tm.Target)
		if err != nil {
			return outcome{}, err
		}
		if err := mt.AddBuildingCapacity(1); err != nil {
			return outcome{}, err
		}
		exp.Territory = mt.Clone()
		return succeeded(exp), nil
	}
	return outcome{}, eris.Errorf("unknown timer effect %q", tm.Effect)
}
