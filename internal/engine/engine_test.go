package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/cli-mmo/internal/jobs"
	"github.com/talgya/cli-mmo/internal/social"
	"github.com/talgya/cli-mmo/internal/world"
)

type fixture struct {
	queue   *jobs.Queue
	world   *world.Map
	nations *social.Registry
	engine  *Engine
	tick    uint64
}

// newFixture builds a 10x10 all-plains world with origin 0,0 and no NPC owners.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	templates := world.NewRegistry()
	require.NoError(t, templates.Load(world.StaticSource{{
		Type:             world.BiomePlains,
		ResourceRanges:   map[world.ResourceType]world.Range{world.ResourceFood: {Min: 5, Max: 10}},
		BuildingCapacity: world.Range{Min: 2, Max: 2},
	}}))
	m, err := world.Generate(world.GenConfig{
		Width: 10, Height: 10, Seed: 7, Rule: world.UniformRule{Biome: world.BiomePlains},
	}, templates)
	require.NoError(t, err)

	q := jobs.NewQueue()
	nations := social.NewRegistry()
	e := New(q, m, nations, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return clock }
	return &fixture{queue: q, world: m, nations: nations, engine: e}
}

func (f *fixture) step() TickRecord {
	f.tick++
	return f.engine.ProcessTick(context.Background(), f.tick)
}

func (f *fixture) enqueue(t *testing.T, req *jobs.Request) string {
	t.Helper()
	id, err := f.queue.Enqueue(req)
	require.NoError(t, err)
	return id
}

func (f *fixture) addNation(t *testing.T, id string) {
	t.Helper()
	n := social.NewNation(id, id, "")
	n.ID = id
	require.NoError(t, f.nations.Add(n))
}

// own hands a territory to a nation outside of tick processing.
func (f *fixture) own(t *testing.T, nationID string, at world.HexCoord) {
	t.Helper()
	tx := f.world.Begin()
	terr, err := tx.Modify(at)
	require.NoError(t, err)
	terr.SetOwner(nationID)
	tx.Commit()
	require.NoError(t, f.nations.AssignTerritory(nationID, at.String()))
}

func TestInfoJobResolvesInOneTick(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, &jobs.Request{ActionType: jobs.TierInfo})

	rec := f.step()

	assert.Zero(t, f.queue.Len())
	assert.Equal(t, TickCompleted, rec.Status)
	assert.Equal(t, []string{id}, rec.JobRequestsCompleted)
	require.Len(t, f.engine.Records(), 1)

	resp, ok := f.engine.Response(id)
	require.True(t, ok)
	assert.Equal(t, ResponseSucceeded, resp.Status)
	summary, ok := resp.Result.(WorldSummary)
	require.True(t, ok)
	assert.Equal(t, 100, summary.Territories)
	assert.Equal(t, 100, summary.Biomes[world.BiomePlains])
}

func TestInfoTerritoryQuery(t *testing.T) {
	f := newFixture(t)
	target := world.HexCoord{Q: 4, R: 5}
	hit := f.enqueue(t, &jobs.Request{ActionType: jobs.TierInfo, Info: &jobs.InfoPayload{Query: jobs.QueryTerritory, Target: &target}})
	outside := world.HexCoord{Q: 40, R: 5}
	miss := f.enqueue(t, &jobs.Request{ActionType: jobs.TierInfo, Info: &jobs.InfoPayload{Query: jobs.QueryTerritory, Target: &outside}})

	rec := f.step()
	assert.ElementsMatch(t, []string{hit, miss}, rec.JobRequestsCompleted)

	resp, _ := f.engine.Response(hit)
	terr := resp.Result.(*world.Territory)
	assert.Equal(t, "4,5", terr.ID)

	resp, _ = f.engine.Response(miss)
	assert.Equal(t, ResponseFailed, resp.Status)
	assert.Contains(t, resp.Error, "40,5")
}

func TestDistanceAdvancesOneHexPerTick(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, &jobs.Request{
		ActionType: jobs.TierDistance,
		Distance:   &jobs.DistancePayload{Subject: "scout", Origin: world.HexCoord{Q: 0, R: 0}, Destination: world.HexCoord{Q: 3, R: 0}},
	})

	for i := 1; i <= 2; i++ {
		rec := f.step()
		assert.Empty(t, rec.JobRequestsCompleted)
		job, ok := f.queue.Get(id)
		require.True(t, ok)
		assert.Equal(t, world.HexCoord{Q: i}, job.Distance.Position)
		assert.Len(t, job.Distance.Path, i+1)
	}

	rec := f.step()
	assert.Equal(t, []string{id}, rec.JobRequestsCompleted)
	assert.Zero(t, f.queue.Len())

	resp, _ := f.engine.Response(id)
	arr := resp.Result.(Arrival)
	assert.Equal(t, []world.HexCoord{{Q: 0}, {Q: 1}, {Q: 2}, {Q: 3}}, arr.Path)
}

func TestDistanceOffMapFails(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, &jobs.Request{
		ActionType: jobs.TierDistance,
		Distance:   &jobs.DistancePayload{Origin: world.HexCoord{Q: 9, R: 0}, Destination: world.HexCoord{Q: 12, R: 0}},
	})
	f.step()
	resp, ok := f.engine.Response(id)
	require.True(t, ok)
	assert.Equal(t, ResponseFailed, resp.Status)
}

func TestTimerExpiresAfterDuration(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, &jobs.Request{ActionType: jobs.TierTimer, Timer: &jobs.TimerPayload{Duration: 3}})
	before, _ := f.queue.Get(id)

	for i := 0; i < 2; i++ {
		rec := f.step()
		assert.Empty(t, rec.JobRequestsCompleted)
		job, ok := f.queue.Get(id)
		require.True(t, ok)
		assert.Equal(t, before, job, "an unexpired timer is not mutated")
	}

	rec := f.step()
	assert.Equal(t, []string{id}, rec.JobRequestsCompleted)
	resp, _ := f.engine.Response(id)
	assert.Equal(t, Expiry{Effect: jobs.EffectNotify, ExpiredAt: 3}, resp.Result)
}

func TestTimerCountsFromEnqueueTick(t *testing.T) {
	f := newFixture(t)
	f.step()
	f.step()
	id := f.enqueue(t, &jobs.Request{ActionType: jobs.TierTimer, Timer: &jobs.TimerPayload{Duration: 2}})

	f.step()
	_, queued := f.queue.Get(id)
	assert.True(t, queued)
	rec := f.step()
	assert.Equal(t, []string{id}, rec.JobRequestsCompleted)
}

func TestTimerBuildEffect(t *testing.T) {
	f := newFixture(t)
	f.addNation(t, "n1")
	at := world.HexCoord{Q: 1, R: 1}
	f.own(t, "n1", at)
	f.enqueue(t, &jobs.Request{ActionType: jobs.TierTimer, NationID: "n1",
		Timer: &jobs.TimerPayload{Duration: 1, Effect: jobs.EffectBuild, Target: &at}})

	f.step()
	terr, _ := f.world.Get(at)
	assert.Equal(t, 1, terr.CurrentBuildingCapacity)
}

func TestClaimOrderResolvesAfterClaimTicks(t *testing.T) {
	f := newFixture(t)
	f.addNation(t, "n1")
	target := world.HexCoord{Q: 2, R: 2}
	id := f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n1",
		Order: &jobs.OrderPayload{Kind: jobs.OrderClaim, Target: target}})

	f.step()
	terr, _ := f.world.Get(target)
	require.Len(t, terr.Claims, 1)
	assert.Equal(t, world.ClaimPending, terr.Claims[0].Status)
	assert.True(t, terr.Claims[0].IsOpen)
	assert.False(t, terr.Claimed)

	f.step()
	f.step()
	_, queued := f.queue.Get(id)
	assert.True(t, queued, "claim still pending before it matures")

	rec := f.step()
	assert.Equal(t, []string{id}, rec.JobRequestsCompleted)
	terr, _ = f.world.Get(target)
	assert.True(t, terr.Claimed)
	assert.Equal(t, "n1", terr.ClaimedBy)
	assert.Equal(t, world.ClaimSuccess, terr.Claims[0].Status)
	assert.NotEmpty(t, terr.ClaimHistory)

	owner, ok := f.nations.OwnerOf(target.String())
	require.True(t, ok)
	assert.Equal(t, "n1", owner)
}

func TestContestedClaimFirstWins(t *testing.T) {
	f := newFixture(t)
	f.addNation(t, "n1")
	f.addNation(t, "n2")
	target := world.HexCoord{Q: 2, R: 2}
	first := f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n1",
		Order: &jobs.OrderPayload{Kind: jobs.OrderClaim, Target: target}})
	second := f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n2",
		Order: &jobs.OrderPayload{Kind: jobs.OrderClaim, Target: target}})

	f.step()
	terr, _ := f.world.Get(target)
	require.Len(t, terr.Claims, 2)
	assert.True(t, terr.Claims[0].IsContested)
	assert.True(t, terr.Claims[1].IsContested)

	for i := 0; i < 3; i++ {
		f.step()
	}
	won, _ := f.engine.Response(first)
	lost, _ := f.engine.Response(second)
	assert.Equal(t, ResponseSucceeded, won.Status)
	assert.Equal(t, ResponseFailed, lost.Status)

	terr, _ = f.world.Get(target)
	assert.Equal(t, "n1", terr.ClaimedBy)
	assert.Equal(t, world.ClaimWithdrawn, terr.Claims[1].Status)
	assert.Zero(t, f.queue.Len())
}

func TestClaimRejectedForOwnedTerritory(t *testing.T) {
	f := newFixture(t)
	f.addNation(t, "n1")
	f.addNation(t, "n2")
	target := world.HexCoord{Q: 3, R: 3}
	f.own(t, "n1", target)
	id := f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n2",
		Order: &jobs.OrderPayload{Kind: jobs.OrderClaim, Target: target}})

	f.step()
	resp, _ := f.engine.Response(id)
	assert.Equal(t, ResponseFailed, resp.Status)
	assert.Contains(t, resp.Error, "already claimed")
}

func TestBuildAndReleaseOrders(t *testing.T) {
	f := newFixture(t)
	f.addNation(t, "n1")
	at := world.HexCoord{Q: 5, R: 5}
	f.own(t, "n1", at)

	build := f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n1",
		Order: &jobs.OrderPayload{Kind: jobs.OrderBuild, Target: at, Amount: 2}})
	f.step()
	terr, _ := f.world.Get(at)
	assert.Equal(t, 2, terr.CurrentBuildingCapacity)
	resp, _ := f.engine.Response(build)
	assert.Equal(t, ResponseSucceeded, resp.Status)

	over := f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n1",
		Order: &jobs.OrderPayload{Kind: jobs.OrderBuild, Target: at, Amount: 1}})
	f.step()
	resp, _ = f.engine.Response(over)
	assert.Equal(t, ResponseFailed, resp.Status)
	terr, _ = f.world.Get(at)
	assert.Equal(t, 2, terr.CurrentBuildingCapacity)

	f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n1",
		Order: &jobs.OrderPayload{Kind: jobs.OrderRelease, Target: at}})
	f.step()
	terr, _ = f.world.Get(at)
	assert.False(t, terr.Claimed)
	_, owned := f.nations.OwnerOf(at.String())
	assert.False(t, owned)
}

func TestInfoSeesPreTickState(t *testing.T) {
	f := newFixture(t)
	f.addNation(t, "n1")
	at := world.HexCoord{Q: 6, R: 6}
	f.own(t, "n1", at)

	f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n1",
		Order: &jobs.OrderPayload{Kind: jobs.OrderBuild, Target: at, Amount: 1}})
	info := f.enqueue(t, &jobs.Request{ActionType: jobs.TierInfo,
		Info: &jobs.InfoPayload{Query: jobs.QueryTerritory, Target: &at}})

	rec := f.step()
	require.Len(t, rec.JobRequestsCompleted, 2)
	assert.Equal(t, info, rec.JobRequestsCompleted[0], "info resolves before orders")

	resp, _ := f.engine.Response(info)
	assert.Equal(t, 0, resp.Result.(*world.Territory).CurrentBuildingCapacity)
	terr, _ := f.world.Get(at)
	assert.Equal(t, 1, terr.CurrentBuildingCapacity)
}

func TestPanickingJobIsIsolated(t *testing.T) {
	f := newFixture(t)
	at := world.HexCoord{Q: 1, R: 1}
	bad := f.enqueue(t, &jobs.Request{ActionType: jobs.TierTimer,
		Timer: &jobs.TimerPayload{Duration: 1, Effect: jobs.EffectBuild, Target: &at}})
	// Corrupt the queued job so its resolution dereferences a nil target.
	job, _ := f.queue.Get(bad)
	job.Timer.Target = nil
	require.True(t, f.queue.Update(job))
	good := f.enqueue(t, &jobs.Request{ActionType: jobs.TierInfo})

	rec := f.step()
	assert.Equal(t, TickFailed, rec.Status)
	assert.Equal(t, []string{good}, rec.JobRequestsCompleted)
	assert.Equal(t, []string{bad}, rec.JobRequestsFailed)
	assert.Zero(t, f.queue.Len(), "failed timer is dropped")

	resp, _ := f.engine.Response(bad)
	assert.Equal(t, ResponseDropped, resp.Status)
	assert.Contains(t, resp.Error, "panic")
}

// onMessage runs fn once the first time a record with the given message is logged.
type onMessage struct {
	msg  string
	fn   func()
	done bool
}

func (h *onMessage) Enabled(context.Context, slog.Level) bool { return true }
func (h *onMessage) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *onMessage) WithGroup(string) slog.Handler             { return h }

func (h *onMessage) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg && !h.done {
		h.done = true
		h.fn()
	}
	return nil
}

func TestTimerEnqueuedMidTickCountsFromThatTick(t *testing.T) {
	f := newFixture(t)
	at := world.HexCoord{Q: 1, R: 1}
	bad := f.enqueue(t, &jobs.Request{ActionType: jobs.TierTimer,
		Timer: &jobs.TimerPayload{Duration: 1, Effect: jobs.EffectBuild, Target: &at}})
	job, _ := f.queue.Get(bad)
	job.Timer.Target = nil
	require.True(t, f.queue.Update(job))

	// The failing timer's error log fires while tick 1 is being processed.
	var late string
	f.engine.Log = slog.New(&onMessage{msg: "job resolution failed", fn: func() {
		late = f.enqueue(t, &jobs.Request{ActionType: jobs.TierTimer, Timer: &jobs.TimerPayload{Duration: 2}})
	}})

	rec := f.step()
	require.NotEmpty(t, late)
	assert.NotContains(t, rec.JobRequestsCompleted, late)
	job, ok := f.queue.Get(late)
	require.True(t, ok)
	assert.Equal(t, uint64(1), job.EnqueuedTick)

	rec = f.step()
	assert.Empty(t, rec.JobRequestsCompleted)
	_, ok = f.queue.Get(late)
	assert.True(t, ok, "timer has only waited one tick")

	rec = f.step()
	assert.Equal(t, []string{late}, rec.JobRequestsCompleted)
	resp, _ := f.engine.Response(late)
	assert.Equal(t, Expiry{Effect: jobs.EffectNotify, ExpiredAt: 3}, resp.Result)
}

func TestErroringOrderIsRetriedThenDropped(t *testing.T) {
	f := newFixture(t)
	f.engine.MaxAttempts = 2
	f.addNation(t, "n1")
	id := f.enqueue(t, &jobs.Request{ActionType: jobs.TierOrder, NationID: "n1",
		Order: &jobs.OrderPayload{Kind: jobs.OrderClaim, Target: world.HexCoord{Q: 1, R: 2}}})
	job, _ := f.queue.Get(id)
	job.Order.ClaimID = "no-such-claim"
	require.True(t, f.queue.Update(job))

	rec := f.step()
	assert.Equal(t, TickFailed, rec.Status)
	job, ok := f.queue.Get(id)
	require.True(t, ok, "order stays queued for retry")
	assert.Equal(t, 1, job.Attempts)

	f.step()
	_, ok = f.queue.Get(id)
	assert.False(t, ok)
	resp, _ := f.engine.Response(id)
	assert.Equal(t, ResponseDropped, resp.Status)
}

type recordingSink struct {
	got []TickRecord
	err error
}

func (s *recordingSink) RecordTick(_ context.Context, rec TickRecord) error {
	s.got = append(s.got, rec)
	return s.err
}

func TestRecordsReachSinks(t *testing.T) {
	f := newFixture(t)
	ok := &recordingSink{}
	broken := &recordingSink{err: eris.New("disk full")}
	f.engine.Sinks = []RecordSink{broken, ok}

	f.step()
	f.step()
	require.Len(t, ok.got, 2)
	assert.Equal(t, uint64(2), ok.got[1].Tick)
	assert.Len(t, broken.got, 2)

	id := f.enqueue(t, &jobs.Request{ActionType: jobs.TierInfo})
	job, _ := f.queue.Get(id)
	assert.Equal(t, uint64(2), job.EnqueuedTick, "queue learns the last completed tick")
}
