// Package game owns one running world instance: its map, nations, action
// queue, tick engine and scheduler, and the store they are saved to.
package game

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/engine"
	"github.com/talgya/cli-mmo/internal/jobs"
	"github.com/talgya/cli-mmo/internal/persistence"
	"github.com/talgya/cli-mmo/internal/social"
	"github.com/talgya/cli-mmo/internal/world"
)

var (
	ErrInvalidNation = eris.New("invalid nation")
	ErrNotOpen       = eris.New("game instance not open")
)

// Store persists an instance. Both persistence.DB and persistence.RedisStore satisfy it.
type Store interface {
	HasInstance(ctx context.Context, id string) (bool, error)
	GetInstance(ctx context.Context, id string) (persistence.Instance, error)
	CreateInstance(ctx context.Context, inst persistence.Instance) error
	SaveSnapshot(ctx context.Context, instanceID string, m *world.Map, nations []*social.Nation, tick uint64) error
	LoadWorld(ctx context.Context, instanceID string) (*world.Map, error)
	CreateNation(ctx context.Context, instanceID string, n *social.Nation) error
	LoadNations(ctx context.Context, instanceID string) ([]*social.Nation, error)
	SaveTickRecord(ctx context.Context, instanceID string, rec engine.TickRecord) error
	TickRecords(ctx context.Context, instanceID string, limit int) ([]engine.TickRecord, error)
	GetMeta(ctx context.Context, instanceID, key string) (string, error)
}

// Options configures a Game.
type Options struct {
	InstanceID   string
	Gen          world.GenConfig
	Templates    *world.Registry
	Store        Store
	Log          *slog.Logger
	TickInterval time.Duration
	ClaimTicks   int
	MaxAttempts  int
	SaveEvery    uint64 // ticks between periodic saves; 0 disables them
	Sinks        []engine.RecordSink
	Now          func() time.Time
}

// Game is one world instance and everything that advances it.
type Game struct {
	ID        string
	Queue     *jobs.Queue
	World     *world.Map
	Nations   *social.Registry
	Engine    *engine.Engine
	Scheduler *engine.Scheduler
	Agg       *social.Aggregator

	opts   Options
	store  Store
	log    *slog.Logger
	saveMu sync.Mutex
	opened bool
}

// New wires the components of an instance. The world stays empty until Open.
func New(opts Options) (*Game, error) {
	if opts.InstanceID == "" {
		return nil, eris.Wrap(world.ErrConfiguration, "instance id is empty")
	}
	if opts.Store == nil {
		return nil, eris.Wrap(world.ErrConfiguration, "no store")
	}
	if opts.Templates == nil {
		return nil, eris.Wrap(world.ErrConfiguration, "no biome templates")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	log := opts.Log.With("instance", opts.InstanceID)

	g := &Game{
		ID:      opts.InstanceID,
		Queue:   jobs.NewQueue(),
		World:   world.NewMap(opts.Gen.Width, opts.Gen.Height),
		Nations: social.NewRegistry(),
		opts:    opts,
		store:   opts.Store,
		log:     log,
	}

	g.Engine = engine.New(g.Queue, g.World, g.Nations, log)
	if opts.ClaimTicks > 0 {
		g.Engine.ClaimTicks = opts.ClaimTicks
	}
	if opts.MaxAttempts > 0 {
		g.Engine.MaxAttempts = opts.MaxAttempts
	}
	if opts.Now != nil {
		g.Engine.Now = opts.Now
	}
	g.Engine.Sinks = append([]engine.RecordSink{storeSink{store: g.store, instanceID: g.ID}}, opts.Sinks...)

	g.Agg = social.NewAggregator(g.Nations, g.World, log)
	g.Scheduler = engine.NewScheduler(g.Engine.ProcessTick, log)
	g.Scheduler.Subscribe(g.aggregate)
	g.Scheduler.Subscribe(g.logTick)
	g.Scheduler.Subscribe(g.periodicSave)
	return g, nil
}

// Open loads the instance from the store, or generates and saves a new world
// when the store has never seen it.
func (g *Game) Open(ctx context.Context) error {
	ok, err := g.store.HasInstance(ctx, g.ID)
	if err != nil {
		return err
	}
	if ok {
		err = g.load(ctx)
	} else {
		err = g.create(ctx)
	}
	if err != nil {
		return err
	}
	g.opened = true
	return nil
}

func (g *Game) create(ctx context.Context) error {
	m, err := world.Generate(g.opts.Gen, g.opts.Templates)
	if err != nil {
		return eris.Wrapf(err, "generate world for %s", g.ID)
	}
	g.setWorld(m)

	inst := persistence.Instance{
		ID:        g.ID,
		Width:     m.Width,
		Height:    m.Height,
		Seed:      g.opts.Gen.Seed,
		CreatedAt: g.Engine.Now().UTC(),
	}
	if err := g.store.CreateInstance(ctx, inst); err != nil {
		return err
	}
	if err := g.Save(ctx); err != nil {
		return err
	}
	g.log.Info("generated world", "territories", m.Len(), "width", m.Width, "height", m.Height, "seed", inst.Seed)
	return nil
}

func (g *Game) load(ctx context.Context) error {
	m, err := g.store.LoadWorld(ctx, g.ID)
	if err != nil {
		return err
	}
	g.setWorld(m)

	nations, err := g.store.LoadNations(ctx, g.ID)
	if err != nil {
		return err
	}
	for _, n := range nations {
		if err := g.Nations.Add(n); err != nil {
			return eris.Wrapf(err, "restore nation %s", n.ID)
		}
	}

	v, err := g.store.GetMeta(ctx, g.ID, persistence.MetaLastTick)
	if err != nil {
		return err
	}
	last, err := persistence.ParseTick(v)
	if err != nil {
		return err
	}
	g.Scheduler.Resume(last)
	g.Agg.Resume(last)
	g.Queue.SetTick(last)

	g.log.Info("loaded world", "territories", m.Len(), "nations", len(nations), "tick", last,
		"game_time", engine.GameTime(last))
	return nil
}

func (g *Game) setWorld(m *world.Map) {
	g.World = m
	g.Engine.World = m
	g.Agg.World = m
}

// StartTicking starts the scheduler at the configured interval.
func (g *Game) StartTicking() error {
	if !g.opened {
		return ErrNotOpen
	}
	return g.Scheduler.Start(g.opts.TickInterval)
}

// StopTicking waits for any running tick, closes the queue and saves the instance.
func (g *Game) StopTicking(ctx context.Context) error {
	g.Scheduler.Stop()
	g.Queue.Shutdown()
	if !g.opened {
		return nil
	}
	return g.Save(ctx)
}

// Subscribe forwards fn to the scheduler's tick-complete notifications.
func (g *Game) Subscribe(fn func(engine.TickEvent)) {
	g.Scheduler.Subscribe(fn)
}

// Save writes the world, the nations and the last tick number together, so a
// reload never resumes aggregation from a tick the nations already include.
func (g *Game) Save(ctx context.Context) error {
	g.saveMu.Lock()
	defer g.saveMu.Unlock()

	tick := g.Scheduler.CurrentTick()
	if err := g.store.SaveSnapshot(ctx, g.ID, g.World, g.Nations.All(), tick); err != nil {
		return err
	}
	g.log.Debug("instance saved", "tick", tick, "territories", g.World.Len())
	return nil
}

// Submit validates and enqueues a job, returning its id.
func (g *Game) Submit(req *jobs.Request) (string, error) {
	return g.Queue.Enqueue(req)
}

// CreateNation registers a new nation and stores it.
func (g *Game) CreateNation(ctx context.Context, name, code, leaderID string) (*social.Nation, error) {
	name = strings.TrimSpace(name)
	code = strings.TrimSpace(code)
	if name == "" {
		return nil, eris.Wrap(ErrInvalidNation, "name is required")
	}
	if len(code) > 8 {
		return nil, eris.Wrapf(ErrInvalidNation, "code %q longer than 8 characters", code)
	}
	n := social.NewNation(name, code, leaderID)
	if err := g.Nations.Add(n); err != nil {
		return nil, err
	}
	if err := g.store.CreateNation(ctx, g.ID, n); err != nil {
		return nil, err
	}
	g.log.Info("nation created", "nation_id", n.ID, "name", n.Name)
	return n.Clone(), nil
}

// WorldEntries returns every territory ordered by coordinate.
func (g *Game) WorldEntries() []world.Entry {
	return g.World.Entries()
}

// Territory returns a copy of the territory at coord.
func (g *Game) Territory(coord world.HexCoord) (*world.Territory, bool) {
	return g.World.Get(coord)
}

// AllNations returns copies of all nations ordered by id.
func (g *Game) AllNations() []*social.Nation {
	return g.Nations.All()
}

// Nation returns a copy of one nation.
func (g *Game) Nation(id string) (*social.Nation, bool) {
	return g.Nations.Get(id)
}

// Records returns the most recent stored tick records, oldest first.
func (g *Game) Records(ctx context.Context, limit int) ([]engine.TickRecord, error) {
	return g.store.TickRecords(ctx, g.ID, limit)
}

// JobState is where a submitted job currently stands.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobDropped   JobState = "dropped"
)

// JobStatus reports a job either still in the queue or already answered.
type JobStatus struct {
	ID       string           `json:"id"`
	State    JobState         `json:"state"`
	Job      *jobs.Request    `json:"job,omitempty"`
	Response *engine.Response `json:"response,omitempty"`
}

// JobStatus looks a job up in the queue, then among recent responses.
func (g *Game) JobStatus(id string) (JobStatus, bool) {
	if j, ok := g.Queue.Get(id); ok {
		return JobStatus{ID: id, State: JobQueued, Job: j}, true
	}
	if r, ok := g.Engine.Response(id); ok {
		return JobStatus{ID: id, State: JobState(r.Status), Response: &r}, true
	}
	return JobStatus{}, false
}

// Status is a summary of the running instance.
type Status struct {
	InstanceID   string `json:"instance_id"`
	Tick         uint64 `json:"tick"`
	GameTime     string `json:"game_time"`
	Running      bool   `json:"running"`
	Skipped      uint64 `json:"skipped_firings"`
	TickInterval string `json:"tick_interval"`
	QueuedJobs   int    `json:"queued_jobs"`
	Territories  int    `json:"territories"`
	Nations      int    `json:"nations"`
}

// Status returns the current instance summary.
func (g *Game) Status() Status {
	tick := g.Scheduler.CurrentTick()
	return Status{
		InstanceID:   g.ID,
		Tick:         tick,
		GameTime:     engine.GameTime(tick),
		Running:      g.Scheduler.Running(),
		Skipped:      g.Scheduler.Skipped(),
		TickInterval: g.opts.TickInterval.String(),
		QueuedJobs:   g.Queue.Len(),
		Territories:  g.World.Len(),
		Nations:      g.Nations.Len(),
	}
}

func (g *Game) aggregate(ev engine.TickEvent) {
	if err := g.Agg.Aggregate(ev.Tick); err != nil {
		if eris.Is(err, social.ErrAlreadyAggregated) {
			g.log.Warn("aggregation skipped", "tick", ev.Tick, "error", err)
			return
		}
		g.log.Error("aggregation failed", "tick", ev.Tick, "error", err)
	}
}

func (g *Game) logTick(ev engine.TickEvent) {
	g.log.Info("tick complete",
		"tick", ev.Tick,
		"game_time", engine.GameTime(ev.Tick),
		"status", ev.Record.Status,
		"completed", len(ev.Record.JobRequestsCompleted),
		"failed", len(ev.Record.JobRequestsFailed),
		"queued", g.Queue.Len(),
		"duration", ev.Duration,
	)
}

func (g *Game) periodicSave(ev engine.TickEvent) {
	if g.opts.SaveEvery == 0 || ev.Tick%g.opts.SaveEvery != 0 {
		return
	}
	if err := g.Save(context.Background()); err != nil {
		g.log.Error("periodic save failed", "tick", ev.Tick, "error", err)
	}
}

// storeSink writes tick records into the instance store.
type storeSink struct {
	store      Store
	instanceID string
}

func (s storeSink) RecordTick(ctx context.Context, rec engine.TickRecord) error {
	return s.store.SaveTickRecord(ctx, s.instanceID, rec)
}
