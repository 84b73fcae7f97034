package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/jobs"
	"github.com/talgya/cli-mmo/internal/social"
	"github.com/talgya/cli-mmo/internal/world"
)

// ErrJobResolution wraps a failure inside one job's resolution, including recovered panics.
var ErrJobResolution = eris.New("job resolution failed")

const (
	DefaultClaimTicks  = 3
	DefaultMaxAttempts = 5

	// maxRecords bounds the in-memory tick history; sinks keep the full trail.
	maxRecords = 1024
)

// Engine resolves the queued jobs against the world once per tick.
type Engine struct {
	Queue   *jobs.Queue
	World   *world.Map
	Nations *social.Registry
	Sinks   []RecordSink
	Log     *slog.Logger

	ClaimTicks  int // ticks a claim stays pending before it resolves
	MaxAttempts int // resolution errors tolerated for ORDER and DISTANCE jobs
	Now         func() time.Time

	runID   string
	outbox  *outbox
	mu      sync.RWMutex
	records []TickRecord
}

// New creates an engine with default claim and retry settings.
func New(q *jobs.Queue, w *world.Map, nations *social.Registry, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Queue:       q,
		World:       w,
		Nations:     nations,
		Log:         log,
		ClaimTicks:  DefaultClaimTicks,
		MaxAttempts: DefaultMaxAttempts,
		Now:         time.Now,
		runID:       uuid.NewString()[:8],
		outbox:      newOutbox(defaultOutboxSize),
	}
}

// outcome is what a resolver decided for one job this tick.
type outcome struct {
	done   bool // leaves the queue with a response
	failed bool // terminal business failure, not an error
	result any
	reason string
	write  bool // pending job whose payload changed
}

func succeeded(result any) outcome { return outcome{done: true, result: result} }

func failed(format string, args ...any) outcome {
	return outcome{done: true, failed: true, reason: fmt.Sprintf(format, args...)}
}

func pending(write bool) outcome { return outcome{write: write} }

type nationOp struct {
	assign      bool
	nationID    string
	territoryID string
}

// tickState is the working state of one tick.
type tickState struct {
	tick    uint64
	now     time.Time
	tx      *world.Txn
	ops     []nationOp
	errored bool

	removals  []string
	writes    []*jobs.Request
	responses []Response
}

// ProcessTick runs one tick: INFO jobs, then ORDER, then DISTANCE, then TIMER,
// each in enqueue order. World changes are published together when the tick
// closes. A failing job is rolled back and logged without affecting the others.
func (e *Engine) ProcessTick(ctx context.Context, tick uint64) TickRecord {
	now := e.Now()
	rec := TickRecord{
		Tick:                 tick,
		ID:                   fmt.Sprintf("%s-%d", e.runID, tick),
		Timestamp:            now,
		Status:               TickPending,
		JobRequestsCompleted: []string{},
	}

	snapshot := e.Queue.SnapshotAt(tick)
	ts := &tickState{tick: tick, now: now, tx: e.World.Begin()}

	for _, tier := range jobs.Tiers {
		for _, job := range snapshot {
			if job.ActionType != tier {
				continue
			}
			e.runJob(ts, job, &rec)
		}
	}

	ts.tx.Commit()
	e.applyNationOps(ts)

	for _, job := range ts.writes {
		e.Queue.Update(job)
	}
	for _, id := range ts.removals {
		e.Queue.Remove(id)
	}
	for _, r := range ts.responses {
		e.outbox.put(r)
	}

	rec.Status = TickCompleted
	if ts.errored {
		rec.Status = TickFailed
	}
	e.appendRecord(rec)

	for _, sink := range e.Sinks {
		if err := sink.RecordTick(ctx, rec); err != nil {
			e.Log.Error("tick record sink failed", "tick", tick, "error", err)
		}
	}
	return rec
}

func (e *Engine) runJob(ts *tickState, job *jobs.Request, rec *TickRecord) {
	sp := ts.tx.Savepoint()
	opsMark := len(ts.ops)

	work := job.Clone()
	out, err := e.safeResolve(ts, work)
	if err == nil {
		switch {
		case out.done:
			status := ResponseSucceeded
			if out.failed {
				status = ResponseFailed
			}
			ts.removals = append(ts.removals, job.ID)
			ts.responses = append(ts.responses, Response{
				JobID: job.ID, Tier: job.ActionType, Tick: ts.tick,
				Status: status, Result: out.result, Error: out.reason,
			})
			rec.JobRequestsCompleted = append(rec.JobRequestsCompleted, job.ID)
		case out.write:
			ts.writes = append(ts.writes, work)
		}
		return
	}

	ts.tx.RollbackTo(sp)
	ts.ops = ts.ops[:opsMark]
	ts.errored = true
	rec.JobRequestsFailed = append(rec.JobRequestsFailed, job.ID)
	e.Log.Error("job resolution failed", "tick", ts.tick, "job_id", job.ID, "tier", job.ActionType, "error", err)

	drop := false
	switch job.ActionType {
	case jobs.TierOrder, jobs.TierDistance:
		job.Attempts++
		if job.Attempts >= e.maxAttempts() {
			drop = true
		} else {
			ts.writes = append(ts.writes, job)
		}
	default:
		drop = true
	}
	if drop {
		e.Log.Warn("dropping job", "tick", ts.tick, "job_id", job.ID, "tier", job.ActionType, "attempts", job.Attempts)
		ts.removals = append(ts.removals, job.ID)
		ts.responses = append(ts.responses, Response{
			JobID: job.ID, Tier: job.ActionType, Tick: ts.tick,
			Status: ResponseDropped, Error: err.Error(),
		})
	}
}

func (e *Engine) safeResolve(ts *tickState, job *jobs.Request) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Wrapf(ErrJobResolution, "panic: %v", r)
		}
	}()
	out, err = e.resolve(ts, job)
	if err != nil && !eris.Is(err, ErrJobResolution) {
		err = eris.Wrap(ErrJobResolution, err.Error())
	}
	return out, err
}

func (e *Engine) applyNationOps(ts *tickState) {
	if e.Nations == nil {
		return
	}
	for _, op := range ts.ops {
		var err error
		if op.assign {
			err = e.Nations.AssignTerritory(op.nationID, op.territoryID)
		} else {
			err = e.Nations.ReleaseTerritory(op.nationID, op.territoryID)
		}
		if err != nil {
			e.Log.Error("nation holdings update failed", "tick", ts.tick,
				"nation_id", op.nationID, "territory", op.territoryID, "error", err)
		}
	}
}

func (e *Engine) appendRecord(rec TickRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	if len(e.records) > maxRecords {
		e.records = append([]TickRecord(nil), e.records[len(e.records)-maxRecords:]...)
	}
}

// Records returns the in-memory tick history, oldest first.
func (e *Engine) Records() []TickRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]TickRecord, len(e.records))
	copy(out, e.records)
	return out
}

// Response returns the recorded response for a job that has left the queue.
func (e *Engine) Response(jobID string) (Response, bool) {
	return e.outbox.get(jobID)
}

// Responses returns the retained responses, oldest first.
func (e *Engine) Responses() []Response {
	return e.outbox.all()
}

func (e *Engine) maxAttempts() int {
	if e.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return e.MaxAttempts
}

func (e *Engine) claimTicks() uint64 {
	if e.ClaimTicks <= 0 {
		return DefaultClaimTicks
	}
	return uint64(e.ClaimTicks)
}
