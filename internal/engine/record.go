package engine

import (
	"context"
	"sync"
	"time"

	"github.com/talgya/cli-mmo/internal/jobs"
)

// TickStatus is the state of a tick's audit record.
type TickStatus string

const (
	TickPending   TickStatus = "pending"
	TickCompleted TickStatus = "completed"
	TickFailed    TickStatus = "failed"
)

// TickRecord is the audit entry written once per executed tick.
type TickRecord struct {
	Tick                 uint64     `json:"tick"`
	ID                   string     `json:"id"`
	Timestamp            time.Time  `json:"timestamp"`
	Status               TickStatus `json:"status"`
	JobRequestsCompleted []string   `json:"jobRequestsCompleted"`
	JobRequestsFailed    []string   `json:"jobRequestsFailed,omitempty"`
}

// RecordSink receives every closed tick record, e.g. a store or an audit log.
type RecordSink interface {
	RecordTick(ctx context.Context, rec TickRecord) error
}

// ResponseStatus is the terminal state of a resolved job.
type ResponseStatus string

const (
	ResponseSucceeded ResponseStatus = "succeeded"
	ResponseFailed    ResponseStatus = "failed"
	ResponseDropped   ResponseStatus = "dropped"
)

// Response is the result a player reads back after their job leaves the queue.
type Response struct {
	JobID  string          `json:"job_id"`
	Tier   jobs.ActionTier `json:"tier"`
	Tick   uint64          `json:"tick"`
	Status ResponseStatus  `json:"status"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const defaultOutboxSize = 1000

// outbox keeps the most recent responses, oldest evicted first.
type outbox struct {
	mu    sync.RWMutex
	limit int
	order []string
	byID  map[string]Response
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, byID: make(map[string]Response)}
}

func (o *outbox) put(r Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byID[r.JobID]; !ok {
		o.order = append(o.order, r.JobID)
	}
	o.byID[r.JobID] = r
	for len(o.order) > o.limit {
		delete(o.byID, o.order[0])
		o.order = o.order[1:]
	}
}

func (o *outbox) get(id string) (Response, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.byID[id]
	return r, ok
}

func (o *outbox) all() []Response {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Response, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.byID[id])
	}
	return out
}
