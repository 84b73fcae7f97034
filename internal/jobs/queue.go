package jobs

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Queue is the pending-job collection shared by request handlers and the tick engine.
// Every operation runs under one mutex.
type Queue struct {
	mu     sync.Mutex
	jobs   []*Request
	index  map[string]*Request
	tick   uint64
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{index: make(map[string]*Request)}
}

// Enqueue validates and appends a job. An empty id is replaced with a fresh uuid.
// The accepted job's id is returned.
func (q *Queue) Enqueue(req *Request) (string, error) {
	if req == nil {
		return "", eris.Wrap(ErrMalformedJob, "nil job")
	}
	job := req.Clone()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if err := job.Validate(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	if _, dup := q.index[job.ID]; dup {
		return "", eris.Wrapf(ErrDuplicateJob, "job %s already queued", job.ID)
	}
	job.EnqueuedTick = q.tick
	job.Attempts = 0
	q.jobs = append(q.jobs, job)
	q.index[job.ID] = job
	return job.ID, nil
}

// Snapshot returns copies of the queued jobs in enqueue order without removing them.
func (q *Queue) Snapshot() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Request, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.Clone()
	}
	return out
}

// SnapshotAt marks tick as the tick in progress and returns the queued jobs
// as Snapshot does. Jobs enqueued after the call are stamped with tick and
// are first evaluated by the next tick.
func (q *Queue) SnapshotAt(tick uint64) []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tick = tick
	out := make([]*Request, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.Clone()
	}
	return out
}

// Update replaces a queued job's state with job. It reports false when the
// job is no longer queued.
func (q *Queue) Update(job *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.index[job.ID]
	if !ok {
		return false
	}
	*cur = *job.Clone()
	return true
}

// Remove drops the job with the given id. Unknown ids are ignored.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[id]; !ok {
		return
	}
	delete(q.index, id)
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
}

// Get returns a copy of a queued job.
func (q *Queue) Get(id string) (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.index[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// SetTick records the last completed tick when resuming. Later enqueues are stamped with it.
func (q *Queue) SetTick(tick uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tick = tick
}

// Shutdown clears all pending jobs and rejects further enqueues.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.jobs = nil
	q.index = make(map[string]*Request)
}

// Closed reports whether Shutdown has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
