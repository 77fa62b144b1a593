package rq

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const GlobalID = "global"

// Registry owns the process-wide default queue and the per-owner queues
// (one per location).
type Registry struct {
	mu     sync.Mutex
	global *Queue
	queues map[string]*Queue
	moving map[string]bool
	// closed queues of settled owners that still hold units
	draining []*Queue
	post   PostRequestFunc
	log    *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	r := &Registry{
		queues: make(map[string]*Queue),
		moving: make(map[string]bool),
		log:    log,
	}
	r.global = NewQueue(GlobalID, r.postRequest, log)
	return r
}

// SetPostRequest installs the hook run after every unit on every queue.
func (r *Registry) SetPostRequest(fn PostRequestFunc) {
	r.mu.Lock()
	r.post = fn
	r.mu.Unlock()
}

func (r *Registry) postRequest(ctx context.Context, rc *Context) {
	r.mu.Lock()
	fn := r.post
	r.mu.Unlock()
	if fn != nil {
		fn(ctx, rc)
	}
}

// Global returns the default queue.
func (r *Registry) Global() *Queue { return r.global }

// Get returns the queue for owner id, creating it on first use. It fails
// while the owner is being migrated.
func (r *Registry) Get(id string) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.moving[id] {
		return nil, fmt.Errorf("queue for %s: %w", id, ErrQueueClosed)
	}
	q, ok := r.queues[id]
	if !ok {
		q = NewQueue(id, r.postRequest, r.log)
		r.queues[id] = q
	}
	return q, nil
}

// Migrate marks the owner's queue as unavailable until Settle is called;
// pushes and lookups fail meanwhile.
func (r *Registry) Migrate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moving[id] = true
	if q, ok := r.queues[id]; ok {
		q.Close()
	}
}

// Settle ends a migration started with Migrate. Get hands out a fresh
// queue from now on; pending units of the old one are run by the next
// ProcessAll, ahead of the new queue's.
func (r *Registry) Settle(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.moving, id)
	q, ok := r.queues[id]
	if !ok {
		return
	}
	q.mu.Lock()
	closed, pending := q.closed, len(q.pending)
	q.mu.Unlock()
	if !closed {
		return
	}
	delete(r.queues, id)
	if pending > 0 {
		r.draining = append(r.draining, q)
	}
}

// Len reports the number of owner queues (the global queue excluded).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

// ProcessAll runs up to max units on every queue, global queue first.
func (r *Registry) ProcessAll(max int) int {
	n := r.global.Process(max)
	n += r.processDraining(max)
	r.mu.Lock()
	ids := make([]string, 0, len(r.queues))
	for id := range r.queues {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		r.mu.Lock()
		q := r.queues[id]
		r.mu.Unlock()
		if q == nil {
			continue
		}
		n += q.Process(max)
		r.dropIfDrained(id, q)
	}
	return n
}

func (r *Registry) dropIfDrained(id string, q *Queue) {
	q.mu.Lock()
	drained := q.closed && len(q.pending) == 0
	q.mu.Unlock()
	if !drained {
		return
	}
	r.mu.Lock()
	if r.queues[id] == q {
		delete(r.queues, id)
	}
	r.mu.Unlock()
}

func (r *Registry) processDraining(max int) int {
	r.mu.Lock()
	old := r.draining
	r.draining = nil
	r.mu.Unlock()
	n := 0
	var left []*Queue
	for _, q := range old {
		n += q.Process(max)
		if q.Len() > 0 {
			left = append(left, q)
		}
	}
	if len(left) > 0 {
		r.mu.Lock()
		r.draining = append(left, r.draining...)
		r.mu.Unlock()
	}
	return n
}
