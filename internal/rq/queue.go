// Package rq implements request queues: FIFO queues of units of work that
// guarantee at most one active unit per queue. Every operation on a game
// object goes through the queue the object is assigned to.
package rq

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/l1jgo/objcore/internal/rq"

var ErrQueueClosed = errors.New("request queue closed")

// Func is a unit of work. ctx carries the request Context.
type Func func(ctx context.Context) error

// Callback receives the error returned (or panic raised) by a unit.
type Callback func(err error)

// PostRequestFunc runs after every unit with the unit's request context.
type PostRequestFunc func(ctx context.Context, rc *Context)

// Meta describes a unit for logging and tracing.
type Meta struct {
	Obj Owner
}

// Entry is the ticket for a pushed unit.
type Entry struct {
	Tag      string
	fn       Func
	cb       Callback
	meta     Meta
	canceled atomic.Bool
}

// Cancel flags the entry; a canceled entry is skipped when its turn comes.
func (e *Entry) Cancel() { e.canceled.Store(true) }

// Canceled reports whether Cancel was called.
func (e *Entry) Canceled() bool { return e.canceled.Load() }

// Queue is a single request queue. Push is safe from any goroutine;
// Process must only be called from the game loop.
type Queue struct {
	id      string
	mu      sync.Mutex
	pending []*Entry
	closed  bool
	post    PostRequestFunc
	tracer  trace.Tracer
	log     *zap.Logger
}

// NewQueue creates a queue. post may be nil.
func NewQueue(id string, post PostRequestFunc, log *zap.Logger) *Queue {
	return &Queue{
		id:     id,
		post:   post,
		tracer: otel.Tracer(tracerName),
		log:    log.With(zap.String("rq", id)),
	}
}

func (q *Queue) ID() string { return q.id }

func (q *Queue) String() string { return "RQ." + q.id }

// Push appends a unit and returns its ticket.
func (q *Queue) Push(tag string, fn Func, cb Callback, meta Meta) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("push %s to %s: %w", tag, q, ErrQueueClosed)
	}
	e := &Entry{Tag: tag, fn: fn, cb: cb, meta: meta}
	q.pending = append(q.pending, e)
	return e, nil
}

// Len reports the number of pending units.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects further pushes. Units already queued still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) pop() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return e
}

// Process runs up to max pending units (all of them if max <= 0), one at a
// time and in push order, including units pushed while processing.
// It returns the number of units taken off the queue.
func (q *Queue) Process(max int) int {
	n := 0
	for max <= 0 || n < max {
		e := q.pop()
		if e == nil {
			break
		}
		n++
		q.run(e)
	}
	return n
}

func (q *Queue) run(e *Entry) {
	if e.Canceled() {
		q.log.Debug("skipping canceled request", zap.String("tag", e.Tag))
		return
	}
	rc := NewContext(e.Tag)
	ctx := WithContext(context.Background(), rc)
	attrs := []attribute.KeyValue{attribute.String("rq", q.id)}
	if e.meta.Obj != nil {
		attrs = append(attrs, attribute.String("obj", e.meta.Obj.GetID()))
		rc.Put(e.meta.Obj)
	}
	ctx, span := q.tracer.Start(ctx, e.Tag, trace.WithAttributes(attrs...))
	err := call(ctx, e.fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if q.post != nil {
		q.post(ctx, rc)
	}
	span.End()
	if e.cb != nil {
		e.cb(err)
	} else if err != nil {
		q.log.Error("request failed", zap.String("tag", e.Tag), zap.Error(err))
	}
}

func call(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
