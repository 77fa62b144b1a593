// Package world holds the live object cache and drives object lifecycles:
// loading from and writing to storage, creation, deferred eviction and
// deletion. State is only touched from the game loop goroutine, except for
// QueueFor which timer callbacks call from clock goroutines.
package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/l1jgo/objcore/internal/clock"
	"github.com/l1jgo/objcore/internal/core/event"
	"github.com/l1jgo/objcore/internal/gameobj"
	"github.com/l1jgo/objcore/internal/id"
	"github.com/l1jgo/objcore/internal/persist"
	"github.com/l1jgo/objcore/internal/rq"
	"github.com/l1jgo/objcore/internal/timer"
	"go.uber.org/zap"
)

// ErrDeleted is returned by Get for an object that is waiting to be
// removed from storage.
var ErrDeleted = errors.New("object deleted")

// ClassDefaults supplies the initial fields of newly created objects.
type ClassDefaults interface {
	Defaults(classID string) map[string]any
}

// Options configure a State.
type Options struct {
	Shard    string
	MaxDelay time.Duration // 0 selects the scheduler default
	Classes  ClassDefaults
}

// State is the live object cache.
type State struct {
	backend persist.Backend
	types   *gameobj.Registry
	queues  *rq.Registry
	bus     *event.Bus
	clock   clock.Clock
	sched   *timer.Scheduler
	classes ClassDefaults
	shard   string
	log     *zap.Logger

	objects     map[string]*gameobj.Object
	unloadQueue []*gameobj.Object
	unloadIDs   map[string]bool
}

// New creates the cache and its timer scheduler, and installs the
// post-request hook on queues.
func New(backend persist.Backend, types *gameobj.Registry, queues *rq.Registry, bus *event.Bus,
	clk clock.Clock, opts Options, log *zap.Logger) *State {
	s := &State{
		backend:   backend,
		types:     types,
		queues:    queues,
		bus:       bus,
		clock:     clk,
		classes:   opts.Classes,
		shard:     opts.Shard,
		log:       log,
		objects:   make(map[string]*gameobj.Object),
		unloadIDs: make(map[string]bool),
	}
	s.sched = timer.New(clk, s.QueueFor, opts.MaxDelay, log.Named("timer"))
	queues.SetPostRequest(s.postRequest)
	return s
}

// Scheduler returns the timer scheduler of this cache.
func (s *State) Scheduler() *timer.Scheduler { return s.sched }

// Len returns the number of live objects.
func (s *State) Len() int { return len(s.objects) }

// Cached returns a live object without loading it.
func (s *State) Cached(oid string) (*gameobj.Object, bool) {
	o, ok := s.objects[oid]
	return o, ok
}

// IDs returns the ids of all live objects, sorted.
func (s *State) IDs() []string {
	ids := make([]string, 0, len(s.objects))
	for oid := range s.objects {
		ids = append(ids, oid)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the live object for oid, loading it from storage if needed.
// A loaded object is in the cache before its load hook runs and its
// timers are resumed.
func (s *State) Get(ctx context.Context, oid string) (*gameobj.Object, error) {
	rc := rq.FromContext(ctx)
	if rc != nil {
		if c, ok := rc.Cached(oid); ok {
			if o, ok := c.(*gameobj.Object); ok {
				return live(o)
			}
		}
	}
	if o, ok := s.objects[oid]; ok {
		if rc != nil {
			rc.Put(o)
		}
		return live(o)
	}

	raw, err := s.backend.Read(ctx, oid)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", oid, err)
	}
	data, err := gameobj.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", oid, err)
	}
	classID, _ := data[gameobj.KeyClassID].(string)
	typ, err := s.types.Lookup(gameobj.KindOf(oid), classID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", oid, err)
	}
	o, err := gameobj.New(typ, data, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", oid, err)
	}
	if o.ID != oid {
		return nil, fmt.Errorf("load %s: snapshot has tsid %s", oid, o.ID)
	}

	s.objects[oid] = o
	s.assignQueue(o)
	if rc != nil {
		rc.Put(o)
	}
	if err := o.RunLoadHook(ctx); err != nil {
		delete(s.objects, oid)
		return nil, fmt.Errorf("load hook of %s: %w", o, err)
	}
	s.sched.Resume(ctx, o)
	s.log.Debug("object loaded", zap.Stringer("obj", o), zap.String("class", o.ClassID))
	event.Emit(s.bus, event.ObjectLoaded{ID: o.ID, ClassID: o.ClassID})
	return o, nil
}

func live(o *gameobj.Object) (*gameobj.Object, error) {
	if o.Deleted() {
		return nil, fmt.Errorf("get %s: %w", o.ID, ErrDeleted)
	}
	return o, nil
}

// Resolve implements gameobj.Resolver.
func (s *State) Resolve(ctx context.Context, ref gameobj.Ref) (*gameobj.Object, error) {
	return s.Get(ctx, ref.ID)
}

// Create allocates a new object of the given kind and class, seeded with
// the class defaults and props, and runs its creation hook.
func (s *State) Create(ctx context.Context, kind byte, classID string, props map[string]any) (*gameobj.Object, error) {
	typ, err := s.types.Lookup(kind, classID)
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", gameobj.KindName(kind), classID, err)
	}
	data := gameobj.Data{gameobj.KeyID: id.New(kind, s.shard)}
	if classID != "" {
		data[gameobj.KeyClassID] = classID
	}
	o, err := gameobj.New(typ, data, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", gameobj.KindName(kind), classID, err)
	}
	if s.classes != nil && classID != "" {
		o.CopyProps(s.classes.Defaults(classID))
	}
	o.CopyProps(props)

	s.objects[o.ID] = o
	s.assignQueue(o)
	if rc := rq.FromContext(ctx); rc != nil {
		rc.Put(o)
	}
	if err := o.RunCreateHook(ctx); err != nil {
		delete(s.objects, o.ID)
		return nil, fmt.Errorf("create hook of %s: %w", o, err)
	}
	o.MarkDirty(ctx)
	s.log.Debug("object created", zap.Stringer("obj", o), zap.String("class", o.ClassID))
	event.Emit(s.bus, event.ObjectCreated{ID: o.ID, ClassID: o.ClassID})
	return o, nil
}

// QueueFor returns the request queue o's operations run on. Locations
// have their own queue, geo objects and objects placed in a location use
// the location's queue, everything else the global one.
func (s *State) QueueFor(o *gameobj.Object) (*rq.Queue, error) {
	qid := o.QueueID()
	if qid == "" {
		return s.queues.Global(), nil
	}
	return s.queues.Get(qid)
}

func (s *State) assignQueue(o *gameobj.Object) {
	switch o.Kind() {
	case gameobj.KindLocation:
		o.SetQueueID(o.ID)
	case gameobj.KindGeo:
		o.SetQueueID(o.LocationID())
	default:
		if oid, ok := locationOf(o); ok {
			o.SetQueueID(oid)
		} else {
			o.SetQueueID("")
		}
	}
}

func locationOf(o *gameobj.Object) (string, bool) {
	switch l := o.Get("location").(type) {
	case gameobj.Ref:
		return l.ID, l.ID != ""
	case *gameobj.Object:
		if l != nil {
			return l.ID, true
		}
	}
	return "", false
}

// postRequest runs after every request queue unit.
func (s *State) postRequest(ctx context.Context, rc *rq.Context) {
	for _, ow := range rc.Dirty() {
		o, ok := ow.(*gameobj.Object)
		if !ok || o.Deleted() {
			continue
		}
		s.assignQueue(o)
		if !o.Stale() {
			if err := s.save(ctx, o); err != nil {
				s.log.Error("save after request failed",
					zap.String("rq", rc.Tag), zap.Stringer("obj", o), zap.Error(err))
			}
		}
	}
	for _, ow := range rc.Unloads() {
		if o, ok := ow.(*gameobj.Object); ok {
			s.MarkForUnload(o)
		}
	}
}

// MarkForUnload queues o for eviction at the end of the tick.
func (s *State) MarkForUnload(o *gameobj.Object) {
	if s.unloadIDs[o.ID] {
		return
	}
	s.unloadIDs[o.ID] = true
	s.unloadQueue = append(s.unloadQueue, o)
}

// PendingUnloads returns the number of objects waiting for eviction.
func (s *State) PendingUnloads() int { return len(s.unloadQueue) }

// FlushUnloadQueue evicts every queued object: its timers are suspended,
// then it is written to storage (or removed from it when deleted) and
// dropped from the cache. Objects that fail to persist stay queued.
func (s *State) FlushUnloadQueue(ctx context.Context) int {
	if len(s.unloadQueue) == 0 {
		return 0
	}
	var retry []*gameobj.Object
	n := 0
	for _, o := range s.unloadQueue {
		s.sched.Suspend(o)
		if o.Deleted() {
			if err := s.backend.Delete(ctx, o.ID); err != nil {
				s.log.Error("delete failed", zap.Stringer("obj", o), zap.Error(err))
				retry = append(retry, o)
				continue
			}
			event.Emit(s.bus, event.ObjectDeleted{ID: o.ID})
		} else {
			if err := s.save(ctx, o); err != nil {
				s.log.Error("write on unload failed", zap.Stringer("obj", o), zap.Error(err))
				retry = append(retry, o)
				continue
			}
			event.Emit(s.bus, event.ObjectEvicted{ID: o.ID})
		}
		delete(s.objects, o.ID)
		delete(s.unloadIDs, o.ID)
		n++
	}
	s.unloadQueue = append(s.unloadQueue[:0], retry...)
	if n > 0 {
		s.log.Debug("unload queue flushed", zap.Int("evicted", n), zap.Int("retry", len(retry)))
	}
	return n
}

// SaveDirty writes every live object whose dirty flag is set.
func (s *State) SaveDirty(ctx context.Context) int {
	n := 0
	for _, oid := range s.IDs() {
		o := s.objects[oid]
		if !o.Dirty() || o.Deleted() {
			continue
		}
		if err := s.save(ctx, o); err != nil {
			s.log.Error("save failed", zap.Stringer("obj", o), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// Shutdown suspends the timers of every live object and writes it out,
// including the pending evictions.
func (s *State) Shutdown(ctx context.Context) error {
	s.FlushUnloadQueue(ctx)
	var errs []error
	for _, oid := range s.IDs() {
		o := s.objects[oid]
		s.sched.Suspend(o)
		if o.Deleted() {
			continue
		}
		if err := s.save(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info("world saved", zap.Int("objects", len(s.objects)), zap.Int("errors", len(errs)))
	s.objects = make(map[string]*gameobj.Object)
	return errors.Join(errs...)
}

func (s *State) save(ctx context.Context, o *gameobj.Object) error {
	b, err := gameobj.Encode(o.Serialize())
	if err != nil {
		return err
	}
	o.ClearDirty()
	if err := s.backend.Write(ctx, persist.Record{ID: o.ID, ClassID: o.ClassID, Data: b}); err != nil {
		o.MarkDirty(context.Background())
		return err
	}
	return nil
}
