// Package gameobj holds the game object model: identity, data fields,
// the per-object timer table, behavior types, snapshots and property merging.
package gameobj

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/l1jgo/objcore/internal/rq"
	"go.uber.org/zap"
)

// PrivatePrefix marks data fields that are never persisted.
const PrivatePrefix = '!'

// Snapshot keys with special meaning.
const (
	KeyID      = "tsid"
	KeyClassID = "class_tsid"
	KeyCreated = "ts"
	KeyTimers  = "gsTimers"

	keyIDOld      = "id"
	keyClassIDOld = "class_id"
)

var (
	ErrNoID         = errors.New("object data has no tsid")
	ErrKindMismatch = errors.New("object kind does not match its type")
)

// Data is the persistable projection of an object.
type Data map[string]any

// Object is a game object. Props are only touched from the request queue
// the object is assigned to; the timer table has its own lock because
// deferred timer callbacks run on clock goroutines.
type Object struct {
	ID        string
	ClassID   string
	CreatedAt time.Time
	Props     map[string]any
	Timers    *TimerTable

	typ     *Type
	deleted atomic.Bool
	stale   atomic.Bool
	dirty   atomic.Bool
	queueID atomic.Value // string
}

// New builds an object from snapshot or initialization data. Fields other
// than the identity, creation time and timers are shallow-copied into Props.
// The timer entries in data are restored unarmed.
func New(typ *Type, data Data, now time.Time) (*Object, error) {
	if typ == nil {
		return nil, errors.New("object type is required")
	}
	o := &Object{
		Props:  make(map[string]any, len(data)),
		Timers: newTimerTable(),
		typ:    typ,
	}
	for k, v := range data {
		switch k {
		case KeyID, keyIDOld:
			s, _ := v.(string)
			if o.ID == "" || k == KeyID {
				o.ID = s
			}
		case KeyClassID, keyClassIDOld:
			s, _ := v.(string)
			if o.ClassID == "" || k == KeyClassID {
				o.ClassID = s
			}
		case KeyCreated:
			if ms, ok := toInt64(v); ok && ms > 0 {
				o.CreatedAt = time.UnixMilli(ms)
			}
		case KeyTimers:
			entries, err := timerEntriesFromData(v)
			if err != nil {
				return nil, fmt.Errorf("restore timers of %v: %w", data[KeyID], err)
			}
			o.Timers.Entries = entries
		default:
			o.Props[k] = v
		}
	}
	if o.ID == "" {
		return nil, ErrNoID
	}
	if KindOf(o.ID) != typ.Kind {
		return nil, fmt.Errorf("%s as %s: %w", o.ID, KindName(typ.Kind), ErrKindMismatch)
	}
	if o.ClassID == "" {
		o.ClassID = typ.ClassID
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	return o, nil
}

func (o *Object) GetID() string { return o.ID }

// Type returns the behavior type the object was built with.
func (o *Object) Type() *Type { return o.typ }

// Kind returns the kind initial of the object.
func (o *Object) Kind() byte { return KindOf(o.ID) }

func (o *Object) String() string {
	return "[" + KindName(o.Kind()) + "#" + o.ID + "]"
}

func (o *Object) Deleted() bool { return o.deleted.Load() }

func (o *Object) Stale() bool { return o.stale.Load() }

func (o *Object) Dirty() bool { return o.dirty.Load() }

// ClearDirty resets the dirty flag, returning its previous value.
func (o *Object) ClearDirty() bool { return o.dirty.Swap(false) }

// MarkDirty flags the object for saving after the current request.
func (o *Object) MarkDirty(ctx context.Context) {
	o.dirty.Store(true)
	if rc := rq.FromContext(ctx); rc != nil {
		rc.SetDirty(o)
	}
}

// Unload schedules the object to be released from the live cache after the
// current request. Timers stop firing immediately.
func (o *Object) Unload(ctx context.Context) {
	zap.L().Debug("unload", zap.Stringer("obj", o))
	o.stale.Store(true)
	if rc := rq.FromContext(ctx); rc != nil {
		rc.SetUnload(o)
	}
}

// Del schedules the object for permanent removal after the current request.
func (o *Object) Del(ctx context.Context) {
	zap.L().Info("del", zap.Stringer("obj", o))
	o.deleted.Store(true)
	o.Unload(ctx)
}

// QueueID returns the id of the request queue the object is assigned to.
// Empty means the global queue. Safe to call from any goroutine.
func (o *Object) QueueID() string {
	id, _ := o.queueID.Load().(string)
	return id
}

// SetQueueID assigns the object to a request queue.
func (o *Object) SetQueueID(id string) { o.queueID.Store(id) }

// Get returns a data field.
func (o *Object) Get(key string) any { return o.Props[key] }

// Set assigns a data field.
func (o *Object) Set(key string, val any) { o.Props[key] = val }

// SetProps assigns every field of props.
func (o *Object) SetProps(props map[string]any) {
	for k, v := range props {
		o.Props[k] = v
	}
}

// LocationID returns the id of the location paired with a geo object.
func (o *Object) LocationID() string {
	return string(KindLocation) + o.ID[1:]
}

// RunLoadHook calls the type's load hook, if it has one.
func (o *Object) RunLoadHook(ctx context.Context) error {
	if o.typ.loader == nil {
		return nil
	}
	return o.typ.loader.OnLoad(ctx, o)
}

// RunCreateHook calls the type's creation hook, if it has one.
func (o *Object) RunCreateHook(ctx context.Context) error {
	if o.typ.creator == nil {
		return nil
	}
	return o.typ.creator.OnCreate(ctx, o)
}
