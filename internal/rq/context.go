package rq

import "context"

// Owner is anything a request can operate on. Game objects implement it.
type Owner interface {
	GetID() string
}

// Context is the per-request state shared by everything that runs inside a
// single queue unit: objects to save and objects to release from the live
// cache once the unit has finished.
type Context struct {
	Tag string

	cache   map[string]Owner
	dirty   []Owner
	dirtyID map[string]bool
	unload  []Owner
	unldID  map[string]bool
}

type ctxKey struct{}

// NewContext returns an empty request context with the given tag.
func NewContext(tag string) *Context {
	return &Context{
		Tag:     tag,
		cache:   make(map[string]Owner),
		dirtyID: make(map[string]bool),
		unldID:  make(map[string]bool),
	}
}

// WithContext attaches rc to ctx.
func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the request context carried by ctx, or nil when the
// caller is not running inside a request.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(ctxKey{}).(*Context)
	return rc
}

// Put adds an object to the request-local cache.
func (rc *Context) Put(o Owner) {
	rc.cache[o.GetID()] = o
}

// Cached returns an object previously added with Put.
func (rc *Context) Cached(id string) (Owner, bool) {
	o, ok := rc.cache[id]
	return o, ok
}

// SetDirty flags o to be persisted after the request.
func (rc *Context) SetDirty(o Owner) {
	id := o.GetID()
	if rc.dirtyID[id] {
		return
	}
	rc.dirtyID[id] = true
	rc.dirty = append(rc.dirty, o)
}

// SetUnload flags o to be released from the live cache after the request.
func (rc *Context) SetUnload(o Owner) {
	id := o.GetID()
	if rc.unldID[id] {
		return
	}
	rc.unldID[id] = true
	rc.unload = append(rc.unload, o)
}

// Dirty returns the objects flagged with SetDirty, in flagging order.
func (rc *Context) Dirty() []Owner { return rc.dirty }

// Unloads returns the objects flagged with SetUnload, in flagging order.
func (rc *Context) Unloads() []Owner { return rc.unload }
