package gameobj

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownType = errors.New("unknown object type")

// Method is a behavior method that timers can target.
type Method func(ctx context.Context, o *Object, args []any) error

// Optional capabilities of a behavior. NewType probes for them once.
type (
	Loader interface {
		OnLoad(ctx context.Context, o *Object) error
	}
	Creator interface {
		OnCreate(ctx context.Context, o *Object) error
	}
	PropsChangedHandler interface {
		OnPropsChanged(ctx context.Context, o *Object)
	}
	StateBroadcaster interface {
		BroadcastState(ctx context.Context, o *Object)
	}
	// Positioner reindexes an item after its coordinates changed.
	Positioner interface {
		Reindex(ctx context.Context, o *Object, x, y float64)
	}
	// GeoUpdater lets a location absorb changes made to its geo object.
	GeoUpdater interface {
		UpdateGeo(ctx context.Context, loc, geo *Object) error
	}
)

// Type is the behavior of one object class: the dispatch table of timer
// target methods and the optional lifecycle hooks.
type Type struct {
	Kind    byte
	ClassID string

	methods      map[string]Method
	loader       Loader
	creator      Creator
	propsChanged PropsChangedHandler
	broadcaster  StateBroadcaster
	positioner   Positioner
	geoUpdater   GeoUpdater
}

// NewType builds a type. behavior may be nil or implement any of the
// capability interfaces.
func NewType(kind byte, classID string, behavior any, methods map[string]Method) *Type {
	t := &Type{
		Kind:    kind,
		ClassID: classID,
		methods: make(map[string]Method, len(methods)),
	}
	for name, m := range methods {
		t.methods[name] = m
	}
	if behavior == nil {
		return t
	}
	t.loader, _ = behavior.(Loader)
	t.creator, _ = behavior.(Creator)
	t.propsChanged, _ = behavior.(PropsChangedHandler)
	t.broadcaster, _ = behavior.(StateBroadcaster)
	t.positioner, _ = behavior.(Positioner)
	t.geoUpdater, _ = behavior.(GeoUpdater)
	return t
}

// Method looks up a timer target by name.
func (t *Type) Method(name string) (Method, bool) {
	m, ok := t.methods[name]
	return m, ok
}

// MethodNames returns the sorted names in the dispatch table.
func (t *Type) MethodNames() []string {
	names := make([]string, 0, len(t.methods))
	for n := range t.methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t *Type) String() string {
	if t.ClassID == "" {
		return KindName(t.Kind)
	}
	return KindName(t.Kind) + "/" + t.ClassID
}

type typeKey struct {
	kind    byte
	classID string
}

// Registry resolves (kind, class) pairs to types. Lookups for an unknown
// class fall back to the kind's base type.
type Registry struct {
	mu    sync.RWMutex
	types map[typeKey]*Type
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[typeKey]*Type)}
}

// Register adds a type. A type with an empty class id is the kind's base type.
func (r *Registry) Register(t *Type) error {
	if !ValidKind(t.Kind) {
		return fmt.Errorf("register %s: invalid kind %q", t, t.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := typeKey{t.Kind, t.ClassID}
	if _, dup := r.types[k]; dup {
		return fmt.Errorf("register %s: already registered", t)
	}
	r.types[k] = t
	return nil
}

// RegisterBase registers a base type without behavior for every kind
// that does not have one yet.
func (r *Registry) RegisterBase() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range Kinds() {
		key := typeKey{k, ""}
		if _, ok := r.types[key]; !ok {
			r.types[key] = NewType(k, "", nil, nil)
		}
	}
}

// Lookup returns the type for kind and classID.
func (r *Registry) Lookup(kind byte, classID string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.types[typeKey{kind, classID}]; ok {
		return t, nil
	}
	if t, ok := r.types[typeKey{kind, ""}]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%s/%s: %w", KindName(kind), classID, ErrUnknownType)
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
