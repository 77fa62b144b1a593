package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/l1jgo/objcore/internal/gameobj"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Timers is the part of the timer scheduler scripts can reach.
type Timers interface {
	Arm(o *gameobj.Object, opts gameobj.TimerOptions) error
	Cancel(o *gameobj.Object, method string, interval bool) bool
	Exists(o *gameobj.Object, method string, interval, requireActive bool) bool
}

// Engine wraps a single gopher-lua VM holding the class scripts.
// Single-goroutine access only (game loop).
type Engine struct {
	vm     *lua.LState
	log    *zap.Logger
	timers Timers
	types  []*gameobj.Type
}

// NewEngine creates a Lua engine and loads all class scripts from
// <scriptsDir>/classes.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	e.registerObjectType()
	vm.SetGlobal("define_class", vm.NewFunction(e.defineClass))

	if err := e.loadDir(filepath.Join(scriptsDir, "classes")); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load class scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory, in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source, e.g. an inline class definition.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// SetTimers connects the timer functions of the object API. Scripts
// calling them before this fail with a Lua error.
func (e *Engine) SetTimers(t Timers) { e.timers = t }

// Types returns the types defined so far, in definition order.
func (e *Engine) Types() []*gameobj.Type { return e.types }

// Register adds every scripted type to reg.
func (e *Engine) Register(reg *gameobj.Registry) error {
	for _, t := range e.types {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// defineClass implements define_class{kind=, class=, methods={...}, hooks...}.
func (e *Engine) defineClass(L *lua.LState) int {
	def := L.CheckTable(1)
	kind := lStr(def, "kind")
	if len(kind) != 1 || !gameobj.ValidKind(kind[0]) {
		L.ArgError(1, fmt.Sprintf("invalid kind %q", kind))
		return 0
	}
	classID := lStr(def, "class")

	methods := make(map[string]gameobj.Method)
	if mt, ok := def.RawGetString("methods").(*lua.LTable); ok {
		mt.ForEach(func(k, v lua.LValue) {
			fn, ok := v.(*lua.LFunction)
			if !ok {
				return
			}
			methods[k.String()] = e.method(classID, k.String(), fn)
		})
	}
	b := &behavior{
		e:              e,
		onLoad:         lFunc(def, "on_load"),
		onCreate:       lFunc(def, "on_create"),
		onPropsChanged: lFunc(def, "on_props_changed"),
		broadcastState: lFunc(def, "broadcast_state"),
		reindex:        lFunc(def, "reindex"),
		updateGeo:      lFunc(def, "update_geo"),
	}
	t := gameobj.NewType(kind[0], classID, b, methods)
	e.types = append(e.types, t)

	names := make([]string, 0, len(methods))
	for n := range methods {
		names = append(names, n)
	}
	sort.Strings(names)
	e.log.Debug("class defined", zap.Stringer("type", t), zap.Strings("methods", names))
	return 0
}

// method wraps a Lua function as a timer target.
func (e *Engine) method(classID, name string, fn *lua.LFunction) gameobj.Method {
	return func(ctx context.Context, o *gameobj.Object, args []any) error {
		largs := make([]lua.LValue, 0, len(args)+1)
		largs = append(largs, e.objectValue(ctx, o))
		for _, a := range args {
			largs = append(largs, toLua(e.vm, a))
		}
		if err := e.call(fn, largs...); err != nil {
			return fmt.Errorf("lua %s.%s: %w", classID, name, err)
		}
		return nil
	}
}

func (e *Engine) call(fn *lua.LFunction, args ...lua.LValue) error {
	return e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...)
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}

// behavior adapts the optional hooks of a class definition.
type behavior struct {
	e              *Engine
	onLoad         *lua.LFunction
	onCreate       *lua.LFunction
	onPropsChanged *lua.LFunction
	broadcastState *lua.LFunction
	reindex        *lua.LFunction
	updateGeo      *lua.LFunction
}

func (b *behavior) OnLoad(ctx context.Context, o *gameobj.Object) error {
	if b.onLoad == nil {
		return nil
	}
	return b.e.call(b.onLoad, b.e.objectValue(ctx, o))
}

func (b *behavior) OnCreate(ctx context.Context, o *gameobj.Object) error {
	if b.onCreate == nil {
		return nil
	}
	return b.e.call(b.onCreate, b.e.objectValue(ctx, o))
}

func (b *behavior) OnPropsChanged(ctx context.Context, o *gameobj.Object) {
	b.notify(ctx, "on_props_changed", b.onPropsChanged, o)
}

func (b *behavior) BroadcastState(ctx context.Context, o *gameobj.Object) {
	b.notify(ctx, "broadcast_state", b.broadcastState, o)
}

func (b *behavior) Reindex(ctx context.Context, o *gameobj.Object, x, y float64) {
	if b.reindex == nil {
		return
	}
	if err := b.e.call(b.reindex, b.e.objectValue(ctx, o), lua.LNumber(x), lua.LNumber(y)); err != nil {
		b.e.log.Error("lua reindex error", zap.Stringer("obj", o), zap.Error(err))
	}
}

func (b *behavior) UpdateGeo(ctx context.Context, loc, geo *gameobj.Object) error {
	if b.updateGeo == nil {
		return nil
	}
	return b.e.call(b.updateGeo, b.e.objectValue(ctx, loc), b.e.objectValue(ctx, geo))
}

func (b *behavior) notify(ctx context.Context, hook string, fn *lua.LFunction, o *gameobj.Object) {
	if fn == nil {
		return
	}
	if err := b.e.call(fn, b.e.objectValue(ctx, o)); err != nil {
		b.e.log.Error("lua hook error", zap.String("hook", hook), zap.Stringer("obj", o), zap.Error(err))
	}
}

// --- Lua helpers ---

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	if v := t.RawGetString(key); v != lua.LNil {
		return lua.LVAsString(v)
	}
	return ""
}

// lFunc reads an optional function field from a Lua table.
func lFunc(t *lua.LTable, key string) *lua.LFunction {
	fn, _ := t.RawGetString(key).(*lua.LFunction)
	return fn
}
