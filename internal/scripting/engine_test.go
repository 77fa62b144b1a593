package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/l1jgo/objcore/internal/clock"
	"github.com/l1jgo/objcore/internal/gameobj"
	"github.com/l1jgo/objcore/internal/rq"
	"github.com/l1jgo/objcore/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const appleScript = `
define_class{
  kind = "I",
  class = "apple",
  methods = {
    ripen = function(self, amount)
      self:set("ripeness", (self:get("ripeness") or 0) + (amount or 1))
    end,
    rot = function(self)
      error("rotten to the core")
    end,
    fall = function(self)
      self:del()
    end,
  },
  on_create = function(self)
    self:set("fresh", true)
    self:set_timer{method = "ripen", delay = 100, args = {2}, interval = true}
  end,
  on_load = function(self)
    self:set("loads", (self:get("loads") or 0) + 1)
  end,
  on_props_changed = function(self)
    self:set("changes", (self:get("changes") or 0) + 1)
  end,
}
`

type fixture struct {
	e   *Engine
	clk *clock.Manual
	q   *rq.Queue
	reg *gameobj.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "classes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classes", "apple.lua"), []byte(appleScript), 0o644))

	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(e.Close)

	f := &fixture{
		e:   e,
		clk: clock.NewManual(time.UnixMilli(1_700_000_000_000)),
		q:   rq.NewQueue("test", nil, zap.NewNop()),
		reg: gameobj.NewRegistry(),
	}
	e.SetTimers(timer.New(f.clk, func(*gameobj.Object) (*rq.Queue, error) { return f.q, nil }, 0, zap.NewNop()))
	require.NoError(t, e.Register(f.reg))
	return f
}

func (f *fixture) apple(t *testing.T) *gameobj.Object {
	t.Helper()
	typ, err := f.reg.Lookup(gameobj.KindItem, "apple")
	require.NoError(t, err)
	o, err := gameobj.New(typ, gameobj.Data{gameobj.KeyID: "IAPPLE"}, f.clk.Now())
	require.NoError(t, err)
	return o
}

func TestDefineClass(t *testing.T) {
	f := newFixture(t)
	require.Len(t, f.e.Types(), 1)
	typ := f.e.Types()[0]
	assert.Equal(t, "Item/apple", typ.String())
	assert.Equal(t, []string{"fall", "ripen", "rot"}, typ.MethodNames())
	assert.Equal(t, 1, f.reg.Len())
}

func TestDefineClassRejectsBadKind(t *testing.T) {
	f := newFixture(t)
	err := f.e.LoadString(`define_class{kind = "X", class = "oops"}`)
	assert.ErrorContains(t, err, "invalid kind")
	assert.Len(t, f.e.Types(), 1)
}

func TestScriptedMethod(t *testing.T) {
	f := newFixture(t)
	o := f.apple(t)
	m, ok := o.Type().Method("ripen")
	require.True(t, ok)

	require.NoError(t, m(context.Background(), o, []any{3.0}))
	require.NoError(t, m(context.Background(), o, nil))
	assert.Equal(t, 4.0, o.Get("ripeness"))
	assert.True(t, o.Dirty())

	m, _ = o.Type().Method("rot")
	err := m(context.Background(), o, nil)
	assert.ErrorContains(t, err, "lua apple.rot")
	assert.ErrorContains(t, err, "rotten to the core")

	m, _ = o.Type().Method("fall")
	require.NoError(t, m(context.Background(), o, nil))
	assert.True(t, o.Deleted())
	assert.True(t, o.Stale())
}

func TestScriptedHooks(t *testing.T) {
	f := newFixture(t)
	o := f.apple(t)
	ctx := context.Background()

	require.NoError(t, o.RunCreateHook(ctx))
	assert.Equal(t, true, o.Get("fresh"))
	e, ok := o.Timers.Get("ripen")
	require.True(t, ok)
	assert.True(t, e.Options.Interval)
	assert.Equal(t, 100*time.Millisecond, e.Options.Delay)
	assert.Equal(t, []any{2.0}, e.Options.Args)

	require.NoError(t, o.RunLoadHook(ctx))
	assert.Equal(t, 1.0, o.Get("loads"))

	assert.True(t, o.UpdateProps(ctx, map[string]any{"color": "red"}))
	assert.False(t, o.UpdateProps(ctx, map[string]any{"color": "red"}))
	assert.Equal(t, 1.0, o.Get("changes"))
}

func TestScriptedTimerFires(t *testing.T) {
	f := newFixture(t)
	o := f.apple(t)
	require.NoError(t, o.RunCreateHook(context.Background()))

	f.clk.Advance(100 * time.Millisecond)
	f.q.Process(0)
	f.clk.Advance(100 * time.Millisecond)
	f.q.Process(0)
	assert.Equal(t, 4.0, o.Get("ripeness"))
}

func TestTimerFunctions(t *testing.T) {
	f := newFixture(t)
	o := f.apple(t)
	require.NoError(t, f.e.LoadString(`
function inspect(self)
  self:set_timer{method = "ripen", delay = 50}
  local armed = self:timer_exists("ripen", false, true)
  local canceled = self:cancel_timer("ripen")
  self:set("inspected", {armed, canceled, self:timer_exists("ripen")})
end
function bad_timer(self)
  self:set_timer{method = "nope", delay = 50}
end
`))
	call := func(name string) error {
		fn := f.e.vm.GetGlobal(name).(*lua.LFunction)
		return f.e.call(fn, f.e.objectValue(context.Background(), o))
	}
	require.NoError(t, call("inspect"))
	assert.Equal(t, []any{true, true, false}, o.Get("inspected"))

	err := call("bad_timer")
	assert.ErrorContains(t, err, timer.ErrNoSuchMethod.Error())
}

func TestSetTimerHugeDelayIsClamped(t *testing.T) {
	f := newFixture(t)
	o := f.apple(t)
	require.NoError(t, f.e.LoadString(`
function far_off(self)
  self:set_timer{method = "ripen", delay = 1e13}
end
`))
	fn := f.e.vm.GetGlobal("far_off").(*lua.LFunction)
	require.NoError(t, f.e.call(fn, f.e.objectValue(context.Background(), o)))

	e, ok := o.Timers.Get("ripen")
	require.True(t, ok)
	assert.Equal(t, timer.DefaultMaxDelay, e.Options.Delay)

	f.clk.Advance(time.Hour)
	f.q.Process(0)
	assert.Nil(t, o.Get("ripeness"))
}

func TestTimersNotConnected(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.LoadString(appleScript))

	o, err := gameobj.New(e.Types()[0], gameobj.Data{gameobj.KeyID: "IAPPLE"}, time.Now())
	require.NoError(t, err)
	assert.ErrorContains(t, o.RunCreateHook(context.Background()), errNoTimers.Error())
}

func TestValueConversion(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	in := map[string]any{
		"name":  "apple",
		"count": 2.0,
		"ok":    true,
		"tags":  []any{"red", "round"},
		"pos":   map[string]any{"x": 1.5},
		"loc":   gameobj.Ref{ID: "LTREE"},
	}
	out := fromLua(toLua(L, in))
	assert.Equal(t, map[string]any{
		"name":  "apple",
		"count": 2.0,
		"ok":    true,
		"tags":  []any{"red", "round"},
		"pos":   map[string]any{"x": 1.5},
		"loc":   "LTREE",
	}, out)

	sparse := L.NewTable()
	sparse.RawSetInt(1, lua.LString("a"))
	sparse.RawSetInt(3, lua.LString("c"))
	assert.Equal(t, map[string]any{"1": "a", "3": "c"}, fromLua(sparse))
	assert.Nil(t, fromLua(lua.LNil))
}

func TestShippedScripts(t *testing.T) {
	e, err := NewEngine(filepath.Join("..", "..", "scripts"), zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	names := make([]string, 0, len(e.Types()))
	for _, typ := range e.Types() {
		names = append(names, typ.String())
	}
	assert.Equal(t, []string{"Item/apple", "Item/apple_tree", "Location/meadow"}, names)
}
