package scripting

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/l1jgo/objcore/internal/gameobj"
	lua "github.com/yuin/gopher-lua"
)

const objectTypeName = "gameobj"

var errNoTimers = errors.New("timers are not available")

// scriptObject is what Lua code sees as self. ctx is the request the
// script was called from.
type scriptObject struct {
	ctx context.Context
	o   *gameobj.Object
}

func (e *Engine) registerObjectType() {
	mt := e.vm.NewTypeMetatable(objectTypeName)
	e.vm.SetField(mt, "__index", e.vm.SetFuncs(e.vm.NewTable(), map[string]lua.LGFunction{
		"id":           objID,
		"class":        objClass,
		"get":          objGet,
		"set":          objSet,
		"del":          objDel,
		"unload":       objUnload,
		"set_timer":    e.objSetTimer,
		"cancel_timer": e.objCancelTimer,
		"timer_exists": e.objTimerExists,
	}))
	e.vm.SetField(mt, "__tostring", e.vm.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(checkObject(L).o.String()))
		return 1
	}))
}

func (e *Engine) objectValue(ctx context.Context, o *gameobj.Object) *lua.LUserData {
	ud := e.vm.NewUserData()
	ud.Value = &scriptObject{ctx: ctx, o: o}
	e.vm.SetMetatable(ud, e.vm.GetTypeMetatable(objectTypeName))
	return ud
}

func checkObject(L *lua.LState) *scriptObject {
	ud := L.CheckUserData(1)
	if so, ok := ud.Value.(*scriptObject); ok {
		return so
	}
	L.ArgError(1, "game object expected")
	return nil
}

func objID(L *lua.LState) int {
	L.Push(lua.LString(checkObject(L).o.ID))
	return 1
}

func objClass(L *lua.LState) int {
	L.Push(lua.LString(checkObject(L).o.ClassID))
	return 1
}

func objGet(L *lua.LState) int {
	so := checkObject(L)
	L.Push(toLua(L, so.o.Get(L.CheckString(2))))
	return 1
}

// objSet assigns a field and marks the object dirty.
func objSet(L *lua.LState) int {
	so := checkObject(L)
	key := L.CheckString(2)
	if key == gameobj.KeyID {
		L.ArgError(2, "tsid is read-only")
		return 0
	}
	v := fromLua(L.Get(3))
	if v == nil {
		delete(so.o.Props, key)
	} else {
		so.o.Set(key, v)
	}
	so.o.MarkDirty(so.ctx)
	return 0
}

func objDel(L *lua.LState) int {
	so := checkObject(L)
	so.o.Del(so.ctx)
	return 0
}

func objUnload(L *lua.LState) int {
	so := checkObject(L)
	so.o.Unload(so.ctx)
	return 0
}

// objSetTimer implements self:set_timer{method=, delay=ms, args={},
// interval=, multi=, no_catch_up=}.
func (e *Engine) objSetTimer(L *lua.LState) int {
	so := checkObject(L)
	t := L.CheckTable(2)
	if e.timers == nil {
		L.RaiseError("%v", errNoTimers)
		return 0
	}
	opts := gameobj.TimerOptions{
		Method:    lStr(t, "method"),
		Delay:     gameobj.DelayFromMillis(float64(lua.LVAsNumber(t.RawGetString("delay")))),
		Interval:  lua.LVAsBool(t.RawGetString("interval")),
		Multi:     lua.LVAsBool(t.RawGetString("multi")),
		NoCatchUp: lua.LVAsBool(t.RawGetString("no_catch_up")),
	}
	if args, ok := fromLua(t.RawGetString("args")).([]any); ok {
		opts.Args = args
	}
	if err := e.timers.Arm(so.o, opts); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (e *Engine) objCancelTimer(L *lua.LState) int {
	so := checkObject(L)
	method := L.CheckString(2)
	if e.timers == nil {
		L.RaiseError("%v", errNoTimers)
		return 0
	}
	L.Push(lua.LBool(e.timers.Cancel(so.o, method, L.OptBool(3, false))))
	return 1
}

func (e *Engine) objTimerExists(L *lua.LState) int {
	so := checkObject(L)
	method := L.CheckString(2)
	if e.timers == nil {
		L.RaiseError("%v", errNoTimers)
		return 0
	}
	L.Push(lua.LBool(e.timers.Exists(so.o, method, L.OptBool(3, false), L.OptBool(4, false))))
	return 1
}

// toLua converts a data field to a Lua value. Links become their id.
func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case gameobj.Ref:
		return lua.LString(t.ID)
	case *gameobj.Ref:
		return lua.LString(t.ID)
	case *gameobj.Object:
		return lua.LString(t.ID)
	case []any:
		tbl := L.NewTable()
		for _, e := range t {
			tbl.Append(toLua(L, e))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLua(L, t[k]))
		}
		return tbl
	}
	return lua.LNil
}

// fromLua converts a Lua value to a data field. Sequences become []any,
// other tables map[string]any.
func fromLua(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		return float64(t)
	case *lua.LUserData:
		if so, ok := t.Value.(*scriptObject); ok {
			return gameobj.RefTo(so.o)
		}
	case *lua.LTable:
		if n := t.Len(); n > 0 && n == tableSize(t) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(t.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		t.ForEach(func(k, e lua.LValue) {
			switch kt := k.(type) {
			case lua.LString:
				out[string(kt)] = fromLua(e)
			case lua.LNumber:
				out[strconv.FormatFloat(float64(kt), 'f', -1, 64)] = fromLua(e)
			}
		})
		return out
	}
	return nil
}

func tableSize(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}
