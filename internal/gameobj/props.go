package gameobj

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// CopyProps copies the fields of src onto o, overwriting fields with the
// same name. The id is never copied; skip names are only honored on the
// first level. Nested maps and slices are deep-copied, links are copied
// as they are.
func (o *Object) CopyProps(src map[string]any, skip ...string) {
	for k, v := range src {
		if k == KeyID || k == keyIDOld || contains(skip, k) {
			continue
		}
		if isFunc(v) {
			continue
		}
		o.Props[k] = deepCopy(v)
	}
}

// UpdateProps merges patch into the object's fields and reports whether
// anything changed. Nested maps are merged recursively, links are only
// replaced when they point at a different object. When something changed,
// items are reindexed at their position, and the props-changed and
// broadcast hooks run once each.
func (o *Object) UpdateProps(ctx context.Context, patch map[string]any) bool {
	p := make(map[string]any, len(patch))
	for k, v := range patch {
		if k == KeyID || k == keyIDOld {
			continue
		}
		p[k] = v
	}
	if !mergeProps(o.Props, p, o.ID) {
		return false
	}
	o.MarkDirty(ctx)
	if o.Kind() == KindItem && o.typ.positioner != nil {
		x, _ := toFloat64(o.Props["x"])
		y, _ := toFloat64(o.Props["y"])
		o.typ.positioner.Reindex(ctx, o, x, y)
	}
	if o.typ.propsChanged != nil {
		o.typ.propsChanged.OnPropsChanged(ctx, o)
	}
	if o.typ.broadcaster != nil {
		o.typ.broadcaster.BroadcastState(ctx, o)
	}
	return true
}

// ReplaceDynamic copies src onto o. A geo object hands the change to its
// location afterwards.
func (o *Object) ReplaceDynamic(ctx context.Context, src map[string]any, res Resolver) error {
	o.CopyProps(src)
	o.MarkDirty(ctx)
	if o.Kind() != KindGeo {
		return nil
	}
	loc, err := res.Resolve(ctx, Ref{ID: o.LocationID()})
	if err != nil {
		return fmt.Errorf("location of %s: %w", o, err)
	}
	if loc.typ.geoUpdater == nil {
		return nil
	}
	return loc.typ.geoUpdater.UpdateGeo(ctx, loc, o)
}

func mergeProps(dst, patch map[string]any, path string) bool {
	changed := false
	for k, v := range patch {
		cur, present := dst[k]
		if id, ok := refID(v); ok {
			if curID, curOK := refID(cur); !curOK || curID != id {
				zap.L().Debug("changing link", zap.String("path", path+"."+k),
					zap.Any("from", cur), zap.String("to", id))
				dst[k] = v
				changed = true
			}
			continue
		}
		switch pv := v.(type) {
		case map[string]any:
			switch cv := cur.(type) {
			case map[string]any:
				if mergeProps(cv, pv, path+"."+k) {
					changed = true
				}
			case nil:
				dst[k] = deepCopy(pv)
				changed = true
			default:
				logMismatch(path, k, v, cur)
			}
		case []any:
			if !reflect.DeepEqual(cur, pv) {
				dst[k] = deepCopy(pv)
				changed = true
			}
		default:
			if isFunc(v) {
				continue
			}
			if !present || !sameValue(cur, v) {
				dst[k] = v
				changed = true
			}
		}
	}
	return changed
}

func logMismatch(path, key string, v, cur any) {
	zap.L().Debug("type mismatch", zap.String("path", path+"."+key),
		zap.String("patch", fmt.Sprintf("%T", v)), zap.String("current", fmt.Sprintf("%T", cur)))
}

// sameValue compares primitives, treating numbers of different Go types
// as equal when their values are.
func sameValue(a, b any) bool {
	if fa, ok := toFloat64(a); ok {
		if fb, ok := toFloat64(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case nil, Ref, *Ref, *Object:
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if isFunc(e) {
				continue
			}
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			if isFunc(e) {
				continue
			}
			out[i] = deepCopy(e)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyValue(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return v
}

func copyValue(v reflect.Value, typ reflect.Type) reflect.Value {
	if typ.Kind() != reflect.Interface {
		return reflect.ValueOf(deepCopy(v.Interface())).Convert(typ)
	}
	if v.IsNil() {
		return reflect.Zero(typ)
	}
	c := deepCopy(v.Interface())
	if c == nil || isFunc(c) {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(c)
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
