package gameobj

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Serialize returns the persistable projection of o: identity, creation
// time, every public non-function field and the non-internal timers.
// Links are kept as they are; live handles are never included.
func (o *Object) Serialize() Data {
	d := make(Data, len(o.Props)+4)
	for k, v := range o.Props {
		if isPrivate(k) || isFunc(v) {
			continue
		}
		d[k] = v
	}
	d[KeyID] = o.ID
	d[KeyCreated] = o.CreatedAt.UnixMilli()
	if o.ClassID != "" {
		d[KeyClassID] = o.ClassID
	}
	if timers := o.timerData(); len(timers) > 0 {
		d[KeyTimers] = timers
	}
	return d
}

func (o *Object) timerData() map[string]any {
	o.Timers.Lock()
	defer o.Timers.Unlock()
	out := make(map[string]any, len(o.Timers.Entries))
	for k, e := range o.Timers.Entries {
		if e.Options.Internal {
			continue
		}
		td := e.data()
		if e.Options.Args != nil {
			opts := td["options"].(map[string]any)
			opts["args"] = append([]any(nil), e.Options.Args...)
		}
		out[k] = td
	}
	return out
}

func isPrivate(key string) bool {
	return len(key) > 0 && key[0] == PrivatePrefix
}

func isFunc(v any) bool {
	return v != nil && reflect.ValueOf(v).Kind() == reflect.Func
}

// Encode marshals a snapshot to JSON. Live objects found anywhere in the
// tree are written as link markers.
func Encode(d Data) ([]byte, error) {
	b, err := json.Marshal(linkify(map[string]any(d)))
	if err != nil {
		return nil, fmt.Errorf("encode %v: %w", d[KeyID], err)
	}
	return b, nil
}

// Decode unmarshals a JSON snapshot, turning link markers back into Refs.
// Numbers decode as float64.
func Decode(b []byte) (Data, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for k, v := range m {
		m[k] = unlinkify(v)
	}
	return Data(m), nil
}

func linkify(v any) any {
	switch t := v.(type) {
	case *Object:
		if t == nil {
			return nil
		}
		return RefTo(t)
	case *Ref:
		if t == nil {
			return nil
		}
		return *t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if isFunc(e) {
				continue
			}
			out[k] = linkify(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			if isFunc(e) {
				continue
			}
			out[i] = linkify(e)
		}
		return out
	}
	return v
}

func unlinkify(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if r, ok := refFromMarker(t); ok {
			return r
		}
		for k, e := range t {
			t[k] = unlinkify(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = unlinkify(e)
		}
		return t
	}
	return v
}
