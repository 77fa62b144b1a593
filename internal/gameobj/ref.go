package gameobj

import (
	"context"
	"encoding/json"
)

// Ref is a link to another object, as opposed to an owned nested value.
// It is copied, merged and serialized by identity and resolved on demand.
type Ref struct {
	ID    string
	Label string
}

// Resolver turns references into live objects.
type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (*Object, error)
}

// RefTo returns a reference to o.
func RefTo(o *Object) Ref {
	label, _ := o.Props["label"].(string)
	return Ref{ID: o.ID, Label: label}
}

func (r Ref) GetID() string { return r.ID }

func (r Ref) String() string { return "^R" + r.ID }

// Resolve loads the referenced object through res.
func (r Ref) Resolve(ctx context.Context, res Resolver) (*Object, error) {
	return res.Resolve(ctx, r)
}

type refJSON struct {
	ObjRef bool   `json:"objref"`
	TSID   string `json:"tsid"`
	Label  string `json:"label,omitempty"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{ObjRef: true, TSID: r.ID, Label: r.Label})
}

// refID returns the id of a link value (a Ref or a live object).
func refID(v any) (string, bool) {
	switch r := v.(type) {
	case Ref:
		return r.ID, true
	case *Ref:
		if r == nil {
			return "", false
		}
		return r.ID, true
	case *Object:
		if r == nil {
			return "", false
		}
		return r.ID, true
	}
	return "", false
}

// refFromMarker recognizes a decoded {"objref": true, ...} marker.
func refFromMarker(m map[string]any) (Ref, bool) {
	if is, _ := m["objref"].(bool); !is {
		return Ref{}, false
	}
	id, _ := m["tsid"].(string)
	if id == "" {
		return Ref{}, false
	}
	label, _ := m["label"].(string)
	return Ref{ID: id, Label: label}, true
}
