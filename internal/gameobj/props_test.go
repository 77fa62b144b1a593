package gameobj

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookRecorder struct {
	calls []string
	x, y  float64
}

func (h *hookRecorder) OnPropsChanged(context.Context, *Object) {
	h.calls = append(h.calls, "changed")
}

func (h *hookRecorder) BroadcastState(context.Context, *Object) {
	h.calls = append(h.calls, "broadcast")
}

func (h *hookRecorder) Reindex(_ context.Context, _ *Object, x, y float64) {
	h.calls = append(h.calls, "reindex")
	h.x, h.y = x, y
}

func TestCopyProps(t *testing.T) {
	link := newTestObject(t, NewType(KindPlayer, "", nil, nil), Data{KeyID: "PLINK"})
	nested := map[string]any{"a": map[string]any{"b": 1}, "skipme": 2}
	list := []any{1, map[string]any{"c": 3}}
	src := map[string]any{
		KeyID:    "IOTHER",
		"label":  "copy",
		"nested": nested,
		"list":   list,
		"ref":    Ref{ID: "BX"},
		"live":   link,
		"fn":     func() {},
		"skipme": "no",
		"typed":  map[string]int{"n": 1},
	}

	o := newTestObject(t, nil, Data{"label": "orig"})
	o.CopyProps(src, "skipme")

	assert.Equal(t, "ITEST1", o.ID)
	assert.NotContains(t, o.Props, KeyID)
	assert.Equal(t, "copy", o.Get("label"))
	assert.NotContains(t, o.Props, "fn")
	assert.NotContains(t, o.Props, "skipme")
	assert.Equal(t, Ref{ID: "BX"}, o.Get("ref"))
	assert.Same(t, link, o.Get("live"))

	// nested containers are fresh copies, skip list is first level only
	gotNested := o.Get("nested").(map[string]any)
	assert.Equal(t, nested, gotNested)
	assert.Contains(t, gotNested, "skipme")
	gotNested["a"].(map[string]any)["b"] = 99
	assert.Equal(t, 1, nested["a"].(map[string]any)["b"])

	gotList := o.Get("list").([]any)
	assert.Equal(t, list, gotList)
	gotList[1].(map[string]any)["c"] = 4
	assert.Equal(t, 3, list[1].(map[string]any)["c"])

	typed := o.Get("typed").(map[string]int)
	typed["n"] = 5
	assert.Equal(t, 1, src["typed"].(map[string]int)["n"])
}

func TestUpdatePropsRefIdentity(t *testing.T) {
	o := newTestObject(t, nil, Data{"container": Ref{ID: "BONE"}})
	ctx := context.Background()

	assert.False(t, o.UpdateProps(ctx, map[string]any{"container": Ref{ID: "BONE", Label: "renamed"}}))
	assert.Equal(t, Ref{ID: "BONE"}, o.Get("container"))

	assert.True(t, o.UpdateProps(ctx, map[string]any{"container": Ref{ID: "BTWO"}}))
	assert.Equal(t, Ref{ID: "BTWO"}, o.Get("container"))
	assert.True(t, o.Dirty())
}

func TestUpdatePropsMerge(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		start   Data
		patch   map[string]any
		changed bool
		check   func(t *testing.T, o *Object)
	}{
		{
			name:    "same primitive",
			start:   Data{"count": 3.0},
			patch:   map[string]any{"count": 3},
			changed: false,
		},
		{
			name:    "different primitive",
			start:   Data{"count": 3.0},
			patch:   map[string]any{"count": 4},
			changed: true,
			check:   func(t *testing.T, o *Object) { assert.Equal(t, 4, o.Get("count")) },
		},
		{
			name:    "nested recurse",
			start:   Data{"stats": map[string]any{"hp": 1, "mp": 2}},
			patch:   map[string]any{"stats": map[string]any{"hp": 5}},
			changed: true,
			check: func(t *testing.T, o *Object) {
				assert.Equal(t, map[string]any{"hp": 5, "mp": 2}, o.Get("stats"))
			},
		},
		{
			name:    "nested unchanged",
			start:   Data{"stats": map[string]any{"hp": 1}},
			patch:   map[string]any{"stats": map[string]any{"hp": 1}},
			changed: false,
		},
		{
			name:    "type mismatch skipped",
			start:   Data{"stats": "none"},
			patch:   map[string]any{"stats": map[string]any{"hp": 1}},
			changed: false,
			check:   func(t *testing.T, o *Object) { assert.Equal(t, "none", o.Get("stats")) },
		},
		{
			name:    "absent nested added",
			start:   Data{},
			patch:   map[string]any{"stats": map[string]any{"hp": 1}},
			changed: true,
		},
		{
			name:    "list replaced",
			start:   Data{"tags": []any{"a"}},
			patch:   map[string]any{"tags": []any{"a", "b"}},
			changed: true,
		},
		{
			name:    "id ignored",
			start:   Data{},
			patch:   map[string]any{KeyID: "IOTHER"},
			changed: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestObject(t, nil, tt.start)
			assert.Equal(t, tt.changed, o.UpdateProps(ctx, tt.patch))
			if tt.check != nil {
				tt.check(t, o)
			}
		})
	}
}

func TestUpdatePropsHooksOnce(t *testing.T) {
	h := &hookRecorder{}
	typ := NewType(KindItem, "apple", h, nil)
	o := newTestObject(t, typ, Data{"x": 1.0, "y": 2.0, "label": "a"})

	changed := o.UpdateProps(context.Background(), map[string]any{"x": 10, "y": 20, "label": "b"})
	require.True(t, changed)
	assert.Equal(t, []string{"reindex", "changed", "broadcast"}, h.calls)
	assert.Equal(t, 10.0, h.x)
	assert.Equal(t, 20.0, h.y)

	h.calls = nil
	assert.False(t, o.UpdateProps(context.Background(), map[string]any{"x": 10}))
	assert.Empty(t, h.calls)
}

func TestUpdatePropsNoReindexForNonItems(t *testing.T) {
	h := &hookRecorder{}
	o := newTestObject(t, NewType(KindBag, "", h, nil), Data{"x": 1.0})
	require.True(t, o.UpdateProps(context.Background(), map[string]any{"x": 2.0}))
	assert.Equal(t, []string{"changed", "broadcast"}, h.calls)
}

type geoLocation struct {
	got *Object
}

func (g *geoLocation) UpdateGeo(_ context.Context, _, geo *Object) error {
	g.got = geo
	return nil
}

type mapResolver map[string]*Object

func (m mapResolver) Resolve(_ context.Context, r Ref) (*Object, error) {
	if o, ok := m[r.ID]; ok {
		return o, nil
	}
	return nil, errors.New("not found")
}

func TestReplaceDynamic(t *testing.T) {
	hook := &geoLocation{}
	loc := newTestObject(t, NewType(KindLocation, "", hook, nil), Data{KeyID: "LMAP1"})
	geo := newTestObject(t, NewType(KindGeo, "", nil, nil), Data{KeyID: "GMAP1"})
	res := mapResolver{loc.ID: loc}

	require.NoError(t, geo.ReplaceDynamic(context.Background(), map[string]any{"l": -100.0}, res))
	assert.Equal(t, -100.0, geo.Get("l"))
	assert.Same(t, geo, hook.got)

	orphan := newTestObject(t, NewType(KindGeo, "", nil, nil), Data{KeyID: "GNONE"})
	assert.Error(t, orphan.ReplaceDynamic(context.Background(), map[string]any{"l": 1}, res))

	item := newTestObject(t, nil, nil)
	assert.NoError(t, item.ReplaceDynamic(context.Background(), map[string]any{"l": 1}, nil))
}
