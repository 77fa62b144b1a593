package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClassEntry is one object class: its kind initial and the fields new
// objects of the class start with.
type ClassEntry struct {
	ClassID string         `yaml:"class_id"`
	Kind    string         `yaml:"kind"`
	Name    string         `yaml:"name"`
	Props   map[string]any `yaml:"props"`
}

type classListFile struct {
	Classes []ClassEntry `yaml:"classes"`
}

// ClassTable provides lookup of class entries by class id.
type ClassTable struct {
	classes map[string]*ClassEntry
}

// LoadClassTable loads class_list.yaml.
func LoadClassTable(path string) (*ClassTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class list: %w", err)
	}
	var f classListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse class list: %w", err)
	}
	t := &ClassTable{
		classes: make(map[string]*ClassEntry, len(f.Classes)),
	}
	for i := range f.Classes {
		e := &f.Classes[i]
		if e.ClassID == "" {
			return nil, fmt.Errorf("class list entry %d: missing class_id", i)
		}
		if len(e.Kind) != 1 {
			return nil, fmt.Errorf("class %s: kind must be a single initial, got %q", e.ClassID, e.Kind)
		}
		if _, dup := t.classes[e.ClassID]; dup {
			return nil, fmt.Errorf("class %s: defined twice", e.ClassID)
		}
		if p, ok := normalize(e.Props).(map[string]any); ok {
			e.Props = p
		}
		t.classes[e.ClassID] = e
	}
	return t, nil
}

// Get returns the class entry for classID, or nil if none.
func (t *ClassTable) Get(classID string) *ClassEntry {
	return t.classes[classID]
}

// Count returns the total number of classes loaded.
func (t *ClassTable) Count() int {
	return len(t.classes)
}

// Defaults returns the initial fields of classID. The map is shared;
// callers copy it.
func (t *ClassTable) Defaults(classID string) map[string]any {
	if e := t.classes[classID]; e != nil {
		return e.Props
	}
	return nil
}

// normalize turns yaml numbers into float64, the way they come back from
// a snapshot.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	}
	return v
}
