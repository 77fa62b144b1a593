package gameobj

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// Token is an opaque handle to an armed timer. Zero means not armed.
type Token uint64

// TimerOptions describe a delayed or recurring method call.
type TimerOptions struct {
	Method    string
	Delay     time.Duration
	Args      []any
	Interval  bool
	Multi     bool // allows several pending calls of the same method
	Internal  bool // scheduling artifact, never persisted
	NoCatchUp bool // skip missed interval calls on resume

	// Then, when set, is armed as a regular interval when this timer fires
	// instead of calling Method. Only used for internal timers.
	Then *TimerOptions
}

// TimerEntry is one row of an object's timer table.
type TimerEntry struct {
	Options   TimerOptions
	StartedAt time.Time
	Handle    Token

	// Aligned holds the keys of the internal timers that restart this
	// interval in its old phase. Not persisted.
	Aligned []string
}

// Active reports whether the entry currently holds a live handle.
func (e *TimerEntry) Active() bool { return e.Handle != 0 }

// TimerTable maps timer keys to entries. Keys are the method name for
// regular timers and generated unique keys for multi timers.
type TimerTable struct {
	sync.Mutex
	Entries map[string]*TimerEntry
}

func newTimerTable() *TimerTable {
	return &TimerTable{Entries: make(map[string]*TimerEntry)}
}

// Len returns the number of entries.
func (t *TimerTable) Len() int {
	t.Lock()
	defer t.Unlock()
	return len(t.Entries)
}

// Get returns a copy of the entry stored under key.
func (t *TimerTable) Get(key string) (TimerEntry, bool) {
	t.Lock()
	defer t.Unlock()
	e, ok := t.Entries[key]
	if !ok {
		return TimerEntry{}, false
	}
	return *e, true
}

// Keys returns the keys of all entries.
func (t *TimerTable) Keys() []string {
	t.Lock()
	defer t.Unlock()
	keys := make([]string, 0, len(t.Entries))
	for k := range t.Entries {
		keys = append(keys, k)
	}
	return keys
}

func (o TimerOptions) data() map[string]any {
	d := map[string]any{
		"fname": o.Method,
		"delay": o.Delay.Milliseconds(),
	}
	if o.Args != nil {
		d["args"] = o.Args
	}
	if o.Interval {
		d["interval"] = true
	}
	if o.Multi {
		d["multi"] = true
	}
	if o.Internal {
		d["internal"] = true
	}
	if o.NoCatchUp {
		d["noCatchUp"] = true
	}
	return d
}

func (e *TimerEntry) data() map[string]any {
	return map[string]any{
		"options": e.Options.data(),
		"start":   e.StartedAt.UnixMilli(),
	}
}

func timerOptionsFromData(v any) (TimerOptions, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return TimerOptions{}, fmt.Errorf("timer options: unexpected %T", v)
	}
	var o TimerOptions
	o.Method, _ = m["fname"].(string)
	if o.Method == "" {
		return TimerOptions{}, fmt.Errorf("timer options: missing fname")
	}
	ms, ok := toFloat64(m["delay"])
	if !ok || math.IsNaN(ms) {
		return TimerOptions{}, fmt.Errorf("timer options %s: bad delay %v", o.Method, m["delay"])
	}
	o.Delay = DelayFromMillis(ms)
	switch args := m["args"].(type) {
	case nil:
	case []any:
		o.Args = args
	default:
		return TimerOptions{}, fmt.Errorf("timer options %s: bad args %T", o.Method, args)
	}
	o.Interval, _ = m["interval"].(bool)
	o.Multi, _ = m["multi"].(bool)
	o.Internal, _ = m["internal"].(bool)
	o.NoCatchUp, _ = m["noCatchUp"].(bool)
	return o, nil
}

func timerEntriesFromData(v any) (map[string]*TimerEntry, error) {
	entries := make(map[string]*TimerEntry)
	switch src := v.(type) {
	case nil:
		return entries, nil
	case map[string]*TimerEntry:
		for k, e := range src {
			c := *e
			c.Handle = 0
			c.Aligned = nil
			entries[k] = &c
		}
		return entries, nil
	case map[string]any:
		for k, raw := range src {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("timer %s: unexpected %T", k, raw)
			}
			opts, err := timerOptionsFromData(m["options"])
			if err != nil {
				return nil, fmt.Errorf("timer %s: %w", k, err)
			}
			start, ok := toInt64(m["start"])
			if !ok {
				return nil, fmt.Errorf("timer %s: bad start %v", k, m["start"])
			}
			entries[k] = &TimerEntry{Options: opts, StartedAt: time.UnixMilli(start)}
		}
		return entries, nil
	}
	return nil, fmt.Errorf("timers: unexpected %T", v)
}

// maxDelayMillis is the largest millisecond count a time.Duration holds.
const maxDelayMillis = math.MaxInt64 / int64(time.Millisecond)

// DelayFromMillis converts a delay in milliseconds, dropping fractions.
// Values out of time.Duration's range saturate instead of wrapping, so
// the scheduler still sees them as too long.
func DelayFromMillis(ms float64) time.Duration {
	switch {
	case math.IsNaN(ms):
		return 0
	case ms >= float64(maxDelayMillis):
		return math.MaxInt64
	case ms <= -float64(maxDelayMillis):
		return math.MinInt64
	}
	return time.Duration(int64(ms)) * time.Millisecond
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
