package timer

import (
	"context"
	"testing"
	"time"

	"github.com/l1jgo/objcore/internal/gameobj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeOneOffRecomputesDelay(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    time.Duration
	}{
		{"overdue", 250 * time.Millisecond, time.Millisecond},
		{"partly elapsed", 30 * time.Millisecond, 70 * time.Millisecond},
		{"exactly due", 100 * time.Millisecond, time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			o := f.object(t)
			require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond}))

			f.s.Suspend(o)
			assert.True(t, f.s.Exists(o, "tick", false, false))
			assert.False(t, f.s.Exists(o, "tick", false, true))
			assert.False(t, f.s.HasActive(o))

			f.advance(tt.elapsed)
			assert.Zero(t, f.calls["tick"])

			f.s.Resume(context.Background(), o)
			e, ok := o.Timers.Get("tick")
			require.True(t, ok)
			assert.Equal(t, tt.want, e.Options.Delay)
			assert.True(t, e.Active())

			f.advance(tt.want)
			assert.Equal(t, 1, f.calls["tick"])
		})
	}
}

func TestResumeIntervalCatchesUp(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Interval: true}))
	f.s.Suspend(o)

	f.advance(250 * time.Millisecond)
	f.s.Resume(context.Background(), o)
	assert.Equal(t, 2, f.calls["tick"])

	// original entry stays until the phase-aligned timers take over
	assert.True(t, f.s.Exists(o, "tick", true, false))
	assert.True(t, f.s.Exists(o, "tick", true, true))
	assert.Equal(t, 3, o.Timers.Len())
	e, _ := o.Timers.Get("tick")
	assert.False(t, e.Active())
	assert.Len(t, e.Aligned, 2)

	f.advance(49 * time.Millisecond)
	assert.Equal(t, 2, f.calls["tick"])

	f.advance(time.Millisecond)
	assert.Equal(t, 3, f.calls["tick"])
	require.True(t, f.s.Exists(o, "tick", true, true))
	assert.Equal(t, 1, o.Timers.Len())
	e, _ = o.Timers.Get("tick")
	assert.Empty(t, e.Aligned)
	assert.Equal(t, start.Add(300*time.Millisecond), e.StartedAt)
	assert.Equal(t, 100*time.Millisecond, e.Options.Delay)
	assert.False(t, e.Options.Internal)

	f.advance(100 * time.Millisecond)
	assert.Equal(t, 4, f.calls["tick"])
}

func TestResumeIntervalKCalls(t *testing.T) {
	for k := 1; k <= 5; k++ {
		f := newFixture(t, 0)
		o := f.object(t)
		require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 40 * time.Millisecond, Interval: true}))
		f.s.Suspend(o)
		f.advance(time.Duration(k) * 40 * time.Millisecond)
		f.s.Resume(context.Background(), o)
		assert.Equal(t, k, f.calls["tick"], "k=%d", k)
	}
}

func TestResumeCatchUpStopsWhenDeleted(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	f.hooks["tick"] = func(ctx context.Context, o *gameobj.Object) error {
		if f.calls["tick"] == 2 {
			o.Del(ctx)
		}
		return nil
	}
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Interval: true}))
	f.s.Suspend(o)

	f.advance(500 * time.Millisecond)
	f.s.Resume(context.Background(), o)
	assert.Equal(t, 2, f.calls["tick"])
	assert.False(t, f.s.HasActive(o))
	assert.Zero(t, f.clk.Pending())
}

func TestResumeNoCatchUp(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Interval: true, NoCatchUp: true}))
	f.s.Suspend(o)

	f.advance(380 * time.Millisecond)
	f.s.Resume(context.Background(), o)
	assert.Zero(t, f.calls["tick"])

	f.advance(20 * time.Millisecond)
	assert.Equal(t, 1, f.calls["tick"])
	e, _ := o.Timers.Get("tick")
	assert.True(t, e.Options.NoCatchUp)
	assert.True(t, e.Active())
}

func TestResumeCatchUpFailureDeletesEntry(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "fail", Delay: 100 * time.Millisecond, Interval: true}))
	f.s.Suspend(o)

	f.advance(300 * time.Millisecond)
	assert.NotPanics(t, func() { f.s.Resume(context.Background(), o) })
	assert.Equal(t, 1, f.calls["fail"])
	assert.Zero(t, o.Timers.Len())
}

func TestResumeMultiReplacesKey(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Multi: true}))
	f.s.Suspend(o)
	old := o.Timers.Keys()
	require.Len(t, old, 1)

	f.advance(40 * time.Millisecond)
	f.s.Resume(context.Background(), o)
	keys := o.Timers.Keys()
	require.Len(t, keys, 1)
	assert.NotEqual(t, old[0], keys[0])
	e, _ := o.Timers.Get(keys[0])
	assert.Equal(t, 60*time.Millisecond, e.Options.Delay)
	assert.True(t, e.Options.Multi)
}

func TestResumeSkipsActiveEntries(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Interval: true}))

	f.clk.Advance(50 * time.Millisecond)
	f.s.Resume(context.Background(), o)
	assert.Zero(t, f.calls["tick"])
	assert.Equal(t, 1, o.Timers.Len())
	assert.Equal(t, 1, f.clk.Pending())
}

func TestResumeRestoredObject(t *testing.T) {
	f := newFixture(t, 0)
	o, err := gameobj.New(f.typ, gameobj.Data{
		gameobj.KeyID: "IRESTORED",
		gameobj.KeyTimers: map[string]any{
			"tick": map[string]any{
				"options": map[string]any{"fname": "tick", "delay": 100.0, "interval": true},
				"start":   float64(start.Add(-1050 * time.Millisecond).UnixMilli()),
			},
			"ping": map[string]any{
				"options": map[string]any{"fname": "ping", "delay": 5000.0, "args": []any{"x"}},
				"start":   float64(start.Add(-1000 * time.Millisecond).UnixMilli()),
			},
		},
	}, f.clk.Now())
	require.NoError(t, err)

	f.s.Resume(context.Background(), o)
	assert.Equal(t, 10, f.calls["tick"])
	e, ok := o.Timers.Get("ping")
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, e.Options.Delay)

	f.advance(50 * time.Millisecond)
	assert.Equal(t, 11, f.calls["tick"])
	f.advance(4 * time.Second)
	assert.Equal(t, 1, f.calls["ping"])
	assert.Equal(t, []any{"x"}, f.args[len(f.args)-1])
}

func TestResumeDropsInternalLeftovers(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Interval: true}))
	f.s.Suspend(o)
	f.advance(150 * time.Millisecond)
	f.s.Resume(context.Background(), o)
	require.Equal(t, 3, o.Timers.Len())

	// suspended again before the interval was re-established
	f.s.Suspend(o)
	f.advance(100 * time.Millisecond)
	f.s.Resume(context.Background(), o)
	assert.Equal(t, 2, f.calls["tick"])
	assert.Equal(t, 3, o.Timers.Len())

	f.advance(50 * time.Millisecond)
	assert.Equal(t, 3, f.calls["tick"])
	assert.Equal(t, 1, o.Timers.Len())
}

func TestArmPhaseAligned(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	opts := gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Interval: true, Args: []any{7}}
	require.NoError(t, f.s.ArmPhaseAligned(o, opts, 30*time.Millisecond))

	assert.Equal(t, 3, o.Timers.Len())
	assert.True(t, f.s.Exists(o, "tick", true, true))
	e, ok := o.Timers.Get("tick")
	require.True(t, ok)
	assert.Equal(t, start.Add(-70*time.Millisecond), e.StartedAt)
	timers, _ := o.Serialize()[gameobj.KeyTimers].(map[string]any)
	assert.Len(t, timers, 1)
	assert.Contains(t, timers, "tick")

	// already restarting
	require.NoError(t, f.s.ArmPhaseAligned(o, opts, 10*time.Millisecond))
	assert.Equal(t, 3, o.Timers.Len())

	f.advance(30 * time.Millisecond)
	assert.Equal(t, 1, f.calls["tick"])
	assert.Equal(t, []any{7}, f.args[0])
	assert.True(t, f.s.Exists(o, "tick", true, true))

	f.advance(100 * time.Millisecond)
	assert.Equal(t, 2, f.calls["tick"])

	err := f.s.ArmPhaseAligned(o, gameobj.TimerOptions{Method: "nope", Delay: time.Second, Interval: true}, time.Millisecond)
	assert.ErrorIs(t, err, ErrNoSuchMethod)
}

func TestCancelWhileRestartingInPhase(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Interval: true}))
	f.s.Suspend(o)
	f.advance(250 * time.Millisecond)
	f.s.Resume(context.Background(), o)
	require.Equal(t, 2, f.calls["tick"])

	assert.True(t, f.s.Cancel(o, "tick", true))
	assert.False(t, f.s.Exists(o, "tick", true, false))
	assert.False(t, f.s.HasActive(o))
	assert.Zero(t, o.Timers.Len())
	assert.Zero(t, f.s.Live())

	f.advance(500 * time.Millisecond)
	assert.Equal(t, 2, f.calls["tick"])
	assert.False(t, f.s.Exists(o, "tick", true, false))
	assert.False(t, f.s.HasActive(o))
}

func TestArmWhileRestartingInPhase(t *testing.T) {
	f := newFixture(t, 0)
	o := f.object(t)
	require.NoError(t, f.s.ArmPhaseAligned(o, gameobj.TimerOptions{Method: "tick", Delay: 100 * time.Millisecond, Interval: true}, 30*time.Millisecond))

	// same interval: nothing to do
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: time.Second, Interval: true}))
	assert.Equal(t, 1, f.logs.FilterMessage("timer already set").Len())

	// a one-off takes over and the restart is dropped
	require.NoError(t, f.s.Arm(o, gameobj.TimerOptions{Method: "tick", Delay: 50 * time.Millisecond}))
	assert.Equal(t, 1, o.Timers.Len())

	f.advance(200 * time.Millisecond)
	assert.Equal(t, 1, f.calls["tick"])
	assert.False(t, f.s.HasActive(o))
}

func TestResumeClampsHugeDelay(t *testing.T) {
	f := newFixture(t, time.Second)
	o, err := gameobj.New(f.typ, gameobj.Data{
		gameobj.KeyID: "IRESTORED",
		gameobj.KeyTimers: map[string]any{
			"ping": map[string]any{
				"options": map[string]any{"fname": "ping", "delay": 1e13},
				"start":   float64(start.UnixMilli()),
			},
		},
	}, f.clk.Now())
	require.NoError(t, err)

	f.s.Resume(context.Background(), o)
	e, ok := o.Timers.Get("ping")
	require.True(t, ok)
	assert.Equal(t, time.Second, e.Options.Delay)
	assert.Equal(t, 1, f.logs.FilterMessage("timer delay too long").Len())

	f.advance(999 * time.Millisecond)
	assert.Zero(t, f.calls["ping"])
	f.advance(time.Millisecond)
	assert.Equal(t, 1, f.calls["ping"])
}
