package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase         { return r.phase }
func (r recorder) Update(time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerPhaseOrder(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"cleanup", PhaseCleanup, &log})
	r.Register(recorder{"queues", PhaseUpdate, &log})
	r.Register(recorder{"events", PhasePreUpdate, &log})
	r.Register(recorder{"queues2", PhaseUpdate, &log})
	r.Register(recorder{"save", PhasePersist, &log})

	r.Tick(time.Millisecond)
	assert.Equal(t, []string{"events", "queues", "queues2", "save", "cleanup"}, log)
	assert.EqualValues(t, 1, r.Ticks())

	log = nil
	r.TickPhase(PhaseUpdate, time.Millisecond)
	assert.Equal(t, []string{"queues", "queues2"}, log)
	assert.EqualValues(t, 1, r.Ticks())
	assert.Equal(t, "persist", PhasePersist.String())
}

type sleeper struct{ d time.Duration }

func (sleeper) Phase() Phase             { return PhaseUpdate }
func (s sleeper) Update(time.Duration) { time.Sleep(s.d) }

func TestRunnerLastTick(t *testing.T) {
	r := NewRunner()
	assert.Zero(t, r.LastTick())
	r.Register(sleeper{2 * time.Millisecond})
	r.Tick(time.Millisecond)
	assert.GreaterOrEqual(t, r.LastTick(), 2*time.Millisecond)
	assert.Equal(t, "unknown", Phase(9).String())
}
