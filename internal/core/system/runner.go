package system

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/l1jgo/objcore/internal/core/system"

// Runner executes systems in phase order each tick. Systems of the same
// phase run in registration order.
type Runner struct {
	systems  []System
	sorted   bool
	ticks    uint64
	lastTick time.Duration
	tracer   trace.Tracer
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
		tracer:  otel.Tracer(tracerName),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Tick runs every system once. Each tick is a span; phase boundaries are
// recorded as span events.
func (r *Runner) Tick(dt time.Duration) {
	r.ensureSorted()
	start := time.Now()
	_, span := r.tracer.Start(context.Background(), "tick",
		trace.WithAttributes(attribute.Int64("tick", int64(r.ticks))))
	phase := Phase(-1)
	for _, s := range r.systems {
		if p := s.Phase(); p != phase {
			phase = p
			span.AddEvent(p.String())
		}
		s.Update(dt)
	}
	span.End()
	r.lastTick = time.Since(start)
	r.ticks++
}

// TickPhase runs only the systems of one phase.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(dt)
		}
	}
}

// Ticks returns the number of completed full ticks.
func (r *Runner) Ticks() uint64 { return r.ticks }

// LastTick returns how long the last full tick took.
func (r *Runner) LastTick() time.Duration { return r.lastTick }

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
