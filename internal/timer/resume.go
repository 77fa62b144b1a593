package timer

import (
	"context"
	"sort"
	"time"

	"github.com/l1jgo/objcore/internal/gameobj"
	"go.uber.org/zap"
)

// Resume re-arms the suspended timers of o, accounting for the time that
// passed since each was started. One-off timers get the remaining delay
// (at least 1ms). Intervals first replay the calls they missed, unless
// NoCatchUp is set or the object gets deleted meanwhile, then continue
// in their original phase.
//
// Resume runs on the game loop after the object's load hook.
func (s *Scheduler) Resume(ctx context.Context, o *gameobj.Object) {
	now := s.clock.Now()
	for _, key := range s.suspended(o) {
		o.Timers.Lock()
		e, ok := o.Timers.Entries[key]
		if !ok || s.live(o, e) {
			o.Timers.Unlock()
			continue
		}
		if e.Options.Internal {
			// scheduling leftovers; the interval they belong to resumes on its own
			delete(o.Timers.Entries, key)
			o.Timers.Unlock()
			continue
		}
		opts, start := e.Options, e.StartedAt
		o.Timers.Unlock()

		s.log.Debug("resuming timer", zap.Stringer("obj", o), zap.String("timer", key))
		age := now.Sub(start)
		if age < 0 {
			age = 0
		}
		if opts.Interval {
			s.resumeInterval(ctx, o, key, opts, age)
		} else {
			opts.Delay = max(opts.Delay-age, time.Millisecond)
			if err := s.Arm(o, opts); err != nil {
				s.log.Error("could not resume timer",
					zap.Stringer("obj", o), zap.String("timer", key), zap.Error(err))
			}
		}
		if opts.Multi {
			o.Timers.Lock()
			if e, ok := o.Timers.Entries[key]; ok && !e.Active() {
				delete(o.Timers.Entries, key)
			}
			o.Timers.Unlock()
		}
	}
}

// suspended returns the keys of unarmed entries in a stable order.
func (s *Scheduler) suspended(o *gameobj.Object) []string {
	o.Timers.Lock()
	defer o.Timers.Unlock()
	keys := make([]string, 0, len(o.Timers.Entries))
	for k, e := range o.Timers.Entries {
		if !e.Active() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Scheduler) resumeInterval(ctx context.Context, o *gameobj.Object, key string, opts gameobj.TimerOptions, age time.Duration) {
	delay := max(opts.Delay, time.Millisecond)
	missed := int64(age / delay)
	if missed > 0 && !opts.NoCatchUp {
		s.log.Debug("interval catching up",
			zap.Stringer("obj", o), zap.String("timer", key), zap.Int64("calls", missed))
		for i := int64(0); i < missed && !o.Deleted(); i++ {
			if err := s.invoke(ctx, o, opts); err != nil {
				s.log.Error("interval catch-up call failed",
					zap.Stringer("obj", o), zap.String("timer", key), zap.Error(err))
				o.Timers.Lock()
				if e, ok := o.Timers.Entries[key]; ok && !e.Active() {
					delete(o.Timers.Entries, key)
				}
				o.Timers.Unlock()
				return
			}
		}
	}
	if o.Deleted() {
		return
	}
	// the replayed (or skipped) calls are accounted for
	o.Timers.Lock()
	if e, ok := o.Timers.Entries[key]; ok && !e.Active() {
		e.StartedAt = e.StartedAt.Add(time.Duration(missed) * delay)
	}
	o.Timers.Unlock()
	if err := s.ArmPhaseAligned(o, opts, delay-age%delay); err != nil {
		s.log.Error("could not resume interval",
			zap.Stringer("obj", o), zap.String("timer", key), zap.Error(err))
	}
}

// ArmPhaseAligned continues the interval opts after next: one internal
// timer makes the call due at next, a second one armed for the same
// instant turns opts into a regular interval from there on. Both are
// recorded on the interval's entry so canceling the interval stops them.
func (s *Scheduler) ArmPhaseAligned(o *gameobj.Object, opts gameobj.TimerOptions, next time.Duration) error {
	then := opts
	then.Then = nil
	then.Interval = true

	o.Timers.Lock()
	if e, ok := o.Timers.Entries[then.Method]; ok && e.Options.Interval && s.live(o, e) {
		o.Timers.Unlock()
		return nil
	}
	o.Timers.Unlock()

	tick := gameobj.TimerOptions{
		Method:   opts.Method,
		Delay:    next,
		Args:     opts.Args,
		Multi:    true,
		Internal: true,
	}
	tickKey, err := s.arm(o, tick)
	if err != nil {
		return err
	}
	establish := gameobj.TimerOptions{
		Method:   opts.Method,
		Delay:    next,
		Multi:    true,
		Internal: true,
		Then:     &then,
	}
	establishKey, err := s.arm(o, establish)
	if err != nil {
		o.Timers.Lock()
		if e, ok := o.Timers.Entries[tickKey]; ok {
			s.stop(e.Handle)
			delete(o.Timers.Entries, tickKey)
		}
		o.Timers.Unlock()
		return err
	}

	o.Timers.Lock()
	defer o.Timers.Unlock()
	e, ok := o.Timers.Entries[then.Method]
	if !ok || !e.Options.Interval {
		if ok {
			s.stop(e.Handle)
		}
		// the phase the interval keeps is the one it resumes in
		e = &gameobj.TimerEntry{Options: then, StartedAt: s.clock.Now().Add(next - then.Delay)}
		o.Timers.Entries[then.Method] = e
	}
	e.Aligned = []string{tickKey, establishKey}
	return nil
}
