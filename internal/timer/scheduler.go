// Package timer schedules delayed and recurring method calls on game
// objects. Calls never run on the clock goroutine: when a timer is due, a
// unit of work is pushed to the object's request queue and the method runs
// there, serialized with everything else touching the object.
package timer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/l1jgo/objcore/internal/clock"
	"github.com/l1jgo/objcore/internal/gameobj"
	"github.com/l1jgo/objcore/internal/rq"
	"go.uber.org/zap"
)

// DefaultMaxDelay is the longest delay a timer can be armed with.
const DefaultMaxDelay = 2147483647 * time.Millisecond

var (
	ErrMultiInterval = errors.New("multi intervals are not supported")
	ErrNoSuchMethod  = errors.New("no such method")
)

// QueueFunc returns the request queue an object's timer calls go to.
type QueueFunc func(o *gameobj.Object) (*rq.Queue, error)

// handle is the scheduler side of an armed timer: first a pending clock
// callback, then the queue entry it was pushed as.
type handle struct {
	obj    *gameobj.Object
	key    string
	opts   gameobj.TimerOptions
	timer  clock.Timer
	queued *rq.Entry
}

// Scheduler owns every live timer handle. Objects only hold opaque tokens.
//
// Lock order: an object's timer table, then the scheduler.
type Scheduler struct {
	clock    clock.Clock
	queueFor QueueFunc
	maxDelay time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	next    gameobj.Token
	handles map[gameobj.Token]*handle
}

// New creates a scheduler. maxDelay <= 0 selects DefaultMaxDelay.
func New(clk clock.Clock, queueFor QueueFunc, maxDelay time.Duration, log *zap.Logger) *Scheduler {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Scheduler{
		clock:    clk,
		queueFor: queueFor,
		maxDelay: maxDelay,
		log:      log,
		handles:  make(map[gameobj.Token]*handle),
	}
}

// Live returns the number of armed handles.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Arm schedules a call of opts.Method on o. Arming a non-multi timer that
// is already running for the same method and interval flag does nothing.
func (s *Scheduler) Arm(o *gameobj.Object, opts gameobj.TimerOptions) error {
	_, err := s.arm(o, opts)
	return err
}

// arm is Arm returning the key the timer was stored under.
func (s *Scheduler) arm(o *gameobj.Object, opts gameobj.TimerOptions) (string, error) {
	if opts.Multi && opts.Interval {
		return "", fmt.Errorf("%s.%s: %w", o, opts.Method, ErrMultiInterval)
	}
	if _, ok := o.Type().Method(opts.Method); !ok {
		return "", fmt.Errorf("%s.%s: %w", o, opts.Method, ErrNoSuchMethod)
	}
	if opts.Delay > s.maxDelay {
		s.log.Error("timer delay too long",
			zap.Stringer("obj", o), zap.String("method", opts.Method),
			zap.Duration("delay", opts.Delay), zap.Duration("max", s.maxDelay))
		opts.Delay = s.maxDelay
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	now := s.clock.Now()

	o.Timers.Lock()
	defer o.Timers.Unlock()
	key := opts.Method
	if opts.Multi {
		key = multiKey(o.Timers.Entries, opts.Method, now)
	} else if e, ok := o.Timers.Entries[key]; ok && s.live(o, e) {
		if e.Options.Interval == opts.Interval {
			s.log.Debug("timer already set",
				zap.Stringer("obj", o), zap.String("method", opts.Method),
				zap.Bool("interval", opts.Interval))
			return key, nil
		}
		s.stop(e.Handle)
		s.dropAligned(o, e)
	}
	o.Timers.Entries[key] = &gameobj.TimerEntry{
		Options:   opts,
		StartedAt: now,
		Handle:    s.schedule(o, key, opts),
	}
	return key, nil
}

// live reports whether e is armed or waiting for its phase-aligned
// restart. The caller holds o's timer table lock.
func (s *Scheduler) live(o *gameobj.Object, e *gameobj.TimerEntry) bool {
	if e.Active() {
		return true
	}
	for _, k := range e.Aligned {
		if a, ok := o.Timers.Entries[k]; ok && a.Active() {
			return true
		}
	}
	return false
}

// dropAligned stops and removes the restart timers of e and reports
// whether any was still armed. The caller holds o's timer table lock.
func (s *Scheduler) dropAligned(o *gameobj.Object, e *gameobj.TimerEntry) bool {
	stopped := false
	for _, k := range e.Aligned {
		a, ok := o.Timers.Entries[k]
		if !ok {
			continue
		}
		if a.Active() {
			s.stop(a.Handle)
			stopped = true
		}
		delete(o.Timers.Entries, k)
	}
	e.Aligned = nil
	return stopped
}

func multiKey(entries map[string]*gameobj.TimerEntry, method string, now time.Time) string {
	key := fmt.Sprintf("%s_%d", method, now.UnixMilli())
	for n := 1; ; n++ {
		if _, taken := entries[key]; !taken {
			return key
		}
		key = fmt.Sprintf("%s_%d_%d", method, now.UnixMilli(), n)
	}
}

func (s *Scheduler) schedule(o *gameobj.Object, key string, opts gameobj.TimerOptions) gameobj.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	tok := s.next
	h := &handle{obj: o, key: key, opts: opts}
	s.handles[tok] = h
	h.timer = s.clock.AfterFunc(opts.Delay, func() { s.fire(tok) })
	return tok
}

// stop aborts the pending wait or flags the queued unit behind tok.
func (s *Scheduler) stop(tok gameobj.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[tok]
	if !ok {
		return
	}
	delete(s.handles, tok)
	if h.queued != nil {
		h.queued.Cancel()
	} else if h.timer != nil {
		h.timer.Stop()
	}
}

func (s *Scheduler) release(tok gameobj.Token) {
	s.mu.Lock()
	delete(s.handles, tok)
	s.mu.Unlock()
}

func (s *Scheduler) lookup(tok gameobj.Token) (*handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[tok]
	return h, ok
}

// Cancel removes the timer for method. A pending wait is stopped, an
// already queued call is flagged so it does nothing when it runs. It
// reports whether a live timer was canceled.
func (s *Scheduler) Cancel(o *gameobj.Object, method string, interval bool) bool {
	o.Timers.Lock()
	defer o.Timers.Unlock()
	e, ok := o.Timers.Entries[method]
	if !ok || e.Options.Interval != interval {
		return false
	}
	delete(o.Timers.Entries, method)
	canceled := s.dropAligned(o, e)
	if e.Active() {
		s.stop(e.Handle)
		canceled = true
	}
	return canceled
}

// Exists reports whether a timer for method is configured. With
// requireActive it must also be armed or about to restart in phase.
func (s *Scheduler) Exists(o *gameobj.Object, method string, interval, requireActive bool) bool {
	o.Timers.Lock()
	defer o.Timers.Unlock()
	e, ok := o.Timers.Entries[method]
	if !ok || e.Options.Interval != interval {
		return false
	}
	return !requireActive || s.live(o, e)
}

// HasActive reports whether any timer of o is armed.
func (s *Scheduler) HasActive(o *gameobj.Object) bool {
	o.Timers.Lock()
	defer o.Timers.Unlock()
	for _, e := range o.Timers.Entries {
		if e.Active() {
			return true
		}
	}
	return false
}

// Suspend disarms every timer of o, keeping options and start times so
// Resume can pick them up again.
func (s *Scheduler) Suspend(o *gameobj.Object) {
	o.Timers.Lock()
	defer o.Timers.Unlock()
	for key, e := range o.Timers.Entries {
		if !e.Active() {
			continue
		}
		s.log.Debug("suspending timer", zap.Stringer("obj", o), zap.String("timer", key))
		s.stop(e.Handle)
		e.Handle = 0
	}
}

// fire runs on the clock goroutine.
func (s *Scheduler) fire(tok gameobj.Token) {
	h, ok := s.lookup(tok)
	if !ok {
		return
	}
	o := h.obj
	if o.Stale() {
		s.log.Debug("dropping timer call on stale object",
			zap.Stringer("obj", o), zap.String("timer", h.key))
		s.drop(o, h, tok, false)
		return
	}
	q, err := s.queueFor(o)
	if err != nil {
		s.log.Error("no request queue for timer call",
			zap.Stringer("obj", o), zap.String("timer", h.key), zap.Error(err))
		s.drop(o, h, tok, !h.opts.Interval)
		return
	}

	o.Timers.Lock()
	defer o.Timers.Unlock()
	e, ok := o.Timers.Entries[h.key]
	if !ok || e.Handle != tok {
		s.release(tok)
		return
	}
	entry, err := q.Push(h.opts.Method, s.unit(o, h.key, tok, h.opts), s.done(o, h.opts), rq.Meta{Obj: o})
	if err != nil {
		s.log.Error("could not queue timer call",
			zap.Stringer("obj", o), zap.String("timer", h.key), zap.Stringer("queue", q), zap.Error(err))
		if !h.opts.Interval {
			delete(o.Timers.Entries, h.key)
		} else {
			e.Handle = 0
		}
		s.release(tok)
		return
	}
	s.mu.Lock()
	h.timer = nil
	h.queued = entry
	s.mu.Unlock()
}

// drop disarms the entry behind tok, removing it when remove is set.
func (s *Scheduler) drop(o *gameobj.Object, h *handle, tok gameobj.Token, remove bool) {
	o.Timers.Lock()
	defer o.Timers.Unlock()
	if e, ok := o.Timers.Entries[h.key]; ok && e.Handle == tok {
		if remove {
			delete(o.Timers.Entries, h.key)
		} else {
			e.Handle = 0
		}
	}
	s.release(tok)
}

// unit builds the queued call. It runs on the game loop.
func (s *Scheduler) unit(o *gameobj.Object, key string, tok gameobj.Token, opts gameobj.TimerOptions) rq.Func {
	return func(ctx context.Context) error {
		if o.Stale() {
			s.log.Debug("aborting timer call on stale object",
				zap.Stringer("obj", o), zap.String("timer", key))
			return nil
		}
		if !s.claim(o, key, tok, opts.Interval) {
			return nil
		}
		if opts.Then != nil {
			return s.establish(o, *opts.Then)
		}
		if err := s.invoke(ctx, o, opts); err != nil {
			if opts.Interval {
				o.Timers.Lock()
				if e, ok := o.Timers.Entries[key]; ok && e.Handle == tok {
					delete(o.Timers.Entries, key)
				}
				o.Timers.Unlock()
				s.release(tok)
			}
			return err
		}
		if !opts.Interval {
			return nil
		}
		// next iteration, unless canceled or replaced while running
		o.Timers.Lock()
		e, ok := o.Timers.Entries[key]
		rearm := ok && e.Handle == tok
		if rearm {
			delete(o.Timers.Entries, key)
		}
		o.Timers.Unlock()
		s.release(tok)
		if !rearm {
			return nil
		}
		return s.Arm(o, opts)
	}
}

// claim checks that tok still owns the entry. One-off entries are removed
// and their handle released before the call; intervals keep the handle
// until the call returns.
func (s *Scheduler) claim(o *gameobj.Object, key string, tok gameobj.Token, interval bool) bool {
	o.Timers.Lock()
	defer o.Timers.Unlock()
	e, ok := o.Timers.Entries[key]
	if !ok || e.Handle != tok {
		s.release(tok)
		return false
	}
	if !interval {
		delete(o.Timers.Entries, key)
		s.release(tok)
	}
	return true
}

// establish turns a phase-aligned restart into a regular interval, unless
// the interval was canceled or replaced meanwhile.
func (s *Scheduler) establish(o *gameobj.Object, opts gameobj.TimerOptions) error {
	o.Timers.Lock()
	e, ok := o.Timers.Entries[opts.Method]
	if !ok || !e.Options.Interval || e.Active() {
		o.Timers.Unlock()
		s.log.Debug("interval gone before restart",
			zap.Stringer("obj", o), zap.String("method", opts.Method))
		return nil
	}
	e.Aligned = nil
	o.Timers.Unlock()
	return s.Arm(o, opts)
}

func (s *Scheduler) done(o *gameobj.Object, opts gameobj.TimerOptions) rq.Callback {
	return func(err error) {
		if err != nil {
			s.log.Error("timer call failed",
				zap.Stringer("obj", o), zap.String("method", opts.Method),
				zap.Bool("interval", opts.Interval), zap.Error(err))
		}
	}
}

// invoke calls the target method directly, converting a panic to an error.
func (s *Scheduler) invoke(ctx context.Context, o *gameobj.Object, opts gameobj.TimerOptions) (err error) {
	m, ok := o.Type().Method(opts.Method)
	if !ok {
		return fmt.Errorf("%s.%s: %w", o, opts.Method, ErrNoSuchMethod)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s.%s panicked: %v\n%s", o, opts.Method, r, debug.Stack())
		}
	}()
	return m(ctx, o, opts.Args)
}
