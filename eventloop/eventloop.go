// Package eventloop is a single goroutine cooperative scheduler of timer
// callbacks.
//
// A timer callback returns the delay until it wants to run again, or
// TimerDone to disarm itself. Callbacks never run concurrently with each
// other, so state shared between them needs no locking.
package eventloop

import (
	"container/heap"
	"context"
	"time"
)

// TimerDone, returned by a TimerFunc, disarms the timer.
const TimerDone time.Duration = -1

// TimerFunc is a timer callback. It returns the delay before the next call,
// or TimerDone.
type TimerFunc func() time.Duration

// Timer is a callback registered with a Loop.
type Timer struct {
	loop  *Loop
	fn    TimerFunc
	when  time.Time
	index int // Position in the loop's heap, -1 when disarmed.
	seq   int // Bumped on every (re|dis)arm.
	fired int
}

// Armed reports whether the timer is waiting to fire.
func (tm *Timer) Armed() bool {
	return tm.index >= 0
}

// When returns the time the timer fires next. Only meaningful when armed.
func (tm *Timer) When() time.Time {
	return tm.when
}

// Fired returns the number of times the callback has been run.
func (tm *Timer) Fired() int {
	return tm.fired
}

// SetTimeout re-arms the timer to fire after delay, or disarms it when delay
// is negative.
func (tm *Timer) SetTimeout(delay time.Duration) {
	tm.loop.schedule(tm, delay)
}

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	tm := x.(*Timer)
	tm.index = len(*h)
	*h = append(*h, tm)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	tm := old[n-1]
	old[n-1] = nil
	tm.index = -1
	*h = old[:n-1]
	return tm
}

// Loop runs timer callbacks in deadline order.
type Loop struct {
	now     func() time.Time
	timers  timerHeap
	stopped bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock, for tests that drive the loop with
// RunOnce.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// New returns an empty loop.
func New(opts ...Option) *Loop {
	l := &Loop{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the loop's notion of the current time.
func (l *Loop) Now() time.Time {
	return l.now()
}

// AddTimer registers fn to run after delay. A negative delay registers the
// timer disarmed; arm it later with SetTimeout.
func (l *Loop) AddTimer(delay time.Duration, fn TimerFunc) *Timer {
	tm := &Timer{loop: l, fn: fn, index: -1}
	l.schedule(tm, delay)
	return tm
}

func (l *Loop) schedule(tm *Timer, delay time.Duration) {
	tm.seq++
	if delay < 0 {
		if tm.index >= 0 {
			heap.Remove(&l.timers, tm.index)
		}
		return
	}

	tm.when = l.now().Add(delay)
	if tm.index >= 0 {
		heap.Fix(&l.timers, tm.index)
	} else {
		heap.Push(&l.timers, tm)
	}
}

// Pending returns the number of armed timers.
func (l *Loop) Pending() int {
	return len(l.timers)
}

// Next returns the deadline of the earliest armed timer.
func (l *Loop) Next() (when time.Time, ok bool) {
	if len(l.timers) == 0 {
		return
	}
	when = l.timers[0].when
	ok = true
	return
}

// RunOnce fires every timer that is due now. Timers re-armed during the pass
// run on the next pass, even with a zero delay.
func (l *Loop) RunOnce() (fired int) {
	now := l.now()

	type popped struct {
		tm  *Timer
		seq int
	}

	var due []popped
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		tm := heap.Pop(&l.timers).(*Timer)
		due = append(due, popped{tm: tm, seq: tm.seq})
	}

	for _, p := range due {
		tm := p.tm
		if tm.seq != p.seq {
			// Re-armed or disarmed by an earlier callback in this pass.
			continue
		}
		tm.fired++
		fired++
		l.schedule(tm, tm.fn())
	}

	return
}

// Stop makes Run return at the end of the current pass.
func (l *Loop) Stop() {
	l.stopped = true
}

// Run fires timers as they fall due until ctx is done, Stop is called, or no
// timer remains armed.
func (l *Loop) Run(ctx context.Context) (err error) {
	l.stopped = false

	wait := time.NewTimer(time.Hour)
	defer wait.Stop()

	for !l.stopped {
		next, ok := l.Next()
		if !ok {
			return
		}

		wait.Reset(max(next.Sub(l.now()), 0))
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return
		case <-wait.C:
		}

		l.RunOnce()
	}

	return
}
