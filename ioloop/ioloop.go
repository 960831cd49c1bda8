// Package ioloop drains the character output a target publishes in its
// debug struct to a host console.
//
// The target sets PendingPutchar to the number of bytes waiting in
// PutcBuffer. The drainer reads them, writes zero back to PendingPutchar to
// acknowledge, then prints. Acknowledging first lets the target refill the
// buffer while the host is still printing.
//
// Draining runs in two modes. On a manager tick, Poll drains at most one
// batch. If more output is already waiting after that batch, Poll arms a
// timer that drains one batch per pacing interval, and the drainer stays
// paused until the timer finds the buffer empty.
package ioloop

import (
	"time"

	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/console"
	"github.com/ezrec/dbgbridge/eventloop"
	"github.com/ezrec/dbgbridge/hal"
	"github.com/ezrec/dbgbridge/internal/logger"
	"github.com/ezrec/dbgbridge/loop"
)

// State of a drainer between invocations.
type State int

//go:generate go tool stringer -linecomment -type=State
const (
	// Serviced by manager ticks.
	Idle State = iota // idle
	// A timer owns the drainer; ticks skip it.
	DrainingViaTimer // draining-via-timer
	// The timer path hit a cable error.
	Faulted // faulted
)

// Readiness reports whether the target can be accessed yet.
type Readiness interface {
	TargetAvailable() bool
}

// Timers registers repeating timer callbacks.
type Timers interface {
	AddTimer(delay time.Duration, fn eventloop.TimerFunc) *eventloop.Timer
}

// Drainer moves target output to the console. It implements loop.Looper.
type Drainer struct {
	cable   cable.Cable
	timers  Timers
	ready   Readiness
	pause   time.Duration
	console console.Console
	log     *logger.Log

	state State
	timer *eventloop.Timer

	batches int
	bytes   int
}

var _ loop.Looper = (*Drainer)(nil)
var _ loop.Destroyer = (*Drainer)(nil)

// Option configures a Drainer.
type Option func(*Drainer)

// WithPause sets the interval between timer driven drains.
func WithPause(pause time.Duration) Option {
	return func(d *Drainer) {
		d.pause = max(pause, 0)
	}
}

// WithConsole replaces the standard output console.
func WithConsole(cs console.Console) Option {
	return func(d *Drainer) {
		d.console = cs
	}
}

// WithReadiness makes the drainer report no pending output, without
// touching the cable, while r reports the target unavailable.
func WithReadiness(r Readiness) Option {
	return func(d *Drainer) {
		d.ready = r
	}
}

// WithLogger replaces the drainer's log.
func WithLogger(log *logger.Log) Option {
	return func(d *Drainer) {
		d.log = log
	}
}

// New returns an idle drainer accessing the target through c and pacing
// bursts with timers.
func New(c cable.Cable, timers Timers, opts ...Option) (d *Drainer) {
	d = &Drainer{
		cable:  c,
		timers: timers,
		log:    logger.New("IOLOOP"),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.console == nil {
		d.console = console.Stdout()
	}

	return
}

// State returns the drainer's current state.
func (d *Drainer) State() State {
	return d.state
}

// Batches returns the number of batches drained.
func (d *Drainer) Batches() int {
	return d.batches
}

// Bytes returns the number of bytes drained.
func (d *Drainer) Bytes() int {
	return d.bytes
}

// Paused implements loop.Looper.
func (d *Drainer) Paused() bool {
	return d.state == DrainingViaTimer
}

// SetPaused implements loop.Looper.
func (d *Drainer) SetPaused(paused bool) {
	switch {
	case paused && d.state == Idle:
		d.state = DrainingViaTimer
	case !paused && d.state == DrainingViaTimer:
		d.state = Idle
	}
}

// Destroy disarms a pending drain timer and returns the drainer to Idle, so
// a manager it is added to again will register and poll it.
func (d *Drainer) Destroy() {
	if d.timer != nil {
		d.timer.SetTimeout(eventloop.TimerDone)
		d.timer = nil
	}
	d.state = Idle
}

func (d *Drainer) cableError() loop.Status {
	d.log.Error("IO loop cable error: exiting")
	return loop.StopAll
}

// Register tells the target the host is forwarding its output.
func (d *Drainer) Register(ds *hal.DebugStruct) loop.Status {
	err := cable.WriteWord(d.cable, ds.UseInternalPrintfAddr(), 0)
	if err != nil {
		return d.cableError()
	}
	return loop.Continue
}

// PendingLength returns the number of bytes the target has waiting.
func (d *Drainer) PendingLength(ds *hal.DebugStruct) (length uint32, err error) {
	if d.ready != nil && !d.ready.TargetAvailable() {
		return
	}

	length, err = cable.ReadWord(d.cable, ds.PendingPutcharAddr())
	return
}

// DrainOne reads length bytes of output, acknowledges them, then prints them.
func (d *Drainer) DrainOne(ds *hal.DebugStruct, length uint32) (err error) {
	if length == 0 {
		return
	}

	if ds.PutcBufferSize > 0 && length > ds.PutcBufferSize {
		d.log.Warning("pending length %v exceeds buffer size %v", length, ds.PutcBufferSize)
		length = ds.PutcBufferSize
	}

	buf := make([]byte, length)
	err = d.cable.Access(false, ds.PutcBufferAddr(), buf)
	if err != nil {
		return
	}

	err = cable.WriteWord(d.cable, ds.PendingPutcharAddr(), 0)
	if err != nil {
		return
	}

	d.batches++
	d.bytes += len(buf)
	d.log.Detail("drained %v bytes", len(buf))

	_, werr := d.console.Write(console.CString(buf))
	if werr == nil {
		werr = d.console.Flush()
	}
	if werr != nil {
		d.log.Warning("console: %v", werr)
	}

	return
}

// Poll is the manager tick: drain at most one batch, and hand a remaining
// backlog to a timer.
func (d *Drainer) Poll(ds *hal.DebugStruct) loop.Status {
	switch d.state {
	case DrainingViaTimer:
		return loop.Pause
	case Faulted:
		return d.cableError()
	}

	length, err := d.PendingLength(ds)
	if err != nil {
		return d.cableError()
	}
	if length == 0 {
		return loop.Continue
	}

	err = d.DrainOne(ds, length)
	if err != nil {
		return d.cableError()
	}

	length, err = d.PendingLength(ds)
	if err != nil {
		return d.cableError()
	}
	if length == 0 {
		return loop.Continue
	}

	d.state = DrainingViaTimer
	step := &drainStep{drainer: d, ds: ds}
	d.timer = d.timers.AddTimer(0, step.Fire)

	return loop.Pause
}

// drainStep is the timer side of a drainer, bound to one debug struct.
type drainStep struct {
	drainer *Drainer
	ds      *hal.DebugStruct
}

// Fire drains one batch per call until the target has nothing pending.
func (step *drainStep) Fire() time.Duration {
	d := step.drainer

	length, err := d.PendingLength(step.ds)
	if err == nil && length > 0 {
		err = d.DrainOne(step.ds, length)
		if err == nil {
			return d.pause
		}
	}

	d.timer = nil
	if err != nil {
		// The timer cannot stop the manager; the next tick reports it.
		d.log.Debug("%v", err)
		d.state = Faulted
		return eventloop.TimerDone
	}

	d.state = Idle
	return eventloop.TimerDone
}
