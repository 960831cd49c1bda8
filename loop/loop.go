// Package loop drives the host-side pollers ("loopers") that service a
// target's debug struct.
//
// A Manager owns a timer on an eventloop.Loop. On each tick it reads the
// debug struct pointer from the target, registers any looper that has not
// yet seen that struct, and polls every looper that is not paused.
package loop

import (
	"slices"
	"time"

	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/eventloop"
	"github.com/ezrec/dbgbridge/hal"
	"github.com/ezrec/dbgbridge/internal/logger"
)

const (
	DEFAULT_FAST_PERIOD = 500 * time.Microsecond
	DEFAULT_SLOW_PERIOD = 10 * time.Second
)

// Looper is a poller serviced by the Manager.
type Looper interface {
	// Register is called once for each debug struct the looper sees.
	Register(ds *hal.DebugStruct) Status
	// Poll is called on each tick while the looper is not paused.
	Poll(ds *hal.DebugStruct) Status
	// Paused reports whether ticks should skip the looper.
	Paused() bool
	// SetPaused is used by the Manager when Poll or Register returns Pause.
	SetPaused(paused bool)
}

// Destroyer is implemented by loopers that release resources when removed.
type Destroyer interface {
	Destroy()
}

type entry struct {
	looper     Looper
	registered uint32 // Address of the debug struct last registered, 0 if none.
}

// Manager runs loopers against the debug struct published by a target.
type Manager struct {
	Layout hal.Layout // Layout of the target's debug struct.

	cable          cable.Cable
	debugStructPtr uint32
	timer          *eventloop.Timer
	log            *logger.Log

	loopers []*entry

	slow, fast, cur time.Duration
	stopped         bool
	available       bool
	ticks           int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPeriods sets the fast and slow tick periods.
func WithPeriods(fast, slow time.Duration) ManagerOption {
	return func(m *Manager) {
		m.fast = fast
		m.slow = slow
	}
}

// WithManagerLogger replaces the manager's log.
func WithManagerLogger(log *logger.Log) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager returns a stopped manager. debugStructPtr is the target address
// holding the address of the debug struct, 0 until the target has booted.
func NewManager(el *eventloop.Loop, c cable.Cable, debugStructPtr uint32, opts ...ManagerOption) (m *Manager) {
	m = &Manager{
		Layout:         hal.DefaultLayout,
		cable:          c,
		debugStructPtr: debugStructPtr,
		log:            logger.New("LOOPM"),
		slow:           DEFAULT_SLOW_PERIOD,
		fast:           DEFAULT_FAST_PERIOD,
		cur:            eventloop.TimerDone,
		stopped:        true,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.timer = el.AddTimer(eventloop.TimerDone, m.runLoops)

	return
}

// SetDebugStructPtr changes the address holding the debug struct pointer.
func (m *Manager) SetDebugStructPtr(addr uint32) {
	m.debugStructPtr = addr
}

// Start ticking, at the fast or slow period.
func (m *Manager) Start(fast bool) {
	m.log.Debug("loop manager started")
	m.stopped = false
	m.SetLoopSpeed(fast)
}

// SetLoopSpeed switches between the fast and slow tick periods.
func (m *Manager) SetLoopSpeed(fast bool) {
	if m.stopped {
		return
	}
	m.log.Detail("set loop speed fast %v", fast)
	m.cur = m.slow
	if fast {
		m.cur = m.fast
	}
	m.timer.SetTimeout(m.cur)
}

// Stop ticking. Loopers are kept.
func (m *Manager) Stop() {
	m.log.Debug("loop manager stopped")
	m.stopped = true
	m.cur = eventloop.TimerDone
	m.timer.SetTimeout(m.cur)
}

// Stopped reports whether the manager is no longer ticking.
func (m *Manager) Stopped() bool {
	return m.stopped
}

// Ticks returns the number of ticks run since creation.
func (m *Manager) Ticks() int {
	return m.ticks
}

// TargetAvailable reports whether the last tick found a debug struct.
func (m *Manager) TargetAvailable() bool {
	return m.available
}

// Len returns the number of loopers.
func (m *Manager) Len() int {
	return len(m.loopers)
}

// Add a looper, and register it at once if the target has already published
// a debug struct. A cable error is returned; the looper is kept, and the next
// tick that finds a debug struct registers it.
func (m *Manager) Add(looper Looper) (err error) {
	m.loopers = append(m.loopers, &entry{looper: looper})
	_, err = m.activate()
	return
}

// Remove a looper.
func (m *Manager) Remove(looper Looper) {
	m.loopers = slices.DeleteFunc(m.loopers, func(e *entry) bool {
		if e.looper != looper {
			return false
		}
		destroy(looper)
		return true
	})
}

// Clear stops the manager and removes every looper.
func (m *Manager) Clear() {
	m.Stop()
	for _, e := range m.loopers {
		destroy(e.looper)
	}
	m.loopers = nil
}

func destroy(looper Looper) {
	if d, ok := looper.(Destroyer); ok {
		d.Destroy()
	}
}

// apply handles a looper's status. cont is false when every looper must stop.
func (m *Manager) apply(e *entry, status Status) (keep bool, cont bool) {
	switch status {
	case Pause:
		e.looper.SetPaused(true)
	case Stop:
		destroy(e.looper)
		return false, true
	case StopAll:
		return false, false
	}
	return true, true
}

// each applies call to every looper for which skip is false. On StopAll it
// clears the manager and returns false.
func (m *Manager) each(skip func(e *entry) bool, call func(e *entry) Status) (cont bool) {
	kept := make([]*entry, 0, len(m.loopers))
	for i, e := range m.loopers {
		if skip(e) {
			kept = append(kept, e)
			continue
		}

		keep, cont := m.apply(e, call(e))
		if !cont {
			m.loopers = append(kept, m.loopers[i:]...)
			m.Clear()
			return false
		}
		if keep {
			kept = append(kept, e)
		}
	}
	m.loopers = kept

	return true
}

// activate reads the debug struct pointer and registers loopers that have
// not seen it yet. ds is nil while the target has not published a struct.
func (m *Manager) activate() (ds *hal.DebugStruct, err error) {
	addr, err := cable.ReadWord(m.cable, m.debugStructPtr)
	if err != nil {
		return
	}

	m.available = addr != 0
	if addr == 0 {
		return
	}

	ds = &hal.DebugStruct{Addr: addr, Layout: m.Layout}

	skip := func(e *entry) bool {
		return e.registered == addr || e.looper.Paused()
	}
	register := func(e *entry) Status {
		m.log.Debug("register looper at debug struct 0x%08x", addr)
		e.registered = addr
		return e.looper.Register(ds)
	}
	if !m.each(skip, register) {
		ds = nil
	}

	return
}

func (m *Manager) runLoops() time.Duration {
	m.ticks++

	ds, err := m.activate()
	if err != nil {
		m.log.Error("Loop manager cable error: exiting")
		m.stopped = true
		m.cur = eventloop.TimerDone
		return m.cur
	}
	if ds == nil {
		return m.cur
	}

	paused := func(e *entry) bool {
		return e.looper.Paused()
	}
	poll := func(e *entry) Status {
		return e.looper.Poll(ds)
	}
	if !m.each(paused, poll) {
		return m.cur
	}

	if len(m.loopers) == 0 {
		m.log.Debug("no loopers left")
		m.stopped = true
		m.cur = eventloop.TimerDone
	}

	return m.cur
}
