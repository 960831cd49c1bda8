package loop

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/eventloop"
	"github.com/ezrec/dbgbridge/hal"
	"github.com/ezrec/dbgbridge/internal/logger"
)

const (
	testPtrAddr    = 0x0
	testStructAddr = 0x100
)

type fakeLooper struct {
	register  []Status
	poll      []Status
	paused    bool
	seen      []uint32
	polls     int
	destroyed int
}

func next(list *[]Status) Status {
	if len(*list) == 0 {
		return Continue
	}
	st := (*list)[0]
	*list = (*list)[1:]
	return st
}

func (fl *fakeLooper) Register(ds *hal.DebugStruct) Status {
	fl.seen = append(fl.seen, ds.Addr)
	return next(&fl.register)
}

func (fl *fakeLooper) Poll(ds *hal.DebugStruct) Status {
	fl.polls++
	return next(&fl.poll)
}

func (fl *fakeLooper) Paused() bool          { return fl.paused }
func (fl *fakeLooper) SetPaused(paused bool) { fl.paused = paused }
func (fl *fakeLooper) Destroy()              { fl.destroyed++ }

type testBench struct {
	clock time.Time
	loop  *eventloop.Loop
	mem   *cable.Memory
	log   *bytes.Buffer
	m     *Manager
}

func newTestBench(c func(*cable.Memory) cable.Cable) (tb *testBench) {
	tb = &testBench{clock: time.Unix(0, 0), log: &bytes.Buffer{}}
	tb.loop = eventloop.New(eventloop.WithClock(func() time.Time { return tb.clock }))
	tb.mem = cable.NewMemory(0, 0x400)

	var link cable.Cable = tb.mem
	if c != nil {
		link = c(tb.mem)
	}

	tb.m = NewManager(tb.loop, link, testPtrAddr,
		WithPeriods(time.Millisecond, time.Second),
		WithManagerLogger(logger.NewWithOutput("LOOPM", tb.log, logger.LevelError)))
	return
}

func (tb *testBench) publish(addr uint32) {
	_ = cable.WriteWord(tb.mem, testPtrAddr, addr)
}

func (tb *testBench) tick() int {
	tb.clock = tb.clock.Add(time.Second)
	return tb.loop.RunOnce()
}

func TestManager_NotBooted(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	fl := &fakeLooper{}
	tb.m.Add(fl)
	tb.m.Start(true)

	assert.Equal(1, tb.tick())
	assert.False(tb.m.TargetAvailable())
	assert.Empty(fl.seen)
	assert.Equal(0, fl.polls)
	assert.False(tb.m.Stopped())
}

func TestManager_RegisterOnce(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	fl := &fakeLooper{}
	tb.m.Add(fl)
	tb.m.Start(false)
	tb.publish(testStructAddr)

	tb.tick()
	tb.tick()
	assert.True(tb.m.TargetAvailable())
	assert.Equal([]uint32{testStructAddr}, fl.seen)
	assert.Equal(2, fl.polls)

	// A new struct (target reboot) registers again.
	tb.publish(testStructAddr + 0x100)
	tb.tick()
	assert.Equal([]uint32{testStructAddr, testStructAddr + 0x100}, fl.seen)
	assert.Equal(3, tb.m.Ticks())
}

func TestManager_Pause(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	fl := &fakeLooper{poll: []Status{Pause}}
	tb.m.Add(fl)
	tb.m.Start(true)
	tb.publish(testStructAddr)

	tb.tick()
	assert.True(fl.paused)
	assert.Equal(1, fl.polls)

	tb.tick()
	assert.Equal(1, fl.polls)

	fl.paused = false
	tb.tick()
	assert.Equal(2, fl.polls)
}

func TestManager_Stop(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	first := &fakeLooper{poll: []Status{Stop}}
	second := &fakeLooper{}
	tb.m.Add(first)
	tb.m.Add(second)
	tb.m.Start(true)
	tb.publish(testStructAddr)

	tb.tick()
	assert.Equal(1, first.destroyed)
	assert.Equal(1, tb.m.Len())
	assert.False(tb.m.Stopped())

	tb.m.Remove(second)
	assert.Equal(1, second.destroyed)
	assert.Equal(0, tb.m.Len())
}

func TestManager_LastLooperStops(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	tb.m.Add(&fakeLooper{poll: []Status{Stop}})
	tb.m.Start(true)
	tb.publish(testStructAddr)

	tb.tick()
	assert.True(tb.m.Stopped())
	assert.Equal(0, tb.loop.Pending())
}

func TestManager_StopAll(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	first := &fakeLooper{}
	second := &fakeLooper{poll: []Status{StopAll}}
	third := &fakeLooper{}
	tb.m.Add(first)
	tb.m.Add(second)
	tb.m.Add(third)
	tb.m.Start(true)
	tb.publish(testStructAddr)

	tb.tick()
	assert.True(tb.m.Stopped())
	assert.Equal(0, tb.m.Len())
	assert.Equal(1, first.destroyed)
	assert.Equal(1, second.destroyed)
	assert.Equal(1, third.destroyed)
	assert.Equal(0, third.polls)
	assert.Equal(0, tb.loop.Pending())

	assert.Equal(0, tb.tick())
}

func TestManager_RegisterStopAll(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	fl := &fakeLooper{register: []Status{StopAll}}
	tb.m.Add(fl)
	tb.m.Start(true)
	tb.publish(testStructAddr)

	tb.tick()
	assert.True(tb.m.Stopped())
	assert.Equal(0, fl.polls)
	assert.Equal(1, fl.destroyed)
}

func TestManager_CableError(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(func(mem *cable.Memory) cable.Cable {
		return &cable.Faulty{Cable: mem, Broken: true}
	})
	tb.m.Add(&fakeLooper{})
	tb.m.Start(true)

	tb.tick()
	assert.True(tb.m.Stopped())
	assert.Equal("LOOPM: Loop manager cable error: exiting\n", tb.log.String())
}

func TestManager_AddRegisters(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	tb.publish(testStructAddr)

	fl := &fakeLooper{}
	assert.NoError(tb.m.Add(fl))
	assert.Equal([]uint32{testStructAddr}, fl.seen)
	assert.True(tb.m.TargetAvailable())

	// Registered once; the first tick only polls.
	tb.m.Start(true)
	tb.tick()
	assert.Equal([]uint32{testStructAddr}, fl.seen)
	assert.Equal(1, fl.polls)
}

func TestManager_AddRegisterStopAll(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench(nil)
	tb.publish(testStructAddr)
	tb.m.Start(true)

	fl := &fakeLooper{register: []Status{StopAll}}
	assert.NoError(tb.m.Add(fl))
	assert.True(tb.m.Stopped())
	assert.Equal(0, tb.m.Len())
	assert.Equal(1, fl.destroyed)
}

func TestManager_AddCableError(t *testing.T) {
	assert := assert.New(t)

	link := &cable.Faulty{Broken: true}
	tb := newTestBench(func(mem *cable.Memory) cable.Cable {
		link.Cable = mem
		return link
	})

	fl := &fakeLooper{}
	err := tb.m.Add(fl)
	assert.ErrorIs(err, cable.ErrCable)
	assert.Equal(1, tb.m.Len())
	assert.Empty(fl.seen)
	assert.Empty(tb.log.String())

	// Registration is retried once the cable recovers.
	link.Broken = false
	tb.publish(testStructAddr)
	tb.m.Start(true)
	tb.tick()
	assert.Equal([]uint32{testStructAddr}, fl.seen)
}

func TestManager_Speed(t *testing.T) {
	require := require.New(t)

	tb := newTestBench(nil)
	tb.m.SetLoopSpeed(true)
	_, ok := tb.loop.Next()
	require.False(ok, "stopped manager ignores speed changes")

	tb.m.Start(false)
	when, ok := tb.loop.Next()
	require.True(ok)
	require.Equal(tb.clock.Add(time.Second), when)

	tb.m.SetLoopSpeed(true)
	when, _ = tb.loop.Next()
	require.Equal(tb.clock.Add(time.Millisecond), when)

	tb.m.Stop()
	_, ok = tb.loop.Next()
	require.False(ok)
}

func TestStatus_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("continue", Continue.String())
	assert.Equal("stop-all", StopAll.String())
	assert.Equal("Status(9)", Status(9).String())
	assert.Equal("Status(-1)", Status(-1).String())
}
