package ioloop

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/console"
	"github.com/ezrec/dbgbridge/eventloop"
	"github.com/ezrec/dbgbridge/hal"
	"github.com/ezrec/dbgbridge/internal/logger"
	"github.com/ezrec/dbgbridge/loop"
)

const testStructAddr = 0x1c000100

type countingTimers struct {
	*eventloop.Loop
	added int
	delay time.Duration
}

func (ct *countingTimers) AddTimer(delay time.Duration, fn eventloop.TimerFunc) *eventloop.Timer {
	ct.added++
	ct.delay = delay
	return ct.Loop.AddTimer(delay, fn)
}

type access struct {
	write bool
	addr  uint32
	size  int
}

type readiness bool

func (r *readiness) TargetAvailable() bool {
	return bool(*r)
}

type testBench struct {
	clock    time.Time
	mem      *cable.Memory
	link     *cable.Faulty
	ds       *hal.DebugStruct
	timers   *countingTimers
	out      *bytes.Buffer
	logs     *bytes.Buffer
	accesses []access
	d        *Drainer
}

func newTestBench(opts ...Option) (tb *testBench) {
	tb = &testBench{
		clock: time.Unix(0, 0),
		out:   &bytes.Buffer{},
		logs:  &bytes.Buffer{},
	}

	tb.mem = cable.NewMemory(testStructAddr, hal.DEBUG_STRUCT_SIZE)
	tb.mem.OnAccess = func(write bool, addr uint32, buf []byte) {
		tb.accesses = append(tb.accesses, access{write: write, addr: addr, size: len(buf)})
	}
	tb.link = &cable.Faulty{Cable: tb.mem}
	tb.ds = hal.NewDebugStruct(testStructAddr)
	tb.timers = &countingTimers{
		Loop: eventloop.New(eventloop.WithClock(func() time.Time { return tb.clock })),
	}

	opts = append([]Option{
		WithConsole(console.NewStream(tb.out)),
		WithLogger(logger.NewWithOutput("IOLOOP", tb.logs, logger.LevelWarning)),
		WithPause(time.Millisecond),
	}, opts...)
	tb.d = New(tb.link, tb.timers, opts...)

	return
}

// publish puts output in the target's buffer, as the target runtime would.
func (tb *testBench) publish(text string) {
	off := tb.ds.PutcBufferAddr() - tb.mem.Base
	copy(tb.mem.Data[off:], text)
	tb.setPending(uint32(len(text)))
}

func (tb *testBench) setPending(length uint32) {
	off := tb.ds.PendingPutcharAddr() - tb.mem.Base
	tb.mem.Data[off+0] = byte(length >> 0)
	tb.mem.Data[off+1] = byte(length >> 8)
	tb.mem.Data[off+2] = byte(length >> 16)
	tb.mem.Data[off+3] = byte(length >> 24)
}

// pending decodes the counter straight from target memory, so it is not
// recorded as a host access.
func (tb *testBench) pending() uint32 {
	off := tb.ds.PendingPutcharAddr() - tb.mem.Base
	return binary.LittleEndian.Uint32(tb.mem.Data[off:])
}

// refillOnAck publishes text the first time the host acknowledges a batch.
func (tb *testBench) refillOnAck(text string) {
	refilled := false
	record := tb.mem.OnAccess
	tb.mem.OnAccess = func(write bool, addr uint32, buf []byte) {
		record(write, addr, buf)
		if !refilled && write && addr == tb.ds.PendingPutcharAddr() {
			refilled = true
			tb.publish(text)
		}
	}
}

func (tb *testBench) bufferReads() (reads int) {
	for _, a := range tb.accesses {
		if !a.write && a.addr == tb.ds.PutcBufferAddr() {
			reads++
		}
	}
	return
}

func (tb *testBench) errorLines() int {
	return strings.Count(tb.logs.String(), "IOLOOP: IO loop cable error: exiting\n")
}

func (tb *testBench) step() time.Duration {
	return (&drainStep{drainer: tb.d, ds: tb.ds}).Fire()
}

func TestDrainer_Register(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	off := tb.ds.UseInternalPrintfAddr() - tb.mem.Base
	tb.mem.Data[off] = 1

	assert.Equal(loop.Continue, tb.d.Register(tb.ds))
	assert.Equal(byte(0), tb.mem.Data[off])
	assert.Equal([]access{{write: true, addr: tb.ds.UseInternalPrintfAddr(), size: 4}}, tb.accesses)
}

func TestDrainer_RegisterCableError(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.link.Broken = true

	assert.Equal(loop.StopAll, tb.d.Register(tb.ds))
	assert.Equal(1, tb.errorLines())
}

func TestDrainer_PendingLength(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hi")

	length, err := tb.d.PendingLength(tb.ds)
	assert.NoError(err)
	assert.Equal(uint32(2), length)

	tb.link.Broken = true
	_, err = tb.d.PendingLength(tb.ds)
	assert.ErrorIs(err, cable.ErrCable)
	assert.Equal(0, tb.errorLines(), "errors are only reported by the caller")
}

func TestDrainer_PendingLengthNotReady(t *testing.T) {
	assert := assert.New(t)

	ready := readiness(false)
	tb := newTestBench(WithReadiness(&ready))
	tb.publish("hi")
	tb.link.Broken = true

	length, err := tb.d.PendingLength(tb.ds)
	assert.NoError(err)
	assert.Equal(uint32(0), length)
	assert.Equal(0, tb.link.Accesses)

	assert.Equal(loop.Continue, tb.d.Poll(tb.ds))
	assert.Equal(0, tb.link.Accesses)

	ready = true
	tb.link.Broken = false
	length, err = tb.d.PendingLength(tb.ds)
	assert.NoError(err)
	assert.Equal(uint32(2), length)
}

func TestDrainer_DrainOne(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")

	require.NoError(t, tb.d.DrainOne(tb.ds, 5))
	assert.Equal("hello", tb.out.String())
	assert.Equal(uint32(0), tb.pending())
	assert.Equal(1, tb.d.Batches())
	assert.Equal(5, tb.d.Bytes())

	// Read the buffer, then acknowledge.
	assert.Equal([]access{
		{write: false, addr: tb.ds.PutcBufferAddr(), size: 5},
		{write: true, addr: tb.ds.PendingPutcharAddr(), size: 4},
	}, tb.accesses)
}

func TestDrainer_DrainOneAckBeforePrint(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")

	printedAtAck := -1
	record := tb.mem.OnAccess
	tb.mem.OnAccess = func(write bool, addr uint32, buf []byte) {
		record(write, addr, buf)
		if write && addr == tb.ds.PendingPutcharAddr() {
			printedAtAck = tb.out.Len()
		}
	}

	assert.NoError(tb.d.DrainOne(tb.ds, 5))
	assert.Equal(0, printedAtAck)
	assert.Equal("hello", tb.out.String())
}

func TestDrainer_DrainOneRequery(t *testing.T) {
	assert := assert.New(t)

	for _, text := range []string{"x", "hello", strings.Repeat("z", hal.PUTC_BUFFER_SIZE)} {
		tb := newTestBench()
		tb.publish(text)
		tb.refillOnAck("abc")

		assert.NoError(tb.d.DrainOne(tb.ds, uint32(len(text))))
		length, err := tb.d.PendingLength(tb.ds)
		assert.NoError(err)
		assert.Equal(uint32(3), length, "only the refill is pending")

		assert.NoError(tb.d.DrainOne(tb.ds, length))
		assert.Equal(text+"abc", tb.out.String())
	}
}

func TestDrainer_DrainOneNul(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("ab\x00cd")

	assert.NoError(tb.d.DrainOne(tb.ds, 5))
	assert.Equal("ab", tb.out.String())
	assert.Equal(5, tb.d.Bytes())
}

func TestDrainer_DrainOneOversize(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("abc")
	tb.setPending(hal.PUTC_BUFFER_SIZE + 1)

	assert.NoError(tb.d.DrainOne(tb.ds, hal.PUTC_BUFFER_SIZE+1))
	assert.Equal(hal.PUTC_BUFFER_SIZE, tb.d.Bytes())
	assert.Contains(tb.logs.String(), "exceeds buffer size")
}

func TestDrainer_DrainOneCableError(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")
	tb.link.FailIf = func(write bool, addr uint32, size int) bool {
		return write
	}

	assert.ErrorIs(tb.d.DrainOne(tb.ds, 5), cable.ErrCable)
	assert.Equal("", tb.out.String(), "unacknowledged output is not printed")
}

func TestDrainer_PollEmpty(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()

	assert.Equal(loop.Continue, tb.d.Poll(tb.ds))
	assert.Equal(0, tb.bufferReads())
	assert.Equal(1, len(tb.accesses))
	assert.Equal(0, tb.timers.added)
}

func TestDrainer_PollHello(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")

	assert.Equal(loop.Continue, tb.d.Poll(tb.ds))
	assert.Equal("hello", tb.out.String())
	assert.Equal(uint32(0), tb.pending())
	assert.Equal(1, tb.bufferReads())
	assert.Equal(0, tb.timers.added)
	assert.Equal(Idle, tb.d.State())
	assert.False(tb.d.Paused())
}

func TestDrainer_PollBacklog(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")
	tb.refillOnAck("abc")

	assert.Equal(loop.Pause, tb.d.Poll(tb.ds))
	assert.Equal("hello", tb.out.String())
	assert.Equal(1, tb.bufferReads())
	assert.Equal(1, tb.timers.added)
	assert.Equal(1, tb.timers.Pending())
	assert.Equal(DrainingViaTimer, tb.d.State())
	assert.True(tb.d.Paused())

	// Ticks while the timer owns the drainer leave the cable alone.
	accesses := len(tb.accesses)
	assert.Equal(loop.Pause, tb.d.Poll(tb.ds))
	assert.Equal(accesses, len(tb.accesses))
	assert.Equal(1, tb.timers.added)

	// The timer drains the refill, then finds nothing and finishes.
	assert.Equal(1, tb.timers.RunOnce())
	assert.Equal("helloabc", tb.out.String())
	assert.Equal(uint32(0), tb.pending())
	assert.True(tb.d.Paused())

	tb.clock = tb.clock.Add(time.Millisecond)
	assert.Equal(1, tb.timers.RunOnce())
	assert.Equal(Idle, tb.d.State())
	assert.False(tb.d.Paused())
	assert.Equal(0, tb.timers.Pending())

	assert.Equal(loop.Continue, tb.d.Poll(tb.ds))
}

func TestDrainer_TimerStep(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.d.SetPaused(true)

	assert.Equal(eventloop.TimerDone, tb.step())
	assert.Equal(0, tb.bufferReads())
	assert.False(tb.d.Paused())

	tb.d.SetPaused(true)
	tb.publish("abc")
	assert.Equal(time.Millisecond, tb.step())
	assert.Equal(1, tb.bufferReads())
	assert.Equal("abc", tb.out.String())
	assert.True(tb.d.Paused())

	tb.publish("de")
	assert.Equal(time.Millisecond, tb.step())
	assert.Equal(2, tb.bufferReads())
	assert.Equal("abcde", tb.out.String())

	assert.Equal(eventloop.TimerDone, tb.step())
	assert.Equal(2, tb.bufferReads())
	assert.Equal(Idle, tb.d.State())
}

func TestDrainer_PollCableError(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")
	tb.link.Broken = true

	assert.Equal(loop.StopAll, tb.d.Poll(tb.ds))
	assert.Equal(0, tb.bufferReads())
	assert.Equal(1, tb.errorLines())
	assert.Equal(1, strings.Count(tb.logs.String(), "\n"))
	assert.Equal("", tb.out.String())
}

func TestDrainer_PollCableErrorRequery(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")
	// Pending read, buffer read, acknowledge; the re-query fails.
	tb.link.FailAfter = 3

	assert.Equal(loop.StopAll, tb.d.Poll(tb.ds))
	assert.Equal("hello", tb.out.String(), "flushed output is kept")
	assert.Equal(1, tb.errorLines())
	assert.Equal(0, tb.timers.added)
}

func TestDrainer_TimerCableError(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")
	tb.refillOnAck("abc")

	assert.Equal(loop.Pause, tb.d.Poll(tb.ds))

	tb.link.Broken = true
	assert.Equal(1, tb.timers.RunOnce())
	assert.Equal(0, tb.timers.Pending(), "the timer ends")
	assert.Equal(Faulted, tb.d.State())
	assert.False(tb.d.Paused())
	assert.Equal(0, tb.errorLines(), "no stop-all from the timer")

	// The next tick escalates, without touching the cable again.
	failures := tb.link.Failures
	assert.Equal(loop.StopAll, tb.d.Poll(tb.ds))
	assert.Equal(1, tb.errorLines())
	assert.Equal(failures, tb.link.Failures)
}

func TestDrainer_Destroy(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	tb.publish("hello")
	tb.refillOnAck("abc")

	assert.Equal(loop.Pause, tb.d.Poll(tb.ds))
	assert.Equal(1, tb.timers.Pending())

	tb.d.Destroy()
	assert.Equal(0, tb.timers.Pending())
	assert.Equal(Idle, tb.d.State())
	assert.False(tb.d.Paused())
	assert.NotPanics(tb.d.Destroy)
}

func TestDrainer_RemoveReadd(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	ptr := cable.NewMemory(0, 4)
	assert.NoError(cable.WriteWord(ptr, 0, testStructAddr))
	link := &splitCable{low: ptr, high: tb.link}
	tb.d.cable = link

	m := loop.NewManager(tb.timers.Loop, link, 0, loop.WithPeriods(time.Millisecond, time.Second))

	tb.publish("hello")
	tb.refillOnAck("abc")
	assert.NoError(m.Add(tb.d))
	m.Start(true)

	tick := func(n int) {
		for range n {
			tb.clock = tb.clock.Add(time.Millisecond)
			tb.timers.RunOnce()
		}
	}

	// The backlog hands the drainer to its timer.
	tick(1)
	assert.Equal("hello", tb.out.String())
	assert.Equal(DrainingViaTimer, tb.d.State())

	m.Remove(tb.d)
	assert.Equal(0, m.Len())
	assert.Equal(Idle, tb.d.State())
	assert.False(tb.d.Paused())

	assert.NoError(m.Add(tb.d))
	tick(3)
	assert.Equal("helloabc", tb.out.String())

	tb.publish("xyz")
	tick(3)
	assert.Equal("helloabcxyz", tb.out.String())
	assert.Equal(uint32(0), tb.pending())
	assert.Equal(Idle, tb.d.State())
	assert.False(m.Stopped())
}

func TestState_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("idle", Idle.String())
	assert.Equal("draining-via-timer", DrainingViaTimer.String())
	assert.Equal("faulted", Faulted.String())
	assert.Equal("State(7)", State(7).String())
}

func TestDrainer_Manager(t *testing.T) {
	assert := assert.New(t)

	tb := newTestBench()
	ptr := cable.NewMemory(0, 4)
	assert.NoError(cable.WriteWord(ptr, 0, testStructAddr))

	// One cable for the pointer and the struct.
	link := &splitCable{low: ptr, high: tb.link}
	tb.d.cable = link

	m := loop.NewManager(tb.timers.Loop, link, 0, loop.WithPeriods(time.Millisecond, time.Second))
	m.Add(tb.d)
	m.Start(true)

	tb.publish("hello")
	tb.refillOnAck("abc")

	for range 5 {
		tb.clock = tb.clock.Add(time.Millisecond)
		tb.timers.RunOnce()
	}

	assert.Equal("helloabc", tb.out.String())
	assert.False(m.Stopped())
	assert.Equal(Idle, tb.d.State())

	tb.link.Broken = true
	for range 3 {
		tb.clock = tb.clock.Add(time.Millisecond)
		tb.timers.RunOnce()
	}
	assert.True(m.Stopped())
	assert.Equal(0, m.Len())
	assert.Equal(1, tb.errorLines())
}

// splitCable routes low addresses to one cable and the rest to another.
type splitCable struct {
	low, high cable.Cable
}

func (sc *splitCable) Access(write bool, addr uint32, buf []byte) error {
	if addr < testStructAddr {
		return sc.low.Access(write, addr, buf)
	}
	return sc.high.Access(write, addr, buf)
}
