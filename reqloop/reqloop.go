// Package reqloop serves the requests a target queues for the host: file
// access on the host's disk, and the connect and disconnect handshake.
//
// The target links requests from FirstBridgeReq in its debug struct. The
// server pops the oldest one (marking it popped and advancing the list
// head), performs it, writes the result, sets its done flag, and writes
// NotifReqValue to NotifReqAddr to wake the target.
//
// Like the output drainer, the server handles at most one request on a
// manager tick and hands a backlog to a timer, staying paused until the
// timer finds the queue empty.
package reqloop

import (
	"os"
	"time"

	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/eventloop"
	"github.com/ezrec/dbgbridge/hal"
	"github.com/ezrec/dbgbridge/internal/logger"
	"github.com/ezrec/dbgbridge/loop"
)

// State of a server between invocations.
type State int

//go:generate go tool stringer -linecomment -type=State
const (
	// Serviced by manager ticks.
	Idle State = iota // idle
	// A timer owns the server; ticks skip it.
	ServingViaTimer // serving-via-timer
	// The timer path hit a cable error.
	Faulted // faulted
)

// Timers registers repeating timer callbacks.
type Timers interface {
	AddTimer(delay time.Duration, fn eventloop.TimerFunc) *eventloop.Timer
}

// Server answers target requests. It implements loop.Looper.
type Server struct {
	cable  cable.Cable
	timers Timers
	pause  time.Duration
	root   *os.Root
	log    *logger.Log

	state        State
	timer        *eventloop.Timer
	disconnected bool

	files    map[uint32]*os.File
	nextFile uint32

	handled int
}

var _ loop.Looper = (*Server)(nil)
var _ loop.Destroyer = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithPause sets the interval between timer driven requests.
func WithPause(pause time.Duration) Option {
	return func(sv *Server) {
		sv.pause = max(pause, 0)
	}
}

// WithRoot confines file requests to root. Without it, file requests fail.
func WithRoot(root *os.Root) Option {
	return func(sv *Server) {
		sv.root = root
	}
}

// WithLogger replaces the server's log.
func WithLogger(log *logger.Log) Option {
	return func(sv *Server) {
		sv.log = log
	}
}

// FIRST_FILE is the first handle given to a file the target opens; lower
// values are the target's standard streams.
const FIRST_FILE = 3

// New returns an idle server accessing the target through c.
func New(c cable.Cable, timers Timers, opts ...Option) (sv *Server) {
	sv = &Server{
		cable:    c,
		timers:   timers,
		log:      logger.New("REQLOOP"),
		files:    make(map[uint32]*os.File),
		nextFile: FIRST_FILE,
	}

	for _, opt := range opts {
		opt(sv)
	}

	return
}

// State returns the server's current state.
func (sv *Server) State() State {
	return sv.state
}

// Handled returns the number of requests answered.
func (sv *Server) Handled() int {
	return sv.handled
}

// Files returns the number of files the target has open.
func (sv *Server) Files() int {
	return len(sv.files)
}

// Paused implements loop.Looper.
func (sv *Server) Paused() bool {
	return sv.state == ServingViaTimer
}

// SetPaused implements loop.Looper.
func (sv *Server) SetPaused(paused bool) {
	switch {
	case paused && sv.state == Idle:
		sv.state = ServingViaTimer
	case !paused && sv.state == ServingViaTimer:
		sv.state = Idle
	}
}

// Destroy disarms a pending request timer, closes the target's files and
// returns the server to Idle.
func (sv *Server) Destroy() {
	if sv.timer != nil {
		sv.timer.SetTimeout(eventloop.TimerDone)
		sv.timer = nil
	}
	sv.closeAll()
	sv.state = Idle
	sv.disconnected = false
}

func (sv *Server) closeAll() {
	for handle, file := range sv.files {
		err := file.Close()
		if err != nil {
			sv.log.Warning("close %v: %v", file.Name(), err)
		}
		delete(sv.files, handle)
	}
}

func (sv *Server) cableError() loop.Status {
	sv.log.Error("Request loop cable error: exiting")
	return loop.StopAll
}

// Register tells the target a host is serving its requests.
func (sv *Server) Register(ds *hal.DebugStruct) loop.Status {
	err := cable.WriteWord(sv.cable, ds.BridgeConnectedAddr(), 1)
	if err != nil {
		return sv.cableError()
	}
	sv.disconnected = false
	return loop.Continue
}

// Waiting reports whether the target has a request queued.
func (sv *Server) Waiting(ds *hal.DebugStruct) (waiting bool, err error) {
	first, err := cable.ReadWord(sv.cable, ds.FirstBridgeReqAddr())
	waiting = first != 0
	return
}

// Pop dequeues the target's oldest request. addr is 0 when the queue is
// empty.
func (sv *Server) Pop(ds *hal.DebugStruct) (req hal.Request, addr uint32, err error) {
	addr, err = cable.ReadWord(sv.cable, ds.FirstBridgeReqAddr())
	if err != nil || addr == 0 {
		return
	}

	var buf [hal.REQUEST_SIZE]byte
	err = sv.cable.Access(false, addr, buf[:])
	if err != nil {
		return
	}
	req = hal.DecodeRequest(buf[:])

	err = cable.WriteWord(sv.cable, addr+hal.REQ_POPPED, 1)
	if err != nil {
		return
	}
	err = cable.WriteWord(sv.cable, ds.FirstBridgeReqAddr(), req.Next)
	return
}

// reply stores the result of the request at addr, marks it done and
// notifies the target.
func (sv *Server) reply(ds *hal.DebugStruct, addr uint32, retval uint32) (err error) {
	err = cable.WriteWord(sv.cable, addr+hal.REQ_RETVAL, retval)
	if err != nil {
		return
	}
	err = cable.WriteWord(sv.cable, addr+hal.REQ_DONE, 1)
	if err != nil {
		return
	}
	sv.handled++

	notifyAddr, err := cable.ReadWord(sv.cable, ds.NotifReqAddrAddr())
	if err != nil || notifyAddr == 0 {
		return
	}
	notifyValue, err := cable.ReadWord(sv.cable, ds.NotifReqValueAddr())
	if err != nil {
		return
	}
	err = cable.WriteWord(sv.cable, notifyAddr, notifyValue)
	return
}

// HandleOne answers the target's oldest request. handled is false when no
// request was queued; disconnect is set when the target said goodbye.
func (sv *Server) HandleOne(ds *hal.DebugStruct) (handled bool, disconnect bool, err error) {
	req, addr, err := sv.Pop(ds)
	if err != nil || addr == 0 {
		return
	}
	handled = true

	sv.log.Debug("request %v at 0x%08x", req.Type, addr)

	var retval uint32
	switch req.Type {
	case hal.REQ_CONNECT:
	case hal.REQ_DISCONNECT:
		disconnect = true
	case hal.REQ_OPEN:
		retval, err = sv.open(req)
	case hal.REQ_READ:
		retval, err = sv.read(req)
	case hal.REQ_WRITE:
		retval, err = sv.write(req)
	case hal.REQ_CLOSE:
		retval = sv.close(req)
	case hal.REQ_FB_OPEN, hal.REQ_FB_UPDATE:
		sv.log.Error("%v", &ErrRequest{Type: req.Type, Err: ErrUnsupported})
		retval = hal.RETVAL_ERROR
	default:
		sv.log.Error("Received unknown request from target (type: %d)", uint32(req.Type))
		retval = hal.RETVAL_ERROR
	}
	if err != nil {
		return
	}

	err = sv.reply(ds, addr, retval)
	return
}

// Poll is the manager tick: answer at most one request, and hand a backlog
// to a timer.
func (sv *Server) Poll(ds *hal.DebugStruct) loop.Status {
	switch {
	case sv.state == ServingViaTimer:
		return loop.Pause
	case sv.state == Faulted:
		return sv.cableError()
	case sv.disconnected:
		return loop.Stop
	}

	handled, disconnect, err := sv.HandleOne(ds)
	if err != nil {
		return sv.cableError()
	}
	if disconnect {
		sv.log.Info("target disconnected")
		return loop.Stop
	}
	if !handled {
		return loop.Continue
	}

	waiting, err := sv.Waiting(ds)
	if err != nil {
		return sv.cableError()
	}
	if !waiting {
		return loop.Continue
	}

	sv.state = ServingViaTimer
	step := &requestStep{server: sv, ds: ds}
	sv.timer = sv.timers.AddTimer(0, step.Fire)

	return loop.Pause
}

// requestStep is the timer side of a server, bound to one debug struct.
type requestStep struct {
	server *Server
	ds     *hal.DebugStruct
}

// Fire answers one request per call until the target's queue is empty.
func (step *requestStep) Fire() time.Duration {
	sv := step.server

	handled, disconnect, err := sv.HandleOne(step.ds)
	if err == nil && handled && !disconnect {
		return sv.pause
	}

	sv.timer = nil
	sv.state = Idle
	switch {
	case err != nil:
		// The timer cannot stop the manager; the next tick reports it.
		sv.log.Debug("%v", err)
		sv.state = Faulted
	case disconnect:
		// The next tick removes the server.
		sv.log.Info("target disconnected")
		sv.disconnected = true
	}

	return eventloop.TimerDone
}
