package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/console"
	"github.com/ezrec/dbgbridge/emulator"
	"github.com/ezrec/dbgbridge/eventloop"
	"github.com/ezrec/dbgbridge/internal/logger"
	"github.com/ezrec/dbgbridge/ioloop"
	"github.com/ezrec/dbgbridge/loop"
	"github.com/ezrec/dbgbridge/reqloop"
)

var (
	ErrNoTarget     = errors.New(f("no serial port and no emulator program"))
	ErrBridgeFailed = errors.New(f("bridge stopped on a cable error"))
)

// Bridge is one session between the host console and a target.
type Bridge struct {
	Config

	Output   io.Writer // Console for target output.
	Internal io.Writer // Emulated target's own output.
}

// NewBridge returns a bridge printing to the standard output.
func NewBridge(cfg Config) *Bridge {
	return &Bridge{
		Config:   cfg,
		Output:   os.Stdout,
		Internal: os.Stdout,
	}
}

// Run drains the target's output until the emulated program completes, the
// cable fails, or ctx is done. status is the emulated program's exit status.
func (br *Bridge) Run(ctx context.Context) (status uint32, err error) {
	level, err := logger.ParseLevel(br.LogLevel)
	if err != nil {
		return
	}
	logger.SetLevel(level)

	el := eventloop.New()

	var link cable.Cable
	var emu *emulator.Emulator
	switch {
	case br.SerialPort != "":
		var sc *cable.Serial
		sc, err = cable.OpenSerial(br.SerialPort, br.Baud, time.Second)
		if err != nil {
			return
		}
		defer sc.Close()
		link = sc
	case br.Program != "":
		emu, err = br.newEmulator()
		if err != nil {
			return
		}
		defer emu.Close()
		link = emu.Memory
	default:
		err = ErrNoTarget
		return
	}

	if br.FaultAfter > 0 {
		link = &cable.Faulty{Cable: link, FailAfter: br.FaultAfter}
	}

	m := loop.NewManager(el, link, br.DebugStructPtr, loop.WithPeriods(br.FastPeriod, br.SlowPeriod))

	opts := []ioloop.Option{
		ioloop.WithPause(br.PrintingPause),
		ioloop.WithConsole(console.NewStream(br.Output)),
	}
	if emu != nil {
		opts = append(opts, ioloop.WithReadiness(emu))
	} else {
		opts = append(opts, ioloop.WithReadiness(m))
	}
	err = m.Add(ioloop.New(link, el, opts...))
	if err != nil {
		err = errors.Join(ErrBridgeFailed, err)
		return
	}

	reqOpts := []reqloop.Option{reqloop.WithPause(br.RequestPause)}
	if br.HostDir != "" {
		var root *os.Root
		root, err = os.OpenRoot(br.HostDir)
		if err != nil {
			return
		}
		defer root.Close()
		reqOpts = append(reqOpts, reqloop.WithRoot(root))
	}
	err = m.Add(reqloop.New(link, el, reqOpts...))
	if err != nil {
		err = errors.Join(ErrBridgeFailed, err)
		return
	}

	m.Start(true)

	var done bool
	if emu != nil {
		el.AddTimer(0, func() time.Duration {
			if m.Stopped() {
				return eventloop.TimerDone
			}
			done, err = emu.Tick()
			if err != nil || done {
				m.Stop()
				return eventloop.TimerDone
			}
			return br.TickPeriod
		})
	}

	rerr := el.Run(ctx)
	switch {
	case err != nil:
	case errors.Is(rerr, context.Canceled):
	case rerr != nil:
		err = rerr
	case !done:
		err = ErrBridgeFailed
	case emu != nil:
		status, _ = emu.ExitStatus()
	}

	return
}

func (br *Bridge) newEmulator() (emu *emulator.Emulator, err error) {
	inf, err := os.Open(br.Program)
	if err != nil {
		return
	}
	defer inf.Close()

	emu = emulator.NewEmulator()
	emu.BootTicks = br.BootTicks
	emu.Internal = br.Internal
	emu.Verbose = br.LogLevel == "debug" || br.LogLevel == "detail"

	err = emu.Load(br.Program, inf)
	return
}
