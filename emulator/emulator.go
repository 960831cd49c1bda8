// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package emulator is a simulated target core. It runs a Starlark program
// as the target's application and publishes the program's output through a
// debug struct, the way the target runtime does on a board.
package emulator

import (
	"io"
	"maps"
	"os"

	"github.com/eapache/queue"

	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/hal"
	"github.com/ezrec/dbgbridge/internal/logger"
)

const (
	MEMORY_BASE = 0x1c000000 // Start of the simulated L2 memory.
	MEMORY_SIZE = 0x1000

	DEBUG_STRUCT_PTR  = MEMORY_BASE         // Location of __rt_debug_struct_ptr.
	DEBUG_STRUCT_ADDR = MEMORY_BASE + 0x100 // Location of the debug struct.
)

var _emulator_symbols = map[string]uint32{
	"__rt_debug_struct_ptr": DEBUG_STRUCT_PTR,
	"debug_struct":          DEBUG_STRUCT_ADDR,
}

// Emulator state. Memory, debug struct and the queue of pending output.
type Emulator struct {
	Verbose     bool             // If set, enables verbose logging.
	Memory      *cable.Memory    // Target memory, the cable the host uses.
	DebugStruct *hal.DebugStruct // The debug struct inside Memory.
	BootTicks   int              // Ticks before the debug struct is published.
	Internal    io.Writer        // Output while no host forwards it.

	log *logger.Log

	output *queue.Queue // Chunks of at most PutcBufferSize bytes, and requests.
	line   []byte       // Output not yet queued.

	file    uint32 // Handle returned by the last open request.
	results []int32

	ticks      int
	booted     bool
	loaded     bool
	exited     bool
	exitStatus uint32
}

// NewEmulator creates a new emulator.
func NewEmulator() (emu *Emulator) {
	emu = &Emulator{
		Memory:      cable.NewMemory(MEMORY_BASE, MEMORY_SIZE),
		DebugStruct: hal.NewDebugStruct(DEBUG_STRUCT_ADDR),
		Internal:    os.Stdout,
		log:         logger.New("EMU"),
		output:      queue.New(),
	}

	return
}

// Symbols returns the addresses of the target's symbols.
func (emu *Emulator) Symbols() map[string]uint32 {
	return maps.Clone(_emulator_symbols)
}

// Close the emulator
func (emu *Emulator) Close() (err error) {
	emu.output = queue.New()
	emu.line = nil
	return
}

// Reset the target: clear memory and restart the boot countdown. Output
// queued by Load is kept.
func (emu *Emulator) Reset() {
	clear(emu.Memory.Data)
	emu.ticks = 0
	emu.booted = false
	emu.file = 0
}

// Ticks returns the total ticks since a reset.
func (emu *Emulator) Ticks() int {
	return emu.ticks
}

// TargetAvailable reports whether the target has booted its runtime.
func (emu *Emulator) TargetAvailable() bool {
	return emu.booted
}

// ExitStatus returns the status given to exit(), if the program called it.
func (emu *Emulator) ExitStatus() (status uint32, ok bool) {
	return emu.exitStatus, emu.exited
}

// Queued returns the number of output chunks not yet published, and
// requests not yet answered.
func (emu *Emulator) Queued() int {
	return emu.output.Length()
}

func (emu *Emulator) putString(s string) {
	size := int(emu.DebugStruct.PutcBufferSize)
	for _, c := range []byte(s) {
		emu.line = append(emu.line, c)
		if c == '\n' || len(emu.line) == size {
			emu.flushLine()
		}
	}
}

func (emu *Emulator) flushLine() {
	if len(emu.line) == 0 {
		return
	}
	emu.output.Add(emu.line)
	emu.line = nil
}

func (emu *Emulator) boot() (err error) {
	ds := emu.DebugStruct

	// The runtime prints on its own until a host says otherwise.
	err = cable.WriteWord(emu.Memory, ds.UseInternalPrintfAddr(), 1)
	if err != nil {
		return
	}
	err = cable.WriteWord(emu.Memory, ds.TargetAvailableAddr(), 1)
	if err != nil {
		return
	}
	err = cable.WriteWord(emu.Memory, ds.NotifReqAddrAddr(), NOTIFY_ADDR)
	if err != nil {
		return
	}
	err = cable.WriteWord(emu.Memory, ds.NotifReqValueAddr(), 1)
	if err != nil {
		return
	}
	err = cable.WriteWord(emu.Memory, DEBUG_STRUCT_PTR, ds.Addr)
	if err != nil {
		return
	}

	emu.booted = true
	emu.log.Debug("booted, debug struct at 0x%08x", ds.Addr)
	return
}

// publish moves the next chunk of output to the debug struct, or to the
// internal console while the host has not registered. A request at the head
// of the queue is served instead.
func (emu *Emulator) publish() (err error) {
	ds := emu.DebugStruct

	if req, ok := emu.output.Peek().(*request); ok {
		err = emu.serve(req)
		return
	}

	internal, err := cable.ReadWord(emu.Memory, ds.UseInternalPrintfAddr())
	if err != nil {
		return
	}

	if internal != 0 {
		chunk := emu.output.Remove().([]byte)
		_, err = emu.Internal.Write(chunk)
		return
	}

	pending, err := cable.ReadWord(emu.Memory, ds.PendingPutcharAddr())
	if err != nil || pending != 0 {
		return
	}

	chunk := emu.output.Remove().([]byte)
	err = emu.Memory.Access(true, ds.PutcBufferAddr(), chunk)
	if err != nil {
		return
	}
	err = cable.WriteWord(emu.Memory, ds.PendingPutcharAddr(), uint32(len(chunk)))
	if emu.Verbose {
		emu.log.Info("published %v bytes", len(chunk))
	}

	return
}

// Tick performs a single tick of the target. done is set once every byte
// of output has been consumed by the host.
func (emu *Emulator) Tick() (done bool, err error) {
	if !emu.loaded {
		err = ErrNotLoaded
		return
	}

	emu.ticks++
	defer func() {
		if err != nil {
			err = &ErrRuntime{Tick: emu.ticks, Err: err}
		}
	}()

	if !emu.booted {
		if emu.ticks <= emu.BootTicks {
			return
		}
		err = emu.boot()
		return
	}

	if emu.output.Length() > 0 {
		err = emu.publish()
		return
	}

	pending, err := cable.ReadWord(emu.Memory, emu.DebugStruct.PendingPutcharAddr())
	if err != nil || pending != 0 {
		return
	}

	err = cable.WriteWord(emu.Memory, emu.DebugStruct.ExitStatusAddr(), emu.exitStatus)
	done = true
	return
}
