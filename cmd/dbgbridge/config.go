package main

import (
	"errors"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/emulator"
	"github.com/ezrec/dbgbridge/loop"
	"github.com/ezrec/dbgbridge/translate"
)

var f = translate.From

// Config of a bridge session.
type Config struct {
	DebugStructPtr uint32        // Address holding the debug struct pointer.
	PrintingPause  time.Duration // Interval between timer driven drains.
	FastPeriod     time.Duration // Manager tick period.
	SlowPeriod     time.Duration
	SerialPort     string // Board UART; empty runs the emulator.
	Baud           int
	Program        string // Emulator program.
	BootTicks      int
	TickPeriod     time.Duration // Emulator tick period.
	FaultAfter     int           // Break the cable after this many transfers.
	LogLevel       string
	HostDir        string        // Directory the target's file requests see; empty refuses them.
	RequestPause   time.Duration // Interval between timer driven requests.
}

// DefaultConfig runs the emulator with the loop manager's default periods.
func DefaultConfig() Config {
	return Config{
		DebugStructPtr: emulator.DEBUG_STRUCT_PTR,
		FastPeriod:     loop.DEFAULT_FAST_PERIOD,
		SlowPeriod:     loop.DEFAULT_SLOW_PERIOD,
		Baud:           cable.SERIAL_DEFAULT_BAUD,
		TickPeriod:     time.Millisecond,
		LogLevel:       "warning",
		HostDir:        ".",
	}
}

var ErrConfigType = errors.New(f("wrong type"))

// ErrConfig is a bad value in a configuration file.
type ErrConfig struct {
	Key string
	Err error
}

func (err *ErrConfig) Error() string {
	return f("config %v: %v", err.Key, err.Err)
}

func (err *ErrConfig) Unwrap() error {
	return err.Err
}

func configInt(globals starlark.StringDict, key string, apply func(value int64)) (err error) {
	value, ok := globals[key]
	if !ok {
		return
	}
	st_int, ok := value.(starlark.Int)
	if !ok {
		err = &ErrConfig{Key: key, Err: ErrConfigType}
		return
	}
	st_int64, ok := st_int.Int64()
	if !ok {
		err = &ErrConfig{Key: key, Err: ErrConfigType}
		return
	}
	apply(st_int64)
	return
}

func configString(globals starlark.StringDict, key string, apply func(value string)) (err error) {
	value, ok := globals[key]
	if !ok {
		return
	}
	str, ok := starlark.AsString(value)
	if !ok {
		err = &ErrConfig{Key: key, Err: ErrConfigType}
		return
	}
	apply(str)
	return
}

func usecs(value int64) time.Duration {
	return time.Duration(value) * time.Microsecond
}

// Load evaluates a Starlark configuration file; its globals override cfg.
func (cfg *Config) Load(name string, src any) (err error) {
	thread := &starlark.Thread{Name: name}
	opts := syntax.FileOptions{TopLevelControl: true, While: true, GlobalReassign: true}
	globals, err := starlark.ExecFileOptions(&opts, thread, name, src, nil)
	if err != nil {
		return
	}

	for _, step := range []error{
		configInt(globals, "debug_struct_ptr", func(v int64) { cfg.DebugStructPtr = uint32(v) }),
		configInt(globals, "printing_pause_us", func(v int64) { cfg.PrintingPause = usecs(v) }),
		configInt(globals, "fast_loop_us", func(v int64) { cfg.FastPeriod = usecs(v) }),
		configInt(globals, "slow_loop_us", func(v int64) { cfg.SlowPeriod = usecs(v) }),
		configInt(globals, "baud", func(v int64) { cfg.Baud = int(v) }),
		configInt(globals, "boot_ticks", func(v int64) { cfg.BootTicks = int(v) }),
		configInt(globals, "tick_us", func(v int64) { cfg.TickPeriod = usecs(v) }),
		configInt(globals, "request_pause_us", func(v int64) { cfg.RequestPause = usecs(v) }),
		configString(globals, "serial_port", func(v string) { cfg.SerialPort = v }),
		configString(globals, "program", func(v string) { cfg.Program = v }),
		configString(globals, "log_level", func(v string) { cfg.LogLevel = v }),
		configString(globals, "host_dir", func(v string) { cfg.HostDir = v }),
	} {
		if step != nil {
			err = step
			return
		}
	}

	return
}
