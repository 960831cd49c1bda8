package emulator

import (
	"errors"

	"github.com/ezrec/dbgbridge/translate"
)

var f = translate.From

var (
	ErrNotLoaded   = errors.New(f("no program loaded"))
	ErrPrintfArgs  = errors.New(f("printf: want format string and values"))
	ErrPathTooLong = errors.New(f("path too long for a host request"))
	errExit        = errors.New(f("exit"))
)

// ErrRuntime indicates the tick at which the target failed.
type ErrRuntime struct {
	Tick int
	Err  error
}

func (err *ErrRuntime) Error() string {
	return f("tick %d %v", err.Tick, err.Err)
}

func (err *ErrRuntime) Unwrap() error {
	return err.Err
}

// ErrProgram is a failure running the target's Starlark program.
type ErrProgram struct {
	Name string
	Err  error
}

func (err *ErrProgram) Error() string {
	return f("%v: %v", err.Name, err.Err)
}

func (err *ErrProgram) Unwrap() error {
	return err.Err
}
