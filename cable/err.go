package cable

import (
	"errors"

	"github.com/ezrec/dbgbridge/translate"
)

var f = translate.From

var (
	// ErrCable is the connectivity fault: the cable could not complete a transfer.
	ErrCable = errors.New(f("cable error"))

	ErrOutOfRange  = errors.New(f("address out of range"))
	ErrInjected    = errors.New(f("injected fault"))
	ErrBadResponse = errors.New(f("bad response"))
	ErrBadRequest  = errors.New(f("bad request"))
	ErrTooLarge    = errors.New(f("transfer too large"))
)

// ErrAccess describes a failed transfer.
type ErrAccess struct {
	Write bool
	Addr  uint32
	Len   int
	Err   error
}

func (err *ErrAccess) Error() string {
	op := f("read")
	if err.Write {
		op = f("write")
	}
	return f("%v %v bytes at 0x%08x: %v", op, err.Len, err.Addr, err.Err)
}

func (err *ErrAccess) Unwrap() []error {
	return []error{ErrCable, err.Err}
}

func accessError(write bool, addr uint32, size int, cause error) error {
	return &ErrAccess{Write: write, Addr: addr, Len: size, Err: cause}
}
