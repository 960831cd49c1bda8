package reqloop

import (
	"errors"

	"github.com/ezrec/dbgbridge/hal"
	"github.com/ezrec/dbgbridge/translate"
)

var f = translate.From

var (
	ErrNoRoot      = errors.New(f("no host directory for file requests"))
	ErrBadFile     = errors.New(f("unknown file handle"))
	ErrNameTooLong = errors.New(f("file name too long"))
	ErrUnsupported = errors.New(f("request not supported"))
)

// ErrRequest is a request the host answered with an error.
type ErrRequest struct {
	Type hal.ReqType
	Err  error
}

func (err *ErrRequest) Error() string {
	return f("%v request: %v", err.Type, err.Err)
}

func (err *ErrRequest) Unwrap() error {
	return err.Err
}
