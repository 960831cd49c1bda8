package logger

import (
	"github.com/ezrec/dbgbridge/translate"
)

var f = translate.From

// ErrLevelUnknown is returned by ParseLevel for an unrecognised level name.
type ErrLevelUnknown string

func (err ErrLevelUnknown) Error() string {
	return f("unknown log level '%v'", string(err))
}
