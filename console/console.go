// Package console is the host side sink for target output.
package console

import (
	"bufio"
	"io"
	"os"
)

// Console accepts target output and makes it visible on Flush.
type Console interface {
	io.Writer
	Flush() error
}

// Stream is a buffered Console over an io.Writer.
type Stream struct {
	Output io.Writer

	buf     *bufio.Writer
	written int
	flushes int
}

var _ Console = (*Stream)(nil)

// NewStream returns a Console writing to w.
func NewStream(w io.Writer) *Stream {
	return &Stream{
		Output: w,
		buf:    bufio.NewWriter(w),
	}
}

// Stdout returns a Console on the process's standard output.
func Stdout() *Stream {
	return NewStream(os.Stdout)
}

// Write buffers p until the next Flush.
func (cs *Stream) Write(p []byte) (n int, err error) {
	n, err = cs.buf.Write(p)
	cs.written += n
	return
}

// Flush pushes buffered output to the underlying writer.
func (cs *Stream) Flush() (err error) {
	cs.flushes++
	err = cs.buf.Flush()
	return
}

// Written returns the number of bytes accepted by Write.
func (cs *Stream) Written() int {
	return cs.written
}

// Flushes returns the number of calls to Flush.
func (cs *Stream) Flushes() int {
	return cs.flushes
}

// CString returns buf up to, not including, its first NUL byte.
func CString(buf []byte) []byte {
	for n, c := range buf {
		if c == 0 {
			return buf[:n]
		}
	}
	return buf
}
