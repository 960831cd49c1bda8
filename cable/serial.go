package cable

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Serial link framing.
//
// Request:  op(1) addr(4, LE) len(4, LE) [data(len) for writes]
// Response: status(1) [data(len) for successful reads]
const (
	SERIAL_OP_READ  = byte('R')
	SERIAL_OP_WRITE = byte('W')

	SERIAL_STATUS_OK    = byte(0)
	SERIAL_STATUS_FAULT = byte(1)

	SERIAL_HEADER_SIZE = 9

	// SERIAL_DEFAULT_MAX_TRANSFER bounds the length of one request.
	SERIAL_DEFAULT_MAX_TRANSFER = 4096
	SERIAL_DEFAULT_BAUD         = 115200
)

// Serial is a cable to a board-side agent speaking the serial link framing.
type Serial struct {
	Port        io.ReadWriter
	MaxTransfer int
}

var _ Cable = (*Serial)(nil)

// OpenSerial opens a UART and returns a cable over it.
func OpenSerial(name string, baud int, timeout time.Duration) (sc *Serial, err error) {
	if baud == 0 {
		baud = SERIAL_DEFAULT_BAUD
	}

	config := &serial.Config{Name: name, Baud: baud, ReadTimeout: timeout}
	port, err := serial.OpenPort(config)
	if err != nil {
		return
	}

	sc = &Serial{Port: port}
	return
}

// Close the underlying port, if it can be closed.
func (sc *Serial) Close() (err error) {
	if closer, ok := sc.Port.(io.Closer); ok {
		err = closer.Close()
	}
	return
}

func (sc *Serial) maxTransfer() int {
	if sc.MaxTransfer <= 0 {
		return SERIAL_DEFAULT_MAX_TRANSFER
	}
	return sc.MaxTransfer
}

func encodeHeader(op byte, addr uint32, size int) (header [SERIAL_HEADER_SIZE]byte) {
	header[0] = op
	binary.LittleEndian.PutUint32(header[1:5], addr)
	binary.LittleEndian.PutUint32(header[5:9], uint32(size))
	return
}

// Access implements Cable. Transfers longer than MaxTransfer are split.
func (sc *Serial) Access(write bool, addr uint32, buf []byte) (err error) {
	limit := sc.maxTransfer()
	for len(buf) > 0 {
		chunk := min(len(buf), limit)
		err = sc.transfer(write, addr, buf[:chunk])
		if err != nil {
			err = accessError(write, addr, chunk, err)
			return
		}
		buf = buf[chunk:]
		addr += uint32(chunk)
	}
	return
}

func (sc *Serial) transfer(write bool, addr uint32, buf []byte) (err error) {
	op := SERIAL_OP_READ
	if write {
		op = SERIAL_OP_WRITE
	}

	header := encodeHeader(op, addr, len(buf))
	_, err = sc.Port.Write(header[:])
	if err != nil {
		return
	}

	if write {
		_, err = sc.Port.Write(buf)
		if err != nil {
			return
		}
	}

	var status [1]byte
	_, err = io.ReadFull(sc.Port, status[:])
	if err != nil {
		return
	}

	switch status[0] {
	case SERIAL_STATUS_OK:
	case SERIAL_STATUS_FAULT:
		err = ErrOutOfRange
		return
	default:
		err = ErrBadResponse
		return
	}

	if !write {
		_, err = io.ReadFull(sc.Port, buf)
	}

	return
}

// Serve answers serial link requests from rw using target, until rw reports
// an error. io.EOF ends the session cleanly.
func Serve(rw io.ReadWriter, target Cable, maxTransfer int) (err error) {
	if maxTransfer <= 0 {
		maxTransfer = SERIAL_DEFAULT_MAX_TRANSFER
	}

	buf := make([]byte, maxTransfer)
	for {
		var header [SERIAL_HEADER_SIZE]byte
		_, err = io.ReadFull(rw, header[:])
		if errors.Is(err, io.EOF) {
			err = nil
			return
		}
		if err != nil {
			return
		}

		op := header[0]
		addr := binary.LittleEndian.Uint32(header[1:5])
		size := int(binary.LittleEndian.Uint32(header[5:9]))
		switch {
		case op != SERIAL_OP_READ && op != SERIAL_OP_WRITE:
			err = ErrBadRequest
		case size > maxTransfer:
			err = ErrTooLarge
		}
		if err != nil {
			// The framing is lost; report and drop the session.
			_, _ = rw.Write([]byte{SERIAL_STATUS_FAULT})
			return
		}

		data := buf[:size]
		write := op == SERIAL_OP_WRITE
		if write {
			_, err = io.ReadFull(rw, data)
			if err != nil {
				return
			}
		}

		status := SERIAL_STATUS_OK
		if target.Access(write, addr, data) != nil {
			status = SERIAL_STATUS_FAULT
		}

		_, err = rw.Write([]byte{status})
		if err != nil {
			return
		}

		if !write && status == SERIAL_STATUS_OK {
			_, err = rw.Write(data)
			if err != nil {
				return
			}
		}
	}
}
