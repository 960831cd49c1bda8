package hal

import (
	"encoding/binary"
)

// ReqType is the kind of a host request.
type ReqType uint32

//go:generate go tool stringer -linecomment -type=ReqType
const (
	REQ_CONNECT    ReqType = iota // connect
	REQ_DISCONNECT                // disconnect
	REQ_OPEN                      // open
	REQ_READ                      // read
	REQ_WRITE                     // write
	REQ_CLOSE                     // close
	REQ_FB_OPEN                   // fb-open
	REQ_FB_UPDATE                 // fb-update
)

// Offsets of the fields of a request in target memory.
const (
	REQ_NEXT   = 0
	REQ_TYPE   = 4
	REQ_DONE   = 8
	REQ_POPPED = 12
	REQ_ARGS   = 16
	REQ_RETVAL = 32

	REQUEST_SIZE = 36
)

// Open flags, as the target's C library defines them.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_APPEND = 0x8
	O_CREAT  = 0x200
	O_TRUNC  = 0x400
	O_EXCL   = 0x800
)

// RETVAL_ERROR is -1 as a target int.
const RETVAL_ERROR = ^uint32(0)

// Request is a request a target queues for the host.
//
// The arguments depend on Type:
//
//	open:   name length, name address, flags, mode
//	read:   file, buffer address, length
//	write:  file, buffer address, length
//	close:  file
type Request struct {
	Next   uint32 // Address of the next request, 0 if last.
	Type   ReqType
	Done   uint32 // Set by the host once the request is answered.
	Popped uint32 // Set by the host once it dequeued the request.
	Args   [4]uint32
	Retval uint32
}

// Encode the request in target byte order.
func (req *Request) Encode() (buf [REQUEST_SIZE]byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[REQ_NEXT:], req.Next)
	le.PutUint32(buf[REQ_TYPE:], uint32(req.Type))
	le.PutUint32(buf[REQ_DONE:], req.Done)
	le.PutUint32(buf[REQ_POPPED:], req.Popped)
	for n, arg := range req.Args {
		le.PutUint32(buf[REQ_ARGS+4*n:], arg)
	}
	le.PutUint32(buf[REQ_RETVAL:], req.Retval)
	return
}

// DecodeRequest reads a request from its encoding. buf must hold at least
// REQUEST_SIZE bytes.
func DecodeRequest(buf []byte) (req Request) {
	le := binary.LittleEndian
	req.Next = le.Uint32(buf[REQ_NEXT:])
	req.Type = ReqType(le.Uint32(buf[REQ_TYPE:]))
	req.Done = le.Uint32(buf[REQ_DONE:])
	req.Popped = le.Uint32(buf[REQ_POPPED:])
	for n := range req.Args {
		req.Args[n] = le.Uint32(buf[REQ_ARGS+4*n:])
	}
	req.Retval = le.Uint32(buf[REQ_RETVAL:])
	return
}
