package emulator

import (
	"github.com/ezrec/dbgbridge/cable"
	"github.com/ezrec/dbgbridge/hal"
)

const (
	NOTIFY_ADDR       = MEMORY_BASE + 0x1f0 // Word the host writes when a request is done.
	REQUEST_ADDR      = MEMORY_BASE + 0x200 // The one request slot.
	REQUEST_NAME_ADDR = MEMORY_BASE + 0x240
	REQUEST_NAME_SIZE = 0x1c0
	REQUEST_DATA_ADDR = MEMORY_BASE + 0x400
	REQUEST_DATA_SIZE = 0x400
)

// request is a host request queued by the program, in order with its output.
// File arguments are filled in when the request is posted, from the handle
// the last open returned.
type request struct {
	hal.Request

	name    []byte // Open: NUL terminated path.
	data    []byte // Write: bytes to send.
	console bool   // Read: into the putc buffer, printing what was read.
	posted  bool
}

// Results returns the host's answers to the program's requests, in order.
func (emu *Emulator) Results() []int32 {
	return append([]int32(nil), emu.results...)
}

func (emu *Emulator) putRequests(reqs ...*request) {
	emu.flushLine()
	for _, req := range reqs {
		emu.output.Add(req)
	}
}

func (emu *Emulator) finish(retval uint32) {
	emu.results = append(emu.results, int32(retval))
	emu.output.Remove()
}

// post the request to the host, once the host is connected and, for reads
// to the console, the putc buffer is free.
func (emu *Emulator) post(req *request) (err error) {
	ds := emu.DebugStruct

	connected, err := cable.ReadWord(emu.Memory, ds.BridgeConnectedAddr())
	if err != nil {
		return
	}
	if connected == 0 {
		// Nobody serves requests.
		if req.Type == hal.REQ_OPEN {
			emu.file = hal.RETVAL_ERROR
		}
		emu.log.Debug("%v request: no host connected", req.Type)
		emu.finish(hal.RETVAL_ERROR)
		return
	}

	if req.console {
		var pending uint32
		pending, err = cable.ReadWord(emu.Memory, ds.PendingPutcharAddr())
		if err != nil || pending != 0 {
			return
		}
	}

	hreq := req.Request
	switch req.Type {
	case hal.REQ_OPEN:
		err = emu.Memory.Access(true, REQUEST_NAME_ADDR, req.name)
		hreq.Args[0] = uint32(len(req.name))
		hreq.Args[1] = REQUEST_NAME_ADDR
	case hal.REQ_WRITE:
		err = emu.Memory.Access(true, REQUEST_DATA_ADDR, req.data)
		hreq.Args = [4]uint32{emu.file, REQUEST_DATA_ADDR, uint32(len(req.data))}
	case hal.REQ_READ:
		hreq.Args = [4]uint32{emu.file, ds.PutcBufferAddr(), ds.PutcBufferSize}
	case hal.REQ_CLOSE:
		hreq.Args[0] = emu.file
	}
	if err != nil {
		return
	}

	buf := hreq.Encode()
	err = emu.Memory.Access(true, REQUEST_ADDR, buf[:])
	if err != nil {
		return
	}
	err = cable.WriteWord(emu.Memory, ds.FirstBridgeReqAddr(), REQUEST_ADDR)
	if err != nil {
		return
	}

	req.posted = true
	if emu.Verbose {
		emu.log.Info("posted %v request", req.Type)
	}
	return
}

// serve advances the request at the head of the queue.
func (emu *Emulator) serve(req *request) (err error) {
	if !req.posted {
		err = emu.post(req)
		return
	}

	done, err := cable.ReadWord(emu.Memory, REQUEST_ADDR+hal.REQ_DONE)
	if err != nil || done == 0 {
		return
	}
	retval, err := cable.ReadWord(emu.Memory, REQUEST_ADDR+hal.REQ_RETVAL)
	if err != nil {
		return
	}
	if emu.Verbose {
		emu.log.Info("%v request done: %d", req.Type, int32(retval))
	}

	ds := emu.DebugStruct
	switch req.Type {
	case hal.REQ_OPEN:
		emu.file = retval
	case hal.REQ_DISCONNECT:
		err = cable.WriteWord(emu.Memory, ds.BridgeConnectedAddr(), 0)
	case hal.REQ_READ:
		if !req.console || int32(retval) <= 0 {
			break
		}
		// Print what was read, then read on.
		emu.results = append(emu.results, int32(retval))
		req.posted = false
		err = emu.printRead(retval)
		return
	}
	if err != nil {
		return
	}

	emu.finish(retval)
	return
}

// printRead prints size bytes the host read into the putc buffer.
func (emu *Emulator) printRead(size uint32) (err error) {
	ds := emu.DebugStruct

	internal, err := cable.ReadWord(emu.Memory, ds.UseInternalPrintfAddr())
	if err != nil {
		return
	}
	if internal == 0 {
		err = cable.WriteWord(emu.Memory, ds.PendingPutcharAddr(), size)
		return
	}

	buf := make([]byte, size)
	err = emu.Memory.Access(false, ds.PutcBufferAddr(), buf)
	if err != nil {
		return
	}
	_, err = emu.Internal.Write(buf)
	return
}
