package reqloop

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/ezrec/dbgbridge/hal"
)

const (
	// MAX_NAME bounds the file names a target may send.
	MAX_NAME = 1024
	// CHUNK is the largest transfer between the cable and a file.
	CHUNK = 4096
)

// osFlags maps the target's open flags to the host's.
func osFlags(flags uint32) (mode int) {
	switch flags & 0x3 {
	case hal.O_WRONLY:
		mode = os.O_WRONLY
	case hal.O_RDWR:
		mode = os.O_RDWR
	default:
		mode = os.O_RDONLY
	}

	for _, bit := range []struct {
		target uint32
		host   int
	}{
		{hal.O_APPEND, os.O_APPEND},
		{hal.O_CREAT, os.O_CREATE},
		{hal.O_TRUNC, os.O_TRUNC},
		{hal.O_EXCL, os.O_EXCL},
	} {
		if flags&bit.target != 0 {
			mode |= bit.host
		}
	}

	return
}

func (sv *Server) refuse(kind hal.ReqType, cause error) uint32 {
	sv.log.Info("%v", &ErrRequest{Type: kind, Err: cause})
	return hal.RETVAL_ERROR
}

// open a host file. Names are relative to the server's root; a leading '/'
// is dropped.
func (sv *Server) open(req hal.Request) (retval uint32, err error) {
	size := req.Args[0]
	if size > MAX_NAME {
		retval = sv.refuse(req.Type, ErrNameTooLong)
		return
	}

	raw := make([]byte, size)
	err = sv.cable.Access(false, req.Args[1], raw)
	if err != nil {
		return
	}
	if n := bytes.IndexByte(raw, 0); n >= 0 {
		raw = raw[:n]
	}
	name := strings.TrimLeft(string(raw), "/")

	if sv.root == nil {
		retval = sv.refuse(req.Type, ErrNoRoot)
		return
	}

	file, ferr := sv.root.OpenFile(name, osFlags(req.Args[2]), fs.FileMode(req.Args[3]&0o777))
	if ferr != nil {
		retval = sv.refuse(req.Type, ferr)
		return
	}

	retval = sv.nextFile
	sv.files[retval] = file
	sv.nextFile++
	sv.log.Debug("open %q as %v", name, retval)
	return
}

func (sv *Server) file(req hal.Request) (file *os.File, ok bool) {
	file, ok = sv.files[req.Args[0]]
	if !ok {
		sv.refuse(req.Type, ErrBadFile)
	}
	return
}

// read up to the requested length from a file into target memory.
func (sv *Server) read(req hal.Request) (retval uint32, err error) {
	file, ok := sv.file(req)
	if !ok {
		retval = hal.RETVAL_ERROR
		return
	}

	ptr, size := req.Args[1], req.Args[2]
	buf := make([]byte, min(size, CHUNK))
	var total uint32
	for total < size {
		n, rerr := file.Read(buf[:min(size-total, CHUNK)])
		if n > 0 {
			err = sv.cable.Access(true, ptr+total, buf[:n])
			if err != nil {
				return
			}
			total += uint32(n)
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) && total == 0 {
				retval = sv.refuse(req.Type, rerr)
				return
			}
			break
		}
		if n == 0 {
			break
		}
	}

	retval = total
	return
}

// write the requested bytes of target memory to a file. Nothing written is
// an error, as the target runtime expects.
func (sv *Server) write(req hal.Request) (retval uint32, err error) {
	file, ok := sv.file(req)
	if !ok {
		retval = hal.RETVAL_ERROR
		return
	}

	ptr, size := req.Args[1], req.Args[2]
	buf := make([]byte, min(size, CHUNK))
	var total uint32
	for total < size {
		chunk := buf[:min(size-total, CHUNK)]
		err = sv.cable.Access(false, ptr+total, chunk)
		if err != nil {
			return
		}
		n, werr := file.Write(chunk)
		total += uint32(n)
		if werr != nil {
			sv.log.Info("%v", &ErrRequest{Type: req.Type, Err: werr})
			break
		}
	}

	retval = total
	if total == 0 {
		retval = hal.RETVAL_ERROR
	}
	return
}

func (sv *Server) close(req hal.Request) (retval uint32) {
	file, ok := sv.file(req)
	if !ok {
		return hal.RETVAL_ERROR
	}
	delete(sv.files, req.Args[0])

	err := file.Close()
	if err != nil {
		return sv.refuse(req.Type, err)
	}
	return 0
}
