package emulator

import (
	"slices"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/ezrec/dbgbridge/hal"
)

// Load runs the target program src, queueing everything it prints. src is
// anything starlark.ExecFileOptions accepts: a string, []byte or io.Reader.
//
// Programs see these builtins:
//
//	write(s)             raw output
//	puts(s)              output followed by a newline
//	printf(fmt, *args)   output formatted with the % operator
//	exit(status)         stop the program with an exit status
//
// and these, which queue requests for the host in order with the output:
//
//	fwrite(path, data, append=False)   write a host file
//	fcat(path)                         print a host file
//	connect()
//	disconnect()                       the host stops serving requests
//
// print() statements are output too.
func (emu *Emulator) Load(name string, src any) (err error) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			emu.putString(msg + "\n")
		},
	}

	pred := starlark.StringDict{
		"write":  starlark.NewBuiltin("write", emu.builtinWrite),
		"puts":   starlark.NewBuiltin("puts", emu.builtinPuts),
		"printf": starlark.NewBuiltin("printf", emu.builtinPrintf),
		"exit":   starlark.NewBuiltin("exit", emu.builtinExit),

		"fwrite":     starlark.NewBuiltin("fwrite", emu.builtinFwrite),
		"fcat":       starlark.NewBuiltin("fcat", emu.builtinFcat),
		"connect":    starlark.NewBuiltin("connect", emu.builtinHandshake),
		"disconnect": starlark.NewBuiltin("disconnect", emu.builtinHandshake),
	}
	for key, value := range emu.Symbols() {
		pred[key] = starlark.MakeUint(uint(value))
	}

	opts := syntax.FileOptions{TopLevelControl: true, While: true, GlobalReassign: true}
	_, err = starlark.ExecFileOptions(&opts, thread, name, src, pred)
	if emu.exited {
		// exit() unwinds the program through an error.
		err = nil
	}
	emu.flushLine()
	if err != nil {
		err = &ErrProgram{Name: name, Err: err}
		return
	}

	emu.loaded = true
	return
}

func (emu *Emulator) builtinWrite(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var s string
	err = starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s)
	if err != nil {
		return
	}
	emu.putString(s)
	value = starlark.None
	return
}

func (emu *Emulator) builtinPuts(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var s string
	err = starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s)
	if err != nil {
		return
	}
	emu.putString(s + "\n")
	value = starlark.None
	return
}

func (emu *Emulator) builtinPrintf(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	if len(args) < 1 || len(kwargs) != 0 {
		err = ErrPrintfArgs
		return
	}

	format, ok := args[0].(starlark.String)
	if !ok {
		err = ErrPrintfArgs
		return
	}

	formatted, err := starlark.Binary(syntax.PERCENT, format, args[1:])
	if err != nil {
		return
	}

	s, _ := starlark.AsString(formatted)
	emu.putString(s)
	value = starlark.None
	return
}

func (emu *Emulator) builtinExit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var status int
	err = starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &status)
	if err != nil {
		return
	}
	emu.exited = true
	emu.exitStatus = uint32(status)
	err = errExit
	return
}

func requestName(path string) (name []byte, err error) {
	if len(path)+1 > REQUEST_NAME_SIZE {
		err = ErrPathTooLong
		return
	}
	name = append([]byte(path), 0)
	return
}

func (emu *Emulator) builtinFwrite(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var path, data string
	var appending bool
	err = starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "data", &data, "append?", &appending)
	if err != nil {
		return
	}
	name, err := requestName(path)
	if err != nil {
		return
	}

	flags := uint32(hal.O_WRONLY | hal.O_CREAT | hal.O_TRUNC)
	if appending {
		flags = hal.O_WRONLY | hal.O_CREAT | hal.O_APPEND
	}

	reqs := []*request{{
		Request: hal.Request{Type: hal.REQ_OPEN, Args: [4]uint32{2: flags, 3: 0o644}},
		name:    name,
	}}
	for chunk := range slices.Chunk([]byte(data), REQUEST_DATA_SIZE) {
		reqs = append(reqs, &request{Request: hal.Request{Type: hal.REQ_WRITE}, data: chunk})
	}
	reqs = append(reqs, &request{Request: hal.Request{Type: hal.REQ_CLOSE}})
	emu.putRequests(reqs...)

	value = starlark.None
	return
}

func (emu *Emulator) builtinFcat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var path string
	err = starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path)
	if err != nil {
		return
	}
	name, err := requestName(path)
	if err != nil {
		return
	}

	emu.putRequests(
		&request{Request: hal.Request{Type: hal.REQ_OPEN, Args: [4]uint32{2: hal.O_RDONLY}}, name: name},
		&request{Request: hal.Request{Type: hal.REQ_READ}, console: true},
		&request{Request: hal.Request{Type: hal.REQ_CLOSE}},
	)

	value = starlark.None
	return
}

func (emu *Emulator) builtinHandshake(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	err = starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0)
	if err != nil {
		return
	}

	kind := hal.REQ_CONNECT
	if b.Name() == "disconnect" {
		kind = hal.REQ_DISCONNECT
	}
	emu.putRequests(&request{Request: hal.Request{Type: kind}})

	value = starlark.None
	return
}
