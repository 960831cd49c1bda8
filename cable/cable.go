// Package cable provides the memory access channels between the host and a
// target: simulated memory, a UART link to a board-side agent, and a fault
// injecting wrapper.
package cable

import (
	"encoding/binary"
)

// Cable performs bounded transfers between host and target memory.
type Cable interface {
	// Access reads len(buf) bytes at addr into buf, or writes buf to addr
	// when write is set. Any failure wraps ErrCable.
	Access(write bool, addr uint32, buf []byte) error
}

// ReadWord reads a little-endian 32-bit word from the target.
func ReadWord(c Cable, addr uint32) (value uint32, err error) {
	var word [4]byte
	err = c.Access(false, addr, word[:])
	if err != nil {
		return
	}
	value = binary.LittleEndian.Uint32(word[:])
	return
}

// WriteWord writes a little-endian 32-bit word to the target.
func WriteWord(c Cable, addr uint32, value uint32) (err error) {
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], value)
	err = c.Access(true, addr, word[:])
	return
}
