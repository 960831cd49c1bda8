package cable

// Memory is a flat region of simulated target memory starting at Base.
type Memory struct {
	Base uint32
	Data []byte

	Reads  int // Number of completed reads.
	Writes int // Number of completed writes.

	// OnAccess, if set, is called after each completed transfer.
	OnAccess func(write bool, addr uint32, buf []byte)
}

var _ Cable = (*Memory)(nil)

// NewMemory allocates size bytes of zeroed memory at base.
func NewMemory(base uint32, size int) *Memory {
	return &Memory{
		Base: base,
		Data: make([]byte, size),
	}
}

func (mem *Memory) region(addr uint32, size int) (data []byte, ok bool) {
	if mem == nil || addr < mem.Base {
		return
	}
	start := uint64(addr - mem.Base)
	end := start + uint64(size)
	if end > uint64(len(mem.Data)) {
		return
	}
	data = mem.Data[start:end]
	ok = true
	return
}

// Access implements Cable.
func (mem *Memory) Access(write bool, addr uint32, buf []byte) (err error) {
	data, ok := mem.region(addr, len(buf))
	if !ok {
		err = accessError(write, addr, len(buf), ErrOutOfRange)
		return
	}

	if write {
		copy(data, buf)
		mem.Writes++
	} else {
		copy(buf, data)
		mem.Reads++
	}

	if mem.OnAccess != nil {
		mem.OnAccess(write, addr, buf)
	}

	return
}
