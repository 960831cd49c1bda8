package cable

// Faulty wraps a Cable and fails transfers on demand.
type Faulty struct {
	Cable

	// FailAfter, when positive, lets that many transfers through before
	// every following transfer fails.
	FailAfter int
	// Broken fails every transfer when set.
	Broken bool
	// FailIf, if set, fails the transfers it returns true for.
	FailIf func(write bool, addr uint32, size int) bool

	Accesses int // Number of transfers attempted.
	Failures int // Number of transfers failed.
}

var _ Cable = (*Faulty)(nil)

func (fc *Faulty) failing(write bool, addr uint32, size int) bool {
	if fc.Broken {
		return true
	}
	if fc.FailAfter > 0 && fc.Accesses > fc.FailAfter {
		return true
	}
	if fc.FailIf != nil && fc.FailIf(write, addr, size) {
		return true
	}
	return false
}

// Access implements Cable.
func (fc *Faulty) Access(write bool, addr uint32, buf []byte) (err error) {
	fc.Accesses++
	if fc.failing(write, addr, len(buf)) {
		fc.Failures++
		err = accessError(write, addr, len(buf), ErrInjected)
		return
	}

	err = fc.Cable.Access(write, addr, buf)
	return
}
