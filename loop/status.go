package loop

// Status is the outcome of a looper's registration or tick.
type Status int

//go:generate go tool stringer -linecomment -type=Status
const (
	// Poll again on the next tick.
	Continue Status = iota // continue
	// Skip on ticks until the looper unpauses itself.
	Pause // pause
	// Remove this looper.
	Stop // stop
	// Remove every looper and stop the manager.
	StopAll // stop-all
)
