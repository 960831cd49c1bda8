package cable

import (
	"io"
)

type splitPort struct {
	io.Reader
	io.Writer
}
