package ctlab

import (
	"io"
	"time"
)

// Transport is the interface for low-level communication with the lab bus.
// Implementations live in the transports package; tests use mocks.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout sets the read timeout duration. A Read that times out
	// returns 0 bytes.
	SetReadTimeout(timeout time.Duration) error

	// Flush discards any buffered input data.
	Flush() error
}
