package ctlab

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrConnection   = errors.New("connection unavailable")
	ErrProtocol     = errors.New("protocol error")
	ErrTimeout      = errors.New("communication timeout")
	ErrInvalidValue = errors.New("invalid parameter value")
	ErrBusClosed    = errors.New("bus is closed")
	ErrUnsupported  = errors.New("operation not supported by module")
)

// Refinements that also match the sentinel they wrap.
var (
	ErrInvalidID       = fmt.Errorf("%w: module ID", ErrInvalidValue)
	ErrNotAcknowledged = fmt.Errorf("%w: command not acknowledged", ErrProtocol)
)

// CommError represents a communication-level error.
type CommError struct {
	Op  string // Operation that failed (e.g., "open", "write", "query")
	Err error  // Underlying error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("communication error during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// ModuleError represents an error from a specific module.
type ModuleError struct {
	ID     int    // Module ID
	Op     string // Operation that failed
	Status Status // Status reported by the module (if applicable)
	Err    error  // Underlying error (if applicable)
}

func (e *ModuleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("module %d %s failed: %v", e.ID, e.Op, e.Err)
	}
	if e.Status.Code != 0 {
		return fmt.Sprintf("module %d %s failed: status %s", e.ID, e.Op, e.Status)
	}
	return fmt.Sprintf("module %d %s failed", e.ID, e.Op)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsProtocol returns true if the module answered with something unusable
// or did not acknowledge a command.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// GetModuleError extracts a ModuleError from an error chain, if present.
func GetModuleError(err error) (*ModuleError, bool) {
	var modErr *ModuleError
	if errors.As(err, &modErr) {
		return modErr, true
	}
	return nil, false
}

func invalidValue(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// connectionError marks a transport failure as a lost channel.
func connectionError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
}
