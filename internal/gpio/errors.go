package gpio

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Error kinds. Every backend error matches exactly one of these with errors.Is.
var (
	ErrPinUnavailable   = errors.New("pin unavailable")
	ErrPermissionDenied = errors.New("permission denied")
	ErrIO               = errors.New("i/o failure")
)

// PinError records a failed operation on a GPIO line.
type PinError struct {
	Op   string // e.g. "export", "direction", "read", "write"
	Pin  int    // line number, -1 for chip-level operations
	Kind error
	Err  error
}

func (e *PinError) Error() string {
	if e.Pin < 0 {
		return fmt.Sprintf("gpio %s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("gpio %s pin %d: %v: %v", e.Op, e.Pin, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *PinError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func pinError(op string, pin int, err error) error {
	if err == nil {
		return nil
	}
	return &PinError{Op: op, Pin: pin, Kind: classify(err), Err: err}
}

func classify(err error) error {
	for _, kind := range []error{ErrPinUnavailable, ErrPermissionDenied, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENXIO),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.EINVAL):
		return ErrPinUnavailable
	}
	return ErrIO
}
