//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// CdevPins is not available on non-Linux platforms.
type CdevPins struct{}

// NewCdevPins returns an error on non-Linux platforms.
func NewCdevPins(cfg Config) (*CdevPins, error) {
	return nil, pinError("open chip "+cfg.Chip, -1, errors.Join(ErrPinUnavailable, errUnsupported))
}

// ReadSwitch is not implemented on non-Linux platforms.
func (p *CdevPins) ReadSwitch() (bool, error) {
	return false, errUnsupported
}

// SetOutput is not implemented on non-Linux platforms.
func (p *CdevPins) SetOutput(bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (p *CdevPins) Close() error {
	return nil
}

// PeriphPins is not available on non-Linux platforms.
type PeriphPins = CdevPins

// NewPeriphPins returns an error on non-Linux platforms.
func NewPeriphPins(cfg Config) (*PeriphPins, error) {
	return nil, pinError("host init", -1, errors.Join(ErrPinUnavailable, errUnsupported))
}
