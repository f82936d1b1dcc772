// Package gpio provides switch input and LED output access with hardware abstraction.
// The real implementations use the Linux GPIO character device, the sysfs GPIO
// interface or periph.io host drivers.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Pins owns the switch input line and the LED output line for the process lifetime.
type Pins interface {
	// ReadSwitch returns the logical level of the switch input.
	ReadSwitch() (bool, error)

	// SetOutput drives the LED output to the given logical level.
	SetOutput(level bool) error

	// Close drives the LED low and releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultSwitchPin = 17
	DefaultLEDPin    = 27
)

// DefaultChip is the character device used by the cdev backend.
const DefaultChip = "gpiochip0"

// DefaultChipBase is the sysfs number of line 0 on gpiochip0 for recent
// Raspberry Pi kernels, so pin 17 is exported as gpio529.
const DefaultChipBase = 512

// Backend selects how lines are accessed.
type Backend string

const (
	BackendCdev   Backend = "cdev"
	BackendSysfs  Backend = "sysfs"
	BackendPeriph Backend = "periph"
)

// Config describes the two lines and how to reach them.
type Config struct {
	Backend Backend

	// Chip is the character device name (cdev only).
	Chip string

	// SysfsRoot is the sysfs GPIO class directory (sysfs only).
	SysfsRoot string

	// ChipBase is added to pin numbers to form sysfs line numbers (sysfs only).
	ChipBase int

	SwitchPin int
	LEDPin    int

	// ActiveLow inverts the switch reading, for switches wired to ground
	// with a pull-up.
	ActiveLow bool
}

// DefaultConfig returns the wiring of the reference board.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendCdev,
		Chip:      DefaultChip,
		SysfsRoot: DefaultSysfsRoot,
		ChipBase:  DefaultChipBase,
		SwitchPin: DefaultSwitchPin,
		LEDPin:    DefaultLEDPin,
	}
}

// Line returns the backend-specific line number for a nominal pin.
func (c Config) Line(pin int) int {
	if c.Backend == BackendSysfs {
		return c.ChipBase + pin
	}
	return pin
}

// Open opens both lines using the configured backend.
func Open(cfg Config) (Pins, error) {
	switch cfg.Backend {
	case BackendCdev, "":
		return opened(NewCdevPins(cfg))
	case BackendSysfs:
		return opened(NewSysfsPins(cfg))
	case BackendPeriph:
		return opened(NewPeriphPins(cfg))
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", cfg.Backend)
	}
}

// opened keeps a nil backend pointer from turning into a non-nil Pins.
func opened[T Pins](p T, err error) (Pins, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
