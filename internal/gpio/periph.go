//go:build linux

package gpio

import (
	"errors"
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphPins drives the lines through periph.io host drivers.
type PeriphPins struct {
	sw        pgpio.PinIO
	led       pgpio.PinIO
	activeLow bool
}

// NewPeriphPins initialises the periph host and looks the pins up by BCM name (GPIO17).
func NewPeriphPins(cfg Config) (*PeriphPins, error) {
	if _, err := host.Init(); err != nil {
		return nil, pinError("host init", -1, err)
	}

	sw := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.SwitchPin))
	if sw == nil {
		return nil, pinError("lookup switch", cfg.SwitchPin, ErrPinUnavailable)
	}
	led := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.LEDPin))
	if led == nil {
		return nil, pinError("lookup led", cfg.LEDPin, ErrPinUnavailable)
	}

	return openPeriph(sw, led, cfg.ActiveLow)
}

// openPeriph configures looked-up pins. The switch is halted again if the
// LED cannot be driven.
func openPeriph(sw, led pgpio.PinIO, activeLow bool) (*PeriphPins, error) {
	pull := pgpio.PullDown
	if activeLow {
		pull = pgpio.PullUp
	}
	if err := sw.In(pull, pgpio.NoEdge); err != nil {
		return nil, pinError("direction", sw.Number(), err)
	}
	if err := led.Out(pgpio.Low); err != nil {
		return nil, errors.Join(
			pinError("direction", led.Number(), err),
			pinError("halt", sw.Number(), sw.Halt()),
		)
	}

	return &PeriphPins{sw: sw, led: led, activeLow: activeLow}, nil
}

// ReadSwitch returns the logical switch level.
func (p *PeriphPins) ReadSwitch() (bool, error) {
	on := p.sw.Read() == pgpio.High
	if p.activeLow {
		on = !on
	}
	return on, nil
}

// SetOutput drives the LED pin.
func (p *PeriphPins) SetOutput(level bool) error {
	if err := p.led.Out(pgpio.Level(level)); err != nil {
		return pinError("write", p.led.Number(), err)
	}
	return nil
}

// Close turns the LED off and halts both pins.
func (p *PeriphPins) Close() error {
	return errors.Join(
		p.led.Out(pgpio.Low),
		p.led.Halt(),
		p.sw.Halt(),
	)
}
