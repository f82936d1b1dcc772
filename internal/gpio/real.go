//go:build linux

package gpio

import (
	"errors"
	"io"

	"github.com/warthog618/go-gpiocdev"
)

// cdevLine is the part of *gpiocdev.Line the pins use.
type cdevLine interface {
	Value() (int, error)
	SetValue(v int) error
	Reconfigure(options ...gpiocdev.LineConfigOption) error
	Close() error
}

// CdevPins drives the lines through the Linux GPIO character device.
type CdevPins struct {
	chip   io.Closer
	swLine cdevLine
	led    cdevLine
	swPin  int
	ledPin int
}

// NewCdevPins requests the switch line as input and the LED line as output (low).
func NewCdevPins(cfg Config) (*CdevPins, error) {
	name := cfg.Chip
	if name == "" {
		name = DefaultChip
	}
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer("gpio-mirror"))
	if err != nil {
		return nil, pinError("open chip "+name, -1, err)
	}

	// Pull the input towards its inactive level so a floating switch reads OFF.
	swOpts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if cfg.ActiveLow {
		swOpts = []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.AsActiveLow}
	}
	swLine, err := chip.RequestLine(cfg.SwitchPin, swOpts...)
	if err != nil {
		chip.Close()
		return nil, pinError("request switch", cfg.SwitchPin, err)
	}

	ledLine, err := chip.RequestLine(cfg.LEDPin, gpiocdev.AsOutput(0))
	if err != nil {
		swLine.Close()
		chip.Close()
		return nil, pinError("request led", cfg.LEDPin, err)
	}

	return &CdevPins{
		chip:   chip,
		swLine: swLine,
		led:    ledLine,
		swPin:  cfg.SwitchPin,
		ledPin: cfg.LEDPin,
	}, nil
}

// ReadSwitch returns the logical switch level. Active-low inversion is done by the kernel.
func (p *CdevPins) ReadSwitch() (bool, error) {
	v, err := p.swLine.Value()
	if err != nil {
		return false, pinError("read", p.swPin, err)
	}
	return v == 1, nil
}

// SetOutput drives the LED line.
func (p *CdevPins) SetOutput(level bool) error {
	v := 0
	if level {
		v = 1
	}
	if err := p.led.SetValue(v); err != nil {
		return pinError("write", p.ledPin, err)
	}
	return nil
}

// Close turns the LED off and reconfigures both lines to input with pull-down
// (matching Pi boot defaults) before releasing them.
func (p *CdevPins) Close() error {
	var errs []error

	if p.led != nil {
		if err := p.led.SetValue(0); err != nil {
			errs = append(errs, pinError("clear", p.ledPin, err))
		}
		if err := p.led.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, pinError("reconfigure", p.ledPin, err))
		}
		if err := p.led.Close(); err != nil {
			errs = append(errs, pinError("close", p.ledPin, err))
		}
	}
	if p.swLine != nil {
		if err := p.swLine.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, pinError("reconfigure", p.swPin, err))
		}
		if err := p.swLine.Close(); err != nil {
			errs = append(errs, pinError("close", p.swPin, err))
		}
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, pinError("close chip", -1, err))
		}
	}

	return errors.Join(errs...)
}
