package gpio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultSysfsRoot is the sysfs GPIO class directory.
const DefaultSysfsRoot = "/sys/class/gpio"

// exportTimeout bounds the wait for udev to make a freshly exported
// value file writable by a non-root user.
var exportTimeout = 2 * time.Second

// sysfsLine is one exported line with its value file held open.
type sysfsLine struct {
	num      int
	value    *os.File
	buf      []byte
	exported bool // we wrote to export, so Close must unexport
}

// SysfsPins drives the lines through the sysfs GPIO interface
// (gpioN/value and gpioN/direction under the class directory).
type SysfsPins struct {
	root      string
	sw        *sysfsLine
	led       *sysfsLine
	activeLow bool
}

// NewSysfsPins exports both lines, sets their direction and opens their value files.
// Line numbers are cfg.ChipBase plus the nominal pin.
func NewSysfsPins(cfg Config) (*SysfsPins, error) {
	root := cfg.SysfsRoot
	if root == "" {
		root = DefaultSysfsRoot
	}
	p := &SysfsPins{root: root, activeLow: cfg.ActiveLow}

	sw, err := p.open(cfg.Line(cfg.SwitchPin), "in")
	if err != nil {
		return nil, err
	}
	p.sw = sw

	// "low" sets output direction with the value already low, so the LED never glitches on.
	led, err := p.open(cfg.Line(cfg.LEDPin), "low")
	if err != nil {
		p.release(sw)
		return nil, err
	}
	p.led = led

	return p, nil
}

func (p *SysfsPins) path(num int, name string) string {
	return filepath.Join(p.root, "gpio"+strconv.Itoa(num), name)
}

func (p *SysfsPins) open(num int, direction string) (*sysfsLine, error) {
	l := &sysfsLine{num: num, buf: make([]byte, 1)}

	valuePath := p.path(num, "value")
	if _, err := os.Stat(valuePath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, pinError("stat", num, err)
		}
		if err := writeFile(filepath.Join(p.root, "export"), strconv.Itoa(num)); err != nil {
			return nil, pinError("export", num, err)
		}
		l.exported = true
		if err := waitWritable(valuePath, exportTimeout); err != nil {
			p.release(l)
			return nil, pinError("export", num, err)
		}
	}

	if err := writeFile(p.path(num, "direction"), direction); err != nil {
		p.release(l)
		return nil, pinError("direction", num, err)
	}

	f, err := os.OpenFile(valuePath, os.O_RDWR, 0)
	if err != nil {
		p.release(l)
		return nil, pinError("open value", num, err)
	}
	l.value = f
	return l, nil
}

// ReadSwitch returns the logical switch level.
func (p *SysfsPins) ReadSwitch() (bool, error) {
	if _, err := p.sw.value.ReadAt(p.sw.buf, 0); err != nil {
		return false, pinError("read", p.sw.num, err)
	}
	var on bool
	switch p.sw.buf[0] {
	case '0':
	case '1':
		on = true
	default:
		return false, pinError("read", p.sw.num, fmt.Errorf("%w: unexpected value %q", ErrIO, p.sw.buf[0]))
	}
	if p.activeLow {
		on = !on
	}
	return on, nil
}

// SetOutput writes the LED level to its value file.
func (p *SysfsPins) SetOutput(level bool) error {
	p.led.buf[0] = '0'
	if level {
		p.led.buf[0] = '1'
	}
	if _, err := p.led.value.WriteAt(p.led.buf, 0); err != nil {
		return pinError("write", p.led.num, err)
	}
	return nil
}

// Close turns the LED off, closes the value files and unexports lines this process exported.
func (p *SysfsPins) Close() error {
	var errs []error
	if p.led != nil {
		if err := p.SetOutput(false); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, p.release(p.led))
	}
	if p.sw != nil {
		errs = append(errs, p.release(p.sw))
	}
	return errors.Join(errs...)
}

func (p *SysfsPins) release(l *sysfsLine) error {
	var errs []error
	if l.value != nil {
		if err := l.value.Close(); err != nil {
			errs = append(errs, pinError("close", l.num, err))
		}
		l.value = nil
	}
	if l.exported {
		if err := writeFile(filepath.Join(p.root, "unexport"), strconv.Itoa(l.num)); err != nil {
			errs = append(errs, pinError("unexport", l.num, err))
		}
		l.exported = false
	}
	return errors.Join(errs...)
}

func writeFile(name, s string) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// waitWritable polls until name can be opened for writing or the timeout expires.
func waitWritable(name string, timeout time.Duration) error {
	const step = 10 * time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(name, os.O_WRONLY, 0)
		if err == nil {
			return f.Close()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not writable after %v: %w", name, timeout, err)
		}
		time.Sleep(step)
	}
}
