package gpio

import "errors"

// FakePins is a test double that returns scripted switch levels and records LED writes.
type FakePins struct {
	// Samples contains scripted switch levels to return.
	// Each call to ReadSwitch() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Outputs records every level passed to SetOutput, in order.
	Outputs []bool

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by ReadSwitch()
	ReadError error

	// WriteError, if set, will be returned by SetOutput()
	WriteError error
}

// NewFakePins creates a FakePins with the given samples.
func NewFakePins(samples []bool) *FakePins {
	return &FakePins{Samples: samples}
}

// ReadSwitch returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakePins) ReadSwitch() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// SetOutput records the level.
func (f *FakePins) SetOutput(level bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Outputs = append(f.Outputs, level)
	return nil
}

// LED returns the last level written and whether any write happened.
func (f *FakePins) LED() (level, ok bool) {
	if len(f.Outputs) == 0 {
		return false, false
	}
	return f.Outputs[len(f.Outputs)-1], true
}

// Close drives the LED low and marks the pins as closed.
func (f *FakePins) Close() error {
	f.Outputs = append(f.Outputs, false)
	f.Closed = true
	return nil
}

// Reset resets the pins to the beginning of samples and clears recorded writes.
func (f *FakePins) Reset() {
	f.index = 0
	f.Outputs = nil
	f.Closed = false
}
