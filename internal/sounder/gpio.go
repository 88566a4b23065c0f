package sounder

import (
	gpiocdev "github.com/warthog618/go-gpiocdev"
)

// GPIOSounder drives a physical sounder's energize coil through a single
// GPIO output line, mirroring the same request/value shape
// internal/hardware uses for its input lines.
type GPIOSounder struct {
	line      *gpiocdev.Line
	activeLow bool
}

// OpenGPIOSounder requests offset on chip as an output line, initially
// de-energized.
func OpenGPIOSounder(chip string, offset int, activeLow bool) (*GPIOSounder, error) {
	initial := 0
	if activeLow {
		initial = 1
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, err
	}
	return &GPIOSounder{line: line, activeLow: activeLow}, nil
}

func (g *GPIOSounder) set(on bool) error {
	v := 1
	if on == g.activeLow {
		v = 0
	}
	return g.line.SetValue(v)
}

// Energize implements PhysicalOutput.
func (g *GPIOSounder) Energize() error { return g.set(true) }

// Deenergize implements PhysicalOutput.
func (g *GPIOSounder) Deenergize() error { return g.set(false) }

// Close releases the underlying GPIO line.
func (g *GPIOSounder) Close() error { return g.line.Close() }
