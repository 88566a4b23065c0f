package hardware

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOTransport reads a key wired directly to a GPIO line via the
// Linux character-device GPIO API. This is the memory-mapped-pin transport
// named in §4.D for interfaces without a serial adapter in between.
type GPIOTransport struct {
	line *gpiocdev.Line
}

// OpenGPIO requests offset on chip (e.g. "gpiochip0") as an input, with a
// pull-up so an unconnected key reads open.
func OpenGPIO(chip string, offset int) (*GPIOTransport, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, fmt.Errorf("hardware: open gpio %s:%d: %w", chip, offset, err)
	}
	return &GPIOTransport{line: line}, nil
}

// Sample reads the line and reports closed as logic low (key pulls the pin
// to ground), matching a pull-up-idle wiring.
func (g *GPIOTransport) Sample() (bool, error) {
	v, err := g.line.Value()
	if err != nil {
		return false, err
	}
	return v == 0, nil
}

func (g *GPIOTransport) Close() error {
	return g.line.Close()
}
