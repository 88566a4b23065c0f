package main

import (
	"github.com/kobnet/kobengine/internal/engine"
	"github.com/pkg/term"
)

// runKeyboardSender reads the controlling terminal in raw mode so each
// keystroke reaches the engine the instant it's typed, rather than waiting
// for a newline — matching how a real keyboard sender paces code out
// character by character. Grounded on the teacher's serial_port.go, which
// opens its device the same way (term.Open + term.RawMode); here the
// "device" is the operator's own tty instead of a radio modem.
func runKeyboardSender(e *engine.Engine) error {
	tty, err := term.Open("/dev/tty", term.RawMode)
	if err != nil {
		return err
	}
	defer tty.Close()

	buf := make([]byte, 1)
	for {
		n, err := tty.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		switch buf[0] {
		case 0x03: // Ctrl-C
			return nil
		case '\r':
			e.InjectText("\n", nil)
		default:
			e.InjectText(string(buf[0]), nil)
		}
	}
}
