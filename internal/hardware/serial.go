package hardware

import (
	"bytes"
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"
)

// handshakeProbe is written to the port and read back to distinguish a
// loopback-style USB adapter (which echoes TX onto RX, and wires the key to
// CTS alone) from a full modem-control adapter (key on DSR, paddle-dah on
// CTS), per §4.D.
const handshakeProbe = "KOBHELLO"

// SerialTransport reads a key from a serial port's modem-status lines.
type SerialTransport struct {
	port     *serial.Port
	loopback bool
}

// OpenSerial opens device, performs the loopback handshake, and returns a
// transport reading the appropriate modem line(s) for whatever adapter
// answered.
func OpenSerial(device string) (*SerialTransport, error) {
	opts := serial.NewOptions().SetReadTimeout(100 * time.Millisecond)
	port, err := serial.Open(device, opts)
	if err != nil {
		return nil, fmt.Errorf("hardware: open serial %s: %w", device, err)
	}

	loopback := probeLoopback(port)
	return &SerialTransport{port: port, loopback: loopback}, nil
}

// probeLoopback writes the handshake string and checks whether it reads
// back on RX. A timeout or mismatch means this is a real modem-control
// adapter, not a loopback.
func probeLoopback(port *serial.Port) bool {
	if _, err := port.Write([]byte(handshakeProbe)); err != nil {
		return false
	}
	buf := make([]byte, len(handshakeProbe))
	n, err := port.ReadTimeout(buf, 150*time.Millisecond)
	if err != nil || n != len(buf) {
		return false
	}
	return bytes.Equal(buf, []byte(handshakeProbe))
}

// Sample reports the key as closed when the relevant modem line is
// asserted: CTS alone for a loopback adapter, DSR for a full adapter (with
// CTS free to carry a paddle-dah input in keyer mode).
func (s *SerialTransport) Sample() (bool, error) {
	lines, err := s.port.GetModemLines()
	if err != nil {
		return false, err
	}
	if s.loopback {
		return lines&serial.TIOCM_CTS != 0, nil
	}
	return lines&serial.TIOCM_DSR != 0, nil
}

// SampleDah reads the paddle-dah input on a full (non-loopback) adapter.
// Only meaningful in ModeKeyer; loopback adapters have no second input.
func (s *SerialTransport) SampleDah() (bool, error) {
	lines, err := s.port.GetModemLines()
	if err != nil {
		return false, err
	}
	return lines&serial.TIOCM_CTS != 0, nil
}

// IsLoopback reports which handshake variant was detected.
func (s *SerialTransport) IsLoopback() bool { return s.loopback }

func (s *SerialTransport) Close() error {
	return s.port.Close()
}

// dahTransport adapts SerialTransport.SampleDah to the Transport interface
// so a single serial port can serve as both of NewPaddlePoller's arguments.
// Close is a no-op: the dit-side Transport owns the port.
type dahTransport struct{ s *SerialTransport }

func (d dahTransport) Sample() (bool, error) { return d.s.SampleDah() }
func (d dahTransport) Close() error          { return nil }

// DahTransport returns a Transport reading this port's paddle-dah line, for
// pairing with s itself in NewPaddlePoller.
func (s *SerialTransport) DahTransport() Transport {
	return dahTransport{s: s}
}
