package hardware

import (
	"strings"

	"github.com/jochenvg/go-udev"
)

// FindVendorSerialPort scans tty devices for one whose USB serial number
// contains needle, returning its device node (e.g. "/dev/ttyUSB0"). Used to
// pick out a known-model key interface automatically rather than requiring
// the device path in configuration, per §4.D's vendor-adapter detection.
func FindVendorSerialPort(needle string) (string, bool) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("tty"); err != nil {
		return "", false
	}

	devices, err := e.Devices()
	if err != nil {
		return "", false
	}

	for _, d := range devices {
		serial := d.PropertyValue("ID_SERIAL_SHORT")
		if serial == "" {
			serial = d.PropertyValue("ID_SERIAL")
		}
		if serial != "" && strings.Contains(serial, needle) {
			if node := d.Devnode(); node != "" {
				return node, true
			}
		}
	}
	return "", false
}
