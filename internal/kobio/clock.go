package kobio

import (
	"fmt"
	"time"
)

// AnnounceTime formats the on-the-hour time announcement a station sends
// when acting as office wire master, grounded on original_source/Clock.py
// and Time.py (which send "GA" followed by the station id and a UTC
// HHMM/zulu readout on the hour).
func AnnounceTime(now time.Time, station string) string {
	return fmt.Sprintf("GA %s  %s Z", station, now.UTC().Format("1504"))
}

// OnTheHour reports whether now is within tolerance of a wall-clock hour
// boundary, the trigger condition Clock.py polls for once a minute.
func OnTheHour(now time.Time, tolerance time.Duration) bool {
	m := now.Minute()
	s := now.Second()
	if m == 0 {
		return time.Duration(s)*time.Second <= tolerance
	}
	if m == 59 {
		return time.Duration(60-s)*time.Second <= tolerance
	}
	return false
}
