package morse

import (
	"fmt"
	"sync"
	"time"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/codetable"
)

// Decoder timing thresholds, all expressed in dot units (§4.C). These mirror
// the original reader's tunables exactly; they were arrived at by ear over
// years of on-air use and are not derived from anything else in the spec.
const (
	minDashLen    = 1.5 // dot vs dash
	maxDashLen    = 9.0 // long dash vs circuit closure
	minMorseSpace = 2.0 // intra-symbol space vs Morse space
	maxMorseSpace = 6.0 // maximum length of a Morse space
	minCharSpace  = 2.7 // intra-symbol space vs character space
	minLLen       = 5.0 // American 'L' mark, minimum
	morseRatio    = 0.95
	alpha         = 0.5 // EMA weight for detected-speed smoothing
)

// flushSpace stands in for "space before the next character" when flush is
// forcing out whatever is left in the buffer with nothing following it.
const flushSpace = 1 << 30

// OnChar is called once per decoded character (or control token). spacing is
// the gap before it, expressed in space-widths relative to a 3-dot character
// space, so 0 means "exactly one character space" and negative means tighter
// than that.
type OnChar func(text string, spacing float64)

// Decoder turns a stream of timed code elements back into characters (§4.C).
// Because what looks like two characters may really be the two halves of a
// single spaced American character, it holds up to two pending characters in
// a two-deep buffer before committing either of them. A Decoder is safe for
// concurrent use: Decode is typically called from a wire-read or hardware
// goroutine while the idle flush fires on its own timer.
type Decoder struct {
	mu    sync.Mutex
	table *codetable.Table
	typ   code.Type

	onChar OnChar

	wpm    int
	dotLen int
	truDot int

	// Detected (adaptive) speed, updated continuously from incoming timing.
	decodeAtDetected bool
	dWPM             int
	dDotLen          int
	dTruDot          int
	dUpdateMissed    int

	flusher *time.Timer
	closed  bool

	latched bool
	mark    int
	space   int

	codeBuf  [2]string
	spaceBuf [2]int
	markBuf  [2]int
	nChars   int
}

// NewDecoder builds a Decoder over table at the given speed. onChar may be
// nil; SetCallback can attach one later.
func NewDecoder(table *codetable.Table, speed Speed, onChar OnChar) *Decoder {
	d := &Decoder{
		table:  table,
		typ:    table.Type,
		onChar: onChar,
		space:  1,
	}
	d.SetSpeed(speed)
	d.dWPM = d.wpm
	d.dDotLen = d.dotLen
	d.dTruDot = d.truDot
	return d
}

// SetDecodeAtDetected enables or disables adapting the nominal dot length to
// the continuously-tracked incoming speed rather than the configured one.
func (d *Decoder) SetDecodeAtDetected(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decodeAtDetected = on
}

// SetCallback replaces the decoded-character callback.
func (d *Decoder) SetCallback(onChar OnChar) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChar = onChar
}

// SetSpeed recomputes the nominal dot length. The faster of the char/text WPM
// pair governs mark-length classification: Farnsworth only stretches spaces,
// so a dot or dash is always timed at the character rate.
func (d *Decoder) SetSpeed(speed Speed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	wpm := speed.TextWPM
	if wpm == 0 {
		wpm = speed.CharWPM
	}
	d.setWPM(wpm, speed.CharWPM)
}

func (d *Decoder) setWPM(wpm, cwpm int) {
	if cwpm > wpm {
		wpm = cwpm
	}
	if wpm <= 0 {
		wpm = 1
	}
	d.wpm = wpm
	d.dotLen = 1200 / wpm
	d.truDot = d.dotLen
}

// DotLen returns the nominal dot length in milliseconds.
func (d *Decoder) DotLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dotLen
}

// DetectedWPM returns the adaptively-tracked incoming speed.
func (d *Decoder) DetectedWPM() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dWPM
}

// Decode pushes a code sequence into the reader. Each call cancels any
// pending idle-flush timer, folds the sequence into the detected-speed
// estimate, and then walks the elements one at a time exactly as the wire
// and hardware-key sources produce them. A fresh flush timer is armed
// afterward unless the Decoder has been closed, so that a character stalled
// mid-space still gets emitted once the line goes idle.
func (d *Decoder) Decode(seq code.Sequence) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.flusher != nil {
		d.flusher.Stop()
		d.flusher = nil
	}

	d.updateDWPM(seq)

	for _, el := range seq {
		c := int(el)
		switch {
		case c < 0: // start or continuation of a space, or continuation of a latched mark
			c = -c
			switch {
			case d.latched:
				d.mark += c
			case d.space > 0:
				d.space += c
			default:
				if d.mark > int(minDashLen*float64(d.truDot)) {
					d.codeBuf[d.nChars] += "-"
				} else {
					d.codeBuf[d.nChars] += "."
				}
				d.markBuf[d.nChars] = d.mark
				d.mark = 0
				d.space = c
			}
		case c == int(code.Latch):
			d.latched = true
			if d.space > 0 {
				if d.space > int(minMorseSpace*float64(d.dotLen)) {
					d.decodeChar(d.space)
				}
				d.mark = 0
				d.space = 0
			}
		case c == int(code.Unlatch):
			d.latched = false
		case c > int(code.Unlatch):
			d.latched = false
			switch {
			case d.space > 0:
				if d.space > int(minMorseSpace*float64(d.dotLen)) {
					d.decodeChar(d.space)
				}
				d.mark = c
				d.space = 0
			case d.mark > 0:
				d.mark += c
			}
		}
	}

	if !d.closed {
		d.flusher = time.AfterFunc(time.Duration(20*d.truDot)*time.Millisecond, d.flushTimer)
	}
}

// updateDWPM tracks the incoming dot/dash timing with an exponential moving
// average, looking for down/up/down triples that look like a clean dot.
func (d *Decoder) updateDWPM(seq code.Sequence) {
	for i := 1; i+2 < len(seq); i += 2 {
		minDotLen := int(0.5 * float64(d.dDotLen))
		maxDotLen := int(1.5 * float64(d.dDotLen))
		c1 := int(seq[i])
		c2 := int(seq[i+1])
		c3 := int(seq[i+2])
		duLen := c1 - c2
		if c1 > minDotLen && c1 < maxDotLen && duLen < 2*maxDotLen && c3 < maxDotLen {
			dotLen := duLen / 2
			d.dTruDot = int(alpha*float64(c1) + (1-alpha)*float64(d.dTruDot))
			d.dDotLen = int(alpha*float64(dotLen) + (1-alpha)*float64(d.dDotLen))
			if d.dDotLen > 0 {
				d.dWPM = 1200 / d.dDotLen
			}
			d.dUpdateMissed = 0
			continue
		}
		d.dUpdateMissed++
		if d.dUpdateMissed > 8 {
			d2 := c1 * 2
			duDiff := d2 - duLen
			if duDiff < 0 {
				duDiff = -duDiff
			}
			duDelta := float64(duDiff) / 100.0
			if duDelta < 0.05 && duLen > 0 {
				d.dTruDot = duLen / 2
				d.dDotLen = d.dTruDot
				d.dWPM = 2400 / duLen
				d.dUpdateMissed = 0
			}
		}
	}

	if d.decodeAtDetected && d.dWPM != d.wpm && d.dWPM > 0 {
		d.setWPM(d.dWPM, 0)
	}
}

// flushTimer is the time.AfterFunc callback; it re-enters through the public
// lock rather than assuming the caller already holds it.
func (d *Decoder) flushTimer() {
	d.mu.Lock()
	d.flusher = nil
	d.mu.Unlock()
	d.Flush()
}

// Flush forces out whatever character is sitting in the buffer. Called
// automatically after 20 dot-lengths of silence, and can be called directly
// when a source is known to have gone away (e.g. a wire disconnect).
func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flush()
}

func (d *Decoder) flush() {
	if d.flusher != nil {
		d.flusher.Stop()
		d.flusher = nil
	}
	if d.mark <= 0 && !d.latched {
		return
	}

	spacing := d.spaceBuf[d.nChars]
	switch {
	case d.mark > int(minDashLen*float64(d.truDot)):
		d.codeBuf[d.nChars] += "-"
	case d.mark > 2:
		d.codeBuf[d.nChars] += "."
	}
	d.markBuf[d.nChars] = d.mark
	d.mark = 0
	d.space = 1 // prevents the now-open circuit from decoding as a stray 'E'

	d.decodeChar(flushSpace)
	d.decodeChar(flushSpace) // twice, to flush both buffered halves

	d.codeBuf = [2]string{"", ""}
	d.spaceBuf = [2]int{0, 0}
	d.markBuf = [2]int{0, 0}
	d.nChars = 0

	latched := d.latched
	cb := d.onChar
	if latched && cb != nil {
		cb("\n_", float64(spacing)/(3*float64(d.truDot))-1)
	}
}

// decodeChar tries to resolve the buffered character(s) against the code
// table, handling the ambiguity between one spaced character and two plain
// ones, then emits whatever it can commit via the callback.
func (d *Decoder) decodeChar(nextSpace int) {
	d.nChars++
	sp1 := d.spaceBuf[0]
	sp2 := d.spaceBuf[1]
	sp3 := nextSpace
	codeStr := ""
	s := ""

	if d.nChars == 2 &&
		float64(sp2) < maxMorseSpace*float64(d.dotLen) &&
		morseRatio*float64(sp1) > float64(sp2) &&
		float64(sp2) < morseRatio*float64(sp3) {
		// Could be two halves of a single spaced character.
		combined := d.codeBuf[0] + " " + d.codeBuf[1]
		if ch, ok := d.lookupChar(combined); ok && ch != "&" {
			codeStr = combined
			s = ch
			d.codeBuf[0] = ""
			d.markBuf[0] = 0
			d.codeBuf[1] = ""
			d.spaceBuf[1] = 0
			d.markBuf[1] = 0
			d.nChars = 0
		}
	}

	if d.nChars == 2 && float64(sp2) < minCharSpace*float64(d.dotLen) {
		// Not a spaced pair; the gap is too tight even for two characters,
		// so the two halves are really one character's marks.
		d.codeBuf[0] += d.codeBuf[1]
		d.markBuf[0] = d.markBuf[1]
		d.codeBuf[1] = ""
		d.spaceBuf[1] = 0
		d.markBuf[1] = 0
		d.nChars = 1
	}

	if d.nChars == 2 {
		codeStr = d.codeBuf[0]
		ch, ok := d.lookupChar(codeStr)
		s = ch
		switch {
		case ok && ch == "T" && d.markBuf[0] > int(maxDashLen*float64(d.dotLen)):
			s = "_"
		case ok && ch == "T" && d.markBuf[0] > int(minLLen*float64(d.dotLen)) && d.typ == code.American:
			s = "L"
		case ok && ch == "E" && d.markBuf[0] == 1:
			s = "_"
		case ok && ch == "E" && d.markBuf[0] == 2:
			s = "_"
			sp1 = 0 // no gap between consecutive underscores
		}
		d.codeBuf[0] = d.codeBuf[1]
		d.spaceBuf[0] = d.spaceBuf[1]
		d.markBuf[0] = d.markBuf[1]
		d.codeBuf[1] = ""
		d.spaceBuf[1] = 0
		d.markBuf[1] = 0
		d.nChars = 1
	}

	d.spaceBuf[d.nChars] = nextSpace
	if codeStr != "" && s == "" {
		s = fmt.Sprintf("[%s]", codeStr)
	}
	if s != "" && d.onChar != nil {
		d.onChar(s, float64(sp1)/(3*float64(d.truDot))-1)
	}
}

// lookupChar is a thin wrapper over the code table that reports whether a
// code string resolved to anything.
func (d *Decoder) lookupChar(codeStr string) (string, bool) {
	ch, ok := d.table.Decode(codeStr)
	if !ok {
		return "", false
	}
	return string(ch), true
}

// Close cancels any pending flush timer and detaches the callback. Decode
// must not be called again afterward.
func (d *Decoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.onChar = nil
	if d.flusher != nil {
		d.flusher.Stop()
		d.flusher = nil
	}
}
