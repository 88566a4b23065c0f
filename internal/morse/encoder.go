// Package morse implements the character-stream encoder and the code-stream
// decoder at the heart of the telegraphy engine (§4.B, §4.C).
package morse

import (
	"unicode"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/codetable"
)

// dotsPerWord is PARIS-minus-a-bit: the reference word length used to widen
// American character spacing so that a word of average-length characters
// still lands near the configured word rate. 43 for "MORSE", 47 for "PARIS";
// 45 is the compromise the wire protocol has always used.
const dotsPerWord = 45

// Speed bundles the WPM pair, Farnsworth spacing mode and code type that
// together determine an Encoder's (or Decoder's) timing, per §3.
type Speed struct {
	CharWPM int
	TextWPM int
	Spacing code.Spacing
	Type    code.Type
}

// Encoder turns a stream of characters into timed code sequences. One
// Encoder holds state (spacePending) across calls, so it is not safe for
// concurrent use by more than one producer at a time — that serialization is
// the orchestrator's job (§4.I invariant: at most one local source).
type Encoder struct {
	table        *codetable.Table
	speed        Speed
	dotLen       int
	charSpace    int
	wordSpace    int
	spacePending int
}

// NewEncoder builds an Encoder over table at the given speed.
func NewEncoder(table *codetable.Table, speed Speed) *Encoder {
	e := &Encoder{table: table}
	e.SetSpeed(speed)
	e.spacePending = e.wordSpace
	return e
}

// SetSpeed recomputes dot/char-space/word-space from a new speed
// configuration, per the formula in §4.B.
func (e *Encoder) SetSpeed(speed Speed) {
	cwpm := speed.CharWPM
	wpm := speed.TextWPM
	if wpm == 0 {
		wpm = cwpm
	}
	if speed.Spacing == code.SpacingNone {
		wpm = cwpm
	} else if wpm > cwpm {
		// Farnsworth only slows text down; a caller-supplied pair in the
		// wrong order is corrected rather than rejected, matching the
		// source's defensive max/min swap.
		cwpm, wpm = wpm, cwpm
	}

	e.dotLen = 1200 / cwpm
	e.charSpace = 3 * e.dotLen
	e.wordSpace = 7 * e.dotLen

	if e.table.Type == code.American {
		e.charSpace += int((60000.0/float64(cwpm) - float64(e.dotLen)*dotsPerWord) / 6.0)
		e.wordSpace = 2 * e.charSpace
	}

	delta := 60000.0/float64(wpm) - 60000.0/float64(cwpm)
	switch speed.Spacing {
	case code.SpacingChar:
		e.charSpace += int(delta / 6)
		e.wordSpace += int(delta / 3)
	case code.SpacingWord:
		e.wordSpace += int(delta)
	}

	e.speed = speed
}

// DotLen returns the current dot length in milliseconds.
func (e *Encoder) DotLen() int { return e.dotLen }

// Encode converts one character into a code sequence to append to the
// output stream. The leading element is always a negative space carrying
// whatever gap accumulated since the previous call.
func (e *Encoder) Encode(ch rune) code.Sequence {
	if unicode.IsLower(ch) {
		ch = unicode.ToUpper(ch)
	}

	switch ch {
	case '\r', '\n':
		return nil
	case '+':
		seq := code.Sequence{code.Element(-e.spacePending), code.Latch}
		e.spacePending = e.charSpace
		return seq
	case '~':
		seq := code.Sequence{code.Element(-e.spacePending), code.Unlatch}
		e.spacePending = e.charSpace
		return seq
	}

	dotdash, ok := e.table.Encode(ch)
	if !ok {
		if ch == '-' || ch == '\'' {
			e.spacePending += (e.wordSpace - e.charSpace) / 2
		} else {
			e.spacePending += e.wordSpace - e.charSpace
		}
		return nil
	}

	var seq code.Sequence
	for _, sym := range dotdash {
		if sym == ' ' {
			// American intra-character gap.
			e.spacePending = 3 * e.dotLen
			continue
		}
		seq = append(seq, code.Element(-e.spacePending))
		switch sym {
		case '.':
			seq = append(seq, code.Element(e.dotLen))
		case '-':
			seq = append(seq, code.Element(3*e.dotLen))
		case '=':
			seq = append(seq, code.Element(6*e.dotLen))
		case '#':
			seq = append(seq, code.Element(9*e.dotLen))
		}
		e.spacePending = e.dotLen
	}
	e.spacePending = e.charSpace
	return seq
}
