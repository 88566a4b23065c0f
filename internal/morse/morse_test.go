package morse

import (
	"testing"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/codetable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHIMatchesDotDashPattern(t *testing.T) {
	tbl, err := codetable.Default(code.American)
	require.NoError(t, err)

	enc := NewEncoder(tbl, Speed{CharWPM: 20, Type: code.American})
	require.Equal(t, 60, enc.DotLen())

	h := enc.Encode('H')
	// H is four dits: space, dot, space, dot, space, dot, space, dot.
	require.Len(t, h, 8)
	for i := 1; i < len(h); i += 2 {
		assert.Equal(t, code.Element(60), h[i], "dit %d", i)
	}

	i := enc.Encode('I')
	// Two dits, preceded by one inter-character space.
	require.Len(t, i, 4)
	assert.True(t, i[0] < 0, "leading element must be a space")
	assert.Equal(t, code.Element(60), i[1])
	assert.Equal(t, code.Element(60), i[3])
}

func TestEncodeUnknownCharacterWidensSpace(t *testing.T) {
	tbl, err := codetable.Default(code.International)
	require.NoError(t, err)
	enc := NewEncoder(tbl, Speed{CharWPM: 20, Type: code.International})

	seq := enc.Encode('%')
	assert.Nil(t, seq, "an unencodable character produces no marks, only pending space")

	plain := NewEncoder(tbl, Speed{CharWPM: 20, Type: code.International})
	plainGap := plain.Encode('E')

	next := enc.Encode('E')
	require.Len(t, next, 2)
	require.Len(t, plainGap, 2)
	assert.True(t, next[0] < plainGap[0], "space widened past a fresh encoder's leading gap")
}

func TestDecodeRoundTripPlainCharacters(t *testing.T) {
	tbl, err := codetable.Default(code.International)
	require.NoError(t, err)

	enc := NewEncoder(tbl, Speed{CharWPM: 20, Type: code.International})

	var got []string
	dec := NewDecoder(tbl, Speed{CharWPM: 20, Type: code.International}, func(text string, _ float64) {
		got = append(got, text)
	})

	for _, ch := range "HI" {
		dec.Decode(enc.Encode(ch))
	}
	dec.Flush()

	require.Equal(t, []string{"H", "I"}, got)
}

func TestDecodeSpacedAmericanCharacter(t *testing.T) {
	tbl, err := codetable.Default(code.American)
	require.NoError(t, err)

	speed := Speed{CharWPM: 20, Type: code.American}
	enc := NewEncoder(tbl, speed)

	var got []string
	dec := NewDecoder(tbl, speed, func(text string, _ float64) {
		got = append(got, text)
	})

	// American 'C' (".. .") has an internal Morse space between its first
	// two dits and its third; encoding it and closing the circuit right
	// after (the closing packet's long space ends the trailing dit, and its
	// latch then resolves the two buffered halves) exercises the
	// spaced-character resolution path in decodeChar.
	dec.Decode(enc.Encode('C'))
	dec.Decode(code.ClosedSequence(true))
	dec.Flush()

	require.NotEmpty(t, got)
	assert.Equal(t, "C", got[0], "the internally-spaced dits should resolve as American C, not separate characters")
}

func TestDecodeLatchThenFlushEmitsUnderscore(t *testing.T) {
	tbl, err := codetable.Default(code.International)
	require.NoError(t, err)

	var got []string
	dec := NewDecoder(tbl, Speed{CharWPM: 20, Type: code.International}, func(text string, _ float64) {
		got = append(got, text)
	})

	dec.Decode(code.ClosedSequence(true))
	dec.Flush()
	require.NotEmpty(t, got)
	assert.Equal(t, "\n_", got[len(got)-1])
}
