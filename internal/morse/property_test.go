package morse

import (
	"strings"
	"testing"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/codetable"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// alphabet is restricted to characters the International table encodes
// unambiguously (no spaced multi-part American characters), so the
// round-trip property doesn't have to model the decoder's spacing-based
// disambiguation heuristics.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TestEncodeDecodeRoundTripIsIdentity is the property from spec §8: any
// string of plain characters sent through the Encoder and then the Decoder
// comes back unchanged (modulo case, since the Encoder uppercases).
func TestEncodeDecodeRoundTripIsIdentity(t *testing.T) {
	tbl, err := codetable.Default(code.International)
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteByte(alphabet[rapid.IntRange(0, len(alphabet)-1).Draw(rt, "idx")])
		}
		text := sb.String()

		enc := NewEncoder(tbl, Speed{CharWPM: 25, Type: code.International})
		var got []string
		dec := NewDecoder(tbl, Speed{CharWPM: 25, Type: code.International}, func(s string, _ float64) {
			got = append(got, s)
		})

		for _, ch := range text {
			dec.Decode(enc.Encode(ch))
		}
		dec.Flush()

		if got2 := strings.Join(got, ""); got2 != text {
			rt.Fatalf("round trip %q -> %q", text, got2)
		}
	})
}

// TestEncodedElementsAlternateInSign checks that the Encoder's output
// alternates space, mark, space, mark: every mark is strictly positive and
// every space is strictly negative — never zero, which would collapse two
// elements into one in the wire protocol.
func TestEncodedElementsAlternateInSign(t *testing.T) {
	tbl, err := codetable.Default(code.International)
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		wpm := rapid.IntRange(5, 60).Draw(rt, "wpm")
		ch := rune(alphabet[rapid.IntRange(0, len(alphabet)-1).Draw(rt, "idx")])

		enc := NewEncoder(tbl, Speed{CharWPM: wpm, Type: code.International})
		seq := enc.Encode(ch)
		for i, el := range seq {
			if i%2 == 0 {
				if el >= 0 {
					rt.Fatalf("element %d of %q at %d wpm should be a space, got %v", i, ch, wpm, el)
				}
			} else if el <= 0 {
				rt.Fatalf("element %d of %q at %d wpm should be a mark, got %v", i, ch, wpm, el)
			}
		}
	})
}
