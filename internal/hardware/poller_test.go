package hardware

import (
	"testing"
	"time"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(t *testing.T) (*Poller, *[]code.Sequence) {
	t.Helper()
	var got []code.Sequence
	p := NewPoller(NullTransport{}, false, func(seq code.Sequence) {
		got = append(got, append(code.Sequence{}, seq...))
	}).WithTimings(4*time.Millisecond, 18*time.Millisecond, 800*time.Millisecond, 120*time.Millisecond)
	return p, &got
}

func TestPollerDebouncesShortGlitch(t *testing.T) {
	p, got := newTestPoller(t)
	base := time.Unix(0, 0)

	p.tick(base, false) // bootstrap, open
	p.tick(base.Add(10*time.Millisecond), true)
	// Glitch reverts before the 18ms debounce window elapses; must not count
	// as an accepted transition.
	p.tick(base.Add(15*time.Millisecond), false)
	p.tick(base.Add(200*time.Millisecond), false)

	assert.Empty(t, *got, "a sub-debounce glitch must not produce any code")
}

func TestPollerEmitsMarkOnKeyUp(t *testing.T) {
	p, got := newTestPoller(t)
	base := time.Unix(0, 0)

	p.tick(base, false)
	p.tick(base.Add(50*time.Millisecond), true)
	p.tick(base.Add(70*time.Millisecond), true) // held past debounce
	p.tick(base.Add(150*time.Millisecond), false)
	p.tick(base.Add(170*time.Millisecond), false) // held past debounce

	require.Empty(t, *got, "nothing flushes until the 120ms open-gap elapses")

	p.tick(base.Add(300*time.Millisecond), false)

	require.Len(t, *got, 1)
	seq := (*got)[0]
	require.Len(t, seq, 2)
	assert.True(t, seq[0] < 0, "leading element is the space before the key went down")
	assert.True(t, seq[1] > 0, "second element is the mark while the key was down")
}

func TestPollerLatchesAfter800ms(t *testing.T) {
	p, got := newTestPoller(t)
	base := time.Unix(0, 0)

	p.tick(base, false)
	p.tick(base.Add(20*time.Millisecond), true)
	p.tick(base.Add(40*time.Millisecond), true)

	for ms := 100; ms <= 900; ms += 50 {
		p.tick(base.Add(time.Duration(ms)*time.Millisecond), true)
	}

	require.Empty(t, *got, "latch alone does not flush; it waits for the eventual open")

	p.tick(base.Add(1000*time.Millisecond), false)
	p.tick(base.Add(1020*time.Millisecond), false)
	p.tick(base.Add(1200*time.Millisecond), false)

	require.Len(t, *got, 1)
	seq := (*got)[0]
	require.GreaterOrEqual(t, len(seq), 3)
	assert.Contains(t, seq, code.Latch)
	assert.Contains(t, seq, code.Unlatch)
}

func TestPollerCapsSequenceAt50Elements(t *testing.T) {
	p, got := newTestPoller(t)
	base := time.Unix(0, 0)
	p.tick(base, false)

	closed := false
	tms := 20
	for i := 0; i < 60; i++ {
		closed = !closed
		tms += 20
		p.tick(base.Add(time.Duration(tms)*time.Millisecond), closed)
		tms += 20 // hold past debounce before next flip
		p.tick(base.Add(time.Duration(tms)*time.Millisecond), closed)
	}

	require.NotEmpty(t, *got)
	for _, seq := range *got {
		assert.LessOrEqual(t, len(seq), code.MaxSequence)
	}
}
