package keyer

import (
	"context"
	"testing"
	"time"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyerDitsAlternateAndClose(t *testing.T) {
	var got []code.Sequence
	k := New(3*time.Millisecond, func(seq code.Sequence) {
		got = append(got, append(code.Sequence{}, seq...))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	k.Dit(true)
	time.Sleep(30 * time.Millisecond)
	k.Dit(false)
	time.Sleep(15 * time.Millisecond)
	cancel()
	<-done

	require.NotEmpty(t, got)
	flat := got[len(got)-1]
	require.NotEmpty(t, flat)
	for i, el := range flat {
		if i%2 == 0 {
			assert.True(t, el > 0, "even positions are marks")
		} else {
			assert.True(t, el < 0, "odd positions are spaces")
		}
	}
}

func TestKeyerDahHoldsSingleMark(t *testing.T) {
	var got []code.Sequence
	k := New(2*time.Millisecond, func(seq code.Sequence) {
		got = append(got, append(code.Sequence{}, seq...))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	k.Dah(true)
	time.Sleep(25 * time.Millisecond)
	k.Dah(false)
	time.Sleep(10 * time.Millisecond)

	require.NotEmpty(t, got)
	seq := got[len(got)-1]
	require.Len(t, seq, 1)
	assert.True(t, seq[0] > code.Element(15), "a held dah should last roughly the paddle-down duration, not one dot")
}
