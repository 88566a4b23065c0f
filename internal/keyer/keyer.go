// Package keyer implements the electronic-keyer component (§4.F): a
// thread-safe (mode, source) state translated by a background emitter into
// the same code-element protocol every other source produces.
package keyer

import (
	"context"
	"sync"
	"time"

	"github.com/kobnet/kobengine/internal/code"
)

// Mode is the keyer's current paddle state.
type Mode int

const (
	Idle Mode = iota
	Dits
	Dah
)

// OnCode delivers a finished batch to the orchestrator, via the same key
// callback HardwareKey uses.
type OnCode func(seq code.Sequence)

// Keyer holds (mode, source) and runs a background emitter goroutine that
// turns paddle state into timed marks. Dit and Dah are safe to call from the
// hardware poller's goroutine while Run executes on its own.
type Keyer struct {
	mu     sync.Mutex
	mode   Mode
	dotLen time.Duration
	onCode OnCode

	wake chan struct{}
}

// New builds a Keyer at the given dot length. dotLen should track the
// Encoder's DotLen so keyed dits/dahs match the configured speed.
func New(dotLen time.Duration, onCode OnCode) *Keyer {
	return &Keyer{
		mode:   Idle,
		dotLen: dotLen,
		onCode: onCode,
		wake:   make(chan struct{}, 1),
	}
}

// SetDotLen updates the timing used by the next element; it takes effect on
// the next loop iteration of Run, not mid-element.
func (k *Keyer) SetDotLen(d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dotLen = d
}

// Dit switches into (or out of) the dits mode, mirroring the dit paddle's
// debounced state.
func (k *Keyer) Dit(closed bool) {
	k.setFromPaddle(closed, Dits)
}

// Dah switches into (or out of) the dah mode.
func (k *Keyer) Dah(closed bool) {
	k.setFromPaddle(closed, Dah)
}

func (k *Keyer) setFromPaddle(closed bool, m Mode) {
	k.mu.Lock()
	if closed {
		k.mode = m
	} else if k.mode == m {
		k.mode = Idle
	}
	k.mu.Unlock()
	k.poke()
}

func (k *Keyer) poke() {
	select {
	case k.wake <- struct{}{}:
	default:
	}
}

func (k *Keyer) currentMode() Mode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mode
}

func (k *Keyer) currentDotLen() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dotLen
}

// Run drives the emitter until ctx is cancelled. While idle it waits for a
// paddle transition; in Dits it alternates mark/space forever; in Dah it
// holds the mark. On return to Idle it closes the trailing element and
// flushes the accumulated batch, per §4.F. A mode switch from Dits to Dah
// (or vice versa) completes the dit or dah currently in flight before
// honoring the new mode, rather than truncating it mid-element — an open
// question resolved this way to avoid emitting a mark shorter than a dot.
func (k *Keyer) Run(ctx context.Context) error {
	var seq code.Sequence
	marking := false // whether the most recent appended element was a mark

	flush := func() {
		if len(seq) > 0 && k.onCode != nil {
			k.onCode(seq)
		}
		seq = nil
	}
	closeTrailing := func(dot time.Duration) {
		if marking {
			seq = append(seq, code.Element(-dot.Milliseconds()))
			marking = false
		}
	}

	for {
		mode := k.currentMode()

		if mode == Idle {
			closeTrailing(k.currentDotLen())
			flush()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-k.wake:
				continue
			}
		}

		if mode == Dits {
			dot := k.currentDotLen()
			if !marking {
				seq = append(seq, code.Element(dot.Milliseconds()))
			} else {
				seq = append(seq, code.Element(-dot.Milliseconds()))
			}
			marking = !marking
			if len(seq) >= code.MaxSequence {
				flush()
			}
			select {
			case <-ctx.Done():
				closeTrailing(dot)
				flush()
				return ctx.Err()
			case <-time.After(dot):
			case <-k.wake:
				// The half-cycle just appended is already committed; only
				// the next iteration picks up a changed mode.
			}
			continue
		}

		// Dah: hold a single mark open for as long as the paddle stays
		// closed, rather than chopping it into dot-sized pieces.
		start := time.Now()
		marking = true
		select {
		case <-ctx.Done():
			seq = append(seq, code.Element(time.Since(start).Milliseconds()))
			marking = false
			flush()
			return ctx.Err()
		case <-k.wake:
			seq = append(seq, code.Element(time.Since(start).Milliseconds()))
			marking = false
			if len(seq) >= code.MaxSequence {
				flush()
			}
		}
	}
}
