// Package hardware implements the HardwareKey component (§4.D): a debounced
// sampler that turns a physical key or paddle into the same code-element
// protocol as every other source in the engine.
package hardware

import (
	"time"

	"github.com/kobnet/kobengine/internal/code"
)

// Transport abstracts over the electrical interface a key is wired to. Only
// a point-in-time read is required; all timing and debounce logic lives in
// Poller.
type Transport interface {
	// Sample reports whether the line currently reads closed (key down).
	Sample() (bool, error)
	Close() error
}

// Mode selects whether the interface drives a code stream directly or feeds
// a paddle into the Keyer.
type Mode int

const (
	ModeStraight Mode = iota
	ModeKeyer
)

// Default timing constants from §4.D.
const (
	DefaultPollInterval = 4 * time.Millisecond
	DefaultDebounce     = 18 * time.Millisecond
	DefaultLatchAfter   = 800 * time.Millisecond
	DefaultFlushAfter   = 120 * time.Millisecond
)

// PaddleSink receives raw, debounced paddle transitions when a Poller is
// running in ModeKeyer. It is implemented by the keyer package; hardware
// depends only on this narrow interface to avoid a import cycle.
type PaddleSink interface {
	Dit(closed bool)
	Dah(closed bool)
}

// OnCode is invoked with a bounded code sequence whenever the poller has
// something ready to hand to the orchestrator (§4.I).
type OnCode func(seq code.Sequence)
