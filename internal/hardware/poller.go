package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/kobnet/kobengine/internal/code"
)

// Poller owns the debounced sampling loop described in §4.D. The real-time
// loop (Run) is a thin wrapper around tick, which is deterministic given an
// explicit timestamp and is what the tests drive directly.
type Poller struct {
	transport Transport
	invert    bool
	onCode    OnCode

	pollInterval time.Duration
	debounce     time.Duration
	latchAfter   time.Duration
	flushAfter   time.Duration

	mu           sync.Mutex
	started      bool
	debounced    bool // current accepted (post-debounce) state; true = closed
	pendingRaw   bool
	pendingSince time.Time
	lastEdge     time.Time
	latched      bool
	seq          code.Sequence
}

// NewPoller builds a Poller with the §4.D default timings. Use the With*
// setters before calling Run to override them (e.g. in tests).
func NewPoller(transport Transport, invert bool, onCode OnCode) *Poller {
	return &Poller{
		transport:    transport,
		invert:       invert,
		onCode:       onCode,
		pollInterval: DefaultPollInterval,
		debounce:     DefaultDebounce,
		latchAfter:   DefaultLatchAfter,
		flushAfter:   DefaultFlushAfter,
	}
}

func (p *Poller) WithTimings(poll, debounce, latchAfter, flushAfter time.Duration) *Poller {
	p.pollInterval = poll
	p.debounce = debounce
	p.latchAfter = latchAfter
	p.flushAfter = flushAfter
	return p
}

// Run samples the transport at pollInterval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			raw, err := p.transport.Sample()
			if err != nil {
				return err
			}
			if p.invert {
				raw = !raw
			}
			p.tick(now, raw)
		}
	}
}

// tick folds one raw sample into the debounce state machine and returns
// (via the onCode callback, invoked outside the lock) whatever sequence
// became ready to emit.
func (p *Poller) tick(now time.Time, raw bool) {
	p.mu.Lock()
	flushed := p.tickLocked(now, raw)
	p.mu.Unlock()

	if flushed != nil && p.onCode != nil {
		p.onCode(flushed)
	}
}

func (p *Poller) tickLocked(now time.Time, raw bool) code.Sequence {
	if !p.started {
		p.started = true
		p.debounced = raw
		p.lastEdge = now
		p.pendingRaw = raw
		p.pendingSince = now
		return nil
	}

	var flushed code.Sequence

	if raw != p.pendingRaw {
		p.pendingRaw = raw
		p.pendingSince = now
	} else if raw != p.debounced && now.Sub(p.pendingSince) >= p.debounce {
		flushed = p.acceptTransition(now, raw)
	}

	switch {
	case p.debounced && !p.latched && now.Sub(p.lastEdge) >= p.latchAfter:
		// Key has been down long enough with no release: latch the circuit
		// closed rather than let one long mark accumulate forever.
		p.seq = append(p.seq, code.Latch)
		p.latched = true
	case !p.debounced && len(p.seq) > 0 && now.Sub(p.lastEdge) >= p.flushAfter:
		flushed = p.drain()
	}

	return flushed
}

// acceptTransition commits a debounced edge: close->open appends a mark (or
// the canonical short release if the circuit was latched), open->close
// appends the preceding space.
func (p *Poller) acceptTransition(now time.Time, raw bool) code.Sequence {
	delta := int(now.Sub(p.lastEdge).Milliseconds())

	switch {
	case raw: // open -> closed
		p.seq = append(p.seq, code.Element(-delta))
	case p.latched: // closed(latched) -> open
		p.seq = append(p.seq, code.LongGapRenorm, code.Unlatch)
		p.latched = false
	default: // closed -> open, ordinary mark
		p.seq = append(p.seq, code.Element(delta))
	}

	p.debounced = raw
	p.lastEdge = now

	if len(p.seq) >= code.MaxSequence {
		return p.drain()
	}
	return nil
}

func (p *Poller) drain() code.Sequence {
	if len(p.seq) == 0 {
		return nil
	}
	seq := p.seq
	p.seq = nil
	return seq
}

// Close releases the underlying transport.
func (p *Poller) Close() error {
	return p.transport.Close()
}
