package hardware

import (
	"context"
	"sync"
	"time"
)

// PaddlePoller debounces two independent inputs (dit and dah) and forwards
// their transitions to a PaddleSink, for interfaces configured as a keyer
// per §4.D's "paddle mode".
type PaddlePoller struct {
	ditTransport Transport
	dahTransport Transport
	invert       bool
	sink         PaddleSink

	pollInterval time.Duration
	debounce     time.Duration

	mu  sync.Mutex
	dit edgeState
	dah edgeState
}

type edgeState struct {
	started      bool
	debounced    bool
	pendingRaw   bool
	pendingSince time.Time
}

// NewPaddlePoller builds a PaddlePoller. ditTransport and dahTransport may
// be the same underlying device read two different ways (as with
// SerialTransport.Sample/SampleDah) or two distinct GPIO lines.
func NewPaddlePoller(ditTransport, dahTransport Transport, invert bool, sink PaddleSink) *PaddlePoller {
	return &PaddlePoller{
		ditTransport: ditTransport,
		dahTransport: dahTransport,
		invert:       invert,
		sink:         sink,
		pollInterval: DefaultPollInterval,
		debounce:     DefaultDebounce,
	}
}

func (p *PaddlePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			ditRaw, err := p.ditTransport.Sample()
			if err != nil {
				return err
			}
			dahRaw, err := p.dahTransport.Sample()
			if err != nil {
				return err
			}
			if p.invert {
				ditRaw, dahRaw = !ditRaw, !dahRaw
			}
			p.tick(now, ditRaw, dahRaw)
		}
	}
}

func (p *PaddlePoller) tick(now time.Time, ditRaw, dahRaw bool) {
	p.mu.Lock()
	ditEdge, ditChanged := debounceEdge(&p.dit, now, ditRaw, p.debounce)
	dahEdge, dahChanged := debounceEdge(&p.dah, now, dahRaw, p.debounce)
	p.mu.Unlock()

	if ditChanged && p.sink != nil {
		p.sink.Dit(ditEdge)
	}
	if dahChanged && p.sink != nil {
		p.sink.Dah(dahEdge)
	}
}

// debounceEdge is the single-input version of Poller's debounce logic,
// reused for both paddle lines.
func debounceEdge(s *edgeState, now time.Time, raw bool, debounce time.Duration) (closed bool, changed bool) {
	if !s.started {
		s.started = true
		s.debounced = raw
		s.pendingRaw = raw
		s.pendingSince = now
		return s.debounced, false
	}
	if raw != s.pendingRaw {
		s.pendingRaw = raw
		s.pendingSince = now
		return s.debounced, false
	}
	if raw != s.debounced && now.Sub(s.pendingSince) >= debounce {
		s.debounced = raw
		return s.debounced, true
	}
	return s.debounced, false
}

func (p *PaddlePoller) Close() error {
	if err := p.ditTransport.Close(); err != nil {
		return err
	}
	if p.dahTransport != p.ditTransport {
		return p.dahTransport.Close()
	}
	return nil
}
