// Package sounder implements the SounderDriver component (§4.E): mode
// selection for a physical sounder and a synthesized one, and the
// sound_code realization of a code sequence against both.
package sounder

import (
	"sync"
	"time"

	"github.com/kobnet/kobengine/internal/code"
)

// Mode is a cell in one of the §4.E mode tables.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeEnergizeFollowKey
	ModeFollowKey
	ModeSoundLocalCode
	ModeSoundRemoteCode
	ModeSoundRecording
)

// InterfaceKind selects which of the two physical mode tables applies.
type InterfaceKind int

const (
	KindLoop InterfaceKind = iota
	KindKeyAndSounder
)

// modeFor implements the shared shape of both §4.E physical-sounder tables
// and the synth table: the virtual closer being open always wins (silence
// regardless of anything else); otherwise an open key circuit follows the
// key directly (idleMode); otherwise, with the circuit closed, a wire
// connection sounds the remote copy unless a local copy is also wanted, in
// which case local wins.
func modeFor(wireConnected, localCopy, keyCloserOpen, virtCloserOpen bool, idleMode Mode) Mode {
	if virtCloserOpen {
		return ModeDisabled
	}
	if keyCloserOpen {
		return idleMode
	}
	if wireConnected && !localCopy {
		return ModeSoundRemoteCode
	}
	if wireConnected || localCopy {
		return ModeSoundLocalCode
	}
	return idleMode
}

// PhysicalOutput drives the real sounder hardware (GPIO-backed, typically).
type PhysicalOutput interface {
	Energize() error
	Deenergize() error
}

// SynthVoice drives the synthesized audio sounder.
type SynthVoice interface {
	Click()
	Clack()
	ToneOn()
	ToneOff()
	UsesTone() bool // true for oscillator-style, false for impact-style
}

// Driver realizes the mode tables and sound_code against a physical output
// and/or a synth voice. Either may be nil if that half of the sounder is not
// configured.
type Driver struct {
	kind InterfaceKind

	physical PhysicalOutput
	synth    SynthVoice

	mu             sync.Mutex
	wireConnected  bool
	localCopy      bool
	keyCloserOpen  bool
	virtCloserOpen bool

	physMode  Mode
	synthMode Mode

	physEnergized  bool
	synthMarking   bool
	deadline       time.Time
	energizedSince time.Time

	powerSaveAfter time.Duration
	poweredDown    bool
	stopWatch      chan struct{}
}

// New builds a Driver. powerSaveAfter is the threshold from §4.E's
// power-save watcher; zero disables power-save.
func New(kind InterfaceKind, physical PhysicalOutput, synth SynthVoice, powerSaveAfter time.Duration) *Driver {
	d := &Driver{
		kind:           kind,
		physical:       physical,
		synth:          synth,
		powerSaveAfter: powerSaveAfter,
	}
	d.recomputeModes()
	return d
}

// SetCloserStates updates the four inputs that drive mode selection and
// re-consults both mode tables whenever any of them changes, per §4.E.
func (d *Driver) SetCloserStates(wireConnected, localCopy, keyCloserOpen, virtCloserOpen bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := wireConnected != d.wireConnected || localCopy != d.localCopy ||
		keyCloserOpen != d.keyCloserOpen || virtCloserOpen != d.virtCloserOpen
	prevVirtOpen := d.virtCloserOpen

	d.wireConnected, d.localCopy = wireConnected, localCopy
	d.keyCloserOpen, d.virtCloserOpen = keyCloserOpen, virtCloserOpen

	if changed {
		d.recomputeModes()
	}
	if prevVirtOpen && !virtCloserOpen {
		// Power-save is cancelled the instant the virtual closer shuts.
		d.poweredDown = false
	}
}

func (d *Driver) recomputeModes() {
	idlePhys := ModeFollowKey
	if d.kind == KindKeyAndSounder {
		idlePhys = ModeEnergizeFollowKey
	}
	d.physMode = modeFor(d.wireConnected, d.localCopy, d.keyCloserOpen, d.virtCloserOpen, idlePhys)
	d.synthMode = modeFor(d.wireConnected, d.localCopy, d.keyCloserOpen, d.virtCloserOpen, ModeFollowKey)
}

// eligibleFor reports whether mode should sound a code sequence from src.
// ModeFollowKey and ModeEnergizeFollowKey never do: those modes mean the
// sounder tracks the physical key line directly rather than software-timed
// code, so SoundCode is never the one driving it.
func eligibleFor(mode Mode, src code.Source) bool {
	switch mode {
	case ModeSoundLocalCode:
		return src == code.SourceKey || src == code.SourceKeyboard || src == code.SourceKeyer
	case ModeSoundRemoteCode:
		return src == code.SourceWire
	case ModeSoundRecording:
		return src == code.SourcePlayer
	default:
		return false
	}
}

// SoundCode realizes seq against whichever sounders are eligible for src's
// mode, advancing a monotonic deadline so successive calls don't drift, per
// §4.E. It blocks for the real duration of seq; callers run it on its own
// goroutine per source.
func (d *Driver) SoundCode(seq code.Sequence, src code.Source) {
	d.mu.Lock()
	physOn := eligibleFor(d.physMode, src)
	synthOn := eligibleFor(d.synthMode, src)
	if physOn {
		// Any sounded sequence cancels power-save, matching PyKOB's
		// power_save(False) at the top of soundCode: a legitimate event
		// always gets to re-energize, never stays silenced by a prior idle
		// timeout.
		d.poweredDown = false
	}
	if d.deadline.Before(time.Now()) {
		d.deadline = time.Now()
	}
	deadline := d.deadline
	d.mu.Unlock()

	for _, el := range seq {
		switch {
		case el == code.Latch:
			d.energize(physOn, synthOn)
		case el == code.Unlatch:
			d.deenergize(physOn, synthOn)
		case el.IsMark():
			d.energize(physOn, synthOn)
			deadline = deadline.Add(time.Duration(el) * time.Millisecond)
			sleepUntil(deadline)
		case el.IsSpace():
			d.deenergize(physOn, synthOn)
			gap := el.Normalize()
			deadline = deadline.Add(time.Duration(-gap) * time.Millisecond)
			sleepUntil(deadline)
		}
	}

	d.mu.Lock()
	d.deadline = deadline
	d.mu.Unlock()
}

func sleepUntil(t time.Time) {
	if d := time.Until(t); d > 0 {
		time.Sleep(d)
	}
}

func (d *Driver) energize(physOn, synthOn bool) {
	d.mu.Lock()
	if physOn && d.physical != nil && !d.physEnergized && !d.poweredDown {
		d.physical.Energize()
		d.physEnergized = true
		d.energizedSince = time.Now()
	}
	if synthOn && d.synth != nil && !d.synthMarking {
		if d.synth.UsesTone() {
			d.synth.ToneOn()
		} else {
			d.synth.Click()
		}
		d.synthMarking = true
	}
	d.mu.Unlock()
}

func (d *Driver) deenergize(physOn, synthOn bool) {
	d.mu.Lock()
	if d.physical != nil && d.physEnergized {
		d.physical.Deenergize()
		d.physEnergized = false
	}
	if synthOn && d.synth != nil && d.synthMarking {
		if d.synth.UsesTone() {
			d.synth.ToneOff()
		} else {
			d.synth.Clack()
		}
		d.synthMarking = false
	}
	d.mu.Unlock()
}

// powerSaveEligible reports whether the current physical mode allows
// power-save to de-energize an idle-but-still-marked sounder.
func (d *Driver) powerSaveEligible() bool {
	switch d.physMode {
	case ModeFollowKey, ModeEnergizeFollowKey, ModeDisabled:
		return false
	default:
		return true
	}
}

// StartPowerSaveWatcher runs the twice-a-second poll described in §4.E until
// Stop is called. It is a no-op if powerSaveAfter is zero.
func (d *Driver) StartPowerSaveWatcher() {
	if d.powerSaveAfter <= 0 {
		return
	}
	d.stopWatch = make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-d.stopWatch:
				return
			case <-ticker.C:
				d.checkPowerSave()
			}
		}
	}()
}

func (d *Driver) checkPowerSave() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.powerSaveEligible() || !d.physEnergized || d.poweredDown {
		return
	}
	if time.Since(d.energizedSince) < d.powerSaveAfter {
		return
	}
	if d.physical != nil {
		d.physical.Deenergize()
	}
	d.physEnergized = false
	d.poweredDown = true
}

// StopPowerSaveWatcher stops the watcher goroutine, if running.
func (d *Driver) StopPowerSaveWatcher() {
	if d.stopWatch != nil {
		close(d.stopWatch)
		d.stopWatch = nil
	}
}
