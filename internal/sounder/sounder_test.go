package sounder

import (
	"testing"
	"time"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePhysical struct {
	events []string
}

func (f *fakePhysical) Energize() error   { f.events = append(f.events, "on"); return nil }
func (f *fakePhysical) Deenergize() error { f.events = append(f.events, "off"); return nil }

type fakeVoice struct {
	events []string
	tone   bool
}

func (f *fakeVoice) Click()         { f.events = append(f.events, "click") }
func (f *fakeVoice) Clack()         { f.events = append(f.events, "clack") }
func (f *fakeVoice) ToneOn()        { f.events = append(f.events, "tone-on") }
func (f *fakeVoice) ToneOff()       { f.events = append(f.events, "tone-off") }
func (f *fakeVoice) UsesTone() bool { return f.tone }

func TestLoopModeTableFollowsKeyWhenIdle(t *testing.T) {
	phys := &fakePhysical{}
	d := New(KindLoop, phys, nil, 0)
	d.SetCloserStates(false, false, true, false)
	d.SoundCode(code.Sequence{5, -5}, code.SourceKey)
	assert.Empty(t, phys.events, "ModeFollowKey never energizes from a code sequence, only from the physical key edges directly")
}

func TestLoopModeTableSoundsLocalCodeWithCopy(t *testing.T) {
	phys := &fakePhysical{}
	d := New(KindLoop, phys, nil, 0)
	// wireConnected=false, localCopy=true -> row 1; key/virt both closed -> col 0.
	d.SetCloserStates(false, true, false, false)
	d.SoundCode(code.Sequence{5, -5}, code.SourceKey)
	require.Len(t, phys.events, 2)
	assert.Equal(t, []string{"on", "off"}, phys.events)
}

func TestLoopModeTableIgnoresRemoteCodeWhenSourceIsLocal(t *testing.T) {
	phys := &fakePhysical{}
	d := New(KindLoop, phys, nil, 0)
	// wireConnected=true, localCopy=false -> row 2 -> ModeSoundRemoteCode.
	d.SetCloserStates(true, false, false, false)
	d.SoundCode(code.Sequence{5, -5}, code.SourceKey)
	assert.Empty(t, phys.events, "remote-code mode must not sound a locally-sourced sequence")

	d.SoundCode(code.Sequence{5, -5}, code.SourceWire)
	assert.Equal(t, []string{"on", "off"}, phys.events)
}

func TestVirtualCloserOpenDisablesSounder(t *testing.T) {
	phys := &fakePhysical{}
	d := New(KindLoop, phys, nil, 0)
	d.SetCloserStates(true, true, false, true) // virt open -> col 1 -> ModeDisabled
	d.SoundCode(code.Sequence{5, -5}, code.SourceWire)
	assert.Empty(t, phys.events)
}

func TestSoundCodeDrivesToneVoiceOnMarks(t *testing.T) {
	voice := &fakeVoice{tone: true}
	d := New(KindKeyAndSounder, nil, voice, 0)
	d.SetCloserStates(false, true, false, false)

	start := time.Now()
	d.SoundCode(code.Sequence{3, -3}, code.SourceKey)
	elapsed := time.Since(start)

	require.Equal(t, []string{"tone-on", "tone-off"}, voice.events)
	assert.GreaterOrEqual(t, elapsed, 6*time.Millisecond, "SoundCode should block for the real duration of the sequence")
}

func TestSoundCodeNormalizesOverlongGapBeforeSounding(t *testing.T) {
	voice := &fakeVoice{tone: false}
	d := New(KindKeyAndSounder, nil, voice, 0)
	d.SetCloserStates(false, true, false, false)

	start := time.Now()
	d.SoundCode(code.Sequence{5, -5000}, code.SourceKey)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond, "an overlong gap must be renormalized to LongGapRenorm before sounding, not waited out literally")
	assert.Equal(t, []string{"click", "clack"}, voice.events)
}

func TestLatchAndUnlatchEnergizeAndReleaseWithoutTiming(t *testing.T) {
	phys := &fakePhysical{}
	d := New(KindLoop, phys, nil, 0)
	d.SetCloserStates(false, true, false, false)

	d.SoundCode(code.Sequence{code.Latch}, code.SourceKey)
	assert.Equal(t, []string{"on"}, phys.events)

	d.SoundCode(code.Sequence{code.Unlatch}, code.SourceKey)
	assert.Equal(t, []string{"on", "off"}, phys.events)
}

func TestPowerSaveDeenergizesAfterThreshold(t *testing.T) {
	phys := &fakePhysical{}
	d := New(KindLoop, phys, nil, 20*time.Millisecond)
	d.SetCloserStates(false, true, false, false)

	d.SoundCode(code.Sequence{code.Latch}, code.SourceKey)
	require.Equal(t, []string{"on"}, phys.events)

	time.Sleep(40 * time.Millisecond)
	d.checkPowerSave()

	assert.Equal(t, []string{"on", "off"}, phys.events)
	assert.True(t, d.poweredDown)
}

func TestSoundCodeReEnergizesAfterPowerSave(t *testing.T) {
	phys := &fakePhysical{}
	d := New(KindLoop, phys, nil, 20*time.Millisecond)
	d.SetCloserStates(false, true, false, false)

	d.SoundCode(code.Sequence{code.Latch}, code.SourceKey)
	require.Equal(t, []string{"on"}, phys.events)

	time.Sleep(40 * time.Millisecond)
	d.checkPowerSave()
	require.Equal(t, []string{"on", "off"}, phys.events, "power-save should have de-energized the idle sounder")
	require.True(t, d.poweredDown)

	d.SoundCode(code.Sequence{5, -5}, code.SourceKey)
	assert.Equal(t, []string{"on", "off", "on", "off"}, phys.events, "a fresh mark must re-energize the sounder, not stay blocked by the prior power-save")
	assert.False(t, d.poweredDown)
}

func TestVirtualCloserClosingCancelsPowerSave(t *testing.T) {
	phys := &fakePhysical{}
	d := New(KindLoop, phys, nil, 20*time.Millisecond)
	d.SetCloserStates(false, true, false, false)
	d.SoundCode(code.Sequence{code.Latch}, code.SourceKey)

	time.Sleep(40 * time.Millisecond)
	d.checkPowerSave()
	require.True(t, d.poweredDown)

	// virt closer transitions open->closed: power-save state resets.
	d.SetCloserStates(false, true, false, true)
	d.SetCloserStates(false, true, false, false)
	assert.False(t, d.poweredDown)
}
