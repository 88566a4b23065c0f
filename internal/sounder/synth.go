package sounder

import (
	"math"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// sampleRate matches the teacher's audio_config_p.samples_per_sec default;
// we don't need a configurable device, only a stream to carry the tone.
const sampleRate = 44100

// ticksPerCycle and the phase accumulator below are the same fixed-point
// technique as the teacher's morse_tone: the top byte of a wrapping counter
// indexes a precomputed sine table, so advancing phase is one integer add
// per sample instead of a sin() call.
const ticksPerCycle = 256.0 * 256.0 * 256.0 * 256.0

var sineTable [256]int16

func init() {
	for j := range sineTable {
		a := (float64(j) / 256.0) * (2 * math.Pi)
		sineTable[j] = int16(math.Sin(a) * 32767.0 * 0.6)
	}
}

// ToneVoice is a portaudio-backed SynthVoice that oscillates at toneHz while
// marked and falls silent otherwise — the "tone-on/tone-off" style from
// §4.E, for interfaces configured to sound like a radio rather than a
// sounder.
type ToneVoice struct {
	stream       *portaudio.Stream
	phase        uint32
	phaseAdvance uint32
	marking      int32 // atomic bool
}

// NewToneVoice opens a portaudio output stream oscillating at toneHz.
func NewToneVoice(toneHz float64) (*ToneVoice, error) {
	v := &ToneVoice{
		phaseAdvance: uint32(toneHz*ticksPerCycle/sampleRate + 0.5),
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, sampleRate, 0, v.callback)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		return nil, err
	}
	v.stream = stream
	return v, nil
}

func (v *ToneVoice) callback(out []int16) {
	if atomic.LoadInt32(&v.marking) == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	for i := range out {
		v.phase += v.phaseAdvance
		out[i] = sineTable[(v.phase>>24)&0xff]
	}
}

func (v *ToneVoice) ToneOn()       { atomic.StoreInt32(&v.marking, 1) }
func (v *ToneVoice) ToneOff()      { atomic.StoreInt32(&v.marking, 0) }
func (v *ToneVoice) Click()        {}
func (v *ToneVoice) Clack()        {}
func (v *ToneVoice) UsesTone() bool { return true }

// Close stops and closes the underlying stream.
func (v *ToneVoice) Close() error {
	if v.stream == nil {
		return nil
	}
	if err := v.stream.Stop(); err != nil {
		return err
	}
	return v.stream.Close()
}

// ClickClackVoice is a portaudio-backed SynthVoice that plays a short
// decaying impact sample on each key-down (click) and key-up (clack),
// mimicking a real sounder's armature strike rather than a radio tone.
type ClickClackVoice struct {
	stream *portaudio.Stream

	pending  int32 // atomic bool: a one-shot impulse is queued
	clackLow int32 // atomic bool: queued impulse should use the lower clack pitch
	phase    uint32
}

// NewClickClackVoice opens a portaudio output stream that plays brief
// impulses on demand.
func NewClickClackVoice() (*ClickClackVoice, error) {
	v := &ClickClackVoice{}
	stream, err := portaudio.OpenDefaultStream(0, 1, sampleRate, 0, v.callback)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		return nil, err
	}
	v.stream = stream
	return v, nil
}

// impulseSamples mirrors morse_tone's nsamples-loop shape: a
// short fixed run of samples through the same sine table, decaying to
// silence by the end so the impulse doesn't click on exit.
const impulseSamples = sampleRate / 100 // 10ms

func (v *ClickClackVoice) callback(out []int16) {
	if atomic.LoadInt32(&v.pending) == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	atomic.StoreInt32(&v.pending, 0)
	hz := 1200.0
	if atomic.LoadInt32(&v.clackLow) != 0 {
		hz = 700.0
	}
	advance := uint32(hz*ticksPerCycle/sampleRate + 0.5)
	for i := range out {
		if i >= impulseSamples {
			out[i] = 0
			continue
		}
		v.phase += advance
		decay := 1.0 - float64(i)/float64(impulseSamples)
		out[i] = int16(float64(sineTable[(v.phase>>24)&0xff]) * decay)
	}
}

func (v *ClickClackVoice) fire(low bool) {
	if low {
		atomic.StoreInt32(&v.clackLow, 1)
	} else {
		atomic.StoreInt32(&v.clackLow, 0)
	}
	atomic.StoreInt32(&v.pending, 1)
}

func (v *ClickClackVoice) Click()        { v.fire(false) }
func (v *ClickClackVoice) Clack()        { v.fire(true) }
func (v *ClickClackVoice) ToneOn()       {}
func (v *ClickClackVoice) ToneOff()      {}
func (v *ClickClackVoice) UsesTone() bool { return false }

// Close stops and closes the underlying stream.
func (v *ClickClackVoice) Close() error {
	if v.stream == nil {
		return nil
	}
	if err := v.stream.Stop(); err != nil {
		return err
	}
	return v.stream.Close()
}
