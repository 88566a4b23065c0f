// Package engine implements the Orchestrator component (§4.I): it binds
// together one Encoder, one Decoder, one HardwareKey poller, one Keyer, one
// SounderDriver, one Recorder writer/player and one WireClient, and
// coordinates a single logical "local sender" across key, keyboard, keyer
// and playback.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/hardware"
	"github.com/kobnet/kobengine/internal/morse"
	"github.com/kobnet/kobengine/internal/recorder"
	"github.com/kobnet/kobengine/internal/sounder"
	"github.com/kobnet/kobengine/internal/wire"
)

// localEmitFIFODepth bounds the FIFO from §4.I / §5: producers block rather
// than the orchestrator dropping code, which would violate "at most one
// local source may inject code at any instant" by letting a producer race
// ahead of the single consumer.
const localEmitFIFODepth = 32

// disconnectFollowup is the delay before a disconnect's cleanup actions run,
// per §4.I.
const disconnectFollowup = 800 * time.Millisecond

// doneDelay is the short delay before a local-emit done callback fires, so a
// keyboard sender's per-character gate releases slightly after the code has
// actually been dispatched downstream rather than synchronously in the
// consumer loop (§4.I step 3).
const doneDelay = 2 * time.Millisecond

// localEmit is one item of the bounded FIFO described in §4.I / §5.
type localEmit struct {
	seq    code.Sequence
	source code.Source
	done   func()
}

// Callbacks bundles the observer capabilities an Engine invokes, replacing
// the source's duck-typed callback objects with explicit function values
// per §9's "Replacement of dynamic constructs".
type Callbacks struct {
	// OnChar receives every decoded character, from any source.
	OnChar func(text string, spacingFactor float64)
	// OnSenderChanged fires before the first character of a new sender,
	// whether that sender is local, remote, or a recording.
	OnSenderChanged func(stationID string)
	// OnError surfaces configuration and wire-connect errors, the only
	// failures this engine propagates to its embedder (§7).
	OnError func(err error)
	// OnStatus carries everything else: transport withdrawn, disconnect,
	// playback finished, and similar non-fatal notices (§7).
	OnStatus func(msg string)
}

func (c Callbacks) char(text string, spacing float64) {
	if c.OnChar != nil {
		c.OnChar(text, spacing)
	}
}
func (c Callbacks) senderChanged(id string) {
	if c.OnSenderChanged != nil {
		c.OnSenderChanged(id)
	}
}
func (c Callbacks) status(format string, args ...any) {
	if c.OnStatus != nil {
		c.OnStatus(fmt.Sprintf(format, args...))
	}
}
func (c Callbacks) err(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Engine is the orchestrator: it owns every other component and is the only
// type the surrounding CLI/GUI tools talk to directly.
type Engine struct {
	stationID string

	encoder *morse.Encoder
	decoder *morse.Decoder
	sounder *sounder.Driver

	cb Callbacks

	mu                    sync.Mutex
	wireClient            *wire.Client
	writer                *recorder.Writer
	player                *recorder.Player
	wireConnected         bool
	remoteSendEnabled     bool
	soundLocalCopy        bool
	keyCloserOpen         bool
	virtualCloserOpen     bool
	internetStationActive bool
	recordingEnabled      bool
	lastAnnouncedSender   string
	disconnectTimer       *time.Timer

	localEmitCh chan localEmit
	shutdownCh  chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	shutdownWG  sync.WaitGroup
	shutOnce    sync.Once
}

// New builds an Engine around already-constructed components. Hardware,
// keyer, wire and recorder attachments are optional and done afterward via
// Attach*, matching §4.D/F/G/H's "withdrawn, not fatal" failure modes: a
// caller that couldn't open the key transport simply never attaches one.
func New(stationID string, enc *morse.Encoder, dec *morse.Decoder, snd *sounder.Driver, cb Callbacks) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		stationID:         stationID,
		encoder:           enc,
		decoder:           dec,
		sounder:           snd,
		cb:                cb,
		virtualCloserOpen: true,
		localEmitCh:       make(chan localEmit, localEmitFIFODepth),
		shutdownCh:        make(chan struct{}),
		ctx:               ctx,
		cancel:            cancel,
	}
	dec.SetCallback(func(text string, spacing float64) { cb.char(text, spacing) })
	e.recomputeSounderModes()
	return e
}

// Start launches the single local-emit consumer goroutine (§5
// "Orchestrator-emit"). Hardware, keyer, and wire goroutines are started by
// their respective Attach* calls.
func (e *Engine) Start() {
	e.shutdownWG.Add(1)
	go e.emitLoop()
	e.sounder.StartPowerSaveWatcher()
}

// Exit shuts every owned goroutine down and is idempotent (§7 "Shutdown in
// progress"). It does not return until the emit loop has drained its
// current item or the bounded timeout below elapses.
func (e *Engine) Exit() {
	e.shutOnce.Do(func() {
		close(e.shutdownCh)
		e.cancel()
		e.sounder.StopPowerSaveWatcher()

		// The wire client's read loop only returns once its socket is
		// closed, and the player's loop only returns once Stop is called;
		// both must be released before waiting on the WaitGroup below or
		// Exit would deadlock against its own goroutines.
		e.mu.Lock()
		if e.wireClient != nil {
			e.wireClient.Close()
		}
		if e.player != nil {
			e.player.Stop()
		}
		e.mu.Unlock()

		done := make(chan struct{})
		go func() { e.shutdownWG.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			// Resources abandoned so the process can still exit, per §5.
		}

		e.mu.Lock()
		if e.writer != nil {
			e.writer.Close()
		}
		e.mu.Unlock()
	})
}

func (e *Engine) isShutdown() bool {
	select {
	case <-e.shutdownCh:
		return true
	default:
		return false
	}
}

// --- hardware / keyer attachment --------------------------------------

// AttachHardware starts poller's sampling loop (its OnCode should be
// e.KeyCallback) and keeps it running until Exit cancels the Engine's
// context, per the §5 "HardwareKey-poll" thread's "shutdown event"
// cancellation.
func (e *Engine) AttachHardware(poller *hardware.Poller) {
	e.shutdownWG.Add(1)
	go func() {
		defer e.shutdownWG.Done()
		poller.Run(e.ctx)
		poller.Close()
	}()
}

// AttachPaddle is the paddle-mode counterpart of AttachHardware, for
// interfaces configured as a keyer (§4.D "paddle mode").
func (e *Engine) AttachPaddle(poller *hardware.PaddlePoller) {
	e.shutdownWG.Add(1)
	go func() {
		defer e.shutdownWG.Done()
		poller.Run(e.ctx)
		poller.Close()
	}()
}

// AttachKeyer starts k's emitter loop, stopping it when Exit cancels the
// Engine's context. k's OnCode should be e.KeyerCallback.
func (e *Engine) AttachKeyer(run func(ctx context.Context) error) {
	e.shutdownWG.Add(1)
	go func() {
		defer e.shutdownWG.Done()
		run(e.ctx)
	}()
}

// KeyCallback is what a hardware.Poller (constructed with this as its
// OnCode) or a software key source should call with each code batch.
func (e *Engine) KeyCallback(seq code.Sequence) {
	e.EnqueueLocal(seq, code.SourceKey, nil)
}

// KeyerCallback is what a keyer.Keyer (constructed with this as its OnCode)
// should call with each finished batch; pair it with AttachKeyer(k.Run).
func (e *Engine) KeyerCallback(seq code.Sequence) {
	e.EnqueueLocal(seq, code.SourceKeyer, nil)
}

// --- closer semantics --------------------------------------------------

// SetVirtualCloserOpen implements §4.I's closer semantics. A call that
// doesn't change the state is a no-op and emits no code, satisfying the
// idempotence property in §8. A transition emits the canonical closer
// packet through the same pipeline as any other local code, and a
// true->false transition (closing) flushes the decoder on its falling
// edge.
func (e *Engine) SetVirtualCloserOpen(open bool) {
	e.mu.Lock()
	if e.virtualCloserOpen == open {
		e.mu.Unlock()
		return
	}
	e.virtualCloserOpen = open
	e.mu.Unlock()

	e.recomputeSounderModes()
	e.EnqueueLocal(code.ClosedSequence(!open), code.SourceKeyboard, nil)

	if !open {
		e.decoder.Flush()
	}
}

// SetKeyCloserOpen updates the tracked state of the physical key's closer,
// for interfaces where §4.D's no_key_closer configuration means the
// orchestrator (rather than the hardware itself) tracks it in software.
func (e *Engine) SetKeyCloserOpen(open bool) {
	e.mu.Lock()
	e.keyCloserOpen = open
	e.mu.Unlock()
	e.recomputeSounderModes()
}

func (e *Engine) recomputeSounderModes() {
	e.mu.Lock()
	wireConnected := e.wireConnected
	soundLocal := e.soundLocalCopy
	keyOpen := e.keyCloserOpen
	virtOpen := e.virtualCloserOpen
	e.mu.Unlock()
	e.sounder.SetCloserStates(wireConnected, soundLocal, keyOpen, virtOpen)
}

// SetSoundLocalCopy toggles whether locally-sent code is also sounded when
// the wire is connected (the "sound_local_copy" environment boolean of the
// §4.E mode tables).
func (e *Engine) SetSoundLocalCopy(on bool) {
	e.mu.Lock()
	e.soundLocalCopy = on
	e.mu.Unlock()
	e.recomputeSounderModes()
}

// --- local-emit pipeline -------------------------------------------------

// EnqueueLocal pushes one producer's code sequence onto the bounded FIFO.
// done, if non-nil, is invoked (after a short delay, per §4.I step 3) once
// the sequence has been dispatched. Calls after Exit are no-ops per §7.
func (e *Engine) EnqueueLocal(seq code.Sequence, source code.Source, done func()) {
	if e.isShutdown() || len(seq) == 0 {
		if done != nil {
			done()
		}
		return
	}
	select {
	case e.localEmitCh <- localEmit{seq: seq, source: source, done: done}:
	case <-e.shutdownCh:
		if done != nil {
			done()
		}
	}
}

// InjectText encodes each character of text through the Encoder and
// enqueues it as a keyboard-sourced local emit, returning only once every
// character has been accepted onto the FIFO (not sounded — sounding is
// asynchronous). gate, if non-nil, is called once per character after it
// has cleared the FIFO, letting a caller pace keyboard echo to real speed.
func (e *Engine) InjectText(text string, gate func()) {
	for _, ch := range text {
		seq := e.encoder.Encode(ch)
		if len(seq) == 0 {
			if gate != nil {
				gate()
			}
			continue
		}
		e.EnqueueLocal(seq, code.SourceKeyboard, gate)
	}
}

// emitLoop is the single consumer of the local-emit FIFO (§5
// "Orchestrator-emit"): it imposes a total order across every local source
// by dequeuing one at a time.
func (e *Engine) emitLoop() {
	defer e.shutdownWG.Done()
	for {
		select {
		case <-e.shutdownCh:
			return
		case item := <-e.localEmitCh:
			e.processLocalEmit(item)
		}
	}
}

func (e *Engine) processLocalEmit(item localEmit) {
	e.mu.Lock()
	internetActive := e.internetStationActive
	wireConnected := e.wireConnected
	remoteSend := e.remoteSendEnabled
	recording := e.recordingEnabled
	writer := e.writer
	wireClient := e.wireClient
	e.mu.Unlock()

	if !internetActive {
		e.announceLocalSender()
		if recording && writer != nil {
			writer.Append(recorder.Record{
				TS:   time.Now().UnixMilli(),
				Sta:  e.stationID,
				Src:  item.source,
				Code: item.seq,
			})
		}
		if wireConnected && remoteSend && wireClient != nil {
			if err := wireClient.Write(item.seq); err != nil {
				e.cb.status("wire write failed: %v", err)
			}
		}
		e.decoder.Decode(item.seq)
	}

	// The hardware key already sounded itself via its own physical/synth
	// coupling at the moment of keying; re-sounding it here would double it.
	if item.source != code.SourceKey {
		e.sounder.SoundCode(item.seq, item.source)
	}

	if item.done != nil {
		time.AfterFunc(doneDelay, item.done)
	}
}

func (e *Engine) announceLocalSender() {
	e.mu.Lock()
	changed := e.lastAnnouncedSender != e.stationID
	e.lastAnnouncedSender = e.stationID
	e.mu.Unlock()
	if changed {
		e.cb.senderChanged(e.stationID)
	}
}

// --- wire attachment & remote-receive pipeline --------------------------

// AttachWire installs client as this Engine's wire connection and starts its
// read loop. The Engine implements wire.StationObserver; AttachWire does not
// install it, so client must already have been built by wire.New with this
// Engine as its observer.
func (e *Engine) AttachWire(client *wire.Client) {
	e.mu.Lock()
	e.wireClient = client
	e.mu.Unlock()

	e.shutdownWG.Add(1)
	go func() {
		defer e.shutdownWG.Done()
		if err := client.Run(); err != nil {
			e.cb.status("wire read loop ended: %v", err)
		}
	}()
}

// Connect marks the wire connected, recomputes sounder modes, and tells
// client to announce presence. Connect errors are surfaced to the embedder
// per §7.
func (e *Engine) Connect() error {
	e.mu.Lock()
	client := e.wireClient
	e.mu.Unlock()
	if client == nil {
		return fmt.Errorf("engine: no wire client attached")
	}
	if err := client.Connect(); err != nil {
		e.cb.err(err)
		return err
	}
	e.mu.Lock()
	e.wireConnected = true
	e.mu.Unlock()
	e.recomputeSounderModes()
	return nil
}

// SetRemoteSendEnabled toggles whether locally-sent code is also written to
// the wire (the "remote" configuration key).
func (e *Engine) SetRemoteSendEnabled(on bool) {
	e.mu.Lock()
	e.remoteSendEnabled = on
	e.mu.Unlock()
}

// Disconnect sends the disconnect packet and schedules the §4.I follow-up:
// after disconnectFollowup, latch the decoder closed, flush it, clear the
// station list, and (if the virtual closer is open) re-energize the
// sounder to its idle "circuit closed" position.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	client := e.wireClient
	e.wireConnected = false
	if e.disconnectTimer != nil {
		e.disconnectTimer.Stop()
	}
	e.mu.Unlock()

	if client != nil {
		if err := client.Disconnect(); err != nil {
			e.cb.status("disconnect failed: %v", err)
		}
	}
	e.recomputeSounderModes()

	e.mu.Lock()
	e.disconnectTimer = time.AfterFunc(disconnectFollowup, e.disconnectFollowup)
	e.mu.Unlock()
}

func (e *Engine) disconnectFollowup() {
	e.decoder.Decode(code.Sequence{code.DiscontinuitySpace, code.Latch})
	e.decoder.Flush()

	e.mu.Lock()
	client := e.wireClient
	virtOpen := e.virtualCloserOpen
	e.mu.Unlock()

	if client != nil {
		client.ClearStations()
	}
	if virtOpen {
		e.sounder.SoundCode(code.Sequence{code.Latch}, code.SourceKey)
	}
}

// OnSenderChanged implements wire.StationObserver.
func (e *Engine) OnSenderChanged(stationID string) {
	e.mu.Lock()
	e.lastAnnouncedSender = stationID
	e.mu.Unlock()
	e.cb.senderChanged(stationID)
}

// OnCodeReceived implements wire.StationObserver: the remote-receive
// pipeline of §4.I. Sounding runs on its own goroutine so a long remote
// sequence never blocks the wire's read loop.
func (e *Engine) OnCodeReceived(seq code.Sequence) {
	e.decoder.Decode(seq)

	e.mu.Lock()
	recording := e.recordingEnabled
	writer := e.writer
	e.mu.Unlock()

	if recording && writer != nil {
		writer.Append(recorder.Record{
			TS:   time.Now().UnixMilli(),
			Sta:  e.wireSender(),
			Src:  code.SourceWire,
			Code: seq,
		})
	}

	e.updateInternetStationActive(seq)
	go e.sounder.SoundCode(seq, code.SourceWire)
}

func (e *Engine) wireSender() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wireClient == nil {
		return ""
	}
	return e.wireClient.CurrentSender()
}

// updateInternetStationActive implements §4.I: "the flag goes false on the
// trailing +1, true otherwise."
func (e *Engine) updateInternetStationActive(seq code.Sequence) {
	if len(seq) == 0 {
		return
	}
	active := seq[len(seq)-1] != code.Latch
	e.mu.Lock()
	e.internetStationActive = active
	e.mu.Unlock()
}

// --- recording -----------------------------------------------------------

// StartRecording attaches writer and enables recording of every local and
// remote code sequence, suppressed automatically while a Player on the same
// Engine is active (enforced inside recorder.Writer itself).
func (e *Engine) StartRecording(writer *recorder.Writer) {
	e.mu.Lock()
	e.writer = writer
	e.recordingEnabled = true
	if e.player != nil {
		writer.LinkPlaybackGate(e.player.PlayingFlag())
	}
	e.mu.Unlock()
}

// StopRecording disables recording and closes the writer.
func (e *Engine) StopRecording() {
	e.mu.Lock()
	w := e.writer
	e.writer = nil
	e.recordingEnabled = false
	e.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

// --- playback --------------------------------------------------------------

// StartPlayback opens path and begins delivering its recorded code through
// the same local-emit pipeline as any other local source (§4.I: "playback
// thread" is one of the FIFO's producers).
func (e *Engine) StartPlayback(path string, maxSilence time.Duration, speedFactor int) error {
	player := recorder.New(
		func(seq code.Sequence, src code.Source) { e.EnqueueLocal(seq, src, nil) },
		func(stationID string) { e.cb.senderChanged(stationID) },
		maxSilence,
	)
	player.SetSpeedFactor(speedFactor)

	e.mu.Lock()
	e.player = player
	if e.writer != nil {
		e.writer.LinkPlaybackGate(player.PlayingFlag())
	}
	e.mu.Unlock()

	if err := player.Start(path); err != nil {
		return err
	}
	e.cb.status("playback started: %s", path)
	return nil
}

// StopPlayback halts the active player, if any.
func (e *Engine) StopPlayback() {
	e.mu.Lock()
	p := e.player
	e.player = nil
	e.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// SeekPlayback is a thin pass-through to the active Player's seek
// operations, a no-op if no playback is active.
func (e *Engine) SeekPlayback(delta time.Duration) {
	e.mu.Lock()
	p := e.player
	e.mu.Unlock()
	if p != nil {
		p.SeekSeconds(delta)
	}
}

// SeekPlaybackToSenderBoundary is a thin pass-through to the active
// Player's sender-boundary seek, a no-op if no playback is active.
func (e *Engine) SeekPlaybackToSenderBoundary(toStart bool) {
	e.mu.Lock()
	p := e.player
	e.mu.Unlock()
	if p != nil {
		p.SeekToSenderBoundary(toStart)
	}
}
