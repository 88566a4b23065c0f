package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kobnet/kobengine/internal/code"
)

// indexEntry is one line of the in-memory index built on load: its
// timestamp, its byte offset in the file, and whether the sender changed
// from the previous record at this point (§3: "(timestamp, file_offset,
// sender_changed?) tuples").
type indexEntry struct {
	ts            int64
	offset        int64
	senderChanged bool
	sender        string
}

// OnCode delivers one decoded record's code sequence to the engine, exactly
// as every other source does.
type OnCode func(seq code.Sequence, src code.Source)

// OnSenderChanged announces a playback sender boundary to the text sink,
// ahead of any character from the new sender (§8 scenario 4).
type OnSenderChanged func(stationID string)

// Player reads a recording file sequentially, pacing delivery to wall-clock
// time, per §4.H. One Player reads one file at a time; Start may be called
// again after Stop with a different path.
type Player struct {
	onCode      OnCode
	onSender    OnSenderChanged
	maxSilence  time.Duration
	speedFactor int // percent; 100 = unmodified

	playing int32 // atomic bool, also consulted by a linked Writer's gate

	mu       sync.Mutex
	f        *os.File
	path     string
	index    []indexEntry
	stations map[string]struct{}
	firstTS  int64
	lastTS   int64
	maxGap   time.Duration

	pos          int // next index entry to deliver
	lastDelivTS  int64
	baselineWall time.Time

	pauseMu sync.Mutex
	paused  bool
	pauseCh chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Player. maxSilence clamps any single inter-record gap;
// zero means unbounded (honor recorded delays exactly).
func New(onCode OnCode, onSender OnSenderChanged, maxSilence time.Duration) *Player {
	return &Player{
		onCode:      onCode,
		onSender:    onSender,
		maxSilence:  maxSilence,
		speedFactor: 100,
	}
}

// PlayingFlag exposes the atomic "is a playback in progress" flag for a
// Writer on the same engine instance to gate its Append calls against.
func (p *Player) PlayingFlag() *int32 { return &p.playing }

func playingActive(flag *int32) bool { return atomic.LoadInt32(flag) != 0 }

// SetSpeedFactor scales non-sentinel code elements by 100/speedFactor, per
// §4.H. 100 is unmodified speed; 200 plays twice as fast.
func (p *Player) SetSpeedFactor(pct int) {
	if pct <= 0 {
		pct = 100
	}
	p.mu.Lock()
	p.speedFactor = pct
	p.mu.Unlock()
}

// buildIndex scans path once, recording a (ts, offset, senderChanged) tuple
// per line and the full station set, per §3's Recording data model.
func buildIndex(path string) ([]indexEntry, map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var idx []indexEntry
	stations := map[string]struct{}{}
	prevSender := ""
	first := true

	r := bufio.NewReader(f)
	var offset int64
	for {
		lineStart := offset
		line, err := r.ReadString('\n')
		offset += int64(len(line))
		trimmed := strings.TrimRight(line, "\n")
		if strings.TrimSpace(trimmed) != "" {
			var rec Record
			if jerr := json.Unmarshal([]byte(trimmed), &rec); jerr != nil {
				// Malformed line: skipped without being logged; the index
				// just omits it (§7 "Playback errors").
			} else {
				stations[rec.Sta] = struct{}{}
				changed := !first && rec.Sta != prevSender
				idx = append(idx, indexEntry{ts: rec.TS, offset: lineStart, senderChanged: changed, sender: rec.Sta})
				prevSender = rec.Sta
				first = false
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, err
		}
	}
	return idx, stations, nil
}

// Start opens path, builds the index, and begins the delivery loop on its
// own goroutine. It blocks only long enough to build the index (O(n) once,
// matching §3's "built on load").
func (p *Player) Start(path string) error {
	idx, stations, err := buildIndex(path)
	if err != nil {
		return fmt.Errorf("recorder: playback_start %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.f = f
	p.path = path
	p.index = idx
	p.stations = stations
	p.pos = 0
	p.lastDelivTS = 0
	p.baselineWall = time.Time{}
	if len(idx) > 0 {
		p.firstTS = idx[0].ts
		p.lastTS = idx[len(idx)-1].ts
		p.maxGap = maxGapOf(idx)
	}
	p.mu.Unlock()

	p.pauseCh = make(chan struct{})
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	atomic.StoreInt32(&p.playing, 1)

	go p.run()
	return nil
}

func maxGapOf(idx []indexEntry) time.Duration {
	var max int64
	for i := 1; i < len(idx); i++ {
		if d := idx[i].ts - idx[i-1].ts; d > max {
			max = d
		}
	}
	return time.Duration(max) * time.Millisecond
}

// run is the dedicated playback thread (§5): decode a line, sleep until
// wall time catches up to its timestamp (clamped), then deliver.
func (p *Player) run() {
	defer func() {
		p.mu.Lock()
		if p.f != nil {
			p.f.Close()
			p.f = nil
		}
		p.mu.Unlock()
		atomic.StoreInt32(&p.playing, 0)
		close(p.doneCh)
	}()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		p.waitWhilePaused()

		p.mu.Lock()
		if p.pos >= len(p.index) {
			p.mu.Unlock()
			return
		}
		entry := p.index[p.pos]
		p.pos++
		f := p.f
		offset := entry.offset
		p.mu.Unlock()

		rec, ok := readRecordAt(f, offset)
		if !ok {
			continue
		}

		p.sleepForGap(entry, rec.Code)

		if entry.senderChanged && p.onSender != nil {
			p.onSender(rec.Sta)
		}

		p.mu.Lock()
		p.lastDelivTS = entry.ts
		p.baselineWall = time.Now()
		factor := p.speedFactor
		p.mu.Unlock()

		seq := scaleSequence(rec.Code, factor)
		if p.onCode != nil {
			p.onCode(seq, code.SourcePlayer)
		}
	}
}

// sleepForGap waits until wall time reaches entry's recorded delay since the
// previously delivered record, honoring sender-change pauses in full and
// clamping everything else to maxSilence, per §4.H.
func (p *Player) sleepForGap(entry indexEntry, recCode code.Sequence) {
	p.mu.Lock()
	prevTS := p.lastDelivTS
	baseline := p.baselineWall
	maxSilence := p.maxSilence
	p.mu.Unlock()

	if prevTS == 0 || baseline.IsZero() {
		return // first record after Start or a seek: no catch-up sleep
	}

	gap := time.Duration(entry.ts-prevTS) * time.Millisecond
	if gap < 0 {
		gap = 0
	}

	// A (-0x7FFF, +2) "unlatch" closer packet on a sender change is honored
	// in full even if it would otherwise be clamped: §4.H calls this out
	// explicitly so the listener hears the real pause between operators.
	isUnlatchOnSenderChange := entry.senderChanged && isClosedUnlatch(recCode)
	if !isUnlatchOnSenderChange && maxSilence > 0 && gap > maxSilence {
		gap = maxSilence
	}

	deadline := baseline.Add(gap)
	select {
	case <-time.After(time.Until(deadline)):
	case <-p.stopCh:
	}
}

// isClosedUnlatch reports whether seq is the canonical closer-transition
// unlatch packet, per §3 and §8 scenario 4.
func isClosedUnlatch(seq code.Sequence) bool {
	return len(seq) == 2 && seq[0] == code.DiscontinuitySpace && seq[1] == code.Unlatch
}

// scaleSequence multiplies non-sentinel elements by 100/factor, per §4.H.
func scaleSequence(seq code.Sequence, factor int) code.Sequence {
	if factor == 100 || factor <= 0 {
		return seq
	}
	out := make(code.Sequence, len(seq))
	for i, e := range seq {
		if e.IsSentinel() || e.IsDiscontinuity() {
			out[i] = e
			continue
		}
		out[i] = code.Element(int(e) * 100 / factor)
	}
	return out
}

func readRecordAt(f *os.File, offset int64) (Record, bool) {
	if f == nil {
		return Record{}, false
	}
	r := io.NewSectionReader(f, offset, 1<<20)
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return Record{}, false
	}
	var rec Record
	if jerr := json.Unmarshal([]byte(strings.TrimRight(line, "\n")), &rec); jerr != nil {
		return Record{}, false
	}
	return rec, true
}

// waitWhilePaused blocks the delivery loop while Pause is in effect.
func (p *Player) waitWhilePaused() {
	for {
		p.pauseMu.Lock()
		paused := p.paused
		ch := p.pauseCh
		p.pauseMu.Unlock()
		if !paused {
			return
		}
		select {
		case <-ch:
		case <-p.stopCh:
			return
		}
	}
}

// Pause gates the delivery loop; Resume releases it. Both are idempotent.
func (p *Player) Pause() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	p.paused = true
}

func (p *Player) Resume() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	if p.paused {
		p.paused = false
		close(p.pauseCh)
		p.pauseCh = make(chan struct{})
	}
}

// Stop halts the delivery loop and releases the file. Safe to call more
// than once.
func (p *Player) Stop() {
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-p.doneCh
}

// SeekSeconds repositions playback by delta seconds (negative rewinds),
// using the index rather than reading the file, per §4.H. The baseline
// wall-clock timestamp is reset so there is no spurious catch-up sleep
// after the jump.
func (p *Player) SeekSeconds(delta time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.index) == 0 {
		return
	}
	var cur int64
	if p.pos > 0 && p.pos <= len(p.index) {
		cur = p.index[p.pos-1].ts
	} else {
		cur = p.index[0].ts
	}
	target := cur + delta.Milliseconds()
	i := sort.Search(len(p.index), func(i int) bool { return p.index[i].ts >= target })
	if i >= len(p.index) {
		i = len(p.index) - 1
	}
	p.pos = i
	p.lastDelivTS = 0
	p.baselineWall = time.Time{}
}

// SeekToSenderBoundary moves to the start (toStart=true) or end (toStart=false)
// of the sender run containing the current position.
func (p *Player) SeekToSenderBoundary(toStart bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.index) == 0 {
		return
	}
	cur := p.pos
	if cur >= len(p.index) {
		cur = len(p.index) - 1
	}
	if toStart {
		i := cur
		for i > 0 && !p.index[i].senderChanged {
			i--
		}
		p.pos = i
	} else {
		i := cur
		for i+1 < len(p.index) && !p.index[i+1].senderChanged {
			i++
		}
		p.pos = i + 1
		if p.pos > len(p.index) {
			p.pos = len(p.index)
		}
	}
	p.lastDelivTS = 0
	p.baselineWall = time.Time{}
}

// Stations returns the set of station ids seen anywhere in the loaded file.
func (p *Player) Stations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.stations))
	for id := range p.stations {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Bounds returns the first and last record timestamps (ms) and the total
// record count of the loaded file.
func (p *Player) Bounds() (first, last int64, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstTS, p.lastTS, len(p.index)
}

// MaxGap returns the largest inter-record gap in the loaded file, the Δmax
// bound used by the seek-tolerance testable property in §8.
func (p *Player) MaxGap() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxGap
}

// Done returns a channel closed once the playback loop has exited (EOF or
// Stop).
func (p *Player) Done() <-chan struct{} {
	return p.doneCh
}
