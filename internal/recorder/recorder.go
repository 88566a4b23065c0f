// Package recorder implements the Recorder component (§4.H): an append-only
// JSON-lines writer and an indexed player with seek, pause and
// sender-boundary navigation.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/kobnet/kobengine/internal/code"
)

// Record is one line of a recording, keyed exactly as §6 specifies so the
// JSON is readable by any other KOBServer-family tool.
type Record struct {
	TS   int64         `json:"ts"`
	Wire int           `json:"w"`
	Sta  string        `json:"s"`
	Src  code.Source   `json:"o"`
	Text string        `json:"t,omitempty"`
	Code code.Sequence `json:"c"`
}

// DefaultNamePattern generates a recording file name like tq.go's
// timestamp_format handling, but fixed to the recorder's own extension
// rather than a user-configurable strftime string.
const DefaultNamePattern = "%Y%m%d-%H%M%S.pkrec"

// DefaultName returns a recording file name for now using DefaultNamePattern.
func DefaultName(now time.Time) (string, error) {
	return strftime.Format(DefaultNamePattern, now)
}

// Writer appends Records to a target file, one JSON object per line. It is
// suppressed while a Player linked by LinkPlaybackGate is playing (§3 invariant:
// "Recording is disabled during playback from the same engine instance").
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	path    string
	playing *int32 // shared with a Player over the same engine instance, if any
}

// Open appends to (creating if necessary) the recording at path.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	return &Writer{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// LinkPlaybackGate ties this writer to a Player's playing flag so writes
// suppress automatically while that player is active.
func (w *Writer) LinkPlaybackGate(playing *int32) { w.playing = playing }

// Append writes one record, flushing immediately so a crash doesn't lose the
// last line. Returns nil without writing if a linked Player is playing.
func (w *Writer) Append(rec Record) error {
	if w.playing != nil && playingActive(w.playing) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
