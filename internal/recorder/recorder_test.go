package recorder

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAppendsOneJSONObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pkrec")
	w, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(Record{TS: 1000, Wire: 5, Sta: "K1ABC", Src: code.SourceKey, Code: code.Sequence{-60, 60}}))
	require.NoError(t, w.Append(Record{TS: 1100, Wire: 5, Sta: "K1ABC", Src: code.SourceKey, Text: "H", Code: code.Sequence{-60, 60}}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	var lines int
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestWriterSuppressedDuringPlayback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pkrec")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	p := New(nil, nil, 0)
	w.LinkPlaybackGate(p.PlayingFlag())

	require.NoError(t, w.Append(Record{TS: 1, Sta: "A"}))
	require.NoError(t, w.w.Flush())

	// Simulate an active playback on the same engine instance.
	*p.PlayingFlag() = 1
	require.NoError(t, w.Append(Record{TS: 2, Sta: "A"}))
	*p.PlayingFlag() = 0

	f, _ := os.Open(path)
	defer f.Close()
	sc := bufio.NewScanner(f)
	var lines int
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 1, lines, "a record appended mid-playback must be dropped")
}

func writeFixture(t *testing.T, recs []Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.pkrec")
	w, err := Open(path)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Close())
	return path
}

func TestPlayerDeliversInOrderAndScalesSpeed(t *testing.T) {
	path := writeFixture(t, []Record{
		{TS: 1000, Sta: "K1ABC", Code: code.Sequence{-60, 60}},
		{TS: 1060, Sta: "K1ABC", Code: code.Sequence{-60, 60}},
	})

	var delivered []code.Sequence
	p := New(func(seq code.Sequence, src code.Source) {
		delivered = append(delivered, seq)
		assert.Equal(t, code.SourcePlayer, src)
	}, nil, 0)
	p.SetSpeedFactor(200) // twice as fast: elements halved

	require.NoError(t, p.Start(path))
	<-p.Done()

	require.Len(t, delivered, 2)
	assert.Equal(t, code.Element(-30), delivered[1][0])
	assert.Equal(t, code.Element(30), delivered[1][1])
}

func TestPlayerAnnouncesSenderChangeBeforeNextCharacter(t *testing.T) {
	path := writeFixture(t, []Record{
		{TS: 1000, Sta: "K1ABC", Text: "H"},
		{TS: 1010, Sta: "W2DEF", Text: "I"},
	})

	var order []string
	p := New(func(seq code.Sequence, src code.Source) {
		order = append(order, "code")
	}, func(station string) {
		order = append(order, "sender:"+station)
	}, 0)

	require.NoError(t, p.Start(path))
	<-p.Done()

	require.Len(t, order, 3)
	assert.Equal(t, "code", order[0])
	assert.Equal(t, "sender:W2DEF", order[1])
	assert.Equal(t, "code", order[2])
}

func TestPlayerSeekSecondsRepositionsWithinBounds(t *testing.T) {
	recs := []Record{
		{TS: 0, Sta: "A"},
		{TS: 20, Sta: "A"},
		{TS: 40, Sta: "A"},
		{TS: 60, Sta: "A"},
	}
	path := writeFixture(t, recs)

	p := New(func(code.Sequence, code.Source) {}, nil, 0)
	p.Pause()
	require.NoError(t, p.Start(path))

	p.SeekSeconds(50 * time.Millisecond)
	first, last, count := p.Bounds()
	assert.Equal(t, int64(0), first)
	assert.Equal(t, int64(60), last)
	assert.Equal(t, 4, count)

	maxGap := p.MaxGap()
	assert.Equal(t, 20*time.Millisecond, maxGap)

	p.mu.Lock()
	landed := p.index[p.pos].ts
	p.mu.Unlock()
	assert.InDelta(t, 50, landed, float64(maxGap.Milliseconds()), "a seek to 50ms lands within the largest recorded gap of its target")

	p.Stop()
}

func TestPlayerSeekToSenderBoundary(t *testing.T) {
	recs := []Record{
		{TS: 0, Sta: "A", Text: "H"},
		{TS: 10, Sta: "A", Text: "I"},
		{TS: 20, Sta: "B", Text: "X"},
		{TS: 30, Sta: "B", Text: "Y"},
	}
	path := writeFixture(t, recs)

	p := New(func(code.Sequence, code.Source) {}, func(string) {}, 0)
	p.Pause()
	require.NoError(t, p.Start(path))

	p.mu.Lock()
	p.pos = 3 // sitting in B's run
	p.mu.Unlock()

	p.SeekToSenderBoundary(true)
	p.mu.Lock()
	pos := p.pos
	p.mu.Unlock()
	assert.Equal(t, 2, pos, "seek-to-sender-start lands on B's first record")

	p.Stop()
}

func TestMalformedLineIsSkippedNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pkrec")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n{\"ts\":1,\"s\":\"A\"}\n"), 0o644))

	var delivered int
	p := New(func(code.Sequence, code.Source) { delivered++ }, nil, 0)
	require.NoError(t, p.Start(path))
	<-p.Done()

	assert.Equal(t, 1, delivered, "the malformed line is skipped; the good one still plays")
}
