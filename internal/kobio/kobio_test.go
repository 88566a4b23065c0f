package kobio

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStationDirectoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	d, err := LoadStationDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, "K1ABC", d.DisplayName("K1ABC"), "unknown id falls back to itself")

	d.SetName("K1ABC", "Jim")
	d.Touch("K1ABC", time.Unix(0, 0))
	require.NoError(t, d.Save())

	d2, err := LoadStationDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, "Jim (K1ABC)", d2.DisplayName("K1ABC"))
}

func TestLoadStationDirectoryMissingFileStartsEmpty(t *testing.T) {
	d, err := LoadStationDirectory(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "N0CALL", d.DisplayName("N0CALL"))
}

func TestParseFeedAndDueAt(t *testing.T) {
	f, err := ParseFeed(strings.NewReader(`{"specs":[{"at":"0900","msg":"GA"},{"idle":5,"msg":"CQ"}]}`))
	require.NoError(t, err)
	require.Len(t, f.Specs, 2)

	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.True(t, f.Specs[0].DueAt(now, time.Time{}))
	assert.False(t, f.Specs[0].DueAt(now, now), "already fired this minute")

	mins, ok := f.Specs[1].IdleMinutes()
	assert.True(t, ok)
	assert.Equal(t, 5, mins)
}

func TestSpecAtIIRepeats(t *testing.T) {
	s := Spec{AtII: "0900/15"}
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	assert.True(t, s.DueAt(base, time.Time{}))
	offMinute := time.Date(2026, 1, 1, 9, 31, 0, 0, time.UTC)
	assert.False(t, s.DueAt(offMinute, time.Time{}))
}

func TestExpandTokensSubstitutesVarsAndPauses(t *testing.T) {
	lookup := func(name string) string {
		if name == "OP" {
			return "JIM"
		}
		return ""
	}
	tokens := ExpandTokens("DE «$OP» «P1.5»GA", lookup)

	var text strings.Builder
	var totalPause time.Duration
	for _, tok := range tokens {
		text.WriteString(tok.Text)
		totalPause += tok.Pause
	}
	assert.Equal(t, "DE JIM GA", text.String())
	assert.Equal(t, 1500*time.Millisecond, totalPause)
}

func TestAnnounceTimeAndOnTheHour(t *testing.T) {
	now := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, "GA K1ABC  1400 Z", AnnounceTime(now, "K1ABC"))
	assert.True(t, OnTheHour(now, 10*time.Second))
	assert.False(t, OnTheHour(now.Add(5*time.Minute), 10*time.Second))
}
