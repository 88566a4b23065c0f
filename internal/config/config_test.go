package config

import (
	"strings"
	"testing"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPartialDocumentKeepsDefaults(t *testing.T) {
	snap, err := Load(strings.NewReader(`{"station":"K1ABC","wire":7}`))
	require.NoError(t, err)
	assert.Equal(t, "K1ABC", snap.Station)
	assert.Equal(t, 7, snap.Wire)
	assert.Equal(t, "AMERICAN", snap.CodeType, "an unset key keeps the default")
}

func TestLoadFileMissingReturnsDefault(t *testing.T) {
	snap, err := LoadFile("/nonexistent/path/kobengine.json")
	require.NoError(t, err)
	assert.Equal(t, Default(), snap)
}

func TestUpdateReportsOnlyChangedConcerns(t *testing.T) {
	cur := Default()
	next := cur
	next.TextSpeed = 25

	mask := Update(cur, next)
	assert.True(t, mask.Has(ChangeSpeed))
	assert.False(t, mask.Has(ChangeWire))
	assert.False(t, mask.Has(ChangeHardware))
}

func TestUpdateDetectsMultipleConcerns(t *testing.T) {
	cur := Default()
	next := cur
	next.Wire = 99
	next.LoggingLevel = "debug"

	mask := Update(cur, next)
	assert.True(t, mask.Has(ChangeWire))
	assert.True(t, mask.Has(ChangeLogging))
	assert.False(t, mask.Has(ChangeSpeed))
}

func TestCodeTypeValueAndSpacingValue(t *testing.T) {
	snap := Default()
	snap.CodeType = "INTERNATIONAL"
	snap.Spacing = "word"
	assert.Equal(t, code.International, snap.CodeTypeValue())
	assert.Equal(t, code.SpacingWord, snap.SpacingValue())
}
