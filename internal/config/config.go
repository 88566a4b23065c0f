// Package config holds the engine's persisted configuration (§6) as a
// plain value type, replacing the source's global mutable config per §9:
// mutations flow through Update(cur, next), which reports a ChangeMask so each
// component can decide whether it needs to rebind hardware, rebuild the
// encoder, or just keep running.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/hardware"
	"github.com/kobnet/kobengine/internal/morse"
	"github.com/kobnet/kobengine/internal/sounder"
)

// Snapshot is every recognized key from §6's configuration table. JSON is
// the persisted format; encoding/json (stdlib) is used rather than a
// third-party library — see DESIGN.md for why nothing in the example pack
// was a better fit for this one concern.
type Snapshot struct {
	AudioType string `json:"audio_type"` // SOUNDER or TONE

	UseGPIO    bool   `json:"use_gpio"`
	UseSerial  bool   `json:"use_serial"`
	SerialPort string `json:"serial_port"`

	InterfaceType   string `json:"interface_type"` // LOOP, KEY_SOUNDER, KEYER
	InvertKeyInput  bool   `json:"invert_key_input"`
	NoKeyCloser     bool   `json:"no_key_closer"`

	Sound            bool `json:"sound"`
	Sounder          bool `json:"sounder"`
	SounderPowerSave int  `json:"sounder_power_save"` // seconds; 0 disables

	CodeType         string `json:"code_type"` // AMERICAN or INTERNATIONAL
	DecodeAtDetected bool   `json:"decode_at_detected"`

	MinCharSpeed int    `json:"min_char_speed"`
	TextSpeed    int    `json:"text_speed"`
	Spacing      string `json:"spacing"` // none, char, word

	AutoConnect bool `json:"auto_connect"`
	Local       bool `json:"local"`
	Remote      bool `json:"remote"`

	ServerURL string `json:"server_url"`
	Station   string `json:"station"`
	Wire      int    `json:"wire"`

	LoggingLevel string `json:"logging_level"`
}

// Default returns a Snapshot with the same conservative defaults the
// teacher's config.go falls back to for an unset key: sound on, sounder
// off (no hardware assumed present), American code at a modest speed.
func Default() Snapshot {
	return Snapshot{
		AudioType:        "SOUNDER",
		InterfaceType:    "KEY_SOUNDER",
		Sound:            true,
		SounderPowerSave: 300,
		CodeType:         "AMERICAN",
		MinCharSpeed:     18,
		TextSpeed:        18,
		Spacing:          "none",
		Wire:             1,
		LoggingLevel:     "status",
	}
}

// Load parses a JSON document into a Snapshot seeded with Default's values,
// so a partial document only overrides the keys it names.
func Load(r io.Reader) (Snapshot, error) {
	snap := Default()
	dec := json.NewDecoder(r)
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("config: decode: %w", err)
	}
	return snap, nil
}

// LoadFile opens path and calls Load. A missing file is not an error: the
// caller gets Default back, matching §7's "non-fatal if a default is
// available" policy for configuration errors.
func LoadFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Snapshot{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Save writes snap to path as indented JSON.
func Save(path string, snap Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ChangeMask is a bitset of which concerns changed between two Snapshots,
// so each component inspects only the bits it cares about instead of
// recomputing everything on every edit.
type ChangeMask uint32

const (
	ChangeHardware ChangeMask = 1 << iota // use_gpio/use_serial/serial_port/interface_type/invert_key_input/no_key_closer
	ChangeAudio                           // audio_type/sound
	ChangeSounder                         // sounder/sounder_power_save
	ChangeSpeed                           // min_char_speed/text_speed/spacing/code_type/decode_at_detected
	ChangeWire                            // server_url/station/wire/auto_connect/local/remote
	ChangeLogging                         // logging_level
)

// Has reports whether m includes bit.
func (m ChangeMask) Has(bit ChangeMask) bool { return m&bit != 0 }

// Update diffs cur against next and returns the mask of what changed. The
// caller is expected to replace its stored Snapshot with next afterward;
// Update itself does not mutate either argument.
func Update(cur, next Snapshot) ChangeMask {
	var m ChangeMask
	if cur.UseGPIO != next.UseGPIO || cur.UseSerial != next.UseSerial ||
		cur.SerialPort != next.SerialPort || cur.InterfaceType != next.InterfaceType ||
		cur.InvertKeyInput != next.InvertKeyInput || cur.NoKeyCloser != next.NoKeyCloser {
		m |= ChangeHardware
	}
	if cur.AudioType != next.AudioType || cur.Sound != next.Sound {
		m |= ChangeAudio
	}
	if cur.Sounder != next.Sounder || cur.SounderPowerSave != next.SounderPowerSave {
		m |= ChangeSounder
	}
	if cur.MinCharSpeed != next.MinCharSpeed || cur.TextSpeed != next.TextSpeed ||
		cur.Spacing != next.Spacing || cur.CodeType != next.CodeType ||
		cur.DecodeAtDetected != next.DecodeAtDetected {
		m |= ChangeSpeed
	}
	if cur.ServerURL != next.ServerURL || cur.Station != next.Station ||
		cur.Wire != next.Wire || cur.AutoConnect != next.AutoConnect ||
		cur.Local != next.Local || cur.Remote != next.Remote {
		m |= ChangeWire
	}
	if cur.LoggingLevel != next.LoggingLevel {
		m |= ChangeLogging
	}
	return m
}

// CodeTypeValue converts the persisted string to the code package's enum,
// defaulting to American for anything unrecognized.
func (s Snapshot) CodeTypeValue() code.Type {
	if s.CodeType == "INTERNATIONAL" {
		return code.International
	}
	return code.American
}

// SpacingValue converts the persisted spacing string.
func (s Snapshot) SpacingValue() code.Spacing {
	switch s.Spacing {
	case "char":
		return code.SpacingChar
	case "word":
		return code.SpacingWord
	default:
		return code.SpacingNone
	}
}

// Speed builds a morse.Speed from the speed-related keys.
func (s Snapshot) Speed() morse.Speed {
	return morse.Speed{
		CharWPM: s.MinCharSpeed,
		TextWPM: s.TextSpeed,
		Spacing: s.SpacingValue(),
		Type:    s.CodeTypeValue(),
	}
}

// InterfaceKind converts interface_type to the sounder package's mode-table
// selector. KEYER interfaces drive a Keyer (§4.F) but still sound through a
// key-and-sounder table once the keyer's dits/dahs reach the sounder.
func (s Snapshot) InterfaceKind() sounder.InterfaceKind {
	if s.InterfaceType == "LOOP" {
		return sounder.KindLoop
	}
	return sounder.KindKeyAndSounder
}

// HardwareMode converts interface_type to the hardware package's
// straight-key-vs-paddle selector.
func (s Snapshot) HardwareMode() hardware.Mode {
	if s.InterfaceType == "KEYER" {
		return hardware.ModeKeyer
	}
	return hardware.ModeStraight
}
