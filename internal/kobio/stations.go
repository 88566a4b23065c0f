// Package kobio holds the plumbing that feeds text into the engine or
// enriches what comes out of it, without itself being part of the
// real-time telegraphy core: a station-directory cache, the scheduled-feed
// spec parser, and the on-the-hour clock announcer (§3 of SPEC_FULL.md).
package kobio

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// StationEntry is one row of the directory: a station id, its operator's
// display name, and when it was last heard.
type StationEntry struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	LastSeen time.Time `yaml:"last_seen"`
}

// StationDirectory is a read-through cache mapping station id to display
// name, persisted as yaml, consulted by the wire client's sender-changed
// callback so a text sink can show "Jim (K1ABC)" instead of a bare id.
// Grounded on deviceid.go's load-once-at-startup yaml table.
type StationDirectory struct {
	mu      sync.Mutex
	path    string
	entries map[string]StationEntry
	dirty   bool
}

// NewStationDirectory returns an empty directory that will persist to path
// on Save, without attempting to read path first.
func NewStationDirectory(path string) *StationDirectory {
	return &StationDirectory{path: path, entries: map[string]StationEntry{}}
}

// LoadStationDirectory reads path, or starts empty if it doesn't exist yet
// (a fresh roster is not a configuration error per §7).
func LoadStationDirectory(path string) (*StationDirectory, error) {
	d := NewStationDirectory(path)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("kobio: read %s: %w", path, err)
	}
	var rows []StationEntry
	if err := yaml.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("kobio: parse %s: %w", path, err)
	}
	for _, r := range rows {
		d.entries[r.ID] = r
	}
	return d, nil
}

// DisplayName returns the cached name for id, or id itself if unknown.
func (d *StationDirectory) DisplayName(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[id]; ok && e.Name != "" {
		return fmt.Sprintf("%s (%s)", e.Name, id)
	}
	return id
}

// Touch records id as seen at now, inserting a nameless entry if this is
// the first time the directory has heard it.
func (d *StationDirectory) Touch(id string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entries[id]
	e.ID = id
	e.LastSeen = now
	d.entries[id] = e
	d.dirty = true
}

// SetName records a human-editable display name for id.
func (d *StationDirectory) SetName(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entries[id]
	e.ID = id
	e.Name = name
	d.entries[id] = e
	d.dirty = true
}

// Save writes the directory back to its path if anything changed since the
// last Save (or load).
func (d *StationDirectory) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}
	rows := make([]StationEntry, 0, len(d.entries))
	for _, e := range d.entries {
		rows = append(rows, e)
	}
	b, err := yaml.Marshal(rows)
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.path, b, 0o644); err != nil {
		return err
	}
	d.dirty = false
	return nil
}
