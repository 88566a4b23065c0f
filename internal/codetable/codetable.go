// Package codetable loads the static character <-> dot/dash mappings for
// American and International Morse, per §4.A.
package codetable

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/kobnet/kobengine/internal/code"
)

//go:embed data/codetables.tsv
var defaultTables embed.FS

// Table is a loaded, reverse-indexed character set for one code type.
type Table struct {
	Type       code.Type
	charToCode map[rune]string
	codeToChar map[string]rune
}

// Default returns the built-in table for t, parsed from the embedded
// tab-separated resource.
func Default(t code.Type) (*Table, error) {
	f, err := defaultTables.Open("data/codetables.tsv")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(t, f)
}

// Load parses a tab-separated resource (first line a header, subsequent
// lines "ASCII<TAB>TYPE<TAB>DOT-DASH") and returns the subset of rows that
// apply to t. A row whose TYPE is "BOTH" applies to both tables.
func Load(t code.Type, r io.Reader) (*Table, error) {
	tbl := &Table{
		Type:       t,
		charToCode: map[rune]string{},
		codeToChar: map[string]rune{},
	}

	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) != 3 {
			return nil, fmt.Errorf("codetable: malformed row %q", line)
		}
		rowType := cols[1]
		if rowType != "BOTH" && rowType != t.String() {
			continue
		}
		chars := []rune(cols[0])
		if len(chars) != 1 {
			return nil, fmt.Errorf("codetable: ASCII column must be one rune, got %q", cols[0])
		}
		ch := chars[0]
		dotdash := cols[2]
		tbl.charToCode[ch] = dotdash
		tbl.codeToChar[dotdash] = ch
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tbl, nil
}

// Encode returns the dot/dash string for ch, upper-casing letters first.
// The second return is false for characters not present in this table.
func (t *Table) Encode(ch rune) (string, bool) {
	if unicode.IsLower(ch) {
		ch = unicode.ToUpper(ch)
	}
	s, ok := t.charToCode[ch]
	return s, ok
}

// Decode returns the character for a dot/dash string, or (0, false) if the
// string resolves to nothing in this table.
func (t *Table) Decode(dotdash string) (rune, bool) {
	ch, ok := t.codeToChar[dotdash]
	return ch, ok
}

// HasLongMarks reports whether this table's alphabet uses the American
// extended-length dash/long-dash symbols ('=' and '#') and the intra-
// character space.
func (t *Table) HasLongMarks() bool {
	return t.Type == code.American
}
