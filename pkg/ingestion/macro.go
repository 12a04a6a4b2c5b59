// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"regexp"
	"strings"
	"sync"

	"github.com/kraklabs/cgraph/pkg/ctext"
)

// MacroSite is one macro invocation located in the original,
// un-preprocessed source: a file plus a (start line/col, end line/col)
// span covering the macro name and, for function-like macros, its
// argument list.
//
// Locating these sites requires semantic knowledge of which identifiers
// are macro names — something a grammar-only parser like tree-sitter
// cannot provide, since `CALL(foo)` parses identically to a real call
// whether or not CALL is `#define`d. Producing MacroSites is therefore
// delegated to the MacroLocator collaborator (§1: "the tree-walking
// macro locator, an external C-frontend library").
type MacroSite struct {
	File                string
	StartLine, StartCol int
	EndLine, EndCol     int
	Name                string
}

// MacroLocator finds macro invocation sites in a translation unit's
// original source. The canonical implementation is an external
// C-frontend collaborator (e.g. a libclang-backed walker) driven by the
// same compiler flags used to preprocess the file, so it sees the same
// macro definitions. DefineScanLocator is a dependency-free stand-in
// used when no such collaborator is wired in.
type MacroLocator interface {
	LocateMacros(filePath string, content []byte) ([]MacroSite, error)
}

// MacroEntry is one resolved macro table record: the site plus the
// post-preprocessor text that replaced it.
type MacroEntry struct {
	File     string `json:"file"`
	Location [4]int `json:"location"` // [start_line, start_col, end_line, end_col]
	Name     string `json:"name"`
	Macro    string `json:"macro"` // expanded_text
}

// CanonicalHead is the comparison key used by the resolver: the
// canonicalized head of Macro (§4.1 step 5, §9 "skip_non_variable_start").
func (e MacroEntry) CanonicalHead() string {
	return ctext.CanonicalMacroHead(e.Macro)
}

// MacroTable maps (file, source range) to the expanded text that
// replaced it. Built once per translation unit by ExpandMacros and
// consulted read-only by the resolver thereafter.
type MacroTable struct {
	mu     sync.RWMutex
	byFile map[string][]MacroEntry
}

// NewMacroTable creates an empty table.
func NewMacroTable() *MacroTable {
	return &MacroTable{byFile: make(map[string][]MacroEntry)}
}

// Add records an entry.
func (t *MacroTable) Add(e MacroEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byFile[e.File] = append(t.byFile[e.File], e)
}

// Merge absorbs every entry of other into t (used to combine per-TU
// tables built in parallel into one project-wide table).
func (t *MacroTable) Merge(other *MacroTable) {
	if other == nil {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	for file, entries := range other.byFile {
		t.byFile[file] = append(t.byFile[file], entries...)
	}
}

// Lookup finds the macro entry, if any, whose span contains (line, col)
// in file. A node range is considered covered when it falls within
// [StartLine,EndLine] and, on the boundary lines, within the column
// bounds.
func (t *MacroTable) Lookup(file string, line, col int) (MacroEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.byFile[file] {
		if spanContains(e.Location, line, col) {
			return e, true
		}
	}
	return MacroEntry{}, false
}

// LookupRange finds the macro entry covering an entire [startLine,
// startCol]..[endLine,endCol] node range — used when resolving a whole
// call_expression node rather than a single point.
func (t *MacroTable) LookupRange(file string, startLine, startCol, endLine, endCol int) (MacroEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.byFile[file] {
		if e.Location[0] == startLine && e.Location[1] == startCol &&
			e.Location[2] == endLine && e.Location[3] == endCol {
			return e, true
		}
	}
	return MacroEntry{}, false
}

// Entries returns a snapshot of every entry for file, in insertion order.
func (t *MacroTable) Entries(file string) []MacroEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]MacroEntry(nil), t.byFile[file]...)
}

func spanContains(loc [4]int, line, col int) bool {
	sl, sc, el, ec := loc[0], loc[1], loc[2], loc[3]
	if line < sl || line > el {
		return false
	}
	if line == sl && col < sc {
		return false
	}
	if line == el && col > ec {
		return false
	}
	return true
}

// DefineScanLocator locates macro invocations by scanning #define
// directives and then matching their names as call-like or bare-word
// occurrences in the rest of the file. It is a dependency-free stand-in
// for a real C-frontend macro locator: precise enough for straight-line
// single- and multi-argument invocations, but — like any textual
// heuristic — it can't see macro definitions coming from other headers,
// so it only locates macros `#define`d within the same translation unit
// text it is given.
type DefineScanLocator struct{}

var (
	defineObjectPattern = regexp.MustCompile(`^\s*#\s*define\s+([A-Za-z_][A-Za-z0-9_]*)\s`)
	defineFuncPattern   = regexp.MustCompile(`^\s*#\s*define\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
)

// LocateMacros implements MacroLocator.
func (DefineScanLocator) LocateMacros(filePath string, content []byte) ([]MacroSite, error) {
	lines := splitLinesKeepEnds(string(content))

	names := make(map[string]bool)
	for _, line := range lines {
		if m := defineFuncPattern.FindStringSubmatch(line); m != nil {
			names[m[1]] = true
			continue
		}
		if m := defineObjectPattern.FindStringSubmatch(line); m != nil {
			names[m[1]] = true
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	var sites []MacroSite
	for lineIdx, line := range lines {
		if strings.TrimSpace(line) != "" && strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue // skip directive lines themselves
		}
		for name := range names {
			for col := findIdentifier(line, name, 0); col >= 0; col = findIdentifier(line, name, col+1) {
				endLine, endCol := lineIdx, col+len(name)
				isCall := endCol < len(line) && line[endCol] == '('
				if isCall {
					if close := matchParen(lines, lineIdx, endCol); close != nil {
						endLine, endCol = close[0], close[1]+1
					} else {
						isCall = false
					}
				}
				sites = append(sites, MacroSite{
					File:      filePath,
					StartLine: lineIdx,
					StartCol:  col,
					EndLine:   endLine,
					EndCol:    endCol,
					Name:      name,
				})
			}
		}
	}
	return sites, nil
}

func splitLinesKeepEnds(s string) []string {
	return strings.Split(s, "\n")
}

// findIdentifier finds the next whole-word occurrence of name in line at
// or after `from`, returning -1 if none.
func findIdentifier(line, name string, from int) int {
	if from < 0 {
		from = 0
	}
	for from <= len(line)-len(name) {
		idx := strings.Index(line[from:], name)
		if idx < 0 {
			return -1
		}
		pos := from + idx
		before := pos == 0 || !isWordByte(line[pos-1])
		afterPos := pos + len(name)
		after := afterPos >= len(line) || !isWordByte(line[afterPos])
		if before && after {
			return pos
		}
		from = pos + 1
	}
	return -1
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// matchParen finds the line/col of the ')' matching an '(' at
// lines[startLine][openCol].
func matchParen(lines []string, startLine, openCol int) []int {
	depth := 0
	for li := startLine; li < len(lines); li++ {
		line := lines[li]
		startCol := 0
		if li == startLine {
			startCol = openCol
		}
		for ci := startCol; ci < len(line); ci++ {
			switch line[ci] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return []int{li, ci}
				}
			}
		}
	}
	return nil
}
