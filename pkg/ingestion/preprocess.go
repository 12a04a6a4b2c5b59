// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// MACRO LOCATOR & EXPANDER (spec §4.1)
// =============================================================================
//
// For each translation unit this reconstructs, per source-line-range,
// the exact post-expansion token span that replaces each macro
// invocation, by diffing the preprocessor's annotated output against
// the macro sites reported by a MacroLocator.

// PreprocessResult is the per-translation-unit output of RunPreprocessor:
// the preprocessed stream annotated with originating file:line, ready
// for ExpandMacros to search.
type PreprocessResult struct {
	AnnotatedLines []annotatedLine
	TempFile       string
}

type annotatedLine struct {
	file string
	line int // 1-indexed, matching the original source
	text string
}

// tlsModelFlag matches -ftls-model=... so it can be dropped per §6.
var tlsModelFlag = regexp.MustCompile(`^-ftls-model=`)

// RewriteArgs applies the subprocess contract in §6: strip -c/-o,
// drop -fgnu89-inline and -ftls-model=..., substitute project-root
// placeholders, and append -E with a fresh output path.
func RewriteArgs(args []string, rootPlaceholder, projectRoot, outPath string) []string {
	out := make([]string, 0, len(args)+1)
	skipNext := false
	for i, a := range args {
		if skipNext {
			skipNext = false
			continue
		}
		switch {
		case a == "-c":
			continue
		case a == "-fgnu89-inline":
			continue
		case tlsModelFlag.MatchString(a):
			continue
		case a == "-o":
			skipNext = i+1 < len(args)
			continue
		case strings.HasPrefix(a, "-o") && len(a) > 2:
			continue
		default:
			if rootPlaceholder != "" {
				a = strings.ReplaceAll(a, rootPlaceholder, projectRoot)
			}
			out = append(out, a)
		}
	}
	out = append(out, "-E", "-o", outPath)
	return out
}

// RunPreprocessor invokes the preprocessor named by cmd (or override, if
// non-empty) with rewritten arguments, writing its output to a temp .i
// file under tempDir. A non-zero exit aborts the translation unit per
// §6/§7; the caller is expected to treat that as "record and skip this
// translation unit; the AST pass still runs".
func RunPreprocessor(cmd CompileCommand, override, tempDir string) (string, error) {
	if len(cmd.Arguments) == 0 {
		return "", fmt.Errorf("no compiler arguments for %s", cmd.File)
	}

	compiler := cmd.Arguments[0]
	if override != "" {
		compiler = override
	}

	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	outPath := filepath.Join(tempDir, sanitizeTempName(cmd.File)+".i")

	args := RewriteArgs(cmd.Arguments[1:], "", "", outPath)

	c := exec.Command(compiler, args...) //nolint:gosec // G204: compiler/args come from the project's own compile_commands.json
	c.Dir = cmd.Directory
	var stderr bytes.Buffer
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		preprocessorFailures.Inc()
		return "", fmt.Errorf("preprocess %s: %w: %s", cmd.File, err, stderr.String())
	}
	return outPath, nil
}

func sanitizeTempName(path string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return replacer.Replace(filepath.ToSlash(path))
}

// lineMarker matches a cpp line-marker directive: # <line> "<file>" [flags...]
var lineMarker = regexp.MustCompile(`^#\s*(\d+)\s+"([^"]*)"`)

// BuildAnnotatedStream re-emits a preprocessed stream with every
// non-directive, non-blank line tagged with its originating file:line,
// tracking `# line "file"` markers as it goes (§4.1 step 3).
func BuildAnnotatedStream(preprocessed []byte) []annotatedLine {
	var out []annotatedLine
	currentFile := ""
	currentLine := 0

	for _, raw := range strings.Split(string(preprocessed), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if m := lineMarker.FindStringSubmatch(raw); m != nil {
			n, _ := strconv.Atoi(m[1])
			currentFile = m[2]
			currentLine = n
			continue
		}
		out = append(out, annotatedLine{file: currentFile, line: currentLine, text: raw})
		currentLine++
	}
	return out
}

// ExpandMacros runs the full §4.1 procedure for one translation unit:
// preprocess, locate macro sites in the original source, and resolve
// each site's expanded text against the annotated stream. Entries whose
// anchors cannot be found are silently dropped, per §4.1/§7.
func ExpandMacros(locator MacroLocator, annotated []annotatedLine, filePath string, original []byte) (*MacroTable, error) {
	sites, err := locator.LocateMacros(filePath, original)
	if err != nil {
		return nil, fmt.Errorf("locate macros: %w", err)
	}

	table := NewMacroTable()
	originalLines := strings.Split(string(original), "\n")

	for _, site := range sites {
		entry, ok := resolveMacroSite(site, originalLines, annotated)
		if !ok {
			macroAnchorsDropped.Inc()
			continue // anchor not found: silently dropped
		}
		table.Add(entry)
	}
	return table, nil
}

// resolveMacroSite implements §4.1 steps 4: find token_before/token_after
// around the invocation in the original source, locate the matching
// annotated block, and take the substring strictly between the earliest
// token_before and the latest token_after.
func resolveMacroSite(site MacroSite, originalLines []string, annotated []annotatedLine) (MacroEntry, bool) {
	if site.StartLine < 0 || site.StartLine >= len(originalLines) {
		return MacroEntry{}, false
	}
	startLineText := originalLines[site.StartLine]
	endLineText := startLineText
	if site.EndLine >= 0 && site.EndLine < len(originalLines) {
		endLineText = originalLines[site.EndLine]
	}

	tokenBefore := lastTokenBefore(startLineText, site.StartCol)
	tokenAfter := firstTokenAfter(endLineText, site.EndCol)
	if tokenBefore == "" && tokenAfter == "" {
		return MacroEntry{}, false
	}

	block := annotatedBlock(annotated, site.File, site.StartLine+1, site.EndLine+1)
	if len(block) == 0 {
		return MacroEntry{}, false
	}
	joined := strings.Join(block, "\n")

	startIdx := -1
	if tokenBefore != "" {
		startIdx = indexOfToken(joined, tokenBefore, false)
		if startIdx < 0 {
			return MacroEntry{}, false
		}
		startIdx += len(tokenBefore)
	} else {
		startIdx = 0
	}

	endIdx := len(joined)
	if tokenAfter != "" {
		idx := indexOfToken(joined, tokenAfter, true)
		if idx < 0 {
			return MacroEntry{}, false
		}
		endIdx = idx
	}

	if startIdx >= endIdx {
		return MacroEntry{}, false
	}

	expanded := strings.TrimSpace(joined[startIdx:endIdx])
	if expanded == "" {
		return MacroEntry{}, false
	}

	return MacroEntry{
		File:     site.File,
		Location: [4]int{site.StartLine, site.StartCol, site.EndLine, site.EndCol},
		Name:     site.Name,
		Macro:    expanded,
	}, true
}

// annotatedBlock returns the contiguous run of annotated lines tagged
// file:[startLine..endLine].
func annotatedBlock(annotated []annotatedLine, file string, startLine, endLine int) []string {
	var lines []string
	for _, a := range annotated {
		if a.file == file && a.line >= startLine && a.line <= endLine {
			lines = append(lines, a.text)
		}
	}
	return lines
}

// lastTokenBefore returns the last non-whitespace word token strictly
// before col on line, or "" if col is at the start of the line.
func lastTokenBefore(line string, col int) string {
	if col <= 0 || col > len(line) {
		if col <= 0 {
			return ""
		}
		col = len(line)
	}
	end := col
	for end > 0 && line[end-1] == ' ' {
		end--
	}
	start := end
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	if start == end {
		// punctuation token, e.g. ';' or '='
		if end > 0 {
			return line[end-1 : end]
		}
		return ""
	}
	return line[start:end]
}

// firstTokenAfter returns the first non-whitespace word token strictly
// after col on line.
func firstTokenAfter(line string, col int) string {
	if col < 0 || col >= len(line) {
		return ""
	}
	start := col
	for start < len(line) && line[start] == ' ' {
		start++
	}
	end := start
	for end < len(line) && isWordByte(line[end]) {
		end++
	}
	if start == end {
		if start < len(line) {
			return line[start : start+1]
		}
		return ""
	}
	return line[start:end]
}

// indexOfToken finds the first (or, when last==true, last) occurrence of
// token in s, respecting word boundaries for identifier-like tokens.
func indexOfToken(s, token string, last bool) int {
	isWord := len(token) > 0 && isWordByte(token[0])
	search := func(from int) int {
		if !isWord {
			return strings.Index(s[from:], token)
		}
		pos := findIdentifier(s, token, from)
		if pos < 0 {
			return -1
		}
		return pos - from
	}

	if !last {
		idx := search(0)
		if idx < 0 {
			return -1
		}
		return idx
	}

	best := -1
	from := 0
	for {
		idx := search(from)
		if idx < 0 {
			break
		}
		abs := from + idx
		best = abs
		from = abs + 1
	}
	return best
}
