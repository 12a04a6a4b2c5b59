// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// IncludeEdge is one #include "..." resolved to a concrete file on disk.
// #include <...> directives never produce an edge (§4.3: "angle-bracket
// includes are assumed to resolve outside the project and are not
// traversed").
type IncludeEdge struct {
	From string
	To   string
}

var includeQuotePattern = regexp.MustCompile(`^\s*#\s*include\s*"([^"]+)"`)

// ParseIncludes scans a file's raw text for #include "..." directives, in
// source order.
func ParseIncludes(content []byte) []string {
	var includes []string
	for _, line := range strings.Split(string(content), "\n") {
		if m := includeQuotePattern.FindStringSubmatch(line); m != nil {
			includes = append(includes, m[1])
		}
	}
	return includes
}

// IncludeGraph is the project's #include "..." graph plus the
// header↔implementation sibling edges that, together, form G_ext — the
// extended graph the visibility closure is computed over (§4.3).
type IncludeGraph struct {
	mu       sync.RWMutex
	forward  map[string][]string // file -> files it includes
	reverse  map[string][]string // file -> files that include it
	siblings map[string]string   // file -> its header/impl sibling, if any
}

// NewIncludeGraph creates an empty graph.
func NewIncludeGraph() *IncludeGraph {
	return &IncludeGraph{
		forward:  make(map[string][]string),
		reverse:  make(map[string][]string),
		siblings: make(map[string]string),
	}
}

// headerExts and implExts classify a file as header or implementation for
// sibling pairing; any other extension has no sibling.
var (
	headerExts = map[string]bool{".h": true, ".hpp": true, ".hh": true}
	implExts   = map[string]bool{".c": true, ".cc": true, ".cpp": true}
)

// AddFile registers path's includes, resolving each #include "..." target
// against path's own directory and the given project roots (§4.3: "quoted
// includes resolve relative to the including file's directory, then
// against auto-detected project include roots"). Unresolvable targets are
// dropped; they fall outside the project and cannot be traversed anyway.
func (g *IncludeGraph) AddFile(path string, includes []string, roots []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dir := filepath.Dir(path)
	for _, inc := range includes {
		resolved := resolveInclude(dir, inc, roots)
		if resolved == "" {
			continue
		}
		g.forward[path] = append(g.forward[path], resolved)
		g.reverse[resolved] = append(g.reverse[resolved], path)
	}
}

// AddSibling registers a mutual header/impl sibling edge between a and b.
func (g *IncludeGraph) AddSibling(a, b string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.siblings[a] = b
	g.siblings[b] = a
}

func resolveInclude(fromDir, include string, roots []string) string {
	candidate := filepath.Join(fromDir, include)
	if fileExists(candidate) {
		return filepath.ToSlash(filepath.Clean(candidate))
	}
	for _, root := range roots {
		candidate = filepath.Join(root, include)
		if fileExists(candidate) {
			return filepath.ToSlash(filepath.Clean(candidate))
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DetectIncludeRoots auto-detects project include roots beneath
// sourceDir: any directory literally named "include", "src" or "lib"
// (§4.3 "auto-detected project include roots").
func DetectIncludeRoots(sourceDir string) []string {
	var roots []string
	names := map[string]bool{"include": true, "src": true, "lib": true}
	_ = filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || !d.IsDir() {
			return nil
		}
		if names[d.Name()] {
			roots = append(roots, path)
		}
		return nil
	})
	return roots
}

// PairSiblings groups files by their directory+basename (ignoring
// extension) and links header/impl pairs sharing that stem (§4.3 "header
// and implementation files sharing a basename are treated as mutually
// visible, regardless of include directives").
func PairSiblings(g *IncludeGraph, files []string) {
	byStem := make(map[string][]string)
	for _, f := range files {
		stem := stemOf(f)
		byStem[stem] = append(byStem[stem], f)
	}
	for _, group := range byStem {
		var headers, impls []string
		for _, f := range group {
			ext := filepath.Ext(f)
			switch {
			case headerExts[ext]:
				headers = append(headers, f)
			case implExts[ext]:
				impls = append(impls, f)
			}
		}
		for _, h := range headers {
			for _, i := range impls {
				g.AddSibling(h, i)
			}
		}
	}
}

func stemOf(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext))
}

// Closure computes the symmetric visibility closure of start in G_ext: a
// breadth-first walk over both forward includes, reverse includes, and
// sibling edges, since "a file can see anything reachable by following
// #include edges in either direction, plus header/impl pairing" (§4.3).
// Each call recomputes the walk; MemoizedClosure caches results per start
// file, since the same file is the anchor of many resolution queries
// during a single run.
func (g *IncludeGraph) Closure(start string) map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closureLocked(start)
}

func (g *IncludeGraph) closureLocked(start string) map[string]bool {
	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		neighbors := make([]string, 0, len(g.forward[cur])+len(g.reverse[cur])+1)
		neighbors = append(neighbors, g.forward[cur]...)
		neighbors = append(neighbors, g.reverse[cur]...)
		if sib, ok := g.siblings[cur]; ok {
			neighbors = append(neighbors, sib)
		}

		for _, n := range neighbors {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return visited
}

// MemoizedClosure caches Closure results across repeated lookups for the
// same anchor file, which the resolver does once per candidate-gathering
// pass over a translation unit's call sites.
type MemoizedClosure struct {
	graph *IncludeGraph
	mu    sync.Mutex
	cache map[string]map[string]bool
}

// NewMemoizedClosure wraps g with a per-start-file cache.
func NewMemoizedClosure(g *IncludeGraph) *MemoizedClosure {
	return &MemoizedClosure{graph: g, cache: make(map[string]map[string]bool)}
}

// Visible reports whether target is in start's visibility closure.
func (m *MemoizedClosure) Visible(start, target string) bool {
	if start == target {
		return true
	}
	m.mu.Lock()
	closure, ok := m.cache[start]
	if !ok {
		closure = m.graph.Closure(start)
		m.cache[start] = closure
	}
	m.mu.Unlock()
	return closure[target]
}
