// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"os"
	"testing"
)

func TestParseIncludes_QuotedOnly(t *testing.T) {
	src := []byte(`#include "local.h"
#include <stdio.h>
#include   "spaced.h"
int x;
`)
	got := ParseIncludes(src)
	want := []string{"local.h", "spaced.h"}
	if len(got) != len(want) {
		t.Fatalf("ParseIncludes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParseIncludes[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClosure_ForwardAndReverseAreSymmetric(t *testing.T) {
	dir := t.TempDir()
	mustTouch(t, dir+"/b.h")
	g := NewIncludeGraph()
	// a.c includes b.h; closure from b.h must still see a.c (reverse edge).
	g.AddFile(dir+"/a.c", []string{"b.h"}, nil)

	closure := g.Closure(dir + "/b.h")
	if !closure[dir+"/a.c"] {
		t.Error("Closure(b.h) should include a.c via the reverse include edge")
	}
	if !closure[dir+"/b.h"] {
		t.Error("Closure should always include the start file itself")
	}
}

func TestClosure_TransitiveThroughMultipleHops(t *testing.T) {
	dir := t.TempDir()
	mustTouch(t, dir+"/b.h")
	mustTouch(t, dir+"/c.h")
	g := NewIncludeGraph()
	g.AddFile(dir+"/a.c", []string{"b.h"}, nil)
	g.AddFile(dir+"/b.h", []string{"c.h"}, nil)

	closure := g.Closure(dir + "/a.c")
	if !closure[dir+"/c.h"] {
		t.Error("Closure should reach c.h transitively through b.h")
	}
}

func TestClosure_SiblingPairingCrossesWithoutInclude(t *testing.T) {
	g := NewIncludeGraph()
	g.AddSibling("widget.c", "widget.h")

	closure := g.Closure("widget.c")
	if !closure["widget.h"] {
		t.Error("Closure should include a header/impl sibling even absent an #include edge")
	}
}

func TestClosure_DoesNotLeakAcrossUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	mustTouch(t, dir+"/a.h")
	mustTouch(t, dir+"/z.h")
	g := NewIncludeGraph()
	g.AddFile(dir+"/a.c", []string{"a.h"}, nil)
	g.AddFile(dir+"/z.c", []string{"z.h"}, nil)

	closure := g.Closure(dir + "/a.c")
	if closure[dir+"/z.c"] || closure[dir+"/z.h"] {
		t.Error("Closure should not include files from an unrelated include tree")
	}
}

func TestPairSiblings_MatchesByStemIgnoringExtension(t *testing.T) {
	g := NewIncludeGraph()
	PairSiblings(g, []string{"src/widget.c", "src/widget.h", "src/other.c"})

	if !g.Closure("src/widget.c")["src/widget.h"] {
		t.Error("PairSiblings should link widget.c and widget.h sharing a stem")
	}
	if g.Closure("src/other.c")["src/widget.h"] {
		t.Error("PairSiblings should not link files with different stems")
	}
}

func TestMemoizedClosure_Visible(t *testing.T) {
	dir := t.TempDir()
	mustTouch(t, dir+"/b.h")
	g := NewIncludeGraph()
	g.AddFile(dir+"/a.c", []string{"b.h"}, nil)
	mc := NewMemoizedClosure(g)

	if !mc.Visible(dir+"/a.c", dir+"/b.h") {
		t.Error("Visible(a.c, b.h) should be true: a.c includes b.h")
	}
	if !mc.Visible(dir+"/a.c", dir+"/a.c") {
		t.Error("a file is always visible to itself")
	}
	if mc.Visible(dir+"/a.c", dir+"/unrelated.h") {
		t.Error("Visible(a.c, unrelated.h) should be false")
	}
}

func TestMemoizedClosure_CachesPerStartFile(t *testing.T) {
	dir := t.TempDir()
	mustTouch(t, dir+"/b.h")
	mustTouch(t, dir+"/c.h")
	g := NewIncludeGraph()
	g.AddFile(dir+"/a.c", []string{"b.h"}, nil)
	mc := NewMemoizedClosure(g)

	first := mc.Visible(dir+"/a.c", dir+"/b.h")
	// Mutate the underlying graph after the first lookup: a cached closure
	// should not reflect the new edge without a cache invalidation path.
	g.AddFile(dir+"/a.c", []string{"c.h"}, nil)
	cachedStillSeesOnlyOriginal := !mc.Visible(dir+"/a.c", dir+"/c.h")

	if !first {
		t.Fatal("first Visible(a.c, b.h) must be true")
	}
	if !cachedStillSeesOnlyOriginal {
		t.Error("memoized closure should not pick up edges added after the first lookup for the same start file")
	}
}

func TestDetectIncludeRoots_FindsConventionalDirNames(t *testing.T) {
	dir := t.TempDir()
	mustMkdir(t, dir+"/include")
	mustMkdir(t, dir+"/src")
	mustMkdir(t, dir+"/docs")

	roots := DetectIncludeRoots(dir)
	hasInclude, hasSrc, hasDocs := false, false, false
	for _, r := range roots {
		switch r {
		case dir + "/include":
			hasInclude = true
		case dir + "/src":
			hasSrc = true
		case dir + "/docs":
			hasDocs = true
		}
	}
	if !hasInclude || !hasSrc {
		t.Errorf("DetectIncludeRoots(%v) missing include/src: got %v", dir, roots)
	}
	if hasDocs {
		t.Errorf("DetectIncludeRoots should not treat docs/ as an include root: got %v", roots)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

// mustTouch creates an empty file, so include resolution (which only
// links targets that exist on disk) records an edge to it.
func mustTouch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
