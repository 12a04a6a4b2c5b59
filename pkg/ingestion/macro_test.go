// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import "testing"

func TestMacroTable_LookupRangeExactMatch(t *testing.T) {
	tbl := NewMacroTable()
	tbl.Add(MacroEntry{File: "a.c", Location: [4]int{10, 4, 10, 20}, Name: "CALL", Macro: "real_foo(x)"})

	entry, ok := tbl.LookupRange("a.c", 10, 4, 10, 20)
	if !ok {
		t.Fatal("expected LookupRange to find the entry")
	}
	if entry.CanonicalHead() != "real_foo" {
		t.Errorf("CanonicalHead() = %q, want real_foo", entry.CanonicalHead())
	}
}

func TestMacroTable_LookupRangeNoMatchOutsideSpan(t *testing.T) {
	tbl := NewMacroTable()
	tbl.Add(MacroEntry{File: "a.c", Location: [4]int{10, 4, 10, 20}, Name: "CALL", Macro: "real_foo(x)"})

	if _, ok := tbl.LookupRange("a.c", 11, 4, 11, 20); ok {
		t.Error("LookupRange should not match a different line range")
	}
}

func TestMacroTable_LookupPointWithinSpan(t *testing.T) {
	tbl := NewMacroTable()
	tbl.Add(MacroEntry{File: "a.c", Location: [4]int{5, 0, 7, 3}, Name: "MULTI", Macro: "expanded"})

	if _, ok := tbl.Lookup("a.c", 6, 0); !ok {
		t.Error("Lookup should find a point inside a multi-line span")
	}
	if _, ok := tbl.Lookup("a.c", 5, 0); !ok {
		t.Error("Lookup should include the start boundary")
	}
	if _, ok := tbl.Lookup("a.c", 7, 3); !ok {
		t.Error("Lookup should include the end boundary")
	}
	if _, ok := tbl.Lookup("a.c", 7, 4); ok {
		t.Error("Lookup should exclude columns past the end boundary on the end line")
	}
	if _, ok := tbl.Lookup("a.c", 4, 0); ok {
		t.Error("Lookup should exclude lines before the span")
	}
}

func TestMacroTable_MergeCombinesPerFileEntries(t *testing.T) {
	a := NewMacroTable()
	a.Add(MacroEntry{File: "a.c", Location: [4]int{1, 0, 1, 5}, Name: "X", Macro: "x()"})
	b := NewMacroTable()
	b.Add(MacroEntry{File: "b.c", Location: [4]int{1, 0, 1, 5}, Name: "Y", Macro: "y()"})

	a.Merge(b)

	if len(a.Entries("a.c")) != 1 || len(a.Entries("b.c")) != 1 {
		t.Errorf("Merge should combine distinct files' entries without loss: a.c=%v b.c=%v", a.Entries("a.c"), a.Entries("b.c"))
	}
}

func TestDefineScanLocator_ObjectLikeMacro(t *testing.T) {
	src := []byte("#define MAX_LEN 128\nint buf[MAX_LEN];\n")
	sites, err := DefineScanLocator{}.LocateMacros("a.c", src)
	if err != nil {
		t.Fatalf("LocateMacros error: %v", err)
	}
	if len(sites) != 1 || sites[0].Name != "MAX_LEN" {
		t.Fatalf("LocateMacros = %+v, want one MAX_LEN site", sites)
	}
	if sites[0].StartLine != 1 {
		t.Errorf("StartLine = %d, want 1 (0-indexed second line)", sites[0].StartLine)
	}
}

func TestDefineScanLocator_FunctionLikeMacroMatchesParens(t *testing.T) {
	src := []byte("#define SQ(x) ((x) * (x))\nint y = SQ(value);\n")
	sites, err := DefineScanLocator{}.LocateMacros("a.c", src)
	if err != nil {
		t.Fatalf("LocateMacros error: %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("LocateMacros = %+v, want exactly one invocation site", sites)
	}
	site := sites[0]
	if site.Name != "SQ" {
		t.Errorf("Name = %q, want SQ", site.Name)
	}
	if site.EndCol <= site.StartCol {
		t.Errorf("EndCol (%d) should extend past StartCol (%d) to cover the argument list", site.EndCol, site.StartCol)
	}
}

func TestDefineScanLocator_NoDefinesYieldsNoSites(t *testing.T) {
	sites, err := DefineScanLocator{}.LocateMacros("a.c", []byte("int main(void) { return 0; }\n"))
	if err != nil {
		t.Fatalf("LocateMacros error: %v", err)
	}
	if sites != nil {
		t.Errorf("LocateMacros = %+v, want nil for a file with no #define", sites)
	}
}
