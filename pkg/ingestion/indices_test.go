// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import "testing"

func TestIndices_AddAndLookupFunction(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindFunction, Name: "handle_request", SourceFile: "a.c"})

	got := idx.Functions("handle_request")
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("Functions(%q) = %v, want [1]", "handle_request", got)
	}
	if got := idx.Functions("missing"); got != nil {
		t.Errorf("Functions(missing) = %v, want nil", got)
	}
}

func TestIndices_FunctionOverloadsByNameAppend(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindFunction, Name: "init", SourceFile: "a.c"})
	idx.Add(Entity{ID: 2, Kind: KindFunction, Name: "init", SourceFile: "b.c"})

	got := idx.Functions("init")
	if len(got) != 2 {
		t.Fatalf("Functions(init) = %v, want 2 entries", got)
	}
}

func TestIndices_LocalVariableScopedByFunction(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindVariable, Name: "count", Scope: "main", SourceFile: "a.c"})
	idx.Add(Entity{ID: 2, Kind: KindVariable, Name: "count", Scope: "worker", SourceFile: "a.c"})

	if id, ok := idx.LocalVariable("count", "main"); !ok || id != 1 {
		t.Errorf("LocalVariable(count, main) = (%d, %v), want (1, true)", id, ok)
	}
	if id, ok := idx.LocalVariable("count", "worker"); !ok || id != 2 {
		t.Errorf("LocalVariable(count, worker) = (%d, %v), want (2, true)", id, ok)
	}
	if _, ok := idx.LocalVariable("count", "other"); ok {
		t.Error("LocalVariable(count, other) should not be found")
	}
}

func TestIndices_GlobalVariableScope(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindVariable, Name: "g_counter", Scope: ScopeGlobal, SourceFile: "a.c"})

	got := idx.GlobalVariables("g_counter")
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("GlobalVariables(g_counter) = %v, want [1]", got)
	}
	if _, ok := idx.LocalVariable("g_counter", ScopeGlobal); ok {
		t.Error("a global should not also be reachable via LocalVariable")
	}
}

func TestIndices_ParamIndexedByFunctionName(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindVariable, Name: "req", Scope: "handle_request", Role: RoleParam, SourceFile: "a.c"})

	if id, ok := idx.Param("req", "handle_request"); !ok || id != 1 {
		t.Errorf("Param(req, handle_request) = (%d, %v), want (1, true)", id, ok)
	}
	if _, ok := idx.Param("req", "other_fn"); ok {
		t.Error("Param should be scoped to the declaring function")
	}
}

func TestIndices_RemovePurgesEveryIndex(t *testing.T) {
	idx := NewIndices()
	e := Entity{ID: 1, Kind: KindFunction, Name: "f", SourceFile: "a.c"}
	idx.Add(e)
	idx.Remove(e)

	if got := idx.Functions("f"); got != nil {
		t.Errorf("Functions(f) after Remove = %v, want nil", got)
	}
	if _, ok := idx.EntityFile(1); ok {
		t.Error("EntityFile should not resolve a removed id")
	}
	if _, ok := idx.Entity(1); ok {
		t.Error("Entity should not resolve a removed id")
	}
	if _, ok := idx.BySignature(e.Signature()); ok {
		t.Error("BySignature should not resolve a removed entity's signature")
	}
}

func TestIndices_RemoveLeavesSiblingsWithSameNameIntact(t *testing.T) {
	idx := NewIndices()
	a := Entity{ID: 1, Kind: KindFunction, Name: "init", SourceFile: "a.c"}
	b := Entity{ID: 2, Kind: KindFunction, Name: "init", SourceFile: "b.c"}
	idx.Add(a)
	idx.Add(b)
	idx.Remove(a)

	got := idx.Functions("init")
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("Functions(init) after removing one = %v, want [2]", got)
	}
}

func TestIndices_BySignatureRoundTrips(t *testing.T) {
	idx := NewIndices()
	e := Entity{ID: 7, Kind: KindStruct, Name: "Widget", Scope: ScopeGlobal, SourceFile: "widget.h"}
	idx.Add(e)

	id, ok := idx.BySignature(e.Signature())
	if !ok || id != 7 {
		t.Fatalf("BySignature = (%d, %v), want (7, true)", id, ok)
	}
}

func TestIndices_MaxID(t *testing.T) {
	idx := NewIndices()
	if got := idx.MaxID(); got != 0 {
		t.Errorf("MaxID() on empty indices = %d, want 0", got)
	}
	idx.Add(Entity{ID: 3, Kind: KindFunction, Name: "a", SourceFile: "a.c"})
	idx.Add(Entity{ID: 9, Kind: KindFunction, Name: "b", SourceFile: "a.c"})
	idx.Add(Entity{ID: 5, Kind: KindFunction, Name: "c", SourceFile: "a.c"})
	if got := idx.MaxID(); got != 9 {
		t.Errorf("MaxID() = %d, want 9", got)
	}
}

func TestIndices_FileIndexIgnoresStaleID(t *testing.T) {
	idx := NewIndices()
	file := Entity{ID: 1, Kind: KindFile, Path: "a.c", SourceFile: "a.c"}
	idx.Add(file)
	// Remove under a different, mismatched id: the path entry must survive
	// since Remove only deletes fileIndex[path] when the id still matches.
	stale := Entity{ID: 99, Kind: KindFile, Path: "a.c", SourceFile: "a.c"}
	idx.Remove(stale)

	if id, ok := idx.File("a.c"); !ok || id != 1 {
		t.Errorf("File(a.c) after removing a mismatched id = (%d, %v), want (1, true)", id, ok)
	}
}

func TestIndices_AllEntitiesReturnsEverythingLive(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindFunction, Name: "a", SourceFile: "a.c"})
	idx.Add(Entity{ID: 2, Kind: KindStruct, Name: "B", SourceFile: "a.c"})
	idx.Remove(Entity{ID: 2, Kind: KindStruct, Name: "B", SourceFile: "a.c"})

	all := idx.AllEntities()
	if len(all) != 1 || all[0].ID != 1 {
		t.Fatalf("AllEntities() = %v, want exactly entity 1", all)
	}
}
