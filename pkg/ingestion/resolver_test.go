// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(entities ...Entity) (*Resolver, *Indices) {
	idx := NewIndices()
	for _, e := range entities {
		idx.Add(e)
	}
	graph := NewIncludeGraph()
	closure := NewMemoizedClosure(graph)
	return NewResolver(idx, closure, NewMacroTable()), idx
}

func TestResolveIdentifier_LocalBeatsGlobalAndFunction(t *testing.T) {
	r, _ := newTestResolver(
		Entity{ID: 1, Kind: KindVariable, Name: "count", Scope: "main", SourceFile: "a.c"},
		Entity{ID: 2, Kind: KindVariable, Name: "count", Scope: ScopeGlobal, SourceFile: "a.c"},
		Entity{ID: 3, Kind: KindFunction, Name: "count", SourceFile: "a.c"},
	)

	id, ok := r.ResolveIdentifier("count", "a.c", "main")
	require.True(t, ok)
	assert.Equal(t, ID(1), id, "a local variable must win over a same-name global or function")
}

func TestResolveIdentifier_ParamActsLikeLocal(t *testing.T) {
	r, _ := newTestResolver(
		Entity{ID: 1, Kind: KindVariable, Name: "req", Scope: "handle", Role: RoleParam, SourceFile: "a.c"},
		Entity{ID: 2, Kind: KindFunction, Name: "req", SourceFile: "a.c"},
	)

	id, ok := r.ResolveIdentifier("req", "a.c", "handle")
	require.True(t, ok)
	assert.Equal(t, ID(1), id)
}

func TestResolveIdentifier_SameFileGlobalBeatsCrossFileGlobal(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindVariable, Name: "g", Scope: ScopeGlobal, SourceFile: "a.c"})
	idx.Add(Entity{ID: 2, Kind: KindVariable, Name: "g", Scope: ScopeGlobal, SourceFile: "b.c"})
	graph := NewIncludeGraph()
	graph.AddSibling("a.c", "b.c") // b.c's global is a visible cross-file candidate
	r := NewResolver(idx, NewMemoizedClosure(graph), NewMacroTable())

	id, ok := r.ResolveIdentifier("g", "a.c", "main")
	require.True(t, ok)
	assert.Equal(t, ID(1), id, "the same-file global (priority 0) must beat the cross-file global (priority 10)")
}

func TestResolveIdentifier_FunctionBeatsField(t *testing.T) {
	r, _ := newTestResolver(
		Entity{ID: 1, Kind: KindFunction, Name: "tune", SourceFile: "a.c"},
		Entity{ID: 2, Kind: KindField, Name: "tune", Scope: "Ops", SourceFile: "a.c"},
	)

	id, ok := r.ResolveIdentifier("tune", "a.c", "main")
	require.True(t, ok)
	assert.Equal(t, ID(1), id)
}

func TestResolveIdentifier_NotVisibleCandidateIsSkipped(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindVariable, Name: "g", Scope: ScopeGlobal, SourceFile: "other.c"})
	graph := NewIncludeGraph() // no edge between a.c and other.c at all
	closure := NewMemoizedClosure(graph)
	r := NewResolver(idx, closure, NewMacroTable())

	_, ok := r.ResolveIdentifier("g", "a.c", "main")
	assert.False(t, ok, "a candidate whose defining file is outside the visibility closure must not resolve")
}

func TestResolveIdentifier_NoCandidateReturnsFalse(t *testing.T) {
	r, _ := newTestResolver()
	_, ok := r.ResolveIdentifier("nope", "a.c", "main")
	assert.False(t, ok)
}

func TestResolveField_OnlyConsultsFieldIndex(t *testing.T) {
	r, _ := newTestResolver(
		Entity{ID: 1, Kind: KindFunction, Name: "tune", SourceFile: "a.c"},
		Entity{ID: 2, Kind: KindField, Name: "tune", Scope: "Ops", SourceFile: "a.c"},
	)

	id, ok := r.ResolveField("tune", "a.c")
	require.True(t, ok)
	assert.Equal(t, ID(2), id, "ResolveField must never consider the function candidate")
}

func TestDiagnose_ReportsEveryCandidateInPriorityOrder(t *testing.T) {
	idx := NewIndices()
	idx.Add(Entity{ID: 1, Kind: KindVariable, Name: "x", Scope: ScopeGlobal, SourceFile: "b.c"})
	idx.Add(Entity{ID: 2, Kind: KindFunction, Name: "x", SourceFile: "a.c"})
	graph := NewIncludeGraph()
	graph.AddSibling("a.c", "b.c") // b.c's global is a visible cross-file candidate
	r := NewResolver(idx, NewMemoizedClosure(graph), NewMacroTable())

	candidates := r.Diagnose("x", "a.c", "main")
	require.Len(t, candidates, 2)
	assert.Equal(t, ID(2), candidates[0].ID, "the same-file function (priority 0) should be listed first")
	assert.Equal(t, 0, candidates[0].Priority)
	assert.Equal(t, 10, candidates[1].Priority)
}

func TestDiagnose_EmptyWhenNothingMatches(t *testing.T) {
	r, _ := newTestResolver()
	assert.Empty(t, r.Diagnose("ghost", "a.c", "main"))
}
