// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddRelationsDedupsByCompositeKey(t *testing.T) {
	s := NewStore()
	s.AddRelations(
		Relation{Head: 1, Tail: 2, Kind: RelCalls},
		Relation{Head: 1, Tail: 2, Kind: RelCalls},       // exact duplicate, dropped
		Relation{Head: 1, Tail: 2, Kind: RelAssignedTo},  // different kind, kept
		Relation{Head: 1, Tail: 2, Kind: RelCalls, ContextVar: 9}, // different context, kept
	)

	assert.Len(t, s.Relations(), 3)
}

func TestStore_AddRelationsKeepsFirstOccurrence(t *testing.T) {
	s := NewStore()
	first := Relation{Head: 1, Tail: 2, Kind: RelCalls, VisibilityChecked: true}
	second := Relation{Head: 1, Tail: 2, Kind: RelCalls, VisibilityChecked: false}
	s.AddRelations(first, second)

	require.Len(t, s.Relations(), 1)
	assert.True(t, s.Relations()[0].VisibilityChecked, "the first-inserted relation for a key must win, not a later duplicate")
}

func TestStore_WriteAndLoadSnapshotRoundTrips(t *testing.T) {
	dir := t.TempDir()

	idx := NewIndices()
	file := Entity{ID: 1, Kind: KindFile, Path: "a.c", SourceFile: "a.c"}
	fn := Entity{ID: 2, Kind: KindFunction, Name: "main", SourceFile: "a.c"}
	idx.Add(file)
	idx.Add(fn)

	s := NewStore()
	s.AddEntities(file, fn)
	s.AddRelations(Relation{Head: 1, Tail: 2, Kind: RelContains})

	require.NoError(t, s.Write(dir, idx, "deadbeef"))

	loaded, nextID, lastSHA, err := LoadSnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, ID(3), nextID, "next id must resume one past the highest entity id written")
	assert.Equal(t, "deadbeef", lastSHA)

	gotFn := loaded.Functions("main")
	assert.Equal(t, []ID{2}, gotFn)

	relations, err := LoadRelations(dir)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, RelContains, relations[0].Kind)
}

func TestLoadSnapshot_MissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	idx, nextID, lastSHA, err := LoadSnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, ID(0), nextID)
	assert.Empty(t, lastSHA)
	assert.Empty(t, idx.AllEntities())
}

func TestLoadRelations_MissingFileYieldsEmptySlice(t *testing.T) {
	dir := t.TempDir()
	relations, err := LoadRelations(dir)
	require.NoError(t, err)
	assert.Empty(t, relations)
}
