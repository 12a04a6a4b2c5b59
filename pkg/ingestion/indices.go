// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"sort"
	"sync"
)

// varKey is the (name, scope) composite key used by variable_index and
// struct_index.
type varKey struct {
	name  string
	scope string
}

// paramKey is the (name, function_name) composite key for param_index.
type paramKey struct {
	name string
	fn   string
}

// Indices holds every multi-valued name→id lookup table described in §3
// of the spec. All indices are list-valued; a "single id" lookup is a
// convenience over a list known to have length one (variable_index and
// param_index use this convenience for local/param variables, which are
// uniquely named within their function scope).
//
// Mutable during entity extraction (guarded by mu); read-only during
// relation extraction, where callers may bypass the lock entirely once
// extraction has completed for all files being read together.
type Indices struct {
	mu sync.RWMutex

	functionIndex map[string][]ID     // name -> []id
	structIndex   map[varKey][]ID     // (name, scope) -> []id
	fieldIndex    map[string][]ID     // name -> []id
	variableLocal map[varKey]ID       // (name, function scope) -> id
	variableGlobl map[string][]ID     // name -> []id, scope == "global"
	paramIndex    map[paramKey]ID     // (name, function name) -> id
	fileIndex     map[string]ID       // absolute path -> id
	entityFile    map[ID]string       // id -> absolute path of defining file
	entityByID    map[ID]Entity       // id -> entity, for fast lookup during relation extraction
	entities      map[ID]struct{}     // set of live ids, for fast membership checks during deletion
	sigToID       map[EntitySignature]ID
}

// NewIndices creates an empty index set.
func NewIndices() *Indices {
	return &Indices{
		functionIndex: make(map[string][]ID),
		structIndex:   make(map[varKey][]ID),
		fieldIndex:    make(map[string][]ID),
		variableLocal: make(map[varKey]ID),
		variableGlobl: make(map[string][]ID),
		paramIndex:    make(map[paramKey]ID),
		fileIndex:     make(map[string]ID),
		entityFile:    make(map[ID]string),
		entityByID:    make(map[ID]Entity),
		entities:      make(map[ID]struct{}),
		sigToID:       make(map[EntitySignature]ID),
	}
}

// Add records a newly extracted entity into every index it belongs to.
// Name collisions never overwrite: the new id is appended alongside any
// existing ids for that key.
func (idx *Indices) Add(e Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addLocked(e)
}

func (idx *Indices) addLocked(e Entity) {
	idx.entityFile[e.ID] = e.SourceFile
	idx.entityByID[e.ID] = e
	idx.entities[e.ID] = struct{}{}
	idx.sigToID[e.Signature()] = e.ID

	switch e.Kind {
	case KindFile:
		idx.fileIndex[e.Path] = e.ID
	case KindFunction:
		idx.functionIndex[e.Name] = append(idx.functionIndex[e.Name], e.ID)
	case KindStruct:
		k := varKey{name: e.Name, scope: e.Scope}
		idx.structIndex[k] = append(idx.structIndex[k], e.ID)
	case KindField:
		idx.fieldIndex[e.Name] = append(idx.fieldIndex[e.Name], e.ID)
	case KindVariable:
		switch e.Role {
		case RoleParam:
			idx.paramIndex[paramKey{name: e.Name, fn: e.Scope}] = e.ID
		default:
			if e.Scope == ScopeGlobal {
				idx.variableGlobl[e.Name] = append(idx.variableGlobl[e.Name], e.ID)
			} else {
				idx.variableLocal[varKey{name: e.Name, scope: e.Scope}] = e.ID
			}
		}
	}
}

// Remove purges every trace of id e from every index (used by the
// incremental engine when an entity's defining file is deleted or the
// entity itself no longer appears in a re-extracted file).
func (idx *Indices) Remove(e Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.entityFile, e.ID)
	delete(idx.entityByID, e.ID)
	delete(idx.entities, e.ID)
	delete(idx.sigToID, e.Signature())

	switch e.Kind {
	case KindFile:
		if idx.fileIndex[e.Path] == e.ID {
			delete(idx.fileIndex, e.Path)
		}
	case KindFunction:
		idx.functionIndex[e.Name] = removeID(idx.functionIndex[e.Name], e.ID)
	case KindStruct:
		k := varKey{name: e.Name, scope: e.Scope}
		idx.structIndex[k] = removeID(idx.structIndex[k], e.ID)
	case KindField:
		idx.fieldIndex[e.Name] = removeID(idx.fieldIndex[e.Name], e.ID)
	case KindVariable:
		switch e.Role {
		case RoleParam:
			if idx.paramIndex[paramKey{name: e.Name, fn: e.Scope}] == e.ID {
				delete(idx.paramIndex, paramKey{name: e.Name, fn: e.Scope})
			}
		default:
			if e.Scope == ScopeGlobal {
				idx.variableGlobl[e.Name] = removeID(idx.variableGlobl[e.Name], e.ID)
			} else {
				k := varKey{name: e.Name, scope: e.Scope}
				if idx.variableLocal[k] == e.ID {
					delete(idx.variableLocal, k)
				}
			}
		}
	}
}

func removeID(ids []ID, target ID) []ID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Lookup helpers used by the resolver and relation extractors.

func (idx *Indices) Functions(name string) []ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]ID(nil), idx.functionIndex[name]...)
}

func (idx *Indices) Structs(name, scope string) []ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]ID(nil), idx.structIndex[varKey{name: name, scope: scope}]...)
}

func (idx *Indices) Fields(name string) []ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]ID(nil), idx.fieldIndex[name]...)
}

func (idx *Indices) LocalVariable(name, functionScope string) (ID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.variableLocal[varKey{name: name, scope: functionScope}]
	return id, ok
}

func (idx *Indices) GlobalVariables(name string) []ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]ID(nil), idx.variableGlobl[name]...)
}

func (idx *Indices) Param(name, functionName string) (ID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.paramIndex[paramKey{name: name, fn: functionName}]
	return id, ok
}

func (idx *Indices) File(path string) (ID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.fileIndex[path]
	return id, ok
}

func (idx *Indices) EntityFile(id ID) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	path, ok := idx.entityFile[id]
	return path, ok
}

func (idx *Indices) Entity(id ID) (Entity, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entityByID[id]
	return e, ok
}

// BySignature looks up a previously indexed entity by its (kind, name,
// scope, file) signature, used by the incremental engine to decide
// whether a re-extracted entity should reuse an old id.
func (idx *Indices) BySignature(sig EntitySignature) (ID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.sigToID[sig]
	return id, ok
}

// MaxID returns the highest id present in any index, or 0 if empty.
func (idx *Indices) MaxID() ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var max ID
	for id := range idx.entityByID {
		if id > max {
			max = id
		}
	}
	return max
}

// AllEntities returns a snapshot of every live entity, ordered by id so
// that persistence (entity.json) and anything derived from iterating it
// (e.g. per-file relation extraction) is deterministic across runs: the
// backing map has no stable iteration order of its own.
func (idx *Indices) AllEntities() []Entity {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Entity, 0, len(idx.entityByID))
	for _, e := range idx.entityByID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
