// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/cgraph/pkg/ctext"
)

// Resolver turns an identifier or member access, at a given file and
// function scope, into a single entity id (§4.5). It is built once per
// run over the fully populated indices and consulted read-only by every
// relation extractor thereafter.
type Resolver struct {
	indices *Indices
	closure *MemoizedClosure
	macros  *MacroTable
}

// NewResolver wires together the collaborators the resolver consults:
// the entity indices, the visibility closure, and the macro table.
func NewResolver(indices *Indices, closure *MemoizedClosure, macros *MacroTable) *Resolver {
	return &Resolver{indices: indices, closure: closure, macros: macros}
}

// candidate is one (id, kind, priority, defining_file) tuple gathered
// during resolution (§4.5).
type candidate struct {
	id       ID
	priority int
}

// ResolveIdentifier resolves a plain identifier per §4.5 steps 1-4,
// returning the lowest-priority candidate with first-encountered ties
// broken in gathering order.
func (r *Resolver) ResolveIdentifier(name, file, scope string) (ID, bool) {
	var best *candidate

	consider := func(id ID, priority int) {
		if best == nil || priority < best.priority {
			best = &candidate{id: id, priority: priority}
		}
	}

	// 1. local variable
	if id, ok := r.indices.LocalVariable(name, scope); ok {
		if def, ok := r.indices.EntityFile(id); ok && r.closure.Visible(file, def) {
			consider(id, 0)
		}
	}
	// also consider params, which share the local-variable candidate slot
	if id, ok := r.indices.Param(name, scope); ok {
		if def, ok := r.indices.EntityFile(id); ok && r.closure.Visible(file, def) {
			consider(id, 0)
		}
	}

	// 2. global variable
	for _, id := range r.indices.GlobalVariables(name) {
		def, ok := r.indices.EntityFile(id)
		if !ok || !r.closure.Visible(file, def) {
			continue
		}
		priority := 10
		if def == file {
			priority = 0
		}
		consider(id, priority)
	}

	// 3. function
	for _, id := range r.indices.Functions(name) {
		def, ok := r.indices.EntityFile(id)
		if !ok || !r.closure.Visible(file, def) {
			continue
		}
		priority := 1
		if def == file {
			priority = 0
		}
		consider(id, priority)
	}

	// 4. field
	for _, id := range r.indices.Fields(name) {
		def, ok := r.indices.EntityFile(id)
		if !ok || !r.closure.Visible(file, def) {
			continue
		}
		priority := 1
		if def == file {
			priority = 0
		}
		consider(id, priority)
	}

	if best == nil {
		return 0, false
	}
	return best.id, true
}

// ResolveField resolves a member access (x.f or p->f): only the
// field_index branch is consulted (§4.5 "If the AST node is a member
// access, only the field_index branch is consulted").
func (r *Resolver) ResolveField(fieldName, file string) (ID, bool) {
	var best *candidate
	for _, id := range r.indices.Fields(fieldName) {
		def, ok := r.indices.EntityFile(id)
		if !ok || !r.closure.Visible(file, def) {
			continue
		}
		priority := 1
		if def == file {
			priority = 0
		}
		if best == nil || priority < best.priority {
			best = &candidate{id: id, priority: priority}
		}
	}
	if best == nil {
		return 0, false
	}
	return best.id, true
}

// ResolveStructType resolves a type-specifier name to the STRUCT entity it
// names, visibility-checked and tie-broken the same way ResolveField is:
// a same-file definition wins over a cross-file one (§4.4 TYPE_OF).
func (r *Resolver) ResolveStructType(name, file string) (ID, bool) {
	var best *candidate
	for _, id := range r.indices.Structs(name, ScopeGlobal) {
		def, ok := r.indices.EntityFile(id)
		if !ok || !r.closure.Visible(file, def) {
			continue
		}
		priority := 1
		if def == file {
			priority = 0
		}
		if best == nil || priority < best.priority {
			best = &candidate{id: id, priority: priority}
		}
	}
	if best == nil {
		return 0, false
	}
	return best.id, true
}

// ResolveNode resolves an AST node in the role of a reference site:
// identifiers and member accesses resolve directly, composite
// expressions recurse into their first sub-node that yields a candidate
// (§4.5 "recurses into composite expression nodes until it finds the
// first sub-node that yields a candidate").
func (r *Resolver) ResolveNode(node *sitter.Node, file, scope string, content []byte) (ID, bool) {
	if node == nil {
		return 0, false
	}

	switch node.Type() {
	case "identifier":
		return r.ResolveIdentifier(node.Content(content), file, scope)
	case "field_identifier":
		return r.ResolveField(node.Content(content), file)
	case "field_expression":
		field := findChildOfType(node, "field_identifier")
		if field == nil {
			return 0, false
		}
		return r.ResolveField(field.Content(content), file)
	case "parenthesized_expression", "pointer_expression", "unary_expression", "cast_expression":
		for i := 0; i < int(node.ChildCount()); i++ {
			if id, ok := r.ResolveNode(node.Child(i), file, scope, content); ok {
				return id, true
			}
		}
		return 0, false
	default:
		for i := 0; i < int(node.ChildCount()); i++ {
			if id, ok := r.ResolveNode(node.Child(i), file, scope, content); ok {
				return id, true
			}
		}
		return 0, false
	}
}

// Candidate is one entry of the gathering set ResolveIdentifier reduces
// to a single winner; Diagnose exposes the whole set so a caller (the
// `cgraph diagnose` CLI command) can explain why a reference did or did
// not resolve the way it did (§9 "ambiguous tie-breaks").
type Candidate struct {
	ID                ID
	Priority          int
	Kind              EntityKind
	DefiningFile      string
	SameFile          bool
	IsFunctionPointer bool
}

// Diagnose gathers every candidate ResolveIdentifier would have
// considered for name at (file, scope), in the same priority order, but
// without collapsing to a single winner. An empty result explains a "no
// candidate" miss; more than one entry sharing the first entry's priority
// shows an ambiguous tie the resolver broke by first-encountered order.
func (r *Resolver) Diagnose(name, file, scope string) []Candidate {
	var out []Candidate

	add := func(id ID, priority int) {
		def, _ := r.indices.EntityFile(id)
		e, _ := r.indices.Entity(id)
		out = append(out, Candidate{
			ID: id, Priority: priority, Kind: e.Kind, DefiningFile: def, SameFile: def == file,
			IsFunctionPointer: e.IsFunctionPointer,
		})
	}

	if id, ok := r.indices.LocalVariable(name, scope); ok {
		if def, ok := r.indices.EntityFile(id); ok && r.closure.Visible(file, def) {
			add(id, 0)
		}
	}
	if id, ok := r.indices.Param(name, scope); ok {
		if def, ok := r.indices.EntityFile(id); ok && r.closure.Visible(file, def) {
			add(id, 0)
		}
	}
	for _, id := range r.indices.GlobalVariables(name) {
		def, ok := r.indices.EntityFile(id)
		if !ok || !r.closure.Visible(file, def) {
			continue
		}
		priority := 10
		if def == file {
			priority = 0
		}
		add(id, priority)
	}
	for _, id := range r.indices.Functions(name) {
		def, ok := r.indices.EntityFile(id)
		if !ok || !r.closure.Visible(file, def) {
			continue
		}
		priority := 1
		if def == file {
			priority = 0
		}
		add(id, priority)
	}
	for _, id := range r.indices.Fields(name) {
		def, ok := r.indices.EntityFile(id)
		if !ok || !r.closure.Visible(file, def) {
			continue
		}
		priority := 1
		if def == file {
			priority = 0
		}
		add(id, priority)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ResolveMacroSite substitutes a macro invocation's canonical expanded
// head into name before resolving (§4.5 "the resolver first calls
// macro_table.lookup ... and substitutes the canonical head"). Returns
// false when no macro entry covers node; callers then fall back to
// node-based resolution.
func (r *Resolver) ResolveMacroSite(node *sitter.Node, file, scope string, content []byte) (ID, bool) {
	sp := node.StartPoint()
	ep := node.EndPoint()
	entry, ok := r.macros.LookupRange(file, int(sp.Row), int(sp.Column), int(ep.Row), int(ep.Column))
	if !ok {
		return 0, false
	}
	head := ctext.CanonicalMacroHead(entry.Macro)
	if head == "" {
		return 0, false
	}
	return r.ResolveIdentifier(head, file, scope)
}
