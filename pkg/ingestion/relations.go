// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/cgraph/pkg/ctext"
)

// RelationExtractor walks one file's AST once and produces every
// relation kind in §4.4, consulting the resolver for each syntactic site
// that names another entity.
type RelationExtractor struct {
	resolver *Resolver
	indices  *Indices
	macros   *MacroTable
}

// NewRelationExtractor wires a resolver, the entity indices (for
// CONTAINS/HAS_* joins), and the macro table.
func NewRelationExtractor(resolver *Resolver, indices *Indices, macros *MacroTable) *RelationExtractor {
	return &RelationExtractor{resolver: resolver, indices: indices, macros: macros}
}

// ExtractFileRelations produces the CONTAINS, HAS_MEMBER, HAS_PARAMETER
// and HAS_VARIABLE relations derivable purely from a file's own entity
// list (§4.4), without needing the AST at all.
func (x *RelationExtractor) ExtractFileRelations(fileID ID, entities []Entity) []Relation {
	var rels []Relation

	structsByKey := make(map[varKey]ID)
	functionsByName := make(map[string][]ID)

	for _, e := range entities {
		isGlobalVariable := e.Kind == KindVariable && e.Role != RoleLocal && e.Role != RoleParam
		if e.Kind == KindFunction || e.Kind == KindStruct || isGlobalVariable {
			rels = append(rels, Relation{Head: fileID, Tail: e.ID, Kind: RelContains})
		}
		if e.Kind == KindStruct {
			k := varKey{name: e.Name, scope: e.Scope}
			if _, exists := structsByKey[k]; !exists {
				structsByKey[k] = e.ID
			}
		}
		if e.Kind == KindFunction {
			functionsByName[e.Name] = append(functionsByName[e.Name], e.ID)
		}
	}

	for _, e := range entities {
		switch {
		case e.Kind == KindField:
			k := varKey{name: e.Scope, scope: ScopeGlobal}
			// fields' Scope holds the owning struct's name; the struct's
			// own scope is always global (nested anonymous members are
			// already flattened by the extractor), so (name, global) is
			// the join key.
			if sid, ok := structsByKey[k]; ok {
				rels = append(rels, Relation{Head: sid, Tail: e.ID, Kind: RelHasMember})
			}
		case e.Kind == KindVariable && e.Role == RoleParam:
			if fid, ok := bestFunctionMatch(functionsByName[e.Scope], e.SourceFile, x.indices); ok {
				rels = append(rels, Relation{Head: fid, Tail: e.ID, Kind: RelHasParam})
			}
		case e.Kind == KindVariable && e.Role == RoleLocal:
			if fid, ok := bestFunctionMatch(functionsByName[e.Scope], e.SourceFile, x.indices); ok {
				rels = append(rels, Relation{Head: fid, Tail: e.ID, Kind: RelHasVar})
			}
		}
	}
	return rels
}

// bestFunctionMatch implements §4.4's HAS_PARAMETER/HAS_VARIABLE tie
// break: prefer the function defined in the same file as the
// parameter/local, else the first id.
func bestFunctionMatch(ids []ID, file string, indices *Indices) (ID, bool) {
	if len(ids) == 0 {
		return 0, false
	}
	for _, id := range ids {
		if def, ok := indices.EntityFile(id); ok && def == file {
			return id, true
		}
	}
	return ids[0], true
}

// ExtractASTRelations walks file's AST once, producing CALLS,
// ASSIGNED_TO, RETURNS and TYPE_OF relations (§4.4).
func (x *RelationExtractor) ExtractASTRelations(root *sitter.Node, file string, content []byte) []Relation {
	var rels []Relation
	x.walkScoped(root, file, ScopeGlobal, content, &rels)
	return rels
}

// walkScoped traverses node tracking the enclosing function name as
// scope, dispatching each relation-producing node type it encounters.
func (x *RelationExtractor) walkScoped(node *sitter.Node, file, scope string, content []byte, rels *[]Relation) {
	if node == nil {
		return
	}

	nextScope := scope
	if node.Type() == "function_definition" {
		if declarator := findFunctionDeclarator(node); declarator != nil {
			if name := declaratorName(declarator, content); name != "" {
				nextScope = name
			}
		}
	}

	switch node.Type() {
	case "call_expression":
		if rel, ok := x.extractCall(node, file, nextScope, content); ok {
			*rels = append(*rels, rel)
		}
	case "assignment_expression":
		if rel, ok := x.extractAssignment(node, file, nextScope, content); ok {
			*rels = append(*rels, rel)
		}
	case "init_declarator":
		if rel, ok := x.extractInitializer(node, file, nextScope, content); ok {
			*rels = append(*rels, rel)
		}
	case "initializer_pair":
		if rel, ok := x.extractDesignatedInit(node, file, nextScope, content); ok {
			*rels = append(*rels, rel)
		}
	case "return_statement":
		if rel, ok := x.extractReturn(node, file, nextScope, content); ok {
			*rels = append(*rels, rel)
		}
	case "declaration", "field_declaration", "parameter_declaration":
		*rels = append(*rels, x.extractTypeOf(node, file, nextScope, content)...)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		x.walkScoped(node.Child(i), file, nextScope, content, rels)
	}
}

// extractCall handles one call_expression: macro expansion is tried
// first, then the raw callee identifier/member/pointer expression
// through the resolver (§4.4 CALLS).
func (x *RelationExtractor) extractCall(node *sitter.Node, file, scope string, content []byte) (Relation, bool) {
	head, ok := x.callerFunction(scope, file)
	if !ok {
		return Relation{}, false
	}

	if calleeID, ok := x.resolver.ResolveMacroSite(node, file, scope, content); ok {
		return Relation{Head: head, Tail: calleeID, Kind: RelCalls, VisibilityChecked: true}, true
	}

	fn := node.Child(0)
	if fn == nil {
		return Relation{}, false
	}
	calleeID, ok := x.resolver.ResolveNode(fn, file, scope, content)
	if !ok {
		return Relation{}, false
	}
	return Relation{Head: head, Tail: calleeID, Kind: RelCalls, VisibilityChecked: true}, true
}

// callerFunction resolves scope (the enclosing function's name) to the
// FUNCTION entity defined in file, the caller-side head of CALLS,
// ASSIGNED_TO and RETURNS relations.
func (x *RelationExtractor) callerFunction(scope, file string) (ID, bool) {
	if scope == ScopeGlobal {
		return 0, false
	}
	for _, id := range x.indices.Functions(scope) {
		if def, ok := x.indices.EntityFile(id); ok && def == file {
			return id, true
		}
	}
	return 0, false
}

// extractAssignment handles assignment_expression: both sides resolve
// through the resolver; macros are consulted on either side exactly as
// for calls (§4.4 ASSIGNED_TO).
func (x *RelationExtractor) extractAssignment(node *sitter.Node, file, scope string, content []byte) (Relation, bool) {
	if node.ChildCount() < 2 {
		return Relation{}, false
	}
	lhs := node.Child(0)
	rhs := node.ChildCount() - 1
	rhsNode := node.Child(rhs)

	lhsID, ok := x.resolveSideWithMacro(lhs, file, scope, content)
	if !ok {
		return Relation{}, false
	}
	rhsID, ok := x.resolveSideWithMacro(rhsNode, file, scope, content)
	if !ok {
		return Relation{}, false
	}
	return Relation{Head: lhsID, Tail: rhsID, Kind: RelAssignedTo, VisibilityChecked: true}, true
}

func (x *RelationExtractor) extractInitializer(node *sitter.Node, file, scope string, content []byte) (Relation, bool) {
	declName := findChildOfType(node, "identifier")
	if declName == nil {
		return Relation{}, false
	}
	lhsID, ok := x.resolver.ResolveIdentifier(declName.Content(content), file, scope)
	if !ok {
		return Relation{}, false
	}

	var value *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c.Type() != "identifier" && c.Type() != "=" {
			value = c
		}
	}
	if value == nil {
		return Relation{}, false
	}
	if value.Type() == "initializer_list" {
		// a braced struct/array initializer names no single rvalue entity
		// of its own; its designated members are handled individually by
		// extractDesignatedInit (e.g. `.tune = my_tune` below).
		return Relation{}, false
	}
	rhsID, ok := x.resolveSideWithMacro(value, file, scope, content)
	if !ok {
		return Relation{}, false
	}
	return Relation{Head: lhsID, Tail: rhsID, Kind: RelAssignedTo, VisibilityChecked: true}, true
}

// extractDesignatedInit handles one designated initializer member inside a
// braced initializer list, e.g. `.tune = my_tune` in
// `struct ops OPS = { .tune = my_tune };`: the head is the FIELD entity the
// designator names (resolved the same way a `x.f` member access would be,
// §4.5's field-only branch), not the enclosing variable, matching the
// ASSIGNED_TO(FIELD -> FUNCTION) shape function-pointer dispatch sites need
// (§8 scenario 2).
func (x *RelationExtractor) extractDesignatedInit(node *sitter.Node, file, scope string, content []byte) (Relation, bool) {
	var fieldName string
	var value *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "field_designator":
			if f := findChildOfType(child, "field_identifier"); f != nil {
				fieldName = f.Content(content)
			}
		case "=":
			continue
		default:
			value = child
		}
	}
	if fieldName == "" || value == nil {
		return Relation{}, false
	}

	lhsID, ok := x.resolver.ResolveField(fieldName, file)
	if !ok {
		return Relation{}, false
	}
	rhsID, ok := x.resolveSideWithMacro(value, file, scope, content)
	if !ok {
		return Relation{}, false
	}
	return Relation{Head: lhsID, Tail: rhsID, Kind: RelAssignedTo, VisibilityChecked: true}, true
}

func (x *RelationExtractor) resolveSideWithMacro(node *sitter.Node, file, scope string, content []byte) (ID, bool) {
	if id, ok := x.resolver.ResolveMacroSite(node, file, scope, content); ok {
		return id, true
	}
	return x.resolver.ResolveNode(node, file, scope, content)
}

// extractReturn handles return_statement: only identifier, field, and
// pointer-member expressions produce a RETURNS relation; literals,
// arithmetic, and calls yield none (§4.4 RETURNS).
func (x *RelationExtractor) extractReturn(node *sitter.Node, file, scope string, content []byte) (Relation, bool) {
	var expr *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c.Type() != "return" && c.Type() != ";" {
			expr = c
		}
	}
	if expr == nil {
		return Relation{}, false
	}
	switch expr.Type() {
	case "identifier", "field_expression":
	default:
		return Relation{}, false
	}

	head, ok := x.callerFunction(scope, file)
	if !ok {
		return Relation{}, false
	}

	targetID, ok := x.resolver.ResolveNode(expr, file, scope, content)
	if !ok {
		return Relation{}, false
	}
	return Relation{Head: head, Tail: targetID, Kind: RelReturns, VisibilityChecked: true}, true
}

// extractTypeOf handles a declaration/field_declaration whose type
// specifier names a known struct: emits TYPE_OF from the declared
// variable/field to the struct (§4.4 TYPE_OF).
func (x *RelationExtractor) extractTypeOf(node *sitter.Node, file, scope string, content []byte) []Relation {
	typeName := declarationBaseType(node, content)
	canonical := ctext.NormalizeCType(typeName)
	if canonical == "" {
		return nil
	}

	structID, ok := x.resolver.ResolveStructType(canonical, file)
	if !ok {
		return nil
	}

	declType := node.Type()
	nameFields := []string{"identifier", "field_identifier"}
	var rels []Relation
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if declType == "parameter_declaration" {
			if contains(nameFields, child.Type()) {
				id := findParamOrLocalID(x.indices, child.Content(content), scope)
				if id != 0 {
					rels = append(rels, Relation{Head: id, Tail: structID, Kind: RelTypeOf, VisibilityChecked: true})
				}
			}
			continue
		}
		if contains(nameFields, child.Type()) {
			id := findParamOrLocalID(x.indices, child.Content(content), scope)
			if id != 0 {
				rels = append(rels, Relation{Head: id, Tail: structID, Kind: RelTypeOf, VisibilityChecked: true})
			}
		}
		for d := 0; d < int(child.ChildCount()); d++ {
			inner := child.Child(d)
			if contains(nameFields, inner.Type()) {
				id := findParamOrLocalID(x.indices, inner.Content(content), scope)
				if id != 0 {
					rels = append(rels, Relation{Head: id, Tail: structID, Kind: RelTypeOf, VisibilityChecked: true})
				}
			}
		}
	}
	return rels
}

// findParamOrLocalID is a best-effort lookup used only by TYPE_OF, which
// does not carry enough context to know whether name is a local, a
// parameter, a global, or a field; it searches local, then param, then
// global, then field, in that order, and returns the first hit,
// deliberately looser than the resolver's visibility-checked candidate
// search since TYPE_OF's own id was just minted in the same extraction
// pass.
func findParamOrLocalID(indices *Indices, name, scope string) ID {
	if id, ok := indices.LocalVariable(name, scope); ok {
		return id
	}
	if id, ok := indices.Param(name, scope); ok {
		return id
	}
	for _, id := range indices.GlobalVariables(name) {
		return id
	}
	for _, id := range indices.Fields(name) {
		return id
	}
	return 0
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// ExtractIncludes produces the INCLUDES relation between a file and each
// #include "..." target it resolved (§4.4, derived from the include
// graph rather than an AST walk).
func ExtractIncludes(fileID ID, targets []ID) []Relation {
	rels := make([]Relation, 0, len(targets))
	for _, t := range targets {
		rels = append(rels, Relation{Head: fileID, Tail: t, Kind: RelIncludes})
	}
	return rels
}
