// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"

	"github.com/kraklabs/cgraph/pkg/ctext"
)

// CParser walks the C grammar's AST over un-preprocessed source (§4.2),
// extracting FILE/FUNCTION/STRUCT/FIELD/VARIABLE entities. Tree-sitter
// parsers are not thread-safe; a sync.Pool amortizes parser construction
// across ParseFile calls.
type CParser struct {
	logger     *slog.Logger
	pool       sync.Pool
	parserInit sync.Once
}

// NewCParser creates a parser. A nil logger falls back to slog.Default().
func NewCParser(logger *slog.Logger) *CParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &CParser{logger: logger}
}

func (p *CParser) initPool() {
	p.parserInit.Do(func() {
		p.pool.New = func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(c.GetLanguage())
			return parser
		}
	})
}

// ParseFileResult is the per-file output of ParseFile: the entities found
// in filePath, plus the parsed tree (kept alive for relation extraction,
// which re-walks the same tree to avoid a second parse).
type ParseFileResult struct {
	File     Entity
	Entities []Entity
	Tree     *sitter.Tree
	Content  []byte
}

// Close releases the underlying tree-sitter tree.
func (r *ParseFileResult) Close() {
	if r.Tree != nil {
		r.Tree.Close()
	}
}

// ParseFile parses one C translation unit and extracts its FILE,
// FUNCTION, STRUCT, FIELD and VARIABLE entities (§4.2). ids is used to
// mint entity ids in a stable, deterministic order: file entity first,
// then top-level declarations in source order, with nested struct
// fields and function parameters/locals following each declaration.
func (p *CParser) ParseFile(ctx context.Context, path string, content []byte, ids *IDCounter) (*ParseFileResult, error) {
	p.initPool()

	parserObj := p.pool.Get()
	parser, ok := parserObj.(*sitter.Parser)
	if !ok {
		return nil, fmt.Errorf("invalid parser type from pool")
	}
	defer p.pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}

	root := tree.RootNode()
	if root.HasError() {
		if n := countErrorNodes(root); n > 0 {
			p.logger.Warn("cparse.syntax_errors", "path", path, "error_count", n)
		}
		// continue: tree-sitter is error-tolerant and we still want the
		// entities it could recover
	}

	fileEntity := Entity{
		ID:         ids.Next(),
		Kind:       KindFile,
		Name:       path,
		SourceFile: path,
		Path:       path,
		Scope:      ScopeGlobal,
	}

	ext := &extractorState{
		parser:  p,
		path:    path,
		content: content,
		ids:     ids,
	}

	var entities []Entity
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		entities = append(entities, ext.extractTopLevel(child)...)
	}

	return &ParseFileResult{
		File:     fileEntity,
		Entities: entities,
		Tree:     tree,
		Content:  content,
	}, nil
}

type extractorState struct {
	parser  *CParser
	path    string
	content []byte
	ids     *IDCounter
}

func (e *extractorState) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(e.content)
}

// extractTopLevel dispatches on a translation_unit child's node type.
func (e *extractorState) extractTopLevel(node *sitter.Node) []Entity {
	switch node.Type() {
	case "function_definition":
		return e.extractFunction(node)
	case "declaration":
		if isFunctionDeclarator(node) {
			return nil // prototype only, no definition body to extract locals from
		}
		return e.extractGlobalVariables(node)
	case "type_definition":
		return e.extractTypedefStruct(node)
	case "struct_specifier":
		if fieldListOf(node) != nil {
			return e.extractStruct(node, node.Parent())
		}
	}
	return nil
}

// extractFunction extracts a FUNCTION entity plus its PARAMETER and local
// VARIABLE entities (§4.2: "function body traversal enumerates parameter
// and local variable declarations").
func (e *extractorState) extractFunction(node *sitter.Node) []Entity {
	declarator := findFunctionDeclarator(node)
	if declarator == nil {
		return nil
	}
	name := declaratorName(declarator, e.content)
	if name == "" {
		return nil
	}

	sp := node.StartPoint()
	ep := node.EndPoint()
	fn := Entity{
		ID:           e.ids.Next(),
		Kind:         KindFunction,
		Name:         name,
		SourceFile:   e.path,
		Scope:        ScopeGlobal,
		DeclaredType: functionReturnType(node, e.content),
		StartLine:    int(sp.Row), StartCol: int(sp.Column),
		EndLine: int(ep.Row), EndCol: int(ep.Column),
	}
	entities := []Entity{fn}

	paramList := findChildOfType(declarator, "parameter_list")
	if paramList != nil {
		for i := 0; i < int(paramList.ChildCount()); i++ {
			child := paramList.Child(i)
			if child.Type() != "parameter_declaration" {
				continue
			}
			pname, ptype := parameterNameAndType(child, e.content)
			if pname == "" {
				continue
			}
			psp := child.StartPoint()
			pep := child.EndPoint()
			entities = append(entities, Entity{
				ID:           e.ids.Next(),
				Kind:         KindVariable,
				Name:         pname,
				SourceFile:   e.path,
				Scope:        name,
				Role:              RoleParam,
				DeclaredType:      ptype,
				IsFunctionPointer: ctext.IsFunctionPointerType(ptype),
				StartLine:    int(psp.Row), StartCol: int(psp.Column),
				EndLine: int(pep.Row), EndCol: int(pep.Column),
			})
		}
	}

	body := findChildOfType(node, "compound_statement")
	if body != nil {
		entities = append(entities, e.extractLocals(body, name)...)
		entities = append(entities, e.extractNestedStructs(body, name)...)
	}

	return entities
}

// extractLocals walks a function body for local variable declarations,
// skipping nested struct/function bodies it has already handled via
// extractNestedStructs (those declarations still appear as "declaration"
// nodes, and are filtered out when they only introduce a struct/union/enum
// tag with no declarator).
func (e *extractorState) extractLocals(node *sitter.Node, functionName string) []Entity {
	var entities []Entity
	walk(node, func(n *sitter.Node) bool {
		if n.Type() != "declaration" {
			return true
		}
		if isFunctionDeclarator(n) {
			return true
		}
		typeName := declarationBaseType(n, e.content)
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			name, declType := localDeclaratorNameAndType(child, typeName, e.content)
			if name == "" {
				continue
			}
			sp := n.StartPoint()
			ep := n.EndPoint()
			entities = append(entities, Entity{
				ID:           e.ids.Next(),
				Kind:         KindVariable,
				Name:         name,
				SourceFile:   e.path,
				Scope:        functionName,
				Role:              RoleLocal,
				DeclaredType:      declType,
				IsFunctionPointer: ctext.IsFunctionPointerType(declType),
				StartLine:         int(sp.Row), StartCol: int(sp.Column),
				EndLine: int(ep.Row), EndCol: int(ep.Column),
			})
		}
		return true
	})
	return entities
}

// extractNestedStructs finds struct/union definitions declared inside a
// function body (local type definitions). Like every STRUCT entity they
// get global scope; the enclosing function is not recorded.
func (e *extractorState) extractNestedStructs(node *sitter.Node, functionName string) []Entity {
	var entities []Entity
	walk(node, func(n *sitter.Node) bool {
		if n.Type() != "struct_specifier" && n.Type() != "union_specifier" {
			return true
		}
		if fieldListOf(n) == nil {
			return true
		}
		entities = append(entities, e.extractStruct(n, nil)...)
		return true
	})
	return entities
}

// extractGlobalVariables extracts file-scope VARIABLE entities from a
// declaration node that is not a function prototype.
func (e *extractorState) extractGlobalVariables(node *sitter.Node) []Entity {
	typeName := declarationBaseType(node, e.content)
	var entities []Entity
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		name, declType := localDeclaratorNameAndType(child, typeName, e.content)
		if name == "" {
			continue
		}
		sp := node.StartPoint()
		ep := node.EndPoint()
		entities = append(entities, Entity{
			ID:           e.ids.Next(),
			Kind:         KindVariable,
			Name:         name,
			SourceFile:   e.path,
			Scope:             ScopeGlobal,
			DeclaredType:      declType,
			IsFunctionPointer: ctext.IsFunctionPointerType(declType),
			StartLine:         int(sp.Row), StartCol: int(sp.Column),
			EndLine: int(ep.Row), EndCol: int(ep.Column),
		})
	}
	return entities
}

// extractTypedefStruct handles `typedef struct { ... } Name;`, where the
// struct itself is anonymous and the type_definition's declarator carries
// the name actually used throughout the codebase (§4.2 "typedef-struct
// naming").
func (e *extractorState) extractTypedefStruct(node *sitter.Node) []Entity {
	structNode := findChildOfType(node, "struct_specifier")
	if structNode == nil {
		structNode = findChildOfType(node, "union_specifier")
	}
	if structNode == nil || fieldListOf(structNode) == nil {
		return nil
	}

	name := typeIdentifierOf(structNode, e.content)
	if name == "" {
		// anonymous: the typedef's own declarator supplies the name
		for i := 0; i < int(node.ChildCount()); i++ {
			if n := e.typedefDeclaratorName(node.Child(i)); n != "" {
				name = n
				break
			}
		}
	}
	if name == "" {
		return nil
	}
	return e.buildStructEntity(structNode, name)
}

func (e *extractorState) typedefDeclaratorName(n *sitter.Node) string {
	if n.Type() == "type_identifier" {
		return e.text(n)
	}
	return ""
}

// extractStruct handles a named struct_specifier/union_specifier that
// isn't wrapped in a typedef.
func (e *extractorState) extractStruct(node *sitter.Node, _ *sitter.Node) []Entity {
	name := typeIdentifierOf(node, e.content)
	if name == "" {
		return nil
	}
	return e.buildStructEntity(node, name)
}

// buildStructEntity builds the STRUCT entity and its HAS_MEMBER-bound
// FIELD entities, flattening anonymous nested struct/union fields into
// the parent's field list (§4.2 "anonymous nested struct/union field
// flattening").
func (e *extractorState) buildStructEntity(node *sitter.Node, name string) []Entity {
	sp := node.StartPoint()
	ep := node.EndPoint()
	structEntity := Entity{
		ID:         e.ids.Next(),
		Kind:       KindStruct,
		Name:       name,
		SourceFile: e.path,
		Scope:      ScopeGlobal,
		StartLine:  int(sp.Row), StartCol: int(sp.Column),
		EndLine: int(ep.Row), EndCol: int(ep.Column),
	}
	entities := []Entity{structEntity}

	fieldList := fieldListOf(node)
	if fieldList != nil {
		entities = append(entities, e.extractFields(fieldList, name)...)
	}
	return entities
}

// extractFields walks a field_declaration_list, flattening anonymous
// nested struct/union members directly into scope, the way field access
// on the outer struct is written in C (`outer.x` rather than
// `outer.anon.x`).
func (e *extractorState) extractFields(fieldList *sitter.Node, scope string) []Entity {
	var entities []Entity
	for i := 0; i < int(fieldList.ChildCount()); i++ {
		child := fieldList.Child(i)
		if child.Type() != "field_declaration" {
			continue
		}

		nested := findChildOfType(child, "struct_specifier")
		if nested == nil {
			nested = findChildOfType(child, "union_specifier")
		}
		if nested != nil && fieldListOf(nested) != nil && !hasFieldDeclarator(child) {
			// anonymous nested aggregate with no field name of its own:
			// flatten its members into the parent scope
			entities = append(entities, e.extractFields(fieldListOf(nested), scope)...)
			continue
		}

		typeName := declarationBaseType(child, e.content)
		for j := 0; j < int(child.ChildCount()); j++ {
			name, declType := fieldDeclaratorNameAndType(child.Child(j), typeName, e.content)
			if name == "" {
				continue
			}
			sp := child.StartPoint()
			ep := child.EndPoint()
			entities = append(entities, Entity{
				ID:           e.ids.Next(),
				Kind:         KindField,
				Name:         name,
				SourceFile:   e.path,
				Scope:             scope,
				DeclaredType:      declType,
				IsFunctionPointer: ctext.IsFunctionPointerType(declType),
				StartLine:         int(sp.Row), StartCol: int(sp.Column),
				EndLine: int(ep.Row), EndCol: int(ep.Column),
			})
		}
	}
	return entities
}

func hasFieldDeclarator(fieldDecl *sitter.Node) bool {
	for i := 0; i < int(fieldDecl.ChildCount()); i++ {
		t := fieldDecl.Child(i).Type()
		if t == "field_identifier" || t == "pointer_declarator" || t == "array_declarator" || t == "function_declarator" {
			return true
		}
	}
	return false
}

// countErrorNodes counts ERROR nodes in a parsed tree.
func countErrorNodes(node *sitter.Node) int {
	count := 0
	if node.Type() == "ERROR" {
		count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		count += countErrorNodes(node.Child(i))
	}
	return count
}

// walk performs a depth-first traversal, stopping descent under a
// subtree when fn returns false for it.
func walk(node *sitter.Node, fn func(*sitter.Node) bool) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), fn)
	}
}

func findChildOfType(node *sitter.Node, nodeType string) *sitter.Node {
	if node == nil {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}

func fieldListOf(node *sitter.Node) *sitter.Node {
	return findChildOfType(node, "field_declaration_list")
}

func typeIdentifierOf(node *sitter.Node, content []byte) string {
	n := findChildOfType(node, "type_identifier")
	if n == nil {
		return ""
	}
	return n.Content(content)
}

func isFunctionDeclarator(node *sitter.Node) bool {
	return findFunctionDeclarator(node) != nil
}

func findFunctionDeclarator(node *sitter.Node) *sitter.Node {
	var result *sitter.Node
	walk(node, func(n *sitter.Node) bool {
		if result != nil {
			return false
		}
		if n.Type() == "function_declarator" {
			result = n
			return false
		}
		if n.Type() == "compound_statement" {
			return false // don't descend into function bodies
		}
		return true
	})
	return result
}

// declaratorName extracts the identifier a (possibly pointer/array
// wrapped) function_declarator names.
func declaratorName(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			return child.Content(content)
		case "pointer_declarator", "array_declarator":
			if n := declaratorName(child, content); n != "" {
				return n
			}
		case "parameter_list":
			continue
		}
	}
	return ""
}

func functionReturnType(node *sitter.Node, content []byte) string {
	var parts []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "primitive_type", "type_identifier", "sized_type_specifier":
			parts = append(parts, child.Content(content))
		case "type_qualifier":
			parts = append(parts, child.Content(content))
		case "struct_specifier", "union_specifier", "enum_specifier":
			if n := findChildOfType(child, "type_identifier"); n != nil {
				parts = append(parts, "struct "+n.Content(content))
			}
		case "storage_class_specifier":
			// static/extern/inline don't belong in a type string
		case "function_declarator", "pointer_declarator", "compound_statement":
			if child.Type() == "pointer_declarator" {
				parts = append(parts, "*")
			}
		}
	}
	if len(parts) == 0 {
		return "int"
	}
	joined := ""
	for i, p := range parts {
		if i > 0 && p != "*" {
			joined += " "
		}
		joined += p
	}
	return joined
}

func parameterNameAndType(node *sitter.Node, content []byte) (string, string) {
	var typeParts []string
	name := ""
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "primitive_type", "type_identifier", "sized_type_specifier", "type_qualifier":
			typeParts = append(typeParts, child.Content(content))
		case "struct_specifier", "union_specifier", "enum_specifier":
			typeParts = append(typeParts, child.Content(content))
		case "identifier":
			name = child.Content(content)
		case "pointer_declarator":
			n, rest := unwrapPointer(child, content)
			name = n
			typeParts = append(typeParts, rest...)
		case "array_declarator":
			if n := findChildOfType(child, "identifier"); n != nil {
				name = n.Content(content)
			}
			typeParts = append(typeParts, "[]")
		}
	}
	declType := ""
	for i, p := range typeParts {
		if i > 0 {
			declType += " "
		}
		declType += p
	}
	return name, declType
}

// unwrapPointer returns the identifier buried under nested
// pointer_declarators and the "*" markers encountered along the way.
func unwrapPointer(node *sitter.Node, content []byte) (string, []string) {
	stars := []string{"*"}
	for {
		inner := findChildOfType(node, "pointer_declarator")
		if inner != nil {
			stars = append(stars, "*")
			node = inner
			continue
		}
		break
	}
	if id := findChildOfType(node, "identifier"); id != nil {
		return id.Content(content), stars
	}
	if fn := findChildOfType(node, "function_declarator"); fn != nil {
		if id := findChildOfType(fn, "identifier"); id != nil {
			return id.Content(content), stars
		}
	}
	return "", stars
}

// declarationBaseType extracts the non-declarator type text of a
// declaration/field_declaration (everything before the first declarator).
func declarationBaseType(node *sitter.Node, content []byte) string {
	var parts []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "primitive_type", "type_identifier", "sized_type_specifier", "type_qualifier":
			parts = append(parts, child.Content(content))
		case "struct_specifier", "union_specifier", "enum_specifier":
			if n := findChildOfType(child, "type_identifier"); n != nil {
				parts = append(parts, child.Type()[:strLen(child.Type())-len("_specifier")]+" "+n.Content(content))
			}
		case "storage_class_specifier":
			// skip static/extern: not part of the declared type
		case "identifier", "init_declarator", "pointer_declarator", "array_declarator", ";", "=":
			return joinParts(parts)
		}
	}
	return joinParts(parts)
}

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func strLen(s string) int { return len(s) }

// localDeclaratorNameAndType handles one declarator child of a
// declaration node (identifier, init_declarator, pointer_declarator, or
// array_declarator), returning "" if the child isn't a declarator at all.
func localDeclaratorNameAndType(node *sitter.Node, baseType string, content []byte) (string, string) {
	switch node.Type() {
	case "identifier":
		return node.Content(content), baseType
	case "init_declarator":
		for i := 0; i < int(node.ChildCount()); i++ {
			if name, t := localDeclaratorNameAndType(node.Child(i), baseType, content); name != "" {
				return name, t
			}
		}
	case "pointer_declarator":
		name, stars := unwrapPointer(node, content)
		return name, joinParts(append([]string{baseType}, stars...))
	case "array_declarator":
		if id := findChildOfType(node, "identifier"); id != nil {
			return id.Content(content), baseType + "[]"
		}
	}
	return "", ""
}

func fieldDeclaratorNameAndType(node *sitter.Node, baseType string, content []byte) (string, string) {
	switch node.Type() {
	case "field_identifier":
		return node.Content(content), baseType
	case "pointer_declarator":
		name, stars := unwrapFieldPointer(node, content)
		return name, joinParts(append([]string{baseType}, stars...))
	case "array_declarator":
		if id := findChildOfType(node, "field_identifier"); id != nil {
			return id.Content(content), baseType + "[]"
		}
	case "function_declarator":
		// function-pointer field, e.g. `int (*fn)(void)`; name lives one
		// level down inside the parenthesized pointer_declarator
		if id := findChildOfType(node, "field_identifier"); id != nil {
			return id.Content(content), baseType + " (*)()"
		}
		if inner := findChildOfType(node, "parenthesized_declarator"); inner != nil {
			return fieldDeclaratorNameAndType(inner, baseType, content)
		}
	case "parenthesized_declarator":
		for i := 0; i < int(node.ChildCount()); i++ {
			if name, t := fieldDeclaratorNameAndType(node.Child(i), baseType+" (*)()", content); name != "" {
				return name, t
			}
		}
	}
	return "", ""
}

func unwrapFieldPointer(node *sitter.Node, content []byte) (string, []string) {
	stars := []string{"*"}
	for {
		inner := findChildOfType(node, "pointer_declarator")
		if inner != nil {
			stars = append(stars, "*")
			node = inner
			continue
		}
		break
	}
	if id := findChildOfType(node, "field_identifier"); id != nil {
		return id.Content(content), stars
	}
	if fn := findChildOfType(node, "function_declarator"); fn != nil {
		if id := findChildOfType(fn, "field_identifier"); id != nil {
			return id.Content(content), stars
		}
	}
	return "", stars
}
