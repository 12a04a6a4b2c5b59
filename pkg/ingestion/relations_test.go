// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildGraph parses every (path, src) fixture, indexes every entity it
// produces, builds a fully-connected visibility closure (every fixture file
// mutually visible, the simplest graph that still exercises cross-file
// resolution), and extracts every relation kind over every file. It mirrors
// what RunFull's two phases do, minus the on-disk plumbing.
func buildGraph(t *testing.T, files map[string]string) ([]Relation, *Indices) {
	t.Helper()

	indices := NewIndices()
	ids := NewIDCounter()
	parser := NewCParser(nil)
	macros := NewMacroTable()

	type parsed struct {
		path    string
		content []byte
		result  *ParseFileResult
	}
	var parsedFiles []parsed

	graph := NewIncludeGraph()
	var paths []string
	for path := range files {
		paths = append(paths, path)
	}
	// every file is mutually visible: a fully-connected sibling mesh is the
	// simplest graph that still lets cross-file CALLS resolve without
	// pulling in real #include parsing for these fixtures.
	for _, a := range paths {
		for _, b := range paths {
			if a != b {
				graph.AddSibling(a, b)
			}
		}
	}

	for path, src := range files {
		content := []byte(src)
		result, err := parser.ParseFile(context.Background(), path, content, ids)
		require.NoError(t, err)
		t.Cleanup(result.Close)

		indices.Add(result.File)
		for _, e := range result.Entities {
			indices.Add(e)
		}
		parsedFiles = append(parsedFiles, parsed{path: path, content: content, result: result})
	}

	closure := NewMemoizedClosure(graph)
	resolver := NewResolver(indices, closure, macros)
	extractor := NewRelationExtractor(resolver, indices, macros)

	var rels []Relation
	for _, pf := range parsedFiles {
		fileID, _ := indices.File(pf.path)
		var fileEntities []Entity
		for _, e := range indices.AllEntities() {
			if e.SourceFile == pf.path {
				fileEntities = append(fileEntities, e)
			}
		}
		rels = append(rels, extractor.ExtractFileRelations(fileID, fileEntities)...)
		rels = append(rels, extractor.ExtractASTRelations(pf.result.Tree.RootNode(), pf.path, pf.content)...)
	}
	return rels, indices
}

func findRelations(rels []Relation, kind RelationKind) []Relation {
	var out []Relation
	for _, r := range rels {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Scenario 1 (§8): same-name static functions in two files, both calling
// their own same-named function — the CALLS tail must never cross files.
func TestScenario_SameNameStaticFunctionsNeverCross(t *testing.T) {
	rels, indices := buildGraph(t, map[string]string{
		"a.c": `
static void probe(void) {}
void run_a(void) { probe(); }
`,
		"b.c": `
static void probe(void) {}
void run_b(void) { probe(); }
`,
	})

	calls := findRelations(rels, RelCalls)
	require.Len(t, calls, 2, "each caller produces exactly one CALLS relation")

	for _, c := range calls {
		headFile, _ := indices.EntityFile(c.Head)
		tailFile, _ := indices.EntityFile(c.Tail)
		assert.Equal(t, headFile, tailFile, "CALLS must resolve probe() to the probe defined in the caller's own file")
	}
}

// Scenario 2 (§8): function-pointer dispatch through a struct field.
func TestScenario_FunctionPointerFieldDispatch(t *testing.T) {
	rels, indices := buildGraph(t, map[string]string{
		"a.c": `
struct ops {
    int (*tune)(void);
};

int my_tune(void) { return 0; }

struct ops OPS = { .tune = my_tune };

void run(void) {
    OPS.tune();
}
`,
	})

	tuneField := findEntity(t, indices.AllEntities(), KindField, "tune")
	myTune := findEntity(t, indices.AllEntities(), KindFunction, "my_tune")

	assignments := findRelations(rels, RelAssignedTo)
	require.Len(t, assignments, 1, "exactly one ASSIGNED_TO for the .tune = my_tune designated initializer")
	assert.Equal(t, tuneField.ID, assignments[0].Head, "ASSIGNED_TO head must be the FIELD tune, not the OPS variable")
	assert.Equal(t, myTune.ID, assignments[0].Tail)

	// at least one CALLS relation targets the function-pointer field itself
	calls := findRelations(rels, RelCalls)
	var sawFieldCall bool
	for _, c := range calls {
		if c.Tail == tuneField.ID {
			sawFieldCall = true
		}
	}
	assert.True(t, sawFieldCall, "CALLS(caller -> FIELD tune) must be produced for OPS.tune()")
}

// Scenario 4 (§8): a macro-wrapped call resolves through the macro table's
// canonical expansion rather than the raw callee spelling.
func TestScenario_MacroWrappedCallResolvesExpandedHead(t *testing.T) {
	src := `
int real_foo(void) { return 1; }

void run(void) {
    CALL(foo);
}
`
	parser := NewCParser(nil)
	ids := NewIDCounter()
	result, err := parser.ParseFile(context.Background(), "a.c", []byte(src), ids)
	require.NoError(t, err)
	t.Cleanup(result.Close)

	indices := NewIndices()
	indices.Add(result.File)
	for _, e := range result.Entities {
		indices.Add(e)
	}

	// locate the call_expression node for CALL(foo) to stand in for what a
	// real MacroLocator would have reported: the macro table is keyed by
	// exact node range, so the fixture finds that range directly rather
	// than re-deriving it from a textual scan.
	var callNode *sitter.Node
	walk(result.Tree.RootNode(), func(n *sitter.Node) bool {
		if callNode == nil && n.Type() == "call_expression" {
			callNode = n
		}
		return callNode == nil
	})
	require.NotNil(t, callNode, "expected to find the CALL(foo) call_expression node")

	sp := callNode.StartPoint()
	ep := callNode.EndPoint()

	macros := NewMacroTable()
	macros.Add(MacroEntry{
		File:     "a.c",
		Location: [4]int{int(sp.Row), int(sp.Column), int(ep.Row), int(ep.Column)},
		Name:     "CALL",
		Macro:    "real_foo()",
	})

	graph := NewIncludeGraph()
	closure := NewMemoizedClosure(graph)
	resolver := NewResolver(indices, closure, macros)
	extractor := NewRelationExtractor(resolver, indices, macros)

	rels := extractor.ExtractASTRelations(result.Tree.RootNode(), "a.c", []byte(src))
	calls := findRelations(rels, RelCalls)
	require.Len(t, calls, 1)

	realFoo := findEntity(t, indices.AllEntities(), KindFunction, "real_foo")
	assert.Equal(t, realFoo.ID, calls[0].Tail)
	assert.True(t, calls[0].VisibilityChecked, "a macro-resolved CALLS is marked visibility-checked")
}

