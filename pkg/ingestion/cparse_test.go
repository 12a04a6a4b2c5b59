// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFixture(t *testing.T, path, src string) *ParseFileResult {
	t.Helper()
	parser := NewCParser(nil)
	result, err := parser.ParseFile(context.Background(), path, []byte(src), NewIDCounter())
	require.NoError(t, err)
	t.Cleanup(result.Close)
	return result
}

func entitiesByKind(entities []Entity, kind EntityKind) []Entity {
	var out []Entity
	for _, e := range entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func findEntity(t *testing.T, entities []Entity, kind EntityKind, name string) Entity {
	t.Helper()
	for _, e := range entities {
		if e.Kind == kind && e.Name == name {
			return e
		}
	}
	t.Fatalf("no %s entity named %q among %d entities", kind, name, len(entities))
	return Entity{}
}

func TestParseFile_FunctionWithParamsAndLocals(t *testing.T) {
	src := `
int add(int a, int b) {
    int total = a + b;
    return total;
}
`
	result := parseFixture(t, "a.c", src)

	fn := findEntity(t, result.Entities, KindFunction, "add")
	assert.Equal(t, ScopeGlobal, fn.Scope)

	a := findEntity(t, result.Entities, KindVariable, "a")
	assert.Equal(t, RoleParam, a.Role)
	assert.Equal(t, "add", a.Scope)

	total := findEntity(t, result.Entities, KindVariable, "total")
	assert.Equal(t, RoleLocal, total.Role)
	assert.Equal(t, "add", total.Scope)
}

func TestParseFile_GlobalVariable(t *testing.T) {
	src := `int counter;
static struct ops OPS;
`
	result := parseFixture(t, "a.c", src)

	counter := findEntity(t, result.Entities, KindVariable, "counter")
	assert.Equal(t, ScopeGlobal, counter.Scope)
	assert.Equal(t, RoleGlobal, counter.Role)
}

// Scenario 5 (§8): an anonymous nested struct's fields flatten into the
// nearest named ancestor's scope.
func TestParseFile_AnonymousNestedStructFlattensFields(t *testing.T) {
	src := `
struct outer {
    int id;
    struct {
        int inner_field;
    };
};
`
	result := parseFixture(t, "a.c", src)

	structs := entitiesByKind(result.Entities, KindStruct)
	require.Len(t, structs, 1, "the anonymous nested struct must not produce its own STRUCT entity")
	assert.Equal(t, "outer", structs[0].Name)
	assert.Equal(t, ScopeGlobal, structs[0].Scope)

	inner := findEntity(t, result.Entities, KindField, "inner_field")
	assert.Equal(t, "outer", inner.Scope, "the anonymous member's field flattens into the outer struct's scope")

	id := findEntity(t, result.Entities, KindField, "id")
	assert.Equal(t, "outer", id.Scope)
}

func TestParseFile_TypedefStructUsesTypedefName(t *testing.T) {
	src := `
typedef struct {
    int (*tune)(void);
} ops_t;
`
	result := parseFixture(t, "a.c", src)

	structs := entitiesByKind(result.Entities, KindStruct)
	require.Len(t, structs, 1)
	assert.Equal(t, "ops_t", structs[0].Name)

	tune := findEntity(t, result.Entities, KindField, "tune")
	assert.Equal(t, "ops_t", tune.Scope)
}

func TestParseFile_NamedStructFieldsScopedToStructName(t *testing.T) {
	src := `
struct point {
    int x;
    int y;
};
`
	result := parseFixture(t, "a.c", src)

	x := findEntity(t, result.Entities, KindField, "x")
	y := findEntity(t, result.Entities, KindField, "y")
	assert.Equal(t, "point", x.Scope)
	assert.Equal(t, "point", y.Scope)
}

func TestParseFile_FunctionPrototypeProducesNoLocals(t *testing.T) {
	src := `int bar(void);
`
	result := parseFixture(t, "a.c", src)
	assert.Empty(t, result.Entities, "a prototype-only declaration defines no function or locals")
}
