// Package ctext provides dependency-free text utilities for normalizing C
// type spellings and macro-expansion output. It has no knowledge of
// tree-sitter or the entity graph so it can be imported by both the AST
// extractor and the name resolver without creating an import cycle.
package ctext

import "strings"

// NormalizeCType extracts the base type name from a raw C type-specifier
// string as it would be captured from a declaration or field_declaration
// node's text.
//
//	"struct Foo"     -> "Foo"
//	"struct Foo *"   -> "Foo"
//	"const struct Foo *" -> "Foo"
//	"union Bar"      -> "Bar"
//	"enum Baz"       -> "Baz"
//	"int"            -> "int"
//	"Foo **"         -> "Foo"
func NormalizeCType(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.TrimPrefix(t, "const ")
	t = strings.TrimPrefix(t, "volatile ")
	t = strings.TrimSpace(t)

	for _, kw := range []string{"struct ", "union ", "enum "} {
		if strings.HasPrefix(t, kw) {
			t = strings.TrimSpace(t[len(kw):])
			break
		}
	}

	t = strings.TrimRight(t, "* \t")
	if idx := strings.IndexAny(t, "[ \t"); idx >= 0 {
		t = t[:idx]
	}
	return strings.TrimSpace(t)
}

// IsFunctionPointerType reports whether a raw declared-type string looks
// like a function pointer, e.g. "int (*)(void)" or "int (*tune)(void)".
func IsFunctionPointerType(raw string) bool {
	t := strings.TrimSpace(raw)
	parenIdx := strings.Index(t, "(*")
	return parenIdx >= 0 && strings.Contains(t[parenIdx:], ")")
}

// CanonicalMacroHead is the single source of truth for comparing
// preprocessor-expanded text against entity names. It strips any leading
// non-identifier characters (whitespace, stray punctuation left over from
// token-pasting) and truncates at the first '(' or ')' so that
// "real_foo(x, y)" and "(real_foo)(x,y)" both canonicalize to "real_foo".
func CanonicalMacroHead(expanded string) string {
	s := strings.TrimSpace(expanded)

	start := 0
	for start < len(s) && !isIdentStart(s[start]) {
		start++
	}
	s = s[start:]

	end := len(s)
	if idx := strings.IndexAny(s, "()"); idx >= 0 {
		end = idx
	}
	return strings.TrimSpace(s[:end])
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// LastIdentifier returns the final '.'- or '->'-separated identifier
// component of a member-access spelling, e.g. "p->ops->tune" -> "tune".
func LastIdentifier(expr string) string {
	e := strings.ReplaceAll(expr, "->", ".")
	parts := strings.Split(e, ".")
	return strings.TrimSpace(parts[len(parts)-1])
}
