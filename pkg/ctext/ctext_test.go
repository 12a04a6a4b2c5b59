package ctext

import "testing"

func TestNormalizeCType(t *testing.T) {
	cases := map[string]string{
		"struct Foo":           "Foo",
		"struct Foo *":         "Foo",
		"const struct Foo *":   "Foo",
		"union Bar":            "Bar",
		"enum Baz":             "Baz",
		"int":                  "int",
		"Foo **":               "Foo",
		"  struct   Widget  ":  "Widget",
		"struct Node *next[4]": "Node",
	}
	for in, want := range cases {
		if got := NormalizeCType(in); got != want {
			t.Errorf("NormalizeCType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsFunctionPointerType(t *testing.T) {
	if !IsFunctionPointerType("int (*)(void)") {
		t.Error("expected function pointer type to be detected")
	}
	if !IsFunctionPointerType("int (*tune)(void)") {
		t.Error("expected named function pointer type to be detected")
	}
	if IsFunctionPointerType("int") {
		t.Error("plain int should not be a function pointer")
	}
}

func TestCanonicalMacroHead(t *testing.T) {
	cases := map[string]string{
		"real_foo()":        "real_foo",
		"real_foo(x, y)":    "real_foo",
		"  real_foo(a)":     "real_foo",
		"(real_foo)(x,y)":   "real_foo",
		"***garbage_foo(x)": "garbage_foo",
	}
	for in, want := range cases {
		if got := CanonicalMacroHead(in); got != want {
			t.Errorf("CanonicalMacroHead(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLastIdentifier(t *testing.T) {
	if got := LastIdentifier("p->ops->tune"); got != "tune" {
		t.Errorf("LastIdentifier = %q, want tune", got)
	}
	if got := LastIdentifier("OPS.tune"); got != "tune" {
		t.Errorf("LastIdentifier = %q, want tune", got)
	}
}
