package lang

import (
	"strings"
	"testing"
)

// Lex round-trip (spec §8): for every token list without the special
// '/[/] forms, lex . join-by-space preserves the list.
func TestLexRoundTrip(t *testing.T) {
	cases := [][]string{
		{"dup", "*"},
		{"11", "output", "pinMode"},
		{"foo-bar", "baz_2"},
	}
	for _, want := range cases {
		got, err := Lex(strings.Join(want, " "))
		if err != nil {
			t.Fatalf("lex %v: %v", want, err)
		}
		if len(got) != len(want) {
			t.Fatalf("lex %v: got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("lex %v: got %v", want, got)
			}
		}
	}
}

func TestLexTickExpansion(t *testing.T) {
	got, err := Lex("'foo")
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	want := []string{"[", "foo", "]"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLexBracketsSelfDelimit(t *testing.T) {
	got, err := Lex("[dup]")
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	want := []string{"[", "dup", "]"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLexDanglingTickIsSyntaxError(t *testing.T) {
	cases := []string{"'", "''", "'[", "']"}
	for _, src := range cases {
		if _, err := Lex(src); err == nil {
			t.Fatalf("Lex(%q): expected syntax error", src)
		}
	}
}
