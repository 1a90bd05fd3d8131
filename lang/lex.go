package lang

import (
	"strings"

	"github.com/pkg/errors"
)

// Lex splits line into whitespace-separated tokens, with two exceptions
// (spec §4.3): "[" and "]" are self-delimiting even when glued to
// neighboring text, and a leading "'" on a token expands to a surrounding
// bracket pair ('foo lexes identically to [ foo ]).
func Lex(line string) ([]string, error) {
	var raw []string
	for _, field := range strings.Fields(line) {
		raw = append(raw, splitBrackets(field)...)
	}

	var out []string
	for _, tok := range raw {
		if tok == "'" {
			return nil, errors.Wrap(ErrSyntax, "dangling ' with no following token")
		}
		if strings.HasPrefix(tok, "'") {
			rest := tok[1:]
			if rest == "[" || rest == "]" || rest == "'" {
				return nil, errors.Wrapf(ErrSyntax, "'%s is not a valid tick expansion", rest)
			}
			out = append(out, "[", rest, "]")
			continue
		}
		out = append(out, tok)
	}
	return out, nil
}

// splitBrackets pulls any run of "[" or "]" characters glued to a token
// apart into their own tokens, leaving everything else intact.
func splitBrackets(field string) []string {
	var out []string
	start := 0
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case '[', ']':
			if i > start {
				out = append(out, field[start:i])
			}
			out = append(out, string(field[i]))
			start = i + 1
		}
	}
	if start < len(field) {
		out = append(out, field[start:])
	}
	return out
}
