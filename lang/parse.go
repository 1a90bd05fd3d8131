package lang

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NodeKind tags a parse-tree Node (spec §3).
type NodeKind uint8

const (
	NodeToken NodeKind = iota
	NodeNumber
	NodeAddress
	NodeQuotation
)

// Node is one element of a parsed line: a bare token, a numeric literal, a
// parenthesized address literal, or a nested quotation.
type Node struct {
	Kind     NodeKind
	Token    string
	Number   int16
	Address  int16
	Children []Node
}

// Parse turns a lexed token list into a flat list of top-level Nodes,
// recursively descending on "[" / "]" (spec §4.3).
func Parse(tokens []string) ([]Node, error) {
	nodes, rest, err := parseSeq(tokens)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, errors.Wrapf(ErrSyntax, "unmatched %q", rest[0])
	}
	return nodes, nil
}

func parseSeq(tokens []string) ([]Node, []string, error) {
	var out []Node
	for len(tokens) > 0 {
		tok := tokens[0]
		if tok == "]" {
			return out, tokens, nil
		}
		if tok == "[" {
			children, rest, err := parseSeq(tokens[1:])
			if err != nil {
				return nil, nil, err
			}
			if len(rest) == 0 || rest[0] != "]" {
				return nil, nil, errors.Wrap(ErrSyntax, "unmatched [")
			}
			out = append(out, Node{Kind: NodeQuotation, Children: children})
			tokens = rest[1:]
			continue
		}
		out = append(out, classifyToken(tok))
		tokens = tokens[1:]
	}
	return out, tokens, nil
}

// classifyToken implements the parser's leaf classification rule (spec
// §4.3): a bare NNNN parses as a Number, (NNNN) as an Address, anything
// else is a Token.
func classifyToken(tok string) Node {
	if n, ok := parseI16(tok); ok {
		return Node{Kind: NodeNumber, Number: n}
	}
	if strings.HasPrefix(tok, "(") && strings.HasSuffix(tok, ")") && len(tok) > 2 {
		if a, ok := parseI16(tok[1 : len(tok)-1]); ok {
			return Node{Kind: NodeAddress, Address: a}
		}
	}
	return Node{Kind: NodeToken, Token: tok}
}

func parseI16(s string) (int16, bool) {
	v, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return 0, false
	}
	return int16(v), true
}
