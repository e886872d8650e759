// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"encoding/json"
	"strings"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// NodeKind discriminates scanned template nodes.
type NodeKind int

const (
	// NodeLiteral is plain text copied through unchanged.
	NodeLiteral NodeKind = iota

	// NodeParam substitutes an invocation argument: @param.NAME or
	// @param["NAME"].
	NodeParam

	// NodeConfig substitutes an environment variable: @config.NAME.
	NodeConfig

	// NodeToolCall invokes a tool: @tool("NAME") or @tool("NAME", {json}).
	NodeToolCall

	// NodeResourceRef reads a resource: @resource("URI") or
	// @resource.alias.
	NodeResourceRef

	// NodePromptCall renders a prompt: @prompt("NAME") or
	// @prompt("NAME", {json}).
	NodePromptCall
)

// Node is one scanned segment of a template string.
type Node struct {
	Kind NodeKind

	// Text is the literal content, for NodeLiteral.
	Text string

	// Name is the parameter, config or target name; for NodeResourceRef
	// it is the URI or custom-resource alias.
	Name string

	// Args is the parsed argument object for tool and prompt calls. Nil
	// when the form omits arguments.
	Args map[string]any

	// Offset is the node's byte offset in the source text.
	Offset int
}

// Scan splits a template into nodes. "@@" escapes a literal "@". An "@"
// that does not begin one of the expression forms stays literal, so prose
// like email addresses passes through; an expression form that begins but
// does not parse fails with TemplateSyntax and the byte offset.
func Scan(text string) ([]Node, error) {
	var nodes []Node
	var lit strings.Builder
	litStart := 0

	flush := func() {
		if lit.Len() > 0 {
			nodes = append(nodes, Node{Kind: NodeLiteral, Text: lit.String(), Offset: litStart})
			lit.Reset()
		}
	}
	writeLit := func(at int, s string) {
		if lit.Len() == 0 {
			litStart = at
		}
		lit.WriteString(s)
	}

	i := 0
	for i < len(text) {
		c := text[i]
		if c != '@' {
			next := strings.IndexByte(text[i:], '@')
			if next < 0 {
				writeLit(i, text[i:])
				break
			}
			writeLit(i, text[i:i+next])
			i += next
			continue
		}
		if i+1 < len(text) && text[i+1] == '@' {
			writeLit(i, "@")
			i += 2
			continue
		}
		node, next, ok, err := scanExpr(text, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			writeLit(i, "@")
			i++
			continue
		}
		flush()
		nodes = append(nodes, node)
		i = next
	}
	flush()
	return nodes, nil
}

// scanExpr tries to read one expression form starting at the "@" at byte
// offset at. ok is false when the text after "@" matches no form; err is
// set when a form begins but is malformed.
func scanExpr(text string, at int) (node Node, next int, ok bool, err error) {
	rest := text[at+1:]
	switch {
	case strings.HasPrefix(rest, "param"):
		j := at + 1 + len("param")
		if j < len(text) && text[j] == '.' {
			name, next, err := scanIdent(text, j+1)
			if err != nil {
				return Node{}, 0, false, err
			}
			return Node{Kind: NodeParam, Name: name, Offset: at}, next, true, nil
		}
		if j < len(text) && text[j] == '[' {
			name, next, err := scanBracketName(text, j)
			if err != nil {
				return Node{}, 0, false, err
			}
			return Node{Kind: NodeParam, Name: name, Offset: at}, next, true, nil
		}
		return Node{}, 0, false, nil

	case strings.HasPrefix(rest, "config"):
		j := at + 1 + len("config")
		if j < len(text) && text[j] == '.' {
			name, next, err := scanIdent(text, j+1)
			if err != nil {
				return Node{}, 0, false, err
			}
			return Node{Kind: NodeConfig, Name: name, Offset: at}, next, true, nil
		}
		return Node{}, 0, false, nil

	case strings.HasPrefix(rest, "tool("):
		name, args, next, err := scanCall(text, at+1+len("tool"), true)
		if err != nil {
			return Node{}, 0, false, err
		}
		return Node{Kind: NodeToolCall, Name: name, Args: args, Offset: at}, next, true, nil

	case strings.HasPrefix(rest, "prompt("):
		name, args, next, err := scanCall(text, at+1+len("prompt"), true)
		if err != nil {
			return Node{}, 0, false, err
		}
		return Node{Kind: NodePromptCall, Name: name, Args: args, Offset: at}, next, true, nil

	case strings.HasPrefix(rest, "resource"):
		j := at + 1 + len("resource")
		if j < len(text) && text[j] == '(' {
			name, _, next, err := scanCall(text, j, false)
			if err != nil {
				return Node{}, 0, false, err
			}
			return Node{Kind: NodeResourceRef, Name: name, Offset: at}, next, true, nil
		}
		if j < len(text) && text[j] == '.' {
			name, next, err := scanIdent(text, j+1)
			if err != nil {
				return Node{}, 0, false, err
			}
			return Node{Kind: NodeResourceRef, Name: name, Offset: at}, next, true, nil
		}
		return Node{}, 0, false, nil
	}
	return Node{}, 0, false, nil
}

// scanIdent reads an identifier at the given offset: a letter, digit or
// underscore followed by letters, digits, underscores and dashes. Dashes
// may appear mid-name so custom-resource aliases resolve; the bracket form
// covers names outside this set.
func scanIdent(text string, at int) (string, int, error) {
	i := at
	for i < len(text) && isIdentByte(text[i], i > at) {
		i++
	}
	if i == at {
		return "", 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
			"expected identifier at byte offset %d", at)
	}
	return text[at:i], i, nil
}

func isIdentByte(c byte, interior bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		return true
	case c == '-':
		return interior
	default:
		return false
	}
}

// scanBracketName reads the ["NAME"] form; at points at the opening
// bracket.
func scanBracketName(text string, at int) (string, int, error) {
	i := skipSpace(text, at+1)
	name, i, err := readString(text, i)
	if err != nil {
		return "", 0, err
	}
	i = skipSpace(text, i)
	if i >= len(text) || text[i] != ']' {
		return "", 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
			"expected ']' at byte offset %d", i)
	}
	return name, i + 1, nil
}

// scanCall reads the ("NAME") or ("NAME", {json}) form; at points at the
// opening parenthesis. With allowArgs false only the bare form is accepted.
func scanCall(text string, at int, allowArgs bool) (string, map[string]any, int, error) {
	i := skipSpace(text, at+1)
	name, i, err := readString(text, i)
	if err != nil {
		return "", nil, 0, err
	}
	i = skipSpace(text, i)

	var args map[string]any
	if allowArgs && i < len(text) && text[i] == ',' {
		i = skipSpace(text, i+1)
		raw, next, err := scanJSONObject(text, i)
		if err != nil {
			return "", nil, 0, err
		}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", nil, 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
				"invalid argument object at byte offset %d: %v", i, err)
		}
		i = skipSpace(text, next)
	}

	if i >= len(text) || text[i] != ')' {
		return "", nil, 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
			"expected ')' at byte offset %d", i)
	}
	return name, args, i + 1, nil
}

// readString reads a double-quoted JSON string starting at the given
// offset and returns its decoded value.
func readString(text string, at int) (string, int, error) {
	if at >= len(text) || text[at] != '"' {
		return "", 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
			"expected '\"' at byte offset %d", at)
	}
	i := at + 1
	escaped := false
	for i < len(text) {
		c := text[i]
		if escaped {
			escaped = false
			i++
			continue
		}
		if c == '\\' {
			escaped = true
			i++
			continue
		}
		if c == '"' {
			var s string
			if err := json.Unmarshal([]byte(text[at:i+1]), &s); err != nil {
				return "", 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
					"invalid string literal at byte offset %d: %v", at, err)
			}
			return s, i + 1, nil
		}
		i++
	}
	return "", 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
		"unterminated string literal at byte offset %d", at)
}

// scanJSONObject reads a balanced JSON object without parsing it,
// respecting braces inside string literals.
func scanJSONObject(text string, at int) (string, int, error) {
	if at >= len(text) || text[at] != '{' {
		return "", 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
			"expected '{' at byte offset %d", at)
	}
	depth := 0
	inString := false
	escaped := false
	for i := at; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[at : i+1], i + 1, nil
			}
		}
	}
	return "", 0, vmcp.Errorf(vmcp.KindTemplateSyntax,
		"unterminated argument object at byte offset %d", at)
}

func skipSpace(text string, at int) int {
	for at < len(text) {
		switch text[at] {
		case ' ', '\t', '\n', '\r':
			at++
		default:
			return at
		}
	}
	return at
}
