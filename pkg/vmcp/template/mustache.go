// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"reflect"
	"strings"
)

// Mustache runs the text-template pass: {{name}} substitution with dotted
// paths, {{#if cond}}...{{else}}...{{/if}} conditionals and
// {{#each items}}...{{/each}} iteration with {{this}} and {{@index}}.
// Unknown variables render empty; malformed section constructs render
// literally. The pass is total and never fails.
func Mustache(text string, params map[string]any) string {
	return renderMustache(text, &scope{vars: params})
}

// scope is one lookup frame. Each iteration pushes a frame exposing this,
// @index and the item's own keys, falling back to the enclosing frame.
type scope struct {
	vars    map[string]any
	parent  *scope
	this    any
	index   int
	hasThis bool
}

func (s *scope) lookup(name string) (any, bool) {
	if s.hasThis {
		switch name {
		case "this":
			return s.this, true
		case "@index":
			return s.index, true
		}
		if m, ok := s.this.(map[string]any); ok {
			if v, ok := lookupPath(m, name); ok {
				return v, true
			}
		}
	}
	if s.vars != nil {
		if v, ok := lookupPath(s.vars, name); ok {
			return v, true
		}
	}
	if s.parent != nil {
		return s.parent.lookup(name)
	}
	return nil, false
}

func lookupPath(m map[string]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	head, rest, dotted := strings.Cut(name, ".")
	if !dotted {
		return nil, false
	}
	child, ok := m[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookupPath(child, rest)
}

func renderMustache(text string, sc *scope) string {
	var b strings.Builder
	for {
		open := strings.Index(text, "{{")
		if open < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:open])
		text = text[open:]
		end := strings.Index(text, "}}")
		if end < 0 {
			b.WriteString(text)
			return b.String()
		}
		tag := strings.TrimSpace(text[2:end])
		after := text[end+2:]

		switch {
		case sectionName(tag, "if") != "" || tag == "#if":
			name := sectionName(tag, "if")
			body, elseBody, rest, ok := splitSection(after, "if")
			if !ok || name == "" {
				b.WriteString(text[:end+2])
				text = after
				continue
			}
			v, _ := sc.lookup(name)
			if truthy(v) {
				b.WriteString(renderMustache(body, sc))
			} else {
				b.WriteString(renderMustache(elseBody, sc))
			}
			text = rest

		case sectionName(tag, "each") != "" || tag == "#each":
			name := sectionName(tag, "each")
			body, _, rest, ok := splitSection(after, "each")
			if !ok || name == "" {
				b.WriteString(text[:end+2])
				text = after
				continue
			}
			v, _ := sc.lookup(name)
			for i, item := range items(v) {
				frame := &scope{parent: sc, this: item, index: i, hasThis: true}
				b.WriteString(renderMustache(body, frame))
			}
			text = rest

		case strings.HasPrefix(tag, "#") || strings.HasPrefix(tag, "/") || tag == "else":
			// Stray section syntax stays visible.
			b.WriteString(text[:end+2])
			text = after

		default:
			if v, ok := sc.lookup(tag); ok {
				b.WriteString(RenderValue(v))
			}
			text = after
		}
	}
}

// sectionName extracts the variable from a "#kind name" tag, or "" when
// the tag is not that section opener.
func sectionName(tag, kind string) string {
	if !strings.HasPrefix(tag, "#"+kind+" ") {
		return ""
	}
	return strings.TrimSpace(tag[len(kind)+2:])
}

// splitSection finds the body up to the matching close tag, the else
// branch for if sections, and the remainder. Nested sections of the same
// kind are skipped over; an unmatched section reports ok false.
func splitSection(text, kind string) (body, elseBody, rest string, ok bool) {
	depth := 0
	elseStart, elseEnd := -1, -1
	i := 0
	for {
		o := strings.Index(text[i:], "{{")
		if o < 0 {
			return "", "", "", false
		}
		o += i
		c := strings.Index(text[o:], "}}")
		if c < 0 {
			return "", "", "", false
		}
		c += o
		tag := strings.TrimSpace(text[o+2 : c])
		switch {
		case tag == "#"+kind || strings.HasPrefix(tag, "#"+kind+" "):
			depth++
		case tag == "/"+kind:
			if depth == 0 {
				if elseStart >= 0 {
					return text[:elseStart], text[elseEnd:o], text[c+2:], true
				}
				return text[:o], "", text[c+2:], true
			}
			depth--
		case tag == "else" && kind == "if" && depth == 0 && elseStart < 0:
			elseStart, elseEnd = o, c+2
		}
		i = c + 2
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	default:
		return true
	}
}

// items normalizes an iterable for {{#each}}. Non-iterable values yield
// nothing.
func items(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
