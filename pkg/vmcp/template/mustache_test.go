// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMustacheVariables(t *testing.T) {
	t.Parallel()

	params := map[string]any{
		"name":  "Ada",
		"count": float64(3),
		"ok":    true,
		"user":  map[string]any{"email": "ada@example.com"},
		"tags":  []any{"a", "b"},
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hi {{name}}", want: "hi Ada"},
		{name: "number", in: "{{count}} items", want: "3 items"},
		{name: "bool", in: "ok={{ok}}", want: "ok=true"},
		{name: "dotted path", in: "{{user.email}}", want: "ada@example.com"},
		{name: "object as json", in: "{{user}}", want: `{"email":"ada@example.com"}`},
		{name: "array as json", in: "{{tags}}", want: `["a","b"]`},
		{name: "unknown empty", in: "[{{missing}}]", want: "[]"},
		{name: "unknown dotted empty", in: "[{{user.phone}}]", want: "[]"},
		{name: "inner whitespace", in: "{{ name }}", want: "Ada"},
		{name: "no tags", in: "plain text", want: "plain text"},
		{name: "adjacent", in: "{{name}}{{name}}", want: "AdaAda"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Mustache(tt.in, params))
		})
	}
}

func TestMustacheIf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		params map[string]any
		want   string
	}{
		{
			name:   "true branch",
			in:     "{{#if on}}yes{{/if}}",
			params: map[string]any{"on": true},
			want:   "yes",
		},
		{
			name:   "false branch",
			in:     "{{#if on}}yes{{/if}}",
			params: map[string]any{"on": false},
			want:   "",
		},
		{
			name:   "else taken",
			in:     "{{#if on}}yes{{else}}no{{/if}}",
			params: map[string]any{"on": false},
			want:   "no",
		},
		{
			name:   "missing variable is false",
			in:     "{{#if ghost}}yes{{else}}no{{/if}}",
			params: map[string]any{},
			want:   "no",
		},
		{
			name:   "empty string false",
			in:     "{{#if s}}set{{else}}unset{{/if}}",
			params: map[string]any{"s": ""},
			want:   "unset",
		},
		{
			name:   "zero false",
			in:     "{{#if n}}some{{else}}none{{/if}}",
			params: map[string]any{"n": float64(0)},
			want:   "none",
		},
		{
			name:   "empty list false",
			in:     "{{#if xs}}some{{else}}none{{/if}}",
			params: map[string]any{"xs": []any{}},
			want:   "none",
		},
		{
			name:   "nonempty string true",
			in:     "{{#if s}}set{{/if}}",
			params: map[string]any{"s": "v"},
			want:   "set",
		},
		{
			name:   "nested ifs",
			in:     "{{#if a}}A{{#if b}}B{{else}}b{{/if}}{{/if}}",
			params: map[string]any{"a": true, "b": false},
			want:   "Ab",
		},
		{
			name:   "else binds outer if",
			in:     "{{#if a}}{{#if b}}x{{/if}}{{else}}outer{{/if}}",
			params: map[string]any{"a": false},
			want:   "outer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Mustache(tt.in, tt.params))
		})
	}
}

func TestMustacheEach(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		params map[string]any
		want   string
	}{
		{
			name:   "scalar items",
			in:     "{{#each xs}}<{{this}}>{{/each}}",
			params: map[string]any{"xs": []any{"a", "b"}},
			want:   "<a><b>",
		},
		{
			name:   "index",
			in:     "{{#each xs}}{{@index}}:{{this}} {{/each}}",
			params: map[string]any{"xs": []any{"x", "y"}},
			want:   "0:x 1:y ",
		},
		{
			name: "object items expose keys",
			in:   "{{#each users}}{{name}};{{/each}}",
			params: map[string]any{
				"users": []any{
					map[string]any{"name": "Ada"},
					map[string]any{"name": "Lin"},
				},
			},
			want: "Ada;Lin;",
		},
		{
			name: "outer scope visible inside",
			in:   "{{#each xs}}{{prefix}}{{this}} {{/each}}",
			params: map[string]any{
				"xs":     []any{"1", "2"},
				"prefix": "#",
			},
			want: "#1 #2 ",
		},
		{
			name:   "empty list renders nothing",
			in:     "[{{#each xs}}x{{/each}}]",
			params: map[string]any{"xs": []any{}},
			want:   "[]",
		},
		{
			name:   "missing variable renders nothing",
			in:     "[{{#each ghost}}x{{/each}}]",
			params: map[string]any{},
			want:   "[]",
		},
		{
			name:   "non iterable renders nothing",
			in:     "[{{#each s}}x{{/each}}]",
			params: map[string]any{"s": "scalar"},
			want:   "[]",
		},
		{
			name: "if inside each",
			in:   "{{#each xs}}{{#if this}}+{{else}}-{{/if}}{{/each}}",
			params: map[string]any{
				"xs": []any{true, false, true},
			},
			want: "+-+",
		},
		{
			name: "nested each",
			in:   "{{#each rows}}{{#each this}}{{this}}{{/each}}|{{/each}}",
			params: map[string]any{
				"rows": []any{[]any{"a", "b"}, []any{"c"}},
			},
			want: "ab|c|",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Mustache(tt.in, tt.params))
		})
	}
}

func TestMustacheMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "unterminated tag", in: "a {{name", want: "a {{name"},
		{name: "unclosed if", in: "{{#if on}}yes", want: "{{#if on}}yes"},
		{name: "unclosed each", in: "{{#each xs}}x", want: "{{#each xs}}x"},
		{name: "stray close", in: "x {{/if}} y", want: "x {{/if}} y"},
		{name: "stray else", in: "x {{else}} y", want: "x {{else}} y"},
		{name: "if without condition", in: "{{#if}}x{{/if}}", want: "{{#if}}x{{/if}}"},
		{name: "unknown section", in: "{{#with x}}y{{/with}}", want: "{{#with x}}y{{/with}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Mustache(tt.in, map[string]any{"on": true, "xs": []any{"a"}}))
		})
	}
}
