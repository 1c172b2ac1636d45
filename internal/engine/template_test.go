package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolve(t *testing.T) {
	ctx := map[string]any{
		"a": map[string]any{"b": []any{10.0, 20.0, 30.0}},
		"user": map[string]any{
			"name":  "Ann",
			"age":   42.0,
			"score": 4.5,
			"tags":  []any{"x", "y"},
			"nil":   nil,
		},
		"items": []any{map[string]any{"id": 7.0}},
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"array index", "{{a.b[1]}}", "20"},
		{"nested field", "Hello {{user.name}}", "Hello Ann"},
		{"spaces inside braces", "{{ user.name }}", "Ann"},
		{"integral float", "{{user.age}}", "42"},
		{"fractional float", "{{user.score}}", "4.5"},
		{"array as json", "{{user.tags}}", `["x","y"]`},
		{"null", "{{user.nil}}", "null"},
		{"index then field", "{{items[0].id}}", "7"},
		{"numeric segment", "{{items.0.id}}", "7"},
		{"unresolved kept", "{{user.missing}}", "{{user.missing}}"},
		{"out of range kept", "{{a.b[9]}}", "{{a.b[9]}}"},
		{"multiple", "{{user.name}}-{{user.age}}", "Ann-42"},
		{"no placeholders", "plain text", "plain text"},
		{"empty placeholder", "{{}}", "{{}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.template, ctx)
			if got != tt.expected {
				t.Errorf("Resolve(%q) = %q, expected %q", tt.template, got, tt.expected)
			}
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	ctx := map[string]any{"input": map[string]any{"id": 1.0, "name": "A"}}
	templates := []string{
		"id={{input.id}}",
		"{{input}}",
		"{{input.name}} and {{input.unknown}}",
	}

	for _, tmpl := range templates {
		once := Resolve(tmpl, ctx)
		twice := Resolve(once, ctx)
		// Неразрешённые пути остаются — повторный проход их не меняет
		if once != twice {
			t.Errorf("Resolve is not idempotent for %q: %q vs %q", tmpl, once, twice)
		}
	}
}

func TestResolveRaw(t *testing.T) {
	input := map[string]any{"id": 1.0, "list": []any{1.0, 2.0}}
	ctx := map[string]any{"input": input}

	// Ровно {{input}} — объект без преобразования
	got := ResolveRaw("{{input}}", ctx)
	if diff := cmp.Diff(input, got); diff != "" {
		t.Errorf("raw mismatch (-want +got):\n%s", diff)
	}

	// С текстом вокруг — строка
	if s, ok := ResolveRaw("id: {{input.id}}", ctx).(string); !ok || s != "id: 1" {
		t.Errorf("expected string 'id: 1', got %#v", s)
	}

	// Ненайденный путь — сам шаблон
	if s := ResolveRaw("{{nope}}", ctx); s != "{{nope}}" {
		t.Errorf("expected template back, got %#v", s)
	}
}

func TestResolveValue(t *testing.T) {
	ctx := map[string]any{"input": map[string]any{"id": 3.0, "name": "B"}}
	tmpl := map[string]any{
		"id":    "{{input.id}}",
		"label": "user {{input.name}}",
		"tags":  []any{"{{input.name}}", 5.0},
		"fixed": true,
	}

	got := ResolveValue(tmpl, ctx)
	want := map[string]any{
		"id":    3.0,
		"label": "user B",
		"tags":  []any{"B", 5.0},
		"fixed": true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResolveValue mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupPath(t *testing.T) {
	ctx := map[string]any{
		"m": map[string]string{"k": "v"},
		"typed": []map[string]any{{"x": 1}},
		"grid":  []any{[]any{1.0, 2.0}, []any{3.0, 4.0}},
	}

	if v, ok := LookupPath(ctx, "m.k"); !ok || v != "v" {
		t.Errorf("m.k: got %v, %v", v, ok)
	}
	if v, ok := LookupPath(ctx, "typed[0].x"); !ok || v != 1 {
		t.Errorf("typed[0].x: got %v, %v", v, ok)
	}
	if v, ok := LookupPath(ctx, "grid[1][0]"); !ok || v != 3.0 {
		t.Errorf("grid[1][0]: got %v, %v", v, ok)
	}

	for _, bad := range []string{"", "a..b", "grid[x]", "grid[-1]", "grid[0"} {
		if _, ok := LookupPath(ctx, bad); ok {
			t.Errorf("path %q should not resolve", bad)
		}
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in       any
		expected string
	}{
		{nil, "null"},
		{"s", "s"},
		{true, "true"},
		{3.0, "3"},
		{-2.25, "-2.25"},
		{7, "7"},
		{map[string]any{"a": 1.0}, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.expected {
			t.Errorf("Stringify(%#v) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}
