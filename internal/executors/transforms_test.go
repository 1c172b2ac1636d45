package executors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shaiso/Nodeflow/internal/domain"
)

func TestCondition_Eval(t *testing.T) {
	item := map[string]any{
		"name":  "Alice",
		"age":   30.0,
		"tags":  []any{"vip", "beta"},
		"email": "",
		"user":  map[string]any{"roles": []any{"admin"}},
		"nil":   nil,
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals case-insensitive", Condition{Field: "name", Operator: OpEquals, Value: "alice"}, true},
		{"equals case-sensitive", Condition{Field: "name", Operator: OpEquals, Value: "alice", CaseSensitive: true}, false},
		{"equals number as string", Condition{Field: "age", Operator: OpEquals, Value: "30"}, true},
		{"not_equals", Condition{Field: "age", Operator: OpNotEquals, Value: 31.0}, true},
		{"contains string", Condition{Field: "name", Operator: OpContains, Value: "lic"}, true},
		{"contains array", Condition{Field: "tags", Operator: OpContains, Value: "vip"}, true},
		{"not_contains", Condition{Field: "tags", Operator: OpNotContains, Value: "gold"}, true},
		{"starts_with", Condition{Field: "name", Operator: OpStartsWith, Value: "AL"}, true},
		{"ends_with", Condition{Field: "name", Operator: OpEndsWith, Value: "ce"}, true},
		{"greater_than", Condition{Field: "age", Operator: OpGreaterThan, Value: 18.0}, true},
		{"less_than", Condition{Field: "age", Operator: OpLessThan, Value: 18.0}, false},
		{"greater_equal", Condition{Field: "age", Operator: OpGreaterEqual, Value: 30.0}, true},
		{"less_equal", Condition{Field: "age", Operator: OpLessEqual, Value: 29.0}, false},
		{"in list", Condition{Field: "name", Operator: OpIn, Value: []any{"Bob", "Alice"}}, true},
		{"in comma string", Condition{Field: "age", Operator: OpIn, Value: "10, 30"}, true},
		{"not_in", Condition{Field: "name", Operator: OpNotIn, Value: []any{"Bob"}}, true},
		{"is_empty", Condition{Field: "email", Operator: OpIsEmpty}, true},
		{"is_not_empty", Condition{Field: "tags", Operator: OpIsNotEmpty}, true},
		{"is_null missing", Condition{Field: "missing", Operator: OpIsNull}, true},
		{"is_null nil", Condition{Field: "nil", Operator: OpIsNull}, true},
		{"is_not_null", Condition{Field: "name", Operator: OpIsNotNull}, true},
		{"regex", Condition{Field: "name", Operator: OpRegex, Value: "^a.+e$"}, true},
		{"nested path", Condition{Field: "user.roles[0]", Operator: OpEquals, Value: "admin"}, true},
		{"templated value", Condition{Field: "age", Operator: OpGreaterThan, Value: "{{env.MIN}}"}, true},
		{"greater_than missing", Condition{Field: "missing", Operator: OpGreaterThan, Value: 1.0}, false},
	}

	data := map[string]any{"env": map[string]any{"MIN": 21.0}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cond.validate(); err != nil {
				t.Fatalf("validate: %v", err)
			}
			got, err := tt.cond.Eval(item, data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCondition_Validate(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
	}{
		{"unknown operator", Condition{Field: "a", Operator: "between"}},
		{"empty field", Condition{Operator: OpEquals}},
		{"bad regex", Condition{Field: "a", Operator: OpRegex, Value: "("}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cond.validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFilter_Modes(t *testing.T) {
	want := []any{map[string]any{"id": 1.0, "age": 20.0, "name": "A"}}

	tests := []struct {
		name string
		data map[string]any
	}{
		{
			name: "simple",
			data: map[string]any{"conditions": []any{
				map[string]any{"field": "age", "operator": "greater_than", "value": 18},
			}},
		},
		{
			name: "advanced",
			data: map[string]any{"mode": "advanced", "expression": "age > 18"},
		},
		{
			name: "custom",
			data: map[string]any{"mode": "custom", "code": `return wf.Num(wf.Get(item, "age")) > 18, nil`},
		},
	}

	f := NewFilter(testSandbox())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Execute(context.Background(), testContext(TypeFilter, tt.data, people()))
			if !res.Success {
				t.Fatalf("unexpected failure: %s", res.Error)
			}
			if diff := cmp.Diff(want, res.Data); diff != "" {
				t.Errorf("kept mismatch (-want +got):\n%s", diff)
			}
			if res.Metadata["filtered"] != 1 || res.Metadata["kept"] != 1 {
				t.Errorf("unexpected counts: %v", res.Metadata)
			}
		})
	}
}

func TestFilter_KeptItemsSatisfyConditions(t *testing.T) {
	f := NewFilter(nil)
	conds := []any{
		map[string]any{"field": "age", "operator": "greater_equal", "value": 18},
		map[string]any{"field": "name", "operator": "not_equals", "value": "C"},
	}
	input := []any{
		map[string]any{"age": 18.0, "name": "A"},
		map[string]any{"age": 40.0, "name": "C"},
		map[string]any{"age": 3.0, "name": "D"},
		map[string]any{"age": 70.0, "name": "E"},
	}

	res := f.Execute(context.Background(), testContext(TypeFilter, map[string]any{"conditions": conds}, input))
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	kept := res.Data.([]any)
	if len(kept) > len(input) {
		t.Fatalf("filter produced more items than it received")
	}
	for _, item := range kept {
		m := item.(map[string]any)
		if m["age"].(float64) < 18 || m["name"] == "C" {
			t.Errorf("kept item violates conditions: %v", m)
		}
	}
	if len(kept) != 2 {
		t.Errorf("expected 2 kept, got %d", len(kept))
	}
}

func TestFilter_ObjectAndScalar(t *testing.T) {
	f := NewFilter(nil)
	data := map[string]any{"conditions": []any{
		map[string]any{"field": "age", "operator": "greater_than", "value": 18},
	}}

	res := f.Execute(context.Background(), testContext(TypeFilter, data, map[string]any{"age": 10.0}))
	if !res.Success || res.Data != nil {
		t.Errorf("object not matching should become nil, got %v", res.Data)
	}

	res = f.Execute(context.Background(), testContext(TypeFilter, data, "scalar"))
	if !res.Success || res.Data != "scalar" {
		t.Errorf("scalar should pass through, got %v", res.Data)
	}
}

func TestFilter_InvalidOperatorIsConfigError(t *testing.T) {
	f := NewFilter(nil)
	data := map[string]any{"conditions": []any{
		map[string]any{"field": "age", "operator": "between", "value": 18},
	}}

	res := f.Execute(context.Background(), testContext(TypeFilter, data, people()))
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != domain.KindConfiguration {
		t.Errorf("expected configuration error, got %s", res.ErrorKind)
	}
}

func TestMap_Template(t *testing.T) {
	m := NewMap(nil)
	data := map[string]any{
		"mode":     "template",
		"template": map[string]any{"id": "{{id}}", "name": "{{name}}"},
	}

	res := m.Execute(context.Background(), testContext(TypeMap, data, people()))
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	want := []any{
		map[string]any{"id": 1.0, "name": "A"},
		map[string]any{"id": 2.0, "name": "B"},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("map mismatch (-want +got):\n%s", diff)
	}
}

func TestMap_TemplateMalformedJSON(t *testing.T) {
	m := NewMap(nil)
	data := map[string]any{"mode": "template", "template": `{"id": {{id}}`}

	res := m.Execute(context.Background(), testContext(TypeMap, data, people()))
	if res.Success || res.ErrorKind != domain.KindConfiguration {
		t.Errorf("expected configuration error, got %+v", res)
	}
}

func TestMap_Fields(t *testing.T) {
	m := NewMap(nil)
	data := map[string]any{
		"fields": []any{
			map[string]any{"source": "name", "target": "user.name", "transform": "uppercase"},
			map[string]any{"source": "age", "target": "age", "transform": "string"},
			map[string]any{"source": "status", "target": "status", "defaultValue": "new"},
			map[string]any{"source": "missing", "target": "skipped"},
		},
		"skipNull": true,
	}

	res := m.Execute(context.Background(), testContext(TypeMap, data, people()))
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	out := res.Data.([]any)
	if len(out) != len(people()) {
		t.Fatalf("map must preserve length: got %d", len(out))
	}
	want := map[string]any{
		"user":   map[string]any{"name": "A"},
		"age":    "20",
		"status": "new",
	}
	if diff := cmp.Diff(want, out[0]); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestMap_PreserveOriginal(t *testing.T) {
	m := NewMap(nil)
	data := map[string]any{
		"fields":           []any{map[string]any{"source": "name", "target": "title", "transform": "lowercase"}},
		"preserveOriginal": true,
	}
	input := map[string]any{"name": "Alice"}

	res := m.Execute(context.Background(), testContext(TypeMap, data, input))
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	want := map[string]any{"name": "Alice", "title": "alice"}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if _, changed := input["title"]; changed {
		t.Error("input must not be mutated")
	}
}

func TestMap_UnsupportedTransform(t *testing.T) {
	m := NewMap(nil)
	data := map[string]any{"fields": []any{map[string]any{"source": "name", "target": "x", "transform": "reverse"}}}

	res := m.Execute(context.Background(), testContext(TypeMap, data, people()))
	if res.Success || res.ErrorKind != domain.KindConfiguration {
		t.Errorf("expected configuration error, got %+v", res)
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]any
		inputs []any
		want   any
	}{
		{
			name:   "single input unchanged",
			data:   map[string]any{},
			inputs: []any{map[string]any{"a": 1.0}},
			want:   map[string]any{"a": 1.0},
		},
		{
			name:   "shallow",
			data:   map[string]any{},
			inputs: []any{map[string]any{"a": 1.0, "b": 1.0}, map[string]any{"b": 2.0}},
			want:   map[string]any{"a": 1.0, "b": 2.0},
		},
		{
			name: "deep",
			data: map[string]any{"strategy": "deep"},
			inputs: []any{
				map[string]any{"user": map[string]any{"name": "A"}},
				map[string]any{"user": map[string]any{"age": 3.0}, "ok": true},
			},
			want: map[string]any{"user": map[string]any{"name": "A", "age": 3.0}, "ok": true},
		},
		{
			name:   "mapping",
			data:   map[string]any{"strategy": "mapping", "mapping": map[string]any{"0": "left", "1": "right"}},
			inputs: []any{"x", []any{1.0}},
			want:   map[string]any{"left": "x", "right": []any{1.0}},
		},
		{
			name:   "concat",
			data:   map[string]any{"mode": "concat"},
			inputs: []any{[]any{1.0, 2.0}, []any{2.0}, 3.0},
			want:   []any{1.0, 2.0, 2.0, 3.0},
		},
		{
			name:   "dedupe",
			data:   map[string]any{"mode": "array", "arrayStrategy": "dedupe"},
			inputs: []any{[]any{1.0, 2.0}, []any{2.0, 3.0}},
			want:   []any{1.0, 2.0, 3.0},
		},
		{
			name:   "byIndex",
			data:   map[string]any{"mode": "array", "arrayStrategy": "byIndex"},
			inputs: []any{[]any{map[string]any{"id": 1.0}}, []any{map[string]any{"name": "A"}}},
			want:   []any{map[string]any{"id": 1.0, "name": "A"}},
		},
		{
			name:   "join",
			data:   map[string]any{"mode": "join", "separator": `\n`, "prefix": "[", "suffix": "]"},
			inputs: []any{"a", 2.0, map[string]any{"k": "v"}},
			want:   "[a\n2\n{\"k\":\"v\"}]",
		},
		{
			name:   "skip empty",
			data:   map[string]any{"skipEmpty": true},
			inputs: []any{nil, map[string]any{"a": 1.0}, ""},
			want:   map[string]any{"a": 1.0},
		},
		{
			name:   "json string input",
			data:   map[string]any{},
			inputs: []any{`{"a": 1}`, map[string]any{"b": 2.0}},
			want:   map[string]any{"a": 1.0, "b": 2.0},
		},
	}

	m := NewMerge(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nctx := testContext(TypeMerge, tt.data, nil)
			nctx.Inputs = tt.inputs
			res := m.Execute(context.Background(), nctx)
			if !res.Success {
				t.Fatalf("unexpected failure: %s", res.Error)
			}
			if diff := cmp.Diff(tt.want, res.Data); diff != "" {
				t.Errorf("merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMerge_MalformedJSONIsConfigError(t *testing.T) {
	m := NewMerge(nil)
	nctx := testContext(TypeMerge, map[string]any{}, nil)
	nctx.Inputs = []any{`{"a": `, map[string]any{"b": 2.0}}

	res := m.Execute(context.Background(), nctx)
	if res.Success || res.ErrorKind != domain.KindConfiguration {
		t.Errorf("expected configuration error, got %+v", res)
	}
}

func TestMerge_Custom(t *testing.T) {
	m := NewMerge(testSandbox())
	nctx := testContext(TypeMerge, map[string]any{
		"mode": "custom",
		"code": "return len(wf.Items(inputs)), nil",
	}, nil)
	nctx.Inputs = []any{1.0, 2.0, 3.0}

	res := m.Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Data != 3.0 {
		t.Errorf("expected 3, got %v (%T)", res.Data, res.Data)
	}
}

func TestCode_ReturnsValueAndConsole(t *testing.T) {
	c := NewCode(testSandbox())
	data := map[string]any{
		"code":                  "console.Log(\"total\", wf.Get(input, \"total\"))\nreturn wf.Num(wf.Get(input, \"total\")) * 2, nil",
		"preserveConsoleOutput": true,
	}

	res := c.Execute(context.Background(), testContext(TypeCode, data, map[string]any{"total": 21.0}))
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Data != 42.0 {
		t.Errorf("expected 42, got %v", res.Data)
	}
	if res.Metadata["consoleEntries"] != 1 {
		t.Errorf("expected 1 console entry, got %v", res.Metadata["consoleEntries"])
	}
}

func TestCode_ErrorHandling(t *testing.T) {
	code := `return nil, wf.Error("boom")`

	tests := []struct {
		name     string
		handling string
		success  bool
		want     any
	}{
		{"throw", CodeThrow, false, nil},
		{"returnError", CodeReturnError, true, map[string]any{"error": "boom", "input": "in"}},
		{"returnNull", CodeReturnNull, true, nil},
	}

	c := NewCode(testSandbox())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := map[string]any{"code": code, "errorHandling": tt.handling}
			res := c.Execute(context.Background(), testContext(TypeCode, data, "in"))
			if res.Success != tt.success {
				t.Fatalf("success = %v, want %v (%s)", res.Success, tt.success, res.Error)
			}
			if !tt.success {
				if res.ErrorKind != domain.KindExecution {
					t.Errorf("expected execution error, got %s", res.ErrorKind)
				}
				return
			}
			if diff := cmp.Diff(tt.want, res.Data); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCode_TimeoutAlwaysFails(t *testing.T) {
	c := NewCode(testSandbox())
	data := map[string]any{
		"code":          "for {\n}",
		"timeout":       100,
		"errorHandling": CodeReturnNull,
	}

	start := time.Now()
	res := c.Execute(context.Background(), testContext(TypeCode, data, nil))
	if res.Success {
		t.Fatal("timeout must fail the node")
	}
	if res.ErrorKind != domain.KindExecution {
		t.Errorf("expected execution error, got %s", res.ErrorKind)
	}
	if res.Metadata["timedOut"] != true {
		t.Errorf("expected timedOut metadata, got %v", res.Metadata)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestCode_CompileErrorIsConfigError(t *testing.T) {
	c := NewCode(testSandbox())
	res := c.Execute(context.Background(), testContext(TypeCode, map[string]any{"code": "return )("}, nil))
	if res.Success || res.ErrorKind != domain.KindConfiguration {
		t.Errorf("expected configuration error, got %+v", res)
	}
}

func TestDelay(t *testing.T) {
	d := NewDelay()

	t.Run("passes input", func(t *testing.T) {
		nctx := testContext(TypeDelay, map[string]any{"amount": 20, "unit": "ms"}, "payload")
		start := time.Now()
		res := d.Execute(context.Background(), nctx)
		if !res.Success || res.Data != "payload" {
			t.Fatalf("unexpected result: %+v", res)
		}
		if time.Since(start) < 20*time.Millisecond {
			t.Error("delay returned too early")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := d.Execute(ctx, testContext(TypeDelay, map[string]any{"amount": 10}, nil))
		if res.Success || res.ErrorKind != domain.KindCancelled {
			t.Errorf("expected cancelled, got %+v", res)
		}
	})

	t.Run("invalid unit", func(t *testing.T) {
		res := d.Execute(context.Background(), testContext(TypeDelay, map[string]any{"amount": 1, "unit": "weeks"}, nil))
		if res.Success || res.ErrorKind != domain.KindConfiguration {
			t.Errorf("expected configuration error, got %+v", res)
		}
	})
}

func TestKVStore(t *testing.T) {
	kv := NewKVStore()
	nctx := testContext(TypeKVStore, map[string]any{
		"operation": "set",
		"key":       "order-{{input.id}}",
	}, map[string]any{"id": 7.0, "total": 10.0})

	res := kv.Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("set failed: %s", res.Error)
	}

	get := testContext(TypeKVStore, map[string]any{"operation": "get", "key": "order-7"}, nil)
	get.Services = nctx.Services
	res = kv.Execute(context.Background(), get)
	if !res.Success {
		t.Fatalf("get failed: %s", res.Error)
	}
	if diff := cmp.Diff(map[string]any{"id": 7.0, "total": 10.0}, res.Data); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}

	list := testContext(TypeKVStore, map[string]any{"operation": "list", "prefix": "order-"}, nil)
	list.Services = nctx.Services
	res = kv.Execute(context.Background(), list)
	if diff := cmp.Diff([]string{"order-7"}, res.Data); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	missing := testContext(TypeKVStore, map[string]any{"operation": "get", "key": "nope", "default": "none"}, nil)
	missing.Services = nctx.Services
	res = kv.Execute(context.Background(), missing)
	if res.Data != "none" || res.Metadata["found"] != false {
		t.Errorf("expected default value, got %+v", res)
	}
}

func TestSchedule_NextRun(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC) // понедельник

	tests := []struct {
		name string
		data map[string]any
		want time.Time
	}{
		{
			name: "cron",
			data: map[string]any{"mode": "cron", "cron": "0 9 * * 1-5"},
			want: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "cron in timezone",
			data: map[string]any{"mode": "cron", "cron": "0 9 * * *", "timezone": "Europe/Moscow"},
			want: time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "interval",
			data: map[string]any{"interval": 15, "unit": "minutes"},
			want: now.Add(15 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig, err := ScheduleTriggerFor("wf-1", testNode(TypeSchedule, tt.data), now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !trig.NextDueAt.Equal(tt.want) {
				t.Errorf("next = %v, want %v", trig.NextDueAt, tt.want)
			}
			next, err := NextDue(trig, now)
			if err != nil {
				t.Fatalf("NextDue: %v", err)
			}
			if !next.Equal(tt.want) {
				t.Errorf("NextDue = %v, want %v", next, tt.want)
			}
		})
	}

	_, err := ScheduleTriggerFor("wf-1", testNode(TypeSchedule, map[string]any{"cron": "not a cron"}), now)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
