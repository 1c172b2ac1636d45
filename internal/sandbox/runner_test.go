package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestRunner() *Runner {
	return New(Config{Timeout: 2 * time.Second})
}

func TestRun_ReturnsValue(t *testing.T) {
	r := newTestRunner()

	v, _, err := r.Call(context.Background(), Script{
		Code:   "return wf.Num(input) * 2, nil",
		Params: []string{"input"},
	}, 21.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42.0 {
		t.Errorf("expected 42, got %v", v)
	}
}

func TestRun_ExpressionPerItem(t *testing.T) {
	r := newTestRunner()

	res, err := r.Run(context.Background(), Script{
		Code:   `wf.Num(wf.Get(item, "age")) > 18`,
		Params: []string{"item", "index"},
	},
		[]any{map[string]any{"age": 20.0}, 0},
		[]any{map[string]any{"age": 15.0}, 1},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := []any{res.Calls[0].Value, res.Calls[1].Value}
	if diff := cmp.Diff([]any{true, false}, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Libraries(t *testing.T) {
	r := newTestRunner()
	script := Script{
		Code:   `return strings.ToUpper(wf.Str(input)), nil`,
		Params: []string{"input"},
	}

	t.Run("enabled", func(t *testing.T) {
		s := script
		s.Libraries = []string{"strings"}
		v, _, err := r.Call(context.Background(), s, "abc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != "ABC" {
			t.Errorf("expected ABC, got %v", v)
		}
	})

	t.Run("not enabled", func(t *testing.T) {
		_, _, err := r.Call(context.Background(), script, "abc")
		if !errors.Is(err, ErrCompile) {
			t.Errorf("expected ErrCompile, got %v", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		s := script
		s.Libraries = []string{"os"}
		_, _, err := r.Call(context.Background(), s, "abc")
		if !errors.Is(err, ErrUnknownLibrary) {
			t.Errorf("expected ErrUnknownLibrary, got %v", err)
		}
	})
}

func TestRun_Timeout(t *testing.T) {
	r := newTestRunner()

	start := time.Now()
	_, _, err := r.Call(context.Background(), Script{
		Code:    "for {\n}",
		Timeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	var thrown *ThrownError
	if errors.As(err, &thrown) {
		t.Error("timeout must not be reported as thrown error")
	}
	if elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestRun_SleepHonoursTimeout(t *testing.T) {
	r := newTestRunner()

	t.Run("interrupted", func(t *testing.T) {
		start := time.Now()
		_, _, err := r.Call(context.Background(), Script{
			Code:    "if err := wf.Sleep(5000); err != nil {\n\treturn nil, err\n}\nreturn 1, nil",
			Timeout: 100 * time.Millisecond,
		})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("sleep outlived timeout: %v", elapsed)
		}
	})

	t.Run("completes", func(t *testing.T) {
		v, _, err := r.Call(context.Background(), Script{
			Code: "if err := wf.Sleep(1); err != nil {\n\treturn nil, err\n}\nreturn 2, nil",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != 2.0 {
			t.Errorf("expected 2, got %v (%T)", v, v)
		}
	})

	t.Run("time.Sleep hidden", func(t *testing.T) {
		_, _, err := r.Call(context.Background(), Script{
			Code:      "time.Sleep(time.Millisecond)\nreturn nil, nil",
			Libraries: []string{"time"},
		})
		if !errors.Is(err, ErrCompile) {
			t.Errorf("expected ErrCompile, got %v", err)
		}
	})
}

func TestRun_Cancelled(t *testing.T) {
	r := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Call(ctx, Script{Code: "return 1, nil"})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestRun_Console(t *testing.T) {
	r := newTestRunner()

	_, res, err := r.Call(context.Background(), Script{
		Code:   "console.Log(\"hello\", 1)\nconsole.Warn(\"careful\")\nreturn nil, nil",
		Params: []string{"input", "console"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Console) != 2 {
		t.Fatalf("expected 2 console entries, got %d", len(res.Console))
	}
	if res.Console[0].Type != "log" || res.Console[0].Message != "hello 1" {
		t.Errorf("unexpected first entry: %+v", res.Console[0])
	}
	if res.Console[1].Type != "warn" {
		t.Errorf("unexpected second entry: %+v", res.Console[1])
	}
}

func TestRun_ThrownError(t *testing.T) {
	r := newTestRunner()

	tests := []struct {
		name    string
		code    string
		message string
		panic   bool
	}{
		{"returned", `return nil, wf.Error("bad input")`, "bad input", false},
		{"panic", "panic(\"boom\")\nreturn nil, nil", "boom", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Call(context.Background(), Script{Code: tt.code})
			var thrown *ThrownError
			if !errors.As(err, &thrown) {
				t.Fatalf("expected ThrownError, got %v", err)
			}
			if !strings.Contains(thrown.Message, tt.message) {
				t.Errorf("expected message %q, got %q", tt.message, thrown.Message)
			}
			if thrown.Panic != tt.panic {
				t.Errorf("expected panic=%v", tt.panic)
			}
		})
	}
}

func TestBuildSource(t *testing.T) {
	src, err := buildSource(`return strings.TrimSpace(" x "), nil // uses sha256.`, []string{"input", "console"},
		[]string{"crypto/sha256", "strings"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(src, `"strings"`) {
		t.Error("strings should be imported")
	}
	if strings.Contains(src, `"crypto/sha256"`) {
		t.Error("sha256 is only mentioned in a comment and must not be imported")
	}
	if !strings.Contains(src, "func nfUser(input interface{}, console *wf.Console)") {
		t.Errorf("unexpected signature in:\n%s", src)
	}

	if _, err := buildSource("return 1, nil", []string{"bad-name"}, nil); !errors.Is(err, ErrCompile) {
		t.Errorf("expected ErrCompile for invalid param, got %v", err)
	}
}

func TestRun_BoolReturns(t *testing.T) {
	tests := []struct {
		name string
		code string
		args []interface{}
		want interface{}
	}{
		{"one-line comparison", `wf.Num(input) > 1`, []interface{}{2.0}, true},
		{"one-line logical", `wf.Num(input) > 1 && wf.Num(input) < 2`, []interface{}{3.0}, false},
		{"multi-line return", "a := wf.Num(input)\nb := 1.0\nreturn a > b, nil", []interface{}{0.5}, false},
		{"return in branch", "if wf.Num(input) == 0 {\n\treturn !true, nil\n}\nreturn wf.Str(input) != \"x, y\", nil", []interface{}{0.0}, false},
		{"string with comma", "return wf.Str(input) == \"a, b\", nil", []interface{}{"a, b"}, true},
		{"typed local", "ok := wf.Num(input) >= 5\nreturn ok, nil", []interface{}{5.0}, true},
	}
	r := newTestRunner()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Run(context.Background(), Script{Code: tt.code, Params: []string{"input"}}, tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Calls) != 1 {
				t.Fatalf("expected 1 call, got %d", len(res.Calls))
			}
			if res.Calls[0].Err != nil {
				t.Fatalf("unexpected call error: %v", res.Calls[0].Err)
			}
			if diff := cmp.Diff(tt.want, res.Calls[0].Value); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRewriteReturns(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"comparison", "\treturn a > b, nil", "\t{ var nfV interface{} = a > b; return nfV, nil }"},
		{"non-bool untouched", "return f(a, b), nil", "return f(a, b), nil"},
		{"comment untouched", "return a > b, nil // x", "return a > b, nil // x"},
		{"single value untouched", "return a > b", "return a > b"},
		{"comparison in call args", "return f(a > b), err", "{ var nfV interface{} = f(a > b); return nfV, err }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rewriteReturns(tt.body); got != tt.want {
				t.Errorf("rewriteReturns(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestResolveLibraries(t *testing.T) {
	got, err := resolveLibraries([]string{"Date", "hash", "time"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"crypto/md5", "crypto/sha1", "crypto/sha256", "encoding/base64", "encoding/hex", "time"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}
