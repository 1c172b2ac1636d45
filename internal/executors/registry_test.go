package executors

import (
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if r.Count() != 0 {
		t.Errorf("expected empty registry")
	}

	r.Register(NewDelay())
	if r.Count() != 1 {
		t.Errorf("expected 1 executor, got %d", r.Count())
	}

	e, err := r.Get(TypeDelay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Type() != TypeDelay {
		t.Errorf("expected delay, got %s", e.Type())
	}

	_, err = r.Get("unknown")
	if !errors.Is(err, ErrExecutorNotFound) {
		t.Errorf("expected ErrExecutorNotFound, got %v", err)
	}

	if _, ok := r.Metadata(TypeDelay); !ok {
		t.Error("metadata for delay should exist")
	}

	r.Unregister(TypeDelay)
	if r.Has(TypeDelay) {
		t.Error("should not have delay after unregister")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(Deps{Sandbox: testSandbox()})

	expected := []string{
		TypeSchedule, TypeWebhook, TypeForm, TypeEmailReceive, TypeDatabaseChange,
		TypeFilter, TypeMap, TypeMerge, TypeCode, TypeDelay, TypeKVStore, TypeReadFile,
		TypeWebhookOutput, TypeEmail, TypeDatabase, TypeObjectStorage, TypeGraphDatabase, TypeVectorDatabase,
	}
	for _, typ := range expected {
		if !r.Has(typ) {
			t.Errorf("default registry should have %s", typ)
		}
	}
	if r.Count() != len(expected) {
		t.Errorf("expected %d types, got %d", len(expected), r.Count())
	}

	for _, meta := range r.All() {
		switch meta.Category {
		case domain.CategoryTrigger:
			if meta.MaxInputs != 0 {
				t.Errorf("%s: trigger must have maxInputs=0", meta.Type)
			}
		case domain.CategoryOutput:
			if meta.MaxOutputs != 0 {
				t.Errorf("%s: output must have maxOutputs=0", meta.Type)
			}
		}
		if meta.MultiInput && meta.Type != TypeMerge {
			t.Errorf("%s: only merge reads inputs[]", meta.Type)
		}
	}
}

func TestPolicyFor(t *testing.T) {
	meta := webhookOutputMeta

	tests := []struct {
		name string
		data map[string]any
		want Policy
	}{
		{
			name: "defaults",
			data: map[string]any{},
			want: Policy{RetryCount: 3, RetryDelay: time.Second, ErrorHandling: ErrorFail},
		},
		{
			name: "explicit",
			data: map[string]any{"retryCount": 2.0, "retryDelay": 100.0, "errorHandling": "continue"},
			want: Policy{RetryCount: 2, RetryDelay: 100 * time.Millisecond, ErrorHandling: ErrorContinue},
		},
		{
			name: "no retries",
			data: map[string]any{"retryCount": 0.0},
			want: Policy{RetryCount: 0, RetryDelay: time.Second, ErrorHandling: ErrorFail},
		},
		{
			name: "code error handling is ignored",
			data: map[string]any{"errorHandling": "returnNull"},
			want: Policy{RetryCount: 3, RetryDelay: time.Second, ErrorHandling: ErrorFail},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PolicyFor(testNode(TypeWebhookOutput, tt.data), meta)
			if got != tt.want {
				t.Errorf("PolicyFor() = %+v, want %+v", got, tt.want)
			}
		})
	}

	p := PolicyFor(testNode(TypeFilter, map[string]any{"errorHandling": "retry"}), filterMeta)
	if p.RetryCount != DefaultRetryCount {
		t.Errorf("retry without count: expected %d retries, got %d", DefaultRetryCount, p.RetryCount)
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{RetryCount: 5, RetryDelay: 100 * time.Millisecond}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.retry); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}

	big := Policy{RetryCount: 30, RetryDelay: time.Minute}
	if got := big.Backoff(20); got != MaxRetryDelay {
		t.Errorf("expected cap %v, got %v", MaxRetryDelay, got)
	}
	if p.Attempts() != 6 {
		t.Errorf("expected 6 attempts, got %d", p.Attempts())
	}
}
